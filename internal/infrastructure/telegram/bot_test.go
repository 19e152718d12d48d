package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"NewsHub/internal/config"
	"NewsHub/internal/domain"
	"NewsHub/internal/ports"
)

func newTestBot(t *testing.T, handler http.HandlerFunc) *Bot {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewBot(config.TelegramConfig{APIURL: srv.URL, BotToken: "123:abc", Timeout: 5 * time.Second, PollTimeout: time.Second})
}

func TestSendTextWithButtons(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bot123:abc/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode: %v", err)
		}
		if body["chat_id"] != "@crypto_ainews" || body["parse_mode"] != "HTML" {
			t.Errorf("unexpected body %v", body)
		}
		markup, _ := body["reply_markup"].(map[string]any)
		rows, _ := markup["inline_keyboard"].([]any)
		if len(rows) != 1 {
			t.Errorf("expected one keyboard row, got %v", body["reply_markup"])
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42,"chat":{"id":-100}}}`))
	})

	delivery, err := bot.SendText(context.Background(), "@crypto_ainews", "<b>hi</b>", ports.SendOptions{
		ParseMode: "HTML",
		Buttons:   [][]ports.Button{{{Text: "Approve", Data: "approve:1"}, {Text: "Reject", Data: "reject:1"}}},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if delivery.MessageID != 42 || delivery.ChatID != "@crypto_ainews" {
		t.Fatalf("unexpected delivery %+v", delivery)
	}
}

func TestSendPhotoRateLimited(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 17","parameters":{"retry_after":17}}`))
	})

	_, err := bot.SendPhoto(context.Background(), "@c", "https://img", "cap", ports.SendOptions{})
	wait, ok := domain.IsRateLimited(err)
	if !ok || wait != 17*time.Second {
		t.Fatalf("expected rate limit of 17s, got %v %v (%v)", wait, ok, err)
	}
}

func TestSendPermanentError(t *testing.T) {
	t.Parallel()

	bot := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: wrong file identifier"}`))
	})

	_, err := bot.SendPhoto(context.Background(), "@c", "bad", "cap", ports.SendOptions{})
	var ext *domain.ExternalError
	if !errors.As(err, &ext) || ext.Kind != domain.KindPermanent || ext.StatusCode != 400 {
		t.Fatalf("expected permanent 400, got %v", err)
	}
	if !strings.Contains(err.Error(), "wrong file identifier") {
		t.Fatalf("expected description in error, got %v", err)
	}
}

func TestPollCallbacksAndAnswer(t *testing.T) {
	t.Parallel()

	answered := make(chan string, 1)
	bot := newTestBot(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			if body["offset"] != float64(10) {
				t.Errorf("unexpected offset %v", body["offset"])
			}
			_, _ = w.Write([]byte(`{"ok":true,"result":[
				{"update_id":10,"callback_query":{"id":"cb1","data":"approve:abc","message":{"message_id":5,"chat":{"id":777}}}},
				{"update_id":11}
			]}`))
		case strings.HasSuffix(r.URL.Path, "/answerCallbackQuery"):
			id, _ := body["callback_query_id"].(string)
			answered <- id
			_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	queries, err := bot.PollCallbacks(context.Background(), 10)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("expected 2 updates, got %d", len(queries))
	}
	if queries[0].ID != "cb1" || queries[0].Data != "approve:abc" || queries[0].ChatID != "777" {
		t.Fatalf("unexpected query %+v", queries[0])
	}
	if queries[1].UpdateID != 11 || queries[1].ID != "" {
		t.Fatalf("expected bare update, got %+v", queries[1])
	}

	if err := bot.AnswerCallback(context.Background(), "cb1", "Approved"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if got := <-answered; got != "cb1" {
		t.Fatalf("expected callback cb1 answered, got %q", got)
	}
}

func TestMissingTokenIsPermanent(t *testing.T) {
	t.Parallel()

	bot := NewBot(config.TelegramConfig{})
	_, err := bot.SendText(context.Background(), "@c", "x", ports.SendOptions{})
	if err == nil || domain.IsTransient(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestTransportErrorHidesToken(t *testing.T) {
	t.Parallel()

	bot := NewBot(config.TelegramConfig{APIURL: "http://127.0.0.1:1", BotToken: "secret-token", Timeout: time.Second})
	_, err := bot.SendText(context.Background(), "@c", "x", ports.SendOptions{})
	if err == nil {
		t.Fatal("expected transport error")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("token leaked: %v", err)
	}
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}
