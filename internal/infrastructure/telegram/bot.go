package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"NewsHub/internal/config"
	"NewsHub/internal/domain"
	"NewsHub/internal/ports"
)

// Bot talks to the Telegram Bot API: channel posts, operator prompts and
// callback polling.
type Bot struct {
	apiURL      string
	botToken    string
	client      *http.Client
	pollClient  *http.Client
	pollTimeout time.Duration
}

var (
	_ ports.Messenger      = (*Bot)(nil)
	_ ports.CallbackSource = (*Bot)(nil)
)

// NewBot registers the bot token and API base.
func NewBot(cfg config.TelegramConfig) *Bot {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	apiURL := strings.TrimSuffix(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = "https://api.telegram.org"
	}
	return &Bot{
		apiURL:      apiURL,
		botToken:    cfg.BotToken,
		client:      &http.Client{Timeout: timeout},
		pollClient:  &http.Client{Timeout: timeout + cfg.PollTimeout},
		pollTimeout: cfg.PollTimeout,
	}
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendRequest struct {
	ChatID                string       `json:"chat_id"`
	Text                  string       `json:"text,omitempty"`
	Photo                 string       `json:"photo,omitempty"`
	Caption               string       `json:"caption,omitempty"`
	ParseMode             string       `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool         `json:"disable_web_page_preview,omitempty"`
	ReplyMarkup           *replyMarkup `json:"reply_markup,omitempty"`
}

type message struct {
	MessageID int64 `json:"message_id"`
	Chat      chat  `json:"chat"`
}

type chat struct {
	ID int64 `json:"id"`
}

type update struct {
	UpdateID      int64 `json:"update_id"`
	CallbackQuery *struct {
		ID      string   `json:"id"`
		Data    string   `json:"data"`
		Message *message `json:"message"`
	} `json:"callback_query"`
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// SendText posts a text message.
func (b *Bot) SendText(ctx context.Context, chatID, text string, opts ports.SendOptions) (ports.Delivery, error) {
	req := sendRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             opts.ParseMode,
		DisableWebPagePreview: opts.DisableWebPagePreview,
		ReplyMarkup:           markup(opts.Buttons),
	}
	return b.send(ctx, "sendMessage", chatID, req)
}

// SendPhoto posts an image by URL with a caption.
func (b *Bot) SendPhoto(ctx context.Context, chatID, imageURL, caption string, opts ports.SendOptions) (ports.Delivery, error) {
	req := sendRequest{
		ChatID:      chatID,
		Photo:       imageURL,
		Caption:     caption,
		ParseMode:   opts.ParseMode,
		ReplyMarkup: markup(opts.Buttons),
	}
	return b.send(ctx, "sendPhoto", chatID, req)
}

func (b *Bot) send(ctx context.Context, method, chatID string, req sendRequest) (ports.Delivery, error) {
	var msg message
	if err := b.call(ctx, b.client, method, req, &msg); err != nil {
		return ports.Delivery{}, err
	}
	return ports.Delivery{ChatID: chatID, MessageID: msg.MessageID}, nil
}

// PollCallbacks long-polls for inline button presses starting at offset.
func (b *Bot) PollCallbacks(ctx context.Context, offset int64) ([]ports.CallbackQuery, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         int(b.pollTimeout.Seconds()),
		"allowed_updates": []string{"callback_query"},
	}

	var updates []update
	if err := b.call(ctx, b.pollClient, "getUpdates", payload, &updates); err != nil {
		return nil, err
	}

	out := make([]ports.CallbackQuery, 0, len(updates))
	for _, u := range updates {
		q := ports.CallbackQuery{UpdateID: u.UpdateID}
		if u.CallbackQuery != nil {
			q.ID = u.CallbackQuery.ID
			q.Data = u.CallbackQuery.Data
			if u.CallbackQuery.Message != nil {
				q.ChatID = strconv.FormatInt(u.CallbackQuery.Message.Chat.ID, 10)
			}
		}
		out = append(out, q)
	}
	return out, nil
}

// AnswerCallback acknowledges a button press with a short toast.
func (b *Bot) AnswerCallback(ctx context.Context, callbackID, text string) error {
	payload := map[string]any{
		"callback_query_id": callbackID,
		"text":              text,
	}
	return b.call(ctx, b.client, "answerCallbackQuery", payload, nil)
}

func (b *Bot) call(ctx context.Context, client *http.Client, method string, payload, result any) error {
	if b.botToken == "" {
		return &domain.ExternalError{Op: method, Kind: domain.KindPermanent, Err: errors.New("telegram bot token is not configured")}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", b.apiURL, b.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return domain.TransportError(method, redactToken(err, b.botToken))
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return domain.StatusError(method, resp.StatusCode, 0, fmt.Errorf("telegram error: %s", resp.Status))
		}
		return &domain.ExternalError{Op: method, Kind: domain.KindServer, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	if !env.OK {
		status := env.ErrorCode
		if status == 0 {
			status = resp.StatusCode
		}
		var wait time.Duration
		if env.Parameters != nil && env.Parameters.RetryAfter > 0 {
			wait = time.Duration(env.Parameters.RetryAfter) * time.Second
		}
		return domain.StatusError(method, status, wait, fmt.Errorf("telegram error: %s", env.Description))
	}

	if result == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func markup(rows [][]ports.Button) *replyMarkup {
	if len(rows) == 0 {
		return nil
	}
	keyboard := make([][]inlineButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]inlineButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, inlineButton{Text: btn.Text, CallbackData: btn.Data})
		}
		keyboard = append(keyboard, buttons)
	}
	return &replyMarkup{InlineKeyboard: keyboard}
}

// redactToken keeps the bot token out of logged transport errors, which
// quote the request URL.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return redactedError{msg: strings.ReplaceAll(err.Error(), token, "<token>"), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e redactedError) Error() string { return e.msg }
func (e redactedError) Unwrap() error { return e.err }
