package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"NewsHub/internal/domain"
	"NewsHub/internal/infrastructure/storage"
	"NewsHub/internal/ports"
	"NewsHub/internal/retry"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func fastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func serverError(op string) error {
	return &domain.ExternalError{Op: op, Kind: domain.KindServer, StatusCode: 502, Err: errors.New("bad gateway")}
}

func permanentError(op string) error {
	return &domain.ExternalError{Op: op, Kind: domain.KindPermanent, StatusCode: 400, Err: errors.New("bad request")}
}

func rateLimited(wait time.Duration) error {
	return &domain.ExternalError{Op: "send", Kind: domain.KindRateLimited, StatusCode: 429, RetryAfter: wait}
}

func seedSource(t *testing.T, store ports.Store, source domain.NewsSource) domain.NewsSource {
	t.Helper()
	err := store.Scope(context.Background(), func(ctx context.Context, repo ports.Repository) error {
		_, err := repo.CreateSourceIfAbsent(ctx, &source)
		return err
	})
	require.NoError(t, err)
	return source
}

// seedAnalyzed stores an item and moves it to ANALYZED with the given score.
func seedAnalyzed(t *testing.T, store ports.Store, title string, score float64, category domain.Category) domain.NewsItem {
	t.Helper()

	item := domain.NewPendingItem(
		domain.NewsSource{ID: 1, Category: category},
		domain.RawEntry{Title: title, Content: title + " body", URL: "https://news.example/" + title},
		testNow,
	)
	err := store.Scope(context.Background(), func(ctx context.Context, repo ports.Repository) error {
		if err := repo.InsertItem(ctx, &item); err != nil {
			return err
		}
		if score < 0 {
			return nil
		}
		if err := item.ApplyAnalysis(domain.Analysis{
			Teaser:         "Teaser of " + title,
			Insights:       []string{"first point", "second point"},
			RelevanceScore: score,
			Hashtags:       []string{"#News"},
		}, domain.DefaultThresholds(), testNow); err != nil {
			return err
		}
		return repo.UpdateItem(ctx, item)
	})
	require.NoError(t, err)
	return item
}

// seedPrompted stores a flagged item whose operator prompt was already sent.
func seedPrompted(t *testing.T, store ports.Store, title string) domain.NewsItem {
	t.Helper()

	item := seedAnalyzed(t, store, title, 9, domain.CategoryCrypto)
	require.True(t, item.RequiresModeration)
	err := store.Scope(context.Background(), func(ctx context.Context, repo ports.Repository) error {
		item.ClearModeration(testNow)
		return repo.UpdateItem(ctx, item)
	})
	require.NoError(t, err)
	return item
}

func loadItem(t *testing.T, store ports.Store, id string) domain.NewsItem {
	t.Helper()
	var item domain.NewsItem
	err := store.Scope(context.Background(), func(ctx context.Context, repo ports.Repository) error {
		var err error
		item, err = repo.GetItem(ctx, id)
		return err
	})
	require.NoError(t, err)
	return item
}

func newMemoryStore() *storage.MemoryStore {
	return storage.NewMemoryStore()
}

type fakeFetcher struct {
	kind    domain.SourceType
	entries []domain.RawEntry
	err     error
}

func (f fakeFetcher) Type() domain.SourceType { return f.kind }

func (f fakeFetcher) Fetch(_ context.Context, _ domain.NewsSource, limit int) ([]domain.RawEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.entries) > limit {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

type chatReply struct {
	content string
	err     error
}

// fakeChat answers per model from a queue; an empty queue is a permanent error.
type fakeChat struct {
	mu      sync.Mutex
	replies map[string][]chatReply
	calls   []string
}

func (c *fakeChat) Complete(_ context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, req.Model)
	queue := c.replies[req.Model]
	if len(queue) == 0 {
		return ports.Completion{}, permanentError("complete " + req.Model)
	}
	reply := queue[0]
	c.replies[req.Model] = queue[1:]
	if reply.err != nil {
		return ports.Completion{}, reply.err
	}
	cost := 0.002
	return ports.Completion{Content: reply.content, Model: req.Model, Cost: &cost}, nil
}

func (c *fakeChat) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

type sentMessage struct {
	chatID  string
	text    string
	photo   string
	buttons [][]ports.Button
}

// fakeMessenger pops scripted errors before succeeding.
type fakeMessenger struct {
	mu        sync.Mutex
	textErrs  []error
	photoErrs []error
	sent      []sentMessage
	attempts  int
	nextID    int64
}

func (m *fakeMessenger) SendText(_ context.Context, chatID, text string, opts ports.SendOptions) (ports.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if len(m.textErrs) > 0 {
		err := m.textErrs[0]
		m.textErrs = m.textErrs[1:]
		if err != nil {
			return ports.Delivery{}, err
		}
	}
	return m.record(sentMessage{chatID: chatID, text: text, buttons: opts.Buttons}), nil
}

func (m *fakeMessenger) SendPhoto(_ context.Context, chatID, imageURL, caption string, opts ports.SendOptions) (ports.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.attempts++
	if len(m.photoErrs) > 0 {
		err := m.photoErrs[0]
		m.photoErrs = m.photoErrs[1:]
		if err != nil {
			return ports.Delivery{}, err
		}
	}
	return m.record(sentMessage{chatID: chatID, text: caption, photo: imageURL, buttons: opts.Buttons}), nil
}

func (m *fakeMessenger) record(msg sentMessage) ports.Delivery {
	m.nextID++
	m.sent = append(m.sent, msg)
	return ports.Delivery{ChatID: msg.chatID, MessageID: 100 + m.nextID}
}

func (m *fakeMessenger) Sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.sent...)
}

func (m *fakeMessenger) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

type countingLimiter struct {
	mu    sync.Mutex
	count int
}

func (l *countingLimiter) Acquire(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.count++
	return nil
}

// recordingSleeper returns immediately and remembers the requested waits.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

type fakeCallbacks struct {
	mu      sync.Mutex
	queries []ports.CallbackQuery
	offsets []int64
	answers map[string]string
}

func (c *fakeCallbacks) PollCallbacks(_ context.Context, offset int64) ([]ports.CallbackQuery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.offsets = append(c.offsets, offset)
	var out []ports.CallbackQuery
	for _, q := range c.queries {
		if q.UpdateID >= offset {
			out = append(out, q)
		}
	}
	return out, nil
}

func (c *fakeCallbacks) AnswerCallback(_ context.Context, id, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answers == nil {
		c.answers = map[string]string{}
	}
	c.answers[id] = text
	return nil
}

type fakeScheduler struct {
	mu      sync.Mutex
	jobs    map[string]func()
	started bool
	stopped bool
}

func (s *fakeScheduler) Every(name string, _ time.Duration, job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobs == nil {
		s.jobs = map[string]func(){}
	}
	s.jobs[name] = job
	return nil
}

func (s *fakeScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
}

func (s *fakeScheduler) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeScheduler) Fire(name string) {
	s.mu.Lock()
	job := s.jobs[name]
	s.mu.Unlock()
	job()
}
