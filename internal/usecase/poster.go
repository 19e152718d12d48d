package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"NewsHub/internal/domain"
	"NewsHub/internal/metrics"
	"NewsHub/internal/ports"
	"NewsHub/internal/retry"
)

const parseModeHTML = "HTML"

// PosterDeps wires the poster's collaborators.
type PosterDeps struct {
	Store           ports.Store
	Messenger       ports.Messenger
	Limiter         ports.RateLimiter
	Images          ports.ImageGenerator
	ImageParams     ports.ImageParams
	ImagePoll       time.Duration
	ImageMaxWait    time.Duration
	Channels        map[domain.Category]string
	OperatorChatID  string
	PostDelay       time.Duration
	PostLimit       int
	ModerationLimit int
	NotifyOperator  bool
	Retry           retry.Policy
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
	Now             func() time.Time
	Sleep           retry.Sleeper
}

// PostReport aggregates one batch posting run.
type PostReport struct {
	Total  int
	Posted int
	Failed int
}

// ModerationReport aggregates one run of operator prompts.
type ModerationReport struct {
	Total    int
	Notified int
	Failed   int
}

// Poster renders analyzed items and delivers them to the category channels,
// escalating flagged items to the operator first.
type Poster struct {
	store           ports.Store
	messenger       ports.Messenger
	limiter         ports.RateLimiter
	images          ports.ImageGenerator
	imageParams     ports.ImageParams
	imagePoll       time.Duration
	imageMaxWait    time.Duration
	channels        map[domain.Category]string
	operatorChatID  string
	postDelay       time.Duration
	postLimit       int
	moderationLimit int
	notifyOperator  bool
	retry           retry.Policy
	metrics         *metrics.Metrics
	logger          *slog.Logger
	now             func() time.Time
	sleep           retry.Sleeper
}

// NewPoster constructs the delivery use case.
func NewPoster(deps PosterDeps) *Poster {
	p := &Poster{
		store:           deps.Store,
		messenger:       deps.Messenger,
		limiter:         deps.Limiter,
		images:          deps.Images,
		imageParams:     deps.ImageParams,
		imagePoll:       deps.ImagePoll,
		imageMaxWait:    deps.ImageMaxWait,
		channels:        deps.Channels,
		operatorChatID:  deps.OperatorChatID,
		postDelay:       deps.PostDelay,
		postLimit:       deps.PostLimit,
		moderationLimit: deps.ModerationLimit,
		notifyOperator:  deps.NotifyOperator,
		retry:           deps.Retry,
		metrics:         deps.Metrics,
		logger:          deps.Logger,
		now:             deps.Now,
		sleep:           deps.Sleep,
	}
	if p.postLimit <= 0 {
		p.postLimit = 10
	}
	if p.moderationLimit <= 0 {
		p.moderationLimit = 10
	}
	if p.imagePoll <= 0 {
		p.imagePoll = 5 * time.Second
	}
	if p.imageMaxWait <= 0 {
		p.imageMaxWait = 2 * time.Minute
	}
	if p.retry.MaxAttempts == 0 {
		p.retry = retry.Default()
	}
	// rate-limit signals are handled by deliver, not by the backoff loop
	p.retry.Retryable = func(err error) bool {
		_, limited := domain.IsRateLimited(err)
		return !limited && domain.IsTransient(err)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.sleep == nil {
		p.sleep = retry.Sleep
	}
	return p
}

// PostNews publishes one ANALYZED or APPROVED item. A flagged item that was
// not approved is refused. Delivery failures leave the item unpublished.
func (p *Poster) PostNews(ctx context.Context, item domain.NewsItem, notifyOperator bool) (bool, error) {
	logger := p.logger.With("item", item.ID, "category", item.Category)

	switch {
	case item.Status != domain.StatusAnalyzed && item.Status != domain.StatusApproved:
		logger.Warn("item is not publishable", "status", item.Status)
		return false, nil
	case item.RequiresModeration && item.Status != domain.StatusApproved:
		logger.Warn("item awaits moderation")
		return false, nil
	}

	channel, ok := p.channels[item.Category]
	if !ok || channel == "" {
		p.metrics.Post(string(item.Category), false)
		return false, fmt.Errorf("%w: no channel for category %s", domain.ErrValidation, item.Category)
	}

	if item.ImageURL == "" && p.images != nil {
		p.attachImage(ctx, &item)
	}

	delivery, err := p.deliver(ctx, channel, item)
	if err != nil {
		p.metrics.Post(channel, false)
		logger.Error("delivery failed", "channel", channel, "error", err)
		return false, fmt.Errorf("deliver %s: %w", item.ID, err)
	}
	p.metrics.Post(channel, true)

	var published domain.NewsItem
	err = p.store.Scope(ctx, func(ctx context.Context, repo ports.Repository) error {
		current, err := repo.GetItem(ctx, item.ID)
		if err != nil {
			return err
		}
		if current.ImageURL == "" {
			current.ImageURL = item.ImageURL
		}
		if err := current.MarkPublished(delivery.ChatID, delivery.MessageID, p.now().UTC()); err != nil {
			return err
		}
		published = current
		return repo.UpdateItem(ctx, current)
	})
	if err != nil {
		logger.Error("delivered but not recorded", "message_id", delivery.MessageID, "error", err)
		return false, fmt.Errorf("record delivery of %s: %w", item.ID, err)
	}

	logger.Info("item published", "channel", delivery.ChatID, "message_id", delivery.MessageID)

	if notifyOperator && p.operatorChatID != "" {
		notice := RenderPublishedNotice(published, delivery.ChatID, delivery.MessageID)
		if _, err := p.sendText(ctx, p.operatorChatID, notice, ports.SendOptions{
			ParseMode:             parseModeHTML,
			DisableWebPagePreview: true,
		}); err != nil {
			logger.Warn("operator notice failed", "error", err)
		}
	}
	return true, nil
}

// PostAnalyzed publishes up to limit unflagged ANALYZED items, highest score
// first, pausing between sends. A non-positive limit uses the configured one.
func (p *Poster) PostAnalyzed(ctx context.Context, limit int) (PostReport, error) {
	var report PostReport
	if limit <= 0 {
		limit = p.postLimit
	}

	unflagged := false
	items, err := p.listItems(ctx, ports.ItemFilter{
		Status:             domain.StatusAnalyzed,
		RequiresModeration: &unflagged,
		Order:              ports.OrderScoreDesc,
		Limit:              limit,
	})
	if err != nil {
		return report, err
	}

	report.Total = len(items)
	for i, item := range items {
		if i > 0 && p.postDelay > 0 {
			if err := p.sleep(ctx, p.postDelay); err != nil {
				report.Failed += len(items) - i
				break
			}
		}

		ok, err := p.PostNews(ctx, item, p.notifyOperator)
		if err != nil || !ok {
			report.Failed++
			continue
		}
		report.Posted++
	}

	p.logger.Info("posting finished", "total", report.Total, "posted", report.Posted, "failed", report.Failed)
	return report, nil
}

// SendModerationPrompt asks the operator to approve or reject item.
func (p *Poster) SendModerationPrompt(ctx context.Context, item domain.NewsItem) (bool, error) {
	if p.operatorChatID == "" {
		return false, fmt.Errorf("%w: operator chat is not configured", domain.ErrValidation)
	}

	_, err := p.sendText(ctx, p.operatorChatID, RenderModerationPrompt(item), ports.SendOptions{
		ParseMode:             parseModeHTML,
		DisableWebPagePreview: true,
		Buttons:               ModerationButtons(item.ID),
	})
	if err != nil {
		p.metrics.Moderation("prompt_failed")
		return false, fmt.Errorf("moderation prompt for %s: %w", item.ID, err)
	}
	p.metrics.Moderation("prompted")
	return true, nil
}

// HandleModerationRequests prompts the operator for every flagged item and
// clears the flag of those whose prompt was delivered.
func (p *Poster) HandleModerationRequests(ctx context.Context) (ModerationReport, error) {
	var report ModerationReport

	flagged := true
	items, err := p.listItems(ctx, ports.ItemFilter{
		Status:             domain.StatusAnalyzed,
		RequiresModeration: &flagged,
		Order:              ports.OrderScoreDesc,
		Limit:              p.moderationLimit,
	})
	if err != nil {
		return report, err
	}

	report.Total = len(items)
	for _, item := range items {
		if _, err := p.SendModerationPrompt(ctx, item); err != nil {
			p.logger.Error("moderation prompt failed", "item", item.ID, "error", err)
			report.Failed++
			continue
		}

		err := p.store.Scope(ctx, func(ctx context.Context, repo ports.Repository) error {
			current, err := repo.GetItem(ctx, item.ID)
			if err != nil {
				return err
			}
			current.ClearModeration(p.now().UTC())
			return repo.UpdateItem(ctx, current)
		})
		if err != nil {
			p.logger.Error("clear moderation flag", "item", item.ID, "error", err)
			report.Failed++
			continue
		}
		report.Notified++
	}

	if report.Total > 0 {
		p.logger.Info("moderation requests handled", "total", report.Total, "notified", report.Notified, "failed", report.Failed)
	}
	return report, nil
}

// Approve records the operator's approval and publishes the item right away.
// An APPROVED item whose earlier posting failed is posted again. It reports
// false when the item is not awaiting a decision, including flagged items
// whose operator prompt has not been sent yet.
func (p *Poster) Approve(ctx context.Context, id string) (bool, error) {
	var approved domain.NewsItem
	var eligible bool
	err := p.store.Scope(ctx, func(ctx context.Context, repo ports.Repository) error {
		item, err := repo.GetItem(ctx, id)
		if err != nil {
			return err
		}
		approved = item
		switch item.Status {
		case domain.StatusApproved:
			eligible = true
			return nil
		case domain.StatusAnalyzed:
			if item.RequiresModeration {
				return nil
			}
		default:
			return nil
		}
		if err := item.Approve(p.now().UTC()); err != nil {
			return err
		}
		eligible, approved = true, item
		return repo.UpdateItem(ctx, item)
	})
	if err != nil {
		return false, fmt.Errorf("approve %s: %w", id, err)
	}
	if !eligible {
		p.logger.Warn("item cannot be approved", "item", id, "status", approved.Status, "awaiting_prompt", approved.RequiresModeration)
		return false, nil
	}
	p.metrics.Moderation("approved")

	return p.PostNews(ctx, approved, p.notifyOperator)
}

// Reject records the operator's rejection. It reports false when the item is
// already terminal.
func (p *Poster) Reject(ctx context.Context, id string) (bool, error) {
	var rejected bool
	err := p.store.Scope(ctx, func(ctx context.Context, repo ports.Repository) error {
		item, err := repo.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if err := item.Reject(p.now().UTC()); err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				return nil
			}
			return err
		}
		rejected = true
		return repo.UpdateItem(ctx, item)
	})
	if err != nil {
		return false, fmt.Errorf("reject %s: %w", id, err)
	}
	if rejected {
		p.metrics.Moderation("rejected")
		p.logger.Info("item rejected", "item", id)
	}
	return rejected, nil
}

// deliver sends an item with the full retry contract: transient failures go
// through the backoff policy, a rate-limit signal is honored once.
func (p *Poster) deliver(ctx context.Context, chatID string, item domain.NewsItem) (ports.Delivery, error) {
	send := func(ctx context.Context) (ports.Delivery, error) {
		return p.sendItem(ctx, chatID, item)
	}

	delivery, err := retry.Value(ctx, p.retry, send, p.retryNotice(item.ID))
	wait, limited := domain.IsRateLimited(err)
	if !limited {
		return delivery, err
	}

	p.logger.Warn("transport rate limit, waiting", "item", item.ID, "wait", wait)
	if err := p.sleep(ctx, wait); err != nil {
		return ports.Delivery{}, err
	}
	return p.sendItem(ctx, chatID, item)
}

// sendItem makes one delivery attempt: photo with caption when the item has
// an image, text otherwise or when the photo is refused.
func (p *Poster) sendItem(ctx context.Context, chatID string, item domain.NewsItem) (ports.Delivery, error) {
	if err := p.acquire(ctx); err != nil {
		return ports.Delivery{}, err
	}

	opts := ports.SendOptions{ParseMode: parseModeHTML}
	if item.ImageURL != "" {
		delivery, err := p.messenger.SendPhoto(ctx, chatID, item.ImageURL, RenderPost(item, MaxCaptionLength), opts)
		if err == nil {
			return delivery, nil
		}
		if _, limited := domain.IsRateLimited(err); limited {
			return ports.Delivery{}, err
		}
		p.logger.Warn("photo delivery failed, sending text", "item", item.ID, "error", err)
	}

	return p.messenger.SendText(ctx, chatID, RenderPost(item, MaxTextLength), opts)
}

// sendText sends an operator message with the same retry contract.
func (p *Poster) sendText(ctx context.Context, chatID, text string, opts ports.SendOptions) (ports.Delivery, error) {
	send := func(ctx context.Context) (ports.Delivery, error) {
		if err := p.acquire(ctx); err != nil {
			return ports.Delivery{}, err
		}
		return p.messenger.SendText(ctx, chatID, text, opts)
	}

	delivery, err := retry.Value(ctx, p.retry, send, p.retryNotice(chatID))
	if wait, limited := domain.IsRateLimited(err); limited {
		if err := p.sleep(ctx, wait); err != nil {
			return ports.Delivery{}, err
		}
		return send(ctx)
	}
	return delivery, err
}

func (p *Poster) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Acquire(ctx)
}

func (p *Poster) retryNotice(subject string) retry.Notify {
	return func(err error, attempt int, wait time.Duration) {
		p.logger.Warn("send failed, retrying", "subject", subject, "attempt", attempt, "wait", wait, "error", err)
	}
}

// attachImage generates an illustration for item. Failures are logged and
// the item is posted without one.
func (p *Poster) attachImage(ctx context.Context, item *domain.NewsItem) {
	logger := p.logger.With("item", item.ID)

	ctx, cancel := context.WithTimeout(ctx, p.imageMaxWait)
	defer cancel()

	jobID, err := p.images.Submit(ctx, imagePrompt(*item), p.imageParams)
	if err != nil {
		logger.Warn("image generation not started", "error", err)
		return
	}

	for {
		if err := p.sleep(ctx, p.imagePoll); err != nil {
			logger.Warn("image generation timed out", "job", jobID)
			return
		}
		job, err := p.images.Poll(ctx, jobID)
		if err != nil {
			logger.Warn("image poll failed", "job", jobID, "error", err)
			continue
		}
		switch job.Status {
		case ports.ImageCompleted:
			item.ImageURL = job.ImageURL
			logger.Info("image generated", "job", jobID)
			return
		case ports.ImageFailed:
			logger.Warn("image generation failed", "job", jobID, "reason", job.Error)
			return
		}
	}
}

func (p *Poster) listItems(ctx context.Context, filter ports.ItemFilter) ([]domain.NewsItem, error) {
	var items []domain.NewsItem
	err := p.store.Scope(ctx, func(ctx context.Context, repo ports.Repository) error {
		var err error
		items, err = repo.ListItems(ctx, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

var imagePrefixes = map[domain.Category]string{
	domain.CategoryCrypto:   "Professional news image about cryptocurrency and blockchain technology: ",
	domain.CategoryPolitics: "Professional news image about politics and government: ",
}

func imagePrompt(item domain.NewsItem) string {
	prefix, ok := imagePrefixes[item.Category]
	if !ok {
		prefix = "Professional news image: "
	}
	subject := item.Title
	if item.Summary != "" {
		subject += ". " + truncateRunes(item.Summary, 200)
	}
	return truncateRunes(prefix+subject+". High quality, clean composition, suitable for a news article", 1000)
}
