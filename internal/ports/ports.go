package ports

import (
	"context"
	"time"

	"NewsHub/internal/domain"
)

// ItemOrder selects the sort order of item listings.
type ItemOrder int

const (
	OrderNewestFirst ItemOrder = iota
	OrderScoreDesc
)

// ItemFilter narrows item listings.
type ItemFilter struct {
	Status             domain.Status
	RequiresModeration *bool
	Order              ItemOrder
	Limit              int
}

// SourceFilter narrows source listings; zero values mean "any".
type SourceFilter struct {
	ActiveOnly bool
	Category   domain.Category
}

// Repository is the persistent store as seen from inside one run scope.
type Repository interface {
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	InsertItem(ctx context.Context, item *domain.NewsItem) error
	GetItem(ctx context.Context, id string) (domain.NewsItem, error)
	UpdateItem(ctx context.Context, item domain.NewsItem) error
	ListItems(ctx context.Context, filter ItemFilter) ([]domain.NewsItem, error)

	ListSources(ctx context.Context, filter SourceFilter) ([]domain.NewsSource, error)
	CreateSourceIfAbsent(ctx context.Context, source *domain.NewsSource) (bool, error)
	UpdateSource(ctx context.Context, source domain.NewsSource) error

	CreateTask(ctx context.Context, task *domain.AnalysisTask) error
	UpdateTask(ctx context.Context, task domain.AnalysisTask) error
}

// Store opens run scopes that commit on success and roll back on error.
type Store interface {
	Scope(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
	Close() error
}

// SourceFetcher pulls raw entries for one source kind.
type SourceFetcher interface {
	Type() domain.SourceType
	Fetch(ctx context.Context, source domain.NewsSource, limit int) ([]domain.RawEntry, error)
}

// ChatMessage is one turn of a completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is sent to an OpenAI-compatible endpoint.
type CompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// Completion is the first choice of a completion response.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	Cost             *float64
}

// ChatClient performs AI completions.
type ChatClient interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// Button is an inline action attached to a message.
type Button struct {
	Text string
	Data string
}

// SendOptions controls formatting of outgoing messages.
type SendOptions struct {
	ParseMode             string
	DisableWebPagePreview bool
	Buttons               [][]Button
}

// Delivery identifies a message accepted by the transport.
type Delivery struct {
	ChatID    string
	MessageID int64
}

// Messenger delivers messages to channels. Errors are *domain.ExternalError.
type Messenger interface {
	SendText(ctx context.Context, chatID, text string, opts SendOptions) (Delivery, error)
	SendPhoto(ctx context.Context, chatID, imageURL, caption string, opts SendOptions) (Delivery, error)
}

// CallbackQuery is an operator's press of an inline button.
type CallbackQuery struct {
	UpdateID int64
	ID       string
	ChatID   string
	Data     string
}

// CallbackSource yields operator button presses.
type CallbackSource interface {
	PollCallbacks(ctx context.Context, offset int64) ([]CallbackQuery, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// RateLimiter bounds sends to N per rolling window.
type RateLimiter interface {
	Acquire(ctx context.Context) error
}

// ImageJobStatus is the state of an image generation job.
type ImageJobStatus string

const (
	ImagePending   ImageJobStatus = "pending"
	ImageCompleted ImageJobStatus = "completed"
	ImageFailed    ImageJobStatus = "failed"
)

// ImageParams tunes image generation.
type ImageParams struct {
	AspectRatio string
	Resolution  string
}

// ImageJob is the polled state of a generation job.
type ImageJob struct {
	Status   ImageJobStatus
	ImageURL string
	Error    string
}

// ImageGenerator is the optional image generation collaborator.
type ImageGenerator interface {
	Submit(ctx context.Context, prompt string, params ImageParams) (string, error)
	Poll(ctx context.Context, jobID string) (ImageJob, error)
}

// Scheduler drives periodic jobs.
type Scheduler interface {
	Every(name string, interval time.Duration, job func()) error
	Start()
	Stop(ctx context.Context) error
}
