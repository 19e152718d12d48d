package domain

import (
	"fmt"
	"strings"
	"time"
)

// Category is the topic a source and its items belong to.
type Category string

const (
	CategoryCrypto   Category = "crypto"
	CategoryPolitics Category = "politics"
)

// Categories lists every supported category in a stable order.
func Categories() []Category {
	return []Category{CategoryCrypto, CategoryPolitics}
}

// ParseCategory validates caller input. An empty string is rejected too.
func ParseCategory(value string) (Category, error) {
	switch c := Category(strings.ToLower(strings.TrimSpace(value))); c {
	case CategoryCrypto, CategoryPolitics:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown category %q", ErrValidation, value)
	}
}

// SourceType selects the fetch strategy for a source.
type SourceType string

const (
	SourceRSS      SourceType = "rss"
	SourceAPI      SourceType = "api"
	SourceScraping SourceType = "scraping"
)

// NewsSource is a fetchable origin of candidate items.
type NewsSource struct {
	ID            int64
	Name          string
	Type          SourceType
	URL           string
	Category      Category
	Active        bool
	Keywords      []string
	ErrorCount    int
	LastFetchedAt *time.Time
	LastSuccessAt *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// RecordSuccess resets the error bookkeeping after a successful fetch.
func (s *NewsSource) RecordSuccess(now time.Time) {
	s.LastFetchedAt = &now
	s.LastSuccessAt = &now
	s.ErrorCount = 0
	s.LastError = ""
	s.UpdatedAt = now
}

// RecordFailure increments the error counter and keeps the error text.
func (s *NewsSource) RecordFailure(err error, now time.Time) {
	s.LastFetchedAt = &now
	s.ErrorCount++
	if err != nil {
		s.LastError = err.Error()
	}
	s.UpdatedAt = now
}

// RawEntry is what a fetcher extracts from an upstream source before filtering.
type RawEntry struct {
	Title       string
	Content     string
	URL         string
	Author      string
	ImageURL    string
	PublishedAt *time.Time
}

// NewsItem is a candidate or curated article moving through the pipeline.
type NewsItem struct {
	ID                 string
	SourceID           int64
	Title              string
	Content            string
	URL                string
	ImageURL           string
	Author             string
	Category           Category
	ContentHash        string
	Status             Status
	RelevanceScore     *float64
	Summary            string
	Insights           []string
	Hashtags           []string
	RequiresModeration bool
	PublishedAt        *time.Time
	SourcePublishedAt  *time.Time
	DeliveryChannel    string
	DeliveryMessageID  int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewPendingItem builds a PENDING item for a raw entry collected from source.
func NewPendingItem(source NewsSource, entry RawEntry, now time.Time) NewsItem {
	return NewsItem{
		SourceID:          source.ID,
		Title:             entry.Title,
		Content:           entry.Content,
		URL:               entry.URL,
		ImageURL:          entry.ImageURL,
		Author:            entry.Author,
		Category:          source.Category,
		ContentHash:       ContentHash(entry.Title, entry.Content),
		Status:            StatusPending,
		SourcePublishedAt: entry.PublishedAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Score returns the relevance score or zero when the item is not analyzed yet.
func (n NewsItem) Score() float64 {
	if n.RelevanceScore == nil {
		return 0
	}
	return *n.RelevanceScore
}

// Thresholds drive the ANALYZED/REJECTED split and moderation escalation.
type Thresholds struct {
	Importance float64
	Escalation float64
}

// DefaultThresholds mirrors production settings.
func DefaultThresholds() Thresholds {
	return Thresholds{Importance: 4, Escalation: 8}
}

// ApplyAnalysis moves a PENDING item to ANALYZED or REJECTED.
func (n *NewsItem) ApplyAnalysis(a Analysis, th Thresholds, now time.Time) error {
	next := StatusRejected
	if a.RelevanceScore >= th.Importance {
		next = StatusAnalyzed
	}
	if err := n.transition(next); err != nil {
		return err
	}

	score := a.RelevanceScore
	n.RelevanceScore = &score
	n.Summary = a.Teaser
	n.Insights = append([]string(nil), a.Insights...)
	n.Hashtags = append([]string(nil), a.Hashtags...)
	n.RequiresModeration = next == StatusAnalyzed && score >= th.Escalation
	n.UpdatedAt = now
	return nil
}

// Approve records the operator's approval of a flagged item.
func (n *NewsItem) Approve(now time.Time) error {
	if err := n.transition(StatusApproved); err != nil {
		return err
	}
	n.UpdatedAt = now
	return nil
}

// Reject is the explicit operator rejection.
func (n *NewsItem) Reject(now time.Time) error {
	if err := n.transition(StatusRejected); err != nil {
		return err
	}
	n.RequiresModeration = false
	n.UpdatedAt = now
	return nil
}

// MarkPublished stores the delivery identifiers of a successful post.
func (n *NewsItem) MarkPublished(channel string, messageID int64, now time.Time) error {
	if err := n.transition(StatusPublished); err != nil {
		return err
	}
	n.PublishedAt = &now
	n.DeliveryChannel = channel
	n.DeliveryMessageID = messageID
	n.RequiresModeration = false
	n.UpdatedAt = now
	return nil
}

// ClearModeration drops the flag once the operator has been prompted.
func (n *NewsItem) ClearModeration(now time.Time) {
	n.RequiresModeration = false
	n.UpdatedAt = now
}

func (n *NewsItem) transition(next Status) error {
	if !n.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s for item %s", ErrInvalidTransition, n.Status, next, n.ID)
	}
	n.Status = next
	return nil
}

// TaskStatus tracks one analysis attempt.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskTypeAnalyze is the only task type the analyzer writes.
const TaskTypeAnalyze = "analyze"

// AnalysisTask is the audit record of a single analysis attempt.
type AnalysisTask struct {
	ID             string
	ItemID         string
	Type           string
	Status         TaskStatus
	Provider       string
	Model          string
	Output         string
	Error          string
	ProcessingTime time.Duration
	Cost           *float64
	CreatedAt      time.Time
	CompletedAt    *time.Time
}

// Complete closes the task successfully.
func (t *AnalysisTask) Complete(model, output string, cost *float64, elapsed time.Duration, now time.Time) {
	t.Status = TaskCompleted
	if model != "" {
		t.Model = model
	}
	t.Output = output
	t.Cost = cost
	t.ProcessingTime = elapsed
	t.CompletedAt = &now
}

// Fail closes the task with an error.
func (t *AnalysisTask) Fail(err error, elapsed time.Duration, now time.Time) {
	t.Status = TaskFailed
	if err != nil {
		t.Error = err.Error()
	}
	t.ProcessingTime = elapsed
	t.CompletedAt = &now
}
