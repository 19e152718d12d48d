package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"NewsHub/internal/domain"
	"NewsHub/internal/metrics"
	"NewsHub/internal/ports"
	"NewsHub/internal/retry"
)

// AnalyzerDeps wires the analyzer's collaborators.
type AnalyzerDeps struct {
	Store       ports.Store
	Chat        ports.ChatClient
	Provider    string
	Models      []string
	Temperature float64
	MaxTokens   int
	BatchLimit  int
	Thresholds  domain.Thresholds
	Retry       retry.Policy
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	Now         func() time.Time
}

// AnalysisReport aggregates one batch analysis run.
type AnalysisReport struct {
	Total    int
	Analyzed int
	Rejected int
	Failed   int
}

// Analyzer enriches PENDING items with an AI teaser, insights, hashtags and
// a relevance score, then moves them to ANALYZED or REJECTED.
type Analyzer struct {
	store       ports.Store
	chat        ports.ChatClient
	provider    string
	models      []string
	temperature float64
	maxTokens   int
	batchLimit  int
	thresholds  domain.Thresholds
	retry       retry.Policy
	metrics     *metrics.Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewAnalyzer constructs the analysis use case.
func NewAnalyzer(deps AnalyzerDeps) *Analyzer {
	a := &Analyzer{
		store:       deps.Store,
		chat:        deps.Chat,
		provider:    deps.Provider,
		models:      deps.Models,
		temperature: deps.Temperature,
		maxTokens:   deps.MaxTokens,
		batchLimit:  deps.BatchLimit,
		thresholds:  deps.Thresholds,
		retry:       deps.Retry,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Now,
	}
	if a.provider == "" {
		a.provider = "openrouter"
	}
	if a.maxTokens <= 0 {
		a.maxTokens = 800
	}
	if a.batchLimit <= 0 {
		a.batchLimit = 20
	}
	if a.thresholds == (domain.Thresholds{}) {
		a.thresholds = domain.DefaultThresholds()
	}
	if a.retry.MaxAttempts == 0 {
		a.retry = retry.Default()
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// AnalyzeItem analyzes one PENDING item. It reports false without an error
// when the item is not PENDING anymore.
func (a *Analyzer) AnalyzeItem(ctx context.Context, id string) (bool, error) {
	_, ok, err := a.analyzeItem(ctx, id)
	return ok, err
}

// AnalyzePending analyzes up to limit PENDING items, newest first. A
// non-positive limit uses the configured batch size. Per-item
// failures are counted, never returned.
func (a *Analyzer) AnalyzePending(ctx context.Context, limit int) (AnalysisReport, error) {
	var report AnalysisReport
	if limit <= 0 {
		limit = a.batchLimit
	}

	var pending []domain.NewsItem
	if err := a.store.Scope(ctx, func(ctx context.Context, repo ports.Repository) error {
		var err error
		pending, err = repo.ListItems(ctx, ports.ItemFilter{
			Status: domain.StatusPending,
			Order:  ports.OrderNewestFirst,
			Limit:  limit,
		})
		return err
	}); err != nil {
		return report, fmt.Errorf("list pending items: %w", err)
	}

	report.Total = len(pending)
	for _, item := range pending {
		if ctx.Err() != nil {
			report.Failed += report.Total - report.Analyzed - report.Rejected - report.Failed
			break
		}

		status, ok, err := a.analyzeItem(ctx, item.ID)
		switch {
		case err != nil || !ok:
			if err != nil {
				a.logger.Error("analyze item", "item", item.ID, "error", err)
			}
			report.Failed++
		case status == domain.StatusAnalyzed:
			report.Analyzed++
		case status == domain.StatusRejected:
			report.Rejected++
		}
	}

	a.logger.Info("analysis finished",
		"total", report.Total,
		"analyzed", report.Analyzed,
		"rejected", report.Rejected,
		"failed", report.Failed)
	return report, nil
}

func (a *Analyzer) analyzeItem(ctx context.Context, id string) (domain.Status, bool, error) {
	logger := a.logger.With("item", id)

	var item domain.NewsItem
	task := domain.AnalysisTask{
		ItemID:   id,
		Type:     domain.TaskTypeAnalyze,
		Status:   domain.TaskProcessing,
		Provider: a.provider,
		Model:    a.primaryModel(),
	}

	// the task is committed before the AI call
	err := a.store.Scope(ctx, func(ctx context.Context, repo ports.Repository) error {
		var err error
		item, err = repo.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if item.Status != domain.StatusPending {
			return nil
		}
		task.CreatedAt = a.now().UTC()
		return repo.CreateTask(ctx, &task)
	})
	if err != nil {
		return "", false, fmt.Errorf("load item %s: %w", id, err)
	}
	if item.Status != domain.StatusPending {
		logger.Warn("item is not pending, skipping", "status", item.Status)
		return item.Status, false, nil
	}

	started := a.now()
	analysis, cost := a.analyze(ctx, item)
	elapsed := a.now().Sub(started)

	output, err := json.Marshal(analysis)
	if err != nil {
		return "", false, fmt.Errorf("encode analysis: %w", err)
	}

	var status domain.Status
	err = a.store.Scope(ctx, func(ctx context.Context, repo ports.Repository) error {
		current, err := repo.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if err := current.ApplyAnalysis(analysis, a.thresholds, a.now().UTC()); err != nil {
			return err
		}
		if err := repo.UpdateItem(ctx, current); err != nil {
			return err
		}
		status = current.Status

		task.Complete(analysis.Model, string(output), cost, elapsed, a.now().UTC())
		return repo.UpdateTask(ctx, task)
	})
	if err != nil {
		a.failTask(ctx, task, err, elapsed)
		a.metrics.ItemAnalyzed("failed")
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Warn("item changed during analysis", "error", err)
			return "", false, nil
		}
		return "", false, fmt.Errorf("store analysis of %s: %w", id, err)
	}

	a.metrics.ItemAnalyzed(string(status))
	logger.Info("item analyzed",
		"status", status,
		"score", analysis.RelevanceScore,
		"model", analysis.Model,
		"degraded", analysis.Degraded,
		"elapsed", elapsed)
	return status, true, nil
}

// analyze walks the model chain. It never fails: when every model is
// exhausted the neutral analysis is returned.
func (a *Analyzer) analyze(ctx context.Context, item domain.NewsItem) (domain.Analysis, *float64) {
	prompt := buildAnalysisPrompt(item)

	for _, model := range a.models {
		logger := a.logger.With("item", item.ID, "model", model)

		completion, err := retry.Value(ctx, a.retry, func(ctx context.Context) (ports.Completion, error) {
			c, err := a.chat.Complete(ctx, ports.CompletionRequest{
				Model:       model,
				Messages:    []ports.ChatMessage{{Role: "user", Content: prompt}},
				Temperature: a.temperature,
				MaxTokens:   a.maxTokens,
			})
			a.metrics.AICall(model, err == nil)
			return c, err
		}, func(err error, attempt int, wait time.Duration) {
			logger.Warn("completion failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		})
		if err != nil {
			logger.Warn("model exhausted", "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		answered := completion.Model
		if answered == "" {
			answered = model
		}

		analysis, err := parseAnalysis(completion.Content)
		if err != nil {
			logger.Warn("unparsable analysis", "error", err)
			analysis = domain.UnparsableAnalysis()
		}
		analysis.Model = answered
		return analysis, completion.Cost
	}

	a.logger.Error("all models failed, using neutral analysis", "item", item.ID)
	return domain.NeutralAnalysis(), nil
}

func (a *Analyzer) failTask(ctx context.Context, task domain.AnalysisTask, cause error, elapsed time.Duration) {
	task.Fail(cause, elapsed, a.now().UTC())
	if err := a.store.Scope(ctx, func(ctx context.Context, repo ports.Repository) error {
		return repo.UpdateTask(ctx, task)
	}); err != nil {
		a.logger.Error("record failed task", "task", task.ID, "error", err)
	}
}

func (a *Analyzer) primaryModel() string {
	if len(a.models) == 0 {
		return ""
	}
	return a.models[0]
}

var promptContext = map[domain.Category]struct {
	role  string
	focus string
}{
	domain.CategoryCrypto: {
		role:  "You are a professional crypto analyst and journalist. You cover cryptocurrencies, blockchain, DeFi and NFT for investors and enthusiasts.",
		focus: "what this means for investors, traders and the crypto community",
	},
	domain.CategoryPolitics: {
		role:  "You are a political analyst and journalist. You cover Russia, world politics and geopolitics.",
		focus: "what this means for Russia, world politics and international relations",
	},
}

func buildAnalysisPrompt(item domain.NewsItem) string {
	pc, ok := promptContext[item.Category]
	if !ok {
		pc = promptContext[domain.CategoryCrypto]
	}

	var b strings.Builder
	b.WriteString(pc.role)
	b.WriteString("\n\nArticle:\nTitle: ")
	b.WriteString(item.Title)
	b.WriteString("\nContent: ")
	b.WriteString(item.Content)
	b.WriteString("\n\nTask:\n")
	b.WriteString("1. Teaser: retell the story in 80-120 words, in Russian, engaging and clear.\n")
	b.WriteString("2. Insights: 2-3 points on " + pc.focus + ".\n")
	b.WriteString("3. Relevance score from 0 to 10: how important and interesting this is for the audience.\n")
	b.WriteString("4. Hashtags: 3-5 relevant hashtags for Telegram.\n\n")
	b.WriteString("Answer with JSON only, exactly in this shape:\n")
	b.WriteString(`{"teaser": "...", "insights": ["...", "..."], "relevance_score": 8, "hashtags": ["#Crypto", "#Bitcoin"]}`)
	return b.String()
}
