package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"NewsHub/internal/domain"
	"NewsHub/internal/filter"
	"NewsHub/internal/metrics"
	"NewsHub/internal/ports"
	"NewsHub/internal/scanner"
)

// CollectorDeps wires the collector's collaborators.
type CollectorDeps struct {
	Store        ports.Store
	Fetchers     *scanner.Registry
	Filter       *filter.KeywordFilter
	MaxPerSource int
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
	Now          func() time.Time
}

// CollectionReport aggregates one collection run.
type CollectionReport struct {
	TotalCollected int
	PerSource      map[string]int
	Failed         []string
	Timestamp      time.Time
}

// Collector pulls entries from sources, filters and deduplicates them and
// stores the survivors as PENDING items.
type Collector struct {
	store        ports.Store
	fetchers     *scanner.Registry
	filter       *filter.KeywordFilter
	maxPerSource int
	fetchTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time
}

// NewCollector constructs the collection use case.
func NewCollector(deps CollectorDeps) *Collector {
	c := &Collector{
		store:        deps.Store,
		fetchers:     deps.Fetchers,
		filter:       deps.Filter,
		maxPerSource: deps.MaxPerSource,
		fetchTimeout: deps.FetchTimeout,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          deps.Now,
	}
	if c.maxPerSource <= 0 {
		c.maxPerSource = 50
	}
	if c.fetchTimeout <= 0 {
		c.fetchTimeout = 30 * time.Second
	}
	if c.fetchers == nil {
		c.fetchers = scanner.NewRegistry()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// CollectFromSource fetches one source and returns the number of new items.
// A fetch failure is recorded on the source and returned; nothing is stored.
func (c *Collector) CollectFromSource(ctx context.Context, source domain.NewsSource) (int, error) {
	logger := c.logger.With("source", source.Name, "type", source.Type)

	entries, fetchErr := c.fetch(ctx, source)
	if fetchErr != nil {
		logger.Warn("fetch failed", "error", fetchErr)
		c.metrics.SourceFailed(source.Name)

		source.RecordFailure(fetchErr, c.now().UTC())
		if err := c.store.Scope(ctx, func(ctx context.Context, repo ports.Repository) error {
			return repo.UpdateSource(ctx, source)
		}); err != nil {
			logger.Error("record source failure", "error", err)
		}
		return 0, fmt.Errorf("collect %s: %w", source.Name, fetchErr)
	}

	var stored, filtered, duplicates int
	err := c.store.Scope(ctx, func(ctx context.Context, repo ports.Repository) error {
		stored, filtered, duplicates = 0, 0, 0
		now := c.now().UTC()

		for _, entry := range entries {
			entry.Title = strings.TrimSpace(entry.Title)
			entry.Content = strings.TrimSpace(entry.Content)
			if entry.Title == "" && entry.Content == "" {
				continue
			}
			if c.filter != nil && !c.filter.Match(source.Category, entry.Title+" "+entry.Content) {
				filtered++
				continue
			}

			item := domain.NewPendingItem(source, entry, now)
			exists, err := repo.ExistsByHash(ctx, item.ContentHash)
			if err != nil {
				return err
			}
			if exists {
				duplicates++
				continue
			}
			if err := repo.InsertItem(ctx, &item); err != nil {
				if errors.Is(err, domain.ErrDuplicate) {
					duplicates++
					continue
				}
				return err
			}
			stored++
		}

		source.RecordSuccess(now)
		return repo.UpdateSource(ctx, source)
	})
	if err != nil {
		logger.Error("persist collected items", "error", err)
		c.metrics.SourceFailed(source.Name)
		return 0, fmt.Errorf("collect %s: %w", source.Name, err)
	}

	c.metrics.ItemsCollected(source.Name, stored)
	logger.Info("source collected",
		"fetched", len(entries),
		"stored", stored,
		"filtered", filtered,
		"duplicates", duplicates)
	return stored, nil
}

// CollectAll collects every active source, optionally limited to one
// category. An empty category means all of them.
func (c *Collector) CollectAll(ctx context.Context, category string) (CollectionReport, error) {
	report := CollectionReport{PerSource: map[string]int{}, Timestamp: c.now().UTC()}

	filterBy := ports.SourceFilter{ActiveOnly: true}
	if category != "" {
		parsed, err := domain.ParseCategory(category)
		if err != nil {
			return report, err
		}
		filterBy.Category = parsed
	}

	var sources []domain.NewsSource
	if err := c.store.Scope(ctx, func(ctx context.Context, repo ports.Repository) error {
		var err error
		sources, err = repo.ListSources(ctx, filterBy)
		return err
	}); err != nil {
		return report, fmt.Errorf("list sources: %w", err)
	}

	for _, source := range sources {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		n, err := c.CollectFromSource(ctx, source)
		report.PerSource[source.Name] = n
		report.TotalCollected += n
		if err != nil {
			report.Failed = append(report.Failed, source.Name)
		}
	}

	c.logger.Info("collection finished",
		"sources", len(sources),
		"collected", report.TotalCollected,
		"failed", len(report.Failed))
	return report, nil
}

func (c *Collector) fetch(ctx context.Context, source domain.NewsSource) ([]domain.RawEntry, error) {
	fetcher, err := c.fetchers.Resolve(source.Type)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	entries, err := fetcher.Fetch(ctx, source, c.maxPerSource)
	if err != nil {
		return nil, err
	}
	if len(entries) > c.maxPerSource {
		entries = entries[:c.maxPerSource]
	}
	return entries, nil
}
