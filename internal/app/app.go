package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"NewsHub/internal/config"
	"NewsHub/internal/domain"
	"NewsHub/internal/filter"
	"NewsHub/internal/infrastructure/imagegen"
	"NewsHub/internal/infrastructure/llm"
	"NewsHub/internal/infrastructure/parser"
	"NewsHub/internal/infrastructure/ratelimit"
	"NewsHub/internal/infrastructure/scheduler"
	"NewsHub/internal/infrastructure/storage"
	"NewsHub/internal/infrastructure/telegram"
	"NewsHub/internal/logging"
	"NewsHub/internal/metrics"
	"NewsHub/internal/ports"
	"NewsHub/internal/retry"
	"NewsHub/internal/scanner"
	"NewsHub/internal/usecase"
)

const (
	JobCollect         = "collect"
	JobAnalyze         = "analyze"
	JobPost            = "post"
	JobModerationInbox = "moderation-inbox"

	shutdownTimeout = 30 * time.Second
)

// Application wires configs to use cases and lifecycle orchestration.
type Application struct {
	cfg      config.Config
	logger   *slog.Logger
	store    ports.Store
	redis    *redis.Client
	registry *prometheus.Registry

	Collector    *usecase.Collector
	Analyzer     *usecase.Analyzer
	Poster       *usecase.Poster
	Inbox        *usecase.ModerationInbox
	Orchestrator *usecase.Orchestrator
}

// New connects the store and the optional shared limiter and builds every
// use case. Close releases what New opened.
func New(ctx context.Context, cfg config.Config, baseLogger *slog.Logger) (*Application, error) {
	if baseLogger == nil {
		baseLogger = logging.New(cfg.Log.Level, cfg.Log.Format)
	}

	a := &Application{
		cfg:      cfg,
		logger:   baseLogger,
		registry: prometheus.NewRegistry(),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	store, err := openStore(ctx, cfg.Database, baseLogger)
	if err != nil {
		return nil, err
	}
	a.store = store

	limiter, err := a.openLimiter(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	policy := retry.Policy{
		MaxAttempts:     cfg.AI.MaxAttempts,
		InitialInterval: cfg.AI.InitialBackoff,
		MaxInterval:     cfg.AI.MaxBackoff,
		Multiplier:      2,
		Jitter:          0.1,
		Retryable:       domain.IsTransient,
	}

	httpClient := &http.Client{Timeout: cfg.Collector.FetchTimeout}
	fetchers := scanner.NewRegistry(
		parser.NewRSSFetcher(httpClient),
		parser.NewAPIFetcher(httpClient, cfg.NewsAPI.BaseURL, cfg.NewsAPI.APIKey, cfg.NewsAPI.Language),
		parser.NewScrapeFetcher(httpClient),
	)

	a.Collector = usecase.NewCollector(usecase.CollectorDeps{
		Store:        store,
		Fetchers:     fetchers,
		Filter:       filter.NewKeywordFilter(cfg.Collector.CategoryKeywords()),
		MaxPerSource: cfg.Collector.MaxPerSource,
		FetchTimeout: cfg.Collector.FetchTimeout,
		Metrics:      m,
		Logger:       baseLogger.With("component", "collector"),
	})

	if cfg.AI.APIKey == "" {
		baseLogger.Warn("ai api key is not set, items will get the neutral analysis")
	}
	a.Analyzer = usecase.NewAnalyzer(usecase.AnalyzerDeps{
		Store:       store,
		Chat:        llm.NewOpenRouterClient(cfg.AI),
		Provider:    "openrouter",
		Models:      cfg.AI.Models(),
		Temperature: cfg.AI.Temperature,
		MaxTokens:   cfg.AI.MaxTokens,
		BatchLimit:  cfg.AI.AnalyzeLimit,
		Thresholds:  cfg.Thresholds(),
		Retry:       policy,
		Metrics:     m,
		Logger:      baseLogger.With("component", "analyzer"),
	})

	var images ports.ImageGenerator
	if cfg.ImageGen.Enabled && cfg.ImageGen.APIKey != "" {
		images = imagegen.NewClient(cfg.ImageGen)
	}

	bot := telegram.NewBot(cfg.Telegram)
	a.Poster = usecase.NewPoster(usecase.PosterDeps{
		Store:     store,
		Messenger: bot,
		Limiter:   limiter,
		Images:    images,
		ImageParams: ports.ImageParams{
			AspectRatio: cfg.ImageGen.AspectRatio,
			Resolution:  cfg.ImageGen.Resolution,
		},
		ImagePoll:       cfg.ImageGen.PollInterval,
		ImageMaxWait:    cfg.ImageGen.MaxWait,
		Channels:        cfg.Telegram.CategoryChannels(),
		OperatorChatID:  cfg.Telegram.OperatorChatID,
		PostDelay:       cfg.Telegram.PostDelay,
		PostLimit:       cfg.Telegram.PostLimit,
		ModerationLimit: cfg.Telegram.ModerationLimit,
		NotifyOperator:  cfg.Telegram.NotifyOperator,
		Retry:           policy,
		Metrics:         m,
		Logger:          baseLogger.With("component", "poster"),
	})
	a.Inbox = usecase.NewModerationInbox(bot, a.Poster, cfg.Telegram.OperatorChatID, baseLogger.With("component", "moderation"))

	driver := scheduler.NewCronScheduler(cfg.Scheduler.Location(), baseLogger.With("component", "scheduler"))
	a.Orchestrator = usecase.NewOrchestrator(driver, m, baseLogger.With("component", "orchestrator"))
	if err := a.registerJobs(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Run seeds the sources, schedules the jobs and serves metrics until ctx is
// cancelled, then shuts everything down.
func (a *Application) Run(ctx context.Context) error {
	if _, err := a.SeedSources(ctx); err != nil {
		return err
	}

	metricsErr := make(chan error, 1)
	srv := a.serveMetrics(metricsErr)

	if err := a.Orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	a.logger.Info("newshub started", "jobs", a.Orchestrator.Jobs(), "timezone", a.cfg.Scheduler.Location().String())

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-metricsErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.Orchestrator.Stop(shutdownCtx); err != nil {
		a.logger.Warn("scheduler stopped with running jobs", "error", err)
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown", "error", err)
		}
	}
	a.logger.Info("newshub stopped")
	return runErr
}

// Trigger runs one job outside its schedule.
func (a *Application) Trigger(ctx context.Context, name string) error {
	ran, err := a.Orchestrator.Trigger(ctx, name)
	if err != nil {
		return err
	}
	if !ran {
		a.logger.Warn("job is already running", "job", name)
	}
	return nil
}

// SeedSources stores the configured sources that are not there yet.
func (a *Application) SeedSources(ctx context.Context) (int, error) {
	sources, err := a.cfg.SeedSources()
	if err != nil {
		return 0, err
	}

	created := 0
	err = a.store.Scope(ctx, func(ctx context.Context, repo ports.Repository) error {
		for i := range sources {
			ok, err := repo.CreateSourceIfAbsent(ctx, &sources[i])
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("seed sources: %w", err)
	}
	if created > 0 {
		a.logger.Info("sources seeded", "created", created)
	}
	return created, nil
}

// Close releases the store and the Redis client.
func (a *Application) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}

func (a *Application) registerJobs() error {
	sched := a.cfg.Scheduler
	jobs := []usecase.Job{
		{Name: JobCollect, Interval: sched.CollectInterval, Run: func(ctx context.Context) error {
			_, err := a.Collector.CollectAll(ctx, "")
			return err
		}},
		{Name: JobAnalyze, Interval: sched.AnalyzeInterval, Run: func(ctx context.Context) error {
			_, err := a.Analyzer.AnalyzePending(ctx, a.cfg.AI.AnalyzeLimit)
			return err
		}},
		{Name: JobPost, Interval: sched.PostInterval, Run: func(ctx context.Context) error {
			if _, err := a.Poster.HandleModerationRequests(ctx); err != nil {
				return err
			}
			_, err := a.Poster.PostAnalyzed(ctx, a.cfg.Telegram.PostLimit)
			return err
		}},
	}
	if sched.ModerationInterval > 0 && a.cfg.Telegram.BotToken != "" && a.cfg.Telegram.OperatorChatID != "" {
		jobs = append(jobs, usecase.Job{Name: JobModerationInbox, Interval: sched.ModerationInterval, Run: func(ctx context.Context) error {
			_, err := a.Inbox.Poll(ctx)
			return err
		}})
	}

	for _, job := range jobs {
		if err := a.Orchestrator.Register(job); err != nil {
			return err
		}
	}
	return nil
}

func (a *Application) openLimiter(ctx context.Context) (ports.RateLimiter, error) {
	tg := a.cfg.Telegram
	logger := a.logger.With("component", "ratelimit")
	if a.cfg.Redis.Address == "" {
		return ratelimit.NewSlidingWindow(tg.RateLimit, tg.RateWindow, logger), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Address,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", a.cfg.Redis.Address, err)
	}
	a.redis = client
	return ratelimit.NewRedisWindow(client, a.cfg.Redis.Key, tg.RateLimit, tg.RateWindow, logger), nil
}

func (a *Application) serveMetrics(errc chan<- error) *http.Server {
	addr := a.cfg.Metrics.Address
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.logger.Info("metrics listening", "address", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	return srv
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (ports.Store, error) {
	if cfg.Driver != config.DriverPostgres {
		logger.Warn("using the in-memory store, data is lost on exit")
		return storage.NewMemoryStore(), nil
	}

	store, err := storage.OpenPostgres(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}
