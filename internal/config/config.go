package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"NewsHub/internal/domain"
)

const (
	defaultTimezone       = "UTC"
	configPathEnv         = "NEWSHUB_CONFIG"
	databaseDSNEnv        = "DATABASE_DSN"
	redisAddressEnv       = "REDIS_ADDRESS"
	openRouterAPIKeyEnv   = "OPENROUTER_API_KEY"
	openRouterModelEnv    = "OPENROUTER_MODEL"
	newsAPIKeyEnv         = "NEWSAPI_KEY"
	telegramTokenEnv      = "TELEGRAM_BOT_TOKEN"
	telegramOperatorEnv   = "TELEGRAM_OPERATOR_CHAT_ID"
	freepikAPIKeyEnv      = "FREEPIK_API_KEY"
	logLevelEnv           = "LOG_LEVEL"
	DriverPostgres        = "postgres"
	DriverMemory          = "memory"
	defaultOpenRouterURL  = "https://openrouter.ai/api/v1"
	defaultTelegramAPIURL = "https://api.telegram.org"
	defaultFreepikURL     = "https://api.freepik.com/v1/ai/mystic"
	defaultNewsAPIURL     = "https://newsapi.org/v2"
)

// Config holds high-level settings required across the application.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Collector CollectorConfig `yaml:"collector"`
	AI        AIConfig        `yaml:"ai"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	ImageGen  ImageGenConfig  `yaml:"imageGen"`
	NewsAPI   NewsAPIConfig   `yaml:"newsApi"`
	Sources   []SourceConfig  `yaml:"sources"`
}

// LogConfig selects slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatabaseConfig describes the store. Driver is "postgres" or "memory".
type DatabaseConfig struct {
	Driver      string `yaml:"driver"`
	DSN         string `yaml:"dsn"`
	AutoMigrate bool   `yaml:"autoMigrate"`
}

// RedisConfig enables the shared send budget when Address is set.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

// MetricsConfig exposes Prometheus metrics when Address is set.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// SchedulerConfig defines how often each stage runs.
type SchedulerConfig struct {
	CollectInterval    time.Duration  `yaml:"collectInterval"`
	AnalyzeInterval    time.Duration  `yaml:"analyzeInterval"`
	PostInterval       time.Duration  `yaml:"postInterval"`
	ModerationInterval time.Duration  `yaml:"moderationInterval"`
	Timezone           string         `yaml:"timezone"`
	location           *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	loc, _ := time.LoadLocation(defaultTimezone)
	return loc
}

// CollectorConfig bounds collection and holds the relevance keywords.
type CollectorConfig struct {
	MaxPerSource int                 `yaml:"maxPerSource"`
	FetchTimeout time.Duration       `yaml:"fetchTimeout"`
	Keywords     map[string][]string `yaml:"keywords"`
}

// CategoryKeywords converts the keyword lists to typed categories.
// Unknown category names are skipped.
func (c CollectorConfig) CategoryKeywords() map[domain.Category][]string {
	out := make(map[domain.Category][]string, len(c.Keywords))
	for name, words := range c.Keywords {
		category, err := domain.ParseCategory(name)
		if err != nil {
			continue
		}
		out[category] = append([]string(nil), words...)
	}
	return out
}

// AIConfig defines how to contact the OpenAI-compatible completion API.
type AIConfig struct {
	BaseURL             string        `yaml:"baseUrl"`
	APIKey              string        `yaml:"apiKey"`
	Model               string        `yaml:"model"`
	FallbackModels      []string      `yaml:"fallbackModels"`
	Temperature         float64       `yaml:"temperature"`
	MaxTokens           int           `yaml:"maxTokens"`
	Timeout             time.Duration `yaml:"timeout"`
	SiteURL             string        `yaml:"siteUrl"`
	AppTitle            string        `yaml:"appTitle"`
	ImportanceThreshold float64       `yaml:"importanceThreshold"`
	EscalationThreshold float64       `yaml:"escalationThreshold"`
	AnalyzeLimit        int           `yaml:"analyzeLimit"`
	MaxAttempts         int           `yaml:"maxAttempts"`
	InitialBackoff      time.Duration `yaml:"initialBackoff"`
	MaxBackoff          time.Duration `yaml:"maxBackoff"`
}

// Models returns the primary model followed by the fallbacks, without repeats.
func (a AIConfig) Models() []string {
	seen := map[string]struct{}{}
	models := make([]string, 0, len(a.FallbackModels)+1)
	for _, m := range append([]string{a.Model}, a.FallbackModels...) {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		models = append(models, m)
	}
	return models
}

// TelegramConfig wires the bot, the target channels and delivery pacing.
type TelegramConfig struct {
	APIURL          string            `yaml:"apiUrl"`
	BotToken        string            `yaml:"botToken"`
	OperatorChatID  string            `yaml:"operatorChatId"`
	Channels        map[string]string `yaml:"channels"`
	RateLimit       int               `yaml:"rateLimit"`
	RateWindow      time.Duration     `yaml:"rateWindow"`
	PostDelay       time.Duration     `yaml:"postDelay"`
	PostLimit       int               `yaml:"postLimit"`
	ModerationLimit int               `yaml:"moderationLimit"`
	Timeout         time.Duration     `yaml:"timeout"`
	PollTimeout     time.Duration     `yaml:"pollTimeout"`
	NotifyOperator  bool              `yaml:"notifyOperator"`
}

// CategoryChannels converts the channel map to typed categories.
func (t TelegramConfig) CategoryChannels() map[domain.Category]string {
	out := make(map[domain.Category]string, len(t.Channels))
	for name, channel := range t.Channels {
		category, err := domain.ParseCategory(name)
		if err != nil || channel == "" {
			continue
		}
		out[category] = channel
	}
	return out
}

// ImageGenConfig configures the optional image generation collaborator.
type ImageGenConfig struct {
	Enabled      bool          `yaml:"enabled"`
	BaseURL      string        `yaml:"baseUrl"`
	APIKey       string        `yaml:"apiKey"`
	AspectRatio  string        `yaml:"aspectRatio"`
	Resolution   string        `yaml:"resolution"`
	PollInterval time.Duration `yaml:"pollInterval"`
	MaxWait      time.Duration `yaml:"maxWait"`
}

// NewsAPIConfig holds NewsAPI credentials.
type NewsAPIConfig struct {
	BaseURL  string `yaml:"baseUrl"`
	APIKey   string `yaml:"apiKey"`
	Language string `yaml:"language"`
}

// SourceConfig is a source seeded into the store at startup.
type SourceConfig struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	URL      string   `yaml:"url"`
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
	Active   *bool    `yaml:"active"`
}

// SeedSources converts the configured sources to domain values.
func (c Config) SeedSources() ([]domain.NewsSource, error) {
	sources := make([]domain.NewsSource, 0, len(c.Sources))
	for _, sc := range c.Sources {
		category, err := domain.ParseCategory(sc.Category)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", sc.Name, err)
		}

		kind := domain.SourceType(strings.ToLower(sc.Type))
		switch kind {
		case domain.SourceRSS, domain.SourceAPI, domain.SourceScraping:
		default:
			return nil, fmt.Errorf("%w: source %s has unknown type %q", domain.ErrValidation, sc.Name, sc.Type)
		}

		url := sc.URL
		if kind == domain.SourceAPI && url == "" {
			url = c.NewsAPI.BaseURL
		}

		active := true
		if sc.Active != nil {
			active = *sc.Active
		}

		sources = append(sources, domain.NewsSource{
			Name:     sc.Name,
			Type:     kind,
			URL:      url,
			Category: category,
			Active:   active,
			Keywords: append([]string(nil), sc.Keywords...),
		})
	}
	return sources, nil
}

// Thresholds returns the analysis thresholds.
func (c Config) Thresholds() domain.Thresholds {
	return domain.Thresholds{
		Importance: c.AI.ImportanceThreshold,
		Escalation: c.AI.EscalationThreshold,
	}
}

// Load reads YAML configuration over the defaults (if a file is given, or
// NEWSHUB_CONFIG points to one), applies environment overrides and validates
// the result. An unreadable file is logged and ignored.
func Load(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		if raw, err := os.ReadFile(path); err != nil {
			log.Printf("config: cannot read %s: %v (falling back to defaults)", path, err)
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			log.Printf("config: cannot parse %s: %v (falling back to defaults)", path, err)
			cfg = defaultConfig()
		}
	}

	cfg.applyEnvOverrides()
	cfg.bindTimezone()

	if len(cfg.Sources) == 0 {
		cfg.Sources = defaultSources()
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}

	if c.AI.ImportanceThreshold < 0 || c.AI.ImportanceThreshold > 10 {
		errs = append(errs, fmt.Errorf("ai.importanceThreshold %.1f is outside 0..10", c.AI.ImportanceThreshold))
	}
	if c.AI.EscalationThreshold < c.AI.ImportanceThreshold || c.AI.EscalationThreshold > 10 {
		errs = append(errs, fmt.Errorf("ai.escalationThreshold %.1f must be between importanceThreshold and 10", c.AI.EscalationThreshold))
	}
	if len(c.AI.Models()) == 0 {
		errs = append(errs, errors.New("ai.model is required"))
	}
	if c.AI.MaxAttempts < 1 {
		errs = append(errs, errors.New("ai.maxAttempts must be at least 1"))
	}
	if c.AI.AnalyzeLimit < 1 {
		errs = append(errs, errors.New("ai.analyzeLimit must be positive"))
	}

	if c.Collector.MaxPerSource < 1 {
		errs = append(errs, errors.New("collector.maxPerSource must be positive"))
	}

	if c.Telegram.RateLimit < 1 || c.Telegram.RateWindow <= 0 {
		errs = append(errs, errors.New("telegram.rateLimit and telegram.rateWindow must be positive"))
	}
	if c.Telegram.PostLimit < 1 || c.Telegram.ModerationLimit < 1 {
		errs = append(errs, errors.New("telegram.postLimit and telegram.moderationLimit must be positive"))
	}
	if c.Telegram.PostDelay < 0 {
		errs = append(errs, errors.New("telegram.postDelay must not be negative"))
	}

	for name, interval := range map[string]time.Duration{
		"collectInterval": c.Scheduler.CollectInterval,
		"analyzeInterval": c.Scheduler.AnalyzeInterval,
		"postInterval":    c.Scheduler.PostInterval,
	} {
		if interval <= 0 {
			errs = append(errs, fmt.Errorf("scheduler.%s must be positive", name))
		}
	}

	if _, err := c.SeedSources(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrValidation, errors.Join(errs...))
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Database.DSN = v
		c.Database.Driver = DriverPostgres
	}

	if v := os.Getenv(redisAddressEnv); v != "" {
		c.Redis.Address = v
	}

	if v := os.Getenv(openRouterAPIKeyEnv); v != "" {
		c.AI.APIKey = v
	}

	if v := os.Getenv(openRouterModelEnv); v != "" {
		c.AI.Model = v
	}

	if v := os.Getenv(newsAPIKeyEnv); v != "" {
		c.NewsAPI.APIKey = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramOperatorEnv); v != "" {
		c.Telegram.OperatorChatID = v
	}

	if v := os.Getenv(freepikAPIKeyEnv); v != "" {
		c.ImageGen.APIKey = v
	}

	if v := os.Getenv(logLevelEnv); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) bindTimezone() {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Printf("config: unknown timezone %s, reverting to %s", tz, defaultTimezone)
		loc, _ = time.LoadLocation(defaultTimezone)
	}
	c.Scheduler.location = loc
}

func defaultConfig() Config {
	tz, _ := time.LoadLocation(defaultTimezone)
	return Config{
		Log:      LogConfig{Level: "info", Format: "text"},
		Database: DatabaseConfig{Driver: DriverMemory, AutoMigrate: true},
		Redis:    RedisConfig{Key: "newshub:telegram:sends"},
		Scheduler: SchedulerConfig{
			CollectInterval:    15 * time.Minute,
			AnalyzeInterval:    5 * time.Minute,
			PostInterval:       7 * time.Minute,
			ModerationInterval: 30 * time.Second,
			Timezone:           defaultTimezone,
			location:           tz,
		},
		Collector: CollectorConfig{
			MaxPerSource: 50,
			FetchTimeout: 30 * time.Second,
			Keywords:     defaultKeywords(),
		},
		AI: AIConfig{
			BaseURL: defaultOpenRouterURL,
			Model:   "openai/gpt-4-turbo-preview",
			FallbackModels: []string{
				"anthropic/claude-3-haiku",
				"meta-llama/llama-3-70b-instruct",
				"google/gemini-pro",
			},
			Temperature:         0.7,
			MaxTokens:           800,
			Timeout:             30 * time.Second,
			SiteURL:             "http://localhost:3000",
			AppTitle:            "NewsHub AI",
			ImportanceThreshold: 4,
			EscalationThreshold: 8,
			AnalyzeLimit:        20,
			MaxAttempts:         3,
			InitialBackoff:      2 * time.Second,
			MaxBackoff:          10 * time.Second,
		},
		Telegram: TelegramConfig{
			APIURL: defaultTelegramAPIURL,
			Channels: map[string]string{
				string(domain.CategoryCrypto):   "@crypto_ainews",
				string(domain.CategoryPolitics): "@kremlin_digest",
			},
			RateLimit:       20,
			RateWindow:      time.Minute,
			PostDelay:       2 * time.Second,
			PostLimit:       10,
			ModerationLimit: 10,
			Timeout:         30 * time.Second,
			PollTimeout:     25 * time.Second,
			NotifyOperator:  true,
		},
		ImageGen: ImageGenConfig{
			BaseURL:      defaultFreepikURL,
			AspectRatio:  "widescreen_16_9",
			Resolution:   "2k",
			PollInterval: 5 * time.Second,
			MaxWait:      2 * time.Minute,
		},
		NewsAPI: NewsAPIConfig{BaseURL: defaultNewsAPIURL},
	}
}

func defaultKeywords() map[string][]string {
	return map[string][]string{
		string(domain.CategoryCrypto): {
			"bitcoin", "btc", "ethereum", "eth", "crypto", "cryptocurrency",
			"blockchain", "nft", "defi", "web3", "altcoin", "token",
			"binance", "coinbase", "mining", "wallet",
		},
		string(domain.CategoryPolitics): {
			"kremlin", "putin", "russia", "ukraine", "sanctions", "moscow",
			"government", "president", "minister", "duma", "foreign policy",
			"diplomacy", "geopolitics",
		},
	}
}

func defaultSources() []SourceConfig {
	return []SourceConfig{
		{Name: "CoinTelegraph RSS", Type: "rss", URL: "https://cointelegraph.com/rss", Category: "crypto", Keywords: []string{"bitcoin", "ethereum", "crypto", "blockchain"}},
		{Name: "CoinDesk RSS", Type: "rss", URL: "https://www.coindesk.com/arc/outboundfeeds/rss/", Category: "crypto", Keywords: []string{"bitcoin", "crypto", "defi"}},
		{Name: "TechCrunch Crypto", Type: "rss", URL: "https://techcrunch.com/tag/cryptocurrency/feed/", Category: "crypto", Keywords: []string{"crypto", "blockchain", "web3"}},
		{Name: "RIA Novosti RSS", Type: "rss", URL: "https://ria.ru/export/rss2/archive/index.xml", Category: "politics", Keywords: []string{"russia", "kremlin", "putin"}},
		{Name: "TASS RSS", Type: "rss", URL: "https://tass.ru/rss/v2.xml", Category: "politics", Keywords: []string{"russia", "government", "politics"}},
		{Name: "BBC Russia", Type: "rss", URL: "http://feeds.bbci.co.uk/russian/rss.xml", Category: "politics", Keywords: []string{"russia", "ukraine", "moscow"}},
		{Name: "NewsAPI Crypto", Type: "api", Category: "crypto", Keywords: []string{"crypto", "bitcoin"}},
		{Name: "NewsAPI Politics", Type: "api", Category: "politics", Keywords: []string{"russia", "kremlin"}},
	}
}
