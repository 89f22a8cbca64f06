// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/research-scraper/internal/headless/detector"
	"github.com/JakeFAU/research-scraper/internal/transform"
)

// EnvPrefix namespaces environment overrides, e.g. SCRAPER_SERVER_PORT.
const EnvPrefix = "SCRAPER"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Fetch     FetchConfig     `mapstructure:"fetch"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Store     StoreConfig     `mapstructure:"store"`
	Transform TransformConfig `mapstructure:"transform"`
	Search    SearchConfig    `mapstructure:"search"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Research  ResearchConfig  `mapstructure:"research"`
	GCS       GCSConfig       `mapstructure:"gcs"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// TelemetryConfig enables OpenTelemetry tracing. Spans go to Cloud Trace when
// ProjectID is set.
type TelemetryConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	ProjectID      string  `mapstructure:"project_id"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// FetchConfig controls the lightweight HTTP strategy.
type FetchConfig struct {
	MaxRetries               int     `mapstructure:"max_retries"`
	InitialRetryDelaySeconds int     `mapstructure:"initial_retry_delay_seconds"`
	TimeoutSeconds           int     `mapstructure:"timeout_seconds"`
	UserAgent                string  `mapstructure:"user_agent"`
	RespectRobots            bool    `mapstructure:"respect_robots"`
	MaxBodyBytes             int     `mapstructure:"max_body_bytes"`
	RatePerHost              float64 `mapstructure:"rate_per_host"`
	BurstPerHost             int     `mapstructure:"burst_per_host"`
}

// DetectorConfig tunes completeness detection.
type DetectorConfig struct {
	Keywords          []string `mapstructure:"keywords"`
	MinBodyBytes      int      `mapstructure:"min_body_bytes"`
	RequiredSelectors []string `mapstructure:"required_selectors"`
	DetectSPA         bool     `mapstructure:"detect_spa"`
}

// HeadlessConfig configures the rendering fallback.
type HeadlessConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	ExecPath          string `mapstructure:"exec_path"`
	NoSandbox         bool   `mapstructure:"no_sandbox"`

	// SettleDelayMs is waited after the page body is ready. Negative disables it.
	SettleDelayMs int `mapstructure:"settle_delay_ms"`
}

// SchedulerConfig holds the outer retry budget.
type SchedulerConfig struct {
	MaxRetries          int `mapstructure:"max_retries"`
	InitialDelaySeconds int `mapstructure:"initial_delay_seconds"`
	TimeoutSeconds      int `mapstructure:"timeout_seconds"`
	TickIntervalMs      int `mapstructure:"tick_interval_ms"`
	Concurrency         int `mapstructure:"concurrency"`
}

// StoreConfig sets the local output directories.
type StoreConfig struct {
	HTMLDir     string `mapstructure:"html_dir"`
	MarkdownDir string `mapstructure:"markdown_dir"`

	// MirrorDir copies stored documents to a second local directory when
	// GCS mirroring is off. Empty disables it.
	MirrorDir string `mapstructure:"mirror_dir"`
}

// TransformConfig selects the text output mode.
type TransformConfig struct {
	Mode        string   `mapstructure:"mode"`
	ExcludeTags []string `mapstructure:"exclude_tags"`
}

// SearchConfig holds Custom Search credentials and pacing.
type SearchConfig struct {
	APIKey              string `mapstructure:"api_key"`
	EngineID            string `mapstructure:"engine_id"`
	MaxRetries          int    `mapstructure:"max_retries"`
	InitialDelaySeconds int    `mapstructure:"initial_delay_seconds"`
	ResultsPerQuery     int    `mapstructure:"results_per_query"`
	LastNDays           int    `mapstructure:"last_n_days"`
}

// LLMConfig configures query generation.
type LLMConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	QueryCount  int     `mapstructure:"query_count"`
	Temperature float32 `mapstructure:"temperature"`
}

// ResearchConfig bounds the research pipeline fan-out.
type ResearchConfig struct {
	MaxQueries   int      `mapstructure:"max_queries"`
	MaxURLs      int      `mapstructure:"max_urls"`
	BlockedHosts []string `mapstructure:"blocked_hosts"`
}

// GCSConfig enables mirroring stored documents to a bucket.
type GCSConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	CacheControl string `mapstructure:"cache_control"`
}

// PostgresConfig enables the document index.
type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`

	// RunsTable and SitesTable receive progress rows when progress is enabled.
	RunsTable  string `mapstructure:"runs_table"`
	SitesTable string `mapstructure:"sites_table"`
}

// PubSubConfig enables document.stored notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// WorkersConfig sizes the run worker pool.
type WorkersConfig struct {
	Count int `mapstructure:"count"`
}

// QueueConfig sizes the run queue.
type QueueConfig struct {
	Depth int `mapstructure:"depth"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ProgressConfig tunes the scheduler progress stream. Rows are persisted only
// when postgres is also enabled.
type ProgressConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	Log            bool `mapstructure:"log"`
	BufferSize     int  `mapstructure:"buffer_size"`
	MaxBatchEvents int  `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int  `mapstructure:"max_batch_wait_ms"`
}

// Load builds a Config from an optional file plus the environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindFallbackEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.initial_retry_delay_seconds", 3)
	v.SetDefault("fetch.timeout_seconds", 15)
	v.SetDefault("fetch.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3")
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("fetch.max_body_bytes", 0)
	v.SetDefault("fetch.rate_per_host", 0)
	v.SetDefault("fetch.burst_per_host", 1)
	v.SetDefault("detector.keywords", detector.DefaultKeywords)
	v.SetDefault("detector.min_body_bytes", 0)
	v.SetDefault("detector.required_selectors", []string{})
	v.SetDefault("detector.detect_spa", false)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.settle_delay_ms", 500)
	v.SetDefault("headless.no_sandbox", false)
	v.SetDefault("scheduler.max_retries", 3)
	v.SetDefault("scheduler.initial_delay_seconds", 3)
	v.SetDefault("scheduler.timeout_seconds", 90)
	v.SetDefault("scheduler.tick_interval_ms", 100)
	v.SetDefault("scheduler.concurrency", 1)
	v.SetDefault("store.html_dir", "data/html")
	v.SetDefault("store.markdown_dir", "data/markdown")
	v.SetDefault("store.mirror_dir", "")
	v.SetDefault("transform.mode", string(transform.ModeText))
	v.SetDefault("transform.exclude_tags", transform.DefaultExcludeTags)
	v.SetDefault("search.api_key", "")
	v.SetDefault("search.engine_id", "")
	v.SetDefault("search.max_retries", 3)
	v.SetDefault("search.initial_delay_seconds", 5)
	v.SetDefault("search.results_per_query", 10)
	v.SetDefault("search.last_n_days", 0)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gemini-1.5-flash")
	v.SetDefault("llm.query_count", 10)
	v.SetDefault("llm.temperature", 0.5)
	v.SetDefault("research.max_queries", 3)
	v.SetDefault("research.max_urls", 30)
	v.SetDefault("research.blocked_hosts", []string{})
	v.SetDefault("gcs.enabled", false)
	v.SetDefault("gcs.prefix", "documents")
	v.SetDefault("gcs.cache_control", "")
	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.table", "documents")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.runs_table", "scrape_runs")
	v.SetDefault("postgres.sites_table", "scrape_site_stats")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("workers.count", 2)
	v.SetDefault("queue.depth", 64)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("progress.enabled", false)
	v.SetDefault("progress.log", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 200)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "research-scraper")
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// bindFallbackEnv accepts the conventional Google variable names when the
// prefixed ones are unset.
func bindFallbackEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"search.api_key":       {EnvPrefix + "_SEARCH_API_KEY", "GOOGLE_API_KEY"},
		"search.engine_id":     {EnvPrefix + "_SEARCH_ENGINE_ID", "GOOGLE_CX"},
		"llm.api_key":          {EnvPrefix + "_LLM_API_KEY", "GEMINI_API_KEY"},
		"pubsub.project_id":    {EnvPrefix + "_PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"},
		"telemetry.project_id": {EnvPrefix + "_TELEMETRY_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.RatePerHost < 0 {
		return fmt.Errorf("fetch.rate_per_host must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Scheduler.MaxRetries <= 0 {
		return fmt.Errorf("scheduler.max_retries must be > 0")
	}
	if c.Scheduler.InitialDelaySeconds < 0 {
		return fmt.Errorf("scheduler.initial_delay_seconds must be >= 0")
	}
	if c.Scheduler.TimeoutSeconds <= 0 {
		return fmt.Errorf("scheduler.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Scheduler.TimeoutSeconds < c.Fetch.TimeoutSeconds+c.Headless.NavTimeoutSeconds {
		return fmt.Errorf("scheduler.timeout_seconds must cover fetch.timeout_seconds + headless.nav_timeout_seconds (%d)",
			c.Fetch.TimeoutSeconds+c.Headless.NavTimeoutSeconds)
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be > 0")
	}
	if strings.TrimSpace(c.Store.HTMLDir) == "" {
		return fmt.Errorf("store.html_dir must be set")
	}
	if strings.TrimSpace(c.Store.MarkdownDir) == "" {
		return fmt.Errorf("store.markdown_dir must be set")
	}
	if c.Store.MirrorDir != "" && within(c.Store.HTMLDir, c.Store.MirrorDir) {
		return fmt.Errorf("store.mirror_dir must not be inside store.html_dir")
	}
	switch transform.Mode(c.Transform.Mode) {
	case transform.ModeText, transform.ModeMarkdown, transform.ModeReadability:
	default:
		return fmt.Errorf("transform.mode must be one of text, markdown, readability")
	}
	if c.Search.MaxRetries <= 0 {
		return fmt.Errorf("search.max_retries must be > 0")
	}
	if c.Search.LastNDays < 0 {
		return fmt.Errorf("search.last_n_days must be >= 0")
	}
	if c.GCS.Enabled && c.GCS.Bucket == "" {
		return fmt.Errorf("gcs.bucket must be set when gcs is enabled")
	}
	if c.Postgres.Enabled && c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn must be set when postgres is enabled")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be > 0")
	}
	if c.Queue.Depth <= 0 {
		return fmt.Errorf("queue.depth must be > 0")
	}
	if c.Progress.Enabled && (c.Progress.BufferSize <= 0 || c.Progress.MaxBatchEvents <= 0) {
		return fmt.Errorf("progress.buffer_size and progress.max_batch_events must be > 0")
	}
	if c.Telemetry.Enabled && (c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1) {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(dir, path string) bool {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absDir, absPath)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// FetchTimeout is the per-request HTTP timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// FetchRetryDelay seeds the content fetcher's internal backoff.
func (c Config) FetchRetryDelay() time.Duration {
	return time.Duration(c.Fetch.InitialRetryDelaySeconds) * time.Second
}

// NavTimeout bounds one headless navigation.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSeconds) * time.Second
}

// SchedulerDelay seeds the scheduler's backoff.
func (c Config) SchedulerDelay() time.Duration {
	return time.Duration(c.Scheduler.InitialDelaySeconds) * time.Second
}

// SchedulerTimeout bounds one scheduled attempt.
func (c Config) SchedulerTimeout() time.Duration {
	return time.Duration(c.Scheduler.TimeoutSeconds) * time.Second
}

// TickInterval is the scheduler's idle pause.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickIntervalMs) * time.Millisecond
}

// SearchDelay seeds the search client's backoff.
func (c Config) SearchDelay() time.Duration {
	return time.Duration(c.Search.InitialDelaySeconds) * time.Second
}

// ProgressBatchWait is the longest a progress batch waits before flushing.
func (c Config) ProgressBatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}
