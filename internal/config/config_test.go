package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Scheduler.MaxRetries != 3 || cfg.SchedulerDelay() != 3*time.Second {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Scheduler)
	}
	if cfg.TickInterval() != 100*time.Millisecond {
		t.Fatalf("expected 100ms tick, got %v", cfg.TickInterval())
	}
	if cfg.Scheduler.Concurrency != 1 {
		t.Fatalf("expected sequential scheduling by default, got %d", cfg.Scheduler.Concurrency)
	}
	if cfg.Store.HTMLDir != "data/html" || cfg.Store.MarkdownDir != "data/markdown" {
		t.Fatalf("unexpected store dirs: %+v", cfg.Store)
	}
	wantTags := []string{"header", "footer", "script", "style", "nav"}
	if !reflect.DeepEqual(cfg.Transform.ExcludeTags, wantTags) {
		t.Fatalf("expected exclude tags %v, got %v", wantTags, cfg.Transform.ExcludeTags)
	}
	if len(cfg.Detector.Keywords) != 4 {
		t.Fatalf("expected four default keywords, got %v", cfg.Detector.Keywords)
	}
	if !cfg.Headless.Enabled || cfg.NavTimeout() != 45*time.Second || cfg.Headless.SettleDelayMs != 500 {
		t.Fatalf("unexpected headless defaults: %+v", cfg.Headless)
	}
	if cfg.Telemetry.Enabled || cfg.Telemetry.ServiceName != "research-scraper" || cfg.Telemetry.SampleRatio != 1 {
		t.Fatalf("unexpected telemetry defaults: %+v", cfg.Telemetry)
	}
	if cfg.SchedulerTimeout() < cfg.FetchTimeout()+cfg.NavTimeout() {
		t.Fatalf("scheduler timeout %v does not cover fetch and render", cfg.SchedulerTimeout())
	}
	if cfg.LLM.QueryCount != 10 || cfg.Research.MaxURLs != 30 {
		t.Fatalf("unexpected research defaults: %+v %+v", cfg.LLM, cfg.Research)
	}
	if cfg.Server.Port != 8080 || cfg.Workers.Count != 2 || cfg.Queue.Depth != 64 {
		t.Fatalf("unexpected server defaults: %+v", cfg)
	}
	if cfg.Progress.Enabled || cfg.ProgressBatchWait() != 250*time.Millisecond || cfg.Postgres.RunsTable != "scrape_runs" {
		t.Fatalf("unexpected progress defaults: %+v %+v", cfg.Progress, cfg.Postgres)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
fetch:
  max_retries: 5
  initial_retry_delay_seconds: 2
  timeout_seconds: 20
  rate_per_host: 1.5
detector:
  keywords: ["cf-challenge"]
  min_body_bytes: 512
scheduler:
  max_retries: 4
  initial_delay_seconds: 1
  concurrency: 8
  tick_interval_ms: 250
store:
  html_dir: /tmp/raw
  markdown_dir: /tmp/md
transform:
  mode: markdown
search:
  api_key: key-1
  engine_id: cx-1
  last_n_days: 30
headless:
  enabled: false
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
logging:
  development: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Fetch.MaxRetries != 5 || cfg.FetchRetryDelay() != 2*time.Second || cfg.FetchTimeout() != 20*time.Second {
		t.Fatalf("expected fetch overrides, got %+v", cfg.Fetch)
	}
	if cfg.Fetch.RatePerHost != 1.5 {
		t.Fatalf("expected rate 1.5, got %v", cfg.Fetch.RatePerHost)
	}
	if !reflect.DeepEqual(cfg.Detector.Keywords, []string{"cf-challenge"}) || cfg.Detector.MinBodyBytes != 512 {
		t.Fatalf("expected detector overrides, got %+v", cfg.Detector)
	}
	if cfg.Scheduler.Concurrency != 8 || cfg.TickInterval() != 250*time.Millisecond {
		t.Fatalf("expected scheduler overrides, got %+v", cfg.Scheduler)
	}
	if cfg.Store.HTMLDir != "/tmp/raw" || cfg.Transform.Mode != "markdown" {
		t.Fatalf("expected store/transform overrides")
	}
	if cfg.Search.APIKey != "key-1" || cfg.Search.EngineID != "cx-1" || cfg.Search.LastNDays != 30 {
		t.Fatalf("expected search overrides, got %+v", cfg.Search)
	}
	if cfg.Headless.Enabled || cfg.Server.Port != 9090 || !cfg.Auth.Enabled || !cfg.Logging.Development {
		t.Fatalf("expected headless/server/auth/logging overrides")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SCRAPER_SERVER_PORT", "7070")
	t.Setenv("SCRAPER_SCHEDULER_MAX_RETRIES", "6")
	t.Setenv("SCRAPER_SEARCH_API_KEY", "from-env")
	t.Setenv("GOOGLE_CX", "legacy-cx")
	t.Setenv("GEMINI_API_KEY", "gemini-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 || cfg.Scheduler.MaxRetries != 6 {
		t.Fatalf("expected env overrides, got port=%d retries=%d", cfg.Server.Port, cfg.Scheduler.MaxRetries)
	}
	if cfg.Search.APIKey != "from-env" {
		t.Fatalf("expected prefixed search key, got %q", cfg.Search.APIKey)
	}
	if cfg.Search.EngineID != "legacy-cx" {
		t.Fatalf("expected GOOGLE_CX fallback, got %q", cfg.Search.EngineID)
	}
	if cfg.LLM.APIKey != "gemini-key" {
		t.Fatalf("expected GEMINI_API_KEY fallback, got %q", cfg.LLM.APIKey)
	}
}

func TestValidateAcceptsSiblingMirrorDir(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Store.MirrorDir = "html-mirror"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected sibling mirror dir to validate, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func validConfig() Config {
	return Config{
		Fetch:     FetchConfig{TimeoutSeconds: 10},
		Scheduler: SchedulerConfig{MaxRetries: 3, TimeoutSeconds: 30, Concurrency: 1},
		Store:     StoreConfig{HTMLDir: "html", MarkdownDir: "md"},
		Transform: TransformConfig{Mode: "text"},
		Search:    SearchConfig{MaxRetries: 3},
		Server:    ServerConfig{Port: 8080},
		Workers:   WorkersConfig{Count: 1},
		Queue:     QueueConfig{Depth: 1},
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected base config to validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid fetch timeout", mutate: func(c *Config) { c.Fetch.TimeoutSeconds = 0 }, want: "fetch.timeout_seconds"},
		{name: "negative fetch retries", mutate: func(c *Config) { c.Fetch.MaxRetries = -1 }, want: "fetch.max_retries"},
		{name: "zero scheduler retries", mutate: func(c *Config) { c.Scheduler.MaxRetries = 0 }, want: "scheduler.max_retries"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Scheduler.Concurrency = 0 }, want: "scheduler.concurrency"},
		{name: "missing html dir", mutate: func(c *Config) { c.Store.HTMLDir = " " }, want: "store.html_dir"},
		{name: "unknown transform mode", mutate: func(c *Config) { c.Transform.Mode = "pdf" }, want: "transform.mode"},
		{
			name: "headless missing max parallel",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 0
			},
			want: "headless.max_parallel",
		},
		{
			name: "scheduler timeout shorter than fetch plus render",
			mutate: func(c *Config) {
				c.Headless.Enabled = true
				c.Headless.MaxParallel = 1
				c.Headless.NavTimeoutSeconds = 45
			},
			want: "scheduler.timeout_seconds must cover",
		},
		{name: "mirror inside html dir", mutate: func(c *Config) { c.Store.MirrorDir = "html/mirror" }, want: "store.mirror_dir"},
		{name: "mirror is html dir", mutate: func(c *Config) { c.Store.MirrorDir = "./html" }, want: "store.mirror_dir"},
		{
			name: "telemetry sample ratio out of range",
			mutate: func(c *Config) {
				c.Telemetry.Enabled = true
				c.Telemetry.SampleRatio = 1.5
			},
			want: "telemetry.sample_ratio",
		},
		{name: "gcs without bucket", mutate: func(c *Config) { c.GCS.Enabled = true }, want: "gcs.bucket"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Postgres.Enabled = true }, want: "postgres.dsn"},
		{name: "pubsub without topic", mutate: func(c *Config) { c.PubSub.Enabled = true }, want: "pubsub.project_id"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "zero workers", mutate: func(c *Config) { c.Workers.Count = 0 }, want: "workers.count"},
		{
			name: "progress without buffer",
			mutate: func(c *Config) {
				c.Progress.Enabled = true
				c.Progress.BufferSize = 0
			},
			want: "progress.buffer_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
