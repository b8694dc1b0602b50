// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/placecrawler/internal/browser"
	"github.com/JakeFAU/placecrawler/internal/export"
	"github.com/JakeFAU/placecrawler/internal/orchestrator"
	"github.com/JakeFAU/placecrawler/internal/retry"
	"github.com/JakeFAU/placecrawler/internal/scheduler"
)

// EnvPrefix namespaces environment overrides, e.g. PLACECRAWLER_CRAWLER_CONCURRENCY.
const EnvPrefix = "PLACECRAWLER"

// Checkpoint backends.
const (
	BackendLocal    = "local"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Export     ExportConfig     `mapstructure:"export"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Control    ControlConfig    `mapstructure:"control"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CrawlerConfig governs batching, retries and pacing.
type CrawlerConfig struct {
	Concurrency        int           `mapstructure:"concurrency"`
	MaxRetries         int           `mapstructure:"max_retries"`
	BaseTimeout        time.Duration `mapstructure:"base_timeout"`
	BackoffUnit        time.Duration `mapstructure:"backoff_unit"`
	BackoffJitter      time.Duration `mapstructure:"backoff_jitter"`
	CheckpointInterval int           `mapstructure:"checkpoint_interval"`
	StaggerBase        time.Duration `mapstructure:"stagger_base"`
	StaggerJitter      time.Duration `mapstructure:"stagger_jitter"`
	InterBatchDelay    time.Duration `mapstructure:"inter_batch_delay"`
	InterBatchJitter   time.Duration `mapstructure:"inter_batch_jitter"`
	LaunchRate         float64       `mapstructure:"launch_rate"`
	LaunchBurst        int           `mapstructure:"launch_burst"`
	InterQueryDelay    time.Duration `mapstructure:"inter_query_delay"`
	PausePollInterval  time.Duration `mapstructure:"pause_poll_interval"`
}

// BrowserConfig configures Chrome and the map-search page flow.
type BrowserConfig struct {
	Headless     bool          `mapstructure:"headless"`
	ExecPath     string        `mapstructure:"exec_path"`
	UserAgent    string        `mapstructure:"user_agent"`
	Locale       string        `mapstructure:"locale"`
	Timezone     string        `mapstructure:"timezone"`
	WindowWidth  int           `mapstructure:"window_width"`
	WindowHeight int           `mapstructure:"window_height"`
	SearchURL    string        `mapstructure:"search_url"`
	FeedTimeout  time.Duration `mapstructure:"feed_timeout"`
	ScrollRounds int           `mapstructure:"scroll_rounds"`
	ScrollPause  time.Duration `mapstructure:"scroll_pause"`
	StallRounds  int           `mapstructure:"stall_rounds"`
	MaxItems     int           `mapstructure:"max_items"`
	NameWait     time.Duration `mapstructure:"name_wait"`
	Settle       time.Duration `mapstructure:"settle"`
}

// CheckpointConfig selects where crawl snapshots live.
type CheckpointConfig struct {
	Backend  string         `mapstructure:"backend"`
	Dir      string         `mapstructure:"dir"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls the Postgres checkpoint backend.
type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`

	// AutoMigrate creates the checkpoint table on startup.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// ExportConfig sets output formats and destinations.
type ExportConfig struct {
	Dir       string   `mapstructure:"dir"`
	Filename  string   `mapstructure:"filename"`
	Formats   []string `mapstructure:"formats"`
	PerJob    bool     `mapstructure:"per_job"`
	GCSBucket string   `mapstructure:"gcs_bucket"`
	GCSPrefix string   `mapstructure:"gcs_prefix"`
}

// NotifyConfig holds Pub/Sub settings for job lifecycle events.
type NotifyConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether events should be published.
func (n NotifyConfig) Enabled() bool {
	return n.Topic != ""
}

// ControlConfig configures the operator control surfaces.
type ControlConfig struct {
	Stdin  bool   `mapstructure:"stdin"`
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// New returns a Viper instance with defaults and environment binding.
// Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadFrom(New(), path)
}

// LoadFrom reads path (if set) into v and decodes the result.
func LoadFrom(v *viper.Viper, path string) (Config, error) {
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
	sched := scheduler.DefaultConfig()
	rp := retry.DefaultConfig()
	orch := orchestrator.DefaultConfig()
	runner := orchestrator.DefaultRunnerConfig()
	br := browser.DefaultConfig()

	v.SetDefault("crawler.concurrency", sched.Concurrency)
	v.SetDefault("crawler.max_retries", rp.MaxRetries)
	v.SetDefault("crawler.base_timeout", rp.BaseTimeout)
	v.SetDefault("crawler.backoff_unit", rp.BackoffUnit)
	v.SetDefault("crawler.backoff_jitter", rp.BackoffJitter)
	v.SetDefault("crawler.checkpoint_interval", orch.CheckpointInterval)
	v.SetDefault("crawler.stagger_base", sched.StaggerBase)
	v.SetDefault("crawler.stagger_jitter", sched.StaggerJitter)
	v.SetDefault("crawler.inter_batch_delay", sched.InterBatchDelay)
	v.SetDefault("crawler.inter_batch_jitter", sched.InterBatchJitter)
	v.SetDefault("crawler.launch_rate", 0)
	v.SetDefault("crawler.launch_burst", 1)
	v.SetDefault("crawler.inter_query_delay", runner.InterQueryDelay)
	v.SetDefault("crawler.pause_poll_interval", orch.PausePollInterval)

	v.SetDefault("browser.headless", br.Headless)
	v.SetDefault("browser.user_agent", br.UserAgent)
	v.SetDefault("browser.locale", br.Locale)
	v.SetDefault("browser.timezone", br.Timezone)
	v.SetDefault("browser.window_width", br.WindowWidth)
	v.SetDefault("browser.window_height", br.WindowHeight)
	v.SetDefault("browser.search_url", br.SearchURL)
	v.SetDefault("browser.feed_timeout", br.FeedTimeout)
	v.SetDefault("browser.scroll_rounds", br.ScrollRounds)
	v.SetDefault("browser.scroll_pause", br.ScrollPause)
	v.SetDefault("browser.stall_rounds", br.StallRounds)
	v.SetDefault("browser.max_items", br.MaxItems)
	v.SetDefault("browser.name_wait", br.NameWait)
	v.SetDefault("browser.settle", br.Settle)

	v.SetDefault("checkpoint.backend", BackendLocal)
	v.SetDefault("checkpoint.dir", "checkpoints")
	v.SetDefault("checkpoint.postgres.table", "crawl_checkpoints")
	v.SetDefault("checkpoint.postgres.max_conns", 4)
	v.SetDefault("checkpoint.postgres.min_conns", 0)
	v.SetDefault("checkpoint.postgres.auto_migrate", true)

	v.SetDefault("export.dir", ".")
	v.SetDefault("export.filename", runner.OutputName)
	v.SetDefault("export.formats", []string{"json"})
	v.SetDefault("export.per_job", runner.PerJobExport)

	v.SetDefault("control.stdin", true)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.SchedulerConfig().Validate(); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	if err := c.RetryConfig().Validate(); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	if c.Crawler.CheckpointInterval <= 0 {
		return fmt.Errorf("crawler.checkpoint_interval must be > 0")
	}
	if c.Crawler.PausePollInterval <= 0 {
		return fmt.Errorf("crawler.pause_poll_interval must be > 0")
	}
	if c.Crawler.InterQueryDelay < 0 {
		return fmt.Errorf("crawler.inter_query_delay must be >= 0")
	}
	if err := c.BrowserConfig().Validate(); err != nil {
		return fmt.Errorf("browser: %w", err)
	}
	switch c.Checkpoint.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.Checkpoint.Dir) == "" {
			return fmt.Errorf("checkpoint.dir is required for the local backend")
		}
	case BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(c.Checkpoint.Postgres.DSN) == "" {
			return fmt.Errorf("checkpoint.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("checkpoint.backend %q is not one of local, memory, postgres", c.Checkpoint.Backend)
	}
	if strings.TrimSpace(c.Export.Filename) == "" {
		return fmt.Errorf("export.filename is required")
	}
	if _, err := export.Encoders(c.Export.Formats); err != nil {
		return fmt.Errorf("export.formats: %w", err)
	}
	if c.Notify.Enabled() && c.Notify.ProjectID == "" {
		return fmt.Errorf("notify.project_id must be set when notify.topic is set")
	}
	return nil
}

// SchedulerConfig maps crawler settings onto the batch scheduler.
func (c Config) SchedulerConfig() scheduler.Config {
	return scheduler.Config{
		Concurrency:      c.Crawler.Concurrency,
		StaggerBase:      c.Crawler.StaggerBase,
		StaggerJitter:    c.Crawler.StaggerJitter,
		InterBatchDelay:  c.Crawler.InterBatchDelay,
		InterBatchJitter: c.Crawler.InterBatchJitter,
		LaunchRate:       c.Crawler.LaunchRate,
		LaunchBurst:      c.Crawler.LaunchBurst,
	}
}

// RetryConfig maps crawler settings onto the retry policy.
func (c Config) RetryConfig() retry.Config {
	return retry.Config{
		MaxRetries:    c.Crawler.MaxRetries,
		BaseTimeout:   c.Crawler.BaseTimeout,
		BackoffUnit:   c.Crawler.BackoffUnit,
		BackoffJitter: c.Crawler.BackoffJitter,
	}
}

// OrchestratorConfig maps crawler settings onto the per-job state machine.
func (c Config) OrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		CheckpointInterval: c.Crawler.CheckpointInterval,
		PausePollInterval:  c.Crawler.PausePollInterval,
	}
}

// RunnerConfig maps crawler, export and notify settings onto the job runner.
func (c Config) RunnerConfig() orchestrator.RunnerConfig {
	return orchestrator.RunnerConfig{
		InterQueryDelay: c.Crawler.InterQueryDelay,
		OutputName:      c.Export.Filename,
		PerJobExport:    c.Export.PerJob,
		Topic:           c.Notify.Topic,
	}
}

// BrowserConfig maps browser settings onto the chromedp session.
func (c Config) BrowserConfig() browser.Config {
	b := c.Browser
	return browser.Config{
		Headless:     b.Headless,
		ExecPath:     b.ExecPath,
		UserAgent:    b.UserAgent,
		Locale:       b.Locale,
		Timezone:     b.Timezone,
		WindowWidth:  b.WindowWidth,
		WindowHeight: b.WindowHeight,
		SearchURL:    b.SearchURL,
		FeedTimeout:  b.FeedTimeout,
		ScrollRounds: b.ScrollRounds,
		ScrollPause:  b.ScrollPause,
		StallRounds:  b.StallRounds,
		MaxItems:     b.MaxItems,
		NameWait:     b.NameWait,
		Settle:       b.Settle,
	}
}
