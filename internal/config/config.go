// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Subprocess SubprocessConfig `mapstructure:"subprocess"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Push       PushConfig       `mapstructure:"push"`
	Harvest    HarvestConfig    `mapstructure:"harvest"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls the serve-mode HTTP endpoint.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// DatabaseConfig controls the Postgres pool.
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// FetchConfig governs the HTTP transport and per-domain pacing.
type FetchConfig struct {
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	MinDelayMs     int    `mapstructure:"min_delay_ms"`
	MaxDelayMs     int    `mapstructure:"max_delay_ms"`
}

// SubprocessConfig governs the external fetch binary fallback.
type SubprocessConfig struct {
	Binary         string   `mapstructure:"binary"`
	ExtraArgs      []string `mapstructure:"extra_args"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	MaxParallel    int      `mapstructure:"max_parallel"`
}

// ExtractorConfig points at the structured-extraction service.
type ExtractorConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PushConfig carries the delivery webhook plus every rate-limit knob in
// the governor cascade. All caps are env-overridable via the HARVESTER_
// prefix (e.g. HARVESTER_PUSH_RUN_CAP).
type PushConfig struct {
	WebhookURL        string `mapstructure:"webhook_url"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
	SendsPerMinute    int    `mapstructure:"sends_per_minute"`
	BigBatchThreshold int    `mapstructure:"big_batch_threshold"`
	PerTaskCap        int    `mapstructure:"per_task_cap"`
	WindowMinutes     int    `mapstructure:"window_minutes"`
	WindowCap         int    `mapstructure:"window_cap"`
	RunCap            int    `mapstructure:"run_cap"`
}

// HarvestConfig holds pipeline-level policy knobs.
type HarvestConfig struct {
	MaxPushAgeDays int `mapstructure:"max_push_age_days"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.interval_minutes", 30)
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_lifetime_minutes", 30)
	v.SetDefault("fetch.user_agent", "schoolwatch-harvester/0.1")
	v.SetDefault("fetch.timeout_seconds", 20)
	v.SetDefault("fetch.max_body_bytes", 4<<20)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("fetch.min_delay_ms", 1000)
	v.SetDefault("fetch.max_delay_ms", 3000)
	v.SetDefault("subprocess.binary", "curl")
	v.SetDefault("subprocess.timeout_seconds", 30)
	v.SetDefault("subprocess.max_parallel", 3)
	v.SetDefault("extractor.model", "gpt-4o-mini")
	v.SetDefault("extractor.timeout_seconds", 60)
	v.SetDefault("push.timeout_seconds", 10)
	v.SetDefault("push.sends_per_minute", 18)
	v.SetDefault("push.big_batch_threshold", 50)
	v.SetDefault("push.per_task_cap", 10)
	v.SetDefault("push.window_minutes", 10)
	v.SetDefault("push.window_cap", 10)
	v.SetDefault("push.run_cap", 10)
	v.SetDefault("harvest.max_push_age_days", 30)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MinDelayMs <= 0 || c.Fetch.MaxDelayMs < c.Fetch.MinDelayMs {
		return fmt.Errorf("fetch delay bounds must satisfy 0 < min_delay_ms <= max_delay_ms")
	}
	if c.Subprocess.MaxParallel <= 0 {
		return fmt.Errorf("subprocess.max_parallel must be > 0")
	}
	if c.Push.BigBatchThreshold <= 0 || c.Push.PerTaskCap <= 0 ||
		c.Push.WindowMinutes <= 0 || c.Push.WindowCap <= 0 || c.Push.RunCap <= 0 {
		return fmt.Errorf("push caps must all be > 0")
	}
	if c.Harvest.MaxPushAgeDays <= 0 {
		return fmt.Errorf("harvest.max_push_age_days must be > 0")
	}
	return nil
}

// FetchTimeout converts the configured seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}

// MaxPushAge is the oldest effective publish date still eligible for push.
func (c Config) MaxPushAge() time.Duration {
	return time.Duration(c.Harvest.MaxPushAgeDays) * 24 * time.Hour
}
