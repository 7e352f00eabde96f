// Package config loads and validates agent configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	History      HistoryConfig      `mapstructure:"history"`
	PubSub       PubSubConfig       `mapstructure:"pubsub"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Hub          HubConfig          `mapstructure:"hub"`
	Poller       PollerConfig       `mapstructure:"poller"`
	Watchdog     WatchdogConfig     `mapstructure:"watchdog"`
	Logging      LoggingConfig      `mapstructure:"logging"`
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

// OrchestratorConfig governs the worker pool and task queue.
type OrchestratorConfig struct {
	Workers          int `mapstructure:"workers"`
	QueueCapacity    int `mapstructure:"queue_capacity"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
	RetainTasks      int `mapstructure:"retain_tasks"`
	DequeueTimeoutMs int `mapstructure:"dequeue_timeout_ms"`
	SchedulerTickMs  int `mapstructure:"scheduler_tick_ms"`
}

// HistoryConfig controls terminal task persistence.
type HistoryConfig struct {
	Driver  string `mapstructure:"driver"`
	DSN     string `mapstructure:"dsn"`
	MaxRows int    `mapstructure:"max_rows"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelegramConfig configures the Telegram alert channel.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
}

// HubConfig configures the upstream model hub client.
type HubConfig struct {
	BaseURL        string   `mapstructure:"base_url"`
	Token          string   `mapstructure:"token"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	RatePerSecond  int      `mapstructure:"rate_per_second"`
	Burst          int      `mapstructure:"burst"`
	PageSize       int      `mapstructure:"page_size"`
	WatchModels    []string `mapstructure:"watch_models"`
}

// PollerConfig governs the continuous crawl loop.
type PollerConfig struct {
	IntervalSeconds      int `mapstructure:"interval_seconds"`
	MaxConsecutiveErrors int `mapstructure:"max_consecutive_errors"`
	BackoffBaseSeconds   int `mapstructure:"backoff_base_seconds"`
	BackoffMaxSeconds    int `mapstructure:"backoff_max_seconds"`
	CooldownMinutes      int `mapstructure:"cooldown_minutes"`
}

// WatchdogConfig governs process supervision.
type WatchdogConfig struct {
	CheckIntervalSeconds int             `mapstructure:"check_interval_seconds"`
	MaxRestartAttempts   int             `mapstructure:"max_restart_attempts"`
	Services             []ServiceConfig `mapstructure:"services"`
}

// ServiceConfig describes one supervised service.
type ServiceConfig struct {
	Name      string   `mapstructure:"name"`
	HealthURL string   `mapstructure:"health_url"`
	PingDSN   string   `mapstructure:"ping_dsn"`
	Command   string   `mapstructure:"command"`
	Args      []string `mapstructure:"args"`
}

// Restartable reports whether the watchdog may restart this service.
// Services without a command are monitored only.
func (s ServiceConfig) Restartable() bool {
	return s.Command != ""
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HUBAGENT")
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
	v.SetDefault("orchestrator.workers", 4)
	v.SetDefault("orchestrator.queue_capacity", 1000)
	v.SetDefault("orchestrator.max_retries", 3)
	v.SetDefault("orchestrator.backoff_initial_ms", 1000)
	v.SetDefault("orchestrator.backoff_max_ms", 60000)
	v.SetDefault("orchestrator.retain_tasks", 10000)
	v.SetDefault("orchestrator.dequeue_timeout_ms", 1000)
	v.SetDefault("orchestrator.scheduler_tick_ms", 1000)
	v.SetDefault("history.driver", "memory")
	v.SetDefault("history.max_rows", 1000)
	v.SetDefault("hub.base_url", "https://huggingface.co")
	v.SetDefault("hub.timeout_seconds", 30)
	v.SetDefault("hub.rate_per_second", 5)
	v.SetDefault("hub.burst", 10)
	v.SetDefault("hub.page_size", 100)
	v.SetDefault("poller.interval_seconds", 60)
	v.SetDefault("poller.max_consecutive_errors", 5)
	v.SetDefault("poller.backoff_base_seconds", 30)
	v.SetDefault("poller.backoff_max_seconds", 300)
	v.SetDefault("poller.cooldown_minutes", 60)
	v.SetDefault("watchdog.check_interval_seconds", 60)
	v.SetDefault("watchdog.max_restart_attempts", 3)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Orchestrator.Workers <= 0 {
		return fmt.Errorf("orchestrator.workers must be > 0")
	}
	if c.Orchestrator.QueueCapacity <= 0 {
		return fmt.Errorf("orchestrator.queue_capacity must be > 0")
	}
	if c.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must be >= 0")
	}
	if c.Orchestrator.BackoffMaxMs < c.Orchestrator.BackoffInitialMs {
		return fmt.Errorf("orchestrator.backoff_max_ms must be >= backoff_initial_ms")
	}
	switch c.History.Driver {
	case "memory":
	case "postgres":
		if c.History.DSN == "" {
			return fmt.Errorf("history.dsn must be set for the postgres driver")
		}
	default:
		return fmt.Errorf("history.driver must be memory or postgres, got %q", c.History.Driver)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Telegram.Enabled && (c.Telegram.Token == "" || c.Telegram.ChatID == 0) {
		return fmt.Errorf("telegram.token and telegram.chat_id must be set when telegram is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Poller.MaxConsecutiveErrors <= 0 {
		return fmt.Errorf("poller.max_consecutive_errors must be > 0")
	}
	if c.Watchdog.MaxRestartAttempts <= 0 {
		return fmt.Errorf("watchdog.max_restart_attempts must be > 0")
	}
	for _, svc := range c.Watchdog.Services {
		if svc.Name == "" {
			return fmt.Errorf("watchdog.services entries must have a name")
		}
		if svc.HealthURL == "" && svc.PingDSN == "" {
			return fmt.Errorf("watchdog service %q needs a health_url or ping_dsn", svc.Name)
		}
	}
	return nil
}

// BackoffInitial returns the first retry delay as a duration.
func (c OrchestratorConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond
}

// BackoffMax returns the retry delay ceiling as a duration.
func (c OrchestratorConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMs) * time.Millisecond
}

// DequeueTimeout returns the worker dequeue wait as a duration.
func (c OrchestratorConfig) DequeueTimeout() time.Duration {
	return time.Duration(c.DequeueTimeoutMs) * time.Millisecond
}

// SchedulerTick returns the recurring task check cadence as a duration.
func (c OrchestratorConfig) SchedulerTick() time.Duration {
	return time.Duration(c.SchedulerTickMs) * time.Millisecond
}

// Timeout returns the hub HTTP budget as a duration.
func (c HubConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CheckInterval returns the watchdog probe cadence as a duration.
func (c WatchdogConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSeconds) * time.Second
}

// Interval returns the poll cadence as a duration.
func (c PollerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// BackoffBase returns the error backoff unit as a duration.
func (c PollerConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSeconds) * time.Second
}

// BackoffMax returns the error backoff ceiling as a duration.
func (c PollerConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxSeconds) * time.Second
}

// Cooldown returns the pause after repeated failures as a duration.
func (c PollerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}
