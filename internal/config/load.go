package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads, defaults, and validates a configuration file. A missing .env
// file is not an error; values already present in the process environment are
// never overridden.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	ApplyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides lets deployment environments override secrets and
// endpoints without editing the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BUILDCOORD_SCHEDULER_URL"); v != "" {
		cfg.Scheduler.BaseURL = v
	}
	if v := os.Getenv("BUILDCOORD_SCHEDULER_TOKEN"); v != "" {
		cfg.Scheduler.Token = v
	}
	if v := os.Getenv("BUILDCOORD_NATS_URL"); v != "" {
		cfg.Notify.URL = v
	}
	if v := os.Getenv("BUILDCOORD_LISTEN"); v != "" {
		cfg.Server.Listen = v
	}
}

// ApplyDefaults fills zero values with working defaults. Exported so tests
// can construct minimal configs the same way Load does.
func ApplyDefaults(cfg *Config) {
	if cfg.Scheduler.RequestTimeout == "" {
		cfg.Scheduler.RequestTimeout = "30s"
	}
	if cfg.Scheduler.MaxRetries == 0 {
		cfg.Scheduler.MaxRetries = 2
	}
	if cfg.Scheduler.RetryBackoff == "" {
		cfg.Scheduler.RetryBackoff = RetryBackoffExponential
	} else {
		cfg.Scheduler.RetryBackoff = NormalizeRetryBackoff(string(cfg.Scheduler.RetryBackoff))
		if cfg.Scheduler.RetryBackoff == "" {
			cfg.Scheduler.RetryBackoff = RetryBackoffExponential
		}
	}
	if cfg.Scheduler.RetryInitialDelay == "" {
		cfg.Scheduler.RetryInitialDelay = "1s"
	}
	if cfg.Scheduler.RetryMaxDelay == "" {
		cfg.Scheduler.RetryMaxDelay = "30s"
	}
	if cfg.Reconcile.Interval == "" {
		cfg.Reconcile.Interval = "1m"
	}
	if cfg.Reconcile.Enabled == nil {
		t := true
		cfg.Reconcile.Enabled = &t
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./buildcoord.db"
	}
	if cfg.Store.JournalPath == "" {
		cfg.Store.JournalPath = "./buildcoord-events.db"
	}
	if cfg.Notify.Subject == "" {
		cfg.Notify.Subject = "buildcoord.status"
	}
	if cfg.Notify.Stream == "" {
		cfg.Notify.Stream = "BUILDCOORD"
	}
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8844"
	}
}

// Validate checks invariants that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Scheduler.BaseURL == "" {
		return fmt.Errorf("scheduler.base_url is required")
	}
	if _, err := time.ParseDuration(c.Scheduler.RequestTimeout); err != nil {
		return fmt.Errorf("scheduler.request_timeout: %w", err)
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries cannot be negative")
	}
	if _, err := time.ParseDuration(c.Scheduler.RetryInitialDelay); err != nil {
		return fmt.Errorf("scheduler.retry_initial_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.Scheduler.RetryMaxDelay); err != nil {
		return fmt.Errorf("scheduler.retry_max_delay: %w", err)
	}
	if _, err := time.ParseDuration(c.Reconcile.Interval); err != nil {
		return fmt.Errorf("reconcile.interval: %w", err)
	}
	if c.Notify.Enabled && c.Notify.URL == "" {
		return fmt.Errorf("notify.url is required when notify.enabled is true")
	}
	return nil
}

// ReconcileInterval returns the parsed reconciliation interval. Validate
// guarantees the string parses; a zero duration is returned otherwise.
func (c *Config) ReconcileInterval() time.Duration {
	d, _ := time.ParseDuration(c.Reconcile.Interval)
	return d
}

// SchedulerRequestTimeout returns the parsed per-attempt request timeout.
func (c *Config) SchedulerRequestTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.RequestTimeout)
	return d
}

// SchedulerRetryDelays returns the parsed initial and max retry delays.
func (c *Config) SchedulerRetryDelays() (initial, max time.Duration) {
	initial, _ = time.ParseDuration(c.Scheduler.RetryInitialDelay)
	max, _ = time.ParseDuration(c.Scheduler.RetryMaxDelay)
	return initial, max
}
