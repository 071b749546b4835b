// Package config loads and validates the coordinator configuration from YAML
// with optional .env overrides.
package config

// Config is the root configuration for the coordinator daemon.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Store     StoreConfig     `yaml:"store"`
	Notify    NotifyConfig    `yaml:"notify"`
	Server    ServerConfig    `yaml:"server"`
	Verbose   bool            `yaml:"verbose,omitempty"`
}

// SchedulerConfig describes the remote task-execution service and the retry
// behaviour applied to transport failures when talking to it.
type SchedulerConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token,omitempty"`

	// Request timeout per attempt, duration string (default 30s).
	RequestTimeout string `yaml:"request_timeout,omitempty"`

	MaxRetries        int              `yaml:"max_retries,omitempty"`         // retry attempts after the first failure (default 2)
	RetryBackoff      RetryBackoffMode `yaml:"retry_backoff,omitempty"`       // fixed|linear|exponential (default exponential)
	RetryInitialDelay string           `yaml:"retry_initial_delay,omitempty"` // duration string (default 1s)
	RetryMaxDelay     string           `yaml:"retry_max_delay,omitempty"`     // cap for growth (default 30s)
}

// ReconcileConfig controls the periodic reconciliation loop.
type ReconcileConfig struct {
	// Interval between reconciliation ticks, duration string (default 1m).
	Interval string `yaml:"interval,omitempty"`
	Enabled  *bool  `yaml:"enabled,omitempty"` // default true
}

// StoreConfig describes the SQLite datastore and status event journal.
type StoreConfig struct {
	Path        string `yaml:"path,omitempty"`         // default ./buildcoord.db
	JournalPath string `yaml:"journal_path,omitempty"` // default ./buildcoord-events.db
}

// NotifyConfig configures the optional NATS fan-out of status events.
type NotifyConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	URL     string `yaml:"url,omitempty"`     // NATS server URL
	Subject string `yaml:"subject,omitempty"` // default buildcoord.status
	Stream  string `yaml:"stream,omitempty"`  // default BUILDCOORD
}

// ServerConfig configures the HTTP callback/metrics listener.
type ServerConfig struct {
	Listen string `yaml:"listen,omitempty"` // default :8844
}
