// Package config provides configuration management for Vesper.
package config

import (
	"time"
)

// Config is the root configuration structure for Vesper.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Permissions PermissionsConfig `mapstructure:"permissions"`
	Transport   TransportConfig   `mapstructure:"transport"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout in milliseconds
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig holds task scheduler settings.
type SchedulerConfig struct {
	// Beat is the runner cadence as a standard cron expression
	Beat string `mapstructure:"beat"`

	// Maximum enabled tasks per user
	MaxTasksPerUser int `mapstructure:"max_tasks_per_user"`

	// Lookback window for duplicate-run suppression
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`

	// Maximum due tasks processed per tick
	BatchSize int `mapstructure:"batch_size"`
}

// PermissionsConfig holds permission broker settings.
type PermissionsConfig struct {
	// TTL for pending permission request keys
	RequestTTL time.Duration `mapstructure:"request_ttl"`

	// Default wait timeout for a permission response
	AwaitTimeout time.Duration `mapstructure:"await_timeout"`

	// Path to the approval policy file (optional)
	PolicyPath string `mapstructure:"policy_path"`

	// Reload the policy file when it changes
	WatchPolicy bool `mapstructure:"watch_policy"`
}

// TransportConfig holds keyed storage and pub/sub transport settings.
type TransportConfig struct {
	// Backend selects the transport: "memory" or "redis"
	Backend string `mapstructure:"backend"`

	// Redis settings (used when backend is "redis")
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Server address (host:port)
	Addr string `mapstructure:"addr"`

	// Password (optional)
	Password string `mapstructure:"password"`

	// Database number
	DB int `mapstructure:"db"`
}

// AuthConfig holds token settings.
type AuthConfig struct {
	// Chat-scoped token configuration
	Token TokenConfig `mapstructure:"token"`
}

// TokenConfig holds chat-scoped token settings.
type TokenConfig struct {
	// Secret key for signing tokens (required, min 32 chars)
	Secret string `mapstructure:"secret"`

	// Token lifetime
	TTL time.Duration `mapstructure:"ttl"`

	// Token issuer claim
	Issuer string `mapstructure:"issuer"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	// Enable the /metrics listener
	Enabled bool `mapstructure:"enabled"`

	// Listen address for the metrics endpoint
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (trace, debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Output format (console, json)
	Format string `mapstructure:"format"`

	// Include caller information
	Caller bool `mapstructure:"caller"`

	// Include timestamps
	Timestamp bool `mapstructure:"timestamp"`
}
