package config

import "time"

// Default configuration values.
const (
	// Database defaults.
	DefaultDBPath       = "vesper.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Scheduler defaults.
	DefaultBeat            = "*/2 * * * *"
	DefaultMaxTasksPerUser = 10
	DefaultDuplicateWindow = 2 * time.Minute
	DefaultBatchSize       = 100

	// Permission defaults.
	DefaultRequestTTL   = 5 * time.Minute
	DefaultAwaitTimeout = 5 * time.Minute

	// Auth defaults.
	DefaultTokenTTL    = time.Hour
	DefaultTokenIssuer = "vesper"

	// Metrics defaults.
	DefaultMetricsAddr = "localhost:9108"

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: time.Hour,
		},
		Scheduler: SchedulerConfig{
			Beat:            DefaultBeat,
			MaxTasksPerUser: DefaultMaxTasksPerUser,
			DuplicateWindow: DefaultDuplicateWindow,
			BatchSize:       DefaultBatchSize,
		},
		Permissions: PermissionsConfig{
			RequestTTL:   DefaultRequestTTL,
			AwaitTimeout: DefaultAwaitTimeout,
			WatchPolicy:  true,
		},
		Transport: TransportConfig{
			Backend: "memory",
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Auth: AuthConfig{
			Token: TokenConfig{
				TTL:    DefaultTokenTTL,
				Issuer: DefaultTokenIssuer,
			},
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    DefaultMetricsAddr,
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
	}
}
