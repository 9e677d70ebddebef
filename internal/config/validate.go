package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate checks the configuration for invalid or missing values.
func Validate(cfg *Config) error {
	if cfg.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrMissingRequired)
	}

	if cfg.Scheduler.Beat != "" {
		if _, err := cron.ParseStandard(cfg.Scheduler.Beat); err != nil {
			return fmt.Errorf("%w: scheduler.beat: %v", ErrInvalidConfig, err)
		}
	}

	if cfg.Scheduler.MaxTasksPerUser <= 0 {
		return fmt.Errorf("%w: scheduler.max_tasks_per_user must be positive", ErrInvalidConfig)
	}

	if cfg.Permissions.RequestTTL <= 0 {
		return fmt.Errorf("%w: permissions.request_ttl must be positive", ErrInvalidConfig)
	}

	switch cfg.Transport.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: transport.backend must be \"memory\" or \"redis\"", ErrInvalidConfig)
	}

	if cfg.Transport.Backend == "redis" && cfg.Transport.Redis.Addr == "" {
		return fmt.Errorf("%w: transport.redis.addr is required", ErrMissingRequired)
	}

	if cfg.Auth.Token.Secret != "" && len(cfg.Auth.Token.Secret) < 32 {
		return fmt.Errorf("%w: auth.token.secret must be at least 32 characters", ErrInvalidConfig)
	}

	switch cfg.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: logging.level %q is not valid", ErrInvalidConfig, cfg.Logging.Level)
	}

	return nil
}
