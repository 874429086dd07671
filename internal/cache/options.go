package cache

import (
	"log/slog"
	"time"
)

const (
	defaultCapacity      = 16
	defaultSweepInterval = 30 * time.Minute
)

type config struct {
	name          string
	capacity      int
	sweepInterval time.Duration
	maxIdle       time.Duration
	clock         func() time.Time
	logger        *slog.Logger
}

// Option mutates cache configuration.
type Option func(*config)

// WithName labels log lines and metrics produced by this cache.
func WithName(name string) Option {
	return func(cfg *config) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithCapacity sets the maximum number of retained entries.
func WithCapacity(capacity int) Option {
	return func(cfg *config) {
		if capacity > 0 {
			cfg.capacity = capacity
		}
	}
}

// WithSweepInterval sets how often the background sweep runs after Start.
func WithSweepInterval(interval time.Duration) Option {
	return func(cfg *config) {
		if interval > 0 {
			cfg.sweepInterval = interval
		}
	}
}

// WithMaxIdle expires entries untouched for longer than idle during sweeps.
//
// Zero disables idle expiry.
func WithMaxIdle(idle time.Duration) Option {
	return func(cfg *config) {
		if idle >= 0 {
			cfg.maxIdle = idle
		}
	}
}

// WithClock injects the time source used for recency bookkeeping.
func WithClock(clock func() time.Time) Option {
	return func(cfg *config) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithLogger injects the cache logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}
