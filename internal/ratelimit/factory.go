package ratelimit

import (
	"context"

	"github.com/vyrodovalexey/secretgw/internal/observability"
)

// New creates the limiter described by cfg. A nil or disabled cfg yields a
// NoopLimiter.
func New(ctx context.Context, cfg *Config, logger observability.Logger, metrics *Metrics) (Limiter, error) {
	if cfg == nil || !cfg.Enabled {
		return NewNoopLimiter(), nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	switch cfg.Backend {
	case BackendRedis:
		l, err := NewRedisLimiter(ctx, cfg.Limit, cfg.Redis, logger, metrics)
		if err != nil {
			return nil, err
		}
		logger.Info("redis rate limiter created",
			observability.String("address", cfg.Redis.Address),
			observability.Int("requests", cfg.Limit.Requests),
			observability.Duration("window", cfg.Limit.Window),
			observability.Bool("fallback_enabled", cfg.Redis.FallbackEnabled),
		)
		return l, nil
	default:
		logger.Info("local rate limiter created",
			observability.Int("requests", cfg.Limit.Requests),
			observability.Duration("window", cfg.Limit.Window),
			observability.Int("burst", cfg.Limit.burst()),
		)
		return NewLocalLimiter(cfg.Limit, logger, metrics), nil
	}
}
