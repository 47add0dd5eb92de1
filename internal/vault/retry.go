package vault

import (
	"context"
	"errors"
	"time"

	"github.com/vyrodovalexey/secretgw/internal/observability"
	"github.com/vyrodovalexey/secretgw/internal/retry"
)

// toRetryConfig converts a vault RetryConfig to an internal retry.Config.
func toRetryConfig(cfg *RetryConfig) *retry.Config {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &retry.Config{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.BackoffBase,
		MaxBackoff:     cfg.BackoffMax,
		JitterFactor:   retry.DefaultJitterFactor,
	}
}

// withRetry runs an idempotent operation, repeating it on transient
// failures only. A context that ended before the first attempt is reported
// as a connectivity error, like one that ends during a call.
func (c *vaultClient) withRetry(ctx context.Context, op string, fn retry.Func) error {
	cfg := c.retry
	err := retry.Do(ctx, cfg, fn, &retry.Options{
		ShouldRetry: IsRetryable,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			c.metrics.RecordRetry(op)
			c.logger.WithContext(ctx).Debug("retrying vault operation",
				observability.String("operation", op),
				observability.Int("attempt", attempt),
				observability.Int("max_attempts", cfg.GetMaxAttempts()),
				observability.Duration("backoff", backoff),
				observability.String("kind", string(KindOf(err))),
			)
		},
	})
	var vErr *Error
	if err != nil && !errors.As(err, &vErr) &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return newError(KindConnectivity, "", "", err)
	}
	return err
}
