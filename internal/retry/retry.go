package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Default retry configuration constants.
const (
	// DefaultMaxAttempts is the default number of attempts, including the first call.
	DefaultMaxAttempts = 3

	// DefaultInitialBackoff is the default initial backoff duration.
	DefaultInitialBackoff = 100 * time.Millisecond

	// DefaultMaxBackoff is the default maximum backoff duration.
	DefaultMaxBackoff = 2 * time.Second

	// DefaultJitterFactor is the default jitter factor (25%).
	DefaultJitterFactor = 0.25

	// MaxJitterFactor is the maximum allowed jitter factor.
	MaxJitterFactor = 1.0
)

// Config contains retry configuration parameters.
type Config struct {
	// MaxAttempts is the total number of calls made before giving up.
	// A value of 1 disables retrying. Values below 1 use the default.
	MaxAttempts int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps any single wait.
	MaxBackoff time.Duration

	// JitterFactor adds up to this fraction of randomness to each wait.
	JitterFactor float64
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		JitterFactor:   DefaultJitterFactor,
	}
}

// GetMaxAttempts returns the effective number of attempts.
func (c *Config) GetMaxAttempts() int {
	if c == nil || c.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

// GetInitialBackoff returns the effective initial backoff.
func (c *Config) GetInitialBackoff() time.Duration {
	if c == nil || c.InitialBackoff <= 0 {
		return DefaultInitialBackoff
	}
	return c.InitialBackoff
}

// GetMaxBackoff returns the effective max backoff.
func (c *Config) GetMaxBackoff() time.Duration {
	if c == nil || c.MaxBackoff <= 0 {
		return DefaultMaxBackoff
	}
	return c.MaxBackoff
}

// GetJitterFactor returns the effective jitter factor.
func (c *Config) GetJitterFactor() float64 {
	if c == nil || c.JitterFactor < 0 {
		return DefaultJitterFactor
	}
	if c.JitterFactor > MaxJitterFactor {
		return MaxJitterFactor
	}
	return c.JitterFactor
}

// Func is an operation that can be retried. It receives the caller's context.
type Func func(ctx context.Context) error

// ShouldRetryFunc determines if an error should trigger a retry.
type ShouldRetryFunc func(error) bool

// OnRetryFunc is called before each retry attempt.
type OnRetryFunc func(attempt int, err error, backoff time.Duration)

// Options contains optional retry behavior configuration.
type Options struct {
	// ShouldRetry determines if an error should trigger a retry.
	// If nil, all errors are retried.
	ShouldRetry ShouldRetryFunc

	// OnRetry is called before each retry attempt.
	OnRetry OnRetryFunc
}

// Do calls fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. When ctx ends during a backoff wait the last error
// from fn is returned, so callers always see the failure that caused the
// wait rather than a bare context error. ctx.Err() is returned only when
// the context ended before fn was ever called.
func Do(ctx context.Context, cfg *Config, fn Func, opts *Options) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	maxAttempts := cfg.GetMaxAttempts()
	initialBackoff := cfg.GetInitialBackoff()
	maxBackoff := cfg.GetMaxBackoff()
	jitterFactor := cfg.GetJitterFactor()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if opts != nil && opts.ShouldRetry != nil && !opts.ShouldRetry(lastErr) {
			return lastErr
		}

		if attempt == maxAttempts-1 {
			break
		}

		backoff := CalculateBackoff(attempt, initialBackoff, maxBackoff, jitterFactor)
		if opts != nil && opts.OnRetry != nil {
			opts.OnRetry(attempt+1, lastErr, backoff)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}

// CalculateBackoff calculates the backoff duration for a given attempt.
func CalculateBackoff(attempt int, initialBackoff, maxBackoff time.Duration, jitterFactor float64) time.Duration {
	backoff := float64(initialBackoff) * math.Pow(2, float64(attempt))

	//nolint:gosec // G404: jitter for retry timing is not security-sensitive
	backoff += backoff * jitterFactor * rand.Float64()

	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	return time.Duration(backoff)
}
