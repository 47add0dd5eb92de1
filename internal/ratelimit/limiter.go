// Package ratelimit limits inbound gateway requests per key.
//
// Two backends exist: a local token bucket per key (golang.org/x/time/rate)
// and a Redis fixed window shared by all gateway instances, which falls back
// to the local bucket while Redis is unreachable.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Limiter decides whether a request identified by key may proceed.
type Limiter interface {
	// Allow consumes one request for key.
	Allow(ctx context.Context, key string) (*Result, error)

	// Limit returns the limit currently applied.
	Limit() Limit

	// SetLimit replaces the limit for all keys. State already accumulated
	// for a key is kept.
	SetLimit(limit Limit)

	// Close releases background resources.
	Close() error
}

// Limit is a request budget.
type Limit struct {
	// Requests is the number of requests allowed per Window.
	Requests int

	// Window is the period the budget refills over.
	Window time.Duration

	// Burst is the local bucket size. Zero means Requests.
	Burst int
}

// Validate checks that the limit is usable.
func (l Limit) Validate() error {
	if l.Requests < 1 {
		return errors.New("requests must be at least 1")
	}
	if l.Window <= 0 {
		return errors.New("window must be positive")
	}
	if l.Burst < 0 {
		return errors.New("burst cannot be negative")
	}
	return nil
}

// burst returns the effective bucket size.
func (l Limit) burst() int {
	if l.Burst > 0 {
		return l.Burst
	}
	return l.Requests
}

// perSecond returns the refill rate.
func (l Limit) perSecond() float64 {
	return float64(l.Requests) / l.Window.Seconds()
}

// Result is the outcome of a limit check.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool

	// Limit is the budget size the decision was made against.
	Limit int

	// Remaining is the budget left after this request.
	Remaining int

	// RetryAfter is how long to wait before retrying when not allowed.
	RetryAfter time.Duration
}

// Backend selects the limiter implementation.
type Backend string

// Backends.
const (
	BackendLocal Backend = "local"
	BackendRedis Backend = "redis"
)

// NoopLimiter allows every request.
type NoopLimiter struct{}

// NewNoopLimiter creates a new noop limiter.
func NewNoopLimiter() *NoopLimiter {
	return &NoopLimiter{}
}

// Allow implements Limiter.
func (l *NoopLimiter) Allow(context.Context, string) (*Result, error) {
	return &Result{Allowed: true}, nil
}

// Limit implements Limiter.
func (l *NoopLimiter) Limit() Limit {
	return Limit{}
}

// SetLimit implements Limiter.
func (l *NoopLimiter) SetLimit(Limit) {}

// Close implements Limiter.
func (l *NoopLimiter) Close() error {
	return nil
}

// Config selects and configures a limiter.
type Config struct {
	Enabled bool
	Backend Backend
	Limit   Limit

	// Redis is required for BackendRedis.
	Redis *RedisConfig
}

// Validate checks the configuration. A disabled config is always valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if err := c.Limit.Validate(); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	switch c.Backend {
	case "", BackendLocal:
		return nil
	case BackendRedis:
		if c.Redis == nil || c.Redis.Address == "" {
			return errors.New("rate limit: redis address is required for the redis backend")
		}
		return nil
	default:
		return fmt.Errorf("rate limit: unknown backend %q", c.Backend)
	}
}

var _ Limiter = (*NoopLimiter)(nil)
