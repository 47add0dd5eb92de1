package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/secretgw/internal/observability"
)

// ErrRedisUnavailable is returned when Redis fails and no fallback is set.
var ErrRedisUnavailable = errors.New("ratelimit: redis is unavailable")

// fixedWindowScript counts requests per window atomically.
// KEYS[1] = key, ARGV = limit, window_ms, now_ms.
// Returns {allowed (0 or 1), remaining, reset_ms}.
var fixedWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])

	local window_start = math.floor(now / window_ms) * window_ms
	local window_key = key .. ':' .. window_start

	local count = tonumber(redis.call('GET', window_key) or '0')

	local allowed = 0
	if count + 1 <= limit then
		count = redis.call('INCR', window_key)
		if count == 1 then
			redis.call('PEXPIRE', window_key, window_ms)
		end
		allowed = 1
	end

	return {allowed, limit - count, window_start + window_ms - now}
`)

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Address  string
	Password string
	DB       int

	// Prefix is prepended to every key.
	Prefix string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// FallbackEnabled serves decisions from a local bucket while Redis
	// fails. When false such requests fail with ErrRedisUnavailable.
	FallbackEnabled bool
}

// DefaultRedisConfig returns a RedisConfig with default values.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Address:         "localhost:6379",
		Prefix:          "secretgw:ratelimit:",
		DialTimeout:     2 * time.Second,
		ReadTimeout:     500 * time.Millisecond,
		WriteTimeout:    500 * time.Millisecond,
		FallbackEnabled: true,
	}
}

// RedisLimiter is a fixed-window limiter shared through Redis.
type RedisLimiter struct {
	client   redis.UniversalClient
	prefix   string
	cb       *gobreaker.CircuitBreaker
	fallback *LocalLimiter
	logger   observability.Logger
	metrics  *Metrics
	now      func() time.Time

	mu    sync.RWMutex
	limit Limit
}

// NewRedisLimiter connects to Redis and returns a limiter. An unreachable
// Redis at startup is logged, not fatal, when fallback is enabled.
func NewRedisLimiter(
	ctx context.Context,
	limit Limit,
	cfg *RedisConfig,
	logger observability.Logger,
	metrics *Metrics,
) (*RedisLimiter, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   -1,
	})

	l, err := newRedisLimiterWithClient(client, limit, cfg, logger, metrics)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	if err := client.Ping(ctx).Err(); err != nil {
		if l.fallback == nil {
			_ = l.Close()
			return nil, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
		}
		l.logger.Warn("redis unreachable at startup, using local fallback", observability.Error(err))
	}

	return l, nil
}

func newRedisLimiterWithClient(
	client redis.UniversalClient,
	limit Limit,
	cfg *RedisConfig,
	logger observability.Logger,
	metrics *Metrics,
) (*RedisLimiter, error) {
	if err := limit.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.With(observability.String("component", "ratelimit"))

	l := &RedisLimiter{
		client:  client,
		prefix:  cfg.Prefix,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		limit:   limit,
	}

	l.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "redis-ratelimit",
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.logger.Warn("redis rate limiter circuit breaker state change",
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	})

	if cfg.FallbackEnabled {
		l.fallback = NewLocalLimiter(limit, logger, metrics)
	}

	return l, nil
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	limit := l.Limit()

	out, err := l.cb.Execute(func() (interface{}, error) {
		return l.allowRedis(ctx, key, limit)
	})
	if err == nil {
		res, _ := out.(*Result)
		l.metrics.RecordDecision(BackendRedis, res.Allowed)
		return res, nil
	}

	if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		l.metrics.RecordRedisError()
	}

	if l.fallback == nil {
		return nil, fmt.Errorf("%w: %w", ErrRedisUnavailable, err)
	}

	l.logger.Debug("redis rate limit failed, using local fallback",
		observability.String("key", key),
		observability.Error(err),
	)
	l.metrics.RecordFallback()
	return l.fallback.Allow(ctx, key)
}

func (l *RedisLimiter) allowRedis(ctx context.Context, key string, limit Limit) (*Result, error) {
	raw, err := fixedWindowScript.Run(ctx, l.client,
		[]string{l.prefix + key},
		limit.Requests,
		limit.Window.Milliseconds(),
		l.now().UnixMilli(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("fixed window script: %w", err)
	}
	return parseScriptResult(raw, limit.Requests)
}

// parseScriptResult decodes {allowed, remaining, reset_ms}.
func parseScriptResult(raw interface{}, limit int) (*Result, error) {
	values, ok := raw.([]interface{})
	if !ok || len(values) < 3 {
		return nil, fmt.Errorf("unexpected script result %v", raw)
	}

	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	resetMs, _ := values[2].(int64)
	if remaining < 0 {
		remaining = 0
	}

	res := &Result{
		Allowed:   allowed == 1,
		Limit:     limit,
		Remaining: int(remaining),
	}
	if !res.Allowed {
		res.RetryAfter = time.Duration(resetMs) * time.Millisecond
	}
	return res, nil
}

// Limit implements Limiter.
func (l *RedisLimiter) Limit() Limit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limit
}

// SetLimit implements Limiter. The new budget applies from the next window
// check; counts in the current window are kept.
func (l *RedisLimiter) SetLimit(limit Limit) {
	l.mu.Lock()
	l.limit = limit
	l.mu.Unlock()

	if l.fallback != nil {
		l.fallback.SetLimit(limit)
	}
}

// State returns the Redis circuit breaker state.
func (l *RedisLimiter) State() gobreaker.State {
	return l.cb.State()
}

// Close closes the Redis client and the fallback.
func (l *RedisLimiter) Close() error {
	if l.fallback != nil {
		_ = l.fallback.Close()
	}
	return l.client.Close()
}

var _ Limiter = (*RedisLimiter)(nil)
