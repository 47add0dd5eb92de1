package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/secretgw/internal/observability"
)

const (
	defaultCleanupInterval = 5 * time.Minute
	defaultBucketTTL       = 10 * time.Minute
)

// LocalLimiter is an in-memory token bucket per key. Buckets idle for longer
// than the bucket TTL are dropped by a background loop; call Close to stop it.
type LocalLimiter struct {
	logger  observability.Logger
	metrics *Metrics

	mu      sync.Mutex
	limit   Limit
	buckets map[string]*bucket

	cleanupInterval time.Duration
	bucketTTL       time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalLimiter creates a local limiter and starts its cleanup loop.
func NewLocalLimiter(limit Limit, logger observability.Logger, metrics *Metrics) *LocalLimiter {
	return newLocalLimiter(limit, logger, metrics, defaultCleanupInterval, defaultBucketTTL)
}

func newLocalLimiter(
	limit Limit,
	logger observability.Logger,
	metrics *Metrics,
	cleanupInterval, bucketTTL time.Duration,
) *LocalLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}

	l := &LocalLimiter{
		logger:          logger,
		metrics:         metrics,
		limit:           limit,
		buckets:         make(map[string]*bucket),
		cleanupInterval: cleanupInterval,
		bucketTTL:       bucketTTL,
		stopCleanup:     make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Allow implements Limiter.
func (l *LocalLimiter) Allow(_ context.Context, key string) (*Result, error) {
	res := l.allow(key, time.Now())
	l.metrics.RecordDecision(BackendLocal, res.Allowed)
	return res, nil
}

func (l *LocalLimiter) allow(key string, now time.Time) *Result {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(l.limit.perSecond()), l.limit.burst())}
		l.buckets[key] = b
	}
	b.lastSeen = now
	size := l.limit.burst()
	l.mu.Unlock()

	if b.limiter.AllowN(now, 1) {
		return &Result{
			Allowed:   true,
			Limit:     size,
			Remaining: int(b.limiter.TokensAt(now)),
		}
	}

	// Compute the wait without consuming a token.
	r := b.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	if delay <= 0 {
		delay = time.Second
	}

	return &Result{
		Allowed:    false,
		Limit:      size,
		Remaining:  0,
		RetryAfter: delay,
	}
}

// Limit implements Limiter.
func (l *LocalLimiter) Limit() Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limit
}

// SetLimit implements Limiter.
func (l *LocalLimiter) SetLimit(limit Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limit = limit
	now := time.Now()
	for _, b := range l.buckets {
		b.limiter.SetLimitAt(now, rate.Limit(limit.perSecond()))
		b.limiter.SetBurstAt(now, limit.burst())
	}

	l.logger.Info("local rate limit updated",
		observability.Int("requests", limit.Requests),
		observability.Duration("window", limit.Window),
		observability.Int("burst", limit.burst()),
	)
}

// Close stops the cleanup loop. Safe to call multiple times.
func (l *LocalLimiter) Close() error {
	l.cleanupOnce.Do(func() {
		close(l.stopCleanup)
	})
	return nil
}

func (l *LocalLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup(time.Now())
		case <-l.stopCleanup:
			return
		}
	}
}

// cleanup drops buckets not used since now minus the bucket TTL.
func (l *LocalLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.bucketTTL {
			delete(l.buckets, key)
		}
	}
}

// size returns the number of tracked keys.
func (l *LocalLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

var _ Limiter = (*LocalLimiter)(nil)
