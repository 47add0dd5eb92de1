package vault

import (
	"context"
	"errors"
	"net/http"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/secretgw/internal/observability"
)

// BreakerTransport wraps a Transport in a circuit breaker. Only connectivity
// failures and 5xx responses count against the breaker; caller mistakes such
// as 404 or 403 leave it closed.
type BreakerTransport struct {
	next    Transport
	cb      *gobreaker.CircuitBreaker
	logger  observability.Logger
	metrics *Metrics
}

// NewBreakerTransport wraps next according to cfg. A nil or disabled cfg
// returns next unchanged.
func NewBreakerTransport(
	next Transport,
	cfg *CircuitBreakerConfig,
	logger observability.Logger,
	metrics *Metrics,
) Transport {
	if cfg == nil || !cfg.Enabled {
		return next
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	bt := &BreakerTransport{
		next:    next,
		logger:  logger,
		metrics: metrics,
	}

	threshold := safeIntToUint32(cfg.Threshold)
	halfOpen := safeIntToUint32(cfg.HalfOpenRequests)
	if halfOpen == 0 {
		halfOpen = 1
	}

	bt.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "vault",
		MaxRequests: halfOpen,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			bt.logger.Warn("vault circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			bt.metrics.RecordBreakerTransition(from.String(), to.String(), int(to))
		},
	})

	return bt
}

// Do forwards req through the breaker.
func (b *BreakerTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Do(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, newError(KindConnectivity, "", req.Path, errors.Join(ErrCircuitOpen, err))
		}
		return nil, err
	}
	resp, _ := result.(*Response)
	return resp, nil
}

// State returns the current breaker state.
func (b *BreakerTransport) State() gobreaker.State {
	return b.cb.State()
}

// countsAsFailure decides whether err reflects an unhealthy store.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var vErr *Error
	if !errors.As(err, &vErr) {
		return true
	}
	switch vErr.Kind {
	case KindConnectivity:
		return !errors.Is(vErr.Err, context.Canceled)
	case KindStore:
		return vErr.Status >= http.StatusInternalServerError
	default:
		return false
	}
}

// safeIntToUint32 safely converts int to uint32.
func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

var _ Transport = (*BreakerTransport)(nil)
