package vault_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/secretgw/internal/observability"
	"github.com/vyrodovalexey/secretgw/internal/vault"
)

// hangingStore accepts requests and never answers until the caller gives up.
func hangingStore(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })
	return srv, &calls
}

func newHangingClient(t *testing.T, address string, timeout time.Duration, attempts int) vault.Client {
	t.Helper()

	client, err := vault.New(&vault.Config{
		Address: address,
		Token:   "token",
		Timeout: timeout,
		Retry: &vault.RetryConfig{
			MaxAttempts: attempts,
			BackoffBase: time.Millisecond,
			BackoffMax:  5 * time.Millisecond,
		},
		CircuitBreaker: &vault.CircuitBreakerConfig{Enabled: false},
	}, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestTransport_CallTimeout(t *testing.T) {
	t.Parallel()

	const timeout = 100 * time.Millisecond

	srv, calls := hangingStore(t)
	kv := newHangingClient(t, srv.URL, timeout, 1).KV()

	start := time.Now()
	_, err := kv.Get(context.Background(), "team/db")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, vault.KindConnectivity, vault.KindOf(err), "got %v", err)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransport_CallTimeoutAppliesPerAttempt(t *testing.T) {
	t.Parallel()

	const timeout = 50 * time.Millisecond

	srv, calls := hangingStore(t)
	kv := newHangingClient(t, srv.URL, timeout, 3).KV()

	start := time.Now()
	_, err := kv.Get(context.Background(), "team/db")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, vault.KindConnectivity, vault.KindOf(err), "got %v", err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Less(t, elapsed, 2*time.Second)
}

func TestTransport_CallerCancellation(t *testing.T) {
	t.Parallel()

	srv, calls := hangingStore(t)
	kv := newHangingClient(t, srv.URL, time.Minute, 3).KV()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := kv.Get(ctx, "team/db")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, vault.KindConnectivity, vault.KindOf(err), "got %v", err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, elapsed, 5*time.Second)

	// A cancelled caller is not retried.
	assert.Equal(t, int32(1), calls.Load())
}

func TestTransport_CancelledBeforeCall(t *testing.T) {
	t.Parallel()

	srv, calls := hangingStore(t)
	transit := newHangingClient(t, srv.URL, time.Minute, 3).Transit()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := transit.Encrypt(ctx, "billing", []byte("42"))
	require.Error(t, err)
	assert.Equal(t, vault.KindConnectivity, vault.KindOf(err), "got %v", err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls.Load())
}
