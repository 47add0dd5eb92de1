package vault_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/secretgw/internal/observability"
	"github.com/vyrodovalexey/secretgw/internal/vault"
	"github.com/vyrodovalexey/secretgw/internal/vault/vaulttest"
)

// testConfig returns a config pointing at srv with fast retries and the
// breaker disabled.
func testConfig(srv *vaulttest.Server) *vault.Config {
	return &vault.Config{
		Address: srv.Address(),
		Token:   srv.Token(),
		Timeout: 2 * time.Second,
		Retry: &vault.RetryConfig{
			MaxAttempts: 3,
			BackoffBase: time.Millisecond,
			BackoffMax:  5 * time.Millisecond,
		},
		CircuitBreaker: &vault.CircuitBreakerConfig{Enabled: false},
	}
}

func newTestClient(t *testing.T, srv *vaulttest.Server, mutate ...func(*vault.Config)) vault.Client {
	t.Helper()

	cfg := testConfig(srv)
	for _, m := range mutate {
		m(cfg)
	}

	client, err := vault.New(cfg, observability.NopLogger(), vault.WithMetrics(vault.NewMetrics("test")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}
