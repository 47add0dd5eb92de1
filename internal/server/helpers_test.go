package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/secretgw/internal/observability"
	"github.com/vyrodovalexey/secretgw/internal/vault"
	"github.com/vyrodovalexey/secretgw/internal/vault/vaulttest"
)

const testRole = "readonly-role"

// newVaultClient connects a client to srv with fast retries and no breaker.
func newVaultClient(t *testing.T, srv *vaulttest.Server, token string) vault.Client {
	t.Helper()

	client, err := vault.New(&vault.Config{
		Address: srv.Address(),
		Token:   token,
		Timeout: 2 * time.Second,
		Retry: &vault.RetryConfig{
			MaxAttempts: 3,
			BackoffBase: time.Millisecond,
			BackoffMax:  5 * time.Millisecond,
		},
		CircuitBreaker: &vault.CircuitBreakerConfig{Enabled: false},
	}, observability.NopLogger(), vault.WithMetrics(vault.NewMetrics("test")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// newTestServer returns a gateway backed by a fresh fake store that knows
// testRole as a renewable role.
func newTestServer(t *testing.T, opts ...Option) (*Server, *vaulttest.Server) {
	t.Helper()

	store := vaulttest.NewServer(t, vaulttest.WithRole(testRole, vaulttest.Role{TTL: time.Hour, Renewable: true}))
	client := newVaultClient(t, store, store.Token())

	cfg := DefaultConfig()
	cfg.RequestTimeout = 5 * time.Second
	opts = append([]Option{WithMetrics(observability.NewMetrics("test"))}, opts...)
	return New(cfg, client, opts...), store
}

// do sends a request with an optional JSON body to h.
func do(t *testing.T, h http.Handler, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return serve(h, req)
}

func newRequest(method, target string) *http.Request {
	return httptest.NewRequest(method, target, nil)
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// decode unmarshals the response body into v.
func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

// errorBody decodes an error response.
func errorBody(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	decode(t, rec, &body)
	return body
}
