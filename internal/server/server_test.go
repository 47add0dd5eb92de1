package server

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenario_SecretRoundTrip(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPut, "/secrets/team/db", map[string]interface{}{
		"data": map[string]interface{}{"user": "a", "pass": "b"},
	})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/secrets/team/db", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]interface{}
	decode(t, rec, &got)
	assert.Equal(t, map[string]interface{}{"user": "a", "pass": "b"}, got)

	// Writing the same value again leaves the same state.
	rec = do(t, h, http.MethodPut, "/secrets/team/db", map[string]interface{}{
		"data": map[string]interface{}{"user": "a", "pass": "b"},
	})
	require.Equal(t, http.StatusNoContent, rec.Code)
	stored, ok := store.Secret("team/db")
	require.True(t, ok)
	assert.Equal(t, "a", stored["user"])

	rec = do(t, h, http.MethodGet, "/secrets-metadata/team/db", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var meta struct {
		Path           string `json:"path"`
		CurrentVersion int64  `json:"current_version"`
	}
	decode(t, rec, &meta)
	assert.Equal(t, "team/db", meta.Path)
	assert.Equal(t, int64(2), meta.CurrentVersion)

	rec = do(t, h, http.MethodDelete, "/secrets/team/db", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/secrets/team/db", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodGet, "/secrets/team/db", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestScenario_MissingSecretIsNotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	rec := do(t, s.Handler(), http.MethodGet, "/secrets/nonexistent", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := errorBody(t, rec)
	assert.Equal(t, "not_found", body.Error)
	assert.NotEmpty(t, body.RequestID)
	assert.Equal(t, rec.Header().Get(RequestIDHeader), body.RequestID)
}

func TestListing(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	store.PutSecret("team/db", map[string]interface{}{"k": "v"})
	store.PutSecret("team/api", map[string]interface{}{"k": "v"})
	store.PutSecret("global", map[string]interface{}{"k": "v"})
	h := s.Handler()

	tests := []struct {
		name   string
		target string
		status int
		want   []string
	}{
		{name: "root", target: "/secrets", status: http.StatusOK, want: []string{"global", "team/"}},
		{name: "root with slash", target: "/secrets/", status: http.StatusOK, want: []string{"global", "team/"}},
		{name: "folder", target: "/secrets/team?list=true", status: http.StatusOK, want: []string{"api", "db"}},
		{name: "leaf", target: "/secrets/team/db?list=true", status: http.StatusOK, want: []string{}},
		{name: "absent", target: "/secrets/nowhere?list=true", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target, nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.want == nil {
				return
			}
			var got []string
			decode(t, rec, &got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScenario_TransitRoundTripAcrossRotation(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/transit/keys", map[string]string{"name": "billing"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/encrypt", map[string]string{"data": "42", "keyName": "billing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var enc struct {
		Encrypted string `json:"encrypted"`
	}
	decode(t, rec, &enc)
	require.NotEmpty(t, enc.Encrypted)
	assert.NotContains(t, enc.Encrypted, "42")

	rec = do(t, h, http.MethodPost, "/transit/keys/billing/rotate", nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	assert.Equal(t, 2, store.KeyVersion("billing"))

	rec = do(t, h, http.MethodPost, "/decrypt", map[string]string{"data": enc.Encrypted, "keyName": "billing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dec struct {
		Decrypted string `json:"decrypted"`
	}
	decode(t, rec, &dec)
	assert.Equal(t, "42", dec.Decrypted)

	rec = do(t, h, http.MethodGet, "/transit/keys/billing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var key struct {
		Name          string `json:"name"`
		LatestVersion int    `json:"latest_version"`
	}
	decode(t, rec, &key)
	assert.Equal(t, "billing", key.Name)
	assert.Equal(t, 2, key.LatestVersion)
}

func TestEncryptEmptyPlaintext(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/transit/keys", map[string]string{"name": "billing"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/encrypt", `{"keyName":"billing","data":""}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var enc struct {
		Encrypted string `json:"encrypted"`
	}
	decode(t, rec, &enc)
	require.NotEmpty(t, enc.Encrypted)

	rec = do(t, h, http.MethodPost, "/decrypt", map[string]string{"data": enc.Encrypted, "keyName": "billing"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dec struct {
		Decrypted *string `json:"decrypted"`
	}
	decode(t, rec, &dec)
	require.NotNil(t, dec.Decrypted)
	assert.Equal(t, "", *dec.Decrypted)
}

func TestScenario_LeaseLifecycle(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodPost, "/credentials/"+testRole, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var lease LeaseResponse
	decode(t, rec, &lease)
	require.NotEmpty(t, lease.LeaseID)
	assert.Equal(t, int64(3600), lease.LeaseDuration)
	assert.True(t, lease.Renewable)
	assert.NotEmpty(t, lease.Data["username"])

	rec = do(t, h, http.MethodPost, "/leases/renew", map[string]interface{}{"lease_id": lease.LeaseID, "increment": 600})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var renewed LeaseResponse
	decode(t, rec, &renewed)
	assert.Equal(t, int64(600), renewed.LeaseDuration)

	rec = do(t, h, http.MethodPost, "/leases/lookup", map[string]string{"lease_id": lease.LeaseID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var info struct {
		ID          string  `json:"id"`
		LastRenewal *string `json:"last_renewal"`
	}
	decode(t, rec, &info)
	assert.Equal(t, lease.LeaseID, info.ID)
	assert.NotNil(t, info.LastRenewal)

	rec = do(t, h, http.MethodPost, "/leases/revoke", map[string]string{"lease_id": lease.LeaseID})
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, store.LeaseActive(lease.LeaseID))

	rec = do(t, h, http.MethodPost, "/leases/revoke", map[string]string{"lease_id": lease.LeaseID})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPost, "/leases/renew", map[string]string{"lease_id": lease.LeaseID})
	require.Equal(t, http.StatusNotFound, rec.Code, rec.Body.String())
	assert.Equal(t, "not_found", errorBody(t, rec).Error)
}

func TestHealthAndLiveness(t *testing.T) {
	t.Parallel()

	s, store := newTestServer(t)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health struct {
		Initialized bool   `json:"initialized"`
		Sealed      bool   `json:"sealed"`
		Version     string `json:"version"`
	}
	decode(t, rec, &health)
	assert.True(t, health.Initialized)
	assert.False(t, health.Sealed)
	assert.Equal(t, "1.15.4", health.Version)

	store.Close()

	rec = do(t, h, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	h := s.Handler()

	require.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/livez", nil).Code)
	require.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/secrets/missing", nil).Code)

	rec := do(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `test_http_requests_total{method="GET",route="/livez",status="200"} 1`)
	assert.Contains(t, body, `test_http_requests_total{method="GET",route="/secrets/*path",status="404"} 1`)
	assert.Contains(t, body, `test_errors_total{kind="not_found"} 1`)
}

func TestServeAndShutdown(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/livez")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-errCh)

	assert.Error(t, s.Serve(ln), "a server serves once")
}

func TestShutdownBeforeServe(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	assert.NoError(t, s.Shutdown(context.Background()))
}
