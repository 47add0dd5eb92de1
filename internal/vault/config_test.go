package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{Address: "http://127.0.0.1:8200", Token: "t"}
	cfg.ApplyDefaults()

	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, DefaultKVMount, cfg.KVMount)
	assert.Equal(t, DefaultTransitMount, cfg.TransitMount)
	assert.Equal(t, DefaultDatabaseMount, cfg.DatabaseMount)
	require.NotNil(t, cfg.Retry)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	require.NotNil(t, cfg.CircuitBreaker)
	assert.True(t, cfg.CircuitBreaker.Enabled)
	assert.Equal(t, 5, cfg.CircuitBreaker.Threshold)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_ApplyDefaultsKeepsValues(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		Timeout:        time.Second,
		KVMount:        "kv",
		Retry:          &RetryConfig{MaxAttempts: 1},
		CircuitBreaker: &CircuitBreakerConfig{Enabled: false},
	}
	cfg.ApplyDefaults()

	assert.Equal(t, time.Second, cfg.Timeout)
	assert.Equal(t, "kv", cfg.KVMount)
	assert.Equal(t, 1, cfg.Retry.MaxAttempts)
	assert.False(t, cfg.CircuitBreaker.Enabled)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		cfg := &Config{Address: "https://vault.example.com:8200", Token: "s.token"}
		cfg.ApplyDefaults()
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing address", mutate: func(c *Config) { c.Address = "" }, wantField: "address"},
		{name: "relative address", mutate: func(c *Config) { c.Address = "vault:8200" }, wantField: "address"},
		{name: "unsupported scheme", mutate: func(c *Config) { c.Address = "tcp://vault:8200" }, wantField: "address"},
		{name: "missing token", mutate: func(c *Config) { c.Token = "" }, wantField: "token"},
		{name: "negative timeout", mutate: func(c *Config) { c.Timeout = -time.Second }, wantField: "timeout"},
		{
			name:      "client cert without key",
			mutate:    func(c *Config) { c.TLS = &TLSConfig{ClientCert: "/tls/crt"} },
			wantField: "tls.clientKey",
		},
		{
			name:      "client key without cert",
			mutate:    func(c *Config) { c.TLS = &TLSConfig{ClientKey: "/tls/key"} },
			wantField: "tls.clientCert",
		},
		{
			name:      "negative attempts",
			mutate:    func(c *Config) { c.Retry.MaxAttempts = -1 },
			wantField: "retry.maxAttempts",
		},
		{
			name: "backoff base above max",
			mutate: func(c *Config) {
				c.Retry.BackoffBase = time.Second
				c.Retry.BackoffMax = time.Millisecond
			},
			wantField: "retry.backoffBase",
		},
		{
			name:      "breaker threshold",
			mutate:    func(c *Config) { c.CircuitBreaker.Threshold = 0 },
			wantField: "circuitBreaker.threshold",
		},
		{
			name:      "breaker timeout",
			mutate:    func(c *Config) { c.CircuitBreaker.Timeout = 0 },
			wantField: "circuitBreaker.timeout",
		},
		{
			name: "disabled breaker is not validated",
			mutate: func(c *Config) {
				c.CircuitBreaker = &CircuitBreakerConfig{Enabled: false}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, tt.wantField, err.(*Error).Path)
		})
	}
}

func TestConfig_ValidateNil(t *testing.T) {
	t.Parallel()

	var cfg *Config
	assert.ErrorIs(t, cfg.Validate(), ErrValidation)
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, DefaultKVMount, cfg.KVMount)
	assert.ErrorIs(t, cfg.Validate(), ErrValidation)
}
