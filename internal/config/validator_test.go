package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *GatewayConfig {
	cfg := DefaultConfig()
	cfg.Vault.Address = "http://127.0.0.1:8200"
	cfg.Vault.Token = "root"
	return cfg
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(*GatewayConfig)
		wantPath string
	}{
		{name: "valid", mutate: func(*GatewayConfig) {}},
		{
			name:     "no listen addr",
			mutate:   func(c *GatewayConfig) { c.Server.ListenAddr = "" },
			wantPath: "server.listenAddr",
		},
		{
			name:     "bad vault address",
			mutate:   func(c *GatewayConfig) { c.Vault.Address = "vault:8200" },
			wantPath: "vault.address",
		},
		{
			name:     "bad log format",
			mutate:   func(c *GatewayConfig) { c.Logging.Format = "xml" },
			wantPath: "logging.format",
		},
		{
			name: "tracing without endpoint",
			mutate: func(c *GatewayConfig) {
				c.Tracing.Enabled = true
				c.Tracing.SamplingRate = 1
			},
			wantPath: "tracing.otlpEndpoint",
		},
		{
			name:     "sampling rate out of range",
			mutate:   func(c *GatewayConfig) { c.Tracing.SamplingRate = 1.5 },
			wantPath: "tracing.samplingRate",
		},
		{
			name:     "metrics path",
			mutate:   func(c *GatewayConfig) { c.Metrics.Path = "metrics" },
			wantPath: "metrics.path",
		},
		{
			name: "rate limit without requests",
			mutate: func(c *GatewayConfig) {
				c.RateLimit.Enabled = true
			},
			wantPath: "rateLimit",
		},
		{
			name: "rate limit bad key",
			mutate: func(c *GatewayConfig) {
				c.RateLimit.Enabled = true
				c.RateLimit.Requests = 10
				c.RateLimit.Key = "cookie"
			},
			wantPath: "rateLimit.key",
		},
		{
			name: "disabled rate limit is not checked",
			mutate: func(c *GatewayConfig) {
				c.RateLimit.Key = "cookie"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tt.mutate(cfg)

			err := ValidateConfig(cfg)
			if tt.wantPath == "" {
				assert.NoError(t, err)
				return
			}

			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs), "got %v", err)
			paths := make([]string, 0, len(verrs))
			for _, e := range verrs {
				paths = append(paths, e.Path)
			}
			assert.Contains(t, paths, tt.wantPath)
		})
	}
}

func TestValidateConfig_Nil(t *testing.T) {
	t.Parallel()

	err := ValidateConfig(nil)
	require.Error(t, err)
	assert.Equal(t, "configuration is nil", err.Error())
}

func TestValidationErrors_Error(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "no validation errors", ValidationErrors{}.Error())
	assert.Equal(t, "a: bad", ValidationErrors{{Path: "a", Message: "bad"}}.Error())

	multi := ValidationErrors{{Path: "a", Message: "bad"}, {Message: "worse"}}.Error()
	assert.Contains(t, multi, "2 validation errors")
	assert.Contains(t, multi, "1. a: bad")
	assert.Contains(t, multi, "2. worse")
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.Equal(t, DefaultListenAddr, cfg.Server.ListenAddr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "local", cfg.RateLimit.Backend)
	assert.Equal(t, DefaultRateLimitKey, cfg.RateLimit.Key)
	require.NotNil(t, cfg.Vault.Retry)
	assert.Equal(t, 3, cfg.Vault.Retry.MaxAttempts)
	require.NotNil(t, cfg.Vault.CircuitBreaker)
	assert.True(t, cfg.Vault.CircuitBreaker.Enabled)

	// Only the credentials are missing.
	err := ValidateConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault.address")
}
