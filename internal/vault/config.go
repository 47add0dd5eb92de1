package vault

import (
	"fmt"
	"net/url"
	"time"
)

// Defaults applied by Config.ApplyDefaults.
const (
	DefaultTimeout        = 10 * time.Second
	DefaultKVMount        = "secret"
	DefaultTransitMount   = "transit"
	DefaultDatabaseMount  = "database"
	DefaultTransitKeyType = "aes256-gcm96"
)

// Config represents Vault client configuration. A Config is read once when
// the client is built; the endpoint and token do not change afterwards.
type Config struct {
	// Address is the Vault server address.
	Address string

	// Token is the bearer credential sent as X-Vault-Token on every call.
	Token string

	// Namespace is the Vault namespace (Enterprise feature).
	Namespace string

	// Timeout bounds every outbound call.
	Timeout time.Duration

	// KVMount is the KV v2 mount holding secrets.
	KVMount string

	// TransitMount is the transit engine mount.
	TransitMount string

	// DatabaseMount is the database secrets engine mount.
	DatabaseMount string

	TLS            *TLSConfig
	Retry          *RetryConfig
	CircuitBreaker *CircuitBreakerConfig
	TokenRenewal   *TokenRenewalConfig
}

// TLSConfig configures TLS for the Vault connection.
type TLSConfig struct {
	CACert     string
	CAPath     string
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// RetryConfig configures retries of idempotent operations.
type RetryConfig struct {
	// MaxAttempts counts the first call. 1 disables retrying.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// CircuitBreakerConfig configures the breaker around the transport.
type CircuitBreakerConfig struct {
	Enabled bool

	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests int
}

// TokenRenewalConfig configures self-renewal of the gateway token.
type TokenRenewalConfig struct {
	Enabled bool

	// Increment is the TTL requested on each renewal. Zero keeps the token's
	// configured period.
	Increment time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// DefaultRetryConfig returns a RetryConfig with default values.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		BackoffBase: 100 * time.Millisecond,
		BackoffMax:  2 * time.Second,
	}
}

// DefaultCircuitBreakerConfig returns a CircuitBreakerConfig with default values.
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Enabled:          true,
		Threshold:        5,
		Timeout:          30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.KVMount == "" {
		c.KVMount = DefaultKVMount
	}
	if c.TransitMount == "" {
		c.TransitMount = DefaultTransitMount
	}
	if c.DatabaseMount == "" {
		c.DatabaseMount = DefaultDatabaseMount
	}
	if c.Retry == nil {
		c.Retry = DefaultRetryConfig()
	}
	if c.CircuitBreaker == nil {
		c.CircuitBreaker = DefaultCircuitBreakerConfig()
	}
}

// Validate validates the Vault configuration.
func (c *Config) Validate() error {
	if c == nil {
		return NewValidationError("config", "", "configuration is nil")
	}

	if c.Address == "" {
		return NewValidationError("config", "address", "vault address is required")
	}
	u, err := url.Parse(c.Address)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return NewValidationError("config", "address", fmt.Sprintf("invalid vault address %q", c.Address))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewValidationError("config", "address", "vault address scheme must be http or https")
	}

	if c.Token == "" {
		return NewValidationError("config", "token", "vault token is required")
	}

	if c.Timeout < 0 {
		return NewValidationError("config", "timeout", "timeout cannot be negative")
	}

	if err := c.TLS.validate(); err != nil {
		return err
	}
	if err := c.Retry.validate(); err != nil {
		return err
	}
	return c.CircuitBreaker.validate()
}

func (c *TLSConfig) validate() error {
	if c == nil {
		return nil
	}
	if c.ClientCert != "" && c.ClientKey == "" {
		return NewValidationError("config", "tls.clientKey", "client key is required when client cert is provided")
	}
	if c.ClientKey != "" && c.ClientCert == "" {
		return NewValidationError("config", "tls.clientCert", "client cert is required when client key is provided")
	}
	return nil
}

func (c *RetryConfig) validate() error {
	if c == nil {
		return nil
	}
	if c.MaxAttempts < 0 {
		return NewValidationError("config", "retry.maxAttempts", "maxAttempts cannot be negative")
	}
	if c.BackoffBase < 0 || c.BackoffMax < 0 {
		return NewValidationError("config", "retry", "backoff durations cannot be negative")
	}
	if c.BackoffBase > 0 && c.BackoffMax > 0 && c.BackoffBase > c.BackoffMax {
		return NewValidationError("config", "retry.backoffBase", "backoffBase cannot be greater than backoffMax")
	}
	return nil
}

func (c *CircuitBreakerConfig) validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if c.Threshold < 1 {
		return NewValidationError("config", "circuitBreaker.threshold", "threshold must be at least 1")
	}
	if c.Timeout <= 0 {
		return NewValidationError("config", "circuitBreaker.timeout", "timeout must be positive")
	}
	return nil
}
