package config

import (
	"time"

	"github.com/vyrodovalexey/secretgw/internal/observability"
	"github.com/vyrodovalexey/secretgw/internal/ratelimit"
	"github.com/vyrodovalexey/secretgw/internal/vault"
)

// Default values.
const (
	DefaultListenAddr      = ":8080"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultRequestTimeout  = 25 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultMaxBodyBytes    = 1 << 20
	DefaultMetricsPath     = "/metrics"
	DefaultServiceName     = "secretgw"
	DefaultRateLimitWindow = time.Second
	DefaultRateLimitKey    = "client_ip"
)

// GatewayConfig is the complete gateway configuration.
type GatewayConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Vault     VaultConfig     `yaml:"vault"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

// ServerConfig configures the inbound HTTP server.
type ServerConfig struct {
	ListenAddr      string   `yaml:"listenAddr"`
	ReadTimeout     Duration `yaml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout"`
	IdleTimeout     Duration `yaml:"idleTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout"`

	// RequestTimeout bounds the handling of a whole request, outbound calls
	// included.
	RequestTimeout Duration `yaml:"requestTimeout"`

	// MaxBodyBytes limits request bodies.
	MaxBodyBytes int64 `yaml:"maxBodyBytes"`
}

// VaultConfig configures the secret store connection. It is immutable for
// the life of the process.
type VaultConfig struct {
	Address   string   `yaml:"address"`
	Token     string   `yaml:"token"`
	Namespace string   `yaml:"namespace"`
	Timeout   Duration `yaml:"timeout"`

	KVMount       string `yaml:"kvMount"`
	TransitMount  string `yaml:"transitMount"`
	DatabaseMount string `yaml:"databaseMount"`

	TLS            *VaultTLSConfig       `yaml:"tls,omitempty"`
	Retry          *RetryConfig          `yaml:"retry,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuitBreaker,omitempty"`
	TokenRenewal   *TokenRenewalConfig   `yaml:"tokenRenewal,omitempty"`
}

// VaultTLSConfig configures TLS to the store.
type VaultTLSConfig struct {
	CACert     string `yaml:"caCert"`
	CAPath     string `yaml:"caPath"`
	ClientCert string `yaml:"clientCert"`
	ClientKey  string `yaml:"clientKey"`
	ServerName string `yaml:"serverName"`
	SkipVerify bool   `yaml:"skipVerify"`
}

// RetryConfig configures retries of idempotent store operations.
type RetryConfig struct {
	MaxAttempts int      `yaml:"maxAttempts"`
	BackoffBase Duration `yaml:"backoffBase"`
	BackoffMax  Duration `yaml:"backoffMax"`
}

// CircuitBreakerConfig configures the breaker around the store transport.
type CircuitBreakerConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Threshold        int      `yaml:"threshold"`
	Timeout          Duration `yaml:"timeout"`
	HalfOpenRequests int      `yaml:"halfOpenRequests"`
}

// TokenRenewalConfig configures self-renewal of the gateway token.
type TokenRenewalConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Increment Duration `yaml:"increment"`
}

// LoggingConfig configures logging. Level is reloadable.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Insecure     bool    `yaml:"insecure"`
	ServiceName  string  `yaml:"serviceName"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// RateLimitConfig configures inbound rate limiting. It is reloadable.
type RateLimitConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Backend  string   `yaml:"backend"`
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
	Burst    int      `yaml:"burst"`

	// Key selects the bucket: "global", "client_ip" or "header:<Name>".
	Key string `yaml:"key"`

	Redis *RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures the shared rate limit store.
type RedisConfig struct {
	Address         string   `yaml:"address"`
	Password        string   `yaml:"password"`
	DB              int      `yaml:"db"`
	Prefix          string   `yaml:"prefix"`
	DialTimeout     Duration `yaml:"dialTimeout"`
	FallbackEnabled *bool    `yaml:"fallbackEnabled,omitempty"`
}

// DefaultConfig returns a configuration with defaults applied.
func DefaultConfig() *GatewayConfig {
	cfg := &GatewayConfig{
		Metrics: MetricsConfig{Enabled: true},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with defaults.
func (c *GatewayConfig) ApplyDefaults() {
	s := &c.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	setDuration(&s.ReadTimeout, DefaultReadTimeout)
	setDuration(&s.WriteTimeout, DefaultWriteTimeout)
	setDuration(&s.IdleTimeout, DefaultIdleTimeout)
	setDuration(&s.RequestTimeout, DefaultRequestTimeout)
	setDuration(&s.ShutdownTimeout, DefaultShutdownTimeout)
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}

	v := &c.Vault
	setDuration(&v.Timeout, vault.DefaultTimeout)
	if v.KVMount == "" {
		v.KVMount = vault.DefaultKVMount
	}
	if v.TransitMount == "" {
		v.TransitMount = vault.DefaultTransitMount
	}
	if v.DatabaseMount == "" {
		v.DatabaseMount = vault.DefaultDatabaseMount
	}
	if v.Retry == nil {
		d := vault.DefaultRetryConfig()
		v.Retry = &RetryConfig{
			MaxAttempts: d.MaxAttempts,
			BackoffBase: Duration(d.BackoffBase),
			BackoffMax:  Duration(d.BackoffMax),
		}
	}
	if v.CircuitBreaker == nil {
		d := vault.DefaultCircuitBreakerConfig()
		v.CircuitBreaker = &CircuitBreakerConfig{
			Enabled:          d.Enabled,
			Threshold:        d.Threshold,
			Timeout:          Duration(d.Timeout),
			HalfOpenRequests: d.HalfOpenRequests,
		}
	}

	logDefaults := observability.DefaultLogConfig()
	if c.Logging.Level == "" {
		c.Logging.Level = logDefaults.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = logDefaults.Format
	}
	if c.Logging.Output == "" {
		c.Logging.Output = logDefaults.Output
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultServiceName
	}

	rl := &c.RateLimit
	if rl.Backend == "" {
		rl.Backend = string(ratelimit.BackendLocal)
	}
	setDuration(&rl.Window, DefaultRateLimitWindow)
	if rl.Key == "" {
		rl.Key = DefaultRateLimitKey
	}
	if rl.Redis != nil {
		d := ratelimit.DefaultRedisConfig()
		if rl.Redis.Prefix == "" {
			rl.Redis.Prefix = d.Prefix
		}
		setDuration(&rl.Redis.DialTimeout, d.DialTimeout)
		if rl.Redis.FallbackEnabled == nil {
			enabled := d.FallbackEnabled
			rl.Redis.FallbackEnabled = &enabled
		}
	}
}

func setDuration(d *Duration, def time.Duration) {
	if *d <= 0 {
		*d = Duration(def)
	}
}

// VaultClientConfig converts the vault section to a client configuration.
func (c *GatewayConfig) VaultClientConfig() *vault.Config {
	v := c.Vault
	out := &vault.Config{
		Address:       v.Address,
		Token:         v.Token,
		Namespace:     v.Namespace,
		Timeout:       v.Timeout.Duration(),
		KVMount:       v.KVMount,
		TransitMount:  v.TransitMount,
		DatabaseMount: v.DatabaseMount,
	}
	if v.TLS != nil {
		out.TLS = &vault.TLSConfig{
			CACert:     v.TLS.CACert,
			CAPath:     v.TLS.CAPath,
			ClientCert: v.TLS.ClientCert,
			ClientKey:  v.TLS.ClientKey,
			ServerName: v.TLS.ServerName,
			SkipVerify: v.TLS.SkipVerify,
		}
	}
	if v.Retry != nil {
		out.Retry = &vault.RetryConfig{
			MaxAttempts: v.Retry.MaxAttempts,
			BackoffBase: v.Retry.BackoffBase.Duration(),
			BackoffMax:  v.Retry.BackoffMax.Duration(),
		}
	}
	if v.CircuitBreaker != nil {
		out.CircuitBreaker = &vault.CircuitBreakerConfig{
			Enabled:          v.CircuitBreaker.Enabled,
			Threshold:        v.CircuitBreaker.Threshold,
			Timeout:          v.CircuitBreaker.Timeout.Duration(),
			HalfOpenRequests: v.CircuitBreaker.HalfOpenRequests,
		}
	}
	if v.TokenRenewal != nil {
		out.TokenRenewal = &vault.TokenRenewalConfig{
			Enabled:   v.TokenRenewal.Enabled,
			Increment: v.TokenRenewal.Increment.Duration(),
		}
	}
	return out
}

// RateLimitLimit returns the configured request budget.
func (c *GatewayConfig) RateLimitLimit() ratelimit.Limit {
	return ratelimit.Limit{
		Requests: c.RateLimit.Requests,
		Window:   c.RateLimit.Window.Duration(),
		Burst:    c.RateLimit.Burst,
	}
}

// RateLimiterConfig converts the rate limit section to a limiter configuration.
func (c *GatewayConfig) RateLimiterConfig() *ratelimit.Config {
	rl := c.RateLimit
	out := &ratelimit.Config{
		Enabled: rl.Enabled,
		Backend: ratelimit.Backend(rl.Backend),
		Limit:   c.RateLimitLimit(),
	}
	if rl.Redis != nil {
		redisCfg := ratelimit.DefaultRedisConfig()
		redisCfg.Address = rl.Redis.Address
		redisCfg.Password = rl.Redis.Password
		redisCfg.DB = rl.Redis.DB
		if rl.Redis.Prefix != "" {
			redisCfg.Prefix = rl.Redis.Prefix
		}
		if rl.Redis.DialTimeout > 0 {
			redisCfg.DialTimeout = rl.Redis.DialTimeout.Duration()
		}
		if rl.Redis.FallbackEnabled != nil {
			redisCfg.FallbackEnabled = *rl.Redis.FallbackEnabled
		}
		out.Redis = redisCfg
	}
	return out
}

// LogConfig converts the logging section.
func (c *GatewayConfig) LogConfig() observability.LogConfig {
	return observability.LogConfig{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}

// TracerConfig converts the tracing section.
func (c *GatewayConfig) TracerConfig(version string) observability.TracerConfig {
	return observability.TracerConfig{
		ServiceName:    c.Tracing.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   c.Tracing.OTLPEndpoint,
		SamplingRate:   c.Tracing.SamplingRate,
		Enabled:        c.Tracing.Enabled,
		Insecure:       c.Tracing.Insecure,
	}
}
