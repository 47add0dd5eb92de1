package vault

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/vyrodovalexey/secretgw/internal/observability"
	"github.com/vyrodovalexey/secretgw/internal/retry"
)

// Client provides the gateway's Vault operations. It is safe for concurrent
// use and holds no secret values between calls.
type Client interface {
	// Health returns a point-in-time snapshot of the store's status.
	Health(ctx context.Context) (*HealthStatus, error)

	// KV returns the secret operations.
	KV() KVClient

	// Transit returns the encryption-as-a-service operations.
	Transit() TransitClient

	// Leases returns the dynamic credential and lease operations.
	Leases() LeaseClient

	// Close stops background work. Operations fail with ErrClientClosed
	// afterwards.
	Close() error
}

// HealthStatus is Vault's health snapshot.
type HealthStatus struct {
	Initialized                bool   `json:"initialized"`
	Sealed                     bool   `json:"sealed"`
	Standby                    bool   `json:"standby"`
	PerformanceStandby         bool   `json:"performance_standby"`
	ReplicationPerformanceMode string `json:"replication_performance_mode"`
	ReplicationDRMode          string `json:"replication_dr_mode"`
	ServerTimeUTC              int64  `json:"server_time_utc"`
	Version                    string `json:"version"`
	ClusterName                string `json:"cluster_name,omitempty"`
	ClusterID                  string `json:"cluster_id,omitempty"`
}

// healthQuery makes sys/health answer 200 for every node state so the
// snapshot can always be decoded.
var healthQuery = url.Values{
	"standbyok":              {"true"},
	"perfstandbyok":          {"true"},
	"uninitcode":             {"200"},
	"sealedcode":             {"200"},
	"standbycode":            {"200"},
	"performancestandbycode": {"200"},
	"drsecondarycode":        {"200"},
}

// vaultClient implements the Client interface.
type vaultClient struct {
	config    *Config
	transport Transport
	logger    observability.Logger
	metrics   *Metrics
	retry     *retry.Config

	kv      *kvClient
	transit *transitClient
	leases  *leaseClient
	renewer *tokenRenewer

	mu     sync.RWMutex
	closed bool
}

// ClientOption is a functional option for configuring the client.
type ClientOption func(*vaultClient)

// WithMetrics sets the metrics recorder for the client.
func WithMetrics(metrics *Metrics) ClientOption {
	return func(c *vaultClient) {
		c.metrics = metrics
	}
}

// WithTransport replaces the vault/api transport. The circuit breaker from
// the configuration still wraps it.
func WithTransport(t Transport) ClientOption {
	return func(c *vaultClient) {
		c.transport = t
	}
}

// New creates a Vault client from cfg. cfg is copied and defaults are
// applied to the copy.
func New(cfg *Config, logger observability.Logger, opts ...ClientOption) (Client, error) {
	if cfg == nil {
		return nil, NewValidationError("config", "", "configuration is nil")
	}
	conf := *cfg
	conf.ApplyDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	if logger == nil {
		logger = observability.NopLogger()
	}

	client := &vaultClient{
		config: &conf,
		logger: logger.With(observability.String("component", "vault")),
		retry:  toRetryConfig(conf.Retry),
	}

	for _, opt := range opts {
		opt(client)
	}

	if client.metrics == nil {
		client.metrics = NewMetrics("secretgw")
	}

	if client.transport == nil {
		t, err := NewAPITransport(&conf, client.logger, client.metrics)
		if err != nil {
			return nil, err
		}
		client.transport = t
	}
	client.transport = NewBreakerTransport(client.transport, conf.CircuitBreaker, client.logger, client.metrics)

	client.kv = &kvClient{client: client, mount: conf.KVMount}
	client.transit = &transitClient{client: client, mount: conf.TransitMount}
	client.leases = &leaseClient{client: client, mount: conf.DatabaseMount}

	if conf.TokenRenewal != nil && conf.TokenRenewal.Enabled {
		client.renewer = newTokenRenewer(client, conf.TokenRenewal)
		client.renewer.start()
	}

	client.logger.Info("vault client created",
		observability.String("address", conf.Address),
		observability.String("kv_mount", conf.KVMount),
		observability.String("transit_mount", conf.TransitMount),
		observability.String("database_mount", conf.DatabaseMount),
	)

	return client, nil
}

// do sends a request unless the client is closed.
func (c *vaultClient) do(ctx context.Context, req *Request) (*Response, error) {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, newError(KindInternal, "", req.Path, ErrClientClosed)
	}
	return c.transport.Do(ctx, req)
}

// Health returns Vault health status.
func (c *vaultClient) Health(ctx context.Context) (*HealthStatus, error) {
	const op = "health"

	var status HealthStatus
	err := c.withRetry(ctx, op, func(ctx context.Context) error {
		resp, err := c.do(ctx, &Request{Method: http.MethodGet, Path: "sys/health", Query: healthQuery})
		if err != nil {
			return err
		}
		if err := resp.Decode(&status); err != nil {
			return malformed(op, "", err)
		}
		return nil
	})
	c.metrics.RecordOperation(op, err)
	if err != nil {
		return nil, annotate(err, op, "")
	}
	return &status, nil
}

// KV returns the secret operations.
func (c *vaultClient) KV() KVClient {
	return c.kv
}

// Transit returns the transit operations.
func (c *vaultClient) Transit() TransitClient {
	return c.transit
}

// Leases returns the lease operations.
func (c *vaultClient) Leases() LeaseClient {
	return c.leases
}

// Close closes the client.
func (c *vaultClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.renewer != nil {
		c.renewer.stop()
	}

	c.logger.Info("vault client closed")
	return nil
}

var _ Client = (*vaultClient)(nil)
