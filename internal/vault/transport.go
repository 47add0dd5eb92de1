package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	vaultapi "github.com/hashicorp/vault/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/secretgw/internal/observability"
)

// tracerName identifies spans produced by the transport.
const tracerName = "secretgw/vault"

// Request is a single call to the Vault HTTP API.
type Request struct {
	// Method is the HTTP method. Listing is a GET with list=true.
	Method string

	// Path is relative to /v1/, e.g. "secret/data/team/db".
	Path string

	// Body is JSON-encoded when non-nil.
	Body interface{}

	// Query holds optional query parameters.
	Query url.Values
}

// Response is a successful Vault response.
type Response struct {
	StatusCode int
	Body       []byte
}

// Secret parses the body as a Vault secret envelope. It returns nil for an
// empty body.
func (r *Response) Secret() (*vaultapi.Secret, error) {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil, nil
	}
	return vaultapi.ParseSecret(bytes.NewReader(r.Body))
}

// Decode unmarshals the raw body into v.
func (r *Response) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// Transport performs raw exchanges with Vault. It never retries. Failures are
// *Error values of kind KindConnectivity, KindAuth or KindStore.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// APITransport is the Transport backed by github.com/hashicorp/vault/api.
type APITransport struct {
	api     *vaultapi.Client
	timeout time.Duration
	logger  observability.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

// NewAPITransport builds the shared vault/api client from cfg. The token is
// set once and attached to every request.
func NewAPITransport(cfg *Config, logger observability.Logger, metrics *Metrics) (*APITransport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	apiConfig := vaultapi.DefaultConfig()
	if apiConfig.Error != nil {
		return nil, newError(KindValidation, "config", "", apiConfig.Error)
	}
	apiConfig.Address = cfg.Address
	apiConfig.MaxRetries = 0
	apiConfig.Timeout = cfg.Timeout

	if cfg.TLS != nil {
		tlsConfig := &vaultapi.TLSConfig{
			CACert:        cfg.TLS.CACert,
			CAPath:        cfg.TLS.CAPath,
			ClientCert:    cfg.TLS.ClientCert,
			ClientKey:     cfg.TLS.ClientKey,
			TLSServerName: cfg.TLS.ServerName,
			Insecure:      cfg.TLS.SkipVerify,
		}
		if err := apiConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, newError(KindValidation, "config", "tls", err)
		}
	}

	api, err := vaultapi.NewClient(apiConfig)
	if err != nil {
		return nil, newError(KindValidation, "config", "", err)
	}
	api.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		api.SetNamespace(cfg.Namespace)
	}

	if logger == nil {
		logger = observability.NopLogger()
	}

	return &APITransport{
		api:     api,
		timeout: cfg.Timeout,
		logger:  logger,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Do sends req to Vault within the configured timeout.
func (t *APITransport) Do(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	ctx, span := t.tracer.Start(ctx, "vault "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("vault.path", req.Path),
		),
	)
	defer span.End()

	r := t.api.NewRequest(req.Method, "/v1/"+req.Path)
	if req.Body != nil {
		if err := r.SetJSONBody(req.Body); err != nil {
			return nil, newError(KindInternal, "", req.Path, err)
		}
	}
	for k, vs := range req.Query {
		for _, v := range vs {
			r.Params.Add(k, v)
		}
	}

	start := time.Now()
	//nolint:staticcheck // raw access is needed for LIST and status-level classification
	resp, err := t.api.RawRequestWithContext(ctx, r)
	status := 0
	if resp != nil {
		status = resp.StatusCode
		defer resp.Body.Close()
	}
	t.metrics.RecordRequest(req.Method, status, time.Since(start))
	span.SetAttributes(attribute.Int("http.response.status_code", status))

	if err != nil {
		vErr := classify(err)
		span.SetStatus(codes.Error, string(vErr.Kind))
		t.logger.WithContext(ctx).Debug("vault call failed",
			observability.String("method", req.Method),
			observability.String("path", req.Path),
			observability.Int("status", status),
			observability.String("kind", string(vErr.Kind)),
		)
		return nil, vErr
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		vErr := newError(KindConnectivity, "", req.Path, err)
		span.SetStatus(codes.Error, string(vErr.Kind))
		return nil, vErr
	}

	return &Response{StatusCode: status, Body: body}, nil
}

// classify turns a vault/api failure into an *Error.
func classify(err error) *Error {
	var respErr *vaultapi.ResponseError
	if errors.As(err, &respErr) {
		kind := KindStore
		if respErr.StatusCode == http.StatusUnauthorized || respErr.StatusCode == http.StatusForbidden {
			kind = KindAuth
		}
		return &Error{
			Kind:     kind,
			Status:   respErr.StatusCode,
			Messages: respErr.Errors,
			Err:      err,
		}
	}
	return &Error{Kind: KindConnectivity, Err: err}
}

var _ Transport = (*APITransport)(nil)
