// Package server exposes the gateway operations over HTTP using gin.
//
// Handlers validate input, delegate to the vault package and translate typed
// failures into status codes. They hold no state between requests.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/secretgw/internal/observability"
	"github.com/vyrodovalexey/secretgw/internal/ratelimit"
	"github.com/vyrodovalexey/secretgw/internal/vault"
)

// ginModeOnce makes gin.SetMode race free across servers in one process.
var ginModeOnce sync.Once

// Config configures the HTTP server.
type Config struct {
	ListenAddr      string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// RequestTimeout bounds each request. Zero disables the bound.
	RequestTimeout time.Duration

	// MaxBodyBytes limits request bodies. Zero disables the limit.
	MaxBodyBytes int64

	// MetricsPath serves Prometheus metrics when not empty.
	MetricsPath string

	// RateLimitKey selects the rate limit bucket of a request.
	RateLimitKey ratelimit.KeyFunc

	ServiceName string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RequestTimeout:  25 * time.Second,
		MaxBodyBytes:    1 << 20,
		MetricsPath:     "/metrics",
		ServiceName:     "secretgw",
	}
}

// Server is the gateway HTTP server.
type Server struct {
	config         Config
	engine         *gin.Engine
	client         vault.Client
	limiter        ratelimit.Limiter
	logger         observability.Logger
	metrics        *observability.Metrics
	tracerProvider trace.TracerProvider

	mu         sync.Mutex
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics the server records to and serves.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = metrics
	}
}

// WithLimiter enables inbound rate limiting.
func WithLimiter(limiter ratelimit.Limiter) Option {
	return func(s *Server) {
		s.limiter = limiter
	}
}

// WithTracerProvider sets the tracer provider, the global one by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracerProvider = tp
	}
}

// New creates a server bound to client.
func New(cfg Config, client vault.Client, opts ...Option) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	if cfg.ServiceName == "" {
		cfg.ServiceName = "secretgw"
	}

	s := &Server{
		config: cfg,
		client: client,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = observability.NopLogger()
	}
	s.logger = s.logger.With(observability.String("component", "server"))
	if s.metrics == nil {
		s.metrics = observability.NewMetrics(cfg.ServiceName)
	}
	if s.limiter == nil {
		s.limiter = ratelimit.NewNoopLimiter()
	}
	if s.tracerProvider == nil {
		s.tracerProvider = otel.GetTracerProvider()
	}

	s.engine = s.buildEngine()
	return s
}

// buildEngine wires middleware and routes. Liveness and metrics skip the
// rate limiter and the request timeout.
func (s *Server) buildEngine() *gin.Engine {
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.Use(requestID(), s.recovery(), s.accessLog(), s.observe())

	engine.GET("/livez", s.handleLivez)
	if s.config.MetricsPath != "" {
		engine.GET(s.config.MetricsPath, gin.WrapH(s.metrics.Handler()))
	}

	api := engine.Group("/", s.tracing(), s.rateLimit(), s.timeout(), s.bodyLimit())
	s.registerRoutes(api)

	engine.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, string(vault.KindNotFound), "no such endpoint")
	})
	engine.NoMethod(func(c *gin.Context) {
		abortWithError(c, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	return engine
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("http server listening", observability.String("address", ln.Addr().String()))

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// ListenAndServe listens on the configured address and serves.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}
