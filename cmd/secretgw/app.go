package main

import (
	"context"
	"fmt"

	"github.com/vyrodovalexey/secretgw/internal/config"
	"github.com/vyrodovalexey/secretgw/internal/observability"
	"github.com/vyrodovalexey/secretgw/internal/ratelimit"
	"github.com/vyrodovalexey/secretgw/internal/server"
	"github.com/vyrodovalexey/secretgw/internal/vault"
)

// application holds all application components.
type application struct {
	config  *config.GatewayConfig
	logger  observability.Logger
	metrics *observability.Metrics
	tracer  *observability.Tracer
	client  vault.Client
	limiter ratelimit.Limiter
	server  *server.Server
}

// newApplication wires the components described by cfg. On error every
// component created so far is released.
func newApplication(ctx context.Context, cfg *config.GatewayConfig, logger observability.Logger) (*application, error) {
	app := &application{config: cfg, logger: logger}
	ready := false
	defer func() {
		if !ready {
			app.close(context.Background())
		}
	}()

	var err error

	app.metrics = observability.NewMetrics(cfg.Metrics.Namespace)
	app.metrics.SetBuildInfo(version, gitCommit, buildTime)

	observability.RouteOTelDiagnostics(logger)
	app.tracer, err = observability.NewTracer(ctx, cfg.TracerConfig(version))
	if err != nil {
		return nil, fmt.Errorf("initializing tracer: %w", err)
	}

	vaultMetrics := vault.NewMetrics(cfg.Metrics.Namespace)
	limiterMetrics := ratelimit.NewMetrics(cfg.Metrics.Namespace)
	app.metrics.Registry().MustRegister(vaultMetrics.Collectors()...)
	app.metrics.Registry().MustRegister(limiterMetrics.Collectors()...)

	app.client, err = vault.New(cfg.VaultClientConfig(), logger, vault.WithMetrics(vaultMetrics))
	if err != nil {
		return nil, fmt.Errorf("creating vault client: %w", err)
	}

	app.limiter, err = ratelimit.New(ctx, cfg.RateLimiterConfig(), logger, limiterMetrics)
	if err != nil {
		return nil, fmt.Errorf("creating rate limiter: %w", err)
	}

	srvCfg, err := serverConfig(cfg)
	if err != nil {
		return nil, err
	}
	app.server = server.New(srvCfg, app.client,
		server.WithLogger(logger),
		server.WithMetrics(app.metrics),
		server.WithLimiter(app.limiter),
	)

	ready = true
	return app, nil
}

// serverConfig converts the server section.
func serverConfig(cfg *config.GatewayConfig) (server.Config, error) {
	keyFunc, err := ratelimit.ParseKeyFunc(cfg.RateLimit.Key)
	if err != nil {
		return server.Config{}, fmt.Errorf("rateLimit.key: %w", err)
	}

	sc := server.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		ReadTimeout:     cfg.Server.ReadTimeout.Duration(),
		WriteTimeout:    cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:     cfg.Server.IdleTimeout.Duration(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
		RequestTimeout:  cfg.Server.RequestTimeout.Duration(),
		MaxBodyBytes:    cfg.Server.MaxBodyBytes,
		RateLimitKey:    keyFunc,
		ServiceName:     cfg.Tracing.ServiceName,
	}
	if cfg.Metrics.Enabled {
		sc.MetricsPath = cfg.Metrics.Path
	}
	return sc, nil
}

// close releases components in reverse order of creation. The store client
// closes after the server has drained.
func (a *application) close(ctx context.Context) {
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("failed to stop server gracefully", observability.Error(err))
		}
	}
	if a.limiter != nil {
		if err := a.limiter.Close(); err != nil {
			a.logger.Error("failed to close rate limiter", observability.Error(err))
		}
	}
	if a.client != nil {
		if err := a.client.Close(); err != nil {
			a.logger.Error("failed to close vault client", observability.Error(err))
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Error("failed to shutdown tracer", observability.Error(err))
		}
	}
}
