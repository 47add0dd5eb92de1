package main

import (
	"context"
	"sync"

	"github.com/vyrodovalexey/secretgw/internal/config"
	"github.com/vyrodovalexey/secretgw/internal/observability"
)

// reloader applies configuration changes that are safe at runtime: the log
// level and the rate limit budget. Other changes are reported and wait for a
// restart.
type reloader struct {
	app    *application
	logger observability.Logger

	mu      sync.Mutex
	current *config.GatewayConfig
}

func newReloader(app *application) *reloader {
	return &reloader{app: app, logger: app.logger, current: app.config}
}

// apply reconciles the running gateway with next.
func (r *reloader) apply(next *config.GatewayConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	changes := config.Diff(r.current, next)

	if changes.LogLevel {
		if err := r.logger.SetLevel(next.Logging.Level); err != nil {
			r.logger.Error("failed to apply log level", observability.Error(err))
		} else {
			r.logger.Info("log level changed", observability.String("level", next.Logging.Level))
		}
	}

	if changes.RateLimit {
		limit := next.RateLimitLimit()
		r.app.limiter.SetLimit(limit)
		r.logger.Info("rate limit changed",
			observability.Int("requests", limit.Requests),
			observability.Duration("window", limit.Window),
			observability.Int("burst", limit.Burst),
		)
	}

	if len(changes.Restart) > 0 {
		r.logger.Warn("configuration changes require a restart",
			observability.Strings("sections", changes.Restart),
		)
	}

	r.current = next
}

// startConfigWatcher watches the configuration file when one was given.
// Failing to watch is not fatal.
func startConfigWatcher(
	ctx context.Context,
	app *application,
	flags cliFlags,
	logger observability.Logger,
) *config.Watcher {
	if flags.configPath == "" {
		return nil
	}

	r := newReloader(app)
	watcher, err := config.NewWatcher(flags.configPath, func(next *config.GatewayConfig) {
		logger.Info("configuration changed, reloading")
		r.apply(withFlagOverrides(next, flags))
	}, config.WithLogger(logger))
	if err != nil {
		logger.Warn("failed to create config watcher", observability.Error(err))
		return nil
	}

	if err := watcher.Start(ctx); err != nil {
		logger.Warn("failed to start config watcher", observability.Error(err))
		return nil
	}
	return watcher
}

// withFlagOverrides keeps command line log settings authoritative across
// reloads.
func withFlagOverrides(cfg *config.GatewayConfig, flags cliFlags) *config.GatewayConfig {
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	return cfg
}
