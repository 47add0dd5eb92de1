// Package main is the entry point for the secrets gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/secretgw/internal/config"
	"github.com/vyrodovalexey/secretgw/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	if flags.showVersion {
		printVersion(os.Stdout)
		return
	}

	if err := run(flags); err != nil {
		fmt.Fprintf(os.Stderr, "secretgw: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses command line flags. Log flags left empty defer to the
// configuration file.
func parseFlags(args []string, output io.Writer) (cliFlags, error) {
	fs := flag.NewFlagSet("secretgw", flag.ContinueOnError)
	fs.SetOutput(output)

	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("SECRETGW_CONFIG_PATH", ""),
		"Path to configuration file; empty uses defaults and environment")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format (json, console)")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")

	if err := fs.Parse(args); err != nil {
		return cliFlags{}, err
	}
	return f, nil
}

// printVersion prints version information.
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "secretgw version %s\n", version)
	fmt.Fprintf(w, "  Build time: %s\n", buildTime)
	fmt.Fprintf(w, "  Git commit: %s\n", gitCommit)
}

// loadConfig loads the configuration and applies flag overrides.
func loadConfig(flags cliFlags) (*config.GatewayConfig, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run starts the gateway and blocks until a shutdown signal.
func run(flags cliFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := observability.NewLogger(cfg.LogConfig())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	observability.SetGlobalLogger(logger)

	logger.Info("starting secretgw",
		observability.String("version", version),
		observability.String("config", flags.configPath),
		observability.String("vault_address", cfg.Vault.Address),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}

	watcher := startConfigWatcher(ctx, app, flags, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", observability.String("address", cfg.Server.ListenAddr))
		errCh <- app.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.close(context.Background())
			return fmt.Errorf("serving: %w", err)
		}
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if watcher != nil {
		_ = watcher.Stop()
	}
	app.close(shutdownCtx)

	logger.Info("secretgw stopped")
	return nil
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
