package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vyrodovalexey/secretgw/internal/ratelimit"
	"github.com/vyrodovalexey/secretgw/internal/vault"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, e[i].Error())
	}
	return sb.String()
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "console": true}
)

// Validator validates gateway configuration.
type Validator struct {
	errors ValidationErrors
}

// ValidateConfig validates a gateway configuration.
func ValidateConfig(cfg *GatewayConfig) error {
	v := &Validator{}
	return v.Validate(cfg)
}

// Validate validates the configuration and returns all problems found.
func (v *Validator) Validate(cfg *GatewayConfig) error {
	v.errors = nil

	if cfg == nil {
		v.addError("", "configuration is nil")
		return v.errors
	}

	v.validateServer(&cfg.Server)
	v.validateVault(cfg)
	v.validateLogging(&cfg.Logging)
	v.validateTracing(&cfg.Tracing)
	v.validateMetrics(&cfg.Metrics)
	v.validateRateLimit(cfg)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

func (v *Validator) validateServer(s *ServerConfig) {
	if s.ListenAddr == "" {
		v.addError("server.listenAddr", "listen address is required")
	}
	if s.RequestTimeout < 0 {
		v.addError("server.requestTimeout", "cannot be negative")
	}
	if s.MaxBodyBytes < 0 {
		v.addError("server.maxBodyBytes", "cannot be negative")
	}
}

func (v *Validator) validateVault(cfg *GatewayConfig) {
	err := cfg.VaultClientConfig().Validate()
	if err == nil {
		return
	}

	var verr *vault.Error
	if errors.As(err, &verr) {
		path := "vault"
		if verr.Path != "" {
			path += "." + verr.Path
		}
		msg := strings.Join(verr.Messages, "; ")
		if msg == "" {
			msg = verr.PublicMessage()
		}
		v.addError(path, msg)
		return
	}
	v.addError("vault", err.Error())
}

func (v *Validator) validateLogging(l *LoggingConfig) {
	if !validLogLevels[strings.ToLower(l.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid level %q", l.Level))
	}
	if !validLogFormats[l.Format] {
		v.addError("logging.format", fmt.Sprintf("invalid format %q", l.Format))
	}
}

func (v *Validator) validateTracing(t *TracingConfig) {
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		v.addError("tracing.samplingRate", "must be between 0 and 1")
	}
	if t.Enabled && t.OTLPEndpoint == "" {
		v.addError("tracing.otlpEndpoint", "required when tracing is enabled")
	}
}

func (v *Validator) validateMetrics(m *MetricsConfig) {
	if m.Enabled && !strings.HasPrefix(m.Path, "/") {
		v.addError("metrics.path", "must start with /")
	}
}

func (v *Validator) validateRateLimit(cfg *GatewayConfig) {
	if !cfg.RateLimit.Enabled {
		return
	}
	if err := cfg.RateLimiterConfig().Validate(); err != nil {
		v.addError("rateLimit", err.Error())
	}
	if _, err := ratelimit.ParseKeyFunc(cfg.RateLimit.Key); err != nil {
		v.addError("rateLimit.key", err.Error())
	}
}
