package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// LookupEnvFunc looks up an environment variable.
type LookupEnvFunc func(key string) (string, bool)

// Loader loads configuration from files and readers.
type Loader struct {
	lookupEnv LookupEnvFunc
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLookupEnv replaces the environment lookup, os.LookupEnv by default.
func WithLookupEnv(fn LookupEnvFunc) LoaderOption {
	return func(l *Loader) {
		l.lookupEnv = fn
	}
}

// NewLoader creates a new configuration loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads, defaults, overrides and validates configuration. An empty path
// builds the configuration from defaults and the environment alone.
func Load(path string) (*GatewayConfig, error) {
	return NewLoader().Load(path)
}

// Load reads, defaults, overrides and validates configuration.
func (l *Loader) Load(path string) (*GatewayConfig, error) {
	cfg := baseConfig()

	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
		}
		data, err := os.ReadFile(absPath) //nolint:gosec // operator supplied path
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := l.decode(data, cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	return l.finish(cfg)
}

// LoadFromReader reads configuration from r, then defaults, overrides and
// validates it.
func (l *Loader) LoadFromReader(r io.Reader) (*GatewayConfig, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := baseConfig()
	if err := l.decode(data, cfg); err != nil {
		return nil, err
	}
	return l.finish(cfg)
}

func (l *Loader) finish(cfg *GatewayConfig) (*GatewayConfig, error) {
	cfg.ApplyDefaults()
	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// baseConfig holds the values that differ from the zero value and that a
// file may switch off.
func baseConfig() *GatewayConfig {
	return &GatewayConfig{
		Metrics: MetricsConfig{Enabled: true},
	}
}

// decode parses YAML into cfg after environment substitution. Unknown keys
// are rejected.
func (l *Loader) decode(data []byte, cfg *GatewayConfig) error {
	content := l.substituteEnvVars(string(data))

	dec := yaml.NewDecoder(bytes.NewReader([]byte(content)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// substituteEnvVars replaces ${VAR} and ${VAR:-default} patterns with
// environment variable values. $$ escapes a dollar sign.
func (l *Loader) substituteEnvVars(content string) string {
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		if value, exists := l.lookupEnv(submatches[1]); exists {
			return value
		}
		if len(submatches) >= 3 {
			return submatches[2]
		}
		return ""
	})

	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}
