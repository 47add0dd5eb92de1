package config

import (
	"fmt"
	"strconv"
)

// Environment variables that override the file.
const (
	EnvVaultAddr       = "VAULT_ADDR"
	EnvVaultToken      = "VAULT_TOKEN"
	EnvVaultNamespace  = "VAULT_NAMESPACE"
	EnvVaultCACert     = "VAULT_CACERT"
	EnvVaultSkipVerify = "VAULT_SKIP_VERIFY"
	EnvListenAddr      = "SECRETGW_LISTEN_ADDR"
	EnvLogLevel        = "SECRETGW_LOG_LEVEL"
)

// applyEnv overrides configuration from the environment. Empty values are
// ignored.
func (l *Loader) applyEnv(cfg *GatewayConfig) error {
	if v, ok := l.env(EnvVaultAddr); ok {
		cfg.Vault.Address = v
	}
	if v, ok := l.env(EnvVaultToken); ok {
		cfg.Vault.Token = v
	}
	if v, ok := l.env(EnvVaultNamespace); ok {
		cfg.Vault.Namespace = v
	}
	if v, ok := l.env(EnvVaultCACert); ok {
		cfg.vaultTLS().CACert = v
	}
	if v, ok := l.env(EnvVaultSkipVerify); ok {
		skip, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvVaultSkipVerify, err)
		}
		cfg.vaultTLS().SkipVerify = skip
	}
	if v, ok := l.env(EnvListenAddr); ok {
		cfg.Server.ListenAddr = v
	}
	if v, ok := l.env(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	return nil
}

func (l *Loader) env(key string) (string, bool) {
	v, ok := l.lookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (c *GatewayConfig) vaultTLS() *VaultTLSConfig {
	if c.Vault.TLS == nil {
		c.Vault.TLS = &VaultTLSConfig{}
	}
	return c.Vault.TLS
}
