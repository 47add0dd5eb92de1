// Package config provides configuration types and loading for the secrets
// gateway.
//
// Configuration comes from an optional YAML file with ${VAR} and
// ${VAR:-default} substitution, then defaults, then environment overrides
// (VAULT_ADDR, VAULT_TOKEN, ...). The result is validated before use.
//
// # Loading
//
//	cfg, err := config.Load("secretgw.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Hot reload
//
// A Watcher reloads the file on change. Only the log level and the rate limit
// are applied at runtime; Diff reports which sections changed:
//
//	watcher, err := config.NewWatcher(path, func(cfg *config.GatewayConfig) {
//	    changes := config.Diff(current, cfg)
//	    ...
//	}, config.WithLogger(logger))
//	watcher.Start(ctx)
package config
