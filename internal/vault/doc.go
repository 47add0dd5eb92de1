// Package vault is the gateway's client for HashiCorp Vault.
//
// It exposes three groups of operations over a single authenticated
// connection:
//
//   - KV: read, list, write and delete entries of a KV v2 mount
//   - Transit: create and rotate named keys, encrypt and decrypt payloads
//   - Leases: issue dynamic database credentials, renew, revoke and look up
//     their leases
//
// # Transport
//
// Requests go through the official vault/api client with its own retries
// disabled. A Transport classifies every failure into an *Error:
// unreachable store, permission denied, or a store error carrying the HTTP
// status and Vault's error strings. Each operation then narrows store errors
// into its own kinds, such as NotFound or InvalidCiphertext.
//
// The transport is wrapped by a circuit breaker (sony/gobreaker) and
// idempotent operations are retried with exponential backoff on
// connectivity failures and 5xx or 429 answers.
//
// # Usage
//
//	client, err := vault.New(&vault.Config{
//	    Address: "https://vault.example.com:8200",
//	    Token:   os.Getenv("VAULT_TOKEN"),
//	}, logger, vault.WithMetrics(metrics))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	data, err := client.KV().Get(ctx, "app/config")
//	if vault.IsNotFound(err) {
//	    // ...
//	}
//
// Errors match the sentinel of their kind through errors.Is, for example
// errors.Is(err, vault.ErrInvalidCiphertext). PublicMessage never includes
// the underlying cause, which may carry URLs or request details.
package vault
