package vault_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/secretgw/internal/vault"
	"github.com/vyrodovalexey/secretgw/internal/vault/vaulttest"
)

func TestOperations_WrongTokenIsAuthError(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t,
		vaulttest.WithToken("expected"),
		vaulttest.WithRole("readonly", vaulttest.Role{TTL: time.Hour, Renewable: true}),
	)
	srv.PutSecret("team/db", map[string]interface{}{"pass": "hunter2"})

	client := newTestClient(t, srv, func(cfg *vault.Config) {
		cfg.Token = "wrong"
	})
	kv, transit, leases := client.KV(), client.Transit(), client.Leases()

	const leaseID = "database/creds/readonly/abc"

	tests := []struct {
		name string
		call func(ctx context.Context) error
	}{
		{"kv get", func(ctx context.Context) error {
			_, err := kv.Get(ctx, "team/db")
			return err
		}},
		{"kv list", func(ctx context.Context) error {
			_, err := kv.List(ctx, "team")
			return err
		}},
		{"kv list root", func(ctx context.Context) error {
			_, err := kv.List(ctx, "")
			return err
		}},
		{"kv put", func(ctx context.Context) error {
			return kv.Put(ctx, "team/db", map[string]interface{}{"pass": "x"})
		}},
		{"kv delete", func(ctx context.Context) error {
			return kv.Delete(ctx, "team/db")
		}},
		{"kv metadata", func(ctx context.Context) error {
			_, err := kv.Metadata(ctx, "team/db")
			return err
		}},
		{"transit create key", func(ctx context.Context) error {
			return transit.CreateKey(ctx, "billing")
		}},
		{"transit rotate key", func(ctx context.Context) error {
			return transit.RotateKey(ctx, "billing")
		}},
		{"transit read key", func(ctx context.Context) error {
			_, err := transit.ReadKey(ctx, "billing")
			return err
		}},
		{"transit encrypt", func(ctx context.Context) error {
			_, err := transit.Encrypt(ctx, "billing", []byte("42"))
			return err
		}},
		{"transit decrypt", func(ctx context.Context) error {
			_, err := transit.Decrypt(ctx, "billing", "vault:v1:eA==")
			return err
		}},
		{"lease issue", func(ctx context.Context) error {
			_, err := leases.IssueCredentials(ctx, "readonly")
			return err
		}},
		{"lease renew", func(ctx context.Context) error {
			_, err := leases.Renew(ctx, leaseID, time.Minute)
			return err
		}},
		{"lease revoke", func(ctx context.Context) error {
			return leases.Revoke(ctx, leaseID)
		}},
		{"lease lookup", func(ctx context.Context) error {
			_, err := leases.Lookup(ctx, leaseID)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(context.Background())
			require.Error(t, err)
			assert.True(t, vault.IsAuthError(err), "got %v", err)
			assert.Equal(t, vault.KindAuth, vault.KindOf(err))
			assert.Equal(t, http.StatusForbidden, vault.StatusOf(err))
		})
	}

	// Nothing was written with the rejected token.
	got, ok := srv.Secret("team/db")
	require.True(t, ok)
	assert.Equal(t, "hunter2", got["pass"])
	assert.Equal(t, 0, srv.KeyVersion("billing"))
}
