package vault_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/secretgw/internal/vault"
	"github.com/vyrodovalexey/secretgw/internal/vault/vaulttest"
)

func TestTransit_CreateEncryptDecrypt(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t)
	transit := newTestClient(t, srv).Transit()
	ctx := context.Background()

	require.NoError(t, transit.CreateKey(ctx, "orders"))

	ciphertext, err := transit.Encrypt(ctx, "orders", []byte("card=4111"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ciphertext, "vault:v1:"), ciphertext)
	assert.NotContains(t, ciphertext, "card=4111")

	plaintext, err := transit.Decrypt(ctx, "orders", ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("card=4111"), plaintext)
}

func TestTransit_CreateKey_Conflict(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t)
	transit := newTestClient(t, srv).Transit()
	ctx := context.Background()

	require.NoError(t, transit.CreateKey(ctx, "dup"))

	err := transit.CreateKey(ctx, "dup")
	require.Error(t, err)
	assert.ErrorIs(t, err, vault.ErrConflict)
	assert.Equal(t, 1, srv.Requests(http.MethodPost, "transit/keys/dup"))
	assert.Equal(t, 1, srv.KeyVersion("dup"))
}

func TestTransit_RotateKeepsOldCiphertext(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t)
	transit := newTestClient(t, srv).Transit()
	ctx := context.Background()

	require.NoError(t, transit.CreateKey(ctx, "k"))
	v1, err := transit.Encrypt(ctx, "k", []byte("before"))
	require.NoError(t, err)

	require.NoError(t, transit.RotateKey(ctx, "k"))

	key, err := transit.ReadKey(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 2, key.LatestVersion)
	assert.Equal(t, "aes256-gcm96", key.Type)

	v2, err := transit.Encrypt(ctx, "k", []byte("after"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(v2, "vault:v2:"), v2)

	pt, err := transit.Decrypt(ctx, "k", v1)
	require.NoError(t, err)
	assert.Equal(t, "before", string(pt))

	pt, err = transit.Decrypt(ctx, "k", v2)
	require.NoError(t, err)
	assert.Equal(t, "after", string(pt))
}

func TestTransit_RotateKey_NotFound(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t)
	transit := newTestClient(t, srv).Transit()

	err := transit.RotateKey(context.Background(), "missing")
	assert.True(t, vault.IsNotFound(err))
	assert.Equal(t, 1, srv.Requests(http.MethodPost, "transit/keys/missing/rotate"))
}

func TestTransit_Encrypt_MissingKey(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t)
	transit := newTestClient(t, srv).Transit()

	_, err := transit.Encrypt(context.Background(), "absent", []byte("x"))
	assert.True(t, vault.IsNotFound(err))

	// The key must not be created as a side effect.
	assert.Equal(t, 0, srv.KeyVersion("absent"))
	assert.Equal(t, 0, srv.Requests(http.MethodPost, "transit/encrypt/absent"))
}

func TestTransit_Decrypt_Failures(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t)
	transit := newTestClient(t, srv).Transit()
	ctx := context.Background()

	require.NoError(t, transit.CreateKey(ctx, "a"))
	require.NoError(t, transit.CreateKey(ctx, "b"))
	fromA, err := transit.Encrypt(ctx, "a", []byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name       string
		key        string
		ciphertext string
		wantErr    error
		wantCalls  int
	}{
		{
			name:       "missing prefix",
			key:        "a",
			ciphertext: "not-a-ciphertext",
			wantErr:    vault.ErrInvalidCiphertext,
			wantCalls:  0,
		},
		{
			name:       "wrong key",
			key:        "b",
			ciphertext: fromA,
			wantErr:    vault.ErrInvalidCiphertext,
			wantCalls:  1,
		},
		{
			name:       "corrupted body",
			key:        "a",
			ciphertext: "vault:v1:%%%",
			wantErr:    vault.ErrInvalidCiphertext,
			wantCalls:  1,
		},
		{
			name:       "unknown key",
			key:        "nokey",
			ciphertext: fromA,
			wantErr:    vault.ErrNotFound,
			wantCalls:  1,
		},
		{
			name:       "empty ciphertext",
			key:        "a",
			ciphertext: "",
			wantErr:    vault.ErrValidation,
			wantCalls:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := srv.Requests(http.MethodPost, "transit/decrypt/"+tt.key)

			pt, err := transit.Decrypt(ctx, tt.key, tt.ciphertext)
			require.Error(t, err)
			assert.Nil(t, pt)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantCalls, srv.Requests(http.MethodPost, "transit/decrypt/"+tt.key)-before)
		})
	}
}

func TestTransit_Validation(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t)
	transit := newTestClient(t, srv).Transit()
	ctx := context.Background()

	assert.ErrorIs(t, transit.CreateKey(ctx, ""), vault.ErrValidation)
	assert.ErrorIs(t, transit.CreateKey(ctx, "a/b"), vault.ErrValidation)
	assert.ErrorIs(t, transit.RotateKey(ctx, ".."), vault.ErrValidation)

	_, err := transit.Encrypt(ctx, "", []byte("x"))
	assert.ErrorIs(t, err, vault.ErrValidation)

	_, err = transit.Decrypt(ctx, "k", "")
	assert.ErrorIs(t, err, vault.ErrValidation)

	_, err = transit.ReadKey(ctx, "")
	assert.ErrorIs(t, err, vault.ErrValidation)
}

func TestTransit_CreateKey_NotRetried(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t)
	transit := newTestClient(t, srv).Transit()
	srv.FailNext("transit/keys/once", 1, http.StatusNotFound)
	srv.FailNext("transit/keys/once", 1, http.StatusServiceUnavailable, "overloaded")

	err := transit.CreateKey(context.Background(), "once")
	require.Error(t, err)
	assert.Equal(t, vault.KindStore, vault.KindOf(err))
	assert.Equal(t, http.StatusServiceUnavailable, vault.StatusOf(err))
	assert.Equal(t, 1, srv.Requests(http.MethodPost, "transit/keys/once"))
}

func TestTransit_EmptyPlaintextRoundTrip(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t)
	transit := newTestClient(t, srv).Transit()
	ctx := context.Background()

	require.NoError(t, transit.CreateKey(ctx, "billing"))

	for _, plaintext := range [][]byte{nil, {}} {
		ciphertext, err := transit.Encrypt(ctx, "billing", plaintext)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(ciphertext, "vault:v1:"), ciphertext)

		got, err := transit.Decrypt(ctx, "billing", ciphertext)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestTransit_Encrypt_WithoutKeyReadCapability(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t)
	transit := newTestClient(t, srv).Transit()
	ctx := context.Background()

	require.NoError(t, transit.CreateKey(ctx, "billing"))
	srv.Deny(http.MethodGet, "transit/keys/")

	ciphertext, err := transit.Encrypt(ctx, "billing", []byte("42"))
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Requests(http.MethodPost, "transit/encrypt/billing"))

	plaintext, err := transit.Decrypt(ctx, "billing", ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "42", string(plaintext))
}

func TestTransit_Encrypt_WithoutKeyReadCapability_UnknownKey(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t)
	transit := newTestClient(t, srv).Transit()
	srv.Deny(http.MethodGet, "transit/keys/")
	srv.FailNext("transit/encrypt/ghost", 1, http.StatusBadRequest, "encryption key not found")

	_, err := transit.Encrypt(context.Background(), "ghost", []byte("42"))
	require.Error(t, err)
	assert.True(t, vault.IsNotFound(err), "got %v", err)
	assert.Equal(t, 1, srv.Requests(http.MethodPost, "transit/encrypt/ghost"))
}

func TestTransit_CreateKey_WithoutKeyReadCapability(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t)
	transit := newTestClient(t, srv).Transit()
	srv.Deny(http.MethodGet, "transit/keys/")

	err := transit.CreateKey(context.Background(), "billing")
	assert.True(t, vault.IsAuthError(err), "got %v", err)
	assert.Equal(t, 0, srv.Requests(http.MethodPost, "transit/keys/billing"))
	assert.Equal(t, 0, srv.KeyVersion("billing"))
}

func TestTransit_CreateKey_ConcurrentSameName(t *testing.T) {
	t.Parallel()

	srv := vaulttest.NewServer(t)
	transit := newTestClient(t, srv).Transit()

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = transit.CreateKey(context.Background(), "race")
		}(i)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, vault.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, callers-1, conflicts)
	assert.Equal(t, 1, srv.Requests(http.MethodPost, "transit/keys/race"))
}
