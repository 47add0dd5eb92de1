package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/vyrodovalexey/secretgw/internal/observability"
)

// ciphertextPrefix starts every transit ciphertext token.
const ciphertextPrefix = "vault:v"

// TransitClient provides encryption as a service. Key material never leaves
// the store; callers handle key names and ciphertext tokens only.
type TransitClient interface {
	// CreateKey creates an aes256-gcm96 key. An existing key yields
	// ErrConflict. The token needs read on transit/keys/{name} as well as
	// create.
	CreateKey(ctx context.Context, name string) error

	// RotateKey adds a new key version. Older versions keep decrypting.
	RotateKey(ctx context.Context, name string) error

	// ReadKey returns key information without key material.
	ReadKey(ctx context.Context, name string) (*TransitKey, error)

	// Encrypt returns an opaque ciphertext token for plaintext, which may be
	// empty. An unknown key yields ErrNotFound.
	Encrypt(ctx context.Context, name string, plaintext []byte) (string, error)

	// Decrypt reverses Encrypt for any live version of the key.
	Decrypt(ctx context.Context, name, ciphertext string) ([]byte, error)
}

// TransitKey describes a named transit key.
type TransitKey struct {
	Name                 string `json:"name"`
	Type                 string `json:"type"`
	LatestVersion        int    `json:"latest_version"`
	MinDecryptionVersion int    `json:"min_decryption_version"`
	MinEncryptionVersion int    `json:"min_encryption_version"`
	DeletionAllowed      bool   `json:"deletion_allowed"`
	Exportable           bool   `json:"exportable"`
}

// transitClient implements TransitClient.
type transitClient struct {
	client *vaultClient
	mount  string

	// createMu serializes CreateKey within this process.
	createMu sync.Mutex
}

// ReadKey reads key information.
func (t *transitClient) ReadKey(ctx context.Context, name string) (*TransitKey, error) {
	const op = "transit.read_key"

	if err := ValidateName(op, "name", name); err != nil {
		return nil, err
	}

	key, err := t.readKey(ctx, op, name)
	t.client.metrics.RecordOperation(op, err)
	return key, err
}

// readKey is ReadKey without validation or metrics, shared by the
// operations that must confirm a key exists first.
func (t *transitClient) readKey(ctx context.Context, op, name string) (*TransitKey, error) {
	var key TransitKey
	err := t.client.withRetry(ctx, op, func(ctx context.Context) error {
		resp, err := t.client.do(ctx, &Request{Method: http.MethodGet, Path: JoinPath(t.mount, "keys", name)})
		if err != nil {
			return err
		}
		var envelope struct {
			Data *TransitKey `json:"data"`
		}
		if err := resp.Decode(&envelope); err != nil || envelope.Data == nil {
			return malformed(op, name, err)
		}
		key = *envelope.Data
		return nil
	})
	if err != nil {
		return nil, notFoundOn404(err, op, name)
	}
	if key.Name == "" {
		key.Name = name
	}
	return &key, nil
}

// CreateKey creates a key unless one with the same name exists. Vault's
// create endpoint is an upsert, so existence is checked first. Concurrent
// calls through one client are serialized and exactly one succeeds. Another
// gateway instance creating the same name between the check and the create
// is not detected; both callers then see success for the same key.
func (t *transitClient) CreateKey(ctx context.Context, name string) error {
	const op = "transit.create_key"

	if err := ValidateName(op, "name", name); err != nil {
		return err
	}

	err := t.createKey(ctx, op, name)
	t.client.metrics.RecordOperation(op, err)
	if err != nil {
		return err
	}

	t.client.logger.WithContext(ctx).Info("transit key created", observability.String("key", name))
	return nil
}

func (t *transitClient) createKey(ctx context.Context, op, name string) error {
	t.createMu.Lock()
	defer t.createMu.Unlock()

	_, err := t.readKey(ctx, op, name)
	switch {
	case err == nil:
		return newError(KindConflict, op, name, nil)
	case !IsNotFound(err):
		return err
	}

	_, err = t.client.do(ctx, &Request{
		Method: http.MethodPost,
		Path:   JoinPath(t.mount, "keys", name),
		Body:   map[string]interface{}{"type": DefaultTransitKeyType},
	})
	return annotate(err, op, name)
}

// RotateKey rotates a key. It is not retried because each call adds a version.
func (t *transitClient) RotateKey(ctx context.Context, name string) error {
	const op = "transit.rotate_key"

	if err := ValidateName(op, "name", name); err != nil {
		return err
	}

	_, err := t.client.do(ctx, &Request{
		Method: http.MethodPost,
		Path:   JoinPath(t.mount, "keys", name, "rotate"),
	})
	if isStatus(err, http.StatusNotFound) ||
		(isStatus(err, http.StatusBadRequest) && hasMessage(err, "not found", "no existing key")) {
		err = annotate(err, op, name, KindNotFound)
	} else {
		err = annotate(err, op, name)
	}
	t.client.metrics.RecordOperation(op, err)
	if err != nil {
		return err
	}

	t.client.logger.WithContext(ctx).Info("transit key rotated", observability.String("key", name))
	return nil
}

// Encrypt encrypts plaintext with the named key. The key must already
// exist; Vault would otherwise create it on first use. Existence is read
// from transit/keys/{name}. Tokens that may encrypt but not read keys skip
// that check and rely on Vault refusing an unknown key.
func (t *transitClient) Encrypt(ctx context.Context, name string, plaintext []byte) (string, error) {
	const op = "transit.encrypt"

	if err := ValidateName(op, "keyName", name); err != nil {
		return "", err
	}

	ciphertext, err := t.encrypt(ctx, op, name, plaintext)
	t.client.metrics.RecordOperation(op, err)
	if err != nil {
		return "", err
	}

	t.client.logger.WithContext(ctx).Debug("data encrypted", observability.String("key", name))
	return ciphertext, nil
}

func (t *transitClient) encrypt(ctx context.Context, op, name string, plaintext []byte) (string, error) {
	if _, err := t.readKey(ctx, op, name); err != nil && !IsAuthError(err) {
		return "", err
	}

	body := map[string]interface{}{
		"plaintext": base64.StdEncoding.EncodeToString(plaintext),
	}

	var ciphertext string
	err := t.client.withRetry(ctx, op, func(ctx context.Context) error {
		resp, err := t.client.do(ctx, &Request{
			Method: http.MethodPost,
			Path:   JoinPath(t.mount, "encrypt", name),
			Body:   body,
		})
		if err != nil {
			return err
		}
		secret, err := resp.Secret()
		if err != nil || secret == nil || secret.Data == nil {
			return malformed(op, name, err)
		}
		ct, ok := secret.Data["ciphertext"].(string)
		if !ok || ct == "" {
			return malformed(op, name, errors.New("ciphertext missing from response"))
		}
		ciphertext = ct
		return nil
	})
	switch {
	case err == nil:
		return ciphertext, nil
	case isStatus(err, http.StatusBadRequest) && hasMessage(err, "key not found"):
		return "", annotate(err, op, name, KindNotFound)
	default:
		return "", notFoundOn404(err, op, name)
	}
}

// Decrypt decrypts a ciphertext token produced by Encrypt.
func (t *transitClient) Decrypt(ctx context.Context, name, ciphertext string) ([]byte, error) {
	const op = "transit.decrypt"

	if err := ValidateName(op, "keyName", name); err != nil {
		return nil, err
	}
	if ciphertext == "" {
		return nil, NewValidationError(op, "data", "ciphertext is required")
	}

	plaintext, err := t.decrypt(ctx, op, name, ciphertext)
	t.client.metrics.RecordOperation(op, err)
	if err != nil {
		return nil, err
	}

	t.client.logger.WithContext(ctx).Debug("data decrypted", observability.String("key", name))
	return plaintext, nil
}

func (t *transitClient) decrypt(ctx context.Context, op, name, ciphertext string) ([]byte, error) {
	if !strings.HasPrefix(ciphertext, ciphertextPrefix) {
		return nil, newError(KindInvalidCiphertext, op, name, nil)
	}

	var encoded string
	err := t.client.withRetry(ctx, op, func(ctx context.Context) error {
		resp, err := t.client.do(ctx, &Request{
			Method: http.MethodPost,
			Path:   JoinPath(t.mount, "decrypt", name),
			Body:   map[string]interface{}{"ciphertext": ciphertext},
		})
		if err != nil {
			return err
		}
		secret, err := resp.Secret()
		if err != nil || secret == nil || secret.Data == nil {
			return malformed(op, name, err)
		}
		pt, ok := secret.Data["plaintext"].(string)
		if !ok {
			return malformed(op, name, errors.New("plaintext missing from response"))
		}
		encoded = pt
		return nil
	})

	switch {
	case err == nil:
	case isStatus(err, http.StatusNotFound),
		isStatus(err, http.StatusBadRequest) && hasMessage(err, "key not found", "encryption key not found"):
		return nil, annotate(err, op, name, KindNotFound)
	case isStatus(err, http.StatusBadRequest):
		return nil, annotate(err, op, name, KindInvalidCiphertext)
	default:
		return nil, annotate(err, op, name)
	}

	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, malformed(op, name, err)
	}
	return plaintext, nil
}

var _ TransitClient = (*transitClient)(nil)
