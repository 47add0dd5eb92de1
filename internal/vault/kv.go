package vault

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"time"

	vaultapi "github.com/hashicorp/vault/api"

	"github.com/vyrodovalexey/secretgw/internal/observability"
)

// KVClient provides secret operations against a KV v2 mount. Paths are
// slash-delimited and relative to the mount; only the current version of an
// entry is read or written.
type KVClient interface {
	// Get returns the value map stored at path.
	Get(ctx context.Context, path string) (map[string]interface{}, error)

	// List returns the sorted immediate child names under path. Folders end
	// with "/". An existing path without children yields an empty slice and an
	// absent path yields ErrNotFound. Telling those two apart needs read on
	// {mount}/metadata/{path}; a token with list but not read gets ErrAuth
	// for a leaf entry.
	List(ctx context.Context, path string) ([]string, error)

	// Put replaces the value at path.
	Put(ctx context.Context, path string, data map[string]interface{}) error

	// Delete destroys every version and the metadata at path. Deleting an
	// absent path succeeds.
	Delete(ctx context.Context, path string) error

	// Metadata returns version bookkeeping for path.
	Metadata(ctx context.Context, path string) (*SecretMetadata, error)
}

// SecretMetadata describes the versions of a secret entry.
type SecretMetadata struct {
	Path           string    `json:"path"`
	CurrentVersion int64     `json:"current_version"`
	OldestVersion  int64     `json:"oldest_version"`
	CreatedTime    time.Time `json:"created_time"`
	UpdatedTime    time.Time `json:"updated_time"`
}

// kvClient implements KVClient.
type kvClient struct {
	client *vaultClient
	mount  string
}

var listQuery = url.Values{"list": {"true"}}

// Get reads the current version of a secret.
func (k *kvClient) Get(ctx context.Context, path string) (map[string]interface{}, error) {
	const op = "kv.get"

	path = NormalizePath(path)
	if err := ValidateSecretPath(op, path, false); err != nil {
		return nil, err
	}

	var data map[string]interface{}
	err := k.client.withRetry(ctx, op, func(ctx context.Context) error {
		resp, err := k.client.do(ctx, &Request{Method: http.MethodGet, Path: JoinPath(k.mount, "data", path)})
		if err != nil {
			return err
		}
		secret, err := resp.Secret()
		if err != nil {
			return malformed(op, path, err)
		}
		data, err = secretData(secret)
		return err
	})
	err = notFoundOn404(err, op, path)
	k.client.metrics.RecordOperation(op, err)
	if err != nil {
		return nil, err
	}

	k.client.logger.WithContext(ctx).Debug("secret read", observability.String("path", path))
	return data, nil
}

// secretData extracts the value map from a KV v2 read. A soft-deleted or
// destroyed version carries "data": null.
func secretData(secret *vaultapi.Secret) (map[string]interface{}, error) {
	if secret == nil || secret.Data == nil {
		return nil, newError(KindNotFound, "", "", nil)
	}
	raw, ok := secret.Data["data"]
	if !ok || raw == nil {
		return nil, newError(KindNotFound, "", "", nil)
	}
	data, ok := raw.(map[string]interface{})
	if !ok {
		return nil, malformed("", "", errors.New("kv data is not an object"))
	}
	return data, nil
}

// List lists the children of path.
func (k *kvClient) List(ctx context.Context, path string) ([]string, error) {
	const op = "kv.list"

	path = NormalizePath(path)
	if err := ValidateSecretPath(op, path, true); err != nil {
		return nil, err
	}

	var keys []string
	err := k.client.withRetry(ctx, op, func(ctx context.Context) error {
		resp, err := k.client.do(ctx, &Request{
			Method: http.MethodGet,
			Path:   JoinPath(k.mount, "metadata", path),
			Query:  listQuery,
		})
		if err != nil {
			return err
		}
		secret, err := resp.Secret()
		if err != nil {
			return malformed(op, path, err)
		}
		keys = listKeys(secret)
		return nil
	})

	if isStatus(err, http.StatusNotFound) {
		// Vault answers 404 both for an absent path and for an empty mount.
		err = k.resolveEmptyListing(ctx, path)
		keys = []string{}
	}
	err = annotate(err, op, path)
	k.client.metrics.RecordOperation(op, err)
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}

// resolveEmptyListing decides between an empty listing and NotFound after
// LIST returned 404. It reads the metadata, so a denied read surfaces as
// the auth error.
func (k *kvClient) resolveEmptyListing(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}
	_, err := k.readMetadata(ctx, path)
	if err == nil {
		return nil
	}
	if isStatus(err, http.StatusNotFound) {
		return newError(KindNotFound, "", path, nil)
	}
	return err
}

func listKeys(secret *vaultapi.Secret) []string {
	if secret == nil || secret.Data == nil {
		return []string{}
	}
	raw, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return []string{}
	}
	keys := make([]string, 0, len(raw))
	for _, key := range raw {
		if s, ok := key.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys
}

// Put writes a new current version.
func (k *kvClient) Put(ctx context.Context, path string, data map[string]interface{}) error {
	const op = "kv.put"

	path = NormalizePath(path)
	if err := ValidateSecretPath(op, path, false); err != nil {
		return err
	}
	if data == nil {
		return NewValidationError(op, "data", "data is required")
	}

	err := k.client.withRetry(ctx, op, func(ctx context.Context) error {
		_, err := k.client.do(ctx, &Request{
			Method: http.MethodPost,
			Path:   JoinPath(k.mount, "data", path),
			Body:   map[string]interface{}{"data": data},
		})
		return err
	})
	k.client.metrics.RecordOperation(op, err)
	if err != nil {
		return annotate(err, op, path)
	}

	k.client.logger.WithContext(ctx).Debug("secret written", observability.String("path", path))
	return nil
}

// Delete removes the metadata and all versions.
func (k *kvClient) Delete(ctx context.Context, path string) error {
	const op = "kv.delete"

	path = NormalizePath(path)
	if err := ValidateSecretPath(op, path, false); err != nil {
		return err
	}

	err := k.client.withRetry(ctx, op, func(ctx context.Context) error {
		_, err := k.client.do(ctx, &Request{
			Method: http.MethodDelete,
			Path:   JoinPath(k.mount, "metadata", path),
		})
		return err
	})
	if isStatus(err, http.StatusNotFound) {
		err = nil
	}
	k.client.metrics.RecordOperation(op, err)
	if err != nil {
		return annotate(err, op, path)
	}

	k.client.logger.WithContext(ctx).Debug("secret deleted", observability.String("path", path))
	return nil
}

// Metadata reads version bookkeeping.
func (k *kvClient) Metadata(ctx context.Context, path string) (*SecretMetadata, error) {
	const op = "kv.metadata"

	path = NormalizePath(path)
	if err := ValidateSecretPath(op, path, false); err != nil {
		return nil, err
	}

	var meta *SecretMetadata
	err := k.client.withRetry(ctx, op, func(ctx context.Context) error {
		var err error
		meta, err = k.readMetadata(ctx, path)
		return err
	})
	err = notFoundOn404(err, op, path)
	k.client.metrics.RecordOperation(op, err)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// metadataBody is the data section of a KV v2 metadata read.
type metadataBody struct {
	CurrentVersion int64     `json:"current_version"`
	OldestVersion  int64     `json:"oldest_version"`
	CreatedTime    time.Time `json:"created_time"`
	UpdatedTime    time.Time `json:"updated_time"`
}

func (k *kvClient) readMetadata(ctx context.Context, path string) (*SecretMetadata, error) {
	resp, err := k.client.do(ctx, &Request{Method: http.MethodGet, Path: JoinPath(k.mount, "metadata", path)})
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Data *metadataBody `json:"data"`
	}
	if err := resp.Decode(&envelope); err != nil || envelope.Data == nil {
		return nil, malformed("", path, err)
	}
	return &SecretMetadata{
		Path:           path,
		CurrentVersion: envelope.Data.CurrentVersion,
		OldestVersion:  envelope.Data.OldestVersion,
		CreatedTime:    envelope.Data.CreatedTime,
		UpdatedTime:    envelope.Data.UpdatedTime,
	}, nil
}

// notFoundOn404 annotates err and narrows a 404 store error to NotFound.
func notFoundOn404(err error, op, path string) error {
	if isStatus(err, http.StatusNotFound) {
		return annotate(err, op, path, KindNotFound)
	}
	return annotate(err, op, path)
}

var _ KVClient = (*kvClient)(nil)

