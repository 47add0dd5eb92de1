package vault

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/vyrodovalexey/secretgw/internal/observability"
)

// LeaseClient issues dynamic credentials and manages their leases. Lease
// state lives in the store only: Issued, then any number of renewals, then
// Revoked or Expired.
type LeaseClient interface {
	// IssueCredentials mints credentials for role.
	IssueCredentials(ctx context.Context, role string) (*Lease, error)

	// Renew extends a lease. increment is a request; the store may grant less.
	// Zero asks for the role default.
	Renew(ctx context.Context, leaseID string, increment time.Duration) (*Lease, error)

	// Revoke ends a lease. Revoking an ended or unknown lease succeeds.
	Revoke(ctx context.Context, leaseID string) error

	// Lookup returns the store's view of a live lease.
	Lookup(ctx context.Context, leaseID string) (*LeaseInfo, error)
}

// Lease is a time-bounded grant returned by issue and renew calls.
type Lease struct {
	ID        string
	TTL       time.Duration
	Renewable bool

	// Data is the role-defined credential payload. It is empty after Renew.
	Data map[string]interface{}
}

// Credentials is the username/password shape most database roles return.
type Credentials struct {
	Username string
	Password string
}

// Credentials decodes Data into the username/password shape. ok is false when
// the payload has a different shape.
func (l *Lease) Credentials() (creds *Credentials, ok bool) {
	username, uok := l.Data["username"].(string)
	password, pok := l.Data["password"].(string)
	if !uok || !pok {
		return nil, false
	}
	return &Credentials{Username: username, Password: password}, true
}

// LeaseInfo is the result of a lease lookup.
type LeaseInfo struct {
	ID          string     `json:"id"`
	IssueTime   time.Time  `json:"issue_time"`
	ExpireTime  *time.Time `json:"expire_time"`
	LastRenewal *time.Time `json:"last_renewal"`
	Renewable   bool       `json:"renewable"`
	TTL         int64      `json:"ttl"`
}

// leaseClient implements LeaseClient.
type leaseClient struct {
	client *vaultClient
	mount  string
}

// IssueCredentials reads {mount}/creds/{role}. It is never retried: a lost
// response would otherwise mint a second credential.
func (l *leaseClient) IssueCredentials(ctx context.Context, role string) (*Lease, error) {
	const op = "lease.issue"

	if err := ValidateName(op, "role", role); err != nil {
		return nil, err
	}

	lease, err := l.issue(ctx, op, role)
	l.client.metrics.RecordOperation(op, err)
	if err != nil {
		return nil, err
	}

	l.client.logger.WithContext(ctx).Info("credentials issued",
		observability.String("role", role),
		observability.String("lease_id", lease.ID),
		observability.Duration("ttl", lease.TTL),
	)
	return lease, nil
}

func (l *leaseClient) issue(ctx context.Context, op, role string) (*Lease, error) {
	resp, err := l.client.do(ctx, &Request{Method: http.MethodGet, Path: JoinPath(l.mount, "creds", role)})
	if err != nil {
		if isStatus(err, http.StatusNotFound) ||
			(isStatus(err, http.StatusBadRequest) && hasMessage(err, "unknown role", "not found")) {
			return nil, annotate(err, op, role, KindNotFound)
		}
		return nil, annotate(err, op, role)
	}

	secret, err := resp.Secret()
	if err != nil || secret == nil {
		return nil, malformed(op, role, err)
	}
	if secret.LeaseID == "" {
		return nil, malformed(op, role, errors.New("response carries no lease"))
	}

	return &Lease{
		ID:        secret.LeaseID,
		TTL:       time.Duration(secret.LeaseDuration) * time.Second,
		Renewable: secret.Renewable,
		Data:      secret.Data,
	}, nil
}

// Renew extends a lease. A non-renewable lease is reported after a single
// call to the store.
func (l *leaseClient) Renew(ctx context.Context, leaseID string, increment time.Duration) (*Lease, error) {
	const op = "lease.renew"

	if leaseID == "" {
		return nil, NewValidationError(op, "lease_id", "lease_id is required")
	}
	if increment < 0 {
		return nil, NewValidationError(op, "increment", "increment cannot be negative")
	}

	body := map[string]interface{}{"lease_id": leaseID}
	if increment > 0 {
		body["increment"] = int64(increment / time.Second)
	}

	var lease *Lease
	err := l.client.withRetry(ctx, op, func(ctx context.Context) error {
		resp, err := l.client.do(ctx, &Request{Method: http.MethodPut, Path: "sys/leases/renew", Body: body})
		if err != nil {
			return err
		}
		secret, err := resp.Secret()
		if err != nil || secret == nil {
			return malformed(op, leaseID, err)
		}
		lease = &Lease{
			ID:        secret.LeaseID,
			TTL:       time.Duration(secret.LeaseDuration) * time.Second,
			Renewable: secret.Renewable,
		}
		if lease.ID == "" {
			lease.ID = leaseID
		}
		return nil
	})
	err = narrowLeaseError(err, op, leaseID)
	l.client.metrics.RecordOperation(op, err)
	if err != nil {
		return nil, err
	}

	l.client.logger.WithContext(ctx).Debug("lease renewed",
		observability.String("lease_id", leaseID),
		observability.Duration("ttl", lease.TTL),
	)
	return lease, nil
}

// Revoke revokes a lease immediately.
func (l *leaseClient) Revoke(ctx context.Context, leaseID string) error {
	const op = "lease.revoke"

	if leaseID == "" {
		return NewValidationError(op, "lease_id", "lease_id is required")
	}

	err := l.client.withRetry(ctx, op, func(ctx context.Context) error {
		_, err := l.client.do(ctx, &Request{
			Method: http.MethodPut,
			Path:   "sys/leases/revoke",
			Body:   map[string]interface{}{"lease_id": leaseID},
		})
		return err
	})
	err = narrowLeaseError(err, op, leaseID)
	if IsNotFound(err) {
		err = nil
	}
	l.client.metrics.RecordOperation(op, err)
	if err != nil {
		return err
	}

	l.client.logger.WithContext(ctx).Info("lease revoked", observability.String("lease_id", leaseID))
	return nil
}

// Lookup reads lease details from the store.
func (l *leaseClient) Lookup(ctx context.Context, leaseID string) (*LeaseInfo, error) {
	const op = "lease.lookup"

	if leaseID == "" {
		return nil, NewValidationError(op, "lease_id", "lease_id is required")
	}

	var info LeaseInfo
	err := l.client.withRetry(ctx, op, func(ctx context.Context) error {
		resp, err := l.client.do(ctx, &Request{
			Method: http.MethodPut,
			Path:   "sys/leases/lookup",
			Body:   map[string]interface{}{"lease_id": leaseID},
		})
		if err != nil {
			return err
		}
		var envelope struct {
			Data *LeaseInfo `json:"data"`
		}
		if err := resp.Decode(&envelope); err != nil || envelope.Data == nil {
			return malformed(op, leaseID, err)
		}
		info = *envelope.Data
		return nil
	})
	err = narrowLeaseError(err, op, leaseID)
	l.client.metrics.RecordOperation(op, err)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// narrowLeaseError maps Vault's 400 lease messages onto NotFound and
// NonRenewable.
func narrowLeaseError(err error, op, leaseID string) error {
	switch {
	case err == nil:
		return nil
	case isStatus(err, http.StatusNotFound):
		return annotate(err, op, leaseID, KindNotFound)
	case !isStatus(err, http.StatusBadRequest):
		return annotate(err, op, leaseID)
	case hasMessage(err, "not found", "invalid lease", "expired", "revoked"):
		return annotate(err, op, leaseID, KindNotFound)
	case hasMessage(err, "not renewable"):
		return annotate(err, op, leaseID, KindNonRenewable)
	default:
		return annotate(err, op, leaseID)
	}
}

var _ LeaseClient = (*leaseClient)(nil)
