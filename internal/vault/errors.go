package vault

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure. The string value is the stable machine-readable
// identifier exposed to HTTP callers.
type Kind string

// Failure kinds.
const (
	KindConnectivity      Kind = "connectivity_error"
	KindAuth              Kind = "auth_error"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInvalidCiphertext Kind = "invalid_ciphertext"
	KindNonRenewable      Kind = "non_renewable"
	KindValidation        Kind = "validation_error"
	KindStore             Kind = "store_error"
	KindInternal          Kind = "internal_error"
)

// Sentinel errors, one per kind. An *Error matches the sentinel of its kind
// through errors.Is.
var (
	ErrConnectivity      = errors.New("vault: store unreachable")
	ErrAuth              = errors.New("vault: permission denied")
	ErrNotFound          = errors.New("vault: not found")
	ErrConflict          = errors.New("vault: already exists")
	ErrInvalidCiphertext = errors.New("vault: invalid ciphertext")
	ErrNonRenewable      = errors.New("vault: lease is not renewable")
	ErrValidation        = errors.New("vault: invalid input")
	ErrStore             = errors.New("vault: store error")
)

// Other errors.
var (
	// ErrCircuitOpen is wrapped by connectivity errors raised while the
	// breaker rejects calls.
	ErrCircuitOpen = errors.New("vault: circuit breaker open")

	// ErrClientClosed is returned after Close.
	ErrClientClosed = errors.New("vault: client closed")
)

var kindSentinels = map[Kind]error{
	KindConnectivity:      ErrConnectivity,
	KindAuth:              ErrAuth,
	KindNotFound:          ErrNotFound,
	KindConflict:          ErrConflict,
	KindInvalidCiphertext: ErrInvalidCiphertext,
	KindNonRenewable:      ErrNonRenewable,
	KindValidation:        ErrValidation,
	KindStore:             ErrStore,
}

// Error is a classified failure of a Vault operation.
type Error struct {
	Kind Kind

	// Op is the gateway operation, e.g. "kv.get".
	Op string

	// Path is the secret path, key name, role or field involved.
	Path string

	// Status is the HTTP status returned by Vault, zero if none was received.
	Status int

	// Messages are the error strings from Vault's response body.
	Messages []string

	// Err is the underlying cause. It may contain URLs and is never shown to
	// HTTP callers.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("vault")
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.PublicMessage())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// PublicMessage returns a message safe to show to callers. It is built from
// the kind, the status and Vault's error strings only.
func (e *Error) PublicMessage() string {
	var msg string
	switch e.Kind {
	case KindConnectivity:
		if errors.Is(e.Err, ErrCircuitOpen) {
			msg = "secret store unavailable (circuit open)"
		} else {
			msg = "secret store unreachable"
		}
	case KindAuth:
		msg = "permission denied"
	case KindNotFound:
		msg = "not found"
	case KindConflict:
		msg = "already exists"
	case KindInvalidCiphertext:
		msg = "invalid ciphertext"
	case KindNonRenewable:
		msg = "lease is not renewable"
	case KindValidation:
		msg = "invalid input"
	case KindStore:
		if e.Status == 0 {
			msg = "unexpected response from secret store"
		} else {
			msg = fmt.Sprintf("secret store returned %d", e.Status)
		}
	default:
		msg = "internal error"
	}
	if len(e.Messages) > 0 {
		msg += ": " + strings.Join(e.Messages, "; ")
	}
	return msg
}

// NewValidationError creates a validation error for a caller-supplied field.
func NewValidationError(op, field, message string) *Error {
	return &Error{
		Kind:     KindValidation,
		Op:       op,
		Path:     field,
		Messages: []string{message},
	}
}

// newError creates an error of the given kind.
func newError(kind Kind, op, path string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: cause}
}

// malformed reports a 2xx response whose body could not be understood.
func malformed(op, path string, cause error) *Error {
	return newError(KindStore, op, path, cause)
}

// annotate sets the operation and path on a transport error and, when given,
// changes its kind. Errors that are not *Error become internal errors.
func annotate(err error, op, path string, kind ...Kind) error {
	if err == nil {
		return nil
	}
	var vErr *Error
	if !errors.As(err, &vErr) {
		return newError(KindInternal, op, path, err)
	}
	out := *vErr
	out.Op = op
	out.Path = path
	if len(kind) > 0 {
		out.Kind = kind[0]
	}
	return &out
}

// KindOf returns the kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var vErr *Error
	if errors.As(err, &vErr) {
		return vErr.Kind
	}
	return KindInternal
}

// StatusOf returns the Vault HTTP status carried by err, or zero.
func StatusOf(err error) int {
	var vErr *Error
	if errors.As(err, &vErr) {
		return vErr.Status
	}
	return 0
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAuthError reports whether err is an AuthError.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsRetryable reports whether a failed idempotent call may be repeated.
// Connectivity failures qualify unless the breaker is open or the caller
// cancelled; store errors qualify for 5xx and 429.
func IsRetryable(err error) bool {
	var vErr *Error
	if !errors.As(err, &vErr) {
		return false
	}
	switch vErr.Kind {
	case KindConnectivity:
		return !errors.Is(vErr.Err, ErrCircuitOpen) && !errors.Is(vErr.Err, context.Canceled)
	case KindStore:
		return vErr.Status >= http.StatusInternalServerError || vErr.Status == http.StatusTooManyRequests
	default:
		return false
	}
}

// hasMessage reports whether any of Vault's error strings contains one of
// the given fragments, case-insensitively.
func hasMessage(err error, fragments ...string) bool {
	var vErr *Error
	if !errors.As(err, &vErr) {
		return false
	}
	for _, m := range vErr.Messages {
		lower := strings.ToLower(m)
		for _, f := range fragments {
			if strings.Contains(lower, f) {
				return true
			}
		}
	}
	return false
}

// isStatus reports whether err is a store error with the given status.
func isStatus(err error, status int) bool {
	var vErr *Error
	return errors.As(err, &vErr) && vErr.Kind == KindStore && vErr.Status == status
}
