package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/secretgw/internal/observability"
	"github.com/vyrodovalexey/secretgw/internal/vault"
)

// Error identifiers that are not vault kinds.
const (
	errorRateLimited = "rate_limited"
	errorTimeout     = "timeout"
	errorInternal    = "internal_error"
)

// connectivityRetryAfter is the Retry-After hint sent with 503 responses.
const connectivityRetryAfter = 5

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// kindStatus maps failure kinds to HTTP statuses.
var kindStatus = map[vault.Kind]int{
	vault.KindValidation:        http.StatusBadRequest,
	vault.KindInvalidCiphertext: http.StatusBadRequest,
	vault.KindAuth:              http.StatusForbidden,
	vault.KindNotFound:          http.StatusNotFound,
	vault.KindConflict:          http.StatusConflict,
	vault.KindNonRenewable:      http.StatusConflict,
	vault.KindStore:             http.StatusBadGateway,
	vault.KindConnectivity:      http.StatusServiceUnavailable,
}

// StatusForKind returns the HTTP status for a failure kind.
func StatusForKind(kind vault.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeError converts err into a JSON error response. Only the kind and the
// public message reach the caller; the cause is logged.
func (s *Server) writeError(c *gin.Context, err error) {
	ctx := c.Request.Context()

	var (
		status  int
		kind    string
		message string
	)

	var vErr *vault.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		status, kind, message = http.StatusGatewayTimeout, errorTimeout, "request timed out"
	case errors.As(err, &vErr) && vErr.Kind != vault.KindInternal:
		status, kind, message = StatusForKind(vErr.Kind), string(vErr.Kind), vErr.PublicMessage()
	default:
		status, kind, message = http.StatusInternalServerError, errorInternal, "internal error"
	}

	logger := s.logger.WithContext(ctx)
	fields := []observability.Field{
		observability.String("kind", kind),
		observability.Int("status", status),
		observability.Error(err),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", fields...)
	} else {
		logger.Debug("request rejected", fields...)
	}

	s.metrics.RecordError(kind)

	if status == http.StatusServiceUnavailable {
		c.Header("Retry-After", strconv.Itoa(connectivityRetryAfter))
	}
	abortWithError(c, status, kind, message)
}

// abortWithError writes an error body and stops the handler chain.
func abortWithError(c *gin.Context, status int, kind, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     kind,
		Message:   message,
		RequestID: requestIDFrom(c),
	})
}

// validationError builds a vault validation error for input rejected before
// any store call.
func validationError(op, field, message string) error {
	return vault.NewValidationError(op, field, message)
}
