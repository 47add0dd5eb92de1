package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/secretgw/internal/vault"
)

type leaseRequest struct {
	LeaseID string `json:"lease_id"`

	// Increment is the requested TTL extension in seconds, renew only.
	Increment int64 `json:"increment"`
}

// LeaseResponse is the JSON form of a lease.
type LeaseResponse struct {
	LeaseID       string                 `json:"lease_id"`
	LeaseDuration int64                  `json:"lease_duration"`
	Renewable     bool                   `json:"renewable"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

func leaseResponse(l *vault.Lease) LeaseResponse {
	return LeaseResponse{
		LeaseID:       l.ID,
		LeaseDuration: int64(l.TTL / time.Second),
		Renewable:     l.Renewable,
		Data:          l.Data,
	}
}

func (s *Server) bindLease(c *gin.Context, op string) (*leaseRequest, bool) {
	var req leaseRequest
	if err := bindJSON(c, op, &req); err != nil {
		s.writeError(c, err)
		return nil, false
	}
	if req.LeaseID == "" {
		s.writeError(c, validationError(op, "lease_id", "lease_id is required"))
		return nil, false
	}
	return &req, true
}

// handleIssueCredentials mints credentials for a role.
func (s *Server) handleIssueCredentials(c *gin.Context) {
	lease, err := s.client.Leases().IssueCredentials(c.Request.Context(), c.Param("role"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, leaseResponse(lease))
}

// handleLookupLease returns the store's view of a lease.
func (s *Server) handleLookupLease(c *gin.Context) {
	req, ok := s.bindLease(c, "lease.lookup")
	if !ok {
		return
	}

	info, err := s.client.Leases().Lookup(c.Request.Context(), req.LeaseID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// handleRenewLease extends a lease.
func (s *Server) handleRenewLease(c *gin.Context) {
	const op = "lease.renew"

	req, ok := s.bindLease(c, op)
	if !ok {
		return
	}
	if req.Increment < 0 {
		s.writeError(c, validationError(op, "increment", "increment cannot be negative"))
		return
	}

	lease, err := s.client.Leases().Renew(c.Request.Context(), req.LeaseID, time.Duration(req.Increment)*time.Second)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, leaseResponse(lease))
}

// handleRevokeLease ends a lease.
func (s *Server) handleRevokeLease(c *gin.Context) {
	req, ok := s.bindLease(c, "lease.revoke")
	if !ok {
		return
	}

	if err := s.client.Leases().Revoke(c.Request.Context(), req.LeaseID); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
