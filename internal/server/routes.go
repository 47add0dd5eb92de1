package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) registerRoutes(r *gin.RouterGroup) {
	r.GET("/health", s.handleHealth)

	r.GET("/secrets", s.handleListRoot)
	r.GET("/secrets/*path", s.handleGetSecret)
	r.PUT("/secrets/*path", s.handlePutSecret)
	r.DELETE("/secrets/*path", s.handleDeleteSecret)
	r.GET("/secrets-metadata/*path", s.handleSecretMetadata)

	r.POST("/encrypt", s.handleEncrypt)
	r.POST("/decrypt", s.handleDecrypt)
	r.POST("/transit/keys", s.handleCreateKey)
	r.GET("/transit/keys/:name", s.handleReadKey)
	r.POST("/transit/keys/:name/rotate", s.handleRotateKey)

	r.POST("/credentials/:role", s.handleIssueCredentials)
	r.POST("/leases/lookup", s.handleLookupLease)
	r.POST("/leases/renew", s.handleRenewLease)
	r.POST("/leases/revoke", s.handleRevokeLease)
}

// handleLivez reports that the process serves requests. It never calls the
// store.
func (s *Server) handleLivez(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleHealth returns the store's health snapshot.
func (s *Server) handleHealth(c *gin.Context) {
	health, err := s.client.Health(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, health)
}
