package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// transitRequest is the body of /encrypt and /decrypt. Data is plaintext for
// encrypt and a ciphertext token for decrypt.
type transitRequest struct {
	Data    *string `json:"data"`
	KeyName string  `json:"keyName"`
}

type createKeyRequest struct {
	Name string `json:"name"`
}

func (s *Server) bindTransit(c *gin.Context, op string) (*transitRequest, bool) {
	var req transitRequest
	if err := bindJSON(c, op, &req); err != nil {
		s.writeError(c, err)
		return nil, false
	}
	if req.KeyName == "" {
		s.writeError(c, validationError(op, "keyName", "keyName is required"))
		return nil, false
	}
	if req.Data == nil {
		s.writeError(c, validationError(op, "data", "data is required"))
		return nil, false
	}
	return &req, true
}

// handleEncrypt encrypts data with the named key.
func (s *Server) handleEncrypt(c *gin.Context) {
	req, ok := s.bindTransit(c, "transit.encrypt")
	if !ok {
		return
	}

	ciphertext, err := s.client.Transit().Encrypt(c.Request.Context(), req.KeyName, []byte(*req.Data))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"encrypted": ciphertext})
}

// handleDecrypt decrypts a ciphertext token with the named key.
func (s *Server) handleDecrypt(c *gin.Context) {
	req, ok := s.bindTransit(c, "transit.decrypt")
	if !ok {
		return
	}

	plaintext, err := s.client.Transit().Decrypt(c.Request.Context(), req.KeyName, *req.Data)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decrypted": string(plaintext)})
}

// handleCreateKey creates a transit key.
func (s *Server) handleCreateKey(c *gin.Context) {
	const op = "transit.create_key"

	var req createKeyRequest
	if err := bindJSON(c, op, &req); err != nil {
		s.writeError(c, err)
		return
	}

	if err := s.client.Transit().CreateKey(c.Request.Context(), req.Name); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": req.Name})
}

// handleReadKey returns key information without key material.
func (s *Server) handleReadKey(c *gin.Context) {
	key, err := s.client.Transit().ReadKey(c.Request.Context(), c.Param("name"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, key)
}

// handleRotateKey adds a key version.
func (s *Server) handleRotateKey(c *gin.Context) {
	if err := s.client.Transit().RotateKey(c.Request.Context(), c.Param("name")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
