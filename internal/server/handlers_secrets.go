package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/secretgw/internal/vault"
)

// putSecretRequest is the body of PUT /secrets/*path.
type putSecretRequest struct {
	Data map[string]interface{} `json:"data"`
}

// bindJSON decodes the request body into v.
func bindJSON(c *gin.Context, op string, v interface{}) error {
	if err := c.ShouldBindJSON(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return validationError(op, "body", "request body too large")
		}
		return validationError(op, "body", "request body must be a JSON object")
	}
	return nil
}

// handleListRoot lists the top-level entries.
func (s *Server) handleListRoot(c *gin.Context) {
	s.listSecrets(c, "")
}

// handleGetSecret returns the value at path, or lists it with ?list=true.
func (s *Server) handleGetSecret(c *gin.Context) {
	path := vault.NormalizePath(c.Param("path"))

	list, _ := strconv.ParseBool(c.Query("list"))
	if list || path == "" {
		s.listSecrets(c, path)
		return
	}

	data, err := s.client.KV().Get(c.Request.Context(), path)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}

func (s *Server) listSecrets(c *gin.Context, path string) {
	keys, err := s.client.KV().List(c.Request.Context(), path)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	c.JSON(http.StatusOK, keys)
}

// handlePutSecret replaces the value at path.
func (s *Server) handlePutSecret(c *gin.Context) {
	const op = "kv.put"

	var req putSecretRequest
	if err := bindJSON(c, op, &req); err != nil {
		s.writeError(c, err)
		return
	}
	if req.Data == nil {
		s.writeError(c, validationError(op, "data", "data is required"))
		return
	}

	if err := s.client.KV().Put(c.Request.Context(), c.Param("path"), req.Data); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleDeleteSecret removes every version of path.
func (s *Server) handleDeleteSecret(c *gin.Context) {
	if err := s.client.KV().Delete(c.Request.Context(), c.Param("path")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleSecretMetadata returns version bookkeeping for path.
func (s *Server) handleSecretMetadata(c *gin.Context) {
	meta, err := s.client.KV().Metadata(c.Request.Context(), c.Param("path"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, meta)
}
