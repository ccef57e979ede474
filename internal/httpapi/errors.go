package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/echovault/internal/notify"
	"github.com/matheus3301/echovault/internal/vault"
	"go.uber.org/zap"
)

// writeError maps a service error to its HTTP status and a JSON body.
func (s *Server) writeError(c *gin.Context, err error) {
	var locked *vault.LockedError
	switch {
	case errors.As(err, &locked):
		c.AbortWithStatusJSON(http.StatusLocked, gin.H{
			"error":     "message is locked",
			"unlock_at": locked.UnlockAt.UTC().Format(time.RFC3339),
		})
	case errors.Is(err, vault.ErrInvalidPIN):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "requires_pin": true})
	case errors.Is(err, vault.ErrValidation):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, vault.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, vault.ErrForbidden), errors.Is(err, vault.ErrConfigKeyNotAllowed):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, vault.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, vault.ErrExpired):
		c.AbortWithStatusJSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, notify.ErrChannelDisabled):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.Error(err), zap.String("route", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// bindJSON decodes an optional JSON body into v. It writes a 400 and
// returns false on malformed input.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}
