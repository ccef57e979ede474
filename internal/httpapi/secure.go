package httpapi

import (
	"errors"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/echovault/internal/attachments"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

const qrSize = 256

func (s *Server) secureMessage(c *gin.Context) {
	sm, err := s.svc.OpenSecureMessage(c.Request.Context(), c.Query("id"), c.Query("recipient"), c.Query("pin"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, sm)
}

// secureMessageQR renders the secure link as a PNG for printed cards.
func (s *Server) secureMessageQR(c *gin.Context) {
	id, recipient := c.Query("id"), strings.TrimSpace(c.Query("recipient"))
	if id == "" || recipient == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id and recipient are required"})
		return
	}
	png, err := qrcode.Encode(s.svc.SecureMessageURL(id, recipient), qrcode.Medium, qrSize)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// serveFile streams a locally stored attachment for a valid signed token.
func (s *Server) serveFile(c *gin.Context) {
	if s.files == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")
	if err := s.files.Verify(key, c.Query("token")); err != nil {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid or expired link"})
		return
	}
	rc, err := s.files.Open(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, attachments.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		s.writeError(c, err)
		return
	}
	defer rc.Close()

	ct := mime.TypeByExtension(path.Ext(key))
	if ct == "" {
		ct = "application/octet-stream"
	}
	c.Header("Cache-Control", "private, no-store")
	c.DataFromReader(http.StatusOK, -1, ct, rc, map[string]string{
		"Content-Disposition": `attachment; filename="` + path.Base(key) + `"`,
	})
	s.logger.Debug("attachment served", zap.String("key", key))
}
