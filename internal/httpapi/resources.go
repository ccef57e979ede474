package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/echovault/internal/vault"
)

func (s *Server) listMessages(c *gin.Context) {
	list, err := s.svc.ListMessages(c.Request.Context(), callerFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) createMessage(c *gin.Context) {
	var m vault.Message
	if !bindJSON(c, &m) {
		return
	}
	if err := s.svc.CreateMessage(c.Request.Context(), callerFrom(c), &m); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (s *Server) getMessage(c *gin.Context) {
	m, err := s.svc.GetMessage(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) updateMessage(c *gin.Context) {
	var m vault.Message
	if !bindJSON(c, &m) {
		return
	}
	m.ID = c.Param("id")
	if err := s.svc.UpdateMessage(c.Request.Context(), callerFrom(c), &m); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) deleteMessage(c *gin.Context) {
	if err := s.svc.DeleteMessage(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) uploadAttachment(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.opts.MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	a, err := s.svc.UploadAttachment(c.Request.Context(), callerFrom(c), c.Param("id"), fh.Filename, contentType, fh.Size, f)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) messageConditions(c *gin.Context) {
	list, err := s.svc.MessageConditions(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) listRecipients(c *gin.Context) {
	list, err := s.svc.ListRecipients(c.Request.Context(), callerFrom(c))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) createRecipient(c *gin.Context) {
	var r vault.Recipient
	if !bindJSON(c, &r) {
		return
	}
	if err := s.svc.CreateRecipient(c.Request.Context(), callerFrom(c), &r); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (s *Server) updateRecipient(c *gin.Context) {
	var r vault.Recipient
	if !bindJSON(c, &r) {
		return
	}
	r.ID = c.Param("id")
	if err := s.svc.UpdateRecipient(c.Request.Context(), callerFrom(c), &r); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) deleteRecipient(c *gin.Context) {
	if err := s.svc.DeleteRecipient(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// conditionRequest defaults active to true when the client leaves it out.
type conditionRequest struct {
	vault.MessageCondition
	Active *bool `json:"active"`
}

func (r *conditionRequest) condition() *vault.MessageCondition {
	c := r.MessageCondition
	c.Active = r.Active == nil || *r.Active
	return &c
}

func (s *Server) listConditions(c *gin.Context) {
	ctx := c.Request.Context()
	caller := callerFrom(c)
	var (
		list []vault.MessageCondition
		err  error
	)
	if id := c.Query("message_id"); id != "" {
		list, err = s.svc.MessageConditions(ctx, caller, id)
	} else {
		list, err = s.svc.ListConditions(ctx, caller, c.Query("user_id"))
	}
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) createCondition(c *gin.Context) {
	var req conditionRequest
	if !bindJSON(c, &req) {
		return
	}
	cond := req.condition()
	if err := s.svc.CreateCondition(c.Request.Context(), callerFrom(c), cond); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cond)
}

func (s *Server) getCondition(c *gin.Context) {
	cond, err := s.svc.GetCondition(c.Request.Context(), callerFrom(c), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cond)
}

func (s *Server) updateCondition(c *gin.Context) {
	var req conditionRequest
	if !bindJSON(c, &req) {
		return
	}
	cond := req.condition()
	cond.ID = c.Param("id")
	if err := s.svc.UpdateCondition(c.Request.Context(), callerFrom(c), cond); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cond)
}

func (s *Server) deleteCondition(c *gin.Context) {
	if err := s.svc.DeleteCondition(c.Request.Context(), callerFrom(c), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type sourceRequest struct {
	Source string `json:"source"`
	UserID string `json:"user_id"`
}

func (r sourceRequest) sourceOr(def string) string {
	if r.Source != "" {
		return r.Source
	}
	return def
}

func (s *Server) triggerPanic(c *gin.Context) {
	var req sourceRequest
	if !bindJSON(c, &req) {
		return
	}
	cond, err := s.svc.TriggerPanic(c.Request.Context(), callerFrom(c), c.Param("id"), req.sourceOr("api"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cond)
}

func (s *Server) cancelPanic(c *gin.Context) {
	var req sourceRequest
	if !bindJSON(c, &req) {
		return
	}
	cond, err := s.svc.CancelPanic(c.Request.Context(), callerFrom(c), c.Param("id"), req.sourceOr("api"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cond)
}

func (s *Server) checkIn(c *gin.Context) {
	var req sourceRequest
	if !bindJSON(c, &req) {
		return
	}
	caller := callerFrom(c)
	userID := caller.UserID
	if caller.Internal {
		userID = req.UserID
	}
	res, err := s.svc.CheckIn(c.Request.Context(), userID, req.sourceOr("api"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) upsertProfile(c *gin.Context) {
	var p vault.Profile
	if !bindJSON(c, &p) {
		return
	}
	if err := s.svc.UpsertProfile(c.Request.Context(), callerFrom(c), &p); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) adminMessages(c *gin.Context) {
	list, err := s.svc.AdminMessages(c.Request.Context(), callerFrom(c).Email)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
