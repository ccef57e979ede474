package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/echovault/internal/inbound"
	"github.com/matheus3301/echovault/internal/notify"
	"github.com/matheus3301/echovault/internal/reminder"
	"github.com/matheus3301/echovault/internal/service"
	"go.uber.org/zap"
)

func (s *Server) sendMessageNotifications(c *gin.Context) {
	var req service.NotificationRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.svc.SendMessageNotifications(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) sendReminderEmails(c *gin.Context) {
	var req reminder.Request
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.svc.SendReminderEmails(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "checked": res.Checked, "sent": res.Sent, "debug": res.Decisions})
}

func (s *Server) sendTestEmail(c *gin.Context) {
	var req service.TestEmailRequest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.svc.SendTestEmail(c.Request.Context(), callerFrom(c), req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getAppConfig(c *gin.Context) {
	var req struct {
		Key string `json:"key"`
	}
	if !bindJSON(c, &req) {
		return
	}
	v, err := s.svc.GetAppConfig(c.Request.Context(), req.Key)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"value": v.Value})
}

type webhookBody struct {
	From       string `json:"From" form:"From"`
	Body       string `json:"Body" form:"Body"`
	MessageSid string `json:"MessageSid" form:"MessageSid"`
}

// whatsAppWebhook answers Twilio with TwiML, or JSON callers with JSON.
func (s *Server) whatsAppWebhook(c *gin.Context) {
	isJSON := strings.HasPrefix(c.ContentType(), "application/json")
	var req webhookBody
	if isJSON {
		// Twilio always posts forms; a JSON relay must hold the service-role key.
		if s.opts.TwilioAuthToken != "" {
			caller, err := s.auth.caller(bearerToken(c))
			if err != nil || !caller.Internal {
				s.logger.Warn("rejected unauthenticated JSON webhook", zap.String("client_ip", c.ClientIP()))
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
		}
		if !bindJSON(c, &req) {
			return
		}
	} else {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form body"})
			return
		}
		if s.opts.TwilioAuthToken != "" {
			sig := c.GetHeader("X-Twilio-Signature")
			if !notify.ValidTwilioSignature(s.opts.TwilioAuthToken, s.webhookURL(c), c.Request.PostForm, sig) {
				s.logger.Warn("rejected webhook with bad signature", zap.String("client_ip", c.ClientIP()))
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
				return
			}
		}
		req = webhookBody{
			From:       c.Request.PostForm.Get("From"),
			Body:       c.Request.PostForm.Get("Body"),
			MessageSid: c.Request.PostForm.Get("MessageSid"),
		}
	}

	reply, err := s.svc.HandleWhatsAppWebhook(c.Request.Context(), req.From, req.Body, req.MessageSid)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if isJSON {
		c.JSON(http.StatusOK, gin.H{"success": true, "reply": reply})
		return
	}
	xml, err := inbound.TwiML(reply)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/xml; charset=utf-8", xml)
}

// webhookURL rebuilds the URL Twilio signed.
func (s *Server) webhookURL(c *gin.Context) string {
	base := strings.TrimSuffix(s.opts.PublicURL, "/")
	if base == "" {
		base = "https://" + c.Request.Host
	}
	return base + c.Request.URL.RequestURI()
}
