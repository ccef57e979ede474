// Package httpapi exposes the EchoVault operations over HTTP: the
// serverless-function endpoints, the resource API used by the web app, the
// public secure-message view and a websocket event stream.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/echovault/internal/bus"
	"github.com/matheus3301/echovault/internal/logging"
	"github.com/matheus3301/echovault/internal/metrics"
	"github.com/matheus3301/echovault/internal/service"
	"go.uber.org/zap"
)

// Options configure the HTTP server.
type Options struct {
	Addr           string
	JWTSecret      string
	ServiceRoleKey string
	AnonKey        string
	// TwilioAuthToken enables X-Twilio-Signature checks on the webhook.
	TwilioAuthToken string
	// PublicURL is the externally visible origin, used to rebuild the URL
	// Twilio signed. Empty means the request's own host over https.
	PublicURL           string
	PublicRatePerMinute int
	MaxUploadBytes      int64
	Debug               bool
}

// FileServer serves locally stored attachments behind signed tokens.
type FileServer interface {
	Verify(key, token string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Server is the HTTP front end.
type Server struct {
	svc     *service.Service
	bus     *bus.Bus
	metrics *metrics.Metrics
	files   FileServer
	auth    *authenticator
	limiter *ipLimiter
	opts    Options
	logger  *zap.Logger

	engine *gin.Engine
	http   *http.Server
}

// New builds the router. files may be nil when attachments live in a
// bucket that signs its own URLs.
func New(svc *service.Service, b *bus.Bus, m *metrics.Metrics, files FileServer, opts Options, logger *zap.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 100 << 20
	}
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		svc:     svc,
		bus:     b,
		metrics: m,
		files:   files,
		auth: &authenticator{
			secret:         []byte(opts.JWTSecret),
			serviceRoleKey: opts.ServiceRoleKey,
			anonKey:        opts.AnonKey,
		},
		limiter: newIPLimiter(opts.PublicRatePerMinute),
		opts:    opts,
		logger:  logging.OrNop(logger),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(recovery(s.logger), requestLog(s.logger, s.metrics))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	fn := r.Group("/functions/v1")
	fn.POST("/whatsapp-webhook", s.whatsAppWebhook)
	fn.POST("/get-app-config", s.auth.requireAPIKey(), s.getAppConfig)
	authed := fn.Group("", s.auth.requireCaller())
	authed.POST("/send-message-notifications", s.sendMessageNotifications)
	authed.POST("/send-reminder-emails", s.sendReminderEmails)
	authed.POST("/send-test-email", s.sendTestEmail)

	api := r.Group("/api")
	public := s.limiter.middleware()
	api.GET("/secure-message", public, s.secureMessage)
	api.GET("/secure-message/qr", public, s.secureMessageQR)
	api.GET("/files/*key", s.serveFile)
	api.GET("/events", s.events)

	user := api.Group("", s.auth.requireCaller())
	user.GET("/messages", s.listMessages)
	user.POST("/messages", s.createMessage)
	user.GET("/messages/:id", s.getMessage)
	user.PUT("/messages/:id", s.updateMessage)
	user.DELETE("/messages/:id", s.deleteMessage)
	user.POST("/messages/:id/attachments", s.uploadAttachment)
	user.GET("/messages/:id/conditions", s.messageConditions)

	user.GET("/recipients", s.listRecipients)
	user.POST("/recipients", s.createRecipient)
	user.PUT("/recipients/:id", s.updateRecipient)
	user.DELETE("/recipients/:id", s.deleteRecipient)

	user.GET("/conditions", s.listConditions)
	user.POST("/conditions", s.createCondition)
	user.GET("/conditions/:id", s.getCondition)
	user.PUT("/conditions/:id", s.updateCondition)
	user.DELETE("/conditions/:id", s.deleteCondition)
	user.POST("/conditions/:id/panic", s.triggerPanic)
	user.POST("/conditions/:id/panic/cancel", s.cancelPanic)

	user.POST("/check-in", s.checkIn)
	user.PUT("/profile", s.upsertProfile)
	user.GET("/admin/messages", s.adminMessages)
	return r
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start binds the listen address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("HTTP server starting", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	s.logger.Info("HTTP server stopping")
	return s.http.Shutdown(ctx)
}
