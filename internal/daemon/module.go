package daemon

import (
	"context"
	"io"
	"strings"

	"github.com/matheus3301/echovault/internal/api"
	"github.com/matheus3301/echovault/internal/attachments"
	"github.com/matheus3301/echovault/internal/bus"
	"github.com/matheus3301/echovault/internal/config"
	"github.com/matheus3301/echovault/internal/httpapi"
	"github.com/matheus3301/echovault/internal/inbound"
	"github.com/matheus3301/echovault/internal/lock"
	"github.com/matheus3301/echovault/internal/logging"
	"github.com/matheus3301/echovault/internal/metrics"
	"github.com/matheus3301/echovault/internal/notify"
	"github.com/matheus3301/echovault/internal/outbox"
	"github.com/matheus3301/echovault/internal/paths"
	"github.com/matheus3301/echovault/internal/reminder"
	"github.com/matheus3301/echovault/internal/service"
	"github.com/matheus3301/echovault/internal/status"
	"github.com/matheus3301/echovault/internal/store"
	"github.com/matheus3301/echovault/internal/trigger"
	"github.com/matheus3301/echovault/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved daemon location passed to the fx module.
type Params struct {
	Home       string
	ConfigPath string // empty = <home>/config.toml
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideMetrics,
			provideAdapter,
			provideEmail,
			provideRouter,
			provideFiles,
			provideEvaluator,
			provideScheduler,
			provideSender,
			provideService,
			provideInboundEngine,
			provideHTTP,
			api.NewServer,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if err := paths.EnsureDir(p.Home); err != nil {
		return nil, err
	}
	return config.Load(p.Home, p.ConfigPath)
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(paths.LogPath(p.Home), cfg.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring home lock", zap.String("home", p.Home))
	l, err := lock.Acquire(p.Home)
	if err != nil {
		return nil, err
	}
	logger.Info("home lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by a second
// daemon.
func provideStore(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("driver", db.Driver()))
	return db, nil
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

// provideAdapter returns nil unless the direct WhatsApp channel is enabled.
func provideAdapter(p Params, cfg *config.Config, b *bus.Bus, logger *zap.Logger) (*wa.Adapter, error) {
	if !cfg.WhatsApp.Direct {
		return nil, nil
	}
	return wa.NewAdapter(context.Background(), paths.WhatsAppDBPath(p.Home), b, logger)
}

// provideEmail returns nil when no email API is configured.
func provideEmail(cfg *config.Config) *notify.EmailClient {
	if !cfg.Email.Enabled() {
		return nil
	}
	return notify.NewEmailClient(cfg.Email.APIURL, cfg.Email.APIKey, cfg.Email.From)
}

func provideRouter(cfg *config.Config, email *notify.EmailClient, adapter *wa.Adapter, logger *zap.Logger) *notify.Router {
	r := notify.NewRouter()
	if email != nil {
		r.Register(notify.ChannelEmail, email)
	}

	var twilio *notify.TwilioClient
	if cfg.Twilio.Enabled() {
		twilio = notify.NewTwilioClient(cfg.Twilio.BaseURL, cfg.Twilio.AccountSID, cfg.Twilio.AuthToken,
			cfg.Twilio.MessagingServiceSID, cfg.Twilio.WhatsAppNumber)
		r.Register(notify.ChannelSMS, twilio.SMS())
	}
	switch {
	case adapter != nil:
		r.Register(notify.ChannelWhatsApp, adapter)
	case twilio != nil && cfg.Twilio.WhatsAppNumber != "":
		r.Register(notify.ChannelWhatsApp, twilio.WhatsApp())
	}

	for _, ch := range []string{notify.ChannelEmail, notify.ChannelSMS, notify.ChannelWhatsApp} {
		logger.Info("notification channel", zap.String("channel", ch), zap.Bool("enabled", r.Enabled(ch)))
	}
	return r
}

// fileBackend is the configured attachment store. local is set only for the
// on-disk backend, which the HTTP API serves itself.
type fileBackend struct {
	store attachments.Store
	local *attachments.Local
}

func provideFiles(p Params, cfg *config.Config) (*fileBackend, error) {
	if cfg.Storage.Backend == "gcs" {
		g, err := attachments.NewGCS(context.Background(), cfg.Storage.Bucket, cfg.Storage.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return &fileBackend{store: g}, nil
	}
	l, err := attachments.NewLocal(paths.AttachmentsDir(p.Home), publicOrigin(cfg), attachments.NewSigner(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, err
	}
	return &fileBackend{store: l, local: l}, nil
}

func publicOrigin(cfg *config.Config) string {
	if cfg.PublicURL != "" {
		return cfg.PublicURL
	}
	if strings.HasPrefix(cfg.AppDomain, "localhost") || strings.HasPrefix(cfg.AppDomain, "127.") {
		return "http://" + cfg.AppDomain
	}
	return "https://" + cfg.AppDomain
}

func provideEvaluator(cfg *config.Config, db *store.DB, router *notify.Router, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *trigger.Evaluator {
	return trigger.NewEvaluator(db, router, b, m, trigger.Options{
		Interval:  cfg.Workers.EvaluateInterval.Duration,
		AppDomain: cfg.AppDomain,
	}, logger)
}

func provideScheduler(cfg *config.Config, db *store.DB, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *reminder.Scheduler {
	return reminder.NewScheduler(db, b, m, reminder.Options{
		Interval:  cfg.Workers.ReminderInterval.Duration,
		AppDomain: cfg.AppDomain,
	}, logger)
}

func provideSender(cfg *config.Config, db *store.DB, router *notify.Router, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, router, b, m, outbox.Options{
		Interval:    cfg.Workers.OutboxInterval.Duration,
		MaxAttempts: cfg.Workers.OutboxMaxAttempts,
		RetryDelay:  cfg.Workers.OutboxRetryDelay.Duration,
	}, logger)
}

type serviceParams struct {
	fx.In

	Config    *config.Config
	DB        *store.DB
	Bus       *bus.Bus
	Metrics   *metrics.Metrics
	Evaluator *trigger.Evaluator
	Reminders *reminder.Scheduler
	Outbox    *outbox.Sender
	Email     *notify.EmailClient
	Files     *fileBackend
	Machine   *status.Machine
	Adapter   *wa.Adapter
	Logger    *zap.Logger
}

func provideService(p serviceParams) *service.Service {
	d := service.Deps{
		DB:        p.DB,
		Bus:       p.Bus,
		Metrics:   p.Metrics,
		Evaluator: p.Evaluator,
		Reminders: p.Reminders,
		Outbox:    p.Outbox,
		Files:     p.Files.store,
		Link:      p.Machine,
		Logger:    p.Logger,
	}
	// Interface fields stay nil rather than holding typed nil pointers.
	if p.Email != nil {
		d.Mailer = p.Email
	}
	if p.Adapter != nil {
		d.Linker = p.Adapter
	}
	return service.New(d, service.Options{
		AppDomain:            p.Config.AppDomain,
		AdminEmails:          p.Config.Auth.AdminEmails,
		WhatsAppNumber:       p.Config.Twilio.WhatsAppNumber,
		TestEmailParallelism: p.Config.Workers.TestEmailParallelism,
	})
}

func provideInboundEngine(svc *service.Service, adapter *wa.Adapter, b *bus.Bus, logger *zap.Logger) *inbound.Engine {
	var replier inbound.Replier
	if adapter != nil {
		replier = adapter
	}
	return inbound.NewEngine(svc, replier, b, logger)
}

func provideHTTP(cfg *config.Config, svc *service.Service, b *bus.Bus, m *metrics.Metrics, files *fileBackend, logger *zap.Logger) *httpapi.Server {
	var fs httpapi.FileServer
	if files.local != nil {
		fs = files.local
	}
	return httpapi.New(svc, b, m, fs, httpapi.Options{
		Addr:                cfg.HTTPAddr,
		JWTSecret:           cfg.Auth.JWTSecret,
		ServiceRoleKey:      cfg.Auth.ServiceRoleKey,
		AnonKey:             cfg.Auth.AnonKey,
		TwilioAuthToken:     cfg.Twilio.AuthToken,
		PublicURL:           cfg.PublicURL,
		PublicRatePerMinute: cfg.Auth.PublicRatePerMinute,
		MaxUploadBytes:      int64(cfg.Storage.MaxUploadMB) << 20,
		Debug:               cfg.Debug,
	}, logger)
}

type lifecycleParams struct {
	fx.In

	LC        fx.Lifecycle
	Server    *Server
	HTTP      *httpapi.Server
	Lock      *lock.Lock
	DB        *store.DB
	Files     *fileBackend
	Adapter   *wa.Adapter
	Evaluator *trigger.Evaluator
	Reminders *reminder.Scheduler
	Outbox    *outbox.Sender
	Inbound   *inbound.Engine
	Machine   *status.Machine
	Bus       *bus.Bus
	Logger    *zap.Logger
}

func registerLifecycle(p lifecycleParams) {
	logger := p.Logger
	p.LC.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Workers outlive the start context.
			bg := context.Background()
			p.Outbox.Start(bg)
			p.Evaluator.Start(bg)
			p.Reminders.Start(bg)
			p.Inbound.Start(bg)

			if err := p.HTTP.Start(); err != nil {
				return err
			}
			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if p.Adapter == nil {
				logger.Info("direct WhatsApp channel disabled")
				_ = p.Machine.Transition(status.Disabled)
				return nil
			}

			handler := wa.NewEventHandler(p.Bus, p.Machine, p.Adapter, logger)
			p.Adapter.RegisterEventHandler(handler.Handle)

			if p.Adapter.IsLoggedIn() {
				_ = p.Machine.Transition(status.Connecting)
				go func() {
					if err := p.Adapter.Connect(); err != nil {
						logger.Error("auto-connect failed", zap.Error(err))
						_ = p.Machine.Transition(status.Error)
					}
				}()
			} else {
				logger.Info("no WhatsApp credentials found, link required")
				_ = p.Machine.Transition(status.AuthRequired)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Closing the bus ends websocket and WatchEvents streams so the
			// servers can drain.
			p.Bus.Close()
			if n := p.Bus.Dropped(); n > 0 {
				logger.Info("bus events dropped by slow subscribers", zap.Uint64("count", n))
			}
			if err := p.HTTP.Stop(ctx); err != nil {
				logger.Warn("error stopping HTTP server", zap.Error(err))
			}
			p.Server.Stop(ctx)
			p.Inbound.Stop()
			p.Reminders.Stop()
			p.Evaluator.Stop()
			p.Outbox.Stop()
			if p.Adapter != nil {
				if err := p.Adapter.Close(); err != nil {
					logger.Warn("error closing WhatsApp store", zap.Error(err))
				}
			}
			if c, ok := p.Files.store.(io.Closer); ok {
				_ = c.Close()
			}
			if err := p.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
