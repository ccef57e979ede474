// Package service implements every EchoVault operation. The HTTP and gRPC
// surfaces only translate requests and errors.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/echovault/internal/attachments"
	"github.com/matheus3301/echovault/internal/bus"
	"github.com/matheus3301/echovault/internal/logging"
	"github.com/matheus3301/echovault/internal/metrics"
	"github.com/matheus3301/echovault/internal/notify"
	"github.com/matheus3301/echovault/internal/outbox"
	"github.com/matheus3301/echovault/internal/reminder"
	"github.com/matheus3301/echovault/internal/status"
	"github.com/matheus3301/echovault/internal/store"
	"github.com/matheus3301/echovault/internal/trigger"
	"github.com/matheus3301/echovault/internal/vault"
	"github.com/matheus3301/echovault/internal/wa"
	"go.uber.org/zap"
)

// Linker links the direct WhatsApp device.
type Linker interface {
	StartQRAuth(ctx context.Context) (<-chan wa.AuthEvent, error)
	IsLoggedIn() bool
	PhoneNumber() string
}

// Caller identifies who is invoking an operation.
type Caller struct {
	UserID string
	Email  string
	// Internal callers (service-role key, local control socket) act on any
	// user's data.
	Internal bool
}

// InternalCaller is used by the local control API.
var InternalCaller = Caller{Internal: true}

func (c Caller) owns(userID string) bool {
	return c.Internal || (c.UserID != "" && c.UserID == userID)
}

// Options are the service settings taken from config.
type Options struct {
	AppDomain            string
	AdminEmails          []string
	WhatsAppNumber       string
	TestEmailParallelism int
	AttachmentURLTTL     time.Duration
	Now                  func() time.Time
}

// Deps are the collaborators a Service drives.
type Deps struct {
	DB        *store.DB
	Bus       *bus.Bus
	Metrics   *metrics.Metrics
	Evaluator *trigger.Evaluator
	Reminders *reminder.Scheduler
	Outbox    *outbox.Sender
	// Mailer sends test emails directly rather than through the outbox.
	Mailer notify.Sender
	Files  attachments.Store
	Link   *status.Machine
	Linker Linker
	Logger *zap.Logger
}

// Service is the single implementation of the EchoVault operations.
type Service struct {
	Deps
	opts      Options
	logger    *zap.Logger
	startedAt time.Time
}

// New creates a Service.
func New(d Deps, opts Options) *Service {
	if opts.TestEmailParallelism <= 0 {
		opts.TestEmailParallelism = 4
	}
	if opts.AttachmentURLTTL <= 0 {
		opts.AttachmentURLTTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		Deps:      d,
		opts:      opts,
		logger:    logging.OrNop(d.Logger),
		startedAt: time.Now(),
	}
}

func (s *Service) now() time.Time {
	return s.opts.Now()
}

func (s *Service) publish(u vault.ConditionsUpdated) {
	if u.UpdatedAt.IsZero() {
		u.UpdatedAt = s.now()
	}
	s.Bus.Publish(bus.NewEvent(bus.KindConditionUpdated, u))
}

// Status is the daemon overview.
type Status struct {
	StartedAt   time.Time            `json:"started_at"`
	Uptime      string               `json:"uptime"`
	Counts      *store.Stats         `json:"counts"`
	WhatsApp    LinkStatus           `json:"whatsapp"`
	Workers     map[string]time.Time `json:"workers"`
	Attachments string               `json:"attachments"`
}

// LinkStatus describes the direct WhatsApp channel.
type LinkStatus struct {
	State string `json:"state"`
	Phone string `json:"phone,omitempty"`
}

// Status reports counts, link state and worker last-run times.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	counts, err := s.DB.Stats(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		StartedAt: s.startedAt,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Counts:    counts,
		WhatsApp:  LinkStatus{State: string(status.Disabled)},
		Workers:   map[string]time.Time{},
	}
	if s.Link != nil {
		st.WhatsApp.State = string(s.Link.Current())
	}
	if s.Linker != nil {
		st.WhatsApp.Phone = s.Linker.PhoneNumber()
	}
	if s.Evaluator != nil {
		st.Workers["trigger"] = s.Evaluator.LastRun()
	}
	if s.Reminders != nil {
		st.Workers["reminder"] = s.Reminders.LastRun()
	}
	if s.Outbox != nil {
		st.Workers["outbox"] = s.Outbox.LastRun()
	}
	if s.Files != nil {
		st.Attachments = s.Files.Name()
	}
	return st, nil
}

// RunEvaluation runs one trigger pass now.
func (s *Service) RunEvaluation(ctx context.Context) (trigger.Report, error) {
	if s.Evaluator == nil {
		return trigger.Report{}, fmt.Errorf("evaluator not running")
	}
	rep, err := s.Evaluator.RunOnce(ctx)
	if err == nil && rep.Queued > 0 && s.Outbox != nil {
		s.Outbox.Flush(ctx)
	}
	return rep, err
}

// LinkWhatsApp starts linking the direct WhatsApp device.
func (s *Service) LinkWhatsApp(ctx context.Context) (<-chan wa.AuthEvent, error) {
	if s.Linker == nil {
		return nil, fmt.Errorf("%w: direct WhatsApp channel is disabled", vault.ErrValidation)
	}
	return s.Linker.StartQRAuth(ctx)
}
