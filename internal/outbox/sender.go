// Package outbox drains queued notifications to their providers with retry.
package outbox

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matheus3301/echovault/internal/bus"
	"github.com/matheus3301/echovault/internal/logging"
	"github.com/matheus3301/echovault/internal/metrics"
	"github.com/matheus3301/echovault/internal/notify"
	"github.com/matheus3301/echovault/internal/store"
	"go.uber.org/zap"
)

// Options tunes the sender loop.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
	BatchSize   int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 30 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	return o
}

// Result is the payload of notification.sent and notification.failed events.
type Result struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	Channel    string `json:"channel"`
	Address    string `json:"address"`
	MessageID  string `json:"message_id,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error,omitempty"`
	// Final is false when a failed attempt will be retried.
	Final bool `json:"final"`
}

// Sender drains the notifications outbox.
type Sender struct {
	db      *store.DB
	sender  notify.Sender
	bus     *bus.Bus
	metrics *metrics.Metrics
	opts    Options
	logger  *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, sender notify.Sender, b *bus.Bus, m *metrics.Metrics, opts Options, logger *zap.Logger) *Sender {
	return &Sender{
		db:      db,
		sender:  sender,
		bus:     b,
		metrics: m,
		opts:    opts.withDefaults(),
		logger:  logging.OrNop(logger),
	}
}

// Start requeues rows a previous process left mid-send and begins polling.
func (s *Sender) Start(ctx context.Context) {
	if n, err := s.db.RequeueStaleSending(ctx); err != nil {
		s.logger.Error("failed to requeue stale notifications", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued stale notifications", zap.Int64("count", n))
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for the current pass.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// LastRun returns when the last pass finished.
func (s *Sender) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Flush sends every notification due now and returns how many were sent.
func (s *Sender) Flush(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	defer func() {
		s.lastRun = time.Now()
		s.metrics.WorkerRun("outbox", start)
	}()

	pending, err := s.db.PendingNotifications(ctx, start, s.opts.BatchSize)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return 0
	}

	sent := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			return sent
		}
		claimed, err := s.db.MarkNotificationSending(ctx, n.ID)
		if err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("notification_id", n.ID))
			continue
		}
		if !claimed {
			continue
		}
		n.Attempts++
		if s.send(ctx, n) {
			sent++
		}
	}
	return sent
}

func (s *Sender) send(ctx context.Context, n store.Notification) bool {
	res := Result{
		ID:        n.ID,
		Kind:      n.Kind,
		Channel:   n.Channel,
		Address:   n.Address,
		MessageID: n.MessageID,
		Attempts:  n.Attempts,
	}
	providerID, err := s.sender.Send(ctx, notify.Message{
		Channel: n.Channel,
		To:      n.Address,
		Subject: n.Subject,
		Body:    n.Body,
		HTML:    n.HTML,
	})
	if err != nil {
		res.Error = err.Error()
		res.Final = n.Attempts >= s.opts.MaxAttempts || !retryable(err)
		if res.Final {
			s.logger.Error("notification failed",
				zap.Error(err), zap.String("notification_id", n.ID),
				zap.String("channel", n.Channel), zap.Int("attempts", n.Attempts))
			if err := s.db.MarkNotificationFailed(ctx, n.ID, res.Error); err != nil {
				s.logger.Error("failed to mark failed", zap.Error(err), zap.String("notification_id", n.ID))
			}
			s.metrics.Notification(n.Channel, "failed")
		} else {
			retryAt := time.Now().Add(s.opts.RetryDelay * time.Duration(n.Attempts))
			s.logger.Warn("notification attempt failed, will retry",
				zap.Error(err), zap.String("notification_id", n.ID),
				zap.String("channel", n.Channel), zap.Time("retry_at", retryAt))
			if err := s.db.RetryNotification(ctx, n.ID, res.Error, retryAt); err != nil {
				s.logger.Error("failed to reschedule", zap.Error(err), zap.String("notification_id", n.ID))
			}
			s.metrics.Notification(n.Channel, "retry")
		}
		s.bus.Publish(bus.NewEvent(bus.KindNotificationFailed, res))
		return false
	}

	if err := s.db.MarkNotificationSent(ctx, n.ID, providerID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("notification_id", n.ID))
	}
	res.ProviderID = providerID
	res.Final = true
	s.metrics.Notification(n.Channel, "sent")
	s.logger.Info("notification sent",
		zap.String("notification_id", n.ID), zap.String("kind", n.Kind),
		zap.String("channel", n.Channel), zap.String("provider_id", providerID))
	s.bus.Publish(bus.NewEvent(bus.KindNotificationSent, res))
	return true
}

// retryable reports whether a send error may succeed on a later attempt.
func retryable(err error) bool {
	if errors.Is(err, notify.ErrChannelDisabled) {
		return false
	}
	var pe *notify.ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary()
	}
	return true
}
