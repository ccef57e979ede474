// Package reminder emails owners before their check-in deadlines pass.
package reminder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/echovault/internal/bus"
	"github.com/matheus3301/echovault/internal/logging"
	"github.com/matheus3301/echovault/internal/metrics"
	"github.com/matheus3301/echovault/internal/notify"
	"github.com/matheus3301/echovault/internal/store"
	"github.com/matheus3301/echovault/internal/vault"
	"go.uber.org/zap"
)

// NotificationKindReminder tags outbox rows carrying check-in reminders.
const NotificationKindReminder = "reminder"

// Options tunes the scheduler.
type Options struct {
	Interval  time.Duration
	AppDomain string
	Now       func() time.Time
}

// Request narrows a run. The zero value is a normal scheduled pass.
type Request struct {
	MessageID string `json:"messageId,omitempty"`
	// Debug reports decisions without queueing anything.
	Debug bool `json:"debug,omitempty"`
	// ForceSend queues a reminder for every matching condition now.
	ForceSend bool `json:"forceSend,omitempty"`
}

// Decision is what the scheduler concluded for one condition.
type Decision struct {
	ConditionID string     `json:"condition_id"`
	MessageID   string     `json:"message_id"`
	UserID      string     `json:"user_id"`
	Deadline    time.Time  `json:"deadline"`
	NextAt      *time.Time `json:"next_reminder_at,omitempty"`
	Offset      int        `json:"offset_minutes,omitempty"`
	Send        bool       `json:"send"`
	Sent        bool       `json:"sent"`
	Reason      string     `json:"reason,omitempty"`
}

// Result summarises a run.
type Result struct {
	Checked   int        `json:"checked"`
	Sent      int        `json:"sent"`
	Decisions []Decision `json:"decisions,omitempty"`
}

// Scheduler periodically queues reminder emails.
type Scheduler struct {
	db      *store.DB
	metrics *metrics.Metrics
	bus     *bus.Bus
	opts    Options
	logger  *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
}

// NewScheduler creates a reminder scheduler.
func NewScheduler(db *store.DB, b *bus.Bus, m *metrics.Metrics, opts Options, logger *zap.Logger) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{db: db, bus: b, metrics: m, opts: opts, logger: logging.OrNop(logger)}
}

// Start begins periodic runs.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the loop and waits for the current run.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// LastRun returns when the last run finished.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			res, err := s.Run(ctx, Request{})
			if err != nil {
				s.logger.Error("reminder run failed", zap.Error(err))
			} else if res.Sent > 0 {
				s.logger.Info("reminders queued", zap.Int("sent", res.Sent), zap.Int("checked", res.Checked))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Run checks armed no_check_in conditions with reminder offsets and queues
// the reminders that are due.
func (s *Scheduler) Run(ctx context.Context, req Request) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start := time.Now()
	defer func() {
		s.lastRun = time.Now()
		s.metrics.WorkerRun("reminder", start)
		s.bus.Publish(bus.NewEvent(bus.KindWorkerRan, "reminder"))
	}()

	var res Result
	conds, err := s.candidates(ctx, req.MessageID)
	if err != nil {
		return res, err
	}
	now := s.opts.Now()
	for i := range conds {
		c := &conds[i]
		res.Checked++
		d, err := s.decide(ctx, c, now, req.ForceSend)
		if err != nil {
			return res, err
		}
		if d.Send && !req.Debug {
			if err := s.send(ctx, c, &d, now); err != nil {
				s.logger.Error("failed to queue reminder", zap.Error(err), zap.String("condition_id", c.ID))
				d.Reason = err.Error()
			} else {
				d.Sent = true
				res.Sent++
			}
		}
		if req.Debug || req.MessageID != "" {
			res.Decisions = append(res.Decisions, d)
		}
	}
	return res, nil
}

func (s *Scheduler) candidates(ctx context.Context, messageID string) ([]vault.MessageCondition, error) {
	var all []vault.MessageCondition
	var err error
	if messageID != "" {
		all, err = s.db.ConditionsForMessage(ctx, messageID)
	} else {
		all, err = s.db.ArmedConditions(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("load conditions: %w", err)
	}
	out := all[:0]
	for _, c := range all {
		if c.Active && c.State == vault.StateArmed && c.ConditionType == vault.NoCheckIn &&
			len(vault.ReminderOffsets(c.ReminderMinutes)) > 0 {
			out = append(out, c)
		}
	}
	return out, nil
}

// decide walks the reminder offsets past the last one sent. When several
// came due at once only the smallest is sent.
func (s *Scheduler) decide(ctx context.Context, c *vault.MessageCondition, now time.Time, force bool) (Decision, error) {
	deadline := vault.CalculateCheckInDeadline(c.LastChecked, c.HoursThreshold, c.MinutesThreshold, now)
	d := Decision{
		ConditionID: c.ID,
		MessageID:   c.MessageID,
		UserID:      c.UserID,
		Deadline:    deadline.At,
	}
	last, err := s.db.LastReminder(ctx, c.ID)
	if err != nil {
		return d, fmt.Errorf("reminder history: %w", err)
	}
	for {
		next := vault.CalculateNextReminderTime(deadline.At, c.ReminderMinutes, last)
		if next == nil || now.Before(*next) {
			d.NextAt = next
			break
		}
		offset := int(deadline.At.Sub(*next) / time.Minute)
		d.Offset = offset
		d.Send = true
		last = &offset
	}

	switch {
	case force:
		d.Send = true
		d.Reason = "forced"
	case deadline.IsOverdue:
		d.Send = false
		d.Reason = "deadline passed"
	case !d.Send && d.NextAt == nil:
		d.Reason = "all reminders sent"
	case !d.Send:
		d.Reason = "not due"
	}
	return d, nil
}

func (s *Scheduler) send(ctx context.Context, c *vault.MessageCondition, d *Decision, now time.Time) error {
	owner, err := s.db.GetProfile(ctx, c.UserID)
	if err != nil {
		return err
	}
	if owner == nil || owner.Email == "" {
		return fmt.Errorf("owner %s has no email", c.UserID)
	}
	msg, err := s.db.GetMessage(ctx, c.MessageID)
	if err != nil {
		return err
	}
	var titles []string
	if msg != nil {
		titles = append(titles, msg.Title)
	}
	email, err := notify.ReminderEmail(notify.ReminderData{
		Name:          owner.DisplayName(),
		MessageTitles: titles,
		Deadline:      d.Deadline,
		Remaining:     d.Deadline.Sub(now),
		CheckInURL:    vault.AppURL(s.opts.AppDomain, "/dashboard"),
	})
	if err != nil {
		return err
	}
	if err := s.db.QueueNotification(ctx, &store.Notification{
		Kind:      NotificationKindReminder,
		Channel:   notify.ChannelEmail,
		Address:   owner.Email,
		Subject:   email.Subject,
		Body:      email.Text,
		HTML:      email.HTML,
		MessageID: c.MessageID,
	}); err != nil {
		return err
	}
	// Forced reminders outside the schedule leave the history untouched.
	if d.Offset > 0 {
		if err := s.db.RecordReminder(ctx, c.ID, d.Offset, now); err != nil {
			return err
		}
	}
	s.metrics.ReminderSent()
	s.logger.Info("reminder queued",
		zap.String("condition_id", c.ID),
		zap.Int("offset_minutes", d.Offset),
		zap.Time("deadline", d.Deadline))
	return nil
}
