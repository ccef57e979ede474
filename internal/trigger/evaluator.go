// Package trigger fires due conditions and hands their messages to the
// recipients.
package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/echovault/internal/bus"
	"github.com/matheus3301/echovault/internal/logging"
	"github.com/matheus3301/echovault/internal/metrics"
	"github.com/matheus3301/echovault/internal/store"
	"github.com/matheus3301/echovault/internal/vault"
	"go.uber.org/zap"
)

// Channels reports which notification channels have a configured sender.
type Channels interface {
	Enabled(channel string) bool
}

// Options tunes the evaluator.
type Options struct {
	Interval  time.Duration
	AppDomain string
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Report summarises one evaluation pass.
type Report struct {
	Evaluated int `json:"evaluated"`
	Triggered int `json:"triggered"`
	Delivered int `json:"delivered"`
	Queued    int `json:"queued"`
}

// Evaluator periodically fires due conditions and delivers triggered ones.
type Evaluator struct {
	db       *store.DB
	channels Channels
	bus      *bus.Bus
	metrics  *metrics.Metrics
	opts     Options
	logger   *zap.Logger

	// mu serialises passes so a manual RunOnce never races the ticker.
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	lastRun time.Time
}

// NewEvaluator creates an evaluator.
func NewEvaluator(db *store.DB, channels Channels, b *bus.Bus, m *metrics.Metrics, opts Options, logger *zap.Logger) *Evaluator {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Evaluator{
		db:       db,
		channels: channels,
		bus:      b,
		metrics:  m,
		opts:     opts,
		logger:   logging.OrNop(logger),
	}
}

// Start begins periodic evaluation.
func (e *Evaluator) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	go e.loop(ctx)
}

// Stop stops the loop and waits for the current pass.
func (e *Evaluator) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

// LastRun returns when the last pass finished.
func (e *Evaluator) LastRun() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRun
}

func (e *Evaluator) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(e.opts.Interval)
	defer ticker.Stop()

	e.run(ctx)
	for {
		select {
		case <-ticker.C:
			e.run(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (e *Evaluator) run(ctx context.Context) {
	rep, err := e.RunOnce(ctx)
	if err != nil {
		e.logger.Error("evaluation failed", zap.Error(err))
		return
	}
	if rep.Triggered > 0 || rep.Delivered > 0 {
		e.logger.Info("evaluation pass",
			zap.Int("evaluated", rep.Evaluated),
			zap.Int("triggered", rep.Triggered),
			zap.Int("delivered", rep.Delivered),
			zap.Int("queued", rep.Queued))
	}
}

// RunOnce evaluates every armed condition, then delivers every triggered
// condition whose unlock time has passed.
func (e *Evaluator) RunOnce(ctx context.Context) (Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()
	defer func() {
		e.lastRun = time.Now()
		e.metrics.WorkerRun("trigger", start)
		e.bus.Publish(bus.NewEvent(bus.KindWorkerRan, "trigger"))
	}()

	var rep Report
	now := e.opts.Now()

	armed, err := e.db.ArmedConditions(ctx)
	if err != nil {
		return rep, fmt.Errorf("load armed conditions: %w", err)
	}
	for i := range armed {
		c := &armed[i]
		rep.Evaluated++
		d := vault.Evaluate(c, now)
		if !d.Due {
			continue
		}
		fired, err := e.fire(ctx, c, now, d.TriggerValue, "trigger")
		if err != nil {
			e.logger.Error("failed to trigger condition", zap.Error(err), zap.String("condition_id", c.ID))
			continue
		}
		if fired {
			rep.Triggered++
		}
	}

	triggered, err := e.db.TriggeredConditions(ctx)
	if err != nil {
		return rep, fmt.Errorf("load triggered conditions: %w", err)
	}
	for i := range triggered {
		c := &triggered[i]
		res, err := e.deliver(ctx, c, now, "trigger")
		if err != nil {
			e.logger.Error("failed to deliver condition", zap.Error(err), zap.String("condition_id", c.ID))
			continue
		}
		rep.Queued += res.Queued
		if res.Delivered {
			rep.Delivered++
		}
	}
	return rep, nil
}

// ForceResult describes what Force did with one condition.
type ForceResult struct {
	ConditionID string               `json:"condition_id"`
	State       vault.ConditionState `json:"state"`
	Fired       bool                 `json:"fired"`
	Delivered   bool                 `json:"delivered"`
	Queued      int                  `json:"queued"`
	Recipients  int                  `json:"recipients"`
	Reason      string               `json:"reason,omitempty"`
}

// Force runs the message's conditions now. With fireAll every armed or
// pending condition is triggered regardless of its deadline; otherwise only
// due ones are. Triggered conditions are then delivered.
func (e *Evaluator) Force(ctx context.Context, messageID string, fireAll bool, source string) ([]ForceResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	conds, err := e.db.ConditionsForMessage(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("load conditions: %w", err)
	}
	now := e.opts.Now()
	out := make([]ForceResult, 0, len(conds))
	for i := range conds {
		c := &conds[i]
		res := ForceResult{ConditionID: c.ID, Recipients: len(c.RecipientIDs)}

		switch c.State {
		case vault.StateArmed, vault.StatePanicPending:
			d := vault.Evaluate(c, now)
			if !d.Due && !fireAll {
				res.Reason = "not due"
				break
			}
			value := d.TriggerValue
			if value == "" {
				value = now.UTC().Format(time.RFC3339)
			}
			fired, err := e.fire(ctx, c, now, value, source)
			if err != nil {
				return out, err
			}
			res.Fired = fired
			if !fired {
				res.Reason = "state changed concurrently"
			}
		case vault.StateTriggered:
		default:
			res.Reason = fmt.Sprintf("condition is %s", c.State)
		}

		if c.State == vault.StateTriggered {
			dr, err := e.deliver(ctx, c, now, source)
			if err != nil {
				return out, err
			}
			res.Delivered, res.Queued = dr.Delivered, dr.Queued
			if !dr.Delivered && res.Reason == "" {
				res.Reason = "waiting for unlock"
			}
		}
		res.State = c.State
		out = append(out, res)
	}
	return out, nil
}

// fire moves c to triggered and records one delivery per recipient in the
// same transaction. It reports false when another writer changed the
// condition first, e.g. a check-in that landed after c was loaded.
func (e *Evaluator) fire(ctx context.Context, c *vault.MessageCondition, now time.Time, triggerValue, source string) (bool, error) {
	from := c.State
	next := *c
	next.State = vault.StateTriggered
	next.TriggeredAt = &now
	next.PanicPendingUntil = nil

	ds, err := e.deliveriesFor(ctx, &next, now)
	if err != nil {
		return false, err
	}
	ok, err := e.db.TriggerCondition(ctx, &next, from, ds)
	if err != nil || !ok {
		return false, err
	}
	*c = next

	e.metrics.ConditionTriggered(string(c.ConditionType))
	e.logger.Info("condition triggered",
		zap.String("condition_id", c.ID),
		zap.String("message_id", c.MessageID),
		zap.String("type", string(c.ConditionType)),
		zap.String("trigger_value", triggerValue),
		zap.Int("recipients", len(ds)))
	e.publish(c, now, triggerValue, source)
	return true, nil
}

// deliveriesFor builds the delivery rows of a condition triggered at.
func (e *Evaluator) deliveriesFor(ctx context.Context, c *vault.MessageCondition, at time.Time) ([]vault.Delivery, error) {
	unlockAt := at.Add(c.UnlockDelay())
	var expiresAt *time.Time
	if c.Expiry() > 0 {
		t := unlockAt.Add(c.Expiry())
		expiresAt = &t
	}
	recipients, err := e.db.RecipientsByIDs(ctx, c.RecipientIDs)
	if err != nil {
		return nil, fmt.Errorf("load recipients: %w", err)
	}
	ds := make([]vault.Delivery, 0, len(recipients))
	for _, r := range recipients {
		ds = append(ds, vault.Delivery{
			MessageID:      c.MessageID,
			ConditionID:    c.ID,
			RecipientID:    r.ID,
			RecipientEmail: r.Email,
			DeliveredAt:    at,
			UnlockAt:       unlockAt,
			ExpiresAt:      expiresAt,
		})
	}
	return ds, nil
}

func (e *Evaluator) publish(c *vault.MessageCondition, now time.Time, triggerValue, source string) {
	e.bus.Publish(bus.NewEvent(bus.KindConditionUpdated, vault.ConditionsUpdated{
		MessageID:    c.MessageID,
		UpdatedAt:    now,
		TriggerValue: triggerValue,
		Source:       source,
		UserID:       c.UserID,
	}))
}
