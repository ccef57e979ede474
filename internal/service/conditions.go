package service

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/echovault/internal/vault"
	"go.uber.org/zap"
)

func (s *Service) ownedCondition(ctx context.Context, caller Caller, id string) (*vault.MessageCondition, error) {
	c, err := s.DB.GetCondition(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil || !caller.owns(c.UserID) {
		return nil, fmt.Errorf("condition %s: %w", id, vault.ErrNotFound)
	}
	return c, nil
}

// checkRecipients verifies every recipient exists and belongs to userID.
func (s *Service) checkRecipients(ctx context.Context, userID string, ids []string) error {
	rs, err := s.DB.RecipientsByIDs(ctx, ids)
	if err != nil {
		return err
	}
	owned := make(map[string]bool, len(rs))
	for _, r := range rs {
		if r.UserID == userID {
			owned[r.ID] = true
		}
	}
	for _, id := range ids {
		if !owned[id] {
			return fmt.Errorf("%w: unknown recipient %s", vault.ErrValidation, id)
		}
	}
	return nil
}

// CreateCondition attaches a new armed condition to one of the caller's
// messages.
func (s *Service) CreateCondition(ctx context.Context, caller Caller, c *vault.MessageCondition) error {
	m, err := s.ownedMessage(ctx, caller, c.MessageID)
	if err != nil {
		return err
	}
	c.UserID = m.UserID
	c.State = ""
	if err := vault.ValidateCondition(c); err != nil {
		return err
	}
	if err := s.checkRecipients(ctx, c.UserID, c.RecipientIDs); err != nil {
		return err
	}
	if !c.Active {
		c.State = vault.StateDisarmed
		c.LastChecked = s.now()
	}
	if err := s.DB.CreateCondition(ctx, c); err != nil {
		return err
	}
	s.publish(vault.ConditionsUpdated{MessageID: c.MessageID, Source: "condition-created", UserID: c.UserID})
	return nil
}

// UpdateCondition rewrites a condition's configuration. Armed, disarmed
// and delivered conditions restart their countdown from now; a deactivated
// condition is disarmed. Triggered and pending conditions keep their
// runtime state.
func (s *Service) UpdateCondition(ctx context.Context, caller Caller, c *vault.MessageCondition) error {
	current, err := s.ownedCondition(ctx, caller, c.ID)
	if err != nil {
		return err
	}
	c.MessageID = current.MessageID
	c.UserID = current.UserID
	c.CreatedAt = current.CreatedAt
	c.Version = current.Version
	if err := vault.ValidateCondition(c); err != nil {
		return err
	}
	if err := s.checkRecipients(ctx, c.UserID, c.RecipientIDs); err != nil {
		return err
	}

	now := s.now()
	switch {
	case !c.Active:
		c.State = vault.StateDisarmed
		c.LastChecked = current.LastChecked
		c.TriggeredAt, c.PanicPendingUntil, c.NextFireAt = nil, nil, nil
	case current.State == vault.StateArmed || current.State == vault.StateDisarmed || current.State == vault.StateDelivered:
		c.Arm(now)
	default:
		c.State = current.State
		c.LastChecked = current.LastChecked
		c.TriggeredAt = current.TriggeredAt
		c.PanicPendingUntil = current.PanicPendingUntil
		c.NextFireAt = current.NextFireAt
	}
	if err := s.DB.UpdateCondition(ctx, c); err != nil {
		return err
	}
	if err := s.DB.ClearReminders(ctx, c.ID); err != nil {
		return err
	}
	s.publish(vault.ConditionsUpdated{MessageID: c.MessageID, Source: "condition-updated", UserID: c.UserID})
	return nil
}

// DeleteCondition removes a condition.
func (s *Service) DeleteCondition(ctx context.Context, caller Caller, id string) error {
	c, err := s.ownedCondition(ctx, caller, id)
	if err != nil {
		return err
	}
	if err := s.DB.DeleteCondition(ctx, id); err != nil {
		return err
	}
	s.publish(vault.ConditionsUpdated{MessageID: c.MessageID, Source: "condition-deleted", UserID: c.UserID})
	return nil
}

// GetCondition returns one of the caller's conditions.
func (s *Service) GetCondition(ctx context.Context, caller Caller, id string) (*vault.MessageCondition, error) {
	return s.ownedCondition(ctx, caller, id)
}

// ListConditions returns a user's conditions. Internal callers name the
// user; everyone else gets their own.
func (s *Service) ListConditions(ctx context.Context, caller Caller, userID string) ([]vault.MessageCondition, error) {
	if !caller.Internal || userID == "" {
		userID = caller.UserID
	}
	return s.DB.ConditionsForUser(ctx, userID)
}

// MessageConditions returns the conditions of one of the caller's messages.
func (s *Service) MessageConditions(ctx context.Context, caller Caller, messageID string) ([]vault.MessageCondition, error) {
	if _, err := s.ownedMessage(ctx, caller, messageID); err != nil {
		return nil, err
	}
	return s.DB.ConditionsForMessage(ctx, messageID)
}

// CheckInResult reports a check-in.
type CheckInResult struct {
	Conditions   int        `json:"conditions"`
	NextDeadline *time.Time `json:"next_deadline,omitempty"`
}

// CheckIn restarts every armed no_check_in countdown of the user.
func (s *Service) CheckIn(ctx context.Context, userID, source string) (*CheckInResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", vault.ErrValidation)
	}
	now := s.now()
	ids, err := s.DB.CheckInUser(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	s.Metrics.CheckIn(source)
	s.logger.Info("check-in", zap.String("user_id", userID), zap.String("source", source), zap.Int("conditions", len(ids)))
	s.publish(vault.ConditionsUpdated{UpdatedAt: now, Source: source, UserID: userID})

	res := &CheckInResult{Conditions: len(ids)}
	if res.NextDeadline, err = s.nearestDeadline(ctx, userID); err != nil {
		return nil, err
	}
	return res, nil
}

// nearestDeadline returns the earliest deadline among the user's armed
// conditions, or nil when none has one.
func (s *Service) nearestDeadline(ctx context.Context, userID string) (*time.Time, error) {
	conds, err := s.DB.ConditionsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var nearest *time.Time
	for i := range conds {
		c := &conds[i]
		if !c.Active || (c.State != vault.StateArmed && c.State != vault.StatePanicPending) {
			continue
		}
		at, ok := c.Deadline()
		if !ok {
			continue
		}
		if nearest == nil || at.Before(*nearest) {
			nearest = &at
		}
	}
	return nearest, nil
}

// TriggerPanic starts the cancel-window countdown of a panic condition. A
// zero window fires immediately.
func (s *Service) TriggerPanic(ctx context.Context, caller Caller, conditionID, source string) (*vault.MessageCondition, error) {
	c, err := s.ownedCondition(ctx, caller, conditionID)
	if err != nil {
		return nil, err
	}
	if c.ConditionType != vault.PanicTrigger {
		return nil, fmt.Errorf("%w: condition %s is not a panic trigger", vault.ErrValidation, c.ID)
	}
	if !c.Active {
		return nil, fmt.Errorf("%w: condition %s is not active", vault.ErrConflict, c.ID)
	}
	now := s.now()
	until := now.Add(c.PanicConfig.CancelWindow())
	next := *c
	next.State = vault.StatePanicPending
	next.PanicPendingUntil = &until
	ok, err := s.DB.SetConditionState(ctx, &next, c.State)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: condition %s changed concurrently", vault.ErrConflict, c.ID)
	}
	s.logger.Warn("panic triggered",
		zap.String("condition_id", c.ID), zap.String("source", source), zap.Time("fires_at", until))
	s.publish(vault.ConditionsUpdated{
		MessageID:    c.MessageID,
		UpdatedAt:    now,
		TriggerValue: until.UTC().Format(time.RFC3339),
		Source:       source,
		UserID:       c.UserID,
	})

	if !until.After(now) && s.Evaluator != nil {
		if _, err := s.Evaluator.Force(ctx, c.MessageID, false, source); err != nil {
			return nil, err
		}
		if s.Outbox != nil {
			s.Outbox.Flush(ctx)
		}
		return s.DB.GetCondition(ctx, c.ID)
	}
	return &next, nil
}

// CancelPanic stops a pending panic while its window is open.
func (s *Service) CancelPanic(ctx context.Context, caller Caller, conditionID, source string) (*vault.MessageCondition, error) {
	c, err := s.ownedCondition(ctx, caller, conditionID)
	if err != nil {
		return nil, err
	}
	if c.State != vault.StatePanicPending {
		return nil, fmt.Errorf("%w: no panic pending on condition %s", vault.ErrConflict, c.ID)
	}
	now := s.now()
	if c.PanicPendingUntil != nil && !now.Before(*c.PanicPendingUntil) {
		return nil, fmt.Errorf("%w: cancel window closed", vault.ErrConflict)
	}
	next := *c
	next.State = vault.StateArmed
	next.PanicPendingUntil = nil
	ok, err := s.DB.SetConditionState(ctx, &next, vault.StatePanicPending)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: condition %s already fired", vault.ErrConflict, c.ID)
	}
	s.logger.Info("panic cancelled", zap.String("condition_id", c.ID), zap.String("source", source))
	s.publish(vault.ConditionsUpdated{MessageID: c.MessageID, UpdatedAt: now, Source: source, UserID: c.UserID})
	return &next, nil
}

// panicAll starts the countdown on every armed panic condition of a user.
func (s *Service) panicAll(ctx context.Context, userID, source string) (int, *time.Time, error) {
	conds, err := s.DB.ConditionsForUser(ctx, userID)
	if err != nil {
		return 0, nil, err
	}
	caller := Caller{UserID: userID}
	n := 0
	var earliest *time.Time
	for _, c := range conds {
		if c.ConditionType != vault.PanicTrigger || !c.Active || c.State != vault.StateArmed {
			continue
		}
		updated, err := s.TriggerPanic(ctx, caller, c.ID, source)
		if err != nil {
			return n, earliest, err
		}
		n++
		if u := updated.PanicPendingUntil; u != nil && (earliest == nil || u.Before(*earliest)) {
			earliest = u
		}
	}
	return n, earliest, nil
}

// cancelAll cancels every pending panic of a user whose window is open.
func (s *Service) cancelAll(ctx context.Context, userID, source string) (int, error) {
	conds, err := s.DB.ConditionsForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	caller := Caller{UserID: userID}
	now := s.now()
	n := 0
	for _, c := range conds {
		if c.State != vault.StatePanicPending || (c.PanicPendingUntil != nil && !now.Before(*c.PanicPendingUntil)) {
			continue
		}
		if _, err := s.CancelPanic(ctx, caller, c.ID, source); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
