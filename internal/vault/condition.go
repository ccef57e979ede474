package vault

import (
	"fmt"
	"slices"
	"time"
)

// ConditionType selects how a condition decides to release its message.
type ConditionType string

const (
	NoCheckIn             ConditionType = "no_check_in"
	PanicTrigger          ConditionType = "panic_trigger"
	InactivityToDate      ConditionType = "inactivity_to_date"
	InactivityToRecurring ConditionType = "inactivity_to_recurring"
)

// Valid reports whether t is a known condition type.
func (t ConditionType) Valid() bool {
	switch t {
	case NoCheckIn, PanicTrigger, InactivityToDate, InactivityToRecurring:
		return true
	}
	return false
}

// ConditionState is the lifecycle position of a condition.
type ConditionState string

const (
	StateArmed        ConditionState = "armed"
	StatePanicPending ConditionState = "panic_pending"
	StateTriggered    ConditionState = "triggered"
	StateDelivered    ConditionState = "delivered"
	StateDisarmed     ConditionState = "disarmed"
)

var validTransitions = map[ConditionState][]ConditionState{
	StateArmed:        {StatePanicPending, StateTriggered, StateDisarmed},
	StatePanicPending: {StateArmed, StateTriggered, StateDisarmed},
	StateTriggered:    {StateDelivered, StateDisarmed},
	StateDelivered:    {StateArmed, StateDisarmed},
	StateDisarmed:     {StateArmed},
}

// Transition validates a state change.
func Transition(from, to ConditionState) error {
	if !slices.Contains(validTransitions[from], to) {
		return fmt.Errorf("%w: invalid condition transition from %s to %s", ErrConflict, from, to)
	}
	return nil
}

// RecurrenceType is the unit of a recurring schedule.
type RecurrenceType string

const (
	RecurDaily   RecurrenceType = "daily"
	RecurWeekly  RecurrenceType = "weekly"
	RecurMonthly RecurrenceType = "monthly"
	RecurYearly  RecurrenceType = "yearly"
)

// RecurringPattern describes when an inactivity_to_recurring condition fires.
type RecurringPattern struct {
	Type     RecurrenceType `json:"type" validate:"required,oneof=daily weekly monthly yearly"`
	Interval int            `json:"interval" validate:"gte=1,lte=366"`
}

// DefaultPanicCancelWindow is used when a panic condition does not set one.
const DefaultPanicCancelWindow = 10

// PanicConfig tunes the panic button. A nil CancelWindowSeconds means the
// default window; only an explicit 0 releases without a countdown.
type PanicConfig struct {
	CancelWindowSeconds *int `json:"cancel_window_seconds,omitempty" validate:"omitempty,gte=0,lte=3600"`
	KeepArmed           bool `json:"keep_armed"`
}

// CancelWindow returns the countdown duration.
func (p *PanicConfig) CancelWindow() time.Duration {
	if p == nil || p.CancelWindowSeconds == nil {
		return DefaultPanicCancelWindow * time.Second
	}
	return time.Duration(*p.CancelWindowSeconds) * time.Second
}

// MessageCondition is the trigger configuration of a message together with
// its current checkpoint.
type MessageCondition struct {
	ID                string            `json:"id"`
	MessageID         string            `json:"message_id" validate:"required"`
	UserID            string            `json:"user_id"`
	ConditionType     ConditionType     `json:"condition_type" validate:"required,oneof=no_check_in panic_trigger inactivity_to_date inactivity_to_recurring"`
	HoursThreshold    int               `json:"hours_threshold" validate:"gte=0,lte=87600"`
	MinutesThreshold  int               `json:"minutes_threshold" validate:"gte=0,lte=59"`
	LastChecked       time.Time         `json:"last_checked"`
	TriggerDate       *time.Time        `json:"trigger_date,omitempty"`
	RecurringPattern  *RecurringPattern `json:"recurring_pattern,omitempty"`
	ReminderMinutes   []int             `json:"reminder_minutes,omitempty" validate:"dive,gt=0"`
	PanicConfig       *PanicConfig      `json:"panic_config,omitempty"`
	PinCode           string            `json:"pin_code,omitempty" validate:"omitempty,numeric,min=4,max=12"`
	UnlockDelayHours  int               `json:"unlock_delay_hours" validate:"gte=0,lte=8760"`
	ExpiryHours       int               `json:"expiry_hours" validate:"gte=0,lte=87600"`
	Active            bool              `json:"active"`
	State             ConditionState    `json:"state"`
	TriggeredAt       *time.Time        `json:"triggered_at,omitempty"`
	PanicPendingUntil *time.Time        `json:"panic_pending_until,omitempty"`
	NextFireAt        *time.Time        `json:"next_fire_at,omitempty"`
	RecipientIDs      []string          `json:"recipient_ids"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	// Version counts stored writes; a write from a stale copy is refused.
	Version           int64             `json:"-"`
}

// HasPIN reports whether recipients must enter a PIN.
func (c *MessageCondition) HasPIN() bool {
	return c.PinCode != ""
}

// UnlockDelay returns the configured wait between trigger and access.
func (c *MessageCondition) UnlockDelay() time.Duration {
	return time.Duration(c.UnlockDelayHours) * time.Hour
}

// Expiry returns how long recipients may access the message after unlock,
// or zero for no expiry.
func (c *MessageCondition) Expiry() time.Duration {
	return time.Duration(c.ExpiryHours) * time.Hour
}

// Rearms reports whether the condition goes back to armed after delivery.
func (c *MessageCondition) Rearms() bool {
	switch c.ConditionType {
	case InactivityToRecurring:
		return c.RecurringPattern != nil
	case PanicTrigger:
		return c.PanicConfig != nil && c.PanicConfig.KeepArmed
	}
	return false
}

// Arm prepares a fresh or re-armed condition at now.
func (c *MessageCondition) Arm(now time.Time) {
	c.State = StateArmed
	c.LastChecked = now
	c.TriggeredAt = nil
	c.PanicPendingUntil = nil
	c.NextFireAt = nil
	switch c.ConditionType {
	case InactivityToDate:
		if c.TriggerDate != nil {
			t := *c.TriggerDate
			c.NextFireAt = &t
		}
	case InactivityToRecurring:
		if c.TriggerDate != nil && c.RecurringPattern != nil {
			next := NextRecurrence(*c.RecurringPattern, *c.TriggerDate, now)
			c.NextFireAt = &next
		}
	case NoCheckIn:
		d := CalculateCheckInDeadline(now, c.HoursThreshold, c.MinutesThreshold, now)
		c.NextFireAt = &d.At
	}
}

// CheckConsistency verifies the cross-field rules struct tags cannot express.
func (c *MessageCondition) CheckConsistency() error {
	switch c.ConditionType {
	case NoCheckIn:
		if c.HoursThreshold == 0 && c.MinutesThreshold == 0 {
			return fmt.Errorf("%w: no_check_in needs a non-zero threshold", ErrValidation)
		}
	case InactivityToDate:
		if c.TriggerDate == nil {
			return fmt.Errorf("%w: inactivity_to_date needs trigger_date", ErrValidation)
		}
	case InactivityToRecurring:
		if c.TriggerDate == nil || c.RecurringPattern == nil {
			return fmt.Errorf("%w: inactivity_to_recurring needs trigger_date and recurring_pattern", ErrValidation)
		}
	}
	if len(c.RecipientIDs) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrValidation)
	}
	return nil
}
