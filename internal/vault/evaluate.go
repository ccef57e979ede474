package vault

import "time"

// Decision is the outcome of evaluating one condition at one instant.
type Decision struct {
	Due          bool
	Deadline     time.Time
	TriggerValue string
}

// Deadline returns the instant the condition fires given its current
// checkpoint, and false when the condition has no time-based deadline.
func (c *MessageCondition) Deadline() (time.Time, bool) {
	switch c.ConditionType {
	case NoCheckIn:
		return CalculateCheckInDeadline(c.LastChecked, c.HoursThreshold, c.MinutesThreshold, c.LastChecked).At, true
	case InactivityToDate:
		if c.TriggerDate != nil {
			return *c.TriggerDate, true
		}
	case InactivityToRecurring:
		if c.NextFireAt != nil {
			return *c.NextFireAt, true
		}
	case PanicTrigger:
		if c.State == StatePanicPending && c.PanicPendingUntil != nil {
			return *c.PanicPendingUntil, true
		}
	}
	return time.Time{}, false
}

// Evaluate decides whether c should trigger at now. Only active conditions
// that are armed (or counting down a panic) can be due.
func Evaluate(c *MessageCondition, now time.Time) Decision {
	if !c.Active {
		return Decision{}
	}
	switch c.State {
	case StateArmed:
		if c.ConditionType == PanicTrigger {
			return Decision{}
		}
	case StatePanicPending:
		if c.ConditionType != PanicTrigger {
			return Decision{}
		}
	default:
		return Decision{}
	}
	at, ok := c.Deadline()
	if !ok {
		return Decision{}
	}
	d := Decision{Deadline: at}
	if !now.Before(at) {
		d.Due = true
		d.TriggerValue = at.UTC().Format(time.RFC3339)
	}
	return d
}
