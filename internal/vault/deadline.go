package vault

import (
	"fmt"
	"slices"
	"time"
)

// Deadline is a computed release time relative to a reference instant.
type Deadline struct {
	At        time.Time
	IsOverdue bool
	Remaining time.Duration
}

func newDeadline(at, now time.Time) Deadline {
	d := Deadline{At: at, IsOverdue: !now.Before(at)}
	if !d.IsOverdue {
		d.Remaining = at.Sub(now)
	}
	return d
}

// CalculateCheckInDeadline returns lastChecked plus the hour/minute threshold.
func CalculateCheckInDeadline(lastChecked time.Time, hours, minutes int, now time.Time) Deadline {
	at := lastChecked.Add(time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute)
	return newDeadline(at, now)
}

// ParseAndCalculateCheckInDeadline is CalculateCheckInDeadline for callers
// holding an RFC 3339 timestamp.
func ParseAndCalculateCheckInDeadline(lastChecked string, hours, minutes int, now time.Time) (Deadline, error) {
	t, err := time.Parse(time.RFC3339, lastChecked)
	if err != nil {
		return Deadline{}, fmt.Errorf("%w: last_checked: %v", ErrValidation, err)
	}
	return CalculateCheckInDeadline(t, hours, minutes, now), nil
}

// CalculateScheduledDeadline wraps a fixed trigger date.
func CalculateScheduledDeadline(triggerDate, now time.Time) Deadline {
	return newDeadline(triggerDate, now)
}

// ReminderOffsets normalises reminder offsets (minutes before the deadline):
// positive values only, de-duplicated, largest first.
func ReminderOffsets(minutes []int) []int {
	out := make([]int, 0, len(minutes))
	for _, m := range minutes {
		if m > 0 {
			out = append(out, m)
		}
	}
	slices.Sort(out)
	out = slices.Compact(out)
	slices.Reverse(out)
	return out
}

// CalculateNextReminderTime returns when the next reminder is due. lastSent
// is the offset of the reminder that already went out, nil if none has.
// Returns nil once the smallest offset has been sent.
func CalculateNextReminderTime(deadline time.Time, reminderMinutes []int, lastSent *int) *time.Time {
	for _, m := range ReminderOffsets(reminderMinutes) {
		if lastSent != nil && m >= *lastSent {
			continue
		}
		at := deadline.Add(-time.Duration(m) * time.Minute)
		return &at
	}
	return nil
}

// NextRecurrence returns the first occurrence of pattern, anchored at start,
// that is strictly after now.
func NextRecurrence(p RecurringPattern, start, now time.Time) time.Time {
	interval := max(p.Interval, 1)
	// Occurrences are always derived from start so month-end anchors don't drift.
	occurrence := func(n int) time.Time {
		switch p.Type {
		case RecurWeekly:
			return start.AddDate(0, 0, 7*n)
		case RecurMonthly:
			return start.AddDate(0, n, 0)
		case RecurYearly:
			return start.AddDate(n, 0, 0)
		default:
			return start.AddDate(0, 0, n)
		}
	}
	for k := 0; ; k += interval {
		if next := occurrence(k); next.After(now) {
			return next
		}
	}
}
