package store

import (
	"context"
	"fmt"

	"github.com/matheus3301/echovault/internal/vault"
)

// Stats returns row counts for the status view.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	counts := []struct {
		dst   *int
		query string
		args  []any
	}{
		{&s.Messages, `SELECT COUNT(*) FROM messages`, nil},
		{&s.Recipients, `SELECT COUNT(*) FROM recipients`, nil},
		{&s.ArmedConditions, `SELECT COUNT(*) FROM message_conditions WHERE state = ? AND active = ?`, []any{string(vault.StateArmed), true}},
		{&s.PendingPanics, `SELECT COUNT(*) FROM message_conditions WHERE state = ?`, []any{string(vault.StatePanicPending)}},
		{&s.Deliveries, `SELECT COUNT(*) FROM delivered_messages`, nil},
		{&s.QueuedNotifications, `SELECT COUNT(*) FROM notifications WHERE status IN (?, ?)`, []any{NotificationQueued, NotificationSending}},
		{&s.FailedNotifications, `SELECT COUNT(*) FROM notifications WHERE status = ?`, []any{NotificationFailed}},
	}
	for _, c := range counts {
		if err := db.get(ctx, c.dst, c.query, c.args...); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}
	return &s, nil
}
