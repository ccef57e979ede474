package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RecordInbound stores a message received from a phone.
func (db *DB) RecordInbound(ctx context.Context, m *InboundMessage) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.ReceivedAt.IsZero() {
		m.ReceivedAt = time.Now().UTC()
	}
	_, err := db.exec(ctx, `
		INSERT INTO inbound_messages (id, source, from_phone, body, user_id, command, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Source, m.FromPhone, m.Body, m.UserID, m.Command, toMillis(m.ReceivedAt))
	return err
}

// CountInbound returns how many inbound messages a user sent since t.
func (db *DB) CountInbound(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := db.get(ctx, &n, `SELECT COUNT(*) FROM inbound_messages WHERE user_id = ? AND received_at >= ?`,
		userID, toMillis(since))
	return n, err
}
