package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// RecordReminder notes that the reminder at offsetMinutes before the
// deadline went out.
func (db *DB) RecordReminder(ctx context.Context, conditionID string, offsetMinutes int, sentAt time.Time) error {
	_, err := db.exec(ctx, `
		INSERT INTO reminder_history (condition_id, offset_minutes, sent_at) VALUES (?, ?, ?)`,
		conditionID, offsetMinutes, toMillis(sentAt))
	return err
}

// LastReminder returns the offset of the most recent reminder sent for a
// condition, or nil when none was sent since the last check-in.
func (db *DB) LastReminder(ctx context.Context, conditionID string) (*int, error) {
	var offset int
	err := db.get(ctx, &offset, `
		SELECT offset_minutes FROM reminder_history
		WHERE condition_id = ? ORDER BY sent_at DESC, id DESC LIMIT 1`, conditionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &offset, nil
}

// ClearReminders forgets the reminder history of a condition.
func (db *DB) ClearReminders(ctx context.Context, conditionID string) error {
	_, err := db.exec(ctx, `DELETE FROM reminder_history WHERE condition_id = ?`, conditionID)
	return err
}
