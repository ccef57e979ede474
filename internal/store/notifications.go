package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueueNotification adds n to the outbox, due immediately unless
// NextAttemptAt is set.
func (db *DB) QueueNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	now := time.Now().UnixMilli()
	if n.NextAttemptAt == 0 {
		n.NextAttemptAt = now
	}
	n.Status = NotificationQueued
	n.CreatedAt, n.UpdatedAt = now, now
	_, err := db.exec(ctx, `
		INSERT INTO notifications (id, kind, channel, address, subject, body, html, message_id,
			status, attempts, next_attempt_at, provider_id, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, '', '', ?, ?)`,
		n.ID, n.Kind, n.Channel, n.Address, n.Subject, n.Body, n.HTML, n.MessageID,
		n.Status, n.NextAttemptAt, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return fmt.Errorf("queue notification: %w", err)
	}
	return nil
}

// PendingNotifications returns queued notifications due at now, oldest first.
func (db *DB) PendingNotifications(ctx context.Context, now time.Time, limit int) ([]Notification, error) {
	var out []Notification
	err := db.selectAll(ctx, &out, `
		SELECT * FROM notifications
		WHERE status = ? AND next_attempt_at <= ?
		ORDER BY next_attempt_at, created_at LIMIT ?`,
		NotificationQueued, now.UnixMilli(), limit)
	return out, err
}

// GetNotification returns a notification by id, or nil.
func (db *DB) GetNotification(ctx context.Context, id string) (*Notification, error) {
	var out []Notification
	if err := db.selectAll(ctx, &out, `SELECT * FROM notifications WHERE id = ?`, id); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

// MarkNotificationSending claims a queued notification and counts the
// attempt. It reports false when another sender claimed it first.
func (db *DB) MarkNotificationSending(ctx context.Context, id string) (bool, error) {
	res, err := db.exec(ctx, `
		UPDATE notifications SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ?`,
		NotificationSending, time.Now().UnixMilli(), id, NotificationQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkNotificationSent records the provider's message id.
func (db *DB) MarkNotificationSent(ctx context.Context, id, providerID string) error {
	_, err := db.exec(ctx, `
		UPDATE notifications SET status = ?, provider_id = ?, error_message = '', updated_at = ?
		WHERE id = ?`,
		NotificationSent, providerID, time.Now().UnixMilli(), id)
	return err
}

// RetryNotification puts a failed attempt back in the queue for retryAt.
func (db *DB) RetryNotification(ctx context.Context, id, errMsg string, retryAt time.Time) error {
	_, err := db.exec(ctx, `
		UPDATE notifications SET status = ?, error_message = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?`,
		NotificationQueued, errMsg, retryAt.UnixMilli(), time.Now().UnixMilli(), id)
	return err
}

// MarkNotificationFailed gives up on a notification.
func (db *DB) MarkNotificationFailed(ctx context.Context, id, errMsg string) error {
	_, err := db.exec(ctx, `
		UPDATE notifications SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ?`,
		NotificationFailed, errMsg, time.Now().UnixMilli(), id)
	return err
}

// RequeueStaleSending returns notifications left in 'sending' by a crashed
// daemon to the queue.
func (db *DB) RequeueStaleSending(ctx context.Context) (int64, error) {
	res, err := db.exec(ctx, `UPDATE notifications SET status = ?, updated_at = ? WHERE status = ?`,
		NotificationQueued, time.Now().UnixMilli(), NotificationSending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
