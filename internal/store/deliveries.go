package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/matheus3301/echovault/internal/vault"
)

// CreateDeliveries records one delivery per recipient. Rows that already
// exist for the same condition, recipient and trigger time are left alone, so
// a retried trigger does not duplicate deliveries. It returns how many rows
// were inserted.
func (db *DB) CreateDeliveries(ctx context.Context, ds []vault.Delivery) (int, error) {
	var inserted int
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		inserted, err = insertDeliveries(ctx, tx, ds)
		return err
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func insertDeliveries(ctx context.Context, tx *sqlx.Tx, ds []vault.Delivery) (int, error) {
	inserted := 0
	for i := range ds {
		d := &ds[i]
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		res, err := txExec(ctx, tx, `
			INSERT INTO delivered_messages (id, message_id, condition_id, recipient_id, recipient_email,
				delivered_at, unlock_at, expires_at, viewed_at, notified_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)
			ON CONFLICT (condition_id, recipient_id, delivered_at) DO NOTHING`,
			d.ID, d.MessageID, d.ConditionID, d.RecipientID, strings.ToLower(d.RecipientEmail),
			toMillis(d.DeliveredAt), toMillis(d.UnlockAt), toMillisPtr(d.ExpiresAt))
		if err != nil {
			return inserted, fmt.Errorf("insert delivery for %s: %w", d.RecipientID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// PendingDelivery is a delivery whose recipient has not been notified yet.
type PendingDelivery struct {
	vault.Delivery
	Notified bool
}

// DeliveriesForCondition returns the deliveries created at a given trigger
// time, with their notification flag.
func (db *DB) DeliveriesForCondition(ctx context.Context, conditionID string, deliveredAt time.Time) ([]PendingDelivery, error) {
	var rows []deliveryRow
	if err := db.selectAll(ctx, &rows, `
		SELECT `+deliveryColumns+` FROM delivered_messages
		WHERE condition_id = ? AND delivered_at = ? ORDER BY recipient_email`,
		conditionID, toMillis(deliveredAt)); err != nil {
		return nil, err
	}
	out := make([]PendingDelivery, 0, len(rows))
	for _, r := range rows {
		out = append(out, PendingDelivery{Delivery: r.toDelivery(), Notified: r.NotifiedAt != nil})
	}
	return out, nil
}

// FindDelivery returns the most recent delivery of a message to an email
// address, or nil when the address never received it.
func (db *DB) FindDelivery(ctx context.Context, messageID, email string) (*vault.Delivery, error) {
	var row deliveryRow
	err := db.get(ctx, &row, `
		SELECT `+deliveryColumns+` FROM delivered_messages
		WHERE message_id = ? AND recipient_email = ?
		ORDER BY delivered_at DESC LIMIT 1`,
		messageID, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d := row.toDelivery()
	return &d, nil
}

// MarkViewed stamps the first time a recipient opened the delivery.
func (db *DB) MarkViewed(ctx context.Context, id string, at time.Time) error {
	_, err := db.exec(ctx, `UPDATE delivered_messages SET viewed_at = ? WHERE id = ? AND viewed_at IS NULL`,
		toMillis(at), id)
	return err
}

// MarkNotified records that the recipient's notifications were queued.
func (db *DB) MarkNotified(ctx context.Context, id string, at time.Time) error {
	_, err := db.exec(ctx, `UPDATE delivered_messages SET notified_at = ? WHERE id = ?`, toMillis(at), id)
	return err
}
