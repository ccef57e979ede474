package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/echovault/internal/vault"
)

const recipientColumns = `id, user_id, name, email, phone, created_at`

// CreateRecipient inserts r, assigning an ID when unset.
func (db *DB) CreateRecipient(ctx context.Context, r *vault.Recipient) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := db.exec(ctx, `
		INSERT INTO recipients (`+recipientColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Name, r.Email, r.Phone, toMillis(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert recipient: %w", err)
	}
	return nil
}

// UpdateRecipient rewrites name, email and phone.
func (db *DB) UpdateRecipient(ctx context.Context, r *vault.Recipient) error {
	res, err := db.exec(ctx, `UPDATE recipients SET name = ?, email = ?, phone = ? WHERE id = ?`,
		r.Name, r.Email, r.Phone, r.ID)
	if err != nil {
		return fmt.Errorf("update recipient: %w", err)
	}
	return requireRow(res)
}

// GetRecipient returns the recipient with id, or nil when it does not exist.
func (db *DB) GetRecipient(ctx context.Context, id string) (*vault.Recipient, error) {
	var row recipientRow
	err := db.get(ctx, &row, `SELECT `+recipientColumns+` FROM recipients WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r := row.toRecipient()
	return &r, nil
}

// ListRecipients returns the user's recipients ordered by name.
func (db *DB) ListRecipients(ctx context.Context, userID string) ([]vault.Recipient, error) {
	var rows []recipientRow
	if err := db.selectAll(ctx, &rows, `
		SELECT `+recipientColumns+` FROM recipients WHERE user_id = ? ORDER BY name`, userID); err != nil {
		return nil, err
	}
	return toRecipients(rows), nil
}

// RecipientsByIDs loads the given recipients. Unknown IDs are skipped.
func (db *DB) RecipientsByIDs(ctx context.Context, ids []string) ([]vault.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []recipientRow
	if err := db.selectIn(ctx, &rows, `
		SELECT `+recipientColumns+` FROM recipients WHERE id IN (?) ORDER BY name`, ids); err != nil {
		return nil, err
	}
	return toRecipients(rows), nil
}

// DeleteRecipient removes a recipient and its condition links.
func (db *DB) DeleteRecipient(ctx context.Context, id string) error {
	res, err := db.exec(ctx, `DELETE FROM recipients WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recipient: %w", err)
	}
	return requireRow(res)
}

func toRecipients(rows []recipientRow) []vault.Recipient {
	out := make([]vault.Recipient, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecipient())
	}
	return out
}
