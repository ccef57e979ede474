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

const messageColumns = `id, user_id, title, content, message_type, attachments, created_at, updated_at`

// CreateMessage inserts m, assigning an ID and timestamps when unset.
func (db *DB) CreateMessage(ctx context.Context, m *vault.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	attachments, err := encodeAttachments(m.Attachments)
	if err != nil {
		return err
	}
	_, err = db.exec(ctx, `
		INSERT INTO messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Title, m.Content, string(m.MessageType), attachments,
		toMillis(m.CreatedAt), toMillis(m.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// UpdateMessage rewrites the editable fields of m.
func (db *DB) UpdateMessage(ctx context.Context, m *vault.Message) error {
	m.UpdatedAt = time.Now().UTC()
	attachments, err := encodeAttachments(m.Attachments)
	if err != nil {
		return err
	}
	res, err := db.exec(ctx, `
		UPDATE messages SET title = ?, content = ?, message_type = ?, attachments = ?, updated_at = ?
		WHERE id = ?`,
		m.Title, m.Content, string(m.MessageType), attachments, toMillis(m.UpdatedAt), m.ID)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return requireRow(res)
}

// GetMessage returns the message with id, or nil when it does not exist.
func (db *DB) GetMessage(ctx context.Context, id string) (*vault.Message, error) {
	var row messageRow
	err := db.get(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toMessage()
}

// ListMessages returns the user's messages, newest first.
func (db *DB) ListMessages(ctx context.Context, userID string) ([]vault.Message, error) {
	var rows []messageRow
	if err := db.selectAll(ctx, &rows, `
		SELECT `+messageColumns+` FROM messages
		WHERE user_id = ? ORDER BY created_at DESC`, userID); err != nil {
		return nil, err
	}
	out := make([]vault.Message, 0, len(rows))
	for _, r := range rows {
		m, err := r.toMessage()
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", r.ID, err)
		}
		out = append(out, *m)
	}
	return out, nil
}

// DeleteMessage removes a message. Conditions and deliveries go with it.
func (db *DB) DeleteMessage(ctx context.Context, id string) error {
	res, err := db.exec(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireRow(res)
}

type adminMessageRow struct {
	ID             string         `db:"id"`
	UserID         string         `db:"user_id"`
	UserEmail      sql.NullString `db:"user_email"`
	Title          string         `db:"title"`
	MessageType    string         `db:"message_type"`
	ConditionType  sql.NullString `db:"condition_type"`
	State          sql.NullString `db:"state"`
	RecipientCount int            `db:"recipient_count"`
	CreatedAt      int64          `db:"created_at"`
}

// ListAdminMessages returns every message across all users with its owner's
// email, first condition and recipient count.
func (db *DB) ListAdminMessages(ctx context.Context) ([]vault.AdminMessage, error) {
	var rows []adminMessageRow
	err := db.selectAll(ctx, &rows, `
		SELECT m.id, m.user_id, p.email AS user_email, m.title, m.message_type,
			(SELECT c.condition_type FROM message_conditions c WHERE c.message_id = m.id ORDER BY c.created_at LIMIT 1) AS condition_type,
			(SELECT c.state FROM message_conditions c WHERE c.message_id = m.id ORDER BY c.created_at LIMIT 1) AS state,
			(SELECT COUNT(DISTINCT cr.recipient_id) FROM condition_recipients cr
				JOIN message_conditions c ON c.id = cr.condition_id WHERE c.message_id = m.id) AS recipient_count,
			m.created_at
		FROM messages m
		LEFT JOIN profiles p ON p.user_id = m.user_id
		ORDER BY m.created_at DESC`)
	if err != nil {
		return nil, err
	}
	out := make([]vault.AdminMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, vault.AdminMessage{
			ID:             r.ID,
			UserID:         r.UserID,
			UserEmail:      r.UserEmail.String,
			Title:          r.Title,
			MessageType:    vault.MessageType(r.MessageType),
			ConditionType:  vault.ConditionType(r.ConditionType.String),
			State:          vault.ConditionState(r.State.String),
			RecipientCount: r.RecipientCount,
			CreatedAt:      fromMillis(r.CreatedAt),
		})
	}
	return out, nil
}

func encodeAttachments(a []vault.FileAttachment) (string, error) {
	if a == nil {
		return "[]", nil
	}
	return encodeJSON(a)
}

// requireRow maps an update that touched nothing to vault.ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return vault.ErrNotFound
	}
	return nil
}
