package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/matheus3301/echovault/internal/vault"
)

// CreateCondition inserts c together with its recipient links. A condition
// without a state starts armed at its creation time.
func (db *DB) CreateCondition(ctx context.Context, c *vault.MessageCondition) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.State == "" {
		c.Arm(now)
	}
	args, err := conditionArgs(c)
	if err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := txExec(ctx, tx, `
			INSERT INTO message_conditions (`+conditionColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			args...); err != nil {
			return fmt.Errorf("insert condition: %w", err)
		}
		return replaceRecipients(ctx, tx, c.ID, c.RecipientIDs)
	})
}

// UpdateCondition rewrites the full condition row and its recipient links.
// It fails with vault.ErrConflict when the stored row changed since c was
// read.
func (db *DB) UpdateCondition(ctx context.Context, c *vault.MessageCondition) error {
	updatedAt := time.Now().UTC()
	next := *c
	next.UpdatedAt = updatedAt
	args, err := conditionArgs(&next)
	if err != nil {
		return err
	}
	// Everything but id, message_id, user_id and created_at, then the WHERE.
	set := make([]any, 0, 19)
	set = append(set, args[3:19]...)
	set = append(set, args[20], c.ID, c.Version)
	err = db.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := txExec(ctx, tx, `
			UPDATE message_conditions SET
				condition_type = ?, hours_threshold = ?, minutes_threshold = ?, last_checked = ?,
				trigger_date = ?, recurring_pattern = ?, reminder_minutes = ?, panic_config = ?,
				pin_code = ?, unlock_delay_hours = ?, expiry_hours = ?, active = ?, state = ?,
				triggered_at = ?, panic_pending_until = ?, next_fire_at = ?, updated_at = ?,
				version = version + 1
			WHERE id = ? AND version = ?`, set...)
		if err != nil {
			return fmt.Errorf("update condition: %w", err)
		}
		if err := requireVersion(ctx, tx, res, c.ID); err != nil {
			return err
		}
		return replaceRecipients(ctx, tx, c.ID, c.RecipientIDs)
	})
	if err != nil {
		return err
	}
	c.UpdatedAt = updatedAt
	c.Version++
	return nil
}

// requireVersion turns a versioned write that matched no row into
// vault.ErrNotFound or vault.ErrConflict.
func requireVersion(ctx context.Context, tx *sqlx.Tx, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return err
	}
	var exists int
	err = tx.GetContext(ctx, &exists, tx.Rebind(`SELECT COUNT(*) FROM message_conditions WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if exists == 0 {
		return vault.ErrNotFound
	}
	return fmt.Errorf("%w: condition %s changed concurrently", vault.ErrConflict, id)
}

// DeleteCondition removes a condition and its links.
func (db *DB) DeleteCondition(ctx context.Context, id string) error {
	res, err := db.exec(ctx, `DELETE FROM message_conditions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete condition: %w", err)
	}
	return requireRow(res)
}

// GetCondition returns the condition with id, or nil.
func (db *DB) GetCondition(ctx context.Context, id string) (*vault.MessageCondition, error) {
	var row conditionRow
	err := db.get(ctx, &row, `SELECT `+conditionColumns+` FROM message_conditions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	conds, err := db.hydrate(ctx, []conditionRow{row})
	if err != nil {
		return nil, err
	}
	return &conds[0], nil
}

// ConditionsForMessage returns the conditions attached to a message.
func (db *DB) ConditionsForMessage(ctx context.Context, messageID string) ([]vault.MessageCondition, error) {
	return db.queryConditions(ctx, `
		SELECT `+conditionColumns+` FROM message_conditions
		WHERE message_id = ? ORDER BY created_at`, messageID)
}

// ConditionsForUser returns all of a user's conditions.
func (db *DB) ConditionsForUser(ctx context.Context, userID string) ([]vault.MessageCondition, error) {
	return db.queryConditions(ctx, `
		SELECT `+conditionColumns+` FROM message_conditions
		WHERE user_id = ? ORDER BY created_at`, userID)
}

// ArmedConditions returns active conditions that may fire: armed ones and
// panic countdowns in progress.
func (db *DB) ArmedConditions(ctx context.Context) ([]vault.MessageCondition, error) {
	return db.queryConditions(ctx, `
		SELECT `+conditionColumns+` FROM message_conditions
		WHERE active = ? AND state IN (?, ?) ORDER BY created_at`,
		true, string(vault.StateArmed), string(vault.StatePanicPending))
}

// TriggeredConditions returns conditions that fired but are not delivered yet.
func (db *DB) TriggeredConditions(ctx context.Context) ([]vault.MessageCondition, error) {
	return db.queryConditions(ctx, `
		SELECT `+conditionColumns+` FROM message_conditions
		WHERE state = ? ORDER BY triggered_at`, string(vault.StateTriggered))
}

// SetConditionState writes c.State and its timing fields only if the stored
// row is still in state from at c.Version. It reports false when another
// writer changed the condition first, including a check-in that moved the
// deadline without changing the state.
func (db *DB) SetConditionState(ctx context.Context, c *vault.MessageCondition, from vault.ConditionState) (bool, error) {
	next := *c
	var ok bool
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		ok, err = setState(ctx, tx, &next, from)
		return err
	})
	if err != nil || !ok {
		return false, err
	}
	*c = next
	return true, nil
}

// TriggerCondition moves c from state from to triggered and records its
// deliveries in one transaction, so a condition is never triggered without
// them. It reports false when another writer changed the condition first.
func (db *DB) TriggerCondition(ctx context.Context, c *vault.MessageCondition, from vault.ConditionState, ds []vault.Delivery) (bool, error) {
	if c.State != vault.StateTriggered {
		return false, fmt.Errorf("%w: trigger to state %s", vault.ErrConflict, c.State)
	}
	next := *c
	var ok bool
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if ok, err = setState(ctx, tx, &next, from); err != nil || !ok {
			return err
		}
		_, err = insertDeliveries(ctx, tx, ds)
		return err
	})
	if err != nil || !ok {
		return false, err
	}
	*c = next
	return true, nil
}

func setState(ctx context.Context, tx *sqlx.Tx, c *vault.MessageCondition, from vault.ConditionState) (bool, error) {
	if err := vault.Transition(from, c.State); err != nil {
		return false, err
	}
	updatedAt := time.Now().UTC()
	res, err := txExec(ctx, tx, `
		UPDATE message_conditions SET
			state = ?, last_checked = ?, triggered_at = ?, panic_pending_until = ?,
			next_fire_at = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND state = ? AND version = ?`,
		string(c.State), toMillis(c.LastChecked), toMillisPtr(c.TriggeredAt),
		toMillisPtr(c.PanicPendingUntil), toMillisPtr(c.NextFireAt), toMillis(updatedAt),
		c.ID, string(from), c.Version)
	if err != nil {
		return false, fmt.Errorf("set condition state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil || n == 0 {
		return false, err
	}
	c.UpdatedAt = updatedAt
	c.Version++
	return true, nil
}

type checkInRow struct {
	ID               string `db:"id"`
	MessageID        string `db:"message_id"`
	HoursThreshold   int    `db:"hours_threshold"`
	MinutesThreshold int    `db:"minutes_threshold"`
}

// CheckInUser resets the check-in clock of every armed no_check_in condition
// the user owns and clears their reminder history. It returns the IDs of the
// affected messages.
func (db *DB) CheckInUser(ctx context.Context, userID string, now time.Time) ([]string, error) {
	var messageIDs []string
	err := db.withTx(ctx, func(tx *sqlx.Tx) error {
		var rows []checkInRow
		if err := tx.SelectContext(ctx, &rows, tx.Rebind(`
			SELECT id, message_id, hours_threshold, minutes_threshold FROM message_conditions
			WHERE user_id = ? AND condition_type = ? AND state = ? AND active = ?`),
			userID, string(vault.NoCheckIn), string(vault.StateArmed), true); err != nil {
			return err
		}
		for _, r := range rows {
			d := vault.CalculateCheckInDeadline(now, r.HoursThreshold, r.MinutesThreshold, now)
			if _, err := txExec(ctx, tx, `
				UPDATE message_conditions SET last_checked = ?, next_fire_at = ?, updated_at = ?,
					version = version + 1
				WHERE id = ?`,
				toMillis(now), toMillis(d.At), toMillis(now), r.ID); err != nil {
				return fmt.Errorf("check in %s: %w", r.ID, err)
			}
			if _, err := txExec(ctx, tx, `DELETE FROM reminder_history WHERE condition_id = ?`, r.ID); err != nil {
				return fmt.Errorf("clear reminders %s: %w", r.ID, err)
			}
			if !slices.Contains(messageIDs, r.MessageID) {
				messageIDs = append(messageIDs, r.MessageID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messageIDs, nil
}

func (db *DB) queryConditions(ctx context.Context, query string, args ...any) ([]vault.MessageCondition, error) {
	var rows []conditionRow
	if err := db.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return db.hydrate(ctx, rows)
}

type conditionRecipientRow struct {
	ConditionID string `db:"condition_id"`
	RecipientID string `db:"recipient_id"`
}

// hydrate converts rows and attaches their recipient IDs.
func (db *DB) hydrate(ctx context.Context, rows []conditionRow) ([]vault.MessageCondition, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	var links []conditionRecipientRow
	if err := db.selectIn(ctx, &links, `
		SELECT condition_id, recipient_id FROM condition_recipients
		WHERE condition_id IN (?) ORDER BY recipient_id`, ids); err != nil {
		return nil, err
	}
	byCondition := make(map[string][]string, len(rows))
	for _, l := range links {
		byCondition[l.ConditionID] = append(byCondition[l.ConditionID], l.RecipientID)
	}

	out := make([]vault.MessageCondition, 0, len(rows))
	for _, r := range rows {
		c, err := r.toCondition()
		if err != nil {
			return nil, fmt.Errorf("condition %s: %w", r.ID, err)
		}
		c.RecipientIDs = byCondition[r.ID]
		out = append(out, *c)
	}
	return out, nil
}

func replaceRecipients(ctx context.Context, tx *sqlx.Tx, conditionID string, recipientIDs []string) error {
	if _, err := txExec(ctx, tx, `DELETE FROM condition_recipients WHERE condition_id = ?`, conditionID); err != nil {
		return fmt.Errorf("clear condition recipients: %w", err)
	}
	seen := make(map[string]bool, len(recipientIDs))
	for _, id := range recipientIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := txExec(ctx, tx, `
			INSERT INTO condition_recipients (condition_id, recipient_id) VALUES (?, ?)`,
			conditionID, id); err != nil {
			return fmt.Errorf("link recipient %s: %w", id, err)
		}
	}
	return nil
}

// conditionArgs returns the values of conditionColumns in order.
func conditionArgs(c *vault.MessageCondition) ([]any, error) {
	reminders := c.ReminderMinutes
	if reminders == nil {
		reminders = []int{}
	}
	reminderJSON, err := encodeJSON(reminders)
	if err != nil {
		return nil, err
	}
	pattern, err := encodeJSONPtr(c.RecurringPattern)
	if err != nil {
		return nil, err
	}
	panicCfg, err := encodeJSONPtr(c.PanicConfig)
	if err != nil {
		return nil, err
	}
	return []any{
		c.ID, c.MessageID, c.UserID, string(c.ConditionType), c.HoursThreshold, c.MinutesThreshold,
		toMillis(c.LastChecked), toMillisPtr(c.TriggerDate), pattern, reminderJSON, panicCfg, c.PinCode,
		c.UnlockDelayHours, c.ExpiryHours, c.Active, string(c.State), toMillisPtr(c.TriggeredAt),
		toMillisPtr(c.PanicPendingUntil), toMillisPtr(c.NextFireAt), toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
		c.Version,
	}, nil
}
