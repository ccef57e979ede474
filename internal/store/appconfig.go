package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// GetAppConfig returns the stored value for key and whether it exists.
func (db *DB) GetAppConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.get(ctx, &value, `SELECT value FROM app_config WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetAppConfig upserts a configuration value.
func (db *DB) SetAppConfig(ctx context.Context, key, value string) error {
	_, err := db.exec(ctx, `
		INSERT INTO app_config (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}
