package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/matheus3301/echovault/internal/vault"
)

type profileRow struct {
	UserID    string `db:"user_id"`
	Email     string `db:"email"`
	Phone     string `db:"phone"`
	FirstName string `db:"first_name"`
	LastName  string `db:"last_name"`
}

func (r profileRow) toProfile() *vault.Profile {
	return &vault.Profile{
		UserID:    r.UserID,
		Email:     r.Email,
		Phone:     r.Phone,
		FirstName: r.FirstName,
		LastName:  r.LastName,
	}
}

// UpsertProfile inserts or updates the owner's contact details.
func (db *DB) UpsertProfile(ctx context.Context, p *vault.Profile) error {
	_, err := db.exec(ctx, `
		INSERT INTO profiles (user_id, email, phone, first_name, last_name, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			phone = excluded.phone,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			updated_at = excluded.updated_at`,
		p.UserID, p.Email, p.Phone, p.FirstName, p.LastName, time.Now().UnixMilli())
	return err
}

// GetProfile returns the profile for userID, or nil.
func (db *DB) GetProfile(ctx context.Context, userID string) (*vault.Profile, error) {
	var row profileRow
	err := db.get(ctx, &row, `
		SELECT user_id, email, phone, first_name, last_name FROM profiles WHERE user_id = ?`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toProfile(), nil
}

// ProfileByPhone finds the owner of a normalised phone number, or nil.
func (db *DB) ProfileByPhone(ctx context.Context, phone string) (*vault.Profile, error) {
	if phone == "" {
		return nil, nil
	}
	var row profileRow
	err := db.get(ctx, &row, `
		SELECT user_id, email, phone, first_name, last_name FROM profiles
		WHERE phone = ? ORDER BY updated_at DESC LIMIT 1`, phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toProfile(), nil
}
