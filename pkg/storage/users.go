package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// UpsertUser creates or updates the user keyed by email. Empty fields do not
// overwrite stored values.
func (d *DB) UpsertUser(ctx context.Context, u User) (*User, error) {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Email == "" {
		return nil, ErrMissingEmail
	}

	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = upsertUserTx(ctx, tx, u, d.now()); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return d.GetUserByEmail(ctx, u.Email)
}

// GetUserByEmail returns the user with email or ErrNotFound.
func (d *DB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var (
		u                    User
		first, last, phone   sql.NullString
		createdAt, updatedAt string
	)
	err := d.sql.QueryRowContext(ctx, "SELECT id, email, first_name, last_name, phone, created_at, updated_at FROM users WHERE email = ?",
		strings.ToLower(strings.TrimSpace(email))).Scan(&u.ID, &u.Email, &first, &last, &phone, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	u.FirstName = first.String
	u.LastName = last.String
	u.Phone = phone.String
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}

func upsertUserTx(ctx context.Context, tx *sql.Tx, u User, now time.Time) (int64, error) {
	email := strings.ToLower(strings.TrimSpace(u.Email))
	_, err := tx.ExecContext(ctx, `INSERT INTO users(email, first_name, last_name, phone, created_at, updated_at) VALUES(?,?,?,?,?,?)
ON CONFLICT(email) DO UPDATE SET
  first_name = COALESCE(excluded.first_name, users.first_name),
  last_name  = COALESCE(excluded.last_name, users.last_name),
  phone      = COALESCE(excluded.phone, users.phone),
  updated_at = excluded.updated_at`,
		email, nullIfEmpty(u.FirstName), nullIfEmpty(u.LastName), nullIfEmpty(u.Phone), formatTime(now), formatTime(now))
	if err != nil {
		return 0, err
	}
	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT id FROM users WHERE email = ?", email).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
