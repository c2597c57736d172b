package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskhub/internal/models"
)

// CreateUser inserts a new user. The first user in an empty database is
// created as admin.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (models.User, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return models.User{}, err
	}

	u := models.User{
		ID:           uuid.New().String(),
		Username:     username,
		PasswordHash: passwordHash,
		IsAdmin:      count == 0,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO users (id, username, password_hash, is_admin, created_at) VALUES (?, ?, ?, ?, ?)`),
		u.ID, u.Username, u.PasswordHash, u.IsAdmin, u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.User{}, ErrUsernameTaken
		}
		return models.User{}, err
	}
	return u, nil
}

// GetUser returns a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, username, password_hash, is_admin, created_at FROM users WHERE id = ?`), id))
}

// GetUserByUsername returns a user by username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, s.rebind(
		`SELECT id, username, password_hash, is_admin, created_at FROM users WHERE username = ?`), username))
}

// ListUsers returns all users ordered by creation time.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, password_hash, is_admin, created_at FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// DeleteUser removes a user. Their tasks are unassigned in the same
// transaction so task history stays intact.
func (s *Store) DeleteUser(ctx context.Context, id string) (models.User, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return models.User{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.User{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(
		`UPDATE tasks SET assigned_user_id = NULL WHERE assigned_user_id = ?`), id); err != nil {
		return models.User{}, err
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM users WHERE id = ?`), id); err != nil {
		return models.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return models.User{}, err
	}
	return u, nil
}

func (s *Store) scanUser(row *sql.Row) (models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsAdmin, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, err
	}
	return u, nil
}

// isUniqueViolation matches the duplicate-key errors of both drivers
// (sqlite "UNIQUE constraint failed", postgres 23505 "duplicate key").
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}
