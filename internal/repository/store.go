package repository

import (
	"database/sql"
	"errors"

	"taskhub/internal/database"
)

// Sentinel errors the controllers translate into HTTP statuses.
var (
	ErrNotFound        = errors.New("not found")
	ErrUsernameTaken   = errors.New("username already taken")
	ErrUnknownAssignee = errors.New("assigned user not found")
	ErrNothingToUpdate = errors.New("nothing to update")
)

// Store runs all SQL against one pool. Queries are written with ?
// placeholders and rebound per driver.
type Store struct {
	db     *sql.DB
	driver string
}

func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) rebind(query string) string {
	return database.Rebind(s.driver, query)
}
