// Package store persists blueprints: named selector maps that can be replayed
// later without running inference again. Blueprints are immutable; the store
// inserts and reads, it never updates or deletes.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrDuplicateID means a blueprint with the same id already exists.
var ErrDuplicateID = errors.New("store: blueprint id already exists")

// WriteError wraps a failed Save. Err is ErrDuplicateID for id collisions.
type WriteError struct {
	ID  string
	Err error
}

func (e *WriteError) Error() string { return fmt.Sprintf("store: save %s: %v", e.ID, e.Err) }
func (e *WriteError) Unwrap() error { return e.Err }

// Blueprint is a persisted selector set. Field order is not kept: selectors
// are stored as JSON sorted by field name.
type Blueprint struct {
	ID        string            `json:"id"`
	Selectors map[string]string `json:"selectors"`
	SourceURL string            `json:"source_url"`
	CreatedAt time.Time         `json:"created_at"`
}

// Store wraps the blueprint database.
type Store struct {
	DB  *sql.DB
	now func() time.Time
}

// NewStore creates a Store from an already-opened database connection.
// The schema must already be applied (see ApplySchema).
func NewStore(db *sql.DB) *Store {
	return &Store{DB: db, now: time.Now}
}
