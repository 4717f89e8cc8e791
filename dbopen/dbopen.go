// Package dbopen opens the SQLite file that backs the blueprint store.
//
// Every connection gets WAL journaling, a 10s busy timeout, synchronous=NORMAL
// and foreign keys. Pragmas are sent as plain statements so the same code
// works with "sqlite" and with the tracing "sqlite-trace" driver.
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("data/omnifetch.db", dbopen.WithMkdirAll(), dbopen.WithSchema(store.Schema))
//
// Tests use OpenMemory:
//
//	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const memoryPath = ":memory:"

type settings struct {
	driver      string
	busyTimeout int
	foreignKeys bool
	mkdirAll    bool
	schema      []string
}

func (s settings) pragmas() []string {
	fk := "OFF"
	if s.foreignKeys {
		fk = "ON"
	}
	return []string{
		"PRAGMA foreign_keys = " + fk,
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}
}

// Option adjusts how Open prepares the database.
type Option func(*settings)

// WithDriver selects the database/sql driver. Default: "sqlite".
func WithDriver(name string) Option { return func(s *settings) { s.driver = name } }

// WithBusyTimeout overrides PRAGMA busy_timeout (milliseconds).
func WithBusyTimeout(ms int) Option { return func(s *settings) { s.busyTimeout = ms } }

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(s *settings) { s.mkdirAll = true } }

// WithSchema runs DDL after the pragmas. Statements must be idempotent.
func WithSchema(ddl ...string) Option {
	return func(s *settings) { s.schema = append(s.schema, ddl...) }
}

// WithoutForeignKeys turns PRAGMA foreign_keys off.
func WithoutForeignKeys() Option { return func(s *settings) { s.foreignKeys = false } }

// Open opens the database at path, applies the pragmas and the schema, and
// pings it. The driver must already be registered.
func Open(path string, opts ...Option) (*sql.DB, error) {
	s := settings{driver: "sqlite", busyTimeout: 10_000, foreignKeys: true}
	for _, opt := range opts {
		opt(&s)
	}

	if s.mkdirAll && path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: create directory for %s: %w", path, err)
		}
	}

	db, err := sql.Open(s.driver, path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if err := prepare(db, s); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func prepare(db *sql.DB, s settings) error {
	for _, p := range s.pragmas() {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	for i, ddl := range s.schema {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("dbopen: schema #%d: %w", i+1, err)
		}
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("dbopen: ping: %w", err)
	}
	return nil
}

// OpenMemory returns a private in-memory database closed at test cleanup.
// The pool is pinned to one connection because each ":memory:" connection
// is a separate database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memoryPath, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
