package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// busyBackoff is the wait before each retry of a statement that hit a lock.
var busyBackoff = []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}

func containsAny(err error, needles ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, n := range needles {
		if strings.Contains(msg, n) {
			return true
		}
	}
	return false
}

// IsBusy reports whether err means another connection holds the lock.
func IsBusy(err error) bool {
	return containsAny(err, "SQLITE_BUSY", "database is locked", "database table is locked")
}

// IsUniqueViolation reports whether err comes from a PRIMARY KEY or UNIQUE
// constraint. Matching is textual so it works with any sqlite driver.
func IsUniqueViolation(err error) bool {
	return containsAny(err, "UNIQUE constraint failed", "SQLITE_CONSTRAINT_PRIMARYKEY", "SQLITE_CONSTRAINT_UNIQUE")
}

// Exec runs a write statement, retrying while the database is busy
// (three attempts in total). Constraint violations and every other error
// are returned on the first attempt.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	for attempt := 0; ; attempt++ {
		res, err := db.ExecContext(ctx, query, args...)
		if err == nil || !IsBusy(err) || attempt == len(busyBackoff) {
			return res, err
		}
		t := time.NewTimer(busyBackoff[attempt])
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("dbopen: canceled while waiting on a locked database: %w", ctx.Err())
		case <-t.C:
		}
	}
}
