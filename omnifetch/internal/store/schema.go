package store

import "database/sql"

// Schema is the blueprint table. selectors holds the JSON encoding of the
// selector map; created_at is unix milliseconds.
const Schema = `
CREATE TABLE IF NOT EXISTS blueprints (
	id          TEXT PRIMARY KEY,
	selectors   TEXT NOT NULL,
	source_url  TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blueprints_created ON blueprints(created_at);
`

// ApplySchema creates the tables and indexes on db. Idempotent.
func ApplySchema(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
