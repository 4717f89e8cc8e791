package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/omnifetch/dbopen"
)

// Save inserts a new blueprint. The id is chosen by the caller; a collision
// fails with a *WriteError wrapping ErrDuplicateID and is not retried.
func (s *Store) Save(ctx context.Context, id string, selectors map[string]string, sourceURL string) (*Blueprint, error) {
	enc, err := json.Marshal(selectors)
	if err != nil {
		return nil, &WriteError{ID: id, Err: fmt.Errorf("encode selectors: %w", err)}
	}
	bp := &Blueprint{
		ID:        id,
		Selectors: selectors,
		SourceURL: sourceURL,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	_, err = dbopen.Exec(ctx, s.DB,
		`INSERT INTO blueprints (id, selectors, source_url, created_at) VALUES (?, ?, ?, ?)`,
		bp.ID, string(enc), bp.SourceURL, bp.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if dbopen.IsUniqueViolation(err) {
			return nil, &WriteError{ID: id, Err: ErrDuplicateID}
		}
		return nil, &WriteError{ID: id, Err: err}
	}
	return bp, nil
}

// Get retrieves a blueprint by id. It returns (nil, nil) when absent.
func (s *Store) Get(ctx context.Context, id string) (*Blueprint, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT id, selectors, source_url, created_at FROM blueprints WHERE id = ?`, id)
	bp, err := scanBlueprint(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get %s: %w", id, err)
	}
	return bp, nil
}

// List returns up to limit blueprints, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Blueprint, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, selectors, source_url, created_at FROM blueprints
		ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var result []*Blueprint
	for rows.Next() {
		bp, err := scanBlueprint(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list: %w", err)
		}
		result = append(result, bp)
	}
	return result, rows.Err()
}

// Count returns the number of stored blueprints.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM blueprints`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBlueprint(sc scanner) (*Blueprint, error) {
	var (
		bp      Blueprint
		enc     string
		created int64
	)
	if err := sc.Scan(&bp.ID, &enc, &bp.SourceURL, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(enc), &bp.Selectors); err != nil {
		return nil, fmt.Errorf("decode selectors of %s: %w", bp.ID, err)
	}
	bp.CreatedAt = time.UnixMilli(created).UTC()
	return &bp, nil
}
