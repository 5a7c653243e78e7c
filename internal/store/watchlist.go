package store

import (
	"context"
	"database/sql"

	"candlecache/internal/errs"
	"candlecache/internal/model"
)

// AddOrEnable inserts pair into the watch list, or updates its enabled
// flag if it already exists.
func (s *Store) AddOrEnable(ctx context.Context, pair model.Pair, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coin_pair_watch (coin_pair, enabled)
		VALUES ($1, $2)
		ON CONFLICT (coin_pair) DO UPDATE SET
			enabled = excluded.enabled,
			updated_at = now()
	`, string(pair), enabled)
	if err != nil {
		return errs.Storage("AddOrEnable", err)
	}
	return nil
}

// Remove deletes pair from the watch list.
func (s *Store) Remove(ctx context.Context, pair model.Pair) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM coin_pair_watch WHERE coin_pair = $1`, string(pair))
	if err != nil {
		return errs.Storage("Remove", err)
	}
	return nil
}

// SetEnabled toggles a watched pair's enabled flag.
func (s *Store) SetEnabled(ctx context.Context, pair model.Pair, enabled bool) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE coin_pair_watch SET enabled = $1, updated_at = now() WHERE coin_pair = $2
	`, enabled, string(pair))
	if err != nil {
		return errs.Storage("SetEnabled", err)
	}
	return nil
}

// List returns watched pairs, optionally restricted to enabled ones.
func (s *Store) List(ctx context.Context, enabledOnly bool) ([]model.WatchedPair, error) {
	query := `SELECT id, coin_pair, enabled, extract(epoch from created_at)*1000, extract(epoch from updated_at)*1000
	          FROM coin_pair_watch`
	if enabledOnly {
		query += ` WHERE enabled = TRUE`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errs.Storage("List", err)
	}
	defer rows.Close()

	var out []model.WatchedPair
	for rows.Next() {
		var wp model.WatchedPair
		var pairStr string
		var createdAt, updatedAt float64
		if err := rows.Scan(&wp.ID, &pairStr, &wp.Enabled, &createdAt, &updatedAt); err != nil {
			return nil, errs.Storage("List:row", err)
		}
		wp.Pair = model.Pair(pairStr)
		wp.CreatedAt = int64(createdAt)
		wp.UpdatedAt = int64(updatedAt)
		out = append(out, wp)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Storage("List:rows", err)
	}
	return out, nil
}

// Get returns a single watched pair row, or ok=false if absent.
func (s *Store) Get(ctx context.Context, pair model.Pair) (model.WatchedPair, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, coin_pair, enabled, extract(epoch from created_at)*1000, extract(epoch from updated_at)*1000
		FROM coin_pair_watch WHERE coin_pair = $1
	`, string(pair))

	var wp model.WatchedPair
	var pairStr string
	var createdAt, updatedAt float64
	if err := row.Scan(&wp.ID, &pairStr, &wp.Enabled, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.WatchedPair{}, false, nil
		}
		return model.WatchedPair{}, false, errs.Storage("Get", err)
	}
	wp.Pair = model.Pair(pairStr)
	wp.CreatedAt = int64(createdAt)
	wp.UpdatedAt = int64(updatedAt)
	return wp, true, nil
}
