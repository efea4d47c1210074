package store

import (
	"context"
	"fmt"

	"github.com/KazKozDev/anorix/internal/model"
)

// UpsertProfile sets a profile key. Later writes win.
func (s *Store) UpsertProfile(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profile (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, fmtTime(now()))
	if err != nil {
		return fmt.Errorf("store: upsert profile: %w", err)
	}
	return nil
}

// ProfileSnapshot returns the profile as a flat key/value map.
func (s *Store) ProfileSnapshot(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM profile`)
	if err != nil {
		return nil, fmt.Errorf("store: profile snapshot: %w", err)
	}
	defer rows.Close()

	snap := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("store: scan profile: %w", err)
		}
		snap[k] = v
	}
	return snap, rows.Err()
}

// ProfileEntries returns profile entries with timestamps, sorted by key.
func (s *Store) ProfileEntries(ctx context.Context) ([]model.ProfileEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, updated_at FROM profile ORDER BY key ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: profile entries: %w", err)
	}
	defer rows.Close()

	var entries []model.ProfileEntry
	for rows.Next() {
		var e model.ProfileEntry
		var updated string
		if err := rows.Scan(&e.Key, &e.Value, &updated); err != nil {
			return nil, fmt.Errorf("store: scan profile entry: %w", err)
		}
		if e.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
