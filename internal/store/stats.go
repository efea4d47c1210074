package store

import (
	"context"
	"fmt"
	"os"
)

// Stats summarizes durable memory volume.
type Stats struct {
	Sessions        int   `json:"sessions"`
	Turns           int   `json:"turns"`
	ProfileKeys     int   `json:"profile_keys"`
	Facts           int   `json:"facts"`
	Documents       int   `json:"documents"`
	Chunks          int   `json:"chunks"`
	UnindexedChunks int   `json:"unindexed_chunks"`
	DatabaseBytes   int64 `json:"database_bytes"`
}

// Stats returns row counts per table and the database file size.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM sessions`, &st.Sessions},
		{`SELECT COUNT(*) FROM turns`, &st.Turns},
		{`SELECT COUNT(*) FROM profile`, &st.ProfileKeys},
		{`SELECT COUNT(*) FROM facts`, &st.Facts},
		{`SELECT COUNT(*) FROM documents`, &st.Documents},
		{`SELECT COUNT(*) FROM chunks`, &st.Chunks},
		{`SELECT COUNT(*) FROM chunks WHERE indexed = 0`, &st.UnindexedChunks},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("store: stats: %w", err)
		}
	}
	if fi, err := os.Stat(s.path); err == nil {
		st.DatabaseBytes = fi.Size()
	}
	return st, nil
}
