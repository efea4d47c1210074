package store

import (
	"context"
	"fmt"
	"io"

	"encoding/json"

	"github.com/KazKozDev/anorix/internal/model"
)

// Export is the portable snapshot format: durable memory only.
// Chunks and embeddings are derivable and deliberately omitted.
type Export struct {
	Version  int                  `json:"version"`
	Sessions []model.Session      `json:"sessions,omitempty"`
	Turns    []model.Turn         `json:"turns,omitempty"`
	Profile  []model.ProfileEntry `json:"profile,omitempty"`
	Facts    []model.Fact         `json:"facts,omitempty"`
}

const exportVersion = 1

// ExportAll writes the durable store contents to w as JSON.
func (s *Store) ExportAll(ctx context.Context, w io.Writer) error {
	exp := Export{Version: exportVersion}

	rows, err := s.db.QueryContext(ctx, `SELECT id, created_at, closed FROM sessions ORDER BY created_at ASC`)
	if err != nil {
		return fmt.Errorf("store: export sessions: %w", err)
	}
	for rows.Next() {
		var sess model.Session
		var createdAt string
		var closed int
		if err := rows.Scan(&sess.ID, &createdAt, &closed); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan session: %w", err)
		}
		if sess.CreatedAt, err = parseTime(createdAt); err != nil {
			rows.Close()
			return err
		}
		sess.Closed = closed != 0
		exp.Sessions = append(exp.Sessions, sess)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	exp.Turns, err = s.TurnsSince(ctx, TurnFilter{})
	if err != nil {
		return err
	}
	exp.Profile, err = s.ProfileEntries(ctx)
	if err != nil {
		return err
	}
	exp.Facts, err = s.Facts(ctx, "", 0)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(exp); err != nil {
		return fmt.Errorf("store: encode export: %w", err)
	}
	return nil
}

// ImportAll replays an export into the store. Profile and fact entries
// go through the same upsert rules as live writes, so importing into a
// populated store merges rather than clobbers. Turns with IDs already
// present are skipped.
func (s *Store) ImportAll(ctx context.Context, r io.Reader) error {
	var exp Export
	if err := json.NewDecoder(r).Decode(&exp); err != nil {
		return fmt.Errorf("store: decode import: %w", err)
	}
	if exp.Version != exportVersion {
		return fmt.Errorf("store: unsupported export version %d", exp.Version)
	}

	for _, sess := range exp.Sessions {
		closed := 0
		if sess.Closed {
			closed = 1
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO sessions (id, created_at, closed) VALUES (?, ?, ?)`,
			sess.ID, fmtTime(sess.CreatedAt), closed)
		if err != nil {
			return fmt.Errorf("store: import session: %w", err)
		}
	}

	for _, t := range exp.Turns {
		var metaJSON *string
		if len(t.Metadata) > 0 {
			b, err := json.Marshal(t.Metadata)
			if err != nil {
				return fmt.Errorf("store: import turn metadata: %w", err)
			}
			str := string(b)
			metaJSON = &str
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO turns (id, session_id, role, content, created_at, metadata)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			t.ID, t.SessionID, string(t.Role), t.Content, fmtTime(t.CreatedAt), metaJSON)
		if err != nil {
			return fmt.Errorf("store: import turn: %w", err)
		}
	}

	for _, e := range exp.Profile {
		if err := s.UpsertProfile(ctx, e.Key, e.Value); err != nil {
			return err
		}
	}
	for _, f := range exp.Facts {
		if _, err := s.UpsertFact(ctx, f.Category, f.Content, f.Confidence, f.Sources); err != nil {
			return err
		}
	}
	return nil
}
