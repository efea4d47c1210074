package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/KazKozDev/anorix/internal/model"
)

// OpenSession creates a new open session.
func (s *Store) OpenSession(ctx context.Context) (model.Session, error) {
	sess := model.Session{
		ID:        uuid.NewString(),
		CreatedAt: now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, closed) VALUES (?, ?, 0)`,
		sess.ID, fmtTime(sess.CreatedAt))
	if err != nil {
		return model.Session{}, fmt.Errorf("store: open session: %w", err)
	}
	return sess, nil
}

// LastOpenSession returns the most recently created session that has
// not been closed, or ErrNotFound.
func (s *Store) LastOpenSession(ctx context.Context) (model.Session, error) {
	var sess model.Session
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM sessions WHERE closed = 0 ORDER BY created_at DESC LIMIT 1`).
		Scan(&sess.ID, &createdAt)
	if err == sql.ErrNoRows {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("store: last open session: %w", err)
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return model.Session{}, err
	}
	return sess, nil
}

// CloseSession marks a session closed. Closing an already-closed or
// unknown session is a no-op.
func (s *Store) CloseSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET closed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: close session: %w", err)
	}
	return nil
}

// AppendTurn durably appends a turn. The returned turn carries the
// generated ID and timestamp. Turns are immutable once written.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, role model.Role, content string, metadata map[string]string) (model.Turn, error) {
	if !model.ValidRoles[role] {
		return model.Turn{}, fmt.Errorf("store: invalid role %q", role)
	}

	t := model.Turn{
		ID:        s.newID(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now(),
		Metadata:  metadata,
	}

	var metaJSON *string
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return model.Turn{}, fmt.Errorf("store: marshal metadata: %w", err)
		}
		str := string(b)
		metaJSON = &str
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, role, content, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, string(t.Role), t.Content, fmtTime(t.CreatedAt), metaJSON)
	if err != nil {
		return model.Turn{}, fmt.Errorf("store: append turn: %w", err)
	}
	return t, nil
}

// TurnFilter narrows TurnsSince results. Zero values mean no filter.
type TurnFilter struct {
	SessionID string
	Since     string // RFC3339; inclusive lower bound on created_at
	Limit     int
}

// TurnsSince returns turns matching the filter, oldest first.
func (s *Store) TurnsSince(ctx context.Context, f TurnFilter) ([]model.Turn, error) {
	query := `SELECT id, session_id, role, content, created_at, metadata FROM turns WHERE 1=1`
	var args []any

	if f.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, f.SessionID)
	}
	if f.Since != "" {
		query += ` AND created_at >= ?`
		args = append(args, f.Since)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: turns: %w", err)
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(row scanner) (model.Turn, error) {
	var t model.Turn
	var role, createdAt string
	var meta sql.NullString

	if err := row.Scan(&t.ID, &t.SessionID, &role, &t.Content, &createdAt, &meta); err != nil {
		return t, fmt.Errorf("store: scan turn: %w", err)
	}
	t.Role = model.Role(role)
	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, err
	}
	if meta.Valid {
		if err := json.Unmarshal([]byte(meta.String), &t.Metadata); err != nil {
			return t, fmt.Errorf("store: decode turn metadata: %w", err)
		}
	}
	return t, nil
}
