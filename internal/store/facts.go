package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/KazKozDev/anorix/internal/model"
)

// factLock returns the mutex guarding one fact identity so that
// concurrent merges of the same (category, normalized text) pair
// serialize instead of racing SELECT-then-UPDATE.
func (s *Store) factLock(identity string) *sync.Mutex {
	s.factMu.Lock()
	defer s.factMu.Unlock()
	mu, ok := s.factLocks[identity]
	if !ok {
		mu = &sync.Mutex{}
		s.factLocks[identity] = mu
	}
	return mu
}

// UpsertFact inserts a fact or merges it into the existing fact with
// the same identity. A merge keeps the higher confidence and unions
// the source sets; content keeps its first-seen form.
func (s *Store) UpsertFact(ctx context.Context, category, content string, confidence float64, sources []string) (model.Fact, error) {
	if confidence < 0 || confidence > 1 {
		return model.Fact{}, fmt.Errorf("store: confidence %v out of range [0,1]", confidence)
	}
	norm := model.NormalizeFactText(content)
	if norm == "" {
		return model.Fact{}, fmt.Errorf("store: empty fact content")
	}

	identity := category + "\x00" + norm
	mu := s.factLock(identity)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Fact{}, fmt.Errorf("store: begin fact tx: %w", err)
	}
	defer tx.Rollback()

	var f model.Fact
	var srcJSON string
	var createdAt, updatedAt string
	err = tx.QueryRowContext(ctx,
		`SELECT id, content, confidence, sources, created_at, updated_at
		 FROM facts WHERE category = ? AND norm = ?`, category, norm).
		Scan(&f.ID, &f.Content, &f.Confidence, &srcJSON, &createdAt, &updatedAt)

	switch {
	case err == sql.ErrNoRows:
		f = model.Fact{
			ID:         s.newID(),
			Category:   category,
			Content:    content,
			Confidence: confidence,
			Sources:    dedupSources(nil, sources),
			CreatedAt:  now(),
			UpdatedAt:  now(),
		}
		b, _ := json.Marshal(f.Sources)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO facts (id, category, content, norm, confidence, sources, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			f.ID, f.Category, f.Content, norm, f.Confidence, string(b),
			fmtTime(f.CreatedAt), fmtTime(f.UpdatedAt))
		if err != nil {
			return model.Fact{}, fmt.Errorf("store: insert fact: %w", err)
		}

	case err != nil:
		return model.Fact{}, fmt.Errorf("store: lookup fact: %w", err)

	default:
		f.Category = category
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return model.Fact{}, err
		}
		var existing []string
		if err := json.Unmarshal([]byte(srcJSON), &existing); err != nil {
			return model.Fact{}, fmt.Errorf("store: decode fact sources: %w", err)
		}
		if confidence > f.Confidence {
			f.Confidence = confidence
		}
		f.Sources = dedupSources(existing, sources)
		f.UpdatedAt = now()
		b, _ := json.Marshal(f.Sources)
		_, err = tx.ExecContext(ctx,
			`UPDATE facts SET confidence = ?, sources = ?, updated_at = ? WHERE id = ?`,
			f.Confidence, string(b), fmtTime(f.UpdatedAt), f.ID)
		if err != nil {
			return model.Fact{}, fmt.Errorf("store: merge fact: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Fact{}, fmt.Errorf("store: commit fact: %w", err)
	}
	return f, nil
}

// Facts returns stored facts, newest first. category filters when
// non-empty; facts below minConfidence are dropped.
func (s *Store) Facts(ctx context.Context, category string, minConfidence float64) ([]model.Fact, error) {
	query := `SELECT id, category, content, confidence, sources, created_at, updated_at
	          FROM facts WHERE confidence >= ?`
	args := []any{minConfidence}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY updated_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: facts: %w", err)
	}
	defer rows.Close()

	var facts []model.Fact
	for rows.Next() {
		var f model.Fact
		var srcJSON, createdAt, updatedAt string
		if err := rows.Scan(&f.ID, &f.Category, &f.Content, &f.Confidence, &srcJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan fact: %w", err)
		}
		if err := json.Unmarshal([]byte(srcJSON), &f.Sources); err != nil {
			return nil, fmt.Errorf("store: decode fact sources: %w", err)
		}
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

func dedupSources(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing)+len(incoming))
	var out []string
	for _, s := range existing {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	var added []string
	for _, s := range incoming {
		if s != "" && !seen[s] {
			seen[s] = true
			added = append(added, s)
		}
	}
	sort.Strings(added)
	return append(out, added...)
}
