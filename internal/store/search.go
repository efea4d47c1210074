package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/KazKozDev/anorix/internal/model"
)

// SearchLexical runs a full-text query over chunk and turn text and
// returns results scored into (0, 1), best first. It queries FTS5
// first and falls back to a LIKE scan when the query cannot be parsed
// as an FTS expression.
func (s *Store) SearchLexical(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}

	results, err := s.searchFTS(ctx, query, limit)
	if err != nil {
		results, err = s.searchLike(ctx, query, limit)
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Identity() > results[j].Identity()
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Store) searchFTS(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	match := ftsQuote(query)

	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, COALESCE(c.turn_id, ''), c.text, bm25(chunks_fts)
		 FROM chunks_fts JOIN chunks c ON c.rowid = chunks_fts.rowid
		 WHERE chunks_fts MATCH ? ORDER BY bm25(chunks_fts) LIMIT ?`,
		match, limit)
	if err != nil {
		return nil, fmt.Errorf("store: fts chunks: %w", err)
	}
	results, err := collectLexical(rows, true)
	if err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT t.id, t.content, bm25(turns_fts)
		 FROM turns_fts JOIN turns t ON t.rowid = turns_fts.rowid
		 WHERE turns_fts MATCH ? ORDER BY bm25(turns_fts) LIMIT ?`,
		match, limit)
	if err != nil {
		return nil, fmt.Errorf("store: fts turns: %w", err)
	}
	turnResults, err := collectLexical(rows, false)
	if err != nil {
		return nil, err
	}
	return append(results, turnResults...), nil
}

// searchLike is the degraded path for queries FTS5 rejects. Matches
// get a flat mid-range score.
func (s *Store) searchLike(ctx context.Context, query string, limit int) ([]model.SearchResult, error) {
	pattern := "%" + query + "%"

	var results []model.SearchResult
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(turn_id, ''), text FROM chunks WHERE text LIKE ? LIMIT ?`,
		pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("store: like chunks: %w", err)
	}
	for rows.Next() {
		var r model.SearchResult
		if err := rows.Scan(&r.ChunkID, &r.TurnID, &r.Text); err != nil {
			rows.Close()
			return nil, fmt.Errorf("store: scan like chunk: %w", err)
		}
		r.Score = 0.5
		r.Layer = model.LayerLexical
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx,
		`SELECT id, content FROM turns WHERE content LIKE ? LIMIT ?`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("store: like turns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r model.SearchResult
		if err := rows.Scan(&r.TurnID, &r.Text); err != nil {
			return nil, fmt.Errorf("store: scan like turn: %w", err)
		}
		r.Score = 0.5
		r.Layer = model.LayerLexical
		results = append(results, r)
	}
	return results, rows.Err()
}

func collectLexical(rows rowsLike, isChunk bool) ([]model.SearchResult, error) {
	defer rows.Close()
	var results []model.SearchResult
	for rows.Next() {
		var r model.SearchResult
		var rank float64
		var err error
		if isChunk {
			err = rows.Scan(&r.ChunkID, &r.TurnID, &r.Text, &rank)
		} else {
			err = rows.Scan(&r.TurnID, &r.Text, &rank)
		}
		if err != nil {
			return nil, fmt.Errorf("store: scan lexical result: %w", err)
		}
		r.Score = lexicalScore(rank)
		r.Layer = model.LayerLexical
		results = append(results, r)
	}
	return results, rows.Err()
}

type rowsLike interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// lexicalScore maps a bm25 rank (more negative is better) into (0, 1).
// Raw BM25 can go negative in small corpora, leaving the rank positive,
// so the sigmoid keeps the mapping monotone on the whole range instead
// of clamping weak matches to zero.
func lexicalScore(rank float64) float64 {
	return 1 / (1 + math.Exp(rank))
}

// ftsQuote wraps each whitespace-separated term in double quotes so
// user input with FTS operator characters still parses.
func ftsQuote(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+strings.ReplaceAll(t, `"`, `""`)+`"`)
	}
	return strings.Join(quoted, " ")
}
