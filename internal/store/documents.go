package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/KazKozDev/anorix/internal/chunker"
	"github.com/KazKozDev/anorix/internal/model"
)

// HashDocument returns the content hash used for ingest idempotence.
func HashDocument(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// InsertDocument persists a document and its chunk spans in one
// transaction. Re-ingesting byte-identical content returns the
// existing document ID wrapped in ErrAlreadyIngested.
func (s *Store) InsertDocument(ctx context.Context, origin, text string, spans []chunker.Span) (model.Document, []model.Chunk, error) {
	doc := model.Document{
		ID:         s.newID(),
		Origin:     origin,
		Hash:       HashDocument(text),
		IngestedAt: now(),
	}

	var existingID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM documents WHERE hash = ?`, doc.Hash).Scan(&existingID)
	if err == nil {
		doc.ID = existingID
		return doc, nil, fmt.Errorf("store: document %s: %w", existingID, ErrAlreadyIngested)
	}
	if err != sql.ErrNoRows {
		return model.Document{}, nil, fmt.Errorf("store: lookup document hash: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Document{}, nil, fmt.Errorf("store: begin ingest tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, origin, hash, ingested_at) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Origin, doc.Hash, fmtTime(doc.IngestedAt))
	if err != nil {
		return model.Document{}, nil, fmt.Errorf("store: insert document: %w", err)
	}

	chunks := make([]model.Chunk, 0, len(spans))
	for i, sp := range spans {
		c := model.Chunk{
			ID:         s.newID(),
			DocumentID: doc.ID,
			Seq:        i,
			Text:       sp.Text,
			Start:      sp.Start,
			End:        sp.End,
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, turn_id, seq, text, start_off, end_off, indexed)
			 VALUES (?, ?, NULL, ?, ?, ?, ?, 0)`,
			c.ID, c.DocumentID, c.Seq, c.Text, c.Start, c.End)
		if err != nil {
			return model.Document{}, nil, fmt.Errorf("store: insert chunk: %w", err)
		}
		chunks = append(chunks, c)
	}

	if err := tx.Commit(); err != nil {
		return model.Document{}, nil, fmt.Errorf("store: commit ingest: %w", err)
	}
	return doc, chunks, nil
}

// InsertTurnChunks persists chunk spans derived from a turn's content.
// Turn chunks carry no document and are re-derived on rebuild.
func (s *Store) InsertTurnChunks(ctx context.Context, turnID string, spans []chunker.Span) ([]model.Chunk, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin turn chunk tx: %w", err)
	}
	defer tx.Rollback()

	chunks := make([]model.Chunk, 0, len(spans))
	for i, sp := range spans {
		c := model.Chunk{
			ID:     s.newID(),
			TurnID: turnID,
			Seq:    i,
			Text:   sp.Text,
			Start:  sp.Start,
			End:    sp.End,
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, turn_id, seq, text, start_off, end_off, indexed)
			 VALUES (?, NULL, ?, ?, ?, ?, ?, 0)`,
			c.ID, c.TurnID, c.Seq, c.Text, c.Start, c.End)
		if err != nil {
			return nil, fmt.Errorf("store: insert turn chunk: %w", err)
		}
		chunks = append(chunks, c)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit turn chunks: %w", err)
	}
	return chunks, nil
}

// MarkIndexed records that a chunk's embedding reached the index.
func (s *Store) MarkIndexed(ctx context.Context, chunkID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chunks SET indexed = 1 WHERE id = ?`, chunkID)
	if err != nil {
		return fmt.Errorf("store: mark indexed: %w", err)
	}
	return nil
}

// UnindexedChunks returns up to limit chunks still waiting on an
// embedding, oldest first.
func (s *Store) UnindexedChunks(ctx context.Context, limit int) ([]model.Chunk, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, turn_id, seq, text, start_off, end_off, indexed
		 FROM chunks WHERE indexed = 0 ORDER BY id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: unindexed chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// AllChunks streams every chunk in batches to fn, for index rebuilds.
func (s *Store) AllChunks(ctx context.Context, batch int, fn func([]model.Chunk) error) error {
	if batch <= 0 {
		batch = 200
	}
	after := ""
	for {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, document_id, turn_id, seq, text, start_off, end_off, indexed
			 FROM chunks WHERE id > ? ORDER BY id ASC LIMIT ?`, after, batch)
		if err != nil {
			return fmt.Errorf("store: all chunks: %w", err)
		}
		chunks, err := scanChunks(rows)
		rows.Close()
		if err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		if err := fn(chunks); err != nil {
			return err
		}
		after = chunks[len(chunks)-1].ID
	}
}

// Chunks returns the chunks for the given IDs. Unknown IDs are
// omitted rather than erroring.
func (s *Store) Chunks(ctx context.Context, ids []string) ([]model.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, turn_id, seq, text, start_off, end_off, indexed
		 FROM chunks WHERE id IN (`+placeholders+`) ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: chunks: %w", err)
	}
	defer rows.Close()
	return scanChunks(rows)
}

// Chunk returns one chunk by ID, or ErrNotFound.
func (s *Store) Chunk(ctx context.Context, id string) (model.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, turn_id, seq, text, start_off, end_off, indexed
		 FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return model.Chunk{}, ErrNotFound
	}
	return c, err
}

func scanChunks(rows *sql.Rows) ([]model.Chunk, error) {
	var chunks []model.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func scanChunk(row scanner) (model.Chunk, error) {
	var c model.Chunk
	var docID, turnID sql.NullString
	var indexed int
	err := row.Scan(&c.ID, &docID, &turnID, &c.Seq, &c.Text, &c.Start, &c.End, &indexed)
	if err == sql.ErrNoRows {
		return c, err
	}
	if err != nil {
		return c, fmt.Errorf("store: scan chunk: %w", err)
	}
	c.DocumentID = docID.String
	c.TurnID = turnID.String
	c.Indexed = indexed != 0
	return c, nil
}
