// Package index keeps chunk embeddings in a chromem-go collection and
// answers nearest-neighbor queries over them. The index is derived
// state: it can always be rebuilt from the durable store.
package index

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/KazKozDev/anorix/internal/embedding"
	"github.com/KazKozDev/anorix/internal/model"
)

// ErrUnavailable marks failures of the semantic layer. Callers degrade
// to lexical-only retrieval instead of failing the whole search.
var ErrUnavailable = errors.New("index: unavailable")

const collectionName = "chunks"

// Index wraps a chromem-go collection keyed by chunk ID.
type Index struct {
	db  *chromem.DB
	col *chromem.Collection
}

// Open returns a persistent index rooted at dir, or an in-memory one
// when dir is empty.
func Open(dir string) (*Index, error) {
	var db *chromem.DB
	var err error
	if dir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("index: open %s: %w", dir, err)
		}
	}
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("index: collection: %w", err)
	}
	return &Index{db: db, col: col}, nil
}

// Entry is one indexed chunk.
type Entry struct {
	ChunkID string
	TurnID  string
	Text    string
	Vector  embedding.Vector
}

// Upsert writes an entry, replacing any previous vector for the chunk.
func (ix *Index) Upsert(ctx context.Context, e Entry) error {
	meta := map[string]string{}
	if e.TurnID != "" {
		meta["turn_id"] = e.TurnID
	}
	err := ix.col.AddDocument(ctx, chromem.Document{
		ID:        e.ChunkID,
		Metadata:  meta,
		Embedding: e.Vector,
		Content:   e.Text,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", ErrUnavailable, e.ChunkID, err)
	}
	return nil
}

// Delete removes entries by chunk ID. Unknown IDs are ignored.
func (ix *Index) Delete(ctx context.Context, chunkIDs ...string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	if err := ix.col.Delete(ctx, nil, nil, chunkIDs...); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}
	return nil
}

// Count reports the number of indexed chunks.
func (ix *Index) Count() int {
	return ix.col.Count()
}

// Query returns up to k nearest entries to vec, best first. Ties on
// similarity break toward the lexically larger chunk ID, which for
// ULID keys means the more recent chunk.
func (ix *Index) Query(ctx context.Context, vec embedding.Vector, k int) ([]model.SearchResult, error) {
	if k <= 0 {
		return nil, nil
	}
	n := ix.col.Count()
	if n == 0 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	hits, err := ix.col.QueryEmbedding(ctx, vec, k, nil, nil)
	if err != nil {
		// The collection can shrink between Count and QueryEmbedding.
		if isTooFewDocsError(err) && k > 1 {
			hits, err = ix.col.QueryEmbedding(ctx, vec, 1, nil, nil)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: query: %v", ErrUnavailable, err)
		}
	}

	results := make([]model.SearchResult, 0, len(hits))
	for _, h := range hits {
		// Cosine similarity of unrelated vectors can dip below zero.
		score := float64(h.Similarity)
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		results = append(results, model.SearchResult{
			ChunkID: h.ID,
			TurnID:  h.Metadata["turn_id"],
			Text:    h.Content,
			Score:   score,
			Layer:   model.LayerSemantic,
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID > results[j].ChunkID
	})
	return results, nil
}

// Reset drops the collection, for full rebuilds.
func (ix *Index) Reset(ctx context.Context) error {
	if err := ix.db.DeleteCollection(collectionName); err != nil {
		return fmt.Errorf("%w: reset: %v", ErrUnavailable, err)
	}
	col, err := ix.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return fmt.Errorf("%w: reset: %v", ErrUnavailable, err)
	}
	ix.col = col
	return nil
}

func isTooFewDocsError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") ||
		strings.Contains(msg, "number of documents")
}
