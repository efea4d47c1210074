package embedding

import (
	"context"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder wraps an Embedder with a ristretto cache keyed by the
// input text. Recurring text (repeated queries, re-ingested turns)
// skips the provider round trip. Entries are cost-weighted by vector
// size so the cache stays within a fixed memory budget.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps inner with a cache of roughly maxEntries
// vectors. maxEntries <= 0 defaults to 4096.
func NewCachedEmbedder(inner Embedder, maxEntries int64) (*CachedEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	vecCost := int64(inner.Dims()) * 4
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries * vecCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if v, ok := c.cache.Get(text); ok {
		if vec, ok := v.(Vector); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, int64(len(vec))*4)
	return vec, nil
}

func (c *CachedEmbedder) Dims() int { return c.inner.Dims() }

// Wait blocks until buffered cache writes are applied. Test helper.
func (c *CachedEmbedder) Wait() { c.cache.Wait() }
