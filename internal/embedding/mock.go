package embedding

import (
	"context"
	"hash/fnv"
	"math"
)

// MockEmbedder generates deterministic embeddings from a text hash.
// The same text always yields the same unit vector, so exact-duplicate
// text scores cosine similarity 1.0 against itself. Useful for tests
// and for running without a real provider.
type MockEmbedder struct {
	dims int
}

// NewMockEmbedder creates a mock embedder. Non-positive dims defaults
// to 384 (the all-MiniLM-L6-v2 size).
func NewMockEmbedder(dims int) *MockEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &MockEmbedder{dims: dims}
}

func (m *MockEmbedder) Embed(_ context.Context, text string) (Vector, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make(Vector, m.dims)
	for i := range vec {
		// LCG keeps generation deterministic per seed.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

func (m *MockEmbedder) Dims() int { return m.dims }

func normalize(vec Vector) Vector {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec
}
