package embedding

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
)

// Compile-time interface guards.
var (
	_ Embedder = (*OllamaEmbedder)(nil)
	_ Embedder = (*OpenAIEmbedder)(nil)
	_ Embedder = (*MockEmbedder)(nil)
	_ Embedder = (*CachedEmbedder)(nil)
)

func TestCosineSimilarity(t *testing.T) {
	a := Vector{1, 0, 0}
	b := Vector{1, 0, 0}
	c := Vector{0, 1, 0}
	d := Vector{-1, 0, 0}

	if got := CosineSimilarity(a, b); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("identical vectors: got %f, want 1.0", got)
	}
	if got := CosineSimilarity(a, c); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors: got %f, want 0", got)
	}
	if got := CosineSimilarity(a, d); math.Abs(got+1.0) > 1e-9 {
		t.Errorf("opposite vectors: got %f, want -1.0", got)
	}
}

func TestCosineSimilarityDegenerate(t *testing.T) {
	if got := CosineSimilarity(Vector{1, 2}, Vector{1, 2, 3}); got != 0 {
		t.Errorf("mismatched dims: got %f, want 0", got)
	}
	if got := CosineSimilarity(nil, nil); got != 0 {
		t.Errorf("empty vectors: got %f, want 0", got)
	}
	if got := CosineSimilarity(Vector{0, 0}, Vector{1, 1}); got != 0 {
		t.Errorf("zero vector: got %f, want 0", got)
	}
}

func TestMockEmbedderDeterministic(t *testing.T) {
	ctx := context.Background()
	m := NewMockEmbedder(64)

	v1, err := m.Embed(ctx, "hello world")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	v2, _ := m.Embed(ctx, "hello world")
	v3, _ := m.Embed(ctx, "something else")

	if len(v1) != 64 {
		t.Fatalf("expected 64 dims, got %d", len(v1))
	}
	if sim := CosineSimilarity(v1, v2); math.Abs(sim-1.0) > 1e-6 {
		t.Errorf("same text should be identical, similarity %f", sim)
	}
	if sim := CosineSimilarity(v1, v3); math.Abs(sim-1.0) < 1e-6 {
		t.Errorf("different text should differ, similarity %f", sim)
	}
}

func TestMockEmbedderUnitNorm(t *testing.T) {
	m := NewMockEmbedder(0)
	if m.Dims() != 384 {
		t.Errorf("default dims = %d, want 384", m.Dims())
	}
	vec, _ := m.Embed(context.Background(), "norm check")

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-5 {
		t.Errorf("expected unit vector, norm %f", math.Sqrt(norm))
	}
}

// countingEmbedder counts calls through to the mock.
type countingEmbedder struct {
	MockEmbedder
	calls atomic.Int64
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	c.calls.Add(1)
	return c.MockEmbedder.Embed(ctx, text)
}

func TestCachedEmbedderHit(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{MockEmbedder: *NewMockEmbedder(32)}

	cached, err := NewCachedEmbedder(inner, 128)
	if err != nil {
		t.Fatalf("new cached embedder: %v", err)
	}

	v1, err := cached.Embed(ctx, "repeated text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	cached.Wait()

	v2, err := cached.Embed(ctx, "repeated text")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}

	if got := inner.calls.Load(); got != 1 {
		t.Errorf("expected 1 provider call, got %d", got)
	}
	if sim := CosineSimilarity(v1, v2); math.Abs(sim-1.0) > 1e-9 {
		t.Errorf("cached vector differs, similarity %f", sim)
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) (Vector, error) {
	return nil, ErrEmbedding
}
func (failingEmbedder) Dims() int { return 8 }

func TestCachedEmbedderPropagatesError(t *testing.T) {
	cached, err := NewCachedEmbedder(failingEmbedder{}, 16)
	if err != nil {
		t.Fatalf("new cached embedder: %v", err)
	}
	if _, err := cached.Embed(context.Background(), "x"); !errors.Is(err, ErrEmbedding) {
		t.Errorf("expected ErrEmbedding, got %v", err)
	}
}
