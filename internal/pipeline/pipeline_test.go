package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/KazKozDev/anorix/internal/embedding"
	"github.com/KazKozDev/anorix/internal/index"
	"github.com/KazKozDev/anorix/internal/logging"
	"github.com/KazKozDev/anorix/internal/model"
	"github.com/KazKozDev/anorix/internal/observability"
	"github.com/KazKozDev/anorix/internal/store"
)

// flakyEmbedder fails while broken is set and otherwise delegates to a
// deterministic mock. fails counts completed failures so tests can
// wait for an async attempt to finish.
type flakyEmbedder struct {
	inner  *embedding.MockEmbedder
	broken atomic.Bool
	fails  atomic.Int32
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	if f.broken.Load() {
		f.fails.Add(1)
		return nil, embedding.ErrEmbedding
	}
	return f.inner.Embed(ctx, text)
}

func (f *flakyEmbedder) Dims() int { return f.inner.Dims() }

func newTestPipeline(t *testing.T, emb embedding.Embedder) (*Pipeline, *store.Store, *index.Index) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "anorix.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ix, err := index.Open("")
	if err != nil {
		t.Fatalf("open index: %v", err)
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry(), "anorix")
	p := New(st, ix, emb, logging.Discard(), metrics, Options{})
	t.Cleanup(p.Close)
	return p, st, ix
}

func TestIngestDocumentAndSearch(t *testing.T) {
	emb := embedding.NewMockEmbedder(0)
	p, _, ix := newTestPipeline(t, emb)
	ctx := context.Background()

	doc, err := p.IngestDocument(ctx, "notes.txt", "The greenhouse tomatoes need daily watering in July.")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if doc.ID == "" {
		t.Fatal("empty document ID")
	}

	waitFor(t, func() bool { return ix.Count() > 0 })

	results, degraded, err := p.Search(ctx, "tomatoes watering", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if degraded {
		t.Error("search reported degraded with a healthy embedder")
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].Layer != model.LayerSemantic && results[0].Layer != model.LayerLexical {
		t.Errorf("unexpected layer %s", results[0].Layer)
	}
}

func TestReingestIsIdempotent(t *testing.T) {
	p, _, _ := newTestPipeline(t, embedding.NewMockEmbedder(0))
	ctx := context.Background()

	text := "a document ingested twice"
	first, err := p.IngestDocument(ctx, "a", text)
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	second, err := p.IngestDocument(ctx, "b", text)
	if !errors.Is(err, store.ErrAlreadyIngested) {
		t.Fatalf("second ingest err = %v, want ErrAlreadyIngested", err)
	}
	if second.ID != first.ID {
		t.Errorf("second ingest ID %s, want %s", second.ID, first.ID)
	}
}

func TestEmbedFailureDefersThenRetries(t *testing.T) {
	emb := &flakyEmbedder{inner: embedding.NewMockEmbedder(0)}
	emb.broken.Store(true)
	p, st, ix := newTestPipeline(t, emb)
	ctx := context.Background()

	if _, err := p.IngestDocument(ctx, "doc", "content that cannot be embedded yet"); err != nil {
		t.Fatalf("ingest must succeed even when embedding fails: %v", err)
	}

	// Wait for the worker's embed attempt to finish failing.
	waitFor(t, func() bool { return emb.fails.Load() >= 1 })
	if ix.Count() != 0 {
		t.Fatalf("index has %d entries while embedder is broken", ix.Count())
	}

	emb.broken.Store(false)
	n, err := p.RetryUnindexed(ctx, 10)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n == 0 {
		t.Fatal("retry indexed nothing")
	}
	pending, _ := st.UnindexedChunks(ctx, 10)
	if len(pending) != 0 {
		t.Errorf("%d chunks still unindexed after retry", len(pending))
	}
}

func TestSearchDegradesWithoutSemanticLayer(t *testing.T) {
	emb := &flakyEmbedder{inner: embedding.NewMockEmbedder(0)}
	p, st, _ := newTestPipeline(t, emb)
	ctx := context.Background()

	sess, _ := st.OpenSession(ctx)
	if _, err := st.AppendTurn(ctx, sess.ID, model.RoleUser, "the deployment failed on friday", nil); err != nil {
		t.Fatalf("append turn: %v", err)
	}

	emb.broken.Store(true)
	results, degraded, err := p.Search(ctx, "deployment", 5)
	if err != nil {
		t.Fatalf("degraded search must still succeed: %v", err)
	}
	if !degraded {
		t.Error("expected degraded=true")
	}
	if len(results) == 0 {
		t.Fatal("expected lexical results")
	}
	for _, r := range results {
		if r.Layer != model.LayerLexical {
			t.Errorf("layer = %s, want lexical only", r.Layer)
		}
	}
}

func TestIngestTurnIndexes(t *testing.T) {
	emb := embedding.NewMockEmbedder(0)
	p, st, ix := newTestPipeline(t, emb)
	ctx := context.Background()

	sess, _ := st.OpenSession(ctx)
	turn, err := st.AppendTurn(ctx, sess.ID, model.RoleUser, "my favorite editor is vim", nil)
	if err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if err := p.IngestTurn(ctx, turn); err != nil {
		t.Fatalf("ingest turn: %v", err)
	}

	waitFor(t, func() bool { return ix.Count() > 0 })

	vec, _ := emb.Embed(ctx, "my favorite editor is vim")
	hits, err := ix.Query(ctx, vec, 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if hits[0].TurnID != turn.ID {
		t.Errorf("indexed turn ID = %q, want %q", hits[0].TurnID, turn.ID)
	}
}

func TestMergePrefersSemanticScore(t *testing.T) {
	semantic := []model.SearchResult{
		{ChunkID: "c1", Text: "x", Score: 0.91, Layer: model.LayerSemantic},
	}
	lexical := []model.SearchResult{
		{ChunkID: "c1", Text: "x", Score: 0.40, Layer: model.LayerLexical},
		{ChunkID: "c2", Text: "y", Score: 0.40, Layer: model.LayerLexical},
	}

	merged := mergeResults(semantic, lexical, 10)
	if len(merged) != 2 {
		t.Fatalf("got %d results, want 2", len(merged))
	}
	if merged[0].ChunkID != "c1" || merged[0].Score != 0.91 || merged[0].Layer != model.LayerSemantic {
		t.Errorf("collision not resolved toward semantic: %+v", merged[0])
	}
}

func TestMergeDedupsChunkAndTurnViews(t *testing.T) {
	// A recorded turn surfaces as its derived chunk in one layer and as
	// the bare turn row in the other. One entry must survive, with the
	// semantic score.
	semantic := []model.SearchResult{
		{ChunkID: "c1", TurnID: "t1", Text: "the staging cluster is named osprey", Score: 0.95, Layer: model.LayerSemantic},
	}
	lexical := []model.SearchResult{
		{TurnID: "t1", Text: "the staging cluster is named osprey", Score: 0.62, Layer: model.LayerLexical},
		{ChunkID: "c1", TurnID: "t1", Text: "the staging cluster is named osprey", Score: 0.62, Layer: model.LayerLexical},
	}

	merged := mergeResults(semantic, lexical, 10)
	if len(merged) != 1 {
		t.Fatalf("got %d results for one turn, want 1: %+v", len(merged), merged)
	}
	if merged[0].Layer != model.LayerSemantic || merged[0].Score != 0.95 {
		t.Errorf("kept entry = %+v, want the semantic one", merged[0])
	}
}

func TestSearchReturnsOneEntryPerTurn(t *testing.T) {
	emb := embedding.NewMockEmbedder(0)
	p, st, ix := newTestPipeline(t, emb)
	ctx := context.Background()

	sess, _ := st.OpenSession(ctx)
	turn, err := st.AppendTurn(ctx, sess.ID, model.RoleUser, "the staging cluster is named osprey", nil)
	if err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if err := p.IngestTurn(ctx, turn); err != nil {
		t.Fatalf("ingest turn: %v", err)
	}
	waitFor(t, func() bool { return ix.Count() > 0 })

	// The exact text matches the chunk in the semantic index and both
	// FTS tables; the turn must still appear once.
	results, _, err := p.Search(ctx, "the staging cluster is named osprey", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	perTurn := 0
	for _, r := range results {
		if r.TurnID == turn.ID {
			perTurn++
		}
	}
	if perTurn != 1 {
		t.Errorf("turn returned %d times in one search, want 1: %+v", perTurn, results)
	}
}

func TestMergeSemanticBeforeLexicalAtEqualScore(t *testing.T) {
	semantic := []model.SearchResult{
		{ChunkID: "s", Score: 0.5, Layer: model.LayerSemantic},
	}
	lexical := []model.SearchResult{
		{ChunkID: "l", Score: 0.5, Layer: model.LayerLexical},
	}
	merged := mergeResults(semantic, lexical, 10)
	if merged[0].Layer != model.LayerSemantic {
		t.Errorf("semantic should rank first at equal score, got %+v", merged)
	}
}

func TestMergeCapsAtK(t *testing.T) {
	var lexical []model.SearchResult
	for _, id := range []string{"a", "b", "c", "d"} {
		lexical = append(lexical, model.SearchResult{ChunkID: id, Score: 0.5, Layer: model.LayerLexical})
	}
	merged := mergeResults(nil, lexical, 2)
	if len(merged) != 2 {
		t.Errorf("got %d results, want 2", len(merged))
	}
}

func TestCloseDuringIngestDoesNotPanic(t *testing.T) {
	emb := embedding.NewMockEmbedder(0)
	p, st, _ := newTestPipeline(t, emb)
	ctx := context.Background()

	sess, _ := st.OpenSession(ctx)

	// Ingesters race Close. Jobs that miss the queue index inline, so
	// every chunk still lands regardless of which side wins.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				turn, err := st.AppendTurn(ctx, sess.ID, model.RoleUser, fmt.Sprintf("note %d-%d", n, j), nil)
				if err != nil {
					t.Errorf("append turn: %v", err)
					return
				}
				if err := p.IngestTurn(ctx, turn); err != nil {
					t.Errorf("ingest turn: %v", err)
					return
				}
			}
		}(i)
	}
	p.Close()
	wg.Wait()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
