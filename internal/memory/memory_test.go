package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/KazKozDev/anorix/internal/buffer"
	"github.com/KazKozDev/anorix/internal/embedding"
	"github.com/KazKozDev/anorix/internal/extract"
	"github.com/KazKozDev/anorix/internal/index"
	"github.com/KazKozDev/anorix/internal/logging"
	"github.com/KazKozDev/anorix/internal/model"
	"github.com/KazKozDev/anorix/internal/observability"
	"github.com/KazKozDev/anorix/internal/pipeline"
	"github.com/KazKozDev/anorix/internal/store"
)

func newTestCoordinator(t *testing.T, dbPath string, opts Options) *Coordinator {
	return newTestCoordinatorWith(t, dbPath, opts, embedding.NewMockEmbedder(0))
}

func newTestCoordinatorWith(t *testing.T, dbPath string, opts Options, emb embedding.Embedder) *Coordinator {
	t.Helper()
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ix, err := index.Open("")
	if err != nil {
		t.Fatalf("open index: %v", err)
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry(), "anorix")
	p := pipeline.New(st, ix, emb, logging.Discard(), metrics, pipeline.Options{})

	c, err := New(context.Background(), st, p, buffer.New(0), extract.NewRuleExtractor(), logging.Discard(), metrics, opts)
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

// downEmbedder always fails, simulating an unreachable provider.
type downEmbedder struct{}

func (downEmbedder) Embed(context.Context, string) (embedding.Vector, error) {
	return nil, embedding.ErrEmbedding
}

func (downEmbedder) Dims() int { return 384 }

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "anorix.db")
}

func TestRecordAndRecallFromBuffer(t *testing.T) {
	c := newTestCoordinator(t, tempDB(t), Options{})
	ctx := context.Background()

	turn, err := c.Record(ctx, model.RoleUser, "the staging cluster is named osprey", nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	results, degraded, err := c.Recall(ctx, "osprey", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if degraded {
		t.Error("unexpected degraded recall")
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	top := results[0]
	if top.Layer != model.LayerBuffer {
		t.Errorf("top layer = %s, want buffer", top.Layer)
	}
	if top.TurnID != turn.ID {
		t.Errorf("top turn = %s, want %s", top.TurnID, turn.ID)
	}
	if top.Score != 1.0 {
		t.Errorf("buffer score = %v, want 1.0", top.Score)
	}
}

func TestRecallReturnsEachTurnOnce(t *testing.T) {
	c := newTestCoordinator(t, tempDB(t), Options{})
	ctx := context.Background()

	turn, err := c.Record(ctx, model.RoleUser, "the staging cluster is named osprey", nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	// Rotate so the turn is reachable only through retrieval, where it
	// matches as its chunk and as the turn row at once.
	if _, err := c.NewSession(ctx); err != nil {
		t.Fatalf("new session: %v", err)
	}

	results, _, err := c.Recall(ctx, "the staging cluster is named osprey", 10)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	hits := 0
	for _, r := range results {
		if r.TurnID == turn.ID || r.Text == turn.Content {
			hits++
		}
	}
	if hits != 1 {
		t.Errorf("turn recalled %d times, want 1: %+v", hits, results)
	}
}

func TestRecallIncludesFullBuffer(t *testing.T) {
	c := newTestCoordinator(t, tempDB(t), Options{})
	ctx := context.Background()

	first, _ := c.Record(ctx, model.RoleUser, "we talked about sailing", nil)
	second, _ := c.Record(ctx, model.RoleAgent, "and about knot types", nil)

	// The query matches neither turn; the buffer still leads the
	// context window in chronological order.
	results, _, err := c.Recall(ctx, "zebra migrations", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) < 2 {
		t.Fatalf("got %d results, want at least the 2 buffer turns", len(results))
	}
	if results[0].TurnID != first.ID || results[1].TurnID != second.ID {
		t.Errorf("buffer block out of order: %s, %s", results[0].TurnID, results[1].TurnID)
	}
	for _, r := range results[:2] {
		if r.Layer != model.LayerBuffer {
			t.Errorf("layer = %s, want buffer", r.Layer)
		}
	}
}

func TestRecordRunsExtraction(t *testing.T) {
	c := newTestCoordinator(t, tempDB(t), Options{})
	ctx := context.Background()

	if _, err := c.Record(ctx, model.RoleUser, "My name is Ada and I love strong coffee", nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	profile, err := c.Profile(ctx)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile["name"] != "Ada" {
		t.Errorf("profile name = %q, want Ada", profile["name"])
	}

	facts, err := c.Facts(ctx, "preference")
	if err != nil {
		t.Fatalf("facts: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("got %d preference facts, want 1: %+v", len(facts), facts)
	}
}

func TestFactConfidenceFloor(t *testing.T) {
	c := newTestCoordinator(t, tempDB(t), Options{FactMinConfidence: 0.75})
	ctx := context.Background()

	c.AddFact(ctx, "personal", "probably owns a dog", 0.4, "")
	c.AddFact(ctx, "personal", "works remotely", 0.9, "")

	facts, err := c.Facts(ctx, "personal")
	if err != nil {
		t.Fatalf("facts: %v", err)
	}
	if len(facts) != 1 || facts[0].Confidence != 0.9 {
		t.Errorf("facts = %+v, want only the 0.9 fact", facts)
	}
}

func TestNewSessionClearsOnlyBuffer(t *testing.T) {
	c := newTestCoordinator(t, tempDB(t), Options{})
	ctx := context.Background()

	c.Record(ctx, model.RoleUser, "remember the harbor meeting", nil)
	first := c.Session()

	sess, err := c.NewSession(ctx)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if sess.ID == first.ID {
		t.Error("session did not rotate")
	}

	// Buffer is empty, so a recall must come from the durable layers.
	results, _, err := c.Recall(ctx, "harbor", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("durable memory lost after session rotation")
	}
	for _, r := range results {
		if r.Layer == model.LayerBuffer {
			t.Errorf("buffer result %+v survived rotation", r)
		}
	}
}

func TestResumeReusesSessionAndWarmsBuffer(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	c1 := newTestCoordinator(t, db, Options{})
	c1.Record(ctx, model.RoleUser, "the wifi password is on the fridge", nil)
	first := c1.Session()
	c1.Close(ctx)

	c2 := newTestCoordinator(t, db, Options{Resume: true})
	if c2.Session().ID != first.ID {
		t.Errorf("resumed session %s, want %s", c2.Session().ID, first.ID)
	}

	results, _, err := c2.Recall(ctx, "fridge", 5)
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) == 0 || results[0].Layer != model.LayerBuffer {
		t.Errorf("expected warmed buffer hit, got %+v", results)
	}
}

func TestResumeSkipsClosedSessions(t *testing.T) {
	db := tempDB(t)
	ctx := context.Background()

	c1 := newTestCoordinator(t, db, Options{})
	first := c1.Session()
	rotated, err := c1.NewSession(ctx)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	c1.Close(ctx)

	c2 := newTestCoordinator(t, db, Options{Resume: true})
	got := c2.Session().ID
	if got == first.ID {
		t.Error("resumed a closed session")
	}
	if got != rotated.ID {
		t.Errorf("resumed %s, want %s", got, rotated.ID)
	}
}

func TestRecallDegradesToBufferAndLexical(t *testing.T) {
	c := newTestCoordinatorWith(t, tempDB(t), Options{}, downEmbedder{})
	ctx := context.Background()

	if _, err := c.Record(ctx, model.RoleUser, "the backup job runs at midnight", nil); err != nil {
		t.Fatalf("record must survive a dead embedder: %v", err)
	}

	results, degraded, err := c.Recall(ctx, "backup", 5)
	if err != nil {
		t.Fatalf("recall must degrade, not fail: %v", err)
	}
	if !degraded {
		t.Error("expected degraded recall")
	}
	if len(results) == 0 || results[0].Layer != model.LayerBuffer {
		t.Fatalf("expected buffer contents first, got %+v", results)
	}
}

func TestRecordAfterCloseFails(t *testing.T) {
	c := newTestCoordinator(t, tempDB(t), Options{})
	ctx := context.Background()

	if err := c.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := c.Record(ctx, model.RoleUser, "too late", nil); err != ErrClosed {
		t.Errorf("record after close err = %v, want ErrClosed", err)
	}
	if _, err := c.IngestDocument(ctx, "x", "too late"); err != ErrClosed {
		t.Errorf("ingest after close err = %v, want ErrClosed", err)
	}
}

func TestStats(t *testing.T) {
	c := newTestCoordinator(t, tempDB(t), Options{})
	ctx := context.Background()

	c.Record(ctx, model.RoleUser, "a turn to count", nil)
	c.SetProfile(ctx, "name", "Ada")

	st, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Turns != 1 || st.ProfileKeys != 1 {
		t.Errorf("stats = %+v", st)
	}
	if st.SessionID == "" {
		t.Error("stats missing session ID")
	}
	if st.BufferLen != 1 {
		t.Errorf("buffer len = %d, want 1", st.BufferLen)
	}
}
