// Package memory is the layered memory coordinator. It fans each
// recorded turn out to the recent-context buffer, the durable store,
// the extraction rules, and the retrieval pipeline, and it answers
// recall queries across all layers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/KazKozDev/anorix/internal/buffer"
	"github.com/KazKozDev/anorix/internal/extract"
	"github.com/KazKozDev/anorix/internal/model"
	"github.com/KazKozDev/anorix/internal/observability"
	"github.com/KazKozDev/anorix/internal/pipeline"
	"github.com/KazKozDev/anorix/internal/store"
)

// ErrClosed is returned by operations on a closed coordinator.
var ErrClosed = errors.New("memory: coordinator closed")

type state int

const (
	stateOpen state = iota
	stateClosing
	stateClosed
)

// Options tunes the coordinator.
type Options struct {
	Resume            bool    // continue the last unclosed session
	FactMinConfidence float64 // floor applied when reading facts
	SearchLimit       int     // default recall result cap
}

// Coordinator ties the memory layers together behind one API.
type Coordinator struct {
	store     *store.Store
	pipeline  *pipeline.Pipeline
	buffer    *buffer.Buffer
	extractor extract.Extractor
	log       *slog.Logger
	metrics   *observability.Metrics
	opts      Options

	mu      sync.Mutex
	session model.Session
	state   state
}

// New opens or resumes a session and returns a ready coordinator.
func New(ctx context.Context, st *store.Store, p *pipeline.Pipeline, buf *buffer.Buffer, ext extract.Extractor, log *slog.Logger, metrics *observability.Metrics, opts Options) (*Coordinator, error) {
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 5
	}
	c := &Coordinator{
		store:     st,
		pipeline:  p,
		buffer:    buf,
		extractor: ext,
		log:       log,
		metrics:   metrics,
		opts:      opts,
	}

	if opts.Resume {
		sess, err := st.LastOpenSession(ctx)
		switch {
		case err == nil:
			c.session = sess
			if err := c.warmBuffer(ctx, sess.ID); err != nil {
				log.Warn("could not warm buffer from resumed session", "error", err)
			}
			log.Debug("resumed session", "id", sess.ID)
			return c, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, err
		}
	}

	sess, err := st.OpenSession(ctx)
	if err != nil {
		return nil, err
	}
	c.session = sess
	log.Debug("opened session", "id", sess.ID)
	return c, nil
}

// warmBuffer reloads the resumed session's trailing turns. Appending
// in order lets the buffer's own eviction keep only the newest.
func (c *Coordinator) warmBuffer(ctx context.Context, sessionID string) error {
	turns, err := c.store.TurnsSince(ctx, store.TurnFilter{SessionID: sessionID})
	if err != nil {
		return err
	}
	for _, t := range turns {
		c.buffer.Append(t)
	}
	return nil
}

// Session returns the current session.
func (c *Coordinator) Session() model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Record durably appends a turn, mirrors it into the buffer, and
// feeds extraction and indexing. Only the durable write can fail;
// extraction and indexing problems are logged and absorbed.
func (c *Coordinator) Record(ctx context.Context, role model.Role, content string, metadata map[string]string) (model.Turn, error) {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return model.Turn{}, ErrClosed
	}
	sessionID := c.session.ID
	c.mu.Unlock()

	turn, err := c.store.AppendTurn(ctx, sessionID, role, content, metadata)
	if err != nil {
		return model.Turn{}, err
	}
	c.buffer.Append(turn)
	c.metrics.TurnsRecorded.Inc()

	if err := c.pipeline.IngestTurn(ctx, turn); err != nil {
		c.log.Warn("turn not queued for indexing", "turn", turn.ID, "error", err)
	}
	c.extractFrom(ctx, turn)
	return turn, nil
}

// extractFrom runs the extractor over one turn and merges whatever it
// yields. Best effort throughout.
func (c *Coordinator) extractFrom(ctx context.Context, turn model.Turn) {
	if c.extractor == nil {
		return
	}
	snapshot, err := c.store.ProfileSnapshot(ctx)
	if err != nil {
		c.log.Warn("profile snapshot failed, skipping extraction", "error", err)
		return
	}
	ext, err := c.extractor.Extract(ctx, turn, snapshot)
	if err != nil {
		c.log.Warn("extraction failed", "turn", turn.ID, "error", err)
		return
	}
	for k, v := range ext.Profile {
		if err := c.store.UpsertProfile(ctx, k, v); err != nil {
			c.log.Warn("profile update failed", "key", k, "error", err)
		}
	}
	for _, f := range ext.Facts {
		if _, err := c.store.UpsertFact(ctx, f.Category, f.Content, f.Confidence, []string{turn.ID}); err != nil {
			c.log.Warn("fact merge failed", "category", f.Category, "error", err)
			continue
		}
		c.metrics.FactsExtracted.Inc()
	}
}

// Recall assembles a context window: the full recent-context buffer,
// oldest first, always ranks ahead of up to k retrieved results. The
// semantic layer's score wins when layers return the same item.
// degraded is true when only lexical retrieval was available.
func (c *Coordinator) Recall(ctx context.Context, query string, k int) ([]model.SearchResult, bool, error) {
	if k <= 0 {
		k = c.opts.SearchLimit
	}

	// The active conversation is always the most relevant context.
	var bufferResults []model.SearchResult
	seen := make(map[string]bool)
	for _, t := range c.buffer.Snapshot() {
		seen[t.ID] = true
		bufferResults = append(bufferResults, model.SearchResult{
			TurnID: t.ID,
			Text:   t.Content,
			Score:  1.0,
			Layer:  model.LayerBuffer,
		})
	}

	retrieved, degraded, err := c.pipeline.Search(ctx, query, k)
	if err != nil {
		if len(bufferResults) == 0 {
			return nil, false, err
		}
		c.log.Warn("retrieval failed, buffer-only recall", "error", err)
		return bufferResults, true, nil
	}

	merged := bufferResults
	added := 0
	for _, r := range retrieved {
		if added >= k {
			break
		}
		if seen[r.Identity()] || (r.TurnID != "" && seen[r.TurnID]) {
			continue
		}
		seen[r.Identity()] = true
		if r.TurnID != "" {
			seen[r.TurnID] = true
		}
		merged = append(merged, r)
		added++
	}

	// Retrieved results are already ranked by the pipeline; keep the
	// buffer block first and sort only the tail by score.
	tail := merged[len(bufferResults):]
	sort.SliceStable(tail, func(i, j int) bool {
		if tail[i].Score != tail[j].Score {
			return tail[i].Score > tail[j].Score
		}
		return layerRank(tail[i].Layer) < layerRank(tail[j].Layer)
	})
	return merged, degraded, nil
}

func layerRank(l model.SearchLayer) int {
	switch l {
	case model.LayerSemantic:
		return 0
	default:
		return 1
	}
}

// IngestDocument pushes external text through the retrieval pipeline.
func (c *Coordinator) IngestDocument(ctx context.Context, origin, text string) (model.Document, error) {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return model.Document{}, ErrClosed
	}
	c.mu.Unlock()
	return c.pipeline.IngestDocument(ctx, origin, text)
}

// Profile returns the current profile snapshot.
func (c *Coordinator) Profile(ctx context.Context) (map[string]string, error) {
	return c.store.ProfileSnapshot(ctx)
}

// SetProfile writes one profile key directly.
func (c *Coordinator) SetProfile(ctx context.Context, key, value string) error {
	return c.store.UpsertProfile(ctx, key, value)
}

// Facts lists stored facts at or above the configured confidence
// floor. category narrows the result when non-empty.
func (c *Coordinator) Facts(ctx context.Context, category string) ([]model.Fact, error) {
	return c.store.Facts(ctx, category, c.opts.FactMinConfidence)
}

// AddFact merges a fact directly, outside extraction.
func (c *Coordinator) AddFact(ctx context.Context, category, content string, confidence float64, source string) (model.Fact, error) {
	var sources []string
	if source != "" {
		sources = []string{source}
	}
	return c.store.UpsertFact(ctx, category, content, confidence, sources)
}

// Stats reports memory volume across layers.
type Stats struct {
	store.Stats
	SessionID  string `json:"session_id"`
	BufferLen  int    `json:"buffer_len"`
	IndexCount int    `json:"index_count"`
}

func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	st, err := c.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Stats:      st,
		SessionID:  c.Session().ID,
		BufferLen:  c.buffer.Len(),
		IndexCount: c.pipeline.IndexCount(),
	}, nil
}

// NewSession closes the current session and starts a fresh one. The
// buffer is cleared; durable memory is untouched.
func (c *Coordinator) NewSession(ctx context.Context) (model.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateOpen {
		return model.Session{}, ErrClosed
	}
	if err := c.store.CloseSession(ctx, c.session.ID); err != nil {
		return model.Session{}, err
	}
	sess, err := c.store.OpenSession(ctx)
	if err != nil {
		return model.Session{}, fmt.Errorf("memory: reopen session: %w", err)
	}
	c.buffer.Clear()
	c.session = sess
	c.log.Debug("rotated session", "id", sess.ID)
	return sess, nil
}

// RebuildIndex re-embeds every stored chunk from scratch.
func (c *Coordinator) RebuildIndex(ctx context.Context) (int, error) {
	return c.pipeline.RebuildIndex(ctx)
}

// RetryUnindexed reindexes chunks whose embeddings previously failed.
func (c *Coordinator) RetryUnindexed(ctx context.Context, limit int) (int, error) {
	return c.pipeline.RetryUnindexed(ctx, limit)
}

// Export writes durable memory to w as JSON.
func (c *Coordinator) Export(ctx context.Context, w io.Writer) error {
	return c.store.ExportAll(ctx, w)
}

// Import merges a prior export into durable memory.
func (c *Coordinator) Import(ctx context.Context, r io.Reader) error {
	return c.store.ImportAll(ctx, r)
}

// Close drains the pipeline and stops accepting writes. The session
// row stays open so the next run can resume it; only NewSession
// closes a session for good.
func (c *Coordinator) Close(context.Context) error {
	c.mu.Lock()
	if c.state != stateOpen {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosing
	c.mu.Unlock()

	c.pipeline.Close()

	c.mu.Lock()
	c.state = stateClosed
	c.mu.Unlock()
	return nil
}
