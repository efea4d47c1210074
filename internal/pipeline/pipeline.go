// Package pipeline connects the durable store, the embedder, and the
// semantic index. Writes persist first; indexing happens on a bounded
// worker pool so a slow embedding provider never blocks or fails a
// record operation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KazKozDev/anorix/internal/chunker"
	"github.com/KazKozDev/anorix/internal/embedding"
	"github.com/KazKozDev/anorix/internal/index"
	"github.com/KazKozDev/anorix/internal/model"
	"github.com/KazKozDev/anorix/internal/observability"
	"github.com/KazKozDev/anorix/internal/store"
)

// Options tunes the pipeline. Zero values take defaults.
type Options struct {
	Workers      int           // indexing goroutines, default 2
	QueueSize    int           // pending index jobs, default 128
	EmbedTimeout time.Duration // per-embed deadline, default 10s
	Chunking     chunker.Options
}

func (o *Options) withDefaults() {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 128
	}
	if o.EmbedTimeout <= 0 {
		o.EmbedTimeout = 10 * time.Second
	}
}

type indexJob struct {
	chunk     model.Chunk
	embedText string
}

// Pipeline owns the ingest and search paths.
type Pipeline struct {
	store    *store.Store
	index    *index.Index
	embedder embedding.Embedder
	log      *slog.Logger
	metrics  *observability.Metrics
	opts     Options

	jobs     chan indexJob
	wg       sync.WaitGroup
	closeMu  sync.RWMutex
	closed   bool
	retrying atomic.Bool
}

// New starts the pipeline's workers. Call Close to drain them.
func New(st *store.Store, ix *index.Index, emb embedding.Embedder, log *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	opts.withDefaults()
	p := &Pipeline{
		store:    st,
		index:    ix,
		embedder: emb,
		log:      log,
		metrics:  metrics,
		opts:     opts,
		jobs:     make(chan indexJob, opts.QueueSize),
	}
	for i := 0; i < opts.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Close stops accepting index jobs and waits for the workers to drain
// the queue.
func (p *Pipeline) Close() {
	p.closeMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.closeMu.Unlock()
	p.wg.Wait()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.metrics.IndexQueueDepth.Set(float64(len(p.jobs)))
		p.indexChunk(job)
	}
}

// IngestDocument chunks text, persists the document, and queues the
// chunks for indexing. Byte-identical re-ingest returns the existing
// document with store.ErrAlreadyIngested.
func (p *Pipeline) IngestDocument(ctx context.Context, origin, text string) (model.Document, error) {
	spans := chunker.Chunk(text, p.opts.Chunking)
	if len(spans) == 0 {
		return model.Document{}, fmt.Errorf("pipeline: nothing to ingest from %q", origin)
	}

	doc, chunks, err := p.store.InsertDocument(ctx, origin, text, spans)
	if err != nil {
		return doc, err
	}
	p.metrics.DocumentsIngested.Inc()
	p.log.Debug("document ingested", "id", doc.ID, "origin", origin, "chunks", len(chunks))

	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			// Already persisted; the rest will be picked up by retry.
			p.log.Warn("ingest canceled mid-enqueue", "document", doc.ID, "queued", i)
			return doc, nil
		}
		p.enqueue(indexJob{chunk: c, embedText: spans[i].EmbedText})
	}
	return doc, nil
}

// IngestTurn chunks a recorded turn's content and queues it for
// indexing. The turn itself is already durable when this runs.
func (p *Pipeline) IngestTurn(ctx context.Context, turn model.Turn) error {
	spans := chunker.Chunk(turn.Content, p.opts.Chunking)
	if len(spans) == 0 {
		return nil
	}
	chunks, err := p.store.InsertTurnChunks(ctx, turn.ID, spans)
	if err != nil {
		return err
	}
	for i, c := range chunks {
		p.enqueue(indexJob{chunk: c, embedText: spans[i].EmbedText})
	}
	return nil
}

// enqueue hands a job to the workers, falling back to indexing inline
// when the queue is full or the pipeline is closed, so chunks are
// never dropped.
func (p *Pipeline) enqueue(job indexJob) {
	if !p.trySubmit(job) {
		p.indexChunk(job)
	}
}

// trySubmit sends under the close lock; the jobs channel is only
// closed while the write lock is held, so the send cannot race it.
func (p *Pipeline) trySubmit(job indexJob) bool {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.jobs <- job:
		p.metrics.IndexQueueDepth.Set(float64(len(p.jobs)))
		return true
	default:
		return false
	}
}

// indexChunk embeds one chunk and writes it to the semantic index.
// Failures are logged and absorbed; the chunk stays unindexed in the
// store and is retried later.
func (p *Pipeline) indexChunk(job indexJob) bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.EmbedTimeout)
	defer cancel()

	text := job.embedText
	if text == "" {
		text = job.chunk.Text
	}

	start := time.Now()
	vec, err := p.embedder.Embed(ctx, text)
	p.metrics.ObserveEmbedLatency(time.Since(start))
	if err != nil {
		p.metrics.IndexFailures.Inc()
		p.log.Warn("embed failed, chunk deferred", "chunk", job.chunk.ID, "error", err)
		return false
	}

	err = p.index.Upsert(ctx, index.Entry{
		ChunkID: job.chunk.ID,
		TurnID:  job.chunk.TurnID,
		Text:    job.chunk.Text,
		Vector:  vec,
	})
	if err != nil {
		p.metrics.IndexFailures.Inc()
		p.log.Warn("index write failed, chunk deferred", "chunk", job.chunk.ID, "error", err)
		return false
	}

	if err := p.store.MarkIndexed(ctx, job.chunk.ID); err != nil {
		p.log.Warn("mark indexed failed", "chunk", job.chunk.ID, "error", err)
		return false
	}
	p.metrics.ChunksIndexed.Inc()
	return true
}

// IndexCount reports how many chunks the semantic index holds.
func (p *Pipeline) IndexCount() int {
	return p.index.Count()
}

// RetryUnindexed synchronously indexes chunks that previous attempts
// left behind. It returns the number of chunks that reached the index.
func (p *Pipeline) RetryUnindexed(ctx context.Context, limit int) (int, error) {
	chunks, err := p.store.UnindexedChunks(ctx, limit)
	if err != nil {
		return 0, err
	}
	indexed := 0
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		if p.indexChunk(indexJob{chunk: c}) {
			indexed++
		}
	}
	return indexed, nil
}

// RebuildIndex drops the semantic index and re-embeds every chunk from
// the durable store.
func (p *Pipeline) RebuildIndex(ctx context.Context) (int, error) {
	if err := p.index.Reset(ctx); err != nil {
		return 0, err
	}
	total := 0
	err := p.store.AllChunks(ctx, 0, func(chunks []model.Chunk) error {
		for _, c := range chunks {
			if err := ctx.Err(); err != nil {
				return err
			}
			vec, err := p.embedder.Embed(ctx, c.Text)
			if err != nil {
				return fmt.Errorf("pipeline: rebuild embed %s: %w", c.ID, err)
			}
			if err := p.index.Upsert(ctx, index.Entry{
				ChunkID: c.ID, TurnID: c.TurnID, Text: c.Text, Vector: vec,
			}); err != nil {
				return err
			}
			if err := p.store.MarkIndexed(ctx, c.ID); err != nil {
				return err
			}
			total++
		}
		return nil
	})
	return total, err
}

// Search runs the hybrid retrieval path. It returns ranked results and
// reports degraded=true when the semantic layer was unavailable and
// only lexical matches are included.
func (p *Pipeline) Search(ctx context.Context, query string, k int) ([]model.SearchResult, bool, error) {
	if k <= 0 {
		return nil, false, nil
	}
	start := time.Now()
	defer func() { p.metrics.ObserveSearchLatency(time.Since(start)) }()

	semantic, semErr := p.searchSemantic(ctx, query, k)
	lexical, lexErr := p.store.SearchLexical(ctx, query, k)

	if semErr != nil && lexErr != nil {
		return nil, false, fmt.Errorf("pipeline: search: %w", errors.Join(semErr, lexErr))
	}

	degraded := semErr != nil
	if degraded {
		p.log.Warn("semantic layer unavailable, lexical-only results", "error", semErr)
		p.metrics.Searches.WithLabelValues("degraded").Inc()
	} else {
		p.metrics.Searches.WithLabelValues("hybrid").Inc()
		if lexErr != nil {
			p.log.Warn("lexical search failed, semantic-only results", "error", lexErr)
		}
	}

	p.kickRetry()
	return mergeResults(semantic, lexical, k), degraded, nil
}

func (p *Pipeline) searchSemantic(ctx context.Context, query string, k int) ([]model.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.EmbedTimeout)
	defer cancel()

	start := time.Now()
	vec, err := p.embedder.Embed(ctx, query)
	p.metrics.ObserveEmbedLatency(time.Since(start))
	if err != nil {
		return nil, err
	}
	return p.index.Query(ctx, vec, k)
}

// kickRetry opportunistically reindexes deferred chunks in the
// background. At most one retry sweep runs at a time.
func (p *Pipeline) kickRetry() {
	if !p.retrying.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer p.retrying.Store(false)
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := p.RetryUnindexed(ctx, 50)
		if err != nil {
			p.log.Debug("background reindex sweep failed", "error", err)
			return
		}
		if n > 0 {
			p.log.Debug("background reindex sweep", "indexed", n)
		}
	}()
}

// mergeResults combines the two layers. A turn can surface twice, as
// its derived chunk and as the turn row itself, so dedup covers both
// the result identity and the originating turn. The semantic score is
// authoritative on a collision, and semantic results sort ahead of
// lexical ones at equal score. Each layer arrives best-first, so the
// first entry kept for a turn is its highest-scoring one.
func mergeResults(semantic, lexical []model.SearchResult, k int) []model.SearchResult {
	merged := make([]model.SearchResult, 0, len(semantic)+len(lexical))
	seen := make(map[string]bool, len(semantic))
	seenTurn := make(map[string]bool, len(semantic))

	add := func(r model.SearchResult) {
		if seen[r.Identity()] || (r.TurnID != "" && seenTurn[r.TurnID]) {
			return
		}
		seen[r.Identity()] = true
		if r.TurnID != "" {
			seenTurn[r.TurnID] = true
		}
		merged = append(merged, r)
	}
	for _, r := range semantic {
		add(r)
	}
	for _, r := range lexical {
		add(r)
	}

	sortResults(merged)
	if len(merged) > k {
		merged = merged[:k]
	}
	return merged
}

func sortResults(results []model.SearchResult) {
	layerRank := func(l model.SearchLayer) int {
		switch l {
		case model.LayerBuffer:
			return 0
		case model.LayerSemantic:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if la, lb := layerRank(a.Layer), layerRank(b.Layer); la != lb {
			return la < lb
		}
		return a.Identity() > b.Identity()
	})
}
