package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/734ai/neuroforge/internal/memory/embedder"
	"github.com/734ai/neuroforge/internal/memory/vector"
	"github.com/734ai/neuroforge/internal/types"
)

// SearchResult pairs a record with its search relevance.
type SearchResult struct {
	Record *Record `json:"record"`
	// Score is the similarity score for semantic hits, 0 for lexical hits.
	Score float64 `json:"score"`
	// Semantic reports whether the hit came from the vector index.
	Semantic bool `json:"semantic"`
}

// EngineConfig sizes the memory engine.
type EngineConfig struct {
	// MaxBufferBytes is the fast buffer byte budget.
	MaxBufferBytes int64
	// WriteQueueSize bounds the async durable write queue.
	WriteQueueSize int
	// WriteRetryAttempts bounds durable write retries on I/O failure.
	WriteRetryAttempts int
	// WriteRetryBackoff is the initial retry delay, doubled per attempt.
	WriteRetryBackoff time.Duration
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxBufferBytes:     8 * 1024 * 1024,
		WriteQueueSize:     256,
		WriteRetryAttempts: 3,
		WriteRetryBackoff:  50 * time.Millisecond,
	}
}

type writeRequest struct {
	record *Record
	done   chan error
}

// Engine is the hybrid memory facade. Writes go through the fast buffer
// immediately and are persisted asynchronously by a single writer
// goroutine; a record stays pinned in the buffer until its durable write
// lands, so reads after a buffered write always succeed. Search prefers
// the vector index and silently falls back to lexical matching when the
// index is empty or unavailable.
type Engine struct {
	cfg      EngineConfig
	buffer   *Buffer
	store    *Store
	vector   vector.Store      // nil disables semantic search
	embedder embedder.Embedder // nil disables semantic search
	logger   *slog.Logger

	mu      sync.RWMutex
	closed  bool
	writeCh chan writeRequest
	writer  sync.WaitGroup // writer goroutine lifetime
	pending sync.WaitGroup // in-flight durable writes
}

// NewEngine creates and starts a memory engine. The vector store and
// embedder may be nil, which restricts search to the lexical path.
func NewEngine(cfg EngineConfig, store *Store, vec vector.Store, emb embedder.Embedder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = DefaultEngineConfig().WriteQueueSize
	}
	if cfg.WriteRetryAttempts <= 0 {
		cfg.WriteRetryAttempts = DefaultEngineConfig().WriteRetryAttempts
	}
	if cfg.WriteRetryBackoff <= 0 {
		cfg.WriteRetryBackoff = DefaultEngineConfig().WriteRetryBackoff
	}
	if cfg.MaxBufferBytes <= 0 {
		cfg.MaxBufferBytes = DefaultEngineConfig().MaxBufferBytes
	}

	e := &Engine{
		cfg:      cfg,
		buffer:   NewBuffer(cfg.MaxBufferBytes),
		store:    store,
		vector:   vec,
		embedder: emb,
		logger:   logger.With("component", "memory.engine"),
		writeCh:  make(chan writeRequest, cfg.WriteQueueSize),
	}

	e.writer.Add(1)
	go e.writeLoop()

	return e
}

// Store accepts a record, makes it immediately readable through the fast
// buffer, and queues the durable write. The returned channel receives the
// durable write outcome exactly once; callers that need persistence
// certainty wait on it, others may drop it.
func (e *Engine) Store(ctx context.Context, record *Record) (<-chan error, error) {
	if err := record.Validate(); err != nil {
		return nil, err
	}
	record = record.Clone()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, types.NewError(types.STORE_IO_FAILED, "memory engine is closed")
	}

	// Pinned on insert and until durably written, so eviction cannot
	// open a window where the record is in neither tier.
	e.buffer.PutPinned(record)

	req := writeRequest{record: record, done: make(chan error, 1)}
	e.pending.Add(1)

	select {
	case e.writeCh <- req:
	case <-ctx.Done():
		e.pending.Done()
		e.buffer.Remove(record.ID)
		return nil, types.WrapError(types.STORE_IO_FAILED, "write queue full", ctx.Err())
	}

	return req.done, nil
}

// StoreNew builds a record from parts and stores it.
func (e *Engine) StoreNew(ctx context.Context, sessionID types.ID, content json.RawMessage, tags []string) (*Record, <-chan error, error) {
	record := NewRecord(sessionID, content, tags)
	done, err := e.Store(ctx, record)
	if err != nil {
		return nil, nil, err
	}
	return record, done, nil
}

// StoreSync stores a record and waits for the durable write.
func (e *Engine) StoreSync(ctx context.Context, record *Record) error {
	done, err := e.Store(ctx, record)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get retrieves a record, buffer first. Durable hits repopulate the
// buffer so subsequent reads stay fast.
func (e *Engine) Get(ctx context.Context, id types.ID) (*Record, error) {
	// The buffer already hands out a private copy.
	if record, ok := e.buffer.Get(id); ok {
		return record, nil
	}

	record, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	e.buffer.Put(record)
	return record.Clone(), nil
}

// Query runs a metadata query against durable storage.
func (e *Engine) Query(ctx context.Context, filter Filter) ([]*Record, error) {
	return e.store.Query(ctx, filter)
}

// Search retrieves the k most relevant records for a text query. The
// vector index is preferred; any index failure, including an empty or
// closed index, degrades silently to lexical keyword search.
func (e *Engine) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if query == "" {
		return nil, types.NewError(types.VALIDATION_FAILED, "search query cannot be empty")
	}
	if k <= 0 {
		return nil, types.NewError(types.VALIDATION_FAILED, "search limit must be positive")
	}

	if results, ok := e.semanticSearch(ctx, query, k); ok {
		return results, nil
	}

	records, err := e.store.KeywordSearch(ctx, query, k)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(records))
	for _, record := range records {
		results = append(results, SearchResult{Record: record})
	}
	return results, nil
}

// SearchTaskHistory searches archived task outcomes only.
func (e *Engine) SearchTaskHistory(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if query == "" {
		records, err := e.store.Query(ctx, Filter{Tags: []string{TagTaskHistory}, Limit: k})
		if err != nil {
			return nil, err
		}
		results := make([]SearchResult, 0, len(records))
		for _, record := range records {
			results = append(results, SearchResult{Record: record})
		}
		return results, nil
	}

	all, err := e.Search(ctx, query, k*4)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, k)
	for _, result := range all {
		if result.Record.HasTag(TagTaskHistory) {
			results = append(results, result)
			if len(results) == k {
				break
			}
		}
	}
	return results, nil
}

// Flush blocks until every queued durable write has completed.
func (e *Engine) Flush() {
	e.pending.Wait()
}

// Stats returns engine counters.
func (e *Engine) Stats(ctx context.Context) (EngineStats, error) {
	count, err := e.store.Count(ctx)
	if err != nil {
		return EngineStats{}, err
	}

	stats := EngineStats{
		Buffer:         e.buffer.Stats(),
		DurableRecords: count,
	}
	if e.vector != nil {
		stats.VectorIndexed = e.vector.Count()
	}
	return stats, nil
}

// EngineStats summarizes memory engine state.
type EngineStats struct {
	Buffer         BufferStats `json:"buffer"`
	DurableRecords int64       `json:"durable_records"`
	VectorIndexed  int         `json:"vector_indexed"`
}

// Health aggregates subsystem health. A missing or empty vector index
// only degrades, since lexical search still serves queries.
func (e *Engine) Health(ctx context.Context) types.HealthStatus {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return types.Unhealthy("memory engine is closed")
	}

	if status := e.store.Health(ctx); !status.IsHealthy() {
		return status
	}
	if e.vector != nil {
		if status := e.vector.Health(ctx); status.IsUnhealthy() {
			return types.Degraded("vector index unavailable, lexical fallback active")
		} else if status.IsDegraded() {
			return status
		}
	}
	return types.Healthy("memory engine operational")
}

// Close drains pending writes and stops the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.pending.Wait()
	close(e.writeCh)
	e.writer.Wait()

	if e.vector != nil {
		return e.vector.Close()
	}
	return nil
}

// writeLoop is the single durable writer. Serializing writes preserves
// buffer admission order in the durable store.
func (e *Engine) writeLoop() {
	defer e.writer.Done()

	for req := range e.writeCh {
		err := e.persist(req.record)
		if err != nil {
			// The buffered copy must not outlive a failed durable write.
			e.buffer.Remove(req.record.ID)
			e.logger.Error("durable write failed",
				"record_id", req.record.ID,
				"error", err,
			)
		} else {
			e.buffer.Unpin(req.record.ID)
			e.index(req.record)
		}

		req.done <- err
		close(req.done)
		e.pending.Done()
	}
}

// persist appends with bounded exponential backoff on retryable errors.
func (e *Engine) persist(record *Record) error {
	ctx := context.Background()
	backoff := e.cfg.WriteRetryBackoff

	var err error
	for attempt := 1; attempt <= e.cfg.WriteRetryAttempts; attempt++ {
		err = e.store.Append(ctx, record)
		if err == nil || !types.IsRetryable(err) {
			return err
		}
		e.logger.Warn("retrying durable write",
			"record_id", record.ID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}

// index adds the record to the vector index. Index failures are logged
// and swallowed; the record remains durably stored and lexically
// searchable.
func (e *Engine) index(record *Record) {
	if e.vector == nil || e.embedder == nil {
		return
	}

	ctx := context.Background()
	text := embeddingText(record)
	emb, err := e.embedder.Embed(ctx, text)
	if err != nil {
		e.logger.Warn("embedding failed, record not semantically indexed",
			"record_id", record.ID, "error", err)
		return
	}
	if err := e.vector.Index(ctx, record.ID, text, emb, record.Timestamp); err != nil {
		e.logger.Warn("vector indexing failed, lexical fallback still serves record",
			"record_id", record.ID, "error", err)
	}
}

// semanticSearch attempts the vector path. The boolean reports whether
// the results are usable; false means fall back to lexical search.
func (e *Engine) semanticSearch(ctx context.Context, query string, k int) ([]SearchResult, bool) {
	if e.vector == nil || e.embedder == nil {
		return nil, false
	}

	emb, err := e.embedder.Embed(ctx, query)
	if err != nil {
		e.logger.Warn("query embedding failed, falling back to lexical search", "error", err)
		return nil, false
	}

	matches, err := e.vector.Search(ctx, emb, k)
	if err != nil {
		if vector.IsUnavailable(err) {
			e.logger.Debug("vector index unavailable, falling back to lexical search")
		} else {
			e.logger.Warn("vector search failed, falling back to lexical search", "error", err)
		}
		return nil, false
	}

	results := make([]SearchResult, 0, len(matches))
	for _, match := range matches {
		record, err := e.Get(ctx, match.ID)
		if err != nil {
			// The index can reference records not yet durable or long
			// gone; skip rather than fail the search.
			e.logger.Debug("indexed record not resolvable", "record_id", match.ID)
			continue
		}
		results = append(results, SearchResult{
			Record:   record,
			Score:    match.Score,
			Semantic: true,
		})
	}
	return results, true
}

// embeddingText is the canonical text form indexed for a record.
func embeddingText(record *Record) string {
	if len(record.Tags) == 0 {
		return string(record.Content)
	}
	return fmt.Sprintf("%s\ntags: %v", record.Content, record.Tags)
}
