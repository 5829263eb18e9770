package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/734ai/neuroforge/internal/types"
)

const createdAtKey = "created_at"

// ChromemStore implements Store on chromem-go, a pure Go embedded vector
// database. With a persist path it survives restarts; without one it is
// memory-only and rebuilt from scratch each run.
type ChromemStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	closed     bool
}

// ChromemConfig configures the embedded vector index.
type ChromemConfig struct {
	// PersistPath is the on-disk index directory. Empty means memory-only.
	PersistPath string `yaml:"persist_path"`
	// Collection names the record collection.
	Collection string `yaml:"collection"`
}

// DefaultChromemConfig returns a memory-only index configuration.
func DefaultChromemConfig() ChromemConfig {
	return ChromemConfig{Collection: "records"}
}

// NewChromemStore creates the embedded vector index.
func NewChromemStore(cfg ChromemConfig) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
		if err != nil {
			return nil, WrapUnavailable("failed to open persistent vector index", err)
		}
	} else {
		db = chromem.NewDB()
	}

	name := cfg.Collection
	if name == "" {
		name = "records"
	}

	// Embeddings are computed upstream, so no embedding function is
	// registered; the default cosine distance applies.
	collection, err := db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, WrapUnavailable("failed to create vector collection", err)
	}

	return &ChromemStore{db: db, collection: collection}, nil
}

// Index adds or refreshes a record embedding. Indexing failures are
// reported as unavailable so callers degrade instead of failing writes.
func (s *ChromemStore) Index(ctx context.Context, id types.ID, content string, embedding []float32, createdAt time.Time) error {
	if err := id.Validate(); err != nil {
		return types.WrapError(types.VALIDATION_FAILED, "vector index id invalid", err)
	}
	if len(embedding) == 0 {
		return types.NewError(types.VALIDATION_FAILED, "embedding cannot be empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Unavailable("vector index is closed")
	}

	doc := chromem.Document{
		ID:        id.String(),
		Content:   content,
		Embedding: embedding,
		Metadata: map[string]string{
			createdAtKey: createdAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return WrapUnavailable("failed to index embedding", err)
	}
	return nil
}

// Search returns up to k matches by descending cosine similarity, most
// recent first among equal scores.
func (s *ChromemStore) Search(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	if len(embedding) == 0 {
		return nil, types.NewError(types.VALIDATION_FAILED, "query embedding cannot be empty")
	}
	if k <= 0 {
		return nil, types.NewError(types.VALIDATION_FAILED, "k must be positive")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, Unavailable("vector index is closed")
	}

	count := s.collection.Count()
	if count == 0 {
		return nil, Unavailable("vector index is empty")
	}
	if k > count {
		k = count
	}

	results, err := s.collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, WrapUnavailable("vector query failed", err)
	}

	matches := make([]Match, 0, len(results))
	for _, result := range results {
		id, err := types.ParseID(result.ID)
		if err != nil {
			continue
		}
		createdAt, _ := time.Parse(time.RFC3339Nano, result.Metadata[createdAtKey])
		matches = append(matches, Match{
			ID:        id,
			Score:     float64(result.Similarity),
			CreatedAt: createdAt,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return matches, nil
}

// Delete removes a record embedding from the index.
func (s *ChromemStore) Delete(ctx context.Context, id types.ID) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Unavailable("vector index is closed")
	}

	if err := s.collection.Delete(ctx, nil, nil, id.String()); err != nil {
		return WrapUnavailable("failed to delete embedding", err)
	}
	return nil
}

// Count returns the number of indexed embeddings.
func (s *ChromemStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.collection.Count()
}

// Health reports degraded while the index is empty, since search falls
// back to lexical matching in that state.
func (s *ChromemStore) Health(ctx context.Context) types.HealthStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return types.Unhealthy("vector index is closed")
	}
	count := s.collection.Count()
	if count == 0 {
		return types.Degraded("vector index is empty, lexical fallback active")
	}
	return types.Healthy(fmt.Sprintf("%d embeddings indexed", count))
}

// Close marks the index unusable. Subsequent searches report unavailable.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
