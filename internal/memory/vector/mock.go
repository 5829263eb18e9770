package vector

import (
	"context"
	"sync"
	"time"

	"github.com/734ai/neuroforge/internal/types"
)

// MockStore is an in-memory Store for tests. Set SearchErr, IndexErr, or
// Matches to script behavior; the zero value indexes nothing and reports
// an empty index on search.
type MockStore struct {
	mu sync.Mutex

	IndexErr  error
	SearchErr error
	DeleteErr error
	Matches   []Match

	indexed map[types.ID]time.Time
}

// NewMockStore creates an empty mock index.
func NewMockStore() *MockStore {
	return &MockStore{indexed: make(map[types.ID]time.Time)}
}

func (m *MockStore) Index(ctx context.Context, id types.ID, content string, embedding []float32, createdAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IndexErr != nil {
		return m.IndexErr
	}
	if m.indexed == nil {
		m.indexed = make(map[types.ID]time.Time)
	}
	m.indexed[id] = createdAt
	return nil
}

func (m *MockStore) Search(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if len(m.Matches) == 0 {
		return nil, Unavailable("mock index is empty")
	}
	if k > len(m.Matches) {
		k = len(m.Matches)
	}
	out := make([]Match, k)
	copy(out, m.Matches[:k])
	return out, nil
}

func (m *MockStore) Delete(ctx context.Context, id types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.indexed, id)
	return nil
}

func (m *MockStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.indexed)
}

func (m *MockStore) Health(ctx context.Context) types.HealthStatus {
	return types.Healthy("mock index")
}

func (m *MockStore) Close() error {
	return nil
}

var _ Store = (*MockStore)(nil)
