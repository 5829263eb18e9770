package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/734ai/neuroforge/internal/types"
)

// DefaultDimensions is the vector size used when none is configured.
const DefaultDimensions = 384

// MockEmbedder generates deterministic embeddings derived from a SHA-256
// hash of the input text. Identical text always yields an identical,
// unit-normalized vector, which makes semantic search reproducible in
// tests and offline environments.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder creates a deterministic embedder with the given vector size.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed generates a deterministic embedding for the text.
func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, types.NewError(types.VALIDATION_FAILED, "cannot embed empty text")
	}

	// Stretch the 32-byte digest across the vector by re-hashing with a
	// block counter, then map each 4-byte window to [-1, 1].
	seed := sha256.Sum256([]byte(text))
	embedding := make([]float32, m.dimensions)

	var block [36]byte
	copy(block[:32], seed[:])
	digest := seed

	for i := 0; i < m.dimensions; i++ {
		pos := (i * 4) % sha256.Size
		if i > 0 && pos == 0 {
			binary.BigEndian.PutUint32(block[32:], uint32(i/8))
			digest = sha256.Sum256(block[:])
		}
		v := binary.BigEndian.Uint32(digest[pos : pos+4])
		embedding[i] = float32(v)/float32(math.MaxUint32)*2 - 1
	}

	normalize(embedding)
	return embedding, nil
}

// Dimensions returns the embedding vector size.
func (m *MockEmbedder) Dimensions() int {
	return m.dimensions
}

// Model returns the embedding model identifier.
func (m *MockEmbedder) Model() string {
	return "mock-sha256"
}

// Health always reports healthy; the mock has no external dependency.
func (m *MockEmbedder) Health(ctx context.Context) types.HealthStatus {
	return types.Healthy("mock embedder operational")
}

// normalize scales the vector to unit length so dot products behave as
// cosine similarity.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}
