// Package vector provides the semantic similarity index over memory
// records. The index is a soft dependency: search callers must treat an
// unavailable index as a signal to fall back to lexical search, never as
// a user-facing failure.
package vector

import (
	"context"
	"time"

	"github.com/734ai/neuroforge/internal/types"
)

// Match is a single similarity search hit.
type Match struct {
	ID        types.ID
	Score     float64
	CreatedAt time.Time
}

// Store indexes record embeddings and serves k-nearest-neighbor queries.
type Store interface {
	// Index adds a record's embedding to the index.
	Index(ctx context.Context, id types.ID, content string, embedding []float32, createdAt time.Time) error

	// Search returns up to k matches ordered by descending similarity.
	// Ties are broken by most recent createdAt. An empty or unreachable
	// index fails with a VECTOR_UNAVAILABLE error.
	Search(ctx context.Context, embedding []float32, k int) ([]Match, error)

	// Delete removes a record's embedding from the index.
	Delete(ctx context.Context, id types.ID) error

	// Count returns the number of indexed embeddings.
	Count() int

	// Health reports whether the index is operational.
	Health(ctx context.Context) types.HealthStatus

	// Close releases index resources.
	Close() error
}

// Unavailable builds the sentinel error consumers test for with
// types.HasCode before falling back to lexical search.
func Unavailable(msg string) error {
	return types.NewError(types.VECTOR_UNAVAILABLE, msg)
}

// WrapUnavailable wraps an underlying index failure as unavailable.
func WrapUnavailable(msg string, cause error) error {
	return types.WrapError(types.VECTOR_UNAVAILABLE, msg, cause)
}

// IsUnavailable reports whether err marks the index as unavailable.
func IsUnavailable(err error) bool {
	return types.HasCode(err, types.VECTOR_UNAVAILABLE)
}
