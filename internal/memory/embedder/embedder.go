// Package embedder provides text embedding generation for semantic memory
// search. Embeddings are produced locally; no network access is required.
package embedder

import (
	"context"

	"github.com/734ai/neuroforge/internal/types"
)

// Embedder generates fixed-dimension vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int

	// Model returns the embedding model identifier.
	Model() string

	// Health reports whether the embedder is operational.
	Health(ctx context.Context) types.HealthStatus
}

// Config selects and sizes the embedding provider.
type Config struct {
	Provider   string `yaml:"provider" validate:"omitempty,oneof=mock none"`
	Dimensions int    `yaml:"dimensions" validate:"omitempty,min=8,max=4096"`
}

// DefaultConfig returns the local deterministic provider.
func DefaultConfig() Config {
	return Config{
		Provider:   "mock",
		Dimensions: DefaultDimensions,
	}
}

// New builds an embedder from configuration. Provider "none" returns nil,
// which disables semantic search and leaves only the lexical fallback.
func New(cfg Config) (Embedder, error) {
	dims := cfg.Dimensions
	if dims == 0 {
		dims = DefaultDimensions
	}

	switch cfg.Provider {
	case "", "mock":
		return NewMockEmbedder(dims), nil
	case "none":
		return nil, nil
	default:
		return nil, types.NewError(types.CONFIG_VALIDATION_FAILED,
			"unknown embedder provider: "+cfg.Provider)
	}
}
