package embedder

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/734ai/neuroforge/internal/types"
)

func TestMockEmbedderDeterministic(t *testing.T) {
	m := NewMockEmbedder(128)
	ctx := context.Background()

	a, err := m.Embed(ctx, "fix the flaky session test")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "fix the flaky session test")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
}

func TestMockEmbedderDistinctInputs(t *testing.T) {
	m := NewMockEmbedder(64)
	ctx := context.Background()

	a, err := m.Embed(ctx, "first text")
	require.NoError(t, err)
	b, err := m.Embed(ctx, "second text")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestMockEmbedderUnitNorm(t *testing.T) {
	m := NewMockEmbedder(256)

	v, err := m.Embed(context.Background(), "normalize me")
	require.NoError(t, err)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-4)
}

func TestMockEmbedderEmptyText(t *testing.T) {
	m := NewMockEmbedder(0)

	_, err := m.Embed(context.Background(), "")
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.VALIDATION_FAILED))
	assert.Equal(t, DefaultDimensions, m.Dimensions())
}

func TestNewFactory(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		wantNil  bool
		wantErr  bool
		wantDims int
	}{
		{name: "default mock", cfg: Config{}, wantDims: DefaultDimensions},
		{name: "sized mock", cfg: Config{Provider: "mock", Dimensions: 96}, wantDims: 96},
		{name: "disabled", cfg: Config{Provider: "none"}, wantNil: true},
		{name: "unknown provider", cfg: Config{Provider: "openai"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, e)
				return
			}
			require.NotNil(t, e)
			assert.Equal(t, tt.wantDims, e.Dimensions())
		})
	}
}
