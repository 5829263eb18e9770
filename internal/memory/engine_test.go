package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/734ai/neuroforge/internal/database"
	"github.com/734ai/neuroforge/internal/memory/embedder"
	"github.com/734ai/neuroforge/internal/memory/vector"
	"github.com/734ai/neuroforge/internal/types"
)

func newTestEngine(t *testing.T, semantic bool) *Engine {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	var (
		vec vector.Store
		emb embedder.Embedder
	)
	if semantic {
		vec, err = vector.NewChromemStore(vector.DefaultChromemConfig())
		require.NoError(t, err)
		emb = embedder.NewMockEmbedder(64)
	}

	e := NewEngine(DefaultEngineConfig(), NewStore(db, nil), vec, emb, nil)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestEngineStoreThenGetImmediately(t *testing.T) {
	e := newTestEngine(t, false)
	ctx := context.Background()

	record, done, err := e.StoreNew(ctx, types.NewID(),
		json.RawMessage(`{"note":"written just now"}`), []string{"fresh"})
	require.NoError(t, err)

	// Readable through the buffer before the durable write confirms.
	got, err := e.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)

	require.NoError(t, <-done)

	// Still readable once served from durable storage only.
	e.buffer.Remove(record.ID)
	got, err = e.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.JSONEq(t, string(record.Content), string(got.Content))
}

func TestEngineStoreDuplicateIDFails(t *testing.T) {
	e := newTestEngine(t, false)
	ctx := context.Background()

	record := NewRecord(types.NewID(), json.RawMessage(`{"v":1}`), nil)
	require.NoError(t, e.StoreSync(ctx, record))

	dup := record.Clone()
	dup.Content = json.RawMessage(`{"v":2}`)
	err := e.StoreSync(ctx, dup)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.RECORD_CONFLICT))

	// The original record is untouched and the failed duplicate did not
	// replace the buffered copy.
	got, err := e.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got.Content))
}

func TestEngineGetNotFound(t *testing.T) {
	e := newTestEngine(t, false)

	_, err := e.Get(context.Background(), types.NewID())
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.RECORD_NOT_FOUND))
}

func TestEngineStoreThenSearchSemantic(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	record, done, err := e.StoreNew(ctx, types.NewID(),
		json.RawMessage(`{"note":"debugging the websocket reconnect loop"}`),
		[]string{"websocket"})
	require.NoError(t, err)
	require.NoError(t, <-done)

	// The deterministic embedder maps identical text to identical
	// vectors, so searching with the record's own text must rank it first.
	results, err := e.Search(ctx, embeddingText(record), 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, record.ID, results[0].Record.ID)
	assert.True(t, results[0].Semantic)
	assert.Greater(t, results[0].Score, 0.9)
}

func TestEngineSearchFallsBackWhenVectorEmpty(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	// Write directly to durable storage so nothing reaches the vector
	// index; the first search then hits an empty index.
	record := NewRecord(types.NewID(),
		json.RawMessage(`{"note":"migrate the billing schema"}`), []string{"billing"})
	require.NoError(t, e.store.Append(ctx, record))

	results, err := e.Search(ctx, "billing", 5)
	require.NoError(t, err, "vector unavailability must not escape search")
	require.Len(t, results, 1)
	assert.Equal(t, record.ID, results[0].Record.ID)
	assert.False(t, results[0].Semantic)
}

func TestEngineSearchFallsBackWhenVectorErrors(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "vecfail.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	vec := vector.NewMockStore()
	vec.SearchErr = fmt.Errorf("index file corrupted")

	e := NewEngine(DefaultEngineConfig(), NewStore(db, nil), vec, embedder.NewMockEmbedder(64), nil)
	t.Cleanup(func() { e.Close() })
	ctx := context.Background()

	record, done, err := e.StoreNew(ctx, types.NewID(),
		json.RawMessage(`{"note":"rotate the api credentials"}`), []string{"security"})
	require.NoError(t, err)
	require.NoError(t, <-done)

	// Any index failure degrades to lexical search; the caller never sees
	// the vector error.
	results, err := e.Search(ctx, "credentials", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, record.ID, results[0].Record.ID)
	assert.False(t, results[0].Semantic)
}

func TestEngineSearchFallsBackWithoutVectorStore(t *testing.T) {
	e := newTestEngine(t, false)
	ctx := context.Background()

	record, done, err := e.StoreNew(ctx, types.NewID(),
		json.RawMessage(`{"note":"tune the query planner"}`), nil)
	require.NoError(t, err)
	require.NoError(t, <-done)

	results, err := e.Search(ctx, "planner", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, record.ID, results[0].Record.ID)
}

func TestEngineSearchValidation(t *testing.T) {
	e := newTestEngine(t, false)
	ctx := context.Background()

	_, err := e.Search(ctx, "", 5)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.VALIDATION_FAILED))

	_, err = e.Search(ctx, "ok", 0)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.VALIDATION_FAILED))
}

func TestEngineSearchTaskHistory(t *testing.T) {
	e := newTestEngine(t, false)
	ctx := context.Background()
	session := types.NewID()

	archived := NewRecord(session,
		json.RawMessage(`{"capability":"compile","status":"completed"}`),
		[]string{TagTaskHistory})
	plain := NewRecord(session,
		json.RawMessage(`{"note":"compile warnings cleanup"}`), nil)
	require.NoError(t, e.StoreSync(ctx, archived))
	require.NoError(t, e.StoreSync(ctx, plain))

	results, err := e.SearchTaskHistory(ctx, "compile", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, archived.ID, results[0].Record.ID)

	results, err = e.SearchTaskHistory(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, archived.ID, results[0].Record.ID)
}

func TestEngineFlushDrainsPendingWrites(t *testing.T) {
	e := newTestEngine(t, false)
	ctx := context.Background()

	var ids []types.ID
	for i := 0; i < 20; i++ {
		record, _, err := e.StoreNew(ctx, types.NewID(),
			json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)), nil)
		require.NoError(t, err)
		ids = append(ids, record.ID)
	}

	e.Flush()

	count, err := e.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(20), count)

	for _, id := range ids {
		_, err := e.store.Get(ctx, id)
		assert.NoError(t, err)
	}
}

func TestEngineStoreAfterCloseFails(t *testing.T) {
	e := newTestEngine(t, false)
	require.NoError(t, e.Close())

	_, err := e.Store(context.Background(),
		NewRecord(types.NewID(), json.RawMessage(`{}`), nil))
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.STORE_IO_FAILED))
}

func TestEngineCloseIsIdempotent(t *testing.T) {
	e := newTestEngine(t, false)
	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
}

func TestEngineStats(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	require.NoError(t, e.StoreSync(ctx,
		NewRecord(types.NewID(), json.RawMessage(`{"a":1}`), nil)))

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.DurableRecords)
	assert.Equal(t, 1, stats.VectorIndexed)
	assert.Equal(t, 1, stats.Buffer.Entries)
}

func TestEngineHealth(t *testing.T) {
	e := newTestEngine(t, true)
	ctx := context.Background()

	// Empty vector index degrades but never fails the engine.
	assert.True(t, e.Health(ctx).IsDegraded())

	require.NoError(t, e.StoreSync(ctx,
		NewRecord(types.NewID(), json.RawMessage(`{"a":1}`), nil)))
	assert.True(t, e.Health(ctx).IsHealthy())

	require.NoError(t, e.Close())
	assert.True(t, e.Health(ctx).IsUnhealthy())
}

func TestEngineBufferBoundHolds(t *testing.T) {
	cfg := DefaultEngineConfig()
	cfg.MaxBufferBytes = 2048

	db, err := database.Open(filepath.Join(t.TempDir(), "bound.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	e := NewEngine(cfg, NewStore(db, nil), nil, nil, nil)
	t.Cleanup(func() { e.Close() })

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		_, _, err := e.StoreNew(ctx, types.NewID(),
			json.RawMessage(fmt.Sprintf(`{"pad":"%060d"}`, i)), nil)
		require.NoError(t, err)
		assert.LessOrEqual(t, e.buffer.SizeBytes(), int64(2048))
	}
	e.Flush()

	// Everything is durable even though the buffer evicted most records.
	count, err := e.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), count)
	assert.Less(t, e.buffer.Len(), 100)

	// Wait for the writer to settle before asserting timing-free facts.
	time.Sleep(10 * time.Millisecond)
	assert.LessOrEqual(t, e.buffer.SizeBytes(), int64(2048))
}
