package memory

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/734ai/neuroforge/internal/database"
	"github.com/734ai/neuroforge/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })

	return NewStore(db, nil)
}

func TestStoreAppendGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := NewRecord(types.NewID(),
		json.RawMessage(`{"note":"refactored the session tracker"}`),
		[]string{"Refactor", "session", "refactor"})
	record.Supersedes = types.NewID()

	require.NoError(t, store.Append(ctx, record))

	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)

	assert.Equal(t, record.ID, got.ID)
	assert.JSONEq(t, string(record.Content), string(got.Content))
	assert.Equal(t, []string{"refactor", "session"}, got.Tags)
	assert.Equal(t, record.SessionID, got.SessionID)
	assert.Equal(t, record.Supersedes, got.Supersedes)
	assert.True(t, record.Timestamp.Equal(got.Timestamp))
}

func TestStoreAppendDuplicateIDConflicts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := NewRecord(types.NewID(), json.RawMessage(`{"v":1}`), nil)
	require.NoError(t, store.Append(ctx, record))

	dup := record.Clone()
	dup.Content = json.RawMessage(`{"v":2}`)
	err := store.Append(ctx, dup)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.RECORD_CONFLICT))
	assert.False(t, types.IsRetryable(err))

	// The stored record is untouched by the failed append.
	got, err := store.Get(ctx, record.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got.Content))
}

func TestStoreGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), types.NewID())
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.RECORD_NOT_FOUND))
}

func TestStoreAppendRejectsInvalidRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := NewRecord(types.NewID(), json.RawMessage(`not json`), nil)
	err := store.Append(ctx, record)
	require.Error(t, err)
	assert.True(t, types.HasCode(err, types.VALIDATION_FAILED))
}

func TestStoreQueryFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := types.NewID()
	base := time.Now().UTC().Add(-time.Hour)

	mk := func(offset time.Duration, tags ...string) *Record {
		record := NewRecord(session, json.RawMessage(`{"n":"x"}`), tags)
		record.Timestamp = base.Add(offset)
		require.NoError(t, store.Append(ctx, record))
		return record
	}

	early := mk(0, "alpha")
	mid := mk(10*time.Minute, "alpha", "beta")
	late := mk(20*time.Minute, "beta")

	other := NewRecord(types.NewID(), json.RawMessage(`{"n":"other"}`), []string{"alpha"})
	require.NoError(t, store.Append(ctx, other))

	t.Run("by session ascending", func(t *testing.T) {
		got, err := store.Query(ctx, Filter{SessionID: session})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, early.ID, got[0].ID)
		assert.Equal(t, mid.ID, got[1].ID)
		assert.Equal(t, late.ID, got[2].ID)
	})

	t.Run("tag any", func(t *testing.T) {
		got, err := store.Query(ctx, Filter{Tags: []string{"beta"}, SessionID: session})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, mid.ID, got[0].ID)
		assert.Equal(t, late.ID, got[1].ID)
	})

	t.Run("tag all", func(t *testing.T) {
		got, err := store.Query(ctx, Filter{
			Tags:    []string{"alpha", "beta"},
			TagMode: TagModeAll,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, mid.ID, got[0].ID)
	})

	t.Run("time window", func(t *testing.T) {
		got, err := store.Query(ctx, Filter{
			Since:     base.Add(5 * time.Minute),
			Until:     base.Add(15 * time.Minute),
			SessionID: session,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, mid.ID, got[0].ID)
	})

	t.Run("limit", func(t *testing.T) {
		got, err := store.Query(ctx, Filter{SessionID: session, Limit: 2})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("invalid filter", func(t *testing.T) {
		_, err := store.Query(ctx, Filter{Limit: -1})
		require.Error(t, err)
		assert.True(t, types.HasCode(err, types.VALIDATION_FAILED))
	})
}

func TestStoreKeywordSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := types.NewID()

	content := NewRecord(session,
		json.RawMessage(`{"note":"fixed the database deadlock"}`), []string{"bugfix"})
	tagged := NewRecord(session,
		json.RawMessage(`{"note":"unrelated text"}`), []string{"deadlock"})
	noise := NewRecord(session,
		json.RawMessage(`{"note":"lunch plans"}`), []string{"personal"})

	for _, record := range []*Record{content, tagged, noise} {
		require.NoError(t, store.Append(ctx, record))
	}

	got, err := store.KeywordSearch(ctx, "deadlock", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	ids := []types.ID{got[0].ID, got[1].ID}
	assert.Contains(t, ids, content.ID, "content match expected")
	assert.Contains(t, ids, tagged.ID, "tag match expected")

	got, err = store.KeywordSearch(ctx, "nothing-matches-this", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStoreKeywordSearchTreatsOperatorsAsText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := NewRecord(types.NewID(), json.RawMessage(`{"note":"plain text"}`), nil)
	require.NoError(t, store.Append(ctx, record))

	// Operators and quotes in user queries must never reach the engine as
	// query syntax, on either the FTS or the LIKE path.
	for _, query := range []string{`NEAR(x y)`, `"unbalanced`, `a AND OR NOT`, `col:val`} {
		_, err := store.KeywordSearch(ctx, query, 5)
		assert.NoError(t, err, "query %q should not be interpreted as search syntax", query)
	}
}

func TestLikeSearchQueryContentAndTagUnion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	session := types.NewID()

	content := NewRecord(session, json.RawMessage(`{"note":"tuned the eviction policy"}`), nil)
	tagged := NewRecord(session, json.RawMessage(`{"note":"unrelated"}`), []string{"eviction"})
	require.NoError(t, store.Append(ctx, content))
	require.NoError(t, store.Append(ctx, tagged))

	querySQL, args := likeSearchQuery([]string{"eviction"}, 10)
	rows, err := store.db.QueryContext(ctx, querySQL, args...)
	require.NoError(t, err)
	defer rows.Close()

	got, err := store.scanRecords(ctx, rows)
	require.NoError(t, err)
	require.Len(t, got, 2, "content substring and tag matches both expected")
}

func TestLikeSearchQueryEscapesWildcards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pct := NewRecord(types.NewID(), json.RawMessage(`{"note":"migration 100% complete"}`), nil)
	other := NewRecord(types.NewID(), json.RawMessage(`{"note":"migration started"}`), nil)
	require.NoError(t, store.Append(ctx, pct))
	require.NoError(t, store.Append(ctx, other))

	// "%" and "_" in a term must match the literal characters, not act as
	// wildcards that match every record.
	querySQL, args := likeSearchQuery([]string{"100%"}, 10)
	rows, err := store.db.QueryContext(ctx, querySQL, args...)
	require.NoError(t, err)
	defer rows.Close()

	got, err := store.scanRecords(ctx, rows)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, pct.ID, got[0].ID)
}

func TestStoreCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	require.NoError(t, store.Append(ctx, NewRecord(types.NewID(), json.RawMessage(`{}`), nil)))

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
