package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestOpenEnablesWAL(t *testing.T) {
	db := openTestDB(t)

	var mode string
	err := db.QueryRowContext(context.Background(), "PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

func TestHealth(t *testing.T) {
	db := openTestDB(t)

	status := db.Health(context.Background())
	assert.True(t, status.IsHealthy())
}

func TestInitSchemaCreatesTables(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InitSchema())

	for _, table := range []string{"records", "record_tags", "sessions"} {
		var name string
		err := db.QueryRowContext(context.Background(),
			"SELECT name FROM sqlite_master WHERE name = ?", table).Scan(&name)
		require.NoError(t, err, "expected table %s to exist", table)
		assert.Equal(t, table, name)
	}
}

// InitSchema must succeed whether or not the linked SQLite carries FTS5;
// the records_fts table exists exactly when FTS is reported enabled.
func TestInitSchemaWorksWithoutFTS5(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InitSchema())

	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE name = 'records_fts'").Scan(&count)
	require.NoError(t, err)
	if db.FTSEnabled() {
		assert.Equal(t, 1, count)
	} else {
		assert.Equal(t, 0, count)
	}
}

func TestInitSchemaIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.InitSchema())
	require.NoError(t, db.InitSchema())

	version, err := NewMigrator(db).CurrentVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestGetAppliedMigrations(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InitSchema())

	infos, err := NewMigrator(db).GetAppliedMigrations(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "initial_schema", infos[0].Name)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.InitSchema())

	ctx := context.Background()
	err := db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO sessions (id, workspace_root, started_at) VALUES ('s1', '/tmp/w', CURRENT_TIMESTAMP)")
		require.NoError(t, err)
		return assert.AnError
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions").Scan(&count))
	assert.Equal(t, 0, count)
}
