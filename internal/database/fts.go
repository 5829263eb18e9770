package database

import (
	"context"
	"fmt"
)

// SetupFTS creates the FTS5 virtual table that shadows records content
// for keyword search, plus triggers that keep it in sync. Records are
// immutable so no update trigger is needed.
//
// FTS5 is a compile-time SQLite option: mattn/go-sqlite3 only includes it
// when built with the sqlite_fts5 tag. SetupFTS reports whether FTS is
// available; when it is not, this is not an error and callers fall back
// to LIKE-based matching.
func (db *DB) SetupFTS(ctx context.Context) (bool, error) {
	if !db.hasFTS5(ctx) {
		return false, nil
	}

	createFTSQuery := `
	CREATE VIRTUAL TABLE IF NOT EXISTS records_fts USING fts5(
		content,
		content=records,
		content_rowid=rowid
	)`

	if _, err := db.conn.ExecContext(ctx, createFTSQuery); err != nil {
		return false, fmt.Errorf("failed to create FTS table: %w", err)
	}

	if err := db.createFTSTriggers(ctx); err != nil {
		return false, fmt.Errorf("failed to create FTS triggers: %w", err)
	}

	// Backfill from the records table, covering databases created by a
	// binary that lacked FTS5.
	if _, err := db.conn.ExecContext(ctx,
		"INSERT INTO records_fts(records_fts) VALUES('rebuild')"); err != nil {
		return false, fmt.Errorf("failed to rebuild FTS index: %w", err)
	}

	db.ftsEnabled.Store(true)
	return true, nil
}

// FTSEnabled reports whether SetupFTS found FTS5 support and created the
// records_fts table.
func (db *DB) FTSEnabled() bool {
	return db.ftsEnabled.Load()
}

// hasFTS5 checks whether the linked SQLite was compiled with FTS5 by
// creating a throwaway virtual table in the temp schema.
func (db *DB) hasFTS5(ctx context.Context) bool {
	if _, err := db.conn.ExecContext(ctx,
		"CREATE VIRTUAL TABLE temp.fts5_support_check USING fts5(content)"); err != nil {
		return false
	}
	_, _ = db.conn.ExecContext(ctx, "DROP TABLE temp.fts5_support_check")
	return true
}

// createFTSTriggers keeps the FTS index in sync with the records table.
func (db *DB) createFTSTriggers(ctx context.Context) error {
	insertTrigger := `
	CREATE TRIGGER IF NOT EXISTS records_fts_insert
	AFTER INSERT ON records
	BEGIN
		INSERT INTO records_fts(rowid, content)
		VALUES (new.rowid, new.content);
	END`

	if _, err := db.conn.ExecContext(ctx, insertTrigger); err != nil {
		return fmt.Errorf("failed to create insert trigger: %w", err)
	}

	deleteTrigger := `
	CREATE TRIGGER IF NOT EXISTS records_fts_delete
	AFTER DELETE ON records
	BEGIN
		INSERT INTO records_fts(records_fts, rowid, content)
		VALUES('delete', old.rowid, old.content);
	END`

	if _, err := db.conn.ExecContext(ctx, deleteTrigger); err != nil {
		return fmt.Errorf("failed to create delete trigger: %w", err)
	}

	return nil
}
