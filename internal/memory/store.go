package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/734ai/neuroforge/internal/database"
	"github.com/734ai/neuroforge/internal/types"
)

// Store is the append-only durable record store backed by SQLite.
// Records are never updated or deleted through this type; correction
// happens by appending a superseding record.
type Store struct {
	db     *database.DB
	logger *slog.Logger
}

// NewStore creates a record store on an initialized database.
func NewStore(db *database.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		logger: logger.With("component", "memory.store"),
	}
}

// Append persists a record and its tags in one transaction. Appending a
// record whose ID already exists fails with a conflict error and leaves
// the stored record untouched. I/O failures are reported as retryable.
func (s *Store) Append(ctx context.Context, record *Record) error {
	if err := record.Validate(); err != nil {
		return err
	}

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO records (id, content, session_id, supersedes, timestamp)
			 VALUES (?, ?, ?, ?, ?)`,
			record.ID.String(),
			string(record.Content),
			record.SessionID.String(),
			nullableID(record.Supersedes),
			record.Timestamp.UTC(),
		)
		if err != nil {
			return err
		}

		for _, tag := range record.Tags {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO record_tags (record_id, tag) VALUES (?, ?)",
				record.ID.String(), tag,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return types.NewError(types.RECORD_CONFLICT,
			fmt.Sprintf("record %s already exists", record.ID))
	}
	return types.WrapRetryableError(types.STORE_IO_FAILED, "failed to append record", err)
}

// Get retrieves a record by ID, including its tags.
func (s *Store) Get(ctx context.Context, id types.ID) (*Record, error) {
	if err := id.Validate(); err != nil {
		return nil, types.WrapError(types.VALIDATION_FAILED, "record id invalid", err)
	}

	record := &Record{}
	var supersedes sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, content, session_id, supersedes, timestamp FROM records WHERE id = ?",
		id.String(),
	).Scan(&record.ID, (*rawJSON)(&record.Content), &record.SessionID, &supersedes, &record.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewError(types.RECORD_NOT_FOUND, fmt.Sprintf("record %s not found", id))
	}
	if err != nil {
		return nil, types.WrapRetryableError(types.STORE_IO_FAILED, "failed to read record", err)
	}

	if supersedes.Valid {
		record.Supersedes = types.ID(supersedes.String)
	}
	record.Timestamp = record.Timestamp.UTC()

	tags, err := s.loadTags(ctx, record.ID)
	if err != nil {
		return nil, err
	}
	record.Tags = tags

	return record, nil
}

// Query returns records matching the filter, ordered by timestamp
// ascending so callers can replay history in write order.
func (s *Store) Query(ctx context.Context, filter Filter) ([]*Record, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	query, args := buildQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapRetryableError(types.STORE_IO_FAILED, "failed to query records", err)
	}
	defer rows.Close()

	records, err := s.scanRecords(ctx, rows)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// KeywordSearch is the lexical fallback used when semantic search is
// unavailable. It matches query terms against record content and against
// tags by exact term, returning at most k records ordered most recent
// first. Content matching uses the FTS5 index when the linked SQLite has
// it and LIKE substring matching otherwise.
func (s *Store) KeywordSearch(ctx context.Context, query string, k int) ([]*Record, error) {
	terms := tokenize(query)
	if len(terms) == 0 || k <= 0 {
		return nil, nil
	}

	var (
		querySQL string
		args     []interface{}
	)
	if s.db.FTSEnabled() {
		querySQL, args = ftsSearchQuery(terms, k)
	} else {
		querySQL, args = likeSearchQuery(terms, k)
	}

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, types.WrapRetryableError(types.STORE_IO_FAILED, "keyword search failed", err)
	}
	defer rows.Close()

	return s.scanRecords(ctx, rows)
}

// ftsSearchQuery matches terms against the records_fts index.
func ftsSearchQuery(terms []string, k int) (string, []interface{}) {
	// Each term is quoted so user input cannot inject FTS5 query syntax.
	quoted := make([]string, len(terms))
	for i, term := range terms {
		quoted[i] = `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
	}
	match := strings.Join(quoted, " OR ")

	args := make([]interface{}, 0, len(terms)+2)
	args = append(args, match)
	for _, term := range terms {
		args = append(args, term)
	}
	args = append(args, k)

	return fmt.Sprintf(`
		SELECT r.id, r.content, r.session_id, r.supersedes, r.timestamp
		FROM records r
		WHERE r.rowid IN (SELECT rowid FROM records_fts WHERE records_fts MATCH ?)
		   OR r.id IN (SELECT record_id FROM record_tags WHERE tag IN (%s))
		ORDER BY r.timestamp DESC
		LIMIT ?`, tagPlaceholders(len(terms))), args
}

// likeSearchQuery matches each term as a case-insensitive substring of
// the record content. Wildcards inside user terms are escaped so they
// match literally.
func likeSearchQuery(terms []string, k int) (string, []interface{}) {
	likes := make([]string, len(terms))
	args := make([]interface{}, 0, 2*len(terms)+1)
	for i, term := range terms {
		likes[i] = `r.content LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(term)+"%")
	}
	for _, term := range terms {
		args = append(args, term)
	}
	args = append(args, k)

	return fmt.Sprintf(`
		SELECT r.id, r.content, r.session_id, r.supersedes, r.timestamp
		FROM records r
		WHERE (%s)
		   OR r.id IN (SELECT record_id FROM record_tags WHERE tag IN (%s))
		ORDER BY r.timestamp DESC
		LIMIT ?`, strings.Join(likes, " OR "), tagPlaceholders(len(terms))), args
}

func tagPlaceholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func escapeLike(term string) string {
	term = strings.ReplaceAll(term, `\`, `\\`)
	term = strings.ReplaceAll(term, "%", `\%`)
	term = strings.ReplaceAll(term, "_", `\_`)
	return term
}

// Count returns the total number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count)
	if err != nil {
		return 0, types.WrapRetryableError(types.STORE_IO_FAILED, "failed to count records", err)
	}
	return count, nil
}

// Health checks that the records table is reachable.
func (s *Store) Health(ctx context.Context) types.HealthStatus {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&count); err != nil {
		return types.Unhealthy(fmt.Sprintf("record store unreachable: %v", err))
	}
	return types.Healthy(fmt.Sprintf("%d records stored", count))
}

func (s *Store) loadTags(ctx context.Context, id types.ID) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT tag FROM record_tags WHERE record_id = ? ORDER BY tag ASC", id.String())
	if err != nil {
		return nil, types.WrapRetryableError(types.STORE_IO_FAILED, "failed to load tags", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, types.WrapRetryableError(types.STORE_IO_FAILED, "failed to scan tag", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

func (s *Store) scanRecords(ctx context.Context, rows *sql.Rows) ([]*Record, error) {
	var records []*Record
	for rows.Next() {
		record := &Record{}
		var supersedes sql.NullString
		if err := rows.Scan(&record.ID, (*rawJSON)(&record.Content), &record.SessionID,
			&supersedes, &record.Timestamp); err != nil {
			return nil, types.WrapRetryableError(types.STORE_IO_FAILED, "failed to scan record", err)
		}
		if supersedes.Valid {
			record.Supersedes = types.ID(supersedes.String)
		}
		record.Timestamp = record.Timestamp.UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapRetryableError(types.STORE_IO_FAILED, "failed to iterate records", err)
	}

	for _, record := range records {
		tags, err := s.loadTags(ctx, record.ID)
		if err != nil {
			return nil, err
		}
		record.Tags = tags
	}
	return records, nil
}

// buildQuery assembles the filtered SELECT. Tag filtering uses a grouped
// subquery so TagModeAll can require a per-record match count.
func buildQuery(filter Filter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)

	if len(filter.Tags) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filter.Tags)), ", ")
		sub := fmt.Sprintf(
			"r.id IN (SELECT record_id FROM record_tags WHERE tag IN (%s) GROUP BY record_id",
			placeholders)
		for _, tag := range filter.Tags {
			args = append(args, tag)
		}
		if filter.TagMode == TagModeAll {
			sub += " HAVING COUNT(DISTINCT tag) = ?"
			args = append(args, len(filter.Tags))
		}
		where = append(where, sub+")")
	}
	if !filter.Since.IsZero() {
		where = append(where, "r.timestamp >= ?")
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		where = append(where, "r.timestamp <= ?")
		args = append(args, filter.Until.UTC())
	}
	if !filter.SessionID.IsZero() {
		where = append(where, "r.session_id = ?")
		args = append(args, filter.SessionID.String())
	}

	query := "SELECT r.id, r.content, r.session_id, r.supersedes, r.timestamp FROM records r"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY r.timestamp ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return query, args
}

// tokenize splits a search query into lowercase terms.
func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?'"()[]{}`)
		if f != "" {
			terms = append(terms, f)
		}
	}
	return terms
}

// rawJSON lets database/sql scan a TEXT column into json.RawMessage.
type rawJSON []byte

func (r *rawJSON) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		*r = rawJSON(v)
	case []byte:
		*r = append(rawJSON(nil), v...)
	case nil:
		*r = nil
	default:
		return fmt.Errorf("cannot scan %T into json content", src)
	}
	return nil
}

func nullableID(id types.ID) interface{} {
	if id.IsZero() {
		return nil
	}
	return id.String()
}
