package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"mercator-hq/lmserver/pkg/config"
)

// Ledger backends accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// SQLiteStore persists entries in a SQLite database using the pure Go
// modernc.org/sqlite driver.
type SQLiteStore struct {
	db     *sql.DB
	config config.SQLiteConfig
	closed atomic.Bool
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and creates when missing) the database at cfg.Path.
// The parent directory is created. ":memory:" opens a private in-memory
// database.
func NewSQLiteStore(cfg config.SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		cfg.Path = config.DefaultLedgerSQLitePath
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = config.DefaultLedgerMaxOpenConns
	}
	if cfg.Path == ":memory:" {
		// Every connection would otherwise see its own empty database.
		cfg.MaxOpenConns = 1
	} else if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, newStoreError(BackendSQLite, "mkdir", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, newStoreError(BackendSQLite, "open", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	s := &SQLiteStore{
		db:     db,
		config: cfg,
		logger: slog.Default().With("component", "ledger.sqlite"),
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("SQLite ledger initialized",
		"path", cfg.Path,
		"journal_mode", cfg.JournalMode,
		"max_open_conns", cfg.MaxOpenConns,
	)
	return s, nil
}

func (s *SQLiteStore) initialize() error {
	if mode := s.config.JournalMode; mode != "" {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA journal_mode=%s;", strings.ToUpper(mode))); err != nil {
			return newStoreError(BackendSQLite, "set_journal_mode", err)
		}
	}
	if s.config.BusyTimeout > 0 {
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
			return newStoreError(BackendSQLite, "set_busy_timeout", err)
		}
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return newStoreError(BackendSQLite, "create_schema", err)
	}
	if _, err := s.db.Exec(insertSchemaVersion, SchemaVersion); err != nil {
		return newStoreError(BackendSQLite, "insert_schema_version", err)
	}

	var version int
	if err := s.db.QueryRow(getSchemaVersion).Scan(&version); err != nil {
		return newStoreError(BackendSQLite, "get_schema_version", err)
	}
	if version != SchemaVersion {
		return newStoreError(BackendSQLite, "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Record inserts entry. Times are stored as unix nanoseconds.
func (s *SQLiteStore) Record(ctx context.Context, e *Entry) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO usage ("+usageColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.ID, e.RequestID, e.Time.UnixNano(), e.ClientRequestID, e.OriginRequestID,
		e.RequestedModel, e.Model, e.Endpoint, e.UserInitiated, e.Status, e.FinishReason,
		e.PromptTokens, e.CompletionTokens, e.CachedTokens, e.ReasoningTokens,
		e.BytesForwarded, e.Attempts, e.Duration.Milliseconds(), e.Canceled, nullString(e.Error),
	)
	if err != nil {
		return newStoreError(BackendSQLite, "record", err)
	}
	return nil
}

// Query returns the entries matching q, newest first unless q.Oldest is set.
func (s *SQLiteStore) Query(ctx context.Context, q *Query) ([]*Entry, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	where, args := buildWhereClause(q)
	sqlQuery := "SELECT " + usageColumns + " FROM usage" + where

	order := "DESC"
	if q != nil && q.Oldest {
		order = "ASC"
	}
	sqlQuery += " ORDER BY time_ns " + order + ", rowid " + order

	if q != nil && (q.Limit > 0 || q.Offset > 0) {
		limit := q.Limit
		if limit <= 0 {
			limit = -1
		}
		sqlQuery += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, newStoreError(BackendSQLite, "query", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, newStoreError(BackendSQLite, "scan", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, newStoreError(BackendSQLite, "query", err)
	}
	return entries, nil
}

// Count returns the number of entries matching q.
func (s *SQLiteStore) Count(ctx context.Context, q *Query) (int64, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}

	where, args := buildWhereClause(q)
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM usage"+where, args...).Scan(&n); err != nil {
		return 0, newStoreError(BackendSQLite, "count", err)
	}
	return n, nil
}

// Delete removes the entries matching q and returns how many were removed.
func (s *SQLiteStore) Delete(ctx context.Context, q *Query) (int64, error) {
	if s.closed.Load() {
		return 0, ErrStoreClosed
	}

	where, args := buildWhereClause(q)
	result, err := s.db.ExecContext(ctx, "DELETE FROM usage"+where, args...)
	if err != nil {
		return 0, newStoreError(BackendSQLite, "delete", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, newStoreError(BackendSQLite, "delete", err)
	}
	return n, nil
}

// Summary aggregates the entries matching q per model in one GROUP BY
// query.
func (s *SQLiteStore) Summary(ctx context.Context, q *Query) ([]Summary, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	where, args := buildWhereClause(q)
	rows, err := s.db.QueryContext(ctx, `
		SELECT model,
			COUNT(*),
			COALESCE(SUM(CASE WHEN error IS NOT NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN canceled THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(prompt_tokens), 0),
			COALESCE(SUM(completion_tokens), 0),
			COALESCE(SUM(cached_tokens), 0),
			COALESCE(SUM(reasoning_tokens), 0),
			COALESCE(SUM(bytes_forwarded), 0)
		FROM usage`+where+`
		GROUP BY model
		ORDER BY model`, args...)
	if err != nil {
		return nil, newStoreError(BackendSQLite, "summary", err)
	}
	defer rows.Close()

	out := []Summary{}
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(
			&sum.Model, &sum.Requests, &sum.Errors, &sum.Canceled,
			&sum.PromptTokens, &sum.CompletionTokens, &sum.CachedTokens, &sum.ReasoningTokens,
			&sum.BytesForwarded,
		); err != nil {
			return nil, newStoreError(BackendSQLite, "scan", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, newStoreError(BackendSQLite, "summary", err)
	}
	return out, nil
}

// Close closes the database. Further calls return ErrStoreClosed.
func (s *SQLiteStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return newStoreError(BackendSQLite, "close", err)
	}
	s.logger.Info("SQLite ledger closed")
	return nil
}

// buildWhereClause returns " WHERE ..." (or "") and its arguments.
func buildWhereClause(q *Query) (string, []any) {
	if q == nil {
		return "", nil
	}

	var conditions []string
	var args []any
	if q.Since != nil {
		conditions = append(conditions, "time_ns >= ?")
		args = append(args, q.Since.UnixNano())
	}
	if q.Until != nil {
		conditions = append(conditions, "time_ns <= ?")
		args = append(args, q.Until.UnixNano())
	}
	if q.Model != "" {
		conditions = append(conditions, "model = ?")
		args = append(args, q.Model)
	}
	switch q.Status {
	case StatusSuccess:
		conditions = append(conditions, "error IS NULL")
	case StatusError:
		conditions = append(conditions, "error IS NOT NULL")
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		e                     Entry
		timeNs, durationMs    int64
		clientID, originID    sql.NullString
		requested, ep, finish sql.NullString
		status                sql.NullInt64
		errVal                sql.NullString
	)
	err := rows.Scan(
		&e.ID, &e.RequestID, &timeNs, &clientID, &originID,
		&requested, &e.Model, &ep, &e.UserInitiated, &status, &finish,
		&e.PromptTokens, &e.CompletionTokens, &e.CachedTokens, &e.ReasoningTokens,
		&e.BytesForwarded, &e.Attempts, &durationMs, &e.Canceled, &errVal,
	)
	if err != nil {
		return nil, err
	}

	e.Time = time.Unix(0, timeNs)
	e.Duration = time.Duration(durationMs) * time.Millisecond
	e.ClientRequestID = clientID.String
	e.OriginRequestID = originID.String
	e.RequestedModel = requested.String
	e.Endpoint = ep.String
	e.FinishReason = finish.String
	e.Status = int(status.Int64)
	e.Error = errVal.String
	return &e, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Open creates the store selected by cfg.Backend.
func Open(cfg *config.LedgerConfig) (Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendSQLite, "":
		return NewSQLiteStore(cfg.SQLite)
	default:
		return nil, errors.New("unsupported ledger backend: " + cfg.Backend)
	}
}
