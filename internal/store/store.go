package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/warpdl/dlmgr/common"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when no row exists for a request id.
	ErrNotFound = common.NewError(common.ERROR_ID_NOT_FOUND, errors.New("request not in log"))
	// ErrNoData is returned when a row exists but the field was never set.
	ErrNoData = common.NewError(common.ERROR_NO_DATA, errors.New("field not set"))
)

// Options configures Open.
type Options struct {
	// Path is the database file. ":memory:" opens a private in-memory db.
	Path        string
	BusyTimeout time.Duration
}

// Store is the SQLite-backed request log.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the log at opts.Path and migrates it.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}
	db, err := sql.Open("sqlite", dsn(opts))
	if err != nil {
		return nil, fmt.Errorf("open log store: %w", err)
	}
	// SQLite serializes writers; one connection also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect log store: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate log store: %w", err)
	}
	return s, nil
}

func dsn(opts Options) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if opts.Path == ":memory:" {
		return "file::memory:?" + q.Encode()
	}
	q.Add("_pragma", "journal_mode(WAL)")
	return "file:" + opts.Path + "?" + q.Encode()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY,
		state INTEGER NOT NULL,
		error INTEGER NOT NULL DEFAULT 0,
		start_count INTEGER NOT NULL DEFAULT 0,
		package TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		started_at INTEGER,
		paused_at INTEGER,
		stopped_at INTEGER,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_created_at ON requests(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_requests_state ON requests(state)`,
	`CREATE TABLE IF NOT EXISTS params (
		id INTEGER PRIMARY KEY REFERENCES requests(id) ON DELETE CASCADE,
		url TEXT,
		destination TEXT,
		file_name TEXT,
		network_type INTEGER,
		auto_download INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id INTEGER PRIMARY KEY REFERENCES requests(id) ON DELETE CASCADE,
		type INTEGER,
		title TEXT,
		description TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY REFERENCES requests(id) ON DELETE CASCADE,
		saved_path TEXT,
		temp_path TEXT,
		mime_type TEXT,
		content_name TEXT,
		etag TEXT,
		received_size INTEGER,
		total_size INTEGER,
		http_status INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS headers (
		id INTEGER NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
		field TEXT NOT NULL,
		value TEXT NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (id, field)
	)`,
	`CREATE TABLE IF NOT EXISTS bundles (
		id INTEGER NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
		kind INTEGER NOT NULL,
		data BLOB NOT NULL,
		PRIMARY KEY (id, kind)
	)`,
	`CREATE TABLE IF NOT EXISTS extras (
		id INTEGER NOT NULL REFERENCES requests(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		vals TEXT NOT NULL,
		PRIMARY KEY (id, key)
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return nil
}

// busy wraps a driver error as DISK_BUSY.
func busy(op string, err error) error {
	if err == nil {
		return nil
	}
	return common.NewError(common.ERROR_DISK_BUSY, fmt.Errorf("%s: %w", op, err))
}

func millis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid || v.Int64 == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
