// Package db owns the embedded database file: opening it with the pragmas
// the engine relies on, serialising writers, scoping transactions, and
// running the schema migrations.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Options tune the connection. Zero values fall back to defaults.
type Options struct {
	BusyTimeout time.Duration
	TxTimeout   time.Duration
}

const (
	defaultBusyTimeout = 5 * time.Second
	defaultTxTimeout   = 30 * time.Second
)

// Store owns the handle to one database file. Repositories borrow it through
// Handle; the migrator, seed loader, and import service take the write scope
// through RunInTransaction. Exactly one process may hold a Store on a given
// file; a sibling .lock file enforces that.
type Store struct {
	db        *sql.DB
	path      string
	lock      *flock.Flock
	txTimeout time.Duration

	// writeMu orders writers. Readers go through the pool concurrently
	// under WAL.
	writeMu sync.Mutex
}

// Open opens the database file at path, creating it if needed, and takes the
// process-exclusive lock next to it. Pragmas (WAL, busy timeout, foreign
// keys) ride on the DSN so every pooled connection gets them.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = defaultBusyTimeout
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = defaultTxTimeout
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, ErrFileLocked)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_txlock=immediate",
		path, opts.BusyTimeout.Milliseconds(),
	)
	sqldb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		_ = lock.Unlock()
		return nil, classify(err, "", nil)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		_ = lock.Unlock()
		return nil, classify(err, "", nil)
	}

	return &Store{db: sqldb, path: path, lock: lock, txTimeout: opts.TxTimeout}, nil
}

// Path returns the database file path the store was opened with.
func (s *Store) Path() string { return s.path }

// Close closes the handle and releases the file lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// Querier is the statement surface shared by the pooled handle and an open
// transaction. *sql.DB and *sql.Tx both satisfy it.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Handle returns the Querier for ctx: the transaction carried by ctx when
// inside RunInTransaction, the shared pool otherwise.
func (s *Store) Handle(ctx context.Context) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.db
}

// CommandResult reports the outcome of a write statement.
type CommandResult struct {
	LastID  int64
	Changes int64
}

// Exec runs a single write statement with bound parameters.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (CommandResult, error) {
	if TxFromContext(ctx) == nil {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	res, err := s.Handle(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return CommandResult{}, classify(err, query, args)
	}
	last, _ := res.LastInsertId()
	changes, _ := res.RowsAffected()
	return CommandResult{LastID: last, Changes: changes}, nil
}

// Query runs a read statement. The caller owns the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := s.Handle(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, query, args)
	}
	return rows, nil
}

// QueryRow runs a read statement expected to return at most one row.
func (s *Store) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.Handle(ctx).QueryRowContext(ctx, query, args...)
}

// QueryMaps runs a read statement and materialises every row as a
// column-keyed map. The pipelines that work with dynamic column sets (the
// patient_observations view, the exporters) read through this.
func (s *Store) QueryMaps(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	rows, err := s.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify(err, query, args)
	}

	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(err, query, args)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, query, args)
	}
	return out, nil
}

// Stats reports coarse file-level figures for operator output.
type Stats struct {
	Path      string
	PageCount int64
	PageSize  int64
	Tables    int
}

// Stat collects database statistics from the pragma surface.
func (s *Store) Stat(ctx context.Context) (*Stats, error) {
	st := &Stats{Path: s.path}
	if err := s.QueryRow(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		return nil, classify(err, "PRAGMA page_count", nil)
	}
	if err := s.QueryRow(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		return nil, classify(err, "PRAGMA page_size", nil)
	}
	row := s.QueryRow(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'")
	if err := row.Scan(&st.Tables); err != nil {
		return nil, classify(err, "sqlite_master count", nil)
	}
	return st, nil
}
