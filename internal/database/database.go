package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DefaultName is the database file name used when none is configured
const DefaultName = "cookie_app.db"

// connections holds open handles by path so a second Open in the same process
// resumes the existing connection instead of creating another one. A handle
// is closed when its last holder releases it.
var connections = struct {
	mu    sync.Mutex
	conns map[string]*sharedConn
}{conns: make(map[string]*sharedConn)}

type sharedConn struct {
	db   *sql.DB
	refs int
}

// SQLiteBackend runs statements on an embedded SQLite database
type SQLiteBackend struct {
	path string
	mu   sync.RWMutex
	db   *sql.DB
}

// NewSQLiteBackend creates a backend for the database file at path. Nothing is
// opened until Open.
func NewSQLiteBackend(path string) *SQLiteBackend {
	return &SQLiteBackend{path: path}
}

func (b *SQLiteBackend) Kind() Kind { return KindSQLite }

// Path returns the database file path
func (b *SQLiteBackend) Path() string {
	return b.path
}

func (b *SQLiteBackend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db != nil {
		return nil
	}

	db, err := connect(ctx, b.path)
	if err != nil {
		return err
	}

	if err := applySchema(ctx, db); err != nil {
		release(b.path, db)
		return err
	}

	b.db = db
	return nil
}

// connect retrieves a healthy registered handle for path or opens a new one
func connect(ctx context.Context, path string) (*sql.DB, error) {
	connections.mu.Lock()
	defer connections.mu.Unlock()

	if shared, ok := connections.conns[path]; ok {
		if err := shared.db.PingContext(ctx); err == nil {
			shared.refs++
			log.Debug().Str("path", path).Int("refs", shared.refs).Msg("Retrieved existing database connection")
			return shared.db, nil
		}
		log.Warn().Str("path", path).Msg("Discarding stale database connection")
		shared.db.Close()
		delete(connections.conns, path)
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// WAL for crash safety; immediate transactions so read-then-write
	// sequences inside a transaction take the write lock up front
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// One connection per process
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	connections.conns[path] = &sharedConn{db: db, refs: 1}
	log.Debug().Str("path", path).Msg("Database connection established")
	return db, nil
}

// release drops one reference to the handle for path, closing it with the last
func release(path string, db *sql.DB) {
	connections.mu.Lock()
	defer connections.mu.Unlock()

	shared, ok := connections.conns[path]
	if !ok || shared.db != db {
		// Already discarded as stale
		db.Close()
		return
	}
	shared.refs--
	if shared.refs > 0 {
		return
	}
	delete(connections.conns, path)
	db.Close()
}

// applySchema creates missing tables and indexes in one transaction
func applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}

	for i, stmt := range splitSQLStatements(SchemaSQL()) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback schema transaction")
			}
			return fmt.Errorf("failed to create tables (statement %d): %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}

	log.Debug().Int("tables", len(schema)).Msg("Database schema ready")
	return nil
}

func (b *SQLiteBackend) handle() (*sql.DB, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.db == nil {
		return nil, ErrClosed
	}
	return b.db, nil
}

func (b *SQLiteBackend) Query(ctx context.Context, t *Table, q Select) ([]Row, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	return sqliteQuery(ctx, db, q)
}

func (b *SQLiteBackend) Run(ctx context.Context, t *Table, m Mutation) (Result, error) {
	db, err := b.handle()
	if err != nil {
		return Result{}, err
	}
	return sqliteRun(ctx, db, t, m)
}

func (b *SQLiteBackend) Execute(ctx context.Context, script string) (Result, error) {
	db, err := b.handle()
	if err != nil {
		return Result{}, err
	}

	var total Result
	for i, stmt := range splitSQLStatements(script) {
		res, err := db.ExecContext(ctx, stmt)
		if err != nil {
			return total, fmt.Errorf("statement %d: %w", i+1, translateError(err))
		}
		if n, err := res.RowsAffected(); err == nil {
			total.Changes += n
		}
	}
	return total, nil
}

func (b *SQLiteBackend) QuerySQL(ctx context.Context, query string, args []any) ([]Row, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	return scanRows(rows)
}

func (b *SQLiteBackend) RunSQL(ctx context.Context, stmt string, args []any) (Result, error) {
	db, err := b.handle()
	if err != nil {
		return Result{}, err
	}
	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return Result{}, translateError(err)
	}
	n, _ := res.RowsAffected()
	return Result{Changes: n}, nil
}

func (b *SQLiteBackend) Begin(ctx context.Context) (Tx, error) {
	db, err := b.handle()
	if err != nil {
		return nil, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

func (b *SQLiteBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.db == nil {
		return nil
	}
	release(b.path, b.db)
	b.db = nil
	log.Debug().Str("path", b.path).Msg("Database connection closed")
	return nil
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) query(ctx context.Context, _ *Table, q Select) ([]Row, error) {
	return sqliteQuery(ctx, t.tx, q)
}

func (t *sqliteTx) run(ctx context.Context, table *Table, m Mutation) (Result, error) {
	return sqliteRun(ctx, t.tx, table, m)
}

func (t *sqliteTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *sqliteTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

// translateError marks SQLite constraint violations with ErrConstraint
func translateError(err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	}
	return err
}
