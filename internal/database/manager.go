package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/saltyorg/cookieshop/internal/kvstore"
)

// Config selects and locates the storage backend
type Config struct {
	Kind Kind
	// DataDir holds the SQLite file and, when KV is nil, the key/value directory
	DataDir string
	// Name is the SQLite file name (DefaultName when empty)
	Name string
	// KV is the key/value store used by the emulation backend
	KV kvstore.Store
}

// Manager is the approved entrypoint for database access across the app.
// It owns the single backend handle of the process and exposes only typed
// statements and the raw SQL entry points (no *sql.DB).
type Manager struct {
	backend Backend
	group   singleflight.Group
	ready   atomic.Bool

	hooksMu sync.RWMutex
	hooks   []func(Change)
}

// New wraps backend. Nothing is opened until the first call.
func New(backend Backend) *Manager {
	return &Manager{backend: backend}
}

// Open builds the backend described by cfg
func Open(cfg Config) (*Manager, error) {
	kind := cfg.Kind.Resolve()

	switch kind {
	case KindSQLite:
		name := cfg.Name
		if name == "" {
			name = DefaultName
		}
		return New(NewSQLiteBackend(filepath.Join(cfg.DataDir, name))), nil

	case KindKV:
		store := cfg.KV
		if store == nil {
			fs, err := kvstore.OpenFileStore(filepath.Join(cfg.DataDir, "kv"))
			if err != nil {
				return nil, err
			}
			store = fs
		}
		return New(NewKVBackend(store)), nil
	}

	return nil, fmt.Errorf("unknown backend %q", kind)
}

// Backend returns the active backend kind
func (m *Manager) Backend() Kind {
	return m.backend.Kind()
}

// Ready reports whether initialization has completed
func (m *Manager) Ready() bool {
	return m.ready.Load()
}

// Initialize opens the backend and creates missing tables. It is safe to call
// repeatedly and concurrently: callers arriving while an attempt is in flight
// wait for that attempt. A failed attempt leaves the manager uninitialized so
// the next call tries again.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.ready.Load() {
		return nil
	}

	_, err, shared := m.group.Do("initialize", func() (any, error) {
		if m.ready.Load() {
			return nil, nil
		}
		if err := m.backend.Open(ctx); err != nil {
			return nil, err
		}
		m.ready.Store(true)
		log.Info().Str("backend", string(m.backend.Kind())).Msg("Database initialized")
		return nil, nil
	})
	if err != nil {
		log.Error().Err(err).Bool("shared", shared).Msg("Database initialization failed")
		return wrap(OpInitialize, err)
	}
	return nil
}

// Query runs a Select
func (m *Manager) Query(ctx context.Context, q Select) ([]Row, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	t, err := validate(q)
	if err != nil {
		return nil, wrap(OpQuery, err)
	}
	rows, err := m.backend.Query(ctx, t, q)
	if err != nil {
		return nil, wrap(OpQuery, err)
	}
	return rows, nil
}

// Run applies a mutation
func (m *Manager) Run(ctx context.Context, mut Mutation) (Result, error) {
	if err := m.Initialize(ctx); err != nil {
		return Result{}, err
	}
	t, err := validate(mut)
	if err != nil {
		return Result{}, wrap(OpRun, err)
	}
	res, err := m.backend.Run(ctx, t, mut)
	if err != nil {
		return Result{}, wrap(OpRun, err)
	}
	m.emit(changeOf(mut, res))
	return res, nil
}

// Execute runs a raw multi-statement script. Only the SQLite backend
// interprets it; the key/value backend reports zero effect.
func (m *Manager) Execute(ctx context.Context, script string) (Result, error) {
	if err := m.Initialize(ctx); err != nil {
		return Result{}, err
	}
	res, err := m.backend.Execute(ctx, script)
	if err != nil {
		return Result{}, wrap(OpExecute, err)
	}
	return res, nil
}

// QuerySQL runs raw SELECT text with positional parameters.
//
// SQLite executes the text as written. The kv backend parses it and treats
// any LOWER(col) term as a case-insensitive match, so "LOWER(email) = ?"
// also folds the parameter there. Write "LOWER(email) = LOWER(?)" for the
// same result on both backends.
func (m *Manager) QuerySQL(ctx context.Context, query string, args ...any) ([]Row, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	rows, err := m.backend.QuerySQL(ctx, query, args)
	if err != nil {
		return nil, wrap(OpQuery, err)
	}
	return rows, nil
}

// RunSQL runs raw INSERT, UPDATE or DELETE text with positional parameters
func (m *Manager) RunSQL(ctx context.Context, stmt string, args ...any) (Result, error) {
	if err := m.Initialize(ctx); err != nil {
		return Result{}, err
	}
	res, err := m.backend.RunSQL(ctx, stmt, args)
	if err != nil {
		return Result{}, wrap(OpRun, err)
	}
	if parsed, err := Parse(stmt, args...); err == nil {
		if mut, ok := parsed.(Mutation); ok {
			m.emit(changeOf(mut, res))
		}
	}
	return res, nil
}

// Transaction runs fn atomically. fn must use the Executor it is given, not
// the Manager. The transaction rolls back when fn returns an error or panics;
// a panic is re-raised after the rollback. Change hooks fire after commit.
func (m *Manager) Transaction(ctx context.Context, fn func(Executor) error) error {
	if err := m.Initialize(ctx); err != nil {
		return err
	}

	tx, err := m.backend.Begin(ctx)
	if err != nil {
		return wrap(OpTransaction, err)
	}

	ex := &txExecutor{tx: tx}
	defer func() {
		if p := recover(); p != nil {
			rollback(tx)
			panic(p)
		}
	}()

	if err := fn(ex); err != nil {
		rollback(tx)
		return wrap(OpTransaction, err)
	}

	if err := tx.Commit(); err != nil {
		rollback(tx)
		return wrap(OpTransaction, err)
	}

	m.emit(ex.changes...)
	return nil
}

func rollback(tx Tx) {
	if err := tx.Rollback(); err != nil {
		log.Error().Err(err).Msg("Failed to rollback transaction")
	}
}

// Optimize runs backend housekeeping
func (m *Manager) Optimize(ctx context.Context) error {
	if err := m.Initialize(ctx); err != nil {
		return err
	}
	return m.backend.Optimize(ctx)
}

// Close releases the backend. A later call initializes it again.
func (m *Manager) Close() error {
	m.ready.Store(false)
	if err := m.backend.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// OnChange registers fn to receive committed changes
func (m *Manager) OnChange(fn func(Change)) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, fn)
}

// WatchExternal forwards changes made to the backing store by other processes
// to the change hooks. Backends that cannot observe such changes return an
// error.
func (m *Manager) WatchExternal() error {
	w, ok := m.backend.(interface {
		Watch(onChange func(Change)) error
	})
	if !ok {
		return fmt.Errorf("%s backend does not report external changes", m.backend.Kind())
	}
	return w.Watch(func(c Change) { m.emit(c) })
}

func (m *Manager) emit(changes ...Change) {
	m.hooksMu.RLock()
	hooks := append([]func(Change){}, m.hooks...)
	m.hooksMu.RUnlock()

	for _, c := range changes {
		if c.Count == 0 && c.Kind != ChangeExternal {
			continue
		}
		for _, fn := range hooks {
			fn(c)
		}
	}
}

func changeOf(m Mutation, res Result) Change {
	return Change{Table: m.TableName(), Kind: m.kind(), Count: res.Changes}
}

// txExecutor runs statements inside an open transaction
type txExecutor struct {
	tx      Tx
	changes []Change
}

func (e *txExecutor) Query(ctx context.Context, q Select) ([]Row, error) {
	t, err := validate(q)
	if err != nil {
		return nil, wrap(OpQuery, err)
	}
	rows, err := e.tx.query(ctx, t, q)
	if err != nil {
		return nil, wrap(OpQuery, err)
	}
	return rows, nil
}

func (e *txExecutor) Run(ctx context.Context, mut Mutation) (Result, error) {
	t, err := validate(mut)
	if err != nil {
		return Result{}, wrap(OpRun, err)
	}
	res, err := e.tx.run(ctx, t, mut)
	if err != nil {
		return Result{}, wrap(OpRun, err)
	}
	e.changes = append(e.changes, changeOf(mut, res))
	return res, nil
}
