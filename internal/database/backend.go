package database

import (
	"context"
	"fmt"
	"runtime"
	"strings"
)

// Kind identifies a storage backend
type Kind string

const (
	// KindAuto picks a backend from the runtime's capabilities
	KindAuto Kind = "auto"
	// KindSQLite is the embedded relational engine
	KindSQLite Kind = "sqlite"
	// KindKV emulates the tables over a key/value store
	KindKV Kind = "kv"
)

// ParseKind parses a backend name
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", KindAuto:
		return KindAuto, nil
	case KindSQLite, "native":
		return KindSQLite, nil
	case KindKV, "web", "localstorage":
		return KindKV, nil
	}
	return "", fmt.Errorf("unknown backend %q (want auto, sqlite or kv)", s)
}

// HasRelationalEngine reports whether the embedded relational engine can run
// on this platform. Browser-hosted builds only have key/value persistence.
func HasRelationalEngine() bool {
	return runtime.GOOS != "js" && runtime.GOOS != "wasip1"
}

// Resolve turns KindAuto into a concrete backend for this runtime
func (k Kind) Resolve() Kind {
	if k != KindAuto {
		return k
	}
	if HasRelationalEngine() {
		return KindSQLite
	}
	return KindKV
}

// Result reports the effect of a mutation
type Result struct {
	Changes int64
	// LastID is the id column of the inserted row, when the statement inserted one
	LastID string
}

// Executor runs typed statements. Both the Manager and the handle passed to a
// Transaction callback implement it.
type Executor interface {
	Query(ctx context.Context, q Select) ([]Row, error)
	Run(ctx context.Context, m Mutation) (Result, error)
}

// Tx is an open backend transaction
type Tx interface {
	query(ctx context.Context, t *Table, q Select) ([]Row, error)
	run(ctx context.Context, t *Table, m Mutation) (Result, error)
	Commit() error
	Rollback() error
}

// Backend is one storage substrate behind the Manager. Statements reaching a
// backend have already been validated against the schema.
type Backend interface {
	Kind() Kind
	// Open connects and creates missing tables or buckets
	Open(ctx context.Context) error
	Query(ctx context.Context, t *Table, q Select) ([]Row, error)
	Run(ctx context.Context, t *Table, m Mutation) (Result, error)
	Execute(ctx context.Context, script string) (Result, error)
	QuerySQL(ctx context.Context, query string, args []any) ([]Row, error)
	RunSQL(ctx context.Context, stmt string, args []any) (Result, error)
	Begin(ctx context.Context) (Tx, error)
	Optimize(ctx context.Context) error
	Close() error
}

// ChangeKind classifies a Change
type ChangeKind string

const (
	ChangeInsert   ChangeKind = "insert"
	ChangeUpsert   ChangeKind = "upsert"
	ChangeUpdate   ChangeKind = "update"
	ChangeDelete   ChangeKind = "delete"
	ChangeExternal ChangeKind = "external"
)

// Change describes a committed modification of one table
type Change struct {
	Table string     `json:"table"`
	Kind  ChangeKind `json:"kind"`
	Count int64      `json:"count"`
}

// insertedID returns the id bound by an insert-shaped mutation
func insertedID(t *Table, m Mutation) string {
	var ins Insert
	switch s := m.(type) {
	case Insert:
		ins = s
	default:
		return ""
	}
	if v, ok := ins.value(t.PrimaryKey); ok {
		return fmt.Sprint(normalizeValue(v))
	}
	return ""
}
