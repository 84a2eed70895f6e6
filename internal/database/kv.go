package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/cookieshop/internal/kvstore"
)

// KVBackend emulates the relational schema over a key/value store. Each table
// is one bucket holding a JSON array of row objects that is rewritten whole on
// every change. A single mutex serializes writers; transactions hold it until
// they commit or roll back.
type KVBackend struct {
	store  kvstore.Store
	mu     sync.Mutex
	closed bool
}

// NewKVBackend creates a backend persisting buckets in store
func NewKVBackend(store kvstore.Store) *KVBackend {
	return &KVBackend{store: store}
}

func (b *KVBackend) Kind() Kind { return KindKV }

// Store returns the underlying key/value store
func (b *KVBackend) Store() kvstore.Store {
	return b.store
}

// Open seeds every missing bucket with an empty list
func (b *KVBackend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range schema {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, ok, err := b.store.Get(t.Bucket)
		if err != nil {
			return fmt.Errorf("failed to read bucket %s: %w", t.Bucket, err)
		}
		if ok {
			continue
		}
		if err := b.store.Set(t.Bucket, "[]"); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", t.Bucket, err)
		}
	}

	b.closed = false
	log.Debug().Int("buckets", len(schema)).Msg("Key/value buckets ready")
	return nil
}

func (b *KVBackend) Query(ctx context.Context, t *Table, q Select) ([]Row, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrClosed
	}
	return newKVView(b).query(t, q)
}

func (b *KVBackend) Run(ctx context.Context, t *Table, m Mutation) (Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return Result{}, ErrClosed
	}

	// Cascades touch several buckets; stage them so a failure writes nothing
	v := newKVView(b)
	res, err := v.run(t, m)
	if err != nil {
		return Result{}, err
	}
	if err := v.flush(); err != nil {
		return Result{}, err
	}
	return res, nil
}

// Execute has no engine to hand raw scripts to and reports zero effect
func (b *KVBackend) Execute(ctx context.Context, script string) (Result, error) {
	log.Debug().Int("statements", len(splitSQLStatements(script))).Msg("Ignoring raw SQL script on key/value backend")
	return Result{}, nil
}

func (b *KVBackend) QuerySQL(ctx context.Context, query string, args []any) ([]Row, error) {
	stmt, err := Parse(query, args...)
	if err != nil {
		return nil, err
	}
	sel, ok := stmt.(Select)
	if !ok {
		return nil, unsupported("query requires a SELECT")
	}
	t, err := validate(sel)
	if err != nil {
		return nil, err
	}
	return b.Query(ctx, t, sel)
}

func (b *KVBackend) RunSQL(ctx context.Context, stmt string, args []any) (Result, error) {
	parsed, err := Parse(stmt, args...)
	if err != nil {
		return Result{}, err
	}
	m, ok := parsed.(Mutation)
	if !ok {
		return Result{}, unsupported("run requires INSERT, UPDATE or DELETE")
	}
	t, err := validate(m)
	if err != nil {
		return Result{}, err
	}
	return b.Run(ctx, t, m)
}

// Begin takes the writer lock for the lifetime of the transaction
func (b *KVBackend) Begin(ctx context.Context) (Tx, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	return &kvTx{view: newKVView(b), unlock: b.mu.Unlock}, nil
}

func (b *KVBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if c, ok := b.store.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Watch reports bucket changes made outside this process as external
// changes of the matching table. It fails when the store cannot be watched.
func (b *KVBackend) Watch(onChange func(Change)) error {
	w, ok := b.store.(interface {
		Watch(onChange func(key string)) error
	})
	if !ok {
		return fmt.Errorf("%T does not support watching", b.store)
	}

	return w.Watch(func(key string) {
		t, ok := tableForBucket(key)
		if !ok {
			return
		}
		onChange(Change{Table: t.Name, Kind: ChangeExternal})
	})
}

func (b *KVBackend) load(t *Table) ([]Row, error) {
	raw, ok, err := b.store.Get(t.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to read bucket %s: %w", t.Bucket, err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode bucket %s: %w", t.Bucket, err)
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		row := make(Row, len(t.Columns))
		for _, c := range t.Columns {
			row[c.Name] = coerce(c, rec[c.Name])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (b *KVBackend) save(t *Table, rows []Row) error {
	if rows == nil {
		rows = []Row{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode bucket %s: %w", t.Bucket, err)
	}
	if err := b.store.Set(t.Bucket, string(data)); err != nil {
		return fmt.Errorf("failed to write bucket %s: %w", t.Bucket, err)
	}
	return nil
}

type kvTx struct {
	view   *kvView
	unlock func()
	done   bool
}

func (tx *kvTx) query(_ context.Context, t *Table, q Select) ([]Row, error) {
	if tx.done {
		return nil, ErrClosed
	}
	return tx.view.query(t, q)
}

func (tx *kvTx) run(_ context.Context, t *Table, m Mutation) (Result, error) {
	if tx.done {
		return Result{}, ErrClosed
	}
	return tx.view.run(t, m)
}

func (tx *kvTx) Commit() error {
	if tx.done {
		return nil
	}
	tx.done = true
	defer tx.unlock()

	if err := tx.view.flush(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (tx *kvTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.unlock()
	return nil
}

// kvView caches decoded buckets and stages writes until flush. Callers hold
// the backend mutex for its whole lifetime.
type kvView struct {
	b     *KVBackend
	rows  map[string][]Row
	dirty map[string]bool
}

func newKVView(b *KVBackend) *kvView {
	return &kvView{b: b, rows: make(map[string][]Row), dirty: make(map[string]bool)}
}

func (v *kvView) table(t *Table) ([]Row, error) {
	if rows, ok := v.rows[t.Name]; ok {
		return rows, nil
	}
	rows, err := v.b.load(t)
	if err != nil {
		return nil, err
	}
	v.rows[t.Name] = rows
	return rows, nil
}

func (v *kvView) put(t *Table, rows []Row) {
	v.rows[t.Name] = rows
	v.dirty[t.Name] = true
}

// flush writes touched buckets in schema order
func (v *kvView) flush() error {
	for _, t := range schema {
		if !v.dirty[t.Name] {
			continue
		}
		if err := v.b.save(t, v.rows[t.Name]); err != nil {
			return err
		}
		delete(v.dirty, t.Name)
	}
	return nil
}

func (v *kvView) query(t *Table, q Select) ([]Row, error) {
	rows, err := v.table(t)
	if err != nil {
		return nil, err
	}

	var matched []Row
	for _, r := range rows {
		if matchesAll(r, q.Where) {
			matched = append(matched, r)
		}
	}

	if len(q.OrderBy) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, o := range q.OrderBy {
				c := compareValues(matched[i][o.Column], matched[j][o.Column])
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]Row, len(matched))
	for i, r := range matched {
		if len(q.Columns) == 0 {
			out[i] = r.Clone()
			continue
		}
		p := make(Row, len(q.Columns))
		for _, c := range q.Columns {
			p[c] = r[c]
		}
		out[i] = p
	}
	return out, nil
}

func (v *kvView) run(t *Table, m Mutation) (Result, error) {
	switch s := m.(type) {
	case Insert:
		return v.insert(t, s)
	case Upsert:
		return v.upsert(t, s)
	case Update:
		return v.update(t, s)
	case Delete:
		return v.delete(t, s.Where)
	}
	return Result{}, unsupported("mutation %T", m)
}

func (v *kvView) insert(t *Table, ins Insert) (Result, error) {
	rows, err := v.table(t)
	if err != nil {
		return Result{}, err
	}

	row := make(Row, len(t.Columns))
	for _, c := range t.Columns {
		val, _ := ins.value(c.Name)
		row[c.Name] = coerce(c, val)
	}

	if err := v.checkRow(t, row, rows, -1); err != nil {
		return Result{}, err
	}

	v.put(t, append(rows, row))
	return Result{Changes: 1, LastID: row.String(t.PrimaryKey)}, nil
}

func (v *kvView) upsert(t *Table, up Upsert) (Result, error) {
	rows, err := v.table(t)
	if err != nil {
		return Result{}, err
	}

	incoming := make(Row, len(up.Columns))
	for _, c := range t.Columns {
		val, _ := up.value(c.Name)
		incoming[c.Name] = coerce(c, val)
	}

	idx := -1
	for i, r := range rows {
		if sameKey(r, incoming, up.ConflictColumns) {
			idx = i
			break
		}
	}
	if idx < 0 {
		res, err := v.insert(t, up.Insert)
		res.LastID = ""
		return res, err
	}
	if len(up.Increment) == 0 {
		return Result{}, nil
	}

	updated := rows[idx].Clone()
	for _, name := range up.Increment {
		col, _ := t.Column(name)
		updated[name] = coerce(col, add(updated[name], incoming[name]))
	}
	if err := v.checkRow(t, updated, rows, idx); err != nil {
		return Result{}, err
	}

	next := append([]Row{}, rows...)
	next[idx] = updated
	v.put(t, next)
	return Result{Changes: 1}, nil
}

func (v *kvView) update(t *Table, u Update) (Result, error) {
	rows, err := v.table(t)
	if err != nil {
		return Result{}, err
	}

	next := append([]Row{}, rows...)
	var changed int64
	for i, r := range rows {
		if !matchesAll(r, u.Where) {
			continue
		}
		updated := r.Clone()
		for _, a := range u.Set {
			col, _ := t.Column(a.Column)
			updated[a.Column] = coerce(col, a.Value)
		}
		if err := v.checkRow(t, updated, next, i); err != nil {
			return Result{}, err
		}
		if !valuesEqual(r[t.PrimaryKey], updated[t.PrimaryKey]) {
			if err := v.checkUnreferenced(t, r); err != nil {
				return Result{}, err
			}
		}
		next[i] = updated
		changed++
	}

	if changed > 0 {
		v.put(t, next)
	}
	return Result{Changes: changed}, nil
}

// delete removes matching rows and cascades to referencing rows. Changes
// counts only rows of t, matching SQLite's changes().
func (v *kvView) delete(t *Table, where []Cond) (Result, error) {
	rows, err := v.table(t)
	if err != nil {
		return Result{}, err
	}

	var kept, removed []Row
	for _, r := range rows {
		if matchesAll(r, where) {
			removed = append(removed, r)
		} else {
			kept = append(kept, r)
		}
	}
	if len(removed) == 0 {
		return Result{}, nil
	}
	v.put(t, kept)

	for _, ref := range t.children() {
		for _, r := range removed {
			if _, err := v.delete(ref.table, []Cond{Eq(ref.fk.Column, r[ref.fk.RefColumn])}); err != nil {
				return Result{}, err
			}
		}
	}
	return Result{Changes: int64(len(removed))}, nil
}

// checkRow enforces NOT NULL, CHECK, PRIMARY KEY, UNIQUE and FOREIGN KEY
// rules for row. self is the index of the row being replaced, or -1.
func (v *kvView) checkRow(t *Table, row Row, rows []Row, self int) error {
	for _, c := range t.Columns {
		val := row[c.Name]
		if val == nil {
			if !c.Nullable {
				return constraintError("NOT NULL constraint failed: %s.%s", t.Name, c.Name)
			}
			continue
		}
		if c.valid != nil && !c.valid(val) {
			return constraintError("CHECK constraint failed: %s", c.Check)
		}
	}

	for i, other := range rows {
		if i == self {
			continue
		}
		if sameKey(other, row, []string{t.PrimaryKey}) {
			return constraintError("UNIQUE constraint failed: %s.%s", t.Name, t.PrimaryKey)
		}
		for _, cols := range t.Unique {
			if sameKey(other, row, cols) {
				return constraintError("UNIQUE constraint failed: %s", qualified(t.Name, cols))
			}
		}
		for _, c := range t.FoldUnique {
			if foldEqual(other[c], row[c]) {
				return constraintError("UNIQUE constraint failed: LOWER(%s.%s)", t.Name, c)
			}
		}
	}

	col, err := v.missingParent(t, row)
	if err != nil {
		return err
	}
	if col != "" {
		return constraintError("FOREIGN KEY constraint failed: %s.%s", t.Name, col)
	}
	return nil
}

// missingParent returns the first foreign key column of row whose parent row
// does not exist, or "" when every reference resolves.
func (v *kvView) missingParent(t *Table, row Row) (string, error) {
	for _, fk := range t.ForeignKeys {
		val := row[fk.Column]
		if val == nil {
			continue
		}
		parent, err := LookupTable(fk.RefTable)
		if err != nil {
			return "", err
		}
		parents, err := v.table(parent)
		if err != nil {
			return "", err
		}
		found := false
		for _, p := range parents {
			if valuesEqual(p[fk.RefColumn], val) {
				found = true
				break
			}
		}
		if !found {
			return fk.Column, nil
		}
	}
	return "", nil
}

// checkUnreferenced fails when child rows still point at row's key
func (v *kvView) checkUnreferenced(t *Table, row Row) error {
	for _, ref := range t.children() {
		children, err := v.table(ref.table)
		if err != nil {
			return err
		}
		for _, c := range children {
			if valuesEqual(c[ref.fk.Column], row[ref.fk.RefColumn]) {
				return constraintError("FOREIGN KEY constraint failed: %s.%s", ref.table.Name, ref.fk.Column)
			}
		}
	}
	return nil
}

// sameKey reports whether a and b agree on every column. NULLs never collide.
func sameKey(a, b Row, cols []string) bool {
	for _, c := range cols {
		if !valuesEqual(a[c], b[c]) {
			return false
		}
	}
	return len(cols) > 0
}

func add(a, b any) any {
	a, b = normalizeValue(a), normalizeValue(b)
	if x, ok := a.(int64); ok {
		if y, ok := b.(int64); ok {
			return x + y
		}
	}
	fa, aok := toFloat(a)
	fb, bok := toFloat(b)
	if !aok || !bok {
		return nil
	}
	return fa + fb
}

func qualified(table string, cols []string) string {
	var b bytes.Buffer
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(table + "." + c)
	}
	return b.String()
}
