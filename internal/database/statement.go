package database

import (
	"fmt"
	"strings"
)

// CondOp is a WHERE predicate shape. Only these shapes exist, so every
// statement a backend receives is one it can evaluate.
type CondOp int

const (
	// OpEq is "column = ?"
	OpEq CondOp = iota
	// OpEqFold is "LOWER(TRIM(column)) = LOWER(TRIM(?))"
	OpEqFold
)

// Cond is one conjunct of a WHERE clause
type Cond struct {
	Column string
	Op     CondOp
	Value  any
}

// Eq matches rows whose column equals value
func Eq(column string, value any) Cond {
	return Cond{Column: column, Op: OpEq, Value: value}
}

// EqFold matches rows whose column equals value ignoring case and
// surrounding whitespace
func EqFold(column string, value any) Cond {
	return Cond{Column: column, Op: OpEqFold, Value: value}
}

func (c Cond) sql() string {
	if c.Op == OpEqFold {
		return fmt.Sprintf("LOWER(TRIM(%s)) = LOWER(TRIM(?))", c.Column)
	}
	return c.Column + " = ?"
}

func (c Cond) matches(row Row) bool {
	if c.Op == OpEqFold {
		return foldEqual(row[c.Column], c.Value)
	}
	return valuesEqual(row[c.Column], c.Value)
}

// Order is an ORDER BY term
type Order struct {
	Column string
	Desc   bool
}

// Asc orders by column ascending
func Asc(column string) Order { return Order{Column: column} }

// Desc orders by column descending
func Desc(column string) Order { return Order{Column: column, Desc: true} }

// Statement is implemented by every typed statement
type Statement interface {
	// TableName is the statement's target table
	TableName() string
	// SQL renders the statement as parameterized SQL
	SQL() (string, []any)
	columns() []string
}

// Mutation is a statement accepted by Run
type Mutation interface {
	Statement
	kind() ChangeKind
}

// Select reads rows. Empty Columns selects every column.
type Select struct {
	Table   string
	Columns []string
	Where   []Cond
	OrderBy []Order
	Limit   int
}

// From builds a Select of every column matching where
func From(table string, where ...Cond) Select {
	return Select{Table: table, Where: where}
}

func (s Select) TableName() string { return s.Table }

func (s Select) SQL() (string, []any) {
	cols := "*"
	if len(s.Columns) > 0 {
		cols = strings.Join(s.Columns, ", ")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, s.Table)
	args := writeWhere(&b, s.Where)
	if len(s.OrderBy) > 0 {
		terms := make([]string, len(s.OrderBy))
		for i, o := range s.OrderBy {
			terms[i] = o.Column
			if o.Desc {
				terms[i] += " DESC"
			}
		}
		b.WriteString(" ORDER BY " + strings.Join(terms, ", "))
	}
	if s.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", s.Limit)
	}
	return b.String(), args
}

func (s Select) columns() []string {
	cols := append([]string{}, s.Columns...)
	cols = append(cols, condColumns(s.Where)...)
	for _, o := range s.OrderBy {
		cols = append(cols, o.Column)
	}
	return cols
}

// Insert adds one row
type Insert struct {
	Table   string
	Columns []string
	Values  []any
}

// InsertRow builds an Insert from column/value pairs in order
func InsertRow(table string, pairs ...Assignment) Insert {
	ins := Insert{Table: table}
	for _, p := range pairs {
		ins.Columns = append(ins.Columns, p.Column)
		ins.Values = append(ins.Values, p.Value)
	}
	return ins
}

func (i Insert) TableName() string { return i.Table }

func (i Insert) SQL() (string, []any) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(i.Columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", i.Table, strings.Join(i.Columns, ", "), placeholders), i.Values
}

func (i Insert) columns() []string { return i.Columns }

func (i Insert) kind() ChangeKind { return ChangeInsert }

// value returns the value bound to column, if present
func (i Insert) value(column string) (any, bool) {
	for idx, c := range i.Columns {
		if c == column && idx < len(i.Values) {
			return i.Values[idx], true
		}
	}
	return nil, false
}

// Upsert inserts a row, or when a row with the same ConflictColumns exists,
// adds the new values of the Increment columns to it. With no Increment
// columns the conflicting insert is ignored.
type Upsert struct {
	Insert
	ConflictColumns []string
	Increment       []string
}

func (u Upsert) SQL() (string, []any) {
	query, args := u.Insert.SQL()
	query += fmt.Sprintf(" ON CONFLICT(%s) DO ", strings.Join(u.ConflictColumns, ", "))
	if len(u.Increment) == 0 {
		return query + "NOTHING", args
	}
	sets := make([]string, len(u.Increment))
	for i, c := range u.Increment {
		sets[i] = fmt.Sprintf("%s = %s + excluded.%s", c, c, c)
	}
	return query + "UPDATE SET " + strings.Join(sets, ", "), args
}

func (u Upsert) columns() []string {
	cols := append([]string{}, u.Insert.Columns...)
	cols = append(cols, u.ConflictColumns...)
	return append(cols, u.Increment...)
}

func (u Upsert) kind() ChangeKind { return ChangeUpsert }

// Assignment is one column/value pair
type Assignment struct {
	Column string
	Value  any
}

// Set builds an Assignment
func Set(column string, value any) Assignment {
	return Assignment{Column: column, Value: value}
}

// Update changes matching rows
type Update struct {
	Table string
	Set   []Assignment
	Where []Cond
}

func (u Update) TableName() string { return u.Table }

func (u Update) SQL() (string, []any) {
	sets := make([]string, len(u.Set))
	args := make([]any, 0, len(u.Set)+len(u.Where))
	for i, a := range u.Set {
		sets[i] = a.Column + " = ?"
		args = append(args, a.Value)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "UPDATE %s SET %s", u.Table, strings.Join(sets, ", "))
	args = append(args, writeWhere(&b, u.Where)...)
	return b.String(), args
}

func (u Update) columns() []string {
	cols := make([]string, 0, len(u.Set)+len(u.Where))
	for _, a := range u.Set {
		cols = append(cols, a.Column)
	}
	return append(cols, condColumns(u.Where)...)
}

func (u Update) kind() ChangeKind { return ChangeUpdate }

// Delete removes matching rows; with no conditions it removes every row
type Delete struct {
	Table string
	Where []Cond
}

func (d Delete) TableName() string { return d.Table }

func (d Delete) SQL() (string, []any) {
	var b strings.Builder
	b.WriteString("DELETE FROM " + d.Table)
	args := writeWhere(&b, d.Where)
	return b.String(), args
}

func (d Delete) columns() []string { return condColumns(d.Where) }

func (d Delete) kind() ChangeKind { return ChangeDelete }

func writeWhere(b *strings.Builder, where []Cond) []any {
	if len(where) == 0 {
		return nil
	}
	parts := make([]string, len(where))
	args := make([]any, len(where))
	for i, c := range where {
		parts[i] = c.sql()
		args[i] = c.Value
	}
	b.WriteString(" WHERE " + strings.Join(parts, " AND "))
	return args
}

func condColumns(where []Cond) []string {
	cols := make([]string, len(where))
	for i, c := range where {
		cols[i] = c.Column
	}
	return cols
}

func matchesAll(row Row, where []Cond) bool {
	for _, c := range where {
		if !c.matches(row) {
			return false
		}
	}
	return true
}

// validate checks that the statement only names schema tables and columns
func validate(stmt Statement) (*Table, error) {
	t, err := LookupTable(stmt.TableName())
	if err != nil {
		return nil, err
	}
	for _, c := range stmt.columns() {
		if _, ok := t.Column(c); !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownColumn, t.Name, c)
		}
	}
	if ins, ok := stmt.(Insert); ok {
		if err := checkInsertShape(ins); err != nil {
			return nil, err
		}
	}
	if up, ok := stmt.(Upsert); ok {
		if err := checkInsertShape(up.Insert); err != nil {
			return nil, err
		}
		if len(up.ConflictColumns) == 0 {
			return nil, fmt.Errorf("%w: upsert without conflict columns", ErrUnsupportedStatement)
		}
	}
	if upd, ok := stmt.(Update); ok && len(upd.Set) == 0 {
		return nil, fmt.Errorf("%w: update without assignments", ErrUnsupportedStatement)
	}
	return t, nil
}

func checkInsertShape(ins Insert) error {
	if len(ins.Columns) == 0 {
		return fmt.Errorf("%w: insert without columns", ErrUnsupportedStatement)
	}
	if len(ins.Columns) != len(ins.Values) {
		return fmt.Errorf("%w: %d columns but %d values", ErrUnsupportedStatement, len(ins.Columns), len(ins.Values))
	}
	return nil
}
