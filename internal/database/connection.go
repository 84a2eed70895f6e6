package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// querier is the subset of *sql.DB and *sql.Tx the SQLite backend uses
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func sqliteQuery(ctx context.Context, q querier, s Select) ([]Row, error) {
	query, args := s.SQL()
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	return scanRows(rows)
}

func sqliteRun(ctx context.Context, q querier, t *Table, m Mutation) (Result, error) {
	stmt, args := m.SQL()
	res, err := q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return Result{}, translateError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Result{}, fmt.Errorf("failed to read affected rows: %w", err)
	}

	out := Result{Changes: n}
	if n > 0 {
		out.LastID = insertedID(t, m)
	}
	return out, nil
}

// scanRows drains rows into normalized Rows and closes them
func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(Row, len(cols))
		for i, c := range cols {
			row[columnKey(c)] = normalizeValue(values[i])
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// columnKey strips a table qualifier so "users.id" reads back as "id"
func columnKey(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 && !strings.ContainsAny(name, "( ") {
		return name[i+1:]
	}
	return name
}
