package database

import (
	"errors"
	"fmt"
)

// Op names the Connection Manager primitive that failed.
type Op string

const (
	OpInitialize  Op = "initialize"
	OpQuery       Op = "query"
	OpRun         Op = "run"
	OpExecute     Op = "execute"
	OpTransaction Op = "transaction"
)

var (
	// ErrConstraint marks writes rejected by a NOT NULL, CHECK, UNIQUE,
	// PRIMARY KEY or FOREIGN KEY rule.
	ErrConstraint = errors.New("constraint failed")
	// ErrUnsupportedStatement is returned for statement shapes the active
	// backend cannot interpret.
	ErrUnsupportedStatement = errors.New("unsupported statement")
	// ErrUnknownTable is returned for statements naming a table outside the schema.
	ErrUnknownTable = errors.New("unknown table")
	// ErrUnknownColumn is returned for statements naming a column outside the schema.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("database closed")
)

// Error wraps a backend failure with the primitive that produced it.
type Error struct {
	Op  Op
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(op Op, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}

func constraintError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConstraint, fmt.Sprintf(format, args...))
}
