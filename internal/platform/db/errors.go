package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Error kinds surfaced by the storage adapter and the repositories built on
// it. Callers match with errors.Is; the underlying driver error is wrapped,
// never returned directly.
var (
	ErrStorageFailure      = errors.New("storage failure")
	ErrNotFound            = errors.New("record not found")
	ErrDuplicate           = errors.New("duplicate natural key")
	ErrConstraintViolation = errors.New("constraint violation")
	ErrTransactionTimeout  = errors.New("transaction timed out")
	ErrMigrationFailed     = errors.New("migration failed")
	ErrChecksumMismatch    = errors.New("migration checksum mismatch")
	ErrFileLocked          = errors.New("database file is locked by another process")
)

// StorageError carries the sanitized context of a failed statement. The
// query is the statement text the adapter ran (parametrised, so it never
// contains user input); Params are the bound values.
type StorageError struct {
	Kind    error
	Message string
	Query   string
	Params  []any
}

// Error renders only the sanitized message. Query and Params stay out of
// user-visible output; structured logging may include them.
func (e *StorageError) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

func (e *StorageError) Unwrap() error { return e.Kind }

// classify maps a driver error onto the adapter taxonomy. SQLite reports
// constraint failures only through its message text, so the mapping is
// substring based.
func classify(err error, query string, params []any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &StorageError{Kind: ErrTransactionTimeout, Message: "transaction deadline exceeded", Query: query, Params: params}
	}
	msg := err.Error()
	kind := ErrStorageFailure
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE"):
		kind = ErrDuplicate
	case strings.Contains(msg, "FOREIGN KEY constraint failed") || strings.Contains(msg, "CHECK constraint failed"):
		kind = ErrConstraintViolation
	}
	return &StorageError{Kind: kind, Message: msg, Query: query, Params: params}
}
