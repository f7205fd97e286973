package db

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type contextKey string

const txKey contextKey = "db_tx"

// TxFromContext returns the transaction carried by ctx, or nil outside a
// RunInTransaction scope.
func TxFromContext(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey).(*sql.Tx)
	return tx
}

// RunInTransaction runs fn inside BEGIN IMMEDIATE / COMMIT under the store's
// default transaction deadline. fn receives a context carrying the open
// transaction; every adapter call made with that context joins the same
// scope. An error from fn rolls the transaction back and is returned
// unchanged, except a blown deadline, which surfaces as
// ErrTransactionTimeout. Nested calls join the enclosing transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.RunInTransactionTimeout(ctx, s.txTimeout, fn)
}

// RunInTransactionTimeout is RunInTransaction with an explicit deadline,
// used by bundle imports that carry their own transactionTimeout option.
func (s *Store) RunInTransactionTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if timeout <= 0 {
		timeout = s.txTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "BEGIN", nil)
	}

	txCtx := context.WithValue(ctx, txKey, tx)
	if err := fn(txCtx); err != nil {
		_ = tx.Rollback()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return classify(context.DeadlineExceeded, "", nil)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return classify(err, "COMMIT", nil)
	}
	return nil
}
