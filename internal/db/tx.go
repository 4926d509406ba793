package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// Querier is the subset of pgx used by repositories; satisfied by *pgxpool.Pool, pgx.Tx and pgxmock.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner starts transactions.
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Transactor runs fn inside a single transaction. Repositories called with the ctx passed to fn
// participate in that transaction. A nil error from fn commits; anything else rolls back.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// QuerierFrom returns the transaction bound to ctx, or fallback when ctx carries none.
func QuerierFrom(ctx context.Context, fallback Querier) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok && tx != nil {
		return tx
	}
	return fallback
}

// PgxTransactor implements Transactor on a pgx pool.
type PgxTransactor struct {
	pool   Beginner
	logger *zap.Logger
}

// NewPgxTransactor returns a Transactor beginning transactions on pool.
func NewPgxTransactor(pool Beginner, logger *zap.Logger) *PgxTransactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PgxTransactor{pool: pool, logger: logger}
}

// WithTx begins a transaction, unless ctx already carries one, in which case fn joins it.
func (t *PgxTransactor) WithTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}
	tx, err := t.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db: begin: %w", err)
	}
	txCtx := context.WithValue(ctx, txKey{}, tx)
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				t.logger.Error("rollback failed", zap.Error(rbErr))
			}
			return
		}
		if cErr := tx.Commit(ctx); cErr != nil {
			err = fmt.Errorf("db: commit: %w", cErr)
		}
	}()
	return fn(txCtx)
}
