package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxConfig controls how WithTx opens a transaction.
type TxConfig struct {
	IsoLevel         pgx.TxIsoLevel
	LockTimeout      time.Duration
	StatementTimeout time.Duration
}

// TxOption mutates a TxConfig.
type TxOption func(*TxConfig)

// WithLockTimeout bounds how long any row lock may be waited for.
func WithLockTimeout(d time.Duration) TxOption {
	return func(c *TxConfig) { c.LockTimeout = d }
}

// WithStatementTimeout bounds every statement in the transaction.
func WithStatementTimeout(d time.Duration) TxOption {
	return func(c *TxConfig) { c.StatementTimeout = d }
}

// WithIsoLevel overrides the isolation level.
func WithIsoLevel(level pgx.TxIsoLevel) TxOption {
	return func(c *TxConfig) { c.IsoLevel = level }
}

// WithTx executes fn within a read-committed transaction. Rows locked with
// FOR UPDATE are re-read at their latest committed version, so aggregates
// computed after taking a lock observe every concurrent post that finished first.
// Errors returned by fn or by the database are passed through Classify.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error, opts ...TxOption) error {
	cfg := TxConfig{IsoLevel: pgx.ReadCommitted}
	for _, opt := range opts {
		opt(&cfg)
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: cfg.IsoLevel})
	if err != nil {
		return Classify(fmt.Errorf("platform/db: begin tx: %w", err))
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if cfg.LockTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", cfg.LockTimeout.Milliseconds())); err != nil {
			return Classify(fmt.Errorf("platform/db: set lock_timeout: %w", err))
		}
	}
	if cfg.StatementTimeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", cfg.StatementTimeout.Milliseconds())); err != nil {
			return Classify(fmt.Errorf("platform/db: set statement_timeout: %w", err))
		}
	}

	if err := fn(tx); err != nil {
		return Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}
