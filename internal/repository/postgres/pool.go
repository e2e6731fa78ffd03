// Package postgres backs the tracker's storage interfaces with pgx: merchant
// groups and their submissions, votes, the ban registry, push subscriptions
// and the tally outbox all share one pool through the DB wrapper.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is the subset of pgxpool.Pool the repositories actually touch.
// pgxmock's pool satisfies it too, which keeps repository tests databaseless.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// BeginTx serves the multi-statement writes: submission plus self-vote,
	// and vote upserts that re-flag their merchant for tallying.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

// DB hands the shared pool to every repository constructor.
type DB struct{ Pool PgxPool }

// New opens the tracker database pool. Sizing stays with the DSN; the hub's
// per-request work is short single-row transactions and the pgxpool
// defaults fit them.
func New(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close shuts the pool down.
func (db *DB) Close() { db.Pool.Close() }
