package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of pgxpool.Pool used by query methods. pgx.Tx also
// satisfies it, so a DB backed by a transaction can be passed anywhere a DB
// is expected.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type DB struct {
	Pool Querier

	pool *pgxpool.Pool
}

// Connect creates a connection pool and verifies connectivity
func Connect(databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(context.Background(), databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool, pool: pool}, nil
}

// WithTx returns a DB that executes all queries inside the given transaction.
func (db *DB) WithTx(tx pgx.Tx) *DB {
	return &DB{Pool: tx}
}

func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}
