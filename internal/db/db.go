// Package db is a small hand-written query layer over pgx, in the style of
// the generated query packages the rest of the corpus depends on (a
// DBTX interface plus a Queries wrapper so callers can pass either a pool or
// a single acquired connection/transaction).
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn, and pgx.Tx alike.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries groups all hand-written statements behind a single DBTX.
type Queries struct {
	db DBTX
}

// New wraps a DBTX (pool, connection, or transaction) in a Queries.
func New(dbtx DBTX) *Queries {
	return &Queries{db: dbtx}
}
