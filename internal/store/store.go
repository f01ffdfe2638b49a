// Package store implements the transactional core: inventory ledger,
// coupon engine, order assembly and order lifecycle, all as raw SQL
// against Postgres. Multi-step workflows run inside a single transaction;
// stock and usage counters mutate only through conditional UPDATEs so the
// invariants hold under concurrent requests.
package store

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so single-statement
// helpers can run standalone or inside a larger transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
