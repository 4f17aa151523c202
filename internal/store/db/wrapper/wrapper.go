package wrapper

import (
	"context"
	"database/sql"
)

// SqlDB is satisfied by *sql.DB and *sql.Tx, so chunk writes can join a transaction.
type SqlDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
