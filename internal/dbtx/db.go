package dbtx

import (
	"context"
	"database/sql"
)

// Exec is the common surface for running statements against either the bare
// connection pool or a pinned connection/transaction. Grounded on
// contenox-runtime's libdbexec.Exec interface.
type Exec interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) QueryRower
}

// QueryRower lets callers Scan a single row without caring whether it came
// from the pool or a transaction.
type QueryRower interface {
	Scan(dest ...any) error
}

// poolExec runs directly against the shared *sql.DB pool, each call
// potentially landing on a different physical connection.
type poolExec struct {
	db *sql.DB
}

func (e *poolExec) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := e.db.ExecContext(ctx, query, args...)
	return res, translateError(err)
}

func (e *poolExec) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	return rows, nil
}

func (e *poolExec) QueryRowContext(ctx context.Context, query string, args ...any) QueryRower {
	return &row{inner: e.db.QueryRowContext(ctx, query, args...)}
}

// txExec runs against a single *sql.Tx — the outer transaction a
// HeldTransaction's worker owns for its entire lifetime.
type txExec struct {
	tx *sql.Tx
}

func (e *txExec) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := e.tx.ExecContext(ctx, query, args...)
	return res, translateError(err)
}

func (e *txExec) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := e.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translateError(err)
	}
	return rows, nil
}

func (e *txExec) QueryRowContext(ctx context.Context, query string, args ...any) QueryRower {
	return &row{inner: e.tx.QueryRowContext(ctx, query, args...)}
}

type row struct {
	inner *sql.Row
}

func (r *row) Scan(dest ...any) error {
	return translateError(r.inner.Scan(dest...))
}
