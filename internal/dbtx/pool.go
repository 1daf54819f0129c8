package dbtx

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// Pool is the facade the rest of the core uses to reach the relational
// store: a plain pool-backed Exec for non-transactional work, and a pinned
// connection for a HeldTransaction's worker.
type Pool interface {
	// WithoutTransaction returns an Exec backed directly by the connection
	// pool, used by the request dispatcher's non-transactional path and by
	// any handler that doesn't need a held transaction.
	WithoutTransaction() Exec
	// AcquirePinned reserves a single physical connection for the exclusive
	// use of one HeldTransaction's worker (spec.md §4.1 step 1). The
	// connection is never returned to the pool until Release is called.
	AcquirePinned(ctx context.Context) (*PinnedConn, error)
	// Close shuts down the underlying connection pool.
	Close() error
}

type mysqlPool struct {
	db *sql.DB
}

// Open opens a MySQL connection pool and verifies connectivity.
func Open(dsn string) (Pool, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("dbtx: open database: %w", translateError(err))
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("dbtx: ping database: %w", translateError(err))
	}
	return &mysqlPool{db: db}, nil
}

// OpenWithDB wraps an already-open *sql.DB, for tests that construct the
// pool via testcontainers or an in-process fixture.
func OpenWithDB(db *sql.DB) Pool {
	return &mysqlPool{db: db}
}

func (p *mysqlPool) WithoutTransaction() Exec {
	return &poolExec{db: p.db}
}

func (p *mysqlPool) AcquirePinned(ctx context.Context) (*PinnedConn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("dbtx: acquire connection: %w", translateError(err))
	}
	return &PinnedConn{conn: conn}, nil
}

func (p *mysqlPool) Close() error {
	return p.db.Close()
}

// PinnedConn is a single physical connection reserved for one worker's
// exclusive use for the life of a held transaction. Invariant (spec.md
// §4.1, §5): nothing outside the owning worker ever touches this connection.
type PinnedConn struct {
	conn *sql.Conn
}

// BeginOuter starts the outer transaction that spans the held transaction's
// entire lifetime.
func (p *PinnedConn) BeginOuter(ctx context.Context) (*sql.Tx, error) {
	tx, err := p.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin outer transaction: %v", ErrTxFailed, translateError(err))
	}
	return tx, nil
}

// Release returns the pinned connection to the pool. Safe to call once, on
// every exit path of the worker loop.
func (p *PinnedConn) Release() error {
	return p.conn.Close()
}

// WrapTx adapts tx to the Exec surface a submitted action observes.
func WrapTx(tx *sql.Tx) Exec {
	return &txExec{tx: tx}
}
