package dbtx

import (
	"context"
	"database/sql"
	"fmt"
)

// Savepoint is a nested marker within the outer transaction, implemented as
// literal SQL statements rather than database/sql's (nonexistent) nested
// Tx.Begin — database/sql has no native savepoint API, so the worker issues
// SAVEPOINT / RELEASE SAVEPOINT / ROLLBACK TO SAVEPOINT directly, which is
// exactly what spec.md §9's open question asks an implementer to assert or
// refuse to start: MySQL's InnoDB engine implements these as real nested
// markers, not no-ops.
type Savepoint struct {
	tx   *sql.Tx
	name string
}

// NewSavepoint opens a savepoint named name within tx.
func NewSavepoint(ctx context.Context, tx *sql.Tx, name string) (*Savepoint, error) {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SAVEPOINT %s", name)); err != nil {
		return nil, fmt.Errorf("%w: open savepoint %s: %v", ErrTxFailed, name, translateError(err))
	}
	return &Savepoint{tx: tx, name: name}, nil
}

// Release discards the savepoint marker, keeping everything done since it
// was opened. The outer transaction is left open and reusable.
func (s *Savepoint) Release(ctx context.Context) error {
	if _, err := s.tx.ExecContext(ctx, fmt.Sprintf("RELEASE SAVEPOINT %s", s.name)); err != nil {
		return fmt.Errorf("%w: release savepoint %s: %v", ErrTxFailed, s.name, translateError(err))
	}
	return nil
}

// RollbackTo undoes everything done since the savepoint was opened, without
// affecting the outer transaction.
func (s *Savepoint) RollbackTo(ctx context.Context) error {
	if _, err := s.tx.ExecContext(ctx, fmt.Sprintf("ROLLBACK TO SAVEPOINT %s", s.name)); err != nil {
		return fmt.Errorf("%w: rollback to savepoint %s: %v", ErrTxFailed, s.name, translateError(err))
	}
	return nil
}
