// Package txerrors is the closed error taxonomy spec.md §7 defines for the
// held-transaction core: lookup, expiry, concurrency-limit, operation, and
// invalid-state-transition failures. The HTTP status for each kind is
// assigned by internal/httpapi.
package txerrors

import "fmt"

// NotFoundError is raised by Manager.Find/Commit/Rollback on an unknown id.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("transaction %q not found", e.ID)
}

// ExpiredError is raised when a held transaction is past its deadline, or
// already terminal, and a caller tries to use it anyway.
type ExpiredError struct {
	ID string
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("transaction %q has expired", e.ID)
}

// ConcurrencyLimitError is raised by Manager.Create when max_concurrent is
// already reached.
type ConcurrencyLimitError struct {
	Limit int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("concurrency limit of %d held transactions reached", e.Limit)
}

// OperationError wraps a failure from an action submitted to
// HeldTransaction.Submit. RolledBack is false when only the per-operation
// savepoint was rolled back (the held transaction is still open and
// reusable); true when the whole held transaction is gone (e.g. the worker
// faulted).
type OperationError struct {
	Cause      error
	RolledBack bool
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation failed: %v", e.Cause)
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// InvalidStateTransitionError is raised when an update requests a state
// other than "committed" or "rolled_back".
type InvalidStateTransitionError struct {
	Value string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %q", e.Value)
}
