package heldtx

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/heldtx/heldtx/internal/dbtx"
	"github.com/heldtx/heldtx/internal/txerrors"
)

// runWorker is the dedicated goroutine that owns the pinned connection and
// the outer transaction for this held transaction's entire lifetime.
// Grounded on burrowctl's server/worker_pool.go (one goroutine draining one
// channel of tasks) and server/transactions.go (a *sql.Tx held across
// calls), generalized from "N workers share a queue" to "one worker owns
// one queue for the life of one transaction".
func (h *HeldTransaction) runWorker() {
	defer close(h.done)

	// A terminate operation is acknowledged only after the outer transaction
	// has been finished and the pinned connection released, so Commit and
	// Rollback return once that work is done.
	var terminateAck chan opResult
	defer func() {
		if terminateAck != nil {
			terminateAck <- opResult{}
		}
	}()

	ctx := context.Background()

	conn, err := h.pool.AcquirePinned(ctx)
	if err != nil {
		h.markFaulted()
		log.Printf("[heldtx] %s: failed to acquire pinned connection: %v", h.id, err)
		return
	}
	defer conn.Release()

	tx, err := conn.BeginOuter(ctx)
	if err != nil {
		h.markFaulted()
		log.Printf("[heldtx] %s: failed to begin outer transaction: %v", h.id, err)
		return
	}

	finalState := StateRolledBack
	defer func() {
		h.finish(tx, finalState)
	}()

	opIndex := 0
	for op := range h.queue {
		switch op.kind {
		case opReadyProbe:
			op.resp <- opResult{}

		case opExecute:
			value, err, fatal := h.runOperation(ctx, tx, opIndex, op.action)
			opIndex++
			op.resp <- opResult{value: value, err: err}
			if fatal {
				h.markFaulted()
				log.Printf("[heldtx] %s: worker faulted mid-operation, rolling back: %v", h.id, err)
				return
			}

		case opTerminate:
			finalState = op.terminal
			terminateAck = op.resp
			return
		}
	}
}

// runOperation runs action inside its own savepoint. The bool return is
// true only when the failure is unrecoverable for the whole held
// transaction (a savepoint could not be opened, released, or rolled back),
// as opposed to an ordinary action error, which only undoes that one
// operation (spec.md §4.1 step 4, §7).
func (h *HeldTransaction) runOperation(ctx context.Context, tx *sql.Tx, idx int, action Action) (any, error, bool) {
	name := fmt.Sprintf("op_%d", idx)

	sp, err := dbtx.NewSavepoint(ctx, tx, name)
	if err != nil {
		return nil, &txerrors.OperationError{Cause: err, RolledBack: true}, true
	}

	value, actionErr := action(ctx, dbtx.WrapTx(tx))
	if actionErr != nil {
		if rbErr := sp.RollbackTo(ctx); rbErr != nil {
			return nil, &txerrors.OperationError{Cause: rbErr, RolledBack: true}, true
		}
		return nil, &txerrors.OperationError{Cause: actionErr, RolledBack: false}, false
	}

	if err := sp.Release(ctx); err != nil {
		return nil, &txerrors.OperationError{Cause: err, RolledBack: true}, true
	}

	return value, nil, false
}

// finish commits or rolls back the outer transaction according to
// finalState. Called exactly once, on every exit path of the worker loop.
func (h *HeldTransaction) finish(tx *sql.Tx, finalState State) {
	if finalState == StateCommitted {
		if err := tx.Commit(); err != nil {
			log.Printf("[heldtx] %s: commit failed, rolling back instead: %v", h.id, err)
			_ = tx.Rollback()
			h.markFaulted()
		}
		return
	}
	if err := tx.Rollback(); err != nil {
		log.Printf("[heldtx] %s: rollback failed: %v", h.id, err)
	}
}
