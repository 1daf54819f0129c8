package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/heldtx/heldtx/internal/dbtx"
	"github.com/heldtx/heldtx/internal/heldtx"
	"github.com/heldtx/heldtx/internal/txerrors"
	"github.com/heldtx/heldtx/internal/txmanager"
)

// Dispatcher routes a database action either directly against the pool or
// into a held transaction, based on whether the request carries
// X-Transaction-ID. Grounded on burrowctl's server/server.go handleSQL,
// which branches on req.TransactionID != "" to run a query against either
// transaction.Tx or the plain pool; here the branch is lifted out of one
// SQL handler into a reusable dispatcher any domain handler can call.
type Dispatcher struct {
	manager *txmanager.Manager
	pool    dbtx.Pool
}

// NewDispatcher constructs a Dispatcher bound to manager and pool.
func NewDispatcher(manager *txmanager.Manager, pool dbtx.Pool) *Dispatcher {
	return &Dispatcher{manager: manager, pool: pool}
}

// Dispatch runs action against the pool, or against the held transaction
// named by r's X-Transaction-ID header. Returns the action's value and,
// when run inside a held transaction, the transaction id and whether the
// whole held transaction was rolled back (for the response meta block);
// a failed operation whose savepoint alone was rolled back reports false.
func (d *Dispatcher) Dispatch(ctx context.Context, r *http.Request, action heldtx.Action) (value any, transactionID string, rolledBack bool, err error) {
	id := r.Header.Get(TransactionHeader)
	if id == "" {
		value, err = action(ctx, d.pool.WithoutTransaction())
		return value, "", false, err
	}

	ht, err := d.manager.Find(id)
	if err != nil {
		return nil, id, false, err
	}

	value, err = ht.Submit(ctx, action)
	if err != nil {
		var opErr *txerrors.OperationError
		if errors.As(err, &opErr) {
			return nil, id, opErr.RolledBack, err
		}
		return nil, id, false, err
	}
	return value, id, false, nil
}
