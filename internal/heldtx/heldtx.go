// Package heldtx implements a single held transaction: one outer database
// transaction pinned to one worker goroutine, fed by a strictly serial
// operation queue, that outlives any single HTTP request and is committed
// or rolled back as a unit once its owner says so (spec.md §2, §4.1).
package heldtx

import (
	"context"
	"sync"
	"time"

	"github.com/heldtx/heldtx/internal/clock"
	"github.com/heldtx/heldtx/internal/dbtx"
	"github.com/heldtx/heldtx/internal/txerrors"
)

// State is a held transaction's lifecycle state (spec.md §3).
type State string

const (
	StateOpen       State = "open"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

// View is a read-only snapshot of a held transaction's identity and
// lifecycle fields, safe to hand to the HTTP layer without exposing the
// worker or queue.
type View struct {
	ID             string
	State          State
	TimeoutSeconds int
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// HeldTransaction owns one outer *sql.Tx on one pinned connection, run by
// one dedicated worker goroutine. Start, Submit, Commit and Rollback are
// thin clients of that worker: each posts an operation on the queue and
// waits for the matching response (spec.md §4.1). The read-only accessors
// read the instance's fields directly.
type HeldTransaction struct {
	id             string
	pool           dbtx.Pool
	clock          clock.Clock
	timeoutSeconds int
	createdAt      time.Time
	expiresAt      time.Time

	stateMu sync.Mutex
	state   State

	queue chan operation
	done  chan struct{} // closed once the worker stops reading the queue
}

// New constructs a held transaction in the open state. The worker is not
// started until Start is called.
func New(id string, timeoutSeconds int, pool dbtx.Pool, clk clock.Clock) *HeldTransaction {
	now := clk.Now()
	return &HeldTransaction{
		id:             id,
		pool:           pool,
		clock:          clk,
		timeoutSeconds: timeoutSeconds,
		createdAt:      now,
		expiresAt:      now.Add(time.Duration(timeoutSeconds) * time.Second),
		state:          StateOpen,
		queue:          make(chan operation),
		done:           make(chan struct{}),
	}
}

// ID returns the held transaction's identifier.
func (h *HeldTransaction) ID() string { return h.id }

// Start acquires the pinned connection, opens the outer transaction, and
// blocks until the worker confirms it is ready to accept operations
// (spec.md §4.1 step 1-2).
func (h *HeldTransaction) Start(ctx context.Context) error {
	go h.runWorker()
	_, err := h.sendOp(ctx, operation{kind: opReadyProbe})
	return err
}

// Submit queues action to run inside its own savepoint nested in the outer
// transaction, and waits for the result (spec.md §4.1 step 3-5). Fails with
// ExpiredError if the held transaction is not open.
func (h *HeldTransaction) Submit(ctx context.Context, action Action) (any, error) {
	if !h.IsOpen() {
		return nil, &txerrors.ExpiredError{ID: h.id}
	}
	return h.sendOp(ctx, operation{kind: opExecute, action: action})
}

// Commit transitions the held transaction to committed and waits for the
// worker to commit the outer transaction and release the connection.
func (h *HeldTransaction) Commit(ctx context.Context) error {
	if err := h.transitionTo(StateCommitted); err != nil {
		return err
	}
	_, err := h.sendOp(ctx, operation{kind: opTerminate, terminal: StateCommitted})
	return err
}

// Rollback transitions the held transaction to rolled_back and waits for
// the worker to roll back the outer transaction and release the
// connection.
func (h *HeldTransaction) Rollback(ctx context.Context) error {
	if err := h.transitionTo(StateRolledBack); err != nil {
		return err
	}
	_, err := h.sendOp(ctx, operation{kind: opTerminate, terminal: StateRolledBack})
	return err
}

// IsOpen reports whether the held transaction still accepts operations.
func (h *HeldTransaction) IsOpen() bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.state == StateOpen
}

// IsExpired reports whether the held transaction is still open but past
// its deadline. An already-terminal transaction is not "expired", it is
// simply no longer open.
func (h *HeldTransaction) IsExpired() bool {
	h.stateMu.Lock()
	state := h.state
	h.stateMu.Unlock()
	return state == StateOpen && h.clock.Now().After(h.expiresAt)
}

// AsView snapshots the held transaction's identity and lifecycle fields.
func (h *HeldTransaction) AsView() View {
	h.stateMu.Lock()
	state := h.state
	h.stateMu.Unlock()
	return View{
		ID:             h.id,
		State:          state,
		TimeoutSeconds: h.timeoutSeconds,
		CreatedAt:      h.createdAt,
		ExpiresAt:      h.expiresAt,
	}
}

// transitionTo is the single place the state field is mutated from outside
// the worker's own fault path: it guards only the check-and-set, never the
// database work that follows, so it can never deadlock with the worker
// loop waiting on the same mutex.
func (h *HeldTransaction) transitionTo(target State) error {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if h.state != StateOpen {
		return &txerrors.ExpiredError{ID: h.id}
	}
	h.state = target
	return nil
}

// markFaulted is the worker's own path to rolled_back when it hits an
// unrecoverable error outside of any single operation (spec.md §7 (v)).
func (h *HeldTransaction) markFaulted() {
	h.stateMu.Lock()
	h.state = StateRolledBack
	h.stateMu.Unlock()
}

// sendOp posts op on the queue and waits for its response, unblocking
// early if ctx is done or the worker has already stopped reading (a
// terminate accepted concurrently with this call).
func (h *HeldTransaction) sendOp(ctx context.Context, op operation) (any, error) {
	resp := make(chan opResult, 1)
	op.resp = resp

	select {
	case h.queue <- op:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, &txerrors.ExpiredError{ID: h.id}
	}

	select {
	case res := <-resp:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
