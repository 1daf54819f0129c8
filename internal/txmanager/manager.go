// Package txmanager owns the registry of held transactions for a process:
// creating them under the concurrency budget, looking them up by id,
// terminating them on commit/rollback or expiry, and publishing lifecycle
// events for each transition. Grounded on burrowctl's server/transactions.go
// TransactionManager (the map[id]*Transaction registry) generalized from an
// unbounded map into one guarded by spec.md §3's MaxConcurrent budget.
package txmanager

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heldtx/heldtx/internal/clock"
	"github.com/heldtx/heldtx/internal/config"
	"github.com/heldtx/heldtx/internal/dbtx"
	"github.com/heldtx/heldtx/internal/eventbus"
	"github.com/heldtx/heldtx/internal/heldtx"
	"github.com/heldtx/heldtx/internal/txerrors"
)

// Manager is the registry of held transactions live in this process.
type Manager struct {
	cfg     config.Config
	pool    dbtx.Pool
	clock   clock.Clock
	publish eventbus.Publisher

	mu   sync.Mutex
	txs  map[string]*heldtx.HeldTransaction

	reaper *Reaper
}

// New constructs a Manager. Publisher may be eventbus.NoOp{} when no
// broker is configured.
func New(cfg config.Config, pool dbtx.Pool, clk clock.Clock, publisher eventbus.Publisher) *Manager {
	if publisher == nil {
		publisher = eventbus.NoOp{}
	}
	return &Manager{
		cfg:     cfg,
		pool:    pool,
		clock:   clk,
		publish: publisher,
		txs:     make(map[string]*heldtx.HeldTransaction),
	}
}

// Create opens a new held transaction, enforcing the concurrency budget
// and the timeout clamp (spec.md §3, §4.1 step 1). requestedTimeout is nil
// when the caller didn't specify one.
func (m *Manager) Create(ctx context.Context, requestedTimeout *int) (heldtx.View, error) {
	m.mu.Lock()
	if len(m.txs) >= m.cfg.MaxConcurrent {
		m.mu.Unlock()
		return heldtx.View{}, &txerrors.ConcurrencyLimitError{Limit: m.cfg.MaxConcurrent}
	}
	id := uuid.NewString()
	timeout := m.cfg.ClampTimeout(requestedTimeout)
	ht := heldtx.New(id, timeout, m.pool, m.clock)
	m.txs[id] = ht
	m.mu.Unlock()

	if err := ht.Start(ctx); err != nil {
		m.mu.Lock()
		delete(m.txs, id)
		m.mu.Unlock()
		return heldtx.View{}, err
	}

	view := ht.AsView()
	m.publish.Publish(ctx, eventbus.LifecycleEvent{
		Event:         eventbus.EventCreated,
		TransactionID: id,
		State:         string(view.State),
		At:            m.clock.Now(),
	})
	return view, nil
}

// Find returns the held transaction for id, or NotFoundError. The returned
// handle is live: callers use it to Submit operations.
func (m *Manager) Find(id string) (*heldtx.HeldTransaction, error) {
	m.mu.Lock()
	ht, ok := m.txs[id]
	m.mu.Unlock()
	if !ok {
		return nil, &txerrors.NotFoundError{ID: id}
	}
	return ht, nil
}

// View returns the current snapshot of a held transaction for read-only
// inspection (e.g. GET /transactions/{id}).
func (m *Manager) View(id string) (heldtx.View, error) {
	ht, err := m.Find(id)
	if err != nil {
		return heldtx.View{}, err
	}
	return ht.AsView(), nil
}

// ActiveTransactions returns a snapshot of every currently open held
// transaction (spec.md §4.2 active_transactions).
func (m *Manager) ActiveTransactions() []heldtx.View {
	m.mu.Lock()
	defer m.mu.Unlock()
	views := make([]heldtx.View, 0, len(m.txs))
	for _, ht := range m.txs {
		if ht.IsOpen() {
			views = append(views, ht.AsView())
		}
	}
	return views
}

// Commit commits the held transaction identified by id and removes it
// from the registry.
func (m *Manager) Commit(ctx context.Context, id string) error {
	return m.terminate(ctx, id, eventbus.EventCommitted, func(ht *heldtx.HeldTransaction) error {
		return ht.Commit(ctx)
	})
}

// Rollback rolls back the held transaction identified by id and removes
// it from the registry.
func (m *Manager) Rollback(ctx context.Context, id string) error {
	return m.terminate(ctx, id, eventbus.EventRolledBack, func(ht *heldtx.HeldTransaction) error {
		return ht.Rollback(ctx)
	})
}

// terminate is the path by which Commit and Rollback remove a held
// transaction from the registry and finish it. Resolves spec.md §9's race
// between a user-initiated commit and a concurrent reaper sweep: this
// function and reapExpired both take the registry mutex and remove the
// entry only if it is still present, and the transaction-level call
// (ht.Commit / ht.Rollback) itself rejects a second terminal transition,
// so only the first to arrive does any work; the loser gets NotFoundError
// here or is skipped by the reaper. The lifecycle event is published only
// when the transaction-level call succeeds.
func (m *Manager) terminate(ctx context.Context, id string, event string, do func(*heldtx.HeldTransaction) error) error {
	m.mu.Lock()
	ht, ok := m.txs[id]
	if ok {
		delete(m.txs, id)
	}
	m.mu.Unlock()
	if !ok {
		return &txerrors.NotFoundError{ID: id}
	}

	if err := do(ht); err != nil {
		return err
	}
	view := ht.AsView()
	m.publish.Publish(ctx, eventbus.LifecycleEvent{
		Event:         event,
		TransactionID: id,
		State:         string(view.State),
		At:            m.clock.Now(),
	})
	return nil
}

// reapExpired is called by the Reaper on every sweep: it rolls back every
// currently-registered transaction whose deadline has passed. An expired
// entry is removed from the registry even when its rollback fails; the
// failure is logged and no event is published for it.
func (m *Manager) reapExpired(ctx context.Context) {
	m.mu.Lock()
	var expired []*heldtx.HeldTransaction
	for _, ht := range m.txs {
		if ht.IsExpired() {
			expired = append(expired, ht)
		}
	}
	m.mu.Unlock()

	for _, ht := range expired {
		id := ht.ID()
		m.mu.Lock()
		_, stillPresent := m.txs[id]
		if stillPresent {
			delete(m.txs, id)
		}
		m.mu.Unlock()
		if !stillPresent {
			continue
		}
		if err := ht.Rollback(ctx); err != nil {
			log.Printf("[heldtx] %s: reaper rollback failed: %v", id, err)
			continue
		}
		view := ht.AsView()
		m.publish.Publish(ctx, eventbus.LifecycleEvent{
			Event:         eventbus.EventExpired,
			TransactionID: id,
			State:         string(view.State),
			At:            m.clock.Now(),
		})
	}
}

// ActiveCount returns the number of currently-registered held
// transactions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

// StartReaper launches the background sweep that rolls back expired held
// transactions, and remembers it so Shutdown can stop it later.
func (m *Manager) StartReaper() {
	interval := time.Duration(m.cfg.ReaperIntervalSeconds) * time.Second
	m.reaper = NewReaper(m, interval)
	m.reaper.Start()
}

// Shutdown stops the reaper and rolls back every still-open held
// transaction, releasing their pinned connections.
func (m *Manager) Shutdown(ctx context.Context) {
	if m.reaper != nil {
		m.reaper.Stop()
	}

	m.mu.Lock()
	remaining := make([]*heldtx.HeldTransaction, 0, len(m.txs))
	for _, ht := range m.txs {
		remaining = append(remaining, ht)
	}
	m.txs = make(map[string]*heldtx.HeldTransaction)
	m.mu.Unlock()

	for _, ht := range remaining {
		_ = ht.Rollback(ctx)
	}
}
