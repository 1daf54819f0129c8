package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/heldtx/heldtx/internal/heldtx"
	"github.com/heldtx/heldtx/internal/txerrors"
	"github.com/heldtx/heldtx/internal/txmanager"
)

// AddTransactionRoutes registers the held-transaction lifecycle endpoints
// on mux: open, inspect, and update (commit/rollback). Grounded on
// contenox-runtime's backendapi.AddBackendRoutes, which registers one
// manager struct's methods against Go 1.22 method-pattern routes.
func AddTransactionRoutes(mux *http.ServeMux, manager *txmanager.Manager) {
	c := &transactionController{manager: manager}

	mux.HandleFunc("POST /transactions", c.create)
	mux.HandleFunc("GET /transactions", c.list)
	mux.HandleFunc("GET /transactions/{id}", c.get)
	mux.HandleFunc("PATCH /transactions/{id}", c.update)
}

type transactionController struct {
	manager *txmanager.Manager
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

const resourceType = "transactions"

// transactionAttributes is the `attributes` member of a transactions
// resource, exactly the fields §6 names.
type transactionAttributes struct {
	State          string `json:"state"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	CreatedAt      string `json:"created_at"`
	ExpiresAt      string `json:"expires_at"`
}

// transactionResource is the `data` payload for a held transaction: §6
// requires exactly {"type": "transactions", "id": <id>, "attributes": {...}}.
type transactionResource struct {
	Type       string                `json:"type"`
	ID         string                `json:"id"`
	Attributes transactionAttributes `json:"attributes"`
}

func viewToResource(v heldtx.View) transactionResource {
	return transactionResource{
		Type: resourceType,
		ID:   v.ID,
		Attributes: transactionAttributes{
			State:          string(v.State),
			TimeoutSeconds: v.TimeoutSeconds,
			CreatedAt:      v.CreatedAt.Format(timeLayout),
			ExpiresAt:      v.ExpiresAt.Format(timeLayout),
		},
	}
}

// dataEnvelope is the `{"data": {...}}` request envelope §6 documents for
// create and update.
type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

type createAttributes struct {
	TimeoutSeconds *int `json:"timeout_seconds"`
}

type createResourceRequest struct {
	Type       string           `json:"type"`
	Attributes createAttributes `json:"attributes"`
}

// create opens a new held transaction (spec.md §4.2 create). An absent
// body is valid: the default timeout applies; a present body must match
// the documented {"data": {"type": "transactions", "attributes": {...}}}
// envelope.
func (c *transactionController) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := decodeJSON[dataEnvelope[createResourceRequest]](r)
	if err != nil && !errors.Is(err, io.EOF) {
		WriteBadRequest(w, "malformed request body")
		return
	}

	view, err := c.manager.Create(ctx, req.Data.Attributes.TimeoutSeconds)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, viewToResource(view))
}

// list returns every currently open held transaction (spec.md §4.2 list).
func (c *transactionController) list(w http.ResponseWriter, r *http.Request) {
	views := c.manager.ActiveTransactions()
	resources := make([]transactionResource, 0, len(views))
	for _, v := range views {
		resources = append(resources, viewToResource(v))
	}
	writeData(w, http.StatusOK, resources)
}

// get returns the current state of a held transaction (spec.md §4.2 read).
func (c *transactionController) get(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	view, err := c.manager.View(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, viewToResource(view))
}

type updateAttributes struct {
	State string `json:"state"`
}

type updateResourceRequest struct {
	Type       string           `json:"type"`
	ID         string           `json:"id"`
	Attributes updateAttributes `json:"attributes"`
}

// update commits or rolls back a held transaction (spec.md §4.2
// commit/rollback). Any state value other than "committed" or
// "rolled_back" is an InvalidStateTransitionError. The response carries
// the affected transaction's as_view bundle (spec.md §4.4), captured
// before the Manager removes its registry entry.
func (c *transactionController) update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	req, err := decodeJSON[dataEnvelope[updateResourceRequest]](r)
	if err != nil {
		WriteBadRequest(w, "malformed request body")
		return
	}

	ht, err := c.manager.Find(id)
	if err != nil {
		writeError(w, err)
		return
	}

	switch req.Data.Attributes.State {
	case string(heldtx.StateCommitted):
		err = c.manager.Commit(ctx, id)
	case string(heldtx.StateRolledBack):
		err = c.manager.Rollback(ctx, id)
	default:
		err = &txerrors.InvalidStateTransitionError{Value: req.Data.Attributes.State}
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeData(w, http.StatusOK, viewToResource(ht.AsView()))
}
