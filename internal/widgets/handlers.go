package widgets

import (
	"net/http"

	"github.com/heldtx/heldtx/internal/clock"
	"github.com/heldtx/heldtx/internal/httpapi"
)

// AddRoutes registers the demo widgets resource on mux. Every handler
// routes its database work through dispatcher, so a request carrying
// X-Transaction-ID runs inside that held transaction instead of its own
// connection (spec.md §4.3).
func AddRoutes(mux *http.ServeMux, dispatcher *httpapi.Dispatcher, clk clock.Clock) {
	h := &handler{dispatcher: dispatcher, clock: clk}

	mux.HandleFunc("POST /widgets", h.create)
	mux.HandleFunc("GET /widgets", h.list)
}

type handler struct {
	dispatcher *httpapi.Dispatcher
	clock      clock.Clock
}

type createWidgetRequest struct {
	Name string `json:"name"`
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httpapi.DecodeBody[createWidgetRequest](r)
	if err != nil {
		httpapi.WriteBadRequest(w, "malformed request body")
		return
	}

	value, transactionID, _, err := h.dispatcher.Dispatch(ctx, r, Create(req.Name, h.clock.Now()))
	if err != nil {
		httpapi.WriteDispatchError(w, transactionID, err)
		return
	}
	httpapi.WriteCreated(w, value)
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	value, transactionID, _, err := h.dispatcher.Dispatch(ctx, r, List)
	if err != nil {
		httpapi.WriteDispatchError(w, transactionID, err)
		return
	}
	httpapi.WriteOK(w, value)
}
