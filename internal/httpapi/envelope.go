// Package httpapi exposes the held-transaction core over HTTP: the
// lifecycle endpoints (open/commit/rollback/inspect a held transaction)
// and the transaction-aware request dispatcher that routes any other
// handler's database work either directly against the pool or into a
// held transaction's worker, keyed on the X-Transaction-ID header
// (spec.md §4.3, §6).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// TransactionHeader is the correlation header a caller attaches to any
// request that should run inside a held transaction.
const TransactionHeader = "X-Transaction-ID"

// envelope is the JSON:API-ish response shape spec.md §6 describes:
// a data object on success, an errors array on failure, and an optional
// meta block carrying transaction bookkeeping.
type envelope struct {
	Data   any            `json:"data,omitempty"`
	Errors []errorItem    `json:"errors,omitempty"`
	Meta   map[string]any `json:"meta,omitempty"`
}

type errorItem struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

// writeData writes an envelope with the given status and payload as data.
func writeData(w http.ResponseWriter, status int, data any) {
	writeEnvelope(w, status, envelope{Data: data})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func decodeJSON[T any](r *http.Request) (T, error) {
	var v T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(&v)
	return v, err
}

// WriteOK writes a 200 envelope, for any domain handler built on top of
// the dispatcher rather than the lifecycle controller.
func WriteOK(w http.ResponseWriter, data any) {
	writeData(w, http.StatusOK, data)
}

// WriteCreated writes a 201 envelope.
func WriteCreated(w http.ResponseWriter, data any) {
	writeData(w, http.StatusCreated, data)
}

// WriteBadRequest writes a malformed-request error envelope. This is not
// part of the closed taxonomy in spec.md §7 — it precedes any domain
// error, rejecting a body the dispatcher never gets to see.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	writeEnvelope(w, http.StatusBadRequest, envelope{
		Errors: []errorItem{{Status: strconv.Itoa(http.StatusBadRequest), Detail: detail}},
	})
}

// DecodeBody decodes r's JSON body into T for any domain handler built on
// top of the dispatcher.
func DecodeBody[T any](r *http.Request) (T, error) {
	return decodeJSON[T](r)
}
