package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/heldtx/heldtx/internal/dbtx"
	"github.com/heldtx/heldtx/internal/txerrors"
)

// writeError maps err to spec.md §6/§7's closed status taxonomy and writes
// an errors-array envelope, attaching a meta block whenever err carries
// enough to identify the held transaction it concerns. Grounded on
// contenox-runtime's apiframework.Error, which maps a domain error to an
// HTTP status before ever looking at its message text.
func writeError(w http.ResponseWriter, err error) {
	status, meta := classify(err)
	writeEnvelope(w, status, envelope{
		Errors: []errorItem{{Status: strconv.Itoa(status), Detail: err.Error()}},
		Meta:   meta,
	})
}

// WriteDispatchError renders an error returned from Dispatcher.Dispatch.
// transactionID is whatever Dispatch returned alongside the error — empty
// when the request never carried X-Transaction-ID. An OperationError gets
// its meta block from transactionID, since the error value itself doesn't
// carry the id; every other kind in the taxonomy carries enough to derive
// its own meta (or none).
func WriteDispatchError(w http.ResponseWriter, transactionID string, err error) {
	var opErr *txerrors.OperationError
	if !errors.As(err, &opErr) {
		writeError(w, err)
		return
	}
	status := http.StatusInternalServerError
	if dbtx.IsValidationClass(opErr.Cause) {
		status = http.StatusUnprocessableEntity
	}
	writeEnvelope(w, status, envelope{
		Errors: []errorItem{{Status: strconv.Itoa(status), Detail: opErr.Error()}},
		Meta:   operationMeta(transactionID, opErr.RolledBack),
	})
}

func classify(err error) (int, map[string]any) {
	var notFound *txerrors.NotFoundError
	if errors.As(err, &notFound) {
		return http.StatusNotFound, nil
	}

	var expired *txerrors.ExpiredError
	if errors.As(err, &expired) {
		return http.StatusGone, operationMeta(expired.ID, true)
	}

	var limit *txerrors.ConcurrencyLimitError
	if errors.As(err, &limit) {
		return http.StatusTooManyRequests, nil
	}

	var invalidTransition *txerrors.InvalidStateTransitionError
	if errors.As(err, &invalidTransition) {
		return http.StatusUnprocessableEntity, nil
	}

	var opErr *txerrors.OperationError
	if errors.As(err, &opErr) {
		if dbtx.IsValidationClass(opErr.Cause) {
			return http.StatusUnprocessableEntity, nil
		}
		return http.StatusInternalServerError, nil
	}

	if dbtx.IsValidationClass(err) {
		return http.StatusUnprocessableEntity, nil
	}

	return http.StatusInternalServerError, nil
}

// operationMeta builds the meta block spec.md §6 attaches to a response
// whose action ran inside a held transaction.
func operationMeta(transactionID string, rolledBack bool) map[string]any {
	return map[string]any{
		"transaction_id":           transactionID,
		"transaction_rolled_back": rolledBack,
	}
}
