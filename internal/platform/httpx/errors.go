// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/odyssey-erp/stockops/internal/shared"
)

// ErrBadRequest marks undecodable request bodies and query strings.
var ErrBadRequest = errors.New("bad request")

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		validation *shared.ValidationError
		state      *shared.StateError
		transition *shared.TransitionError
		stock      *shared.InsufficientStockError
		conflict   *shared.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		WriteProblem(w, ProblemDetail{Title: "Validation Failed", Status: http.StatusBadRequest, Detail: err.Error(), Fields: validation.Fields})
	case errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.As(err, &transition):
		WriteProblem(w, ProblemDetail{Title: "Invalid Transition", Status: http.StatusBadRequest, Detail: err.Error(),
			Context: map[string]any{"document_id": transition.DocumentID, "from": transition.From, "to": transition.To}})
	case errors.As(err, &state):
		WriteProblem(w, ProblemDetail{Title: "Invalid State", Status: http.StatusBadRequest, Detail: err.Error(),
			Context: map[string]any{"document_id": state.DocumentID, "status": state.Status, "action": state.Action}})
	case errors.As(err, &stock):
		WriteProblem(w, ProblemDetail{Title: "Insufficient Stock", Status: http.StatusBadRequest, Detail: err.Error(),
			Context: map[string]any{"document_id": stock.DocumentID, "shortages": stock.Shortages}})
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &conflict):
		if secs := int(conflict.RetryAfter.Seconds()); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		} else {
			w.Header().Set("Retry-After", "1")
		}
		Problem(w, http.StatusConflict, "Concurrency Conflict", "the operation conflicted with concurrent updates; retry")
	case errors.Is(err, shared.ErrConcurrencyConflict):
		w.Header().Set("Retry-After", "1")
		Problem(w, http.StatusConflict, "Concurrency Conflict", "the operation conflicted with concurrent updates; retry")
	case errors.Is(err, shared.ErrDuplicate), errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, shared.ErrAllocation):
		Problem(w, http.StatusServiceUnavailable, "Reference Allocation Failed", "document reference could not be allocated")
	case errors.Is(err, shared.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
