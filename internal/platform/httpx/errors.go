// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807. Structured
// errors contribute extension members so clients can point at the offending line.
func RespondError(w http.ResponseWriter, err error) {
	ext := map[string]any{}

	var overErr *shared.OverAllocationError
	var stockErr *shared.InsufficientStockError
	var valErr *shared.ValidationError
	switch {
	case errors.As(err, &overErr):
		ext["line"] = overErr.Line
		ext["kind"] = overErr.Kind
		ext["limit"] = overErr.Limit.String()
		ext["consumed"] = overErr.Consumed.String()
		ext["requested"] = overErr.Requested.String()
		ext["remaining"] = overErr.Remaining().String()
	case errors.As(err, &stockErr):
		ext["line"] = stockErr.Line
		ext["item_id"] = stockErr.ItemID
		ext["location_id"] = stockErr.LocationID
		ext["on_hand"] = stockErr.OnHand.String()
		ext["requested"] = stockErr.Requested.String()
	case errors.As(err, &valErr):
		if valErr.Line > 0 {
			ext["line"] = valErr.Line
		}
		if valErr.Field != "" {
			ext["field"] = valErr.Field
		}
	}

	switch {
	case errors.Is(err, shared.ErrNotFound):
		ProblemExt(w, http.StatusNotFound, "Not Found", err.Error(), ext)
	case errors.Is(err, shared.ErrForbidden):
		ProblemExt(w, http.StatusForbidden, "Forbidden", err.Error(), ext)
	case errors.Is(err, shared.ErrInvalidState):
		ProblemExt(w, http.StatusConflict, "Invalid State", err.Error(), ext)
	case errors.Is(err, shared.ErrOverAllocation):
		ProblemExt(w, http.StatusUnprocessableEntity, "Over Allocation", err.Error(), ext)
	case errors.Is(err, shared.ErrInsufficientStock):
		ProblemExt(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error(), ext)
	case errors.Is(err, shared.ErrValidation):
		ProblemExt(w, http.StatusBadRequest, "Validation Failed", err.Error(), ext)
	case errors.Is(err, shared.ErrConflict):
		ProblemExt(w, http.StatusConflict, "Conflict", "concurrent update, retry the request", ext)
	case errors.Is(err, shared.ErrLockTimeout):
		ProblemExt(w, http.StatusServiceUnavailable, "Lock Timeout", "resource busy, retry the request", ext)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
