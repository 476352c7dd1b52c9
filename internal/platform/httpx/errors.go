package httpx

import (
	"errors"
	"net/http"

	"github.com/strata-hq/strata/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrInvalidAmount),
		errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrAllocationOverflow):
		Problem(w, http.StatusConflict, "Allocation Overflow", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrDuplicateDocument):
		Problem(w, http.StatusConflict, "Duplicate Document", shared.UserSafeMessage(err))
	case errors.Is(err, shared.ErrSequenceConflict):
		Problem(w, http.StatusServiceUnavailable, "Sequence Conflict", "document numbering is contended, retry shortly")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
