package shared

import "errors"

var (
	// ErrNotFound indicates a referenced resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidAmount indicates a non-positive or malformed monetary input.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrAllocationOverflow indicates an allocation exceeding an outstanding balance.
	ErrAllocationOverflow = errors.New("allocation overflow")
	// ErrDuplicateDocument indicates a document already exists for the natural key.
	ErrDuplicateDocument = errors.New("duplicate document")
	// ErrSequenceConflict indicates a sequence counter conflict that exhausted retries.
	ErrSequenceConflict = errors.New("sequence conflict")
	// ErrValidation indicates a rejected request payload.
	ErrValidation = errors.New("validation failed")
)

// UserSafeMessage returns a message safe to surface to API clients.
func UserSafeMessage(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "the requested resource was not found"
	case errors.Is(err, ErrInvalidAmount):
		return "the amount must be a positive value"
	case errors.Is(err, ErrAllocationOverflow):
		return "the allocation exceeds the outstanding balance"
	case errors.Is(err, ErrDuplicateDocument):
		return "a document already exists for this request"
	case errors.Is(err, ErrValidation):
		return "the request payload failed validation"
	default:
		return "an unexpected error occurred"
	}
}
