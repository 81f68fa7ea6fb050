package reviews

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors for review operations.
var (
	ErrNotFound           = errors.New("review not found")
	ErrDuplicate          = errors.New("review already exists")
	ErrConflict           = errors.New("review already decided")
	ErrRewriteNotReady    = errors.New("rewrite has not completed")
	ErrInvalidDecision    = errors.New("unknown decision")
	ErrOverrideRequired   = errors.New("override reason required for risky content")
	ErrEditedTextRequired = errors.New("edit decision requires edited text")
	ErrEmptyComment       = errors.New("comment body must not be empty")
)

// ConflictError reports a stale decide call along with the status the
// review currently holds, so the caller can resynchronize instead of
// retrying blindly.
type ConflictError struct {
	Current Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("review already decided: current status %s", e.Current)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// MapHTTPStatus maps review domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrRewriteNotReady) ||
		errors.Is(err, ErrInvalidDecision) ||
		errors.Is(err, ErrOverrideRequired) ||
		errors.Is(err, ErrEditedTextRequired) ||
		errors.Is(err, ErrEmptyComment) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
