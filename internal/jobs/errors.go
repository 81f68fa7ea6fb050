package jobs

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/reviso/reviso/internal/rulesets"
	"github.com/reviso/reviso/internal/sections"
)

// Domain errors for job orchestration.
var (
	ErrNotFound          = errors.New("job not found")
	ErrRewriteNotFound   = errors.New("section rewrite not found")
	ErrDuplicate         = errors.New("job already exists")
	ErrDocumentNotReady  = errors.New("document is not structurally mapped")
	ErrRulesetInactive   = errors.New("ruleset is not active")
	ErrInvalidTransition = errors.New("invalid job transition")
	ErrBreakerOpen       = errors.New("inference circuit breaker is open")
)

// TransitionError reports a rejected job transition along with the status
// the job currently holds.
type TransitionError struct {
	Current JobStatus
	Target  JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid job transition: %s -> %s", e.Current, e.Target)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// MapHTTPStatus maps job domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRewriteNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrDocumentNotReady) || errors.Is(err, ErrRulesetInactive) {
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, ErrBreakerOpen) {
		return http.StatusServiceUnavailable
	}

	// Create validates against the document and ruleset domains; their
	// errors pass through unchanged.
	if status := sections.MapHTTPStatus(err); status != http.StatusInternalServerError {
		return status
	}
	if status := rulesets.MapHTTPStatus(err); status != http.StatusInternalServerError {
		return status
	}
	return http.StatusInternalServerError
}
