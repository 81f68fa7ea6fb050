package assembly

import (
	"errors"
	"net/http"

	"github.com/reviso/reviso/internal/jobs"
)

// Domain errors for assembly.
var (
	ErrNotReady = errors.New("job has unapproved sections")
)

// MapHTTPStatus maps assembly errors to appropriate HTTP status codes.
// Job and review lookups pass their own errors through unchanged.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotReady) {
		return http.StatusConflict
	}
	if status := jobs.MapHTTPStatus(err); status != http.StatusInternalServerError {
		return status
	}
	return http.StatusInternalServerError
}
