package sections

import (
	"errors"
	"net/http"
)

// Domain errors for section operations.
var (
	ErrNotFound         = errors.New("section not found")
	ErrDocumentNotFound = errors.New("document not found")
	ErrUnknownSection   = errors.New("edge references unknown section")
	ErrDependencyCycle  = errors.New("section dependency graph contains a cycle")
)

// MapHTTPStatus maps section domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDocumentNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrUnknownSection) || errors.Is(err, ErrDependencyCycle) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
