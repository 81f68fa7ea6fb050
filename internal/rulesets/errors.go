package rulesets

import (
	"errors"
	"net/http"
)

// Domain errors for ruleset operations.
var (
	ErrNotFound    = errors.New("ruleset not found")
	ErrDuplicate   = errors.New("ruleset already exists")
	ErrInactive    = errors.New("ruleset is not active")
	ErrNoFragments = errors.New("ruleset requires at least one fragment")
)

// MapHTTPStatus maps ruleset domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInactive) || errors.Is(err, ErrNoFragments) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
