// Package apperr defines the error taxonomy shared by the orchestrator and the HTTP layer.
package apperr

import (
	"errors"
	"net/http"
)

// Sentinel errors. Callers wrap them with fmt.Errorf("...: %w", ErrX) and
// match with errors.Is.
var (
	// ErrValidation marks malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a violated business precondition.
	ErrConflict = errors.New("conflict")
	// ErrForbidden marks a caller acting outside its role.
	ErrForbidden = errors.New("forbidden")
	// ErrPersistence marks a store or transaction failure.
	ErrPersistence = errors.New("persistence failure")
)

// HTTPStatus maps an error to the status code the API answers with. A
// violated precondition is a client error like malformed input, so both
// answer 400.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may resubmit the same request unchanged.
func Retryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}
