package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", fmt.Errorf("name: %w", ErrValidation), http.StatusBadRequest},
		{"precondition", fmt.Errorf("prior batch not finished: %w", ErrConflict), http.StatusBadRequest},
		{"not found", fmt.Errorf("run x: %w", ErrNotFound), http.StatusNotFound},
		{"forbidden", fmt.Errorf("role: %w", ErrForbidden), http.StatusForbidden},
		{"persistence", fmt.Errorf("commit: %w", ErrPersistence), http.StatusInternalServerError},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatus(tt.err); got != tt.want {
				t.Errorf("HTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(fmt.Errorf("begin: %w", ErrPersistence)) {
		t.Error("persistence failures should be retryable")
	}
	if Retryable(fmt.Errorf("transition: %w", ErrConflict)) {
		t.Error("conflicts should not be retryable")
	}
}
