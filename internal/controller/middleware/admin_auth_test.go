package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequireAdminSecret(t *testing.T) {
	const secret = "test-secret-61"

	tests := []struct {
		name       string
		secret     string
		header     string
		wantStatus int
		wantCalled bool
	}{
		{"missing header", secret, "", http.StatusUnauthorized, false},
		{"basic scheme", secret, "Basic " + secret, http.StatusUnauthorized, false},
		{"extra parts", secret, "Bearer " + secret + " extra", http.StatusUnauthorized, false},
		{"wrong secret", secret, "Bearer nope", http.StatusUnauthorized, false},
		{"registration disabled", "", "Bearer anything", http.StatusForbidden, false},
		{"valid secret", secret, "Bearer " + secret, http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := RequireAdminSecret(tt.secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/sites", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("got status %d, want %d", rr.Code, tt.wantStatus)
			}
			if called != tt.wantCalled {
				t.Errorf("handler called = %v, want %v", called, tt.wantCalled)
			}
		})
	}
}
