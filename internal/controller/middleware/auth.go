// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"fedplane/internal/apperr"
	"fedplane/internal/logger"
	"fedplane/internal/store"
	"fedplane/pkg/api"
)

// siteKey is the context key for the authenticated site.
type siteKey struct{}

// Authenticator resolves a raw API key to its site.
// *orchestrator.Service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*store.Site, error)
}

// NewContextWithSite returns a context carrying the authenticated site.
func NewContextWithSite(ctx context.Context, site *store.Site) context.Context {
	return context.WithValue(ctx, siteKey{}, site)
}

// SiteFromContext returns the authenticated site, if any.
func SiteFromContext(ctx context.Context) (*store.Site, bool) {
	site, ok := ctx.Value(siteKey{}).(*store.Site)
	return site, ok && site != nil
}

// SiteAuthMiddleware authenticates "Authorization: Bearer <api key>" and puts
// the owning site in the request context.
func SiteAuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, msg := bearerToken(r)
			if msg != "" {
				writeError(w, http.StatusUnauthorized, msg)
				return
			}

			site, err := auth.Authenticate(r.Context(), key)
			switch {
			case errors.Is(err, apperr.ErrNotFound):
				writeError(w, http.StatusUnauthorized, "Invalid API key")
				return
			case err != nil:
				logger.FromContext(r.Context(), slog.Default()).Error("site authentication failed", "error", err)
				writeError(w, http.StatusInternalServerError, "Internal server error")
				return
			case site == nil:
				writeError(w, http.StatusUnauthorized, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r.WithContext(NewContextWithSite(r.Context(), site)))
		})
	}
}

// bearerToken extracts the token of a Bearer Authorization header. On failure
// it returns a non-empty message for the 401 response.
func bearerToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", "Missing authorization header"
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", "Invalid authorization header"
	}
	return parts[1], ""
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}
