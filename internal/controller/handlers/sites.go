package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"fedplane/internal/apperr"
	"fedplane/internal/controller/middleware"
	"fedplane/internal/store"
	"fedplane/pkg/api"
)

// RegisterSite handles POST /sites.
// It is guarded by the admin secret, not by a site key.
func (h *Handlers) RegisterSite(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterSiteRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	site, key, err := h.svc.Register(r.Context(), req.Name, req.Description)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	h.respondJson(w, http.StatusCreated, api.RegisterSiteResponse{
		Site:   toSiteResponse(site),
		APIKey: key,
	})
}

// GetSite handles GET /sites/{uid}.
func (h *Handlers) GetSite(w http.ResponseWriter, r *http.Request) {
	siteID, err := pathUUID(r, "uid")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	site, err := h.svc.Lookup(r.Context(), siteID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toSiteResponse(site))
}

// Heartbeat handles PUT /sites/{uid}/heartbeat. A site may only report its
// own status. A persistence failure answers 422 so the agent retries on its
// next tick.
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	siteID, err := pathUUID(r, "uid")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	caller, ok := middleware.SiteFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if caller.ID != siteID {
		h.respondError(w, r, fmt.Errorf("site %s cannot report for %s: %w", caller.ID, siteID, apperr.ErrForbidden))
		return
	}

	var req api.HeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	status := store.SiteStatus(req.Status)
	if !status.Valid() {
		h.respondError(w, r, fmt.Errorf("unknown site status %q: %w", req.Status, apperr.ErrValidation))
		return
	}

	site, err := h.svc.Heartbeat(r.Context(), siteID, status)
	if errors.Is(err, apperr.ErrPersistence) {
		h.log.Warn("heartbeat not persisted", "site_uid", siteID, "error", err)
		h.httpError(w, "Heartbeat could not be recorded", http.StatusUnprocessableEntity)
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toSiteResponse(site))
}
