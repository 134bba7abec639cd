package handlers

import (
	"net/http"
	"strconv"

	"fedplane/internal/controller/middleware"
	"fedplane/pkg/api"
)

// ListRuns handles GET /projects/{id}/runs. With ?merged=true one summary
// per batch is returned instead of the individual runs.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.SiteFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	projectID, err := pathUUID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	merged := false
	if raw := r.URL.Query().Get("merged"); raw != "" {
		merged, err = strconv.ParseBool(raw)
		if err != nil {
			h.httpError(w, "Invalid merged parameter", http.StatusBadRequest)
			return
		}
	}

	if merged {
		views, err := h.svc.ListMergedRuns(r.Context(), projectID, caller.ID)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respondJson(w, http.StatusOK, toMergedRunResponses(views))
		return
	}

	runs, err := h.svc.ListRuns(r.Context(), projectID, caller.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toRunResponses(runs))
}

// GetRun handles GET /runs/{id}.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.SiteFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	runID, err := pathUUID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	run, err := h.svc.GetRun(r.Context(), runID, caller.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, toRunResponse(run))
}

// UpdateRunStatus handles PUT /runs/{id}/status.
func (h *Handlers) UpdateRunStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.SiteFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	runID, err := pathUUID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	var req api.StatusChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	target, err := parseStatus(req.Status)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	run, err := h.svc.UpdateRunStatus(r.Context(), runID, target, req.IncreaseRound, caller.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusAccepted, toRunResponse(run))
}
