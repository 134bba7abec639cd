package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"fedplane/internal/apperr"
	"fedplane/internal/controller/middleware"
	"fedplane/pkg/api"
)

// JoinProject handles POST /projects: create the project with the caller as
// coordinator, or join it as participant. Joining twice is not an error; the
// existing membership comes back with already_joined set.
func (h *Handlers) JoinProject(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.SiteFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.JoinProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	m, err := h.svc.CreateOrJoin(r.Context(), req.Name, req.Description, fromTaskDTOs(req.Tasks), caller.ID)
	alreadyJoined := err != nil && errors.Is(err, apperr.ErrConflict) && m != nil
	if err != nil && !alreadyJoined {
		h.respondError(w, r, err)
		return
	}

	code := http.StatusCreated
	if alreadyJoined {
		code = http.StatusOK
	}
	h.respondJson(w, code, api.JoinProjectResponse{
		Project:       toProjectResponse(m.Project),
		Participant:   toParticipantResponse(m.Participant),
		AlreadyJoined: alreadyJoined,
	})
}

// ListParticipants handles GET /projects/{id}/participants.
func (h *Handlers) ListParticipants(w http.ResponseWriter, r *http.Request) {
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

	participants, err := h.svc.ListParticipants(r.Context(), projectID, caller.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	out := make([]api.ParticipantResponse, len(participants))
	for i := range participants {
		out[i] = toParticipantResponse(&participants[i])
	}
	h.respondJson(w, http.StatusOK, out)
}

// StartBatch handles POST /projects/{id}/batches.
func (h *Handlers) StartBatch(w http.ResponseWriter, r *http.Request) {
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

	runs, err := h.svc.StartNewBatch(r.Context(), projectID, caller.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := api.StartBatchResponse{Runs: toRunResponses(runs)}
	if len(runs) > 0 {
		resp.Batch = runs[0].Batch
	}
	h.respondJson(w, http.StatusCreated, resp)
}

// TransitionBatch handles PUT /projects/{id}/batches/{batch}/status.
func (h *Handlers) TransitionBatch(w http.ResponseWriter, r *http.Request) {
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
	batch, err := strconv.Atoi(r.PathValue("batch"))
	if err != nil {
		h.respondError(w, r, fmt.Errorf("invalid batch %q: %w", r.PathValue("batch"), apperr.ErrValidation))
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

	runs, err := h.svc.TransitionBatch(r.Context(), projectID, batch, target, req.IncreaseRound, caller.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusAccepted, toRunResponses(runs))
}
