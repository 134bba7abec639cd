// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"fedplane/internal/apperr"
	"fedplane/internal/logger"
	"fedplane/internal/orchestrator"
	"fedplane/internal/runstate"
	"fedplane/internal/runview"
	"fedplane/internal/store"
	"fedplane/pkg/api"

	"github.com/google/uuid"
)

// Service is the orchestration surface the handlers drive.
// *orchestrator.Service implements it.
type Service interface {
	Register(ctx context.Context, name, description string) (*store.Site, string, error)
	Heartbeat(ctx context.Context, siteID uuid.UUID, status store.SiteStatus) (*store.Site, error)
	Lookup(ctx context.Context, siteID uuid.UUID) (*store.Site, error)

	CreateOrJoin(ctx context.Context, name, description string, tasks runstate.Tasks, siteID uuid.UUID) (*orchestrator.Membership, error)
	ListParticipants(ctx context.Context, projectID, requester uuid.UUID) ([]store.ProjectParticipant, error)

	StartNewBatch(ctx context.Context, projectID, requester uuid.UUID) ([]store.Run, error)
	TransitionBatch(ctx context.Context, projectID uuid.UUID, batch int, target runstate.Status, increaseRound bool, requester uuid.UUID) ([]store.Run, error)

	ListRuns(ctx context.Context, projectID, requester uuid.UUID) ([]store.Run, error)
	ListMergedRuns(ctx context.Context, projectID, requester uuid.UUID) ([]runview.MergedRun, error)
	GetRun(ctx context.Context, runID, requester uuid.UUID) (*store.Run, error)
	UpdateRunStatus(ctx context.Context, runID uuid.UUID, target runstate.Status, increaseRound bool, requester uuid.UUID) (*store.Run, error)

	UploadFile(ctx context.Context, up orchestrator.Upload, requester uuid.UUID) (string, error)
	ListFiles(ctx context.Context, q orchestrator.FileQuery, requester uuid.UUID) ([]string, error)
	Bundle(ctx context.Context, paths []string, requester uuid.UUID) ([]byte, error)
}

// Pinger reports database reachability for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	svc Service
	db  Pinger
	log *slog.Logger
}

// New creates a new Handlers instance.
func New(svc Service, db Pinger, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{svc: svc, db: db, log: log}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// respondError maps a service error onto its HTTP status. Internal failures
// are logged and never echoed to the caller.
func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		logger.FromContext(r.Context(), h.log).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		h.httpError(w, "Internal server error", code)
		return
	}

	resp := api.ErrorResponse{
		Error:   http.StatusText(code),
		Code:    strconv.Itoa(code),
		Details: err.Error(),
	}
	var invalid *runstate.InvalidTransitionError
	if errors.As(err, &invalid) {
		resp.Error = "Invalid transition"
		resp.Details = fmt.Sprintf("%s -> %s", invalid.Current, invalid.Target)
	}
	h.respondJson(w, code, resp)
}

// decodeJSON reads a JSON body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required: %w", apperr.ErrValidation)
		}
		return fmt.Errorf("invalid request body: %w: %w", apperr.ErrValidation, err)
	}
	return nil
}

// pathUUID parses the named path value as a UUID.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.PathValue(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", name, raw, apperr.ErrValidation)
	}
	return id, nil
}

func parseStatus(name string) (runstate.Status, error) {
	s, err := runstate.ParseStatus(name)
	if err != nil {
		return s, fmt.Errorf("%w: %w", apperr.ErrValidation, err)
	}
	return s, nil
}
