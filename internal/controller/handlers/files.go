package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"fedplane/internal/apperr"
	"fedplane/internal/controller/middleware"
	"fedplane/internal/orchestrator"
	"fedplane/internal/store"
	"fedplane/pkg/api"

	"github.com/google/uuid"
)

const (
	// maxUploadBytes bounds a single upload request.
	maxUploadBytes = 512 << 20
	// uploadMemory is how much of a multipart body is buffered in memory
	// before spilling to temp files.
	uploadMemory = 32 << 20
)

// UploadFile handles POST /runs/{id}/files (multipart/form-data with fields
// task_seq, round_seq, kind and the file part "file").
func (h *Handlers) UploadFile(w http.ResponseWriter, r *http.Request) {
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

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.httpError(w, "Upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.respondError(w, r, fmt.Errorf("invalid multipart form: %w: %w", apperr.ErrValidation, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	taskSeq, err := formInt(r, "task_seq")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	roundSeq, err := formInt(r, "round_seq")
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, r, fmt.Errorf("file is required: %w", apperr.ErrValidation))
		return
	}
	defer file.Close()

	path, err := h.svc.UploadFile(r.Context(), orchestrator.Upload{
		RunID:    runID,
		TaskSeq:  taskSeq,
		RoundSeq: roundSeq,
		Kind:     store.FileKind(r.FormValue("kind")),
		FileName: header.Filename,
		Content:  file,
	}, caller.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusCreated, api.UploadFileResponse{Path: path})
}

// ListFiles handles GET /files?run_id=..&kind=..[&task_seq=..&round_seq=..].
// run_id may repeat or hold a comma-separated list; kind defaults to
// artifacts.
func (h *Handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.SiteFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()

	var ids []uuid.UUID
	for _, raw := range q["run_id"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := uuid.Parse(part)
			if err != nil {
				h.respondError(w, r, fmt.Errorf("invalid run_id %q: %w", part, apperr.ErrValidation))
				return
			}
			ids = append(ids, id)
		}
	}

	kind := store.FileKind(q.Get("kind"))
	if kind == "" {
		kind = store.FileKindArtifacts
	}
	query := orchestrator.FileQuery{RunIDs: ids, Kind: kind}

	var err error
	if query.TaskSeq, err = optionalInt(q.Get("task_seq"), "task_seq"); err != nil {
		h.respondError(w, r, err)
		return
	}
	if query.RoundSeq, err = optionalInt(q.Get("round_seq"), "round_seq"); err != nil {
		h.respondError(w, r, err)
		return
	}

	files, err := h.svc.ListFiles(r.Context(), query, caller.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJson(w, http.StatusOK, api.ListFilesResponse{Files: files})
}

// BundleFiles handles GET /files/bundle?path=..&path=.. and streams a zip.
func (h *Handlers) BundleFiles(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.SiteFromContext(r.Context())
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	data, err := h.svc.Bundle(r.Context(), r.URL.Query()["path"], caller.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="bundle.zip"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func formInt(r *http.Request, name string) (int, error) {
	raw := r.FormValue(name)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, raw, apperr.ErrValidation)
	}
	return v, nil
}

func optionalInt(raw, name string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, raw, apperr.ErrValidation)
	}
	return &v, nil
}
