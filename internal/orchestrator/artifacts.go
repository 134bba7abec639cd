package orchestrator

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"

	"fedplane/internal/apperr"
	"fedplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Upload describes one file a site attaches to its run.
type Upload struct {
	RunID    uuid.UUID
	TaskSeq  int
	RoundSeq int
	Kind     store.FileKind
	FileName string
	Content  io.Reader
}

// FileQuery selects run files. With both TaskSeq and RoundSeq set only files
// of that task round are returned.
type FileQuery struct {
	RunIDs   []uuid.UUID
	TaskSeq  *int
	RoundSeq *int
	Kind     store.FileKind
}

// FilePrefix is the blob prefix shared by all files of one task round of a run.
func FilePrefix(runID uuid.UUID, taskSeq, roundSeq int) string {
	return fmt.Sprintf("%s/%d/%d/", runID, taskSeq, roundSeq)
}

// FilePath is where an uploaded file is stored.
func FilePath(runID uuid.UUID, taskSeq, roundSeq int, fileName string) string {
	return fmt.Sprintf("%s%s-%d-%d-%s", FilePrefix(runID, taskSeq, roundSeq), runID, taskSeq, roundSeq, fileName)
}

// UploadFile stores the content and appends its path to the run's list for
// the upload kind. Only the site owning the run may upload.
func (s *Service) UploadFile(ctx context.Context, up Upload, requester uuid.UUID) (_ string, err error) {
	ctx, span := s.startSpan(ctx, "UploadFile",
		attribute.String("run_id", up.RunID.String()),
		attribute.String("kind", string(up.Kind)))
	defer func() { endSpan(span, err) }()

	if up.RunID == uuid.Nil {
		return "", fmt.Errorf("run id is required: %w", apperr.ErrValidation)
	}
	if !up.Kind.Valid() {
		return "", fmt.Errorf("file kind %q: %w", up.Kind, apperr.ErrValidation)
	}
	if up.Content == nil {
		return "", fmt.Errorf("file content is required: %w", apperr.ErrValidation)
	}
	if up.TaskSeq < 1 || up.RoundSeq < 1 {
		return "", fmt.Errorf("task %d round %d: sequences start at 1: %w", up.TaskSeq, up.RoundSeq, apperr.ErrValidation)
	}
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(up.FileName), "\\", "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("file name %q: %w", up.FileName, apperr.ErrValidation)
	}

	run, err := s.store.GetRunByID(ctx, up.RunID)
	if err != nil {
		return "", err
	}
	if run.SiteID != requester {
		return "", fmt.Errorf("run %s belongs to another site: %w", run.ID, apperr.ErrForbidden)
	}

	p := FilePath(run.ID, up.TaskSeq, up.RoundSeq, name)
	listed := slices.Contains(run.Files(up.Kind), p)
	if err := s.blobs.Write(ctx, p, up.Content); err != nil {
		return "", err
	}
	if err := s.store.AppendRunFile(ctx, nil, run.ID, up.Kind, p, s.now()); err != nil {
		// A path already on the run's list still backs an earlier upload.
		if !listed {
			if delErr := s.blobs.Delete(context.WithoutCancel(ctx), p); delErr != nil {
				s.logger(ctx).Warn("failed to remove unrecorded upload", "path", p, "error", delErr)
			}
		}
		return "", err
	}

	s.logger(ctx).Info("run file uploaded", "run_id", run.ID, "kind", up.Kind, "path", p)
	return p, nil
}

// ListFiles returns the file paths of the requested kind for every run in
// q.RunIDs, in request order. Runs the requester may not see are reported as
// not found, as GetRun does.
func (s *Service) ListFiles(ctx context.Context, q FileQuery, requester uuid.UUID) ([]string, error) {
	if len(q.RunIDs) == 0 {
		return nil, fmt.Errorf("at least one run id is required: %w", apperr.ErrValidation)
	}
	if !q.Kind.Valid() {
		return nil, fmt.Errorf("file kind %q: %w", q.Kind, apperr.ErrValidation)
	}

	runs, err := s.store.GetRunsByIDs(ctx, q.RunIDs)
	if err != nil {
		return nil, err
	}
	if runs, err = s.visibleRuns(ctx, runs, requester); err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*store.Run, len(runs))
	for i := range runs {
		byID[runs[i].ID] = &runs[i]
	}

	filter := q.TaskSeq != nil && q.RoundSeq != nil
	out := []string{}
	for _, id := range q.RunIDs {
		run, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("run %s: %w", id, apperr.ErrNotFound)
		}
		files := run.Files(q.Kind)
		if !filter {
			out = append(out, files...)
			continue
		}
		prefix := FilePrefix(id, *q.TaskSeq, *q.RoundSeq)
		for _, f := range files {
			if strings.HasPrefix(f, prefix) {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

// Bundle zips the given paths, naming each entry by its base name. Every
// path must be listed on a run the requester may see.
func (s *Service) Bundle(ctx context.Context, paths []string, requester uuid.UUID) (_ []byte, err error) {
	ctx, span := s.startSpan(ctx, "Bundle", attribute.Int("files", len(paths)))
	defer func() { endSpan(span, err) }()

	if len(paths) == 0 {
		return nil, fmt.Errorf("no files to bundle: %w", apperr.ErrNotFound)
	}
	if err := s.authorizePaths(ctx, paths, requester); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		name := path.Base(p)
		if seen[name] {
			continue
		}
		seen[name] = true

		if err := s.addToZip(ctx, zw, p, name); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish bundle: %w", err)
	}
	return buf.Bytes(), nil
}

// authorizePaths checks that each path names a file recorded on a run the
// requester may see. Paths are addressed as <run id>/<task>/<round>/<name>.
func (s *Service) authorizePaths(ctx context.Context, paths []string, requester uuid.UUID) error {
	owners := make([]uuid.UUID, len(paths))
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for i, p := range paths {
		head, _, _ := strings.Cut(p, "/")
		id, err := uuid.Parse(head)
		if err != nil {
			return fmt.Errorf("file path %q does not name a run: %w", p, apperr.ErrValidation)
		}
		owners[i] = id
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	runs, err := s.store.GetRunsByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if runs, err = s.visibleRuns(ctx, runs, requester); err != nil {
		return err
	}
	recorded := make(map[string]bool)
	for i := range runs {
		for _, kind := range []store.FileKind{store.FileKindArtifacts, store.FileKindLogs, store.FileKindMidArtifacts} {
			for _, f := range runs[i].Files(kind) {
				recorded[f] = true
			}
		}
	}
	for i, p := range paths {
		if !recorded[p] {
			return fmt.Errorf("file %s of run %s: %w", p, owners[i], apperr.ErrNotFound)
		}
	}
	return nil
}

func (s *Service) addToZip(ctx context.Context, zw *zip.Writer, p, name string) error {
	rc, err := s.blobs.Read(ctx, p)
	if err != nil {
		return err
	}
	defer rc.Close()

	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("add %s to bundle: %w", name, err)
	}
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("copy %s into bundle: %w", name, err)
	}
	return nil
}
