package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fedplane/internal/apperr"
	"fedplane/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const runColumns = `id, project_id, participant_id, role, site_uid, batch, cur_seq, tasks, status,
	artifacts, logs, mid_artifacts, created_at, updated_at`

// runInsertColumns are written explicitly by CreateRuns; the file lists
// start out empty via column defaults.
const runInsertColumns = 11

func scanRun(row rowScanner) (*store.Run, error) {
	var r store.Run
	if err := row.Scan(
		&r.ID,
		&r.ProjectID,
		&r.ParticipantID,
		&r.Role,
		&r.SiteID,
		&r.Batch,
		&r.CurSeq,
		&r.Tasks,
		&r.Status,
		(*pq.StringArray)(&r.Artifacts),
		(*pq.StringArray)(&r.Logs),
		(*pq.StringArray)(&r.MidArtifacts),
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) queryRuns(ctx context.Context, tx store.DBTransaction, op, query string, args ...any) ([]store.Run, error) {
	rows, err := s.getExecutor(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return runs, nil
}

// CreateRuns inserts all runs in a single multi-row statement.
func (s *Store) CreateRuns(ctx context.Context, tx store.DBTransaction, runs []store.Run) (int64, error) {
	if len(runs) == 0 {
		return 0, nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO runs (id, project_id, participant_id, role, site_uid, batch, cur_seq, tasks, status, created_at, updated_at) VALUES `)
	args := make([]any, 0, len(runs)*runInsertColumns)
	for i, r := range runs {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for c := 0; c < runInsertColumns; c++ {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*runInsertColumns+c+1)
		}
		sb.WriteString(")")
		args = append(args,
			r.ID,
			r.ProjectID,
			r.ParticipantID,
			r.Role,
			r.SiteID,
			r.Batch,
			r.CurSeq,
			r.Tasks,
			r.Status,
			r.CreatedAt,
			r.UpdatedAt,
		)
	}

	res, err := s.getExecutor(tx).ExecContext(ctx, sb.String(), args...)
	if err != nil {
		return 0, wrapErr("create runs", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrapErr("create runs", err)
	}
	return n, nil
}

func (s *Store) GetRunByID(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE id = $1"

	r, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, wrapErr("get run "+id.String(), err)
	}
	return r, nil
}

func (s *Store) GetRunsByIDs(ctx context.Context, ids []uuid.UUID) ([]store.Run, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	strIDs := make([]string, len(ids))
	for i, id := range ids {
		strIDs[i] = id.String()
	}
	query := "SELECT " + runColumns + " FROM runs WHERE id = ANY($1::uuid[]) ORDER BY id"
	return s.queryRuns(ctx, nil, "get runs", query, pq.Array(strIDs))
}

func (s *Store) LockRun(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Run, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE id = $1 FOR UPDATE"

	r, err := scanRun(s.getExecutor(tx).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, wrapErr("lock run "+id.String(), err)
	}
	return r, nil
}

// LockBatchRuns locks every run of the batch. Rows are locked in id order so
// concurrent batch writers cannot deadlock against each other.
func (s *Store) LockBatchRuns(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID, batch int) ([]store.Run, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE project_id = $1 AND batch = $2 ORDER BY id FOR UPDATE"
	runs, err := s.queryRuns(ctx, tx, "lock batch runs", query, projectID, batch)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("batch %d of project %s: %w", batch, projectID, apperr.ErrNotFound)
	}
	return runs, nil
}

func (s *Store) ListRuns(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID) ([]store.Run, error) {
	query := "SELECT " + runColumns + " FROM runs WHERE project_id = $1 ORDER BY batch, id"
	return s.queryRuns(ctx, tx, "list runs", query, projectID)
}

func (s *Store) ListLatestBatchRuns(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID) ([]store.Run, error) {
	query := "SELECT " + runColumns + ` FROM runs
		WHERE project_id = $1
		  AND batch = (SELECT MAX(batch) FROM runs WHERE project_id = $1)
		ORDER BY id`
	return s.queryRuns(ctx, tx, "list latest batch runs", query, projectID)
}

// UpdateRunProgress persists the mutable progress fields of a run.
func (s *Store) UpdateRunProgress(ctx context.Context, tx store.DBTransaction, r *store.Run) error {
	res, err := s.getExecutor(tx).ExecContext(ctx, `
		UPDATE runs
		SET status = $1, cur_seq = $2, tasks = $3, updated_at = $4
		WHERE id = $5
	`, r.Status, r.CurSeq, r.Tasks, r.UpdatedAt, r.ID)
	if err != nil {
		return wrapErr("update run", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("update run", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", r.ID, apperr.ErrNotFound)
	}
	return nil
}

// AppendRunFile appends path to the run's list for kind.
func (s *Store) AppendRunFile(ctx context.Context, tx store.DBTransaction, runID uuid.UUID, kind store.FileKind, path string, at time.Time) error {
	if !kind.Valid() {
		return fmt.Errorf("file kind %q: %w", kind, apperr.ErrValidation)
	}
	// kind is validated above, so interpolating the column name is safe.
	query := fmt.Sprintf(`
		UPDATE runs
		SET %[1]s = array_append(%[1]s, $1), updated_at = $2
		WHERE id = $3
	`, string(kind))
	res, err := s.getExecutor(tx).ExecContext(ctx, query, path, at, runID)
	if err != nil {
		return wrapErr("append run file", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapErr("append run file", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", runID, apperr.ErrNotFound)
	}
	return nil
}
