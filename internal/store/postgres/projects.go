package postgres

import (
	"context"
	"fmt"

	"fedplane/internal/store"

	"github.com/google/uuid"
)

const projectColumns = "id, name, description, tasks, batch, created_at, updated_at"

func scanProject(row rowScanner) (*store.Project, error) {
	var p store.Project
	if err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Tasks,
		&p.Batch,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProject inserts the project unless its name is already taken.
func (s *Store) CreateProject(ctx context.Context, tx store.DBTransaction, p *store.Project) (bool, error) {
	query := `
		INSERT INTO projects (id, name, description, tasks, batch, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO NOTHING
	`
	res, err := s.getExecutor(tx).ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.Description,
		p.Tasks,
		p.Batch,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return false, wrapErr("create project", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("create project", err)
	}
	return n == 1, nil
}

func (s *Store) GetProjectByID(ctx context.Context, id uuid.UUID) (*store.Project, error) {
	query := "SELECT " + projectColumns + " FROM projects WHERE id = $1"

	p, err := scanProject(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, wrapErr("get project "+id.String(), err)
	}
	return p, nil
}

func (s *Store) LockProject(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Project, error) {
	query := "SELECT " + projectColumns + " FROM projects WHERE id = $1 FOR UPDATE"

	p, err := scanProject(s.getExecutor(tx).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, wrapErr("lock project "+id.String(), err)
	}
	return p, nil
}

func (s *Store) LockProjectByName(ctx context.Context, tx store.DBTransaction, name string) (*store.Project, error) {
	query := "SELECT " + projectColumns + " FROM projects WHERE name = $1 FOR UPDATE"

	p, err := scanProject(s.getExecutor(tx).QueryRowContext(ctx, query, name))
	if err != nil {
		return nil, wrapErr(fmt.Sprintf("lock project %q", name), err)
	}
	return p, nil
}

// IncrementBatch bumps projects.batch and returns the new value.
func (s *Store) IncrementBatch(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (int, error) {
	var batch int
	err := s.getExecutor(tx).QueryRowContext(ctx, `
		UPDATE projects
		SET batch = batch + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING batch
	`, id).Scan(&batch)
	if err != nil {
		return 0, wrapErr("increment batch", err)
	}
	return batch, nil
}

// CreateParticipant inserts the participant unless the site already joined
// the project.
func (s *Store) CreateParticipant(ctx context.Context, tx store.DBTransaction, pp *store.ProjectParticipant) (bool, error) {
	query := `
		INSERT INTO project_participants (id, site_uid, project_id, role, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (site_uid, project_id) DO NOTHING
	`
	res, err := s.getExecutor(tx).ExecContext(ctx, query,
		pp.ID,
		pp.SiteID,
		pp.ProjectID,
		pp.Role,
		pp.Notes,
		pp.CreatedAt,
		pp.UpdatedAt,
	)
	if err != nil {
		return false, wrapErr("create participant", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("create participant", err)
	}
	return n == 1, nil
}

func (s *Store) GetParticipant(ctx context.Context, tx store.DBTransaction, projectID, siteID uuid.UUID) (*store.ProjectParticipant, error) {
	query := `
		SELECT pp.id, pp.site_uid, pp.project_id, pp.role, pp.notes, pp.created_at, pp.updated_at, s.status
		FROM project_participants pp
		JOIN sites s ON s.id = pp.site_uid
		WHERE pp.project_id = $1 AND pp.site_uid = $2
	`
	pp, err := scanParticipant(s.getExecutor(tx).QueryRowContext(ctx, query, projectID, siteID))
	if err != nil {
		return nil, wrapErr("get participant", err)
	}
	return pp, nil
}

// ListParticipants returns participants ordered by join time, each with the
// current status of its site.
func (s *Store) ListParticipants(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID) ([]store.ProjectParticipant, error) {
	query := `
		SELECT pp.id, pp.site_uid, pp.project_id, pp.role, pp.notes, pp.created_at, pp.updated_at, s.status
		FROM project_participants pp
		JOIN sites s ON s.id = pp.site_uid
		WHERE pp.project_id = $1
		ORDER BY pp.created_at ASC, pp.id ASC
	`
	rows, err := s.getExecutor(tx).QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, wrapErr("list participants", err)
	}
	defer rows.Close()

	var out []store.ProjectParticipant
	for rows.Next() {
		pp, err := scanParticipant(rows)
		if err != nil {
			return nil, wrapErr("scan participant", err)
		}
		out = append(out, *pp)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list participants", err)
	}
	return out, nil
}

func scanParticipant(row rowScanner) (*store.ProjectParticipant, error) {
	var pp store.ProjectParticipant
	if err := row.Scan(
		&pp.ID,
		&pp.SiteID,
		&pp.ProjectID,
		&pp.Role,
		&pp.Notes,
		&pp.CreatedAt,
		&pp.UpdatedAt,
		&pp.SiteStatus,
	); err != nil {
		return nil, err
	}
	return &pp, nil
}
