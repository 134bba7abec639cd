package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fedplane/internal/apperr"
	"fedplane/internal/runstate"
	"fedplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Membership is the outcome of CreateOrJoin.
type Membership struct {
	Project     *store.Project
	Participant *store.ProjectParticipant
}

// CreateOrJoin creates the named project with the caller as coordinator, or
// attaches the caller to an existing project as participant. When the site
// already belongs to the project the existing membership is returned together
// with an error wrapping apperr.ErrConflict.
func (s *Service) CreateOrJoin(ctx context.Context, name, description string, tasks runstate.Tasks, siteID uuid.UUID) (_ *Membership, err error) {
	ctx, span := s.startSpan(ctx, "CreateOrJoin",
		attribute.String("project", name),
		attribute.String("site_uid", siteID.String()))
	defer func() { endSpan(span, err) }()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("project name is required: %w", apperr.ErrValidation)
	}
	if len(tasks) > 0 {
		if err := tasks.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrValidation, err)
		}
	}
	if _, err := s.store.GetSiteByID(ctx, siteID); err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := s.now()
	project := &store.Project{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		Tasks:       tasks.Clone(),
		Batch:       0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created := false
	if len(tasks) > 0 {
		if created, err = s.store.CreateProject(ctx, tx, project); err != nil {
			return nil, err
		}
	}
	if !created {
		project, err = s.store.LockProjectByName(ctx, tx, name)
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("project %q does not exist and no tasks were given: %w", name, apperr.ErrValidation)
		}
		if err != nil {
			return nil, err
		}
	}

	role := store.RoleParticipant
	if created {
		role = store.RoleCoordinator
	}
	participant := &store.ProjectParticipant{
		ID:        uuid.New(),
		SiteID:    siteID,
		ProjectID: project.ID,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
	inserted, err := s.store.CreateParticipant(ctx, tx, participant)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.store.GetParticipant(ctx, tx, project.ID, siteID)
		if err != nil {
			return nil, err
		}
		return &Membership{Project: project, Participant: existing},
			fmt.Errorf("site %s already participates in project %q: %w", siteID, name, apperr.ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit membership: %w: %w", apperr.ErrPersistence, err)
	}

	s.logger(ctx).Info("site joined project",
		"project_id", project.ID, "site_uid", siteID, "role", role.String(), "created", created)
	return &Membership{Project: project, Participant: participant}, nil
}

// ListParticipants returns the participants of a project with their site
// status. Only members of the project may list them.
func (s *Service) ListParticipants(ctx context.Context, projectID, requester uuid.UUID) ([]store.ProjectParticipant, error) {
	if _, err := s.store.GetProjectByID(ctx, projectID); err != nil {
		return nil, err
	}
	if _, err := s.membership(ctx, nil, projectID, requester); err != nil {
		return nil, err
	}
	return s.store.ListParticipants(ctx, nil, projectID)
}

// GetProject returns a project by id.
func (s *Service) GetProject(ctx context.Context, projectID uuid.UUID) (*store.Project, error) {
	return s.store.GetProjectByID(ctx, projectID)
}

// membership resolves the requester's participant row, mapping a missing row
// to Forbidden.
func (s *Service) membership(ctx context.Context, tx store.DBTransaction, projectID, siteID uuid.UUID) (*store.ProjectParticipant, error) {
	pp, err := s.store.GetParticipant(ctx, tx, projectID, siteID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, fmt.Errorf("site %s is not part of project %s: %w", siteID, projectID, apperr.ErrForbidden)
	}
	return pp, err
}

func (s *Service) requireCoordinator(ctx context.Context, tx store.DBTransaction, projectID, siteID uuid.UUID) error {
	pp, err := s.membership(ctx, tx, projectID, siteID)
	if err != nil {
		return err
	}
	switch pp.Role {
	case store.RoleCoordinator:
		return nil
	case store.RoleParticipant:
		return fmt.Errorf("site %s is not the coordinator of project %s: %w", siteID, projectID, apperr.ErrForbidden)
	default:
		return fmt.Errorf("participant %s has invalid role %s: %w", pp.ID, pp.Role, apperr.ErrPersistence)
	}
}
