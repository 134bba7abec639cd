package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"fedplane/internal/apperr"
	"fedplane/internal/runstate"
	"fedplane/internal/runview"
	"fedplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// ListRuns returns the project's runs the requester may see: everything for
// the coordinator, only its own runs for a participant, nothing for outsiders.
func (s *Service) ListRuns(ctx context.Context, projectID, requester uuid.UUID) ([]store.Run, error) {
	if _, err := s.store.GetProjectByID(ctx, projectID); err != nil {
		return nil, err
	}
	runs, err := s.store.ListRuns(ctx, nil, projectID)
	if err != nil {
		return nil, err
	}
	pp, err := s.store.GetParticipant(ctx, nil, projectID, requester)
	if errors.Is(err, apperr.ErrNotFound) {
		return runview.PickForViewer(runs, 0, uuid.Nil), nil
	}
	if err != nil {
		return nil, err
	}
	return runview.PickForViewer(runs, pp.Role, pp.ID), nil
}

// ListMergedRuns returns one summary per batch of the runs the requester may see.
func (s *Service) ListMergedRuns(ctx context.Context, projectID, requester uuid.UUID) ([]runview.MergedRun, error) {
	runs, err := s.ListRuns(ctx, projectID, requester)
	if err != nil {
		return nil, err
	}
	return runview.MergeByBatch(runs), nil
}

// GetRun returns a run if the requester may see it. Runs hidden from the
// requester are reported as not found.
func (s *Service) GetRun(ctx context.Context, runID, requester uuid.UUID) (*store.Run, error) {
	run, err := s.store.GetRunByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	visible, err := s.visibleRuns(ctx, []store.Run{*run}, requester)
	if err != nil {
		return nil, err
	}
	if len(visible) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, apperr.ErrNotFound)
	}
	return run, nil
}

// visibleRuns keeps the runs requester may see. A site always sees its own
// runs; other runs go through PickForViewer with the requester's role in the
// run's project. Order is preserved.
func (s *Service) visibleRuns(ctx context.Context, runs []store.Run, requester uuid.UUID) ([]store.Run, error) {
	type viewer struct {
		role          store.Role
		participantID uuid.UUID
	}
	viewers := make(map[uuid.UUID]viewer)

	out := make([]store.Run, 0, len(runs))
	for _, run := range runs {
		if run.SiteID == requester {
			out = append(out, run)
			continue
		}
		v, ok := viewers[run.ProjectID]
		if !ok {
			pp, err := s.store.GetParticipant(ctx, nil, run.ProjectID, requester)
			switch {
			case errors.Is(err, apperr.ErrNotFound):
			case err != nil:
				return nil, err
			default:
				v = viewer{role: pp.Role, participantID: pp.ID}
			}
			viewers[run.ProjectID] = v
		}
		out = append(out, runview.PickForViewer([]store.Run{run}, v.role, v.participantID)...)
	}
	return out, nil
}

// UpdateRunStatus moves the requester's own run to target. A participant run
// locks only its own row. A coordinator run locks every run of its batch so
// that increaseRound can advance the round counters of the whole batch before
// the coordinator's status is written.
func (s *Service) UpdateRunStatus(ctx context.Context, runID uuid.UUID, target runstate.Status, increaseRound bool, requester uuid.UUID) (_ *store.Run, err error) {
	ctx, span := s.startSpan(ctx, "UpdateRunStatus",
		attribute.String("run_id", runID.String()),
		attribute.String("target", target.String()),
		attribute.Bool("increase_round", increaseRound))
	defer func() { endSpan(span, err) }()

	if !target.Valid() {
		return nil, fmt.Errorf("run status %s: %w", target, apperr.ErrValidation)
	}

	probe, err := s.store.GetRunByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if probe.SiteID != requester {
		return nil, fmt.Errorf("run %s belongs to another site: %w", runID, apperr.ErrForbidden)
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var updated *store.Run
	switch probe.Role {
	case store.RoleParticipant:
		updated, err = s.updateParticipantRun(ctx, tx, runID, target)
	case store.RoleCoordinator:
		updated, err = s.updateCoordinatorRun(ctx, tx, probe, target, increaseRound)
	default:
		err = fmt.Errorf("run %s has invalid role %s: %w", runID, probe.Role, apperr.ErrPersistence)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit run status: %w: %w", apperr.ErrPersistence, err)
	}

	s.metrics.RunTransition(ctx, target.String(), updated.Role.String())
	s.logger(ctx).Info("run status updated",
		"run_id", runID, "status", target.String(), "role", updated.Role.String(), "increase_round", increaseRound)
	return updated, nil
}

func (s *Service) updateParticipantRun(ctx context.Context, tx store.Tx, runID uuid.UUID, target runstate.Status) (*store.Run, error) {
	run, err := s.store.LockRun(ctx, tx, runID)
	if err != nil {
		return nil, err
	}
	if err := run.Status.Apply(target); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	run.UpdatedAt = s.now()
	if err := s.store.UpdateRunProgress(ctx, tx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Service) updateCoordinatorRun(ctx context.Context, tx store.Tx, probe *store.Run, target runstate.Status, increaseRound bool) (*store.Run, error) {
	runs, err := s.store.LockBatchRuns(ctx, tx, probe.ProjectID, probe.Batch)
	if err != nil {
		return nil, err
	}

	own := -1
	for i := range runs {
		if runs[i].ID == probe.ID {
			own = i
			break
		}
	}
	if own < 0 {
		return nil, fmt.Errorf("run %s missing from its batch: %w", probe.ID, apperr.ErrNotFound)
	}

	if increaseRound {
		if err := advanceRounds(runs); err != nil {
			return nil, err
		}
	}
	if err := runs[own].Status.Apply(target); err != nil {
		return nil, fmt.Errorf("run %s: %w", probe.ID, err)
	}

	now := s.now()
	for i := range runs {
		if !increaseRound && i != own {
			continue
		}
		runs[i].UpdatedAt = now
		if err := s.store.UpdateRunProgress(ctx, tx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return &runs[own], nil
}

// advanceRounds applies the increase-round step to every run in place.
func advanceRounds(runs []store.Run) error {
	for i := range runs {
		next, err := runstate.AdvanceRound(runs[i].Tasks, runs[i].CurSeq)
		if err != nil {
			return fmt.Errorf("run %s: %w: %w", runs[i].ID, apperr.ErrConflict, err)
		}
		runs[i].CurSeq = next
	}
	return nil
}
