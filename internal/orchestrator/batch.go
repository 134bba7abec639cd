package orchestrator

import (
	"context"
	"fmt"

	"fedplane/internal/apperr"
	"fedplane/internal/runstate"
	"fedplane/internal/runview"
	"fedplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// StartNewBatch fans a project out into one STANDBY run per participant.
// Only the coordinator may start a batch, the previous batch must have
// finished, and every participant's site must be CONNECTED. Any failure
// rolls back the whole transaction, including the batch counter.
func (s *Service) StartNewBatch(ctx context.Context, projectID, requester uuid.UUID) (_ []store.Run, err error) {
	ctx, span := s.startSpan(ctx, "StartNewBatch", attribute.String("project_id", projectID.String()))
	defer func() { endSpan(span, err) }()

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	project, err := s.store.LockProject(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if err := s.requireCoordinator(ctx, tx, projectID, requester); err != nil {
		return nil, err
	}

	latest, err := s.store.ListLatestBatchRuns(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}
	if !runview.ShouldAllowNewBatch(latest) {
		return nil, fmt.Errorf("prior batch of project %s not finished: %w", projectID, apperr.ErrConflict)
	}

	batch, err := s.store.IncrementBatch(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}

	participants, err := s.store.ListParticipants(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	runs := make([]store.Run, 0, len(participants))
	for _, pp := range participants {
		if pp.SiteStatus != store.SiteStatusConnected {
			continue
		}
		runs = append(runs, store.Run{
			ID:            uuid.New(),
			ProjectID:     projectID,
			ParticipantID: pp.ID,
			Role:          pp.Role,
			SiteID:        pp.SiteID,
			Batch:         batch,
			CurSeq:        1,
			Tasks:         project.Tasks.Clone(),
			Status:        runstate.NewState(),
			Artifacts:     []string{},
			Logs:          []string{},
			MidArtifacts:  []string{},
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	if len(runs) < len(participants) {
		return nil, fmt.Errorf("not all sites connected (%d of %d): %w", len(runs), len(participants), apperr.ErrConflict)
	}

	n, err := s.store.CreateRuns(ctx, tx, runs)
	if err != nil {
		return nil, err
	}
	if n != int64(len(runs)) {
		return nil, fmt.Errorf("inserted %d of %d runs: %w", n, len(runs), apperr.ErrPersistence)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w: %w", apperr.ErrPersistence, err)
	}

	span.SetAttributes(attribute.Int("batch", batch), attribute.Int("runs", len(runs)))
	s.metrics.BatchStarted(ctx, len(runs))
	s.logger(ctx).Info("batch started", "project_id", projectID, "batch", batch, "runs", len(runs))
	return runs, nil
}

// TransitionBatch moves every run of a batch to target on the coordinator's
// behalf. The request is all-or-nothing: if any run cannot take the edge,
// nothing is written.
func (s *Service) TransitionBatch(ctx context.Context, projectID uuid.UUID, batch int, target runstate.Status, increaseRound bool, requester uuid.UUID) (_ []store.Run, err error) {
	ctx, span := s.startSpan(ctx, "TransitionBatch",
		attribute.String("project_id", projectID.String()),
		attribute.Int("batch", batch),
		attribute.String("target", target.String()))
	defer func() { endSpan(span, err) }()

	if !target.Valid() {
		return nil, fmt.Errorf("run status %s: %w", target, apperr.ErrValidation)
	}
	if batch < 1 {
		return nil, fmt.Errorf("batch %d: %w", batch, apperr.ErrValidation)
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := s.store.LockProject(ctx, tx, projectID); err != nil {
		return nil, err
	}
	if err := s.requireCoordinator(ctx, tx, projectID, requester); err != nil {
		return nil, err
	}

	runs, err := s.store.LockBatchRuns(ctx, tx, projectID, batch)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if _, err := runstate.Transition(r.Status.Current(), target); err != nil {
			return nil, fmt.Errorf("run %s: %w", r.ID, err)
		}
	}
	if increaseRound {
		if err := advanceRounds(runs); err != nil {
			return nil, err
		}
	}

	now := s.now()
	for i := range runs {
		if err := runs[i].Status.Apply(target); err != nil {
			return nil, fmt.Errorf("run %s: %w", runs[i].ID, err)
		}
		runs[i].UpdatedAt = now
		if err := s.store.UpdateRunProgress(ctx, tx, &runs[i]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch transition: %w: %w", apperr.ErrPersistence, err)
	}

	for _, r := range runs {
		s.metrics.RunTransition(ctx, target.String(), r.Role.String())
	}
	s.logger(ctx).Info("batch transitioned",
		"project_id", projectID, "batch", batch, "status", target.String(), "runs", len(runs))
	return runs, nil
}
