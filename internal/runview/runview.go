// Package runview folds run records into the summaries callers see.
package runview

import (
	"sort"
	"time"

	"fedplane/internal/runstate"
	"fedplane/internal/store"

	"github.com/google/uuid"
)

// MergedRun summarizes every run of one batch.
type MergedRun struct {
	ProjectID uuid.UUID       `json:"project_id"`
	Batch     int             `json:"batch"`
	Status    runstate.Status `json:"status"`
	RunIDs    []uuid.UUID     `json:"run_ids"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MergeByBatch groups runs by batch. Each group takes the earliest
// created_at, the latest updated_at and the worst status. The result is
// ordered by batch ascending.
func MergeByBatch(runs []store.Run) []MergedRun {
	byBatch := make(map[int]*MergedRun)
	for i := range runs {
		r := &runs[i]
		status := r.Status.Current()
		m, ok := byBatch[r.Batch]
		if !ok {
			byBatch[r.Batch] = &MergedRun{
				ProjectID: r.ProjectID,
				Batch:     r.Batch,
				Status:    status,
				RunIDs:    []uuid.UUID{r.ID},
				CreatedAt: r.CreatedAt,
				UpdatedAt: r.UpdatedAt,
			}
			continue
		}
		m.RunIDs = append(m.RunIDs, r.ID)
		if r.CreatedAt.Before(m.CreatedAt) {
			m.CreatedAt = r.CreatedAt
		}
		if r.UpdatedAt.After(m.UpdatedAt) {
			m.UpdatedAt = r.UpdatedAt
		}
		if status.Worse(m.Status) {
			m.Status = status
		}
	}

	out := make([]MergedRun, 0, len(byBatch))
	for _, m := range byBatch {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Batch < out[j].Batch })
	return out
}

// PickForViewer filters runs down to what a viewer may see. Coordinators see
// every run; participants only their own.
func PickForViewer(runs []store.Run, role store.Role, participantID uuid.UUID) []store.Run {
	switch role {
	case store.RoleCoordinator:
		return runs
	case store.RoleParticipant:
		if participantID == uuid.Nil {
			return []store.Run{}
		}
		out := []store.Run{}
		for _, r := range runs {
			if r.ParticipantID == participantID {
				out = append(out, r)
			}
		}
		return out
	default:
		return []store.Run{}
	}
}

// ShouldAllowNewBatch reports whether a coordinator may start another batch:
// either nothing ran yet or the latest batch has finished.
func ShouldAllowNewBatch(runs []store.Run) bool {
	merged := MergeByBatch(runs)
	if len(merged) == 0 {
		return true
	}
	return merged[len(merged)-1].Status.Finished()
}
