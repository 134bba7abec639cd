package handlers

import (
	"fedplane/internal/runstate"
	"fedplane/internal/runview"
	"fedplane/internal/store"
	"fedplane/pkg/api"

	"github.com/google/uuid"
)

func toSiteResponse(s *store.Site) api.SiteResponse {
	return api.SiteResponse{
		UID:         s.ID.String(),
		Name:        s.Name,
		Description: s.Description,
		Status:      string(s.Status),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func toTaskDTOs(tasks runstate.Tasks) []api.Task {
	out := make([]api.Task, len(tasks))
	for i, t := range tasks {
		out[i] = api.Task{Seq: t.Seq, Model: t.Model, Config: t.Config}
	}
	return out
}

func fromTaskDTOs(tasks []api.Task) runstate.Tasks {
	if len(tasks) == 0 {
		return nil
	}
	out := make(runstate.Tasks, len(tasks))
	for i, t := range tasks {
		out[i] = runstate.Task{Seq: t.Seq, Model: t.Model, Config: t.Config}
	}
	return out
}

func toProjectResponse(p *store.Project) api.ProjectResponse {
	return api.ProjectResponse{
		ID:          p.ID.String(),
		Name:        p.Name,
		Description: p.Description,
		Tasks:       toTaskDTOs(p.Tasks),
		Batch:       p.Batch,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func toParticipantResponse(pp *store.ProjectParticipant) api.ParticipantResponse {
	return api.ParticipantResponse{
		ID:         pp.ID.String(),
		SiteUID:    pp.SiteID.String(),
		ProjectID:  pp.ProjectID.String(),
		Role:       pp.Role.String(),
		Notes:      pp.Notes,
		SiteStatus: string(pp.SiteStatus),
		CreatedAt:  pp.CreatedAt,
		UpdatedAt:  pp.UpdatedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toRunResponse(r *store.Run) api.RunResponse {
	return api.RunResponse{
		ID:            r.ID.String(),
		ProjectID:     r.ProjectID.String(),
		ParticipantID: r.ParticipantID.String(),
		Role:          r.Role.String(),
		SiteUID:       r.SiteID.String(),
		Batch:         r.Batch,
		CurSeq:        r.CurSeq,
		Tasks:         toTaskDTOs(r.Tasks),
		Status:        r.Status.String(),
		Artifacts:     nonNil(r.Artifacts),
		Logs:          nonNil(r.Logs),
		MidArtifacts:  nonNil(r.MidArtifacts),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func toRunResponses(runs []store.Run) []api.RunResponse {
	out := make([]api.RunResponse, len(runs))
	for i := range runs {
		out[i] = toRunResponse(&runs[i])
	}
	return out
}

func toMergedRunResponses(merged []runview.MergedRun) []api.MergedRunResponse {
	out := make([]api.MergedRunResponse, len(merged))
	for i, m := range merged {
		out[i] = api.MergedRunResponse{
			ProjectID: m.ProjectID.String(),
			Batch:     m.Batch,
			Status:    m.Status.String(),
			RunIDs:    uuidStrings(m.RunIDs),
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		}
	}
	return out
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
