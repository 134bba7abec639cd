package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"fedplane/internal/apperr"
	"fedplane/internal/store"

	"github.com/google/uuid"
)

// fakeState is the data behind fakeStore; BeginTx snapshots it and Rollback
// restores the snapshot, mimicking transactional all-or-nothing writes.
type fakeState struct {
	sites        map[uuid.UUID]store.Site
	keys         map[string]uuid.UUID
	projects     map[uuid.UUID]store.Project
	participants []store.ProjectParticipant
	runs         map[uuid.UUID]store.Run
}

func (st *fakeState) clone() *fakeState {
	c := &fakeState{
		sites:        make(map[uuid.UUID]store.Site, len(st.sites)),
		keys:         make(map[string]uuid.UUID, len(st.keys)),
		projects:     make(map[uuid.UUID]store.Project, len(st.projects)),
		participants: append([]store.ProjectParticipant(nil), st.participants...),
		runs:         make(map[uuid.UUID]store.Run, len(st.runs)),
	}
	for k, v := range st.sites {
		c.sites[k] = v
	}
	for k, v := range st.keys {
		c.keys[k] = v
	}
	for k, v := range st.projects {
		v.Tasks = v.Tasks.Clone()
		c.projects[k] = v
	}
	for k, v := range st.runs {
		c.runs[k] = cloneRun(v)
	}
	return c
}

func cloneRun(r store.Run) store.Run {
	r.Tasks = r.Tasks.Clone()
	r.Artifacts = append([]string{}, r.Artifacts...)
	r.Logs = append([]string{}, r.Logs...)
	r.MidArtifacts = append([]string{}, r.MidArtifacts...)
	return r
}

type fakeStore struct {
	state    *fakeState
	snapshot *fakeState

	beginErr  error
	commitErr error
	// shortInsert makes CreateRuns report one row fewer than it wrote.
	shortInsert bool
	appendErr   error

	commits   int
	rollbacks int
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: &fakeState{
		sites:    map[uuid.UUID]store.Site{},
		keys:     map[string]uuid.UUID{},
		projects: map[uuid.UUID]store.Project{},
		runs:     map[uuid.UUID]store.Run{},
	}}
}

type fakeTx struct {
	s    *fakeStore
	done bool
}

func (tx *fakeTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}

func (tx *fakeTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}

func (tx *fakeTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (tx *fakeTx) Commit() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	if tx.s.commitErr != nil {
		tx.s.state = tx.s.snapshot
		tx.s.snapshot = nil
		return tx.s.commitErr
	}
	tx.s.snapshot = nil
	tx.s.commits++
	return nil
}

func (tx *fakeTx) Rollback() error {
	if tx.done {
		return sql.ErrTxDone
	}
	tx.done = true
	tx.s.state = tx.s.snapshot
	tx.s.snapshot = nil
	tx.s.rollbacks++
	return nil
}

func (f *fakeStore) BeginTx(ctx context.Context) (store.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.snapshot = f.state.clone()
	return &fakeTx{s: f}, nil
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, apperr.ErrNotFound)
}

// --- sites ---

func (f *fakeStore) CreateSite(ctx context.Context, tx store.DBTransaction, site *store.Site, keyHash string) error {
	f.state.sites[site.ID] = *site
	f.state.keys[keyHash] = site.ID
	return nil
}

func (f *fakeStore) GetSiteByID(ctx context.Context, id uuid.UUID) (*store.Site, error) {
	site, ok := f.state.sites[id]
	if !ok {
		return nil, notFound("site", id)
	}
	return &site, nil
}

func (f *fakeStore) GetSiteByAPIKeyHash(ctx context.Context, hash string) (*store.Site, error) {
	id, ok := f.state.keys[hash]
	if !ok {
		return nil, notFound("site key", "")
	}
	return f.GetSiteByID(ctx, id)
}

func (f *fakeStore) LockSite(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Site, error) {
	return f.GetSiteByID(ctx, id)
}

func (f *fakeStore) UpdateSiteStatus(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.SiteStatus, at time.Time) error {
	site, ok := f.state.sites[id]
	if !ok {
		return notFound("site", id)
	}
	site.Status = status
	site.UpdatedAt = at
	f.state.sites[id] = site
	return nil
}

func (f *fakeStore) DisconnectStaleSites(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, site := range f.state.sites {
		if site.Status == store.SiteStatusConnected && site.UpdatedAt.Before(cutoff) {
			site.Status = store.SiteStatusDisconnected
			f.state.sites[id] = site
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountSites(ctx context.Context, status store.SiteStatus) (int64, error) {
	var n int64
	for _, site := range f.state.sites {
		if site.Status == status {
			n++
		}
	}
	return n, nil
}

// --- projects ---

func (f *fakeStore) CreateProject(ctx context.Context, tx store.DBTransaction, p *store.Project) (bool, error) {
	for _, existing := range f.state.projects {
		if existing.Name == p.Name {
			return false, nil
		}
	}
	cp := *p
	cp.Tasks = p.Tasks.Clone()
	f.state.projects[p.ID] = cp
	return true, nil
}

func (f *fakeStore) GetProjectByID(ctx context.Context, id uuid.UUID) (*store.Project, error) {
	p, ok := f.state.projects[id]
	if !ok {
		return nil, notFound("project", id)
	}
	p.Tasks = p.Tasks.Clone()
	return &p, nil
}

func (f *fakeStore) LockProject(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Project, error) {
	return f.GetProjectByID(ctx, id)
}

func (f *fakeStore) LockProjectByName(ctx context.Context, tx store.DBTransaction, name string) (*store.Project, error) {
	for id, p := range f.state.projects {
		if p.Name == name {
			return f.GetProjectByID(ctx, id)
		}
	}
	return nil, notFound("project", name)
}

func (f *fakeStore) IncrementBatch(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (int, error) {
	p, ok := f.state.projects[id]
	if !ok {
		return 0, notFound("project", id)
	}
	p.Batch++
	f.state.projects[id] = p
	return p.Batch, nil
}

func (f *fakeStore) withSiteStatus(pp store.ProjectParticipant) store.ProjectParticipant {
	pp.SiteStatus = f.state.sites[pp.SiteID].Status
	return pp
}

func (f *fakeStore) CreateParticipant(ctx context.Context, tx store.DBTransaction, pp *store.ProjectParticipant) (bool, error) {
	for _, existing := range f.state.participants {
		if existing.SiteID == pp.SiteID && existing.ProjectID == pp.ProjectID {
			return false, nil
		}
	}
	f.state.participants = append(f.state.participants, *pp)
	return true, nil
}

func (f *fakeStore) GetParticipant(ctx context.Context, tx store.DBTransaction, projectID, siteID uuid.UUID) (*store.ProjectParticipant, error) {
	for _, pp := range f.state.participants {
		if pp.ProjectID == projectID && pp.SiteID == siteID {
			out := f.withSiteStatus(pp)
			return &out, nil
		}
	}
	return nil, notFound("participant", siteID)
}

func (f *fakeStore) ListParticipants(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID) ([]store.ProjectParticipant, error) {
	var out []store.ProjectParticipant
	for _, pp := range f.state.participants {
		if pp.ProjectID == projectID {
			out = append(out, f.withSiteStatus(pp))
		}
	}
	return out, nil
}

// --- runs ---

func (f *fakeStore) CreateRuns(ctx context.Context, tx store.DBTransaction, runs []store.Run) (int64, error) {
	for _, r := range runs {
		for _, existing := range f.state.runs {
			if existing.ProjectID == r.ProjectID && existing.ParticipantID == r.ParticipantID && existing.Batch == r.Batch {
				return 0, fmt.Errorf("duplicate run: %w", apperr.ErrConflict)
			}
		}
		f.state.runs[r.ID] = cloneRun(r)
	}
	n := int64(len(runs))
	if f.shortInsert {
		n--
	}
	return n, nil
}

func (f *fakeStore) GetRunByID(ctx context.Context, id uuid.UUID) (*store.Run, error) {
	r, ok := f.state.runs[id]
	if !ok {
		return nil, notFound("run", id)
	}
	r = cloneRun(r)
	return &r, nil
}

func (f *fakeStore) sortedRuns(keep func(store.Run) bool) []store.Run {
	var out []store.Run
	for _, r := range f.state.runs {
		if keep(r) {
			out = append(out, cloneRun(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Batch != out[j].Batch {
			return out[i].Batch < out[j].Batch
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (f *fakeStore) GetRunsByIDs(ctx context.Context, ids []uuid.UUID) ([]store.Run, error) {
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return f.sortedRuns(func(r store.Run) bool { return want[r.ID] }), nil
}

func (f *fakeStore) LockRun(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Run, error) {
	return f.GetRunByID(ctx, id)
}

func (f *fakeStore) LockBatchRuns(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID, batch int) ([]store.Run, error) {
	runs := f.sortedRuns(func(r store.Run) bool { return r.ProjectID == projectID && r.Batch == batch })
	if len(runs) == 0 {
		return nil, notFound("batch", batch)
	}
	return runs, nil
}

func (f *fakeStore) ListRuns(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID) ([]store.Run, error) {
	return f.sortedRuns(func(r store.Run) bool { return r.ProjectID == projectID }), nil
}

func (f *fakeStore) ListLatestBatchRuns(ctx context.Context, tx store.DBTransaction, projectID uuid.UUID) ([]store.Run, error) {
	latest := 0
	for _, r := range f.state.runs {
		if r.ProjectID == projectID && r.Batch > latest {
			latest = r.Batch
		}
	}
	return f.sortedRuns(func(r store.Run) bool { return r.ProjectID == projectID && r.Batch == latest }), nil
}

func (f *fakeStore) UpdateRunProgress(ctx context.Context, tx store.DBTransaction, r *store.Run) error {
	existing, ok := f.state.runs[r.ID]
	if !ok {
		return notFound("run", r.ID)
	}
	existing.Status = r.Status
	existing.CurSeq = r.CurSeq
	existing.Tasks = r.Tasks.Clone()
	existing.UpdatedAt = r.UpdatedAt
	f.state.runs[r.ID] = existing
	return nil
}

func (f *fakeStore) AppendRunFile(ctx context.Context, tx store.DBTransaction, runID uuid.UUID, kind store.FileKind, p string, at time.Time) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	r, ok := f.state.runs[runID]
	if !ok {
		return notFound("run", runID)
	}
	switch kind {
	case store.FileKindArtifacts:
		r.Artifacts = append(r.Artifacts, p)
	case store.FileKindLogs:
		r.Logs = append(r.Logs, p)
	case store.FileKindMidArtifacts:
		r.MidArtifacts = append(r.MidArtifacts, p)
	default:
		return fmt.Errorf("kind %q: %w", kind, apperr.ErrValidation)
	}
	r.UpdatedAt = at
	f.state.runs[runID] = r
	return nil
}
