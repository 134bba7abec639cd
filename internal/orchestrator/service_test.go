package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"fedplane/internal/blob"
	"fedplane/internal/runstate"
	"fedplane/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	svc   *Service
	store *fakeStore
	blobs *blob.MemoryStore
	clock *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	fs := newFakeStore()
	blobs := blob.NewMemoryStore()
	c := &clock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &harness{
		svc:   New(fs, blobs, log, WithClock(c.Now)),
		store: fs,
		blobs: blobs,
		clock: c,
	}
}

func testTasks() runstate.Tasks {
	return runstate.Tasks{
		{Seq: 1, Model: "fedavg-cnn", Config: json.RawMessage(`{"current_round":1,"total_round":2,"lr":0.05}`)},
		{Seq: 2, Model: "fedprox-cnn", Config: json.RawMessage(`{"current_round":1,"total_round":1}`)},
	}
}

func (h *harness) register(t *testing.T, name string) *store.Site {
	t.Helper()
	site, _, err := h.svc.Register(context.Background(), name, "")
	require.NoError(t, err)
	return site
}

// project creates a project owned by coordinator and joins every participant.
func (h *harness) project(t *testing.T, coordinator *store.Site, participants ...*store.Site) *store.Project {
	t.Helper()
	ctx := context.Background()
	m, err := h.svc.CreateOrJoin(ctx, "mnist-"+uuid.NewString()[:8], "", testTasks(), coordinator.ID)
	require.NoError(t, err)
	for _, p := range participants {
		_, err := h.svc.CreateOrJoin(ctx, m.Project.Name, "", nil, p.ID)
		require.NoError(t, err)
	}
	return m.Project
}

func (h *harness) setRunStatus(t *testing.T, runID uuid.UUID, s runstate.Status) {
	t.Helper()
	r := h.store.state.runs[runID]
	require.NoError(t, r.Status.Scan(s.String()))
	h.store.state.runs[runID] = r
}

func (h *harness) runStatus(runID uuid.UUID) runstate.Status {
	return h.store.state.runs[runID].Status.Current()
}

func runOf(runs []store.Run, siteID uuid.UUID) store.Run {
	for _, r := range runs {
		if r.SiteID == siteID {
			return r
		}
	}
	return store.Run{}
}
