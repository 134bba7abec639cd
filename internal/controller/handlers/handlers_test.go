package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"fedplane/internal/controller/middleware"
	"fedplane/internal/orchestrator"
	"fedplane/internal/runstate"
	"fedplane/internal/runview"
	"fedplane/internal/store"
	"fedplane/pkg/api"

	"github.com/google/uuid"
)

// mockService implements Service with per-method hooks. Unset hooks return
// zero values.
type mockService struct {
	registerFn         func(name, desc string) (*store.Site, string, error)
	heartbeatFn        func(siteID uuid.UUID, status store.SiteStatus) (*store.Site, error)
	lookupFn           func(siteID uuid.UUID) (*store.Site, error)
	createOrJoinFn     func(name, desc string, tasks runstate.Tasks, siteID uuid.UUID) (*orchestrator.Membership, error)
	listParticipantsFn func(projectID, requester uuid.UUID) ([]store.ProjectParticipant, error)
	startBatchFn       func(projectID, requester uuid.UUID) ([]store.Run, error)
	transitionBatchFn  func(projectID uuid.UUID, batch int, target runstate.Status, inc bool, requester uuid.UUID) ([]store.Run, error)
	listRunsFn         func(projectID, requester uuid.UUID) ([]store.Run, error)
	listMergedFn       func(projectID, requester uuid.UUID) ([]runview.MergedRun, error)
	getRunFn           func(runID, requester uuid.UUID) (*store.Run, error)
	updateRunFn        func(runID uuid.UUID, target runstate.Status, inc bool, requester uuid.UUID) (*store.Run, error)
	uploadFn           func(up orchestrator.Upload, requester uuid.UUID) (string, error)
	listFilesFn        func(q orchestrator.FileQuery, requester uuid.UUID) ([]string, error)
	bundleFn           func(paths []string, requester uuid.UUID) ([]byte, error)
}

func (m *mockService) Register(_ context.Context, name, desc string) (*store.Site, string, error) {
	return m.registerFn(name, desc)
}

func (m *mockService) Heartbeat(_ context.Context, siteID uuid.UUID, status store.SiteStatus) (*store.Site, error) {
	return m.heartbeatFn(siteID, status)
}

func (m *mockService) Lookup(_ context.Context, siteID uuid.UUID) (*store.Site, error) {
	return m.lookupFn(siteID)
}

func (m *mockService) CreateOrJoin(_ context.Context, name, desc string, tasks runstate.Tasks, siteID uuid.UUID) (*orchestrator.Membership, error) {
	return m.createOrJoinFn(name, desc, tasks, siteID)
}

func (m *mockService) ListParticipants(_ context.Context, projectID, requester uuid.UUID) ([]store.ProjectParticipant, error) {
	return m.listParticipantsFn(projectID, requester)
}

func (m *mockService) StartNewBatch(_ context.Context, projectID, requester uuid.UUID) ([]store.Run, error) {
	return m.startBatchFn(projectID, requester)
}

func (m *mockService) TransitionBatch(_ context.Context, projectID uuid.UUID, batch int, target runstate.Status, inc bool, requester uuid.UUID) ([]store.Run, error) {
	return m.transitionBatchFn(projectID, batch, target, inc, requester)
}

func (m *mockService) ListRuns(_ context.Context, projectID, requester uuid.UUID) ([]store.Run, error) {
	return m.listRunsFn(projectID, requester)
}

func (m *mockService) ListMergedRuns(_ context.Context, projectID, requester uuid.UUID) ([]runview.MergedRun, error) {
	return m.listMergedFn(projectID, requester)
}

func (m *mockService) GetRun(_ context.Context, runID, requester uuid.UUID) (*store.Run, error) {
	return m.getRunFn(runID, requester)
}

func (m *mockService) UpdateRunStatus(_ context.Context, runID uuid.UUID, target runstate.Status, inc bool, requester uuid.UUID) (*store.Run, error) {
	return m.updateRunFn(runID, target, inc, requester)
}

func (m *mockService) UploadFile(_ context.Context, up orchestrator.Upload, requester uuid.UUID) (string, error) {
	return m.uploadFn(up, requester)
}

func (m *mockService) ListFiles(_ context.Context, q orchestrator.FileQuery, requester uuid.UUID) ([]string, error) {
	return m.listFilesFn(q, requester)
}

func (m *mockService) Bundle(_ context.Context, paths []string, requester uuid.UUID) ([]byte, error) {
	return m.bundleFn(paths, requester)
}

type mockPinger struct{ err error }

func (m *mockPinger) Ping(context.Context) error { return m.err }

func newTestHandlers(svc *mockService) *Handlers {
	return New(svc, &mockPinger{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// testSite is the authenticated caller used by request helpers.
var testSite = &store.Site{ID: uuid.MustParse("11111111-1111-1111-1111-111111111111"), Name: "caller", Status: store.SiteStatusConnected}

// newRequest builds a request authenticated as testSite with the given path
// values set.
func newRequest(method, target string, body any, pathValues map[string]string) *http.Request {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range pathValues {
		req.SetPathValue(k, v)
	}
	return req.WithContext(middleware.NewContextWithSite(req.Context(), testSite))
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var resp api.ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp
}

func testRun(role store.Role, status runstate.Status) store.Run {
	var st runstate.State
	if err := st.Scan(status.String()); err != nil {
		panic(err)
	}
	return store.Run{
		ID:            uuid.New(),
		ProjectID:     uuid.New(),
		ParticipantID: uuid.New(),
		Role:          role,
		SiteID:        testSite.ID,
		Batch:         1,
		CurSeq:        1,
		Tasks:         runstate.Tasks{{Seq: 1, Model: "m", Config: json.RawMessage(`{"current_round":1,"total_round":2}`)}},
		Status:        st,
	}
}
