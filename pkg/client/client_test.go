package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fedplane/pkg/api"
)

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://localhost:6161/", "key")
	if c.BaseURL != "http://localhost:6161" {
		t.Errorf("got BaseURL %q", c.BaseURL)
	}
}

func TestRegisterSite_UsesAdminSecret(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/sites" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer admin-secret" {
			t.Errorf("expected admin secret, got %q", got)
		}
		var req api.RegisterSiteRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Name != "hospital-a" {
			t.Errorf("unexpected name %q", req.Name)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.RegisterSiteResponse{
			Site:   api.SiteResponse{UID: "site-1", Name: req.Name, Status: "DISCONNECTED"},
			APIKey: "fp_abc",
		})
	}))
	defer server.Close()

	c := New(server.URL, "site-key")
	resp, err := c.RegisterSite(context.Background(), "admin-secret", api.RegisterSiteRequest{Name: "hospital-a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.APIKey != "fp_abc" || resp.Site.UID != "site-1" {
		t.Errorf("unexpected response %+v", resp)
	}
}

func TestHeartbeat_SendsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/sites/site-1/heartbeat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer site-key" {
			t.Errorf("expected site key, got %q", got)
		}
		var req api.HeartbeatRequest
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(api.SiteResponse{UID: "site-1", Status: req.Status})
	}))
	defer server.Close()

	site, err := New(server.URL, "site-key").Heartbeat(context.Background(), "site-1", "CONNECTED")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if site.Status != "CONNECTED" {
		t.Errorf("got status %q", site.Status)
	}
}

func TestAPIError_UsesErrorResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(api.ErrorResponse{Error: "invalid transition", Details: "RUNNING -> SUCCESS"})
	}))
	defer server.Close()

	_, err := New(server.URL, "k").UpdateRunStatus(context.Background(), "run-1", api.StatusChangeRequest{Status: "SUCCESS"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Errorf("got status %d", apiErr.StatusCode)
	}
	if apiErr.Message != "invalid transition: RUNNING -> SUCCESS" {
		t.Errorf("got message %q", apiErr.Message)
	}
}

func TestAPIError_PlainBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := New(server.URL, "k").GetRun(context.Background(), "run-1")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "Too Many Requests" {
		t.Errorf("got message %q", apiErr.Message)
	}
}

func TestListMergedRuns_SetsQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/projects/p-1/runs" || r.URL.Query().Get("merged") != "true" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		json.NewEncoder(w).Encode([]api.MergedRunResponse{{Batch: 1, Status: "RUNNING"}})
	}))
	defer server.Close()

	runs, err := New(server.URL, "k").ListMergedRuns(context.Background(), "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != "RUNNING" {
		t.Errorf("unexpected runs %+v", runs)
	}
}

func TestUploadFile_Multipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runs/run-1/files" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.FormValue("task_seq") != "2" || r.FormValue("round_seq") != "3" || r.FormValue("kind") != "logs" {
			t.Errorf("unexpected fields %v", r.MultipartForm.Value)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		if hdr.Filename != "train.log" || string(body) != "epoch 1" {
			t.Errorf("unexpected file %s %q", hdr.Filename, body)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(api.UploadFileResponse{Path: "run-1/2/3/logs-2-3-train.log"})
	}))
	defer server.Close()

	resp, err := New(server.URL, "k").UploadFile(context.Background(), FileUpload{
		RunID:    "run-1",
		TaskSeq:  2,
		RoundSeq: 3,
		Kind:     api.FileKindLogs,
		FileName: "train.log",
		Content:  strings.NewReader("epoch 1"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Path != "run-1/2/3/logs-2-3-train.log" {
		t.Errorf("got path %q", resp.Path)
	}
}

func TestListFiles_EncodesFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if ids := q["run_id"]; len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
			t.Errorf("unexpected run ids %v", ids)
		}
		if q.Get("task_seq") != "1" || q.Has("round_seq") || q.Get("kind") != "artifacts" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(api.ListFilesResponse{Files: []string{"a/1/1/x"}})
	}))
	defer server.Close()

	files, err := New(server.URL, "k").ListFiles(context.Background(), FileFilter{
		RunIDs:  []string{"a", "b"},
		TaskSeq: 1,
		Kind:    api.FileKindArtifacts,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(files) != 1 {
		t.Errorf("unexpected files %v", files)
	}
}

func TestDownloadBundle_CopiesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query()["path"]; len(got) != 1 || got[0] != "a/1/1/x" {
			t.Errorf("unexpected paths %v", got)
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Write([]byte("PK-zip-bytes"))
	}))
	defer server.Close()

	var buf bytes.Buffer
	if err := New(server.URL, "k").DownloadBundle(context.Background(), []string{"a/1/1/x"}, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.String() != "PK-zip-bytes" {
		t.Errorf("got %q", buf.String())
	}
}
