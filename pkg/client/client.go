// Package client is the HTTP client for the fedplane controller API, used by
// flctl and the site agent.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fedplane/pkg/api"
)

// Client handles API calls to the fedplane controller.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// New creates a new client with the given base URL and site API key.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// newAPIError prefers the error field of an api.ErrorResponse body and
// falls back to the raw body.
func newAPIError(status int, body []byte) *APIError {
	var errResp api.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		msg := errResp.Error
		if errResp.Details != "" {
			msg += ": " + errResp.Details
		}
		return &APIError{StatusCode: status, Message: msg}
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	return req, nil
}

// send executes req and decodes a successful JSON body into out (if non-nil).
func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, respBody)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		bodyBytes, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(bodyBytes)
	}

	req, err := c.newRequest(ctx, method, path, token, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Add("Content-Type", "application/json")
	}
	return c.send(req, out)
}

// RegisterSite sends POST /sites. Registration is authorized with the admin
// secret instead of a site key.
func (c *Client) RegisterSite(ctx context.Context, adminSecret string, req api.RegisterSiteRequest) (*api.RegisterSiteResponse, error) {
	var out api.RegisterSiteResponse
	if err := c.doJSON(ctx, http.MethodPost, "/sites", adminSecret, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetSite sends GET /sites/{uid}.
func (c *Client) GetSite(ctx context.Context, siteID string) (*api.SiteResponse, error) {
	var out api.SiteResponse
	if err := c.doJSON(ctx, http.MethodGet, "/sites/"+url.PathEscape(siteID), c.Token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Heartbeat sends PUT /sites/{uid}/heartbeat.
func (c *Client) Heartbeat(ctx context.Context, siteID, status string) (*api.SiteResponse, error) {
	var out api.SiteResponse
	path := fmt.Sprintf("/sites/%s/heartbeat", url.PathEscape(siteID))
	if err := c.doJSON(ctx, http.MethodPut, path, c.Token, api.HeartbeatRequest{Status: status}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// JoinProject sends POST /projects.
func (c *Client) JoinProject(ctx context.Context, req api.JoinProjectRequest) (*api.JoinProjectResponse, error) {
	var out api.JoinProjectResponse
	if err := c.doJSON(ctx, http.MethodPost, "/projects", c.Token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListParticipants sends GET /projects/{id}/participants.
func (c *Client) ListParticipants(ctx context.Context, projectID string) ([]api.ParticipantResponse, error) {
	var out []api.ParticipantResponse
	path := fmt.Sprintf("/projects/%s/participants", url.PathEscape(projectID))
	if err := c.doJSON(ctx, http.MethodGet, path, c.Token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartBatch sends POST /projects/{id}/batches.
func (c *Client) StartBatch(ctx context.Context, projectID string) (*api.StartBatchResponse, error) {
	var out api.StartBatchResponse
	path := fmt.Sprintf("/projects/%s/batches", url.PathEscape(projectID))
	if err := c.doJSON(ctx, http.MethodPost, path, c.Token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TransitionBatch sends PUT /projects/{id}/batches/{batch}/status.
func (c *Client) TransitionBatch(ctx context.Context, projectID string, batch int, req api.StatusChangeRequest) ([]api.RunResponse, error) {
	var out []api.RunResponse
	path := fmt.Sprintf("/projects/%s/batches/%d/status", url.PathEscape(projectID), batch)
	if err := c.doJSON(ctx, http.MethodPut, path, c.Token, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListRuns sends GET /projects/{id}/runs.
func (c *Client) ListRuns(ctx context.Context, projectID string) ([]api.RunResponse, error) {
	var out []api.RunResponse
	path := fmt.Sprintf("/projects/%s/runs", url.PathEscape(projectID))
	if err := c.doJSON(ctx, http.MethodGet, path, c.Token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMergedRuns sends GET /projects/{id}/runs?merged=true.
func (c *Client) ListMergedRuns(ctx context.Context, projectID string) ([]api.MergedRunResponse, error) {
	var out []api.MergedRunResponse
	path := fmt.Sprintf("/projects/%s/runs?merged=true", url.PathEscape(projectID))
	if err := c.doJSON(ctx, http.MethodGet, path, c.Token, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRun sends GET /runs/{id}.
func (c *Client) GetRun(ctx context.Context, runID string) (*api.RunResponse, error) {
	var out api.RunResponse
	if err := c.doJSON(ctx, http.MethodGet, "/runs/"+url.PathEscape(runID), c.Token, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRunStatus sends PUT /runs/{id}/status.
func (c *Client) UpdateRunStatus(ctx context.Context, runID string, req api.StatusChangeRequest) (*api.RunResponse, error) {
	var out api.RunResponse
	path := fmt.Sprintf("/runs/%s/status", url.PathEscape(runID))
	if err := c.doJSON(ctx, http.MethodPut, path, c.Token, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FileUpload describes one file for UploadFile.
type FileUpload struct {
	RunID    string
	TaskSeq  int
	RoundSeq int
	Kind     string
	FileName string
	Content  io.Reader
}

// UploadFile sends POST /runs/{id}/files as multipart/form-data.
func (c *Client) UploadFile(ctx context.Context, up FileUpload) (*api.UploadFileResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"task_seq":  strconv.Itoa(up.TaskSeq),
		"round_seq": strconv.Itoa(up.RoundSeq),
		"kind":      up.Kind,
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}
	part, err := mw.CreateFormFile("file", up.FileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, up.Content); err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish form: %w", err)
	}

	path := fmt.Sprintf("/runs/%s/files", url.PathEscape(up.RunID))
	req, err := c.newRequest(ctx, http.MethodPost, path, c.Token, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out api.UploadFileResponse
	if err := c.send(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FileFilter narrows ListFiles. Zero TaskSeq/RoundSeq mean "any".
type FileFilter struct {
	RunIDs   []string
	TaskSeq  int
	RoundSeq int
	Kind     string
}

func (f FileFilter) query() url.Values {
	q := url.Values{}
	for _, id := range f.RunIDs {
		q.Add("run_id", id)
	}
	if f.TaskSeq > 0 {
		q.Set("task_seq", strconv.Itoa(f.TaskSeq))
	}
	if f.RoundSeq > 0 {
		q.Set("round_seq", strconv.Itoa(f.RoundSeq))
	}
	if f.Kind != "" {
		q.Set("kind", f.Kind)
	}
	return q
}

// ListFiles sends GET /files.
func (c *Client) ListFiles(ctx context.Context, f FileFilter) ([]string, error) {
	var out api.ListFilesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/files?"+f.query().Encode(), c.Token, nil, &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// DownloadBundle sends GET /files/bundle and copies the zip archive to w.
func (c *Client) DownloadBundle(ctx context.Context, paths []string, w io.Writer) error {
	q := url.Values{}
	for _, p := range paths {
		q.Add("path", p)
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/files/bundle?"+q.Encode(), c.Token, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, respBody)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	return nil
}
