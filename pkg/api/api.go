// Package api contains shared JSON request/response structs.
// This package is shared between the controller, the site agent and the CLI.
package api

import (
	"encoding/json"
	"time"
)

// RegisterSiteRequest is the request body for registering a new site.
type RegisterSiteRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// RegisterSiteResponse carries the new site and its API key. The key is only
// ever returned here.
type RegisterSiteResponse struct {
	Site   SiteResponse `json:"site"`
	APIKey string       `json:"api_key"`
}

// SiteResponse represents a site in API responses.
type SiteResponse struct {
	UID         string    `json:"uid"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HeartbeatRequest reports a site's connectivity status.
type HeartbeatRequest struct {
	Status string `json:"status"`
}

// Task is one step of a project. Config holds at least current_round and
// total_round.
type Task struct {
	Seq    int             `json:"seq"`
	Model  string          `json:"model"`
	Config json.RawMessage `json:"config,omitempty"`
}

// JoinProjectRequest creates the named project or joins it. Tasks are only
// used when the project is created.
type JoinProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Tasks       []Task `json:"tasks,omitempty"`
}

// JoinProjectResponse describes the caller's membership. AlreadyJoined is set
// when the site was a member before the request.
type JoinProjectResponse struct {
	Project       ProjectResponse     `json:"project"`
	Participant   ParticipantResponse `json:"participant"`
	AlreadyJoined bool                `json:"already_joined,omitempty"`
}

// ProjectResponse represents a project in API responses.
type ProjectResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Tasks       []Task    `json:"tasks"`
	Batch       int       `json:"batch"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ParticipantResponse represents a project participant.
type ParticipantResponse struct {
	ID         string    `json:"id"`
	SiteUID    string    `json:"site_uid"`
	ProjectID  string    `json:"project_id"`
	Role       string    `json:"role"`
	Notes      string    `json:"notes,omitempty"`
	SiteStatus string    `json:"site_status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RunResponse represents a run in API responses.
type RunResponse struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	ParticipantID string    `json:"participant_id"`
	Role          string    `json:"role"`
	SiteUID       string    `json:"site_uid"`
	Batch         int       `json:"batch"`
	CurSeq        int       `json:"cur_seq"`
	Tasks         []Task    `json:"tasks"`
	Status        string    `json:"status"`
	Artifacts     []string  `json:"artifacts"`
	Logs          []string  `json:"logs"`
	MidArtifacts  []string  `json:"mid_artifacts"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CurrentTask returns the task at cur_seq, or nil if it is out of range.
func (r *RunResponse) CurrentTask() *Task {
	if r.CurSeq < 1 || r.CurSeq > len(r.Tasks) {
		return nil
	}
	return &r.Tasks[r.CurSeq-1]
}

// MergedRunResponse summarizes one batch.
type MergedRunResponse struct {
	ProjectID string    `json:"project_id"`
	Batch     int       `json:"batch"`
	Status    string    `json:"status"`
	RunIDs    []string  `json:"run_ids"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusChangeRequest moves a run, or every run of a batch, to Status.
type StatusChangeRequest struct {
	Status        string `json:"status"`
	IncreaseRound bool   `json:"increase_round,omitempty"`
}

// StartBatchResponse lists the runs created by a batch start.
type StartBatchResponse struct {
	Batch int           `json:"batch"`
	Runs  []RunResponse `json:"runs"`
}

// UploadFileResponse returns the stored path of an uploaded file.
type UploadFileResponse struct {
	Path string `json:"path"`
}

// ListFilesResponse lists stored file paths.
type ListFilesResponse struct {
	Files []string `json:"files"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// File kinds accepted by the upload and listing endpoints.
const (
	FileKindArtifacts    = "artifacts"
	FileKindLogs         = "logs"
	FileKindMidArtifacts = "mid_artifacts"
)
