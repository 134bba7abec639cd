package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// SiteStore persists sites and their connectivity.
type SiteStore interface {
	// CreateSite inserts a new site together with the hash of its API key.
	CreateSite(ctx context.Context, tx DBTransaction, site *Site, keyHash string) error
	// GetSiteByID returns a site by its uid.
	GetSiteByID(ctx context.Context, id uuid.UUID) (*Site, error)
	// GetSiteByAPIKeyHash resolves the site owning an API key.
	GetSiteByAPIKeyHash(ctx context.Context, hash string) (*Site, error)
	// LockSite reads a site with SELECT ... FOR UPDATE.
	LockSite(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Site, error)
	// UpdateSiteStatus sets status and updated_at.
	UpdateSiteStatus(ctx context.Context, tx DBTransaction, id uuid.UUID, status SiteStatus, at time.Time) error
	// DisconnectStaleSites marks CONNECTED sites last updated before cutoff as DISCONNECTED.
	DisconnectStaleSites(ctx context.Context, cutoff time.Time) (int64, error)
	// CountSites counts sites in the given status.
	CountSites(ctx context.Context, status SiteStatus) (int64, error)
}

// ProjectStore persists projects and their participants.
type ProjectStore interface {
	// CreateProject inserts a project unless one with the same name exists.
	// It reports whether a row was inserted.
	CreateProject(ctx context.Context, tx DBTransaction, project *Project) (bool, error)
	// GetProjectByID returns a project by id.
	GetProjectByID(ctx context.Context, id uuid.UUID) (*Project, error)
	// LockProject reads a project with SELECT ... FOR UPDATE.
	LockProject(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Project, error)
	// LockProjectByName reads a project by name with SELECT ... FOR UPDATE.
	LockProjectByName(ctx context.Context, tx DBTransaction, name string) (*Project, error)
	// IncrementBatch bumps the batch counter and returns the new value.
	IncrementBatch(ctx context.Context, tx DBTransaction, id uuid.UUID) (int, error)
	// CreateParticipant inserts a participant unless the (site, project) pair exists.
	// It reports whether a row was inserted.
	CreateParticipant(ctx context.Context, tx DBTransaction, participant *ProjectParticipant) (bool, error)
	// GetParticipant returns the participant row of a site in a project.
	GetParticipant(ctx context.Context, tx DBTransaction, projectID, siteID uuid.UUID) (*ProjectParticipant, error)
	// ListParticipants returns the project's participants with their site status.
	ListParticipants(ctx context.Context, tx DBTransaction, projectID uuid.UUID) ([]ProjectParticipant, error)
}

// RunStore persists runs.
type RunStore interface {
	// CreateRuns bulk-inserts runs and returns the number of rows written.
	CreateRuns(ctx context.Context, tx DBTransaction, runs []Run) (int64, error)
	// GetRunByID returns a run by id.
	GetRunByID(ctx context.Context, id uuid.UUID) (*Run, error)
	// GetRunsByIDs returns the runs with the given ids, ordered by id.
	GetRunsByIDs(ctx context.Context, ids []uuid.UUID) ([]Run, error)
	// LockRun reads a run with SELECT ... FOR UPDATE.
	LockRun(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Run, error)
	// LockBatchRuns locks every run of a batch, in id order.
	LockBatchRuns(ctx context.Context, tx DBTransaction, projectID uuid.UUID, batch int) ([]Run, error)
	// ListRuns returns all runs of a project ordered by batch then id.
	ListRuns(ctx context.Context, tx DBTransaction, projectID uuid.UUID) ([]Run, error)
	// ListLatestBatchRuns returns the runs of the project's highest batch.
	ListLatestBatchRuns(ctx context.Context, tx DBTransaction, projectID uuid.UUID) ([]Run, error)
	// UpdateRunProgress writes status, cur_seq and tasks of a run.
	UpdateRunProgress(ctx context.Context, tx DBTransaction, run *Run) error
	// AppendRunFile appends path to the run's list for kind and sets updated_at.
	AppendRunFile(ctx context.Context, tx DBTransaction, runID uuid.UUID, kind FileKind, path string, at time.Time) error
}
