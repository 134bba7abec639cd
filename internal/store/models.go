// Package store contains the database layer for fedplane.
package store

import (
	"database/sql/driver"
	"fmt"
	"time"

	"fedplane/internal/runstate"

	"github.com/google/uuid"
)

// SiteStatus is the connectivity state of a site.
type SiteStatus string

const (
	SiteStatusDisconnected SiteStatus = "DISCONNECTED"
	SiteStatusConnected    SiteStatus = "CONNECTED"
)

// Valid reports whether s is a known site status.
func (s SiteStatus) Valid() bool {
	return s == SiteStatusConnected || s == SiteStatusDisconnected
}

// Site is an independently operated node taking part in projects.
type Site struct {
	ID          uuid.UUID  `json:"uid"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Status      SiteStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Project is a named, ordered task list shared by a coordinator and its participants.
type Project struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Tasks       runstate.Tasks `json:"tasks"`
	Batch       int            `json:"batch"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Role is the part a site plays in a project. The zero Role is invalid.
type Role uint8

const (
	RoleCoordinator Role = iota + 1
	RoleParticipant
)

func (r Role) String() string {
	switch r {
	case RoleCoordinator:
		return "COORDINATOR"
	case RoleParticipant:
		return "PARTICIPANT"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Valid reports whether r is one of the two roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCoordinator, RoleParticipant:
		return true
	default:
		return false
	}
}

// ParseRole resolves a symbolic role name.
func ParseRole(name string) (Role, error) {
	switch name {
	case "COORDINATOR":
		return RoleCoordinator, nil
	case "PARTICIPANT":
		return RoleParticipant, nil
	default:
		return 0, fmt.Errorf("unknown role %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Scan implements sql.Scanner.
func (r *Role) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return r.UnmarshalText([]byte(v))
	case []byte:
		return r.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into role", src)
	}
}

// Value implements driver.Valuer.
func (r Role) Value() (driver.Value, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid role %d", uint8(r))
	}
	return r.String(), nil
}

// ProjectParticipant links a site to a project with a role.
type ProjectParticipant struct {
	ID        uuid.UUID `json:"id"`
	SiteID    uuid.UUID `json:"site_uid"`
	ProjectID uuid.UUID `json:"project_id"`
	Role      Role      `json:"role"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// SiteStatus is joined from sites when listing participants.
	SiteStatus SiteStatus `json:"site_status,omitempty"`
}

// FileKind selects one of a run's append-only file lists.
type FileKind string

const (
	FileKindArtifacts    FileKind = "artifacts"
	FileKindLogs         FileKind = "logs"
	FileKindMidArtifacts FileKind = "mid_artifacts"
)

// Valid reports whether k names a file list.
func (k FileKind) Valid() bool {
	switch k {
	case FileKindArtifacts, FileKindLogs, FileKindMidArtifacts:
		return true
	default:
		return false
	}
}

// Run is one participant's execution record for one batch of a project.
type Run struct {
	ID            uuid.UUID      `json:"id"`
	ProjectID     uuid.UUID      `json:"project_id"`
	ParticipantID uuid.UUID      `json:"participant_id"`
	Role          Role           `json:"role"`
	SiteID        uuid.UUID      `json:"site_uid"`
	Batch         int            `json:"batch"`
	CurSeq        int            `json:"cur_seq"`
	Tasks         runstate.Tasks `json:"tasks"`
	Status        runstate.State `json:"status"`
	Artifacts     []string       `json:"artifacts"`
	Logs          []string       `json:"logs"`
	MidArtifacts  []string       `json:"mid_artifacts"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Files returns the list for kind.
func (r *Run) Files(kind FileKind) []string {
	switch kind {
	case FileKindArtifacts:
		return r.Artifacts
	case FileKindLogs:
		return r.Logs
	case FileKindMidArtifacts:
		return r.MidArtifacts
	default:
		return nil
	}
}
