// Package runstate holds the run status state machine and the task/round
// bookkeeping that rides along with status updates.
package runstate

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a run.
// Values travel as their symbolic names; the numeric codes are never exposed.
type Status uint8

const (
	StatusFailed Status = iota
	StatusPendingFailed
	StatusStandby
	StatusPreparing
	StatusRunning
	StatusPendingSuccess
	StatusPendingAggregating
	StatusAggregating
	StatusSuccess
)

var statusNames = map[Status]string{
	StatusFailed:             "FAILED",
	StatusPendingFailed:      "PENDING_FAILED",
	StatusStandby:            "STANDBY",
	StatusPreparing:          "PREPARING",
	StatusRunning:            "RUNNING",
	StatusPendingSuccess:     "PENDING_SUCCESS",
	StatusPendingAggregating: "PENDING_AGGREGATING",
	StatusAggregating:        "AGGREGATING",
	StatusSuccess:            "SUCCESS",
}

// severity ranks statuses for the batch merge: the lowest rank wins.
// Kept apart from the declaration order so reordering the constants cannot
// silently change merge results.
var severity = map[Status]int{
	StatusFailed:             0,
	StatusPendingFailed:      1,
	StatusStandby:            2,
	StatusPreparing:          3,
	StatusRunning:            4,
	StatusPendingSuccess:     5,
	StatusPendingAggregating: 6,
	StatusAggregating:        7,
	StatusSuccess:            8,
}

// AllStatuses lists every status in severity order.
func AllStatuses() []Status {
	return []Status{
		StatusFailed,
		StatusPendingFailed,
		StatusStandby,
		StatusPreparing,
		StatusRunning,
		StatusPendingSuccess,
		StatusPendingAggregating,
		StatusAggregating,
		StatusSuccess,
	}
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// Severity returns the merge rank of s. Lower is worse.
func (s Status) Severity() int {
	if rank, ok := severity[s]; ok {
		return rank
	}
	return len(severity)
}

// Worse reports whether s outranks other in the batch merge.
func (s Status) Worse(other Status) bool {
	return s.Severity() < other.Severity()
}

// Finished reports whether a batch in this merged status allows a new batch.
func (s Status) Finished() bool {
	return s == StatusSuccess || s == StatusFailed
}

// ParseStatus resolves a symbolic name, case-insensitively.
func ParseStatus(name string) (Status, error) {
	want := strings.ToUpper(strings.TrimSpace(name))
	for s, n := range statusNames {
		if n == want {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown run status %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid run status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
