package runstate

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"fedplane/internal/apperr"
)

type statusSet map[Status]struct{}

func setOf(statuses ...Status) statusSet {
	set := make(statusSet, len(statuses))
	for _, s := range statuses {
		set[s] = struct{}{}
	}
	return set
}

// allowedSources maps a target status to the statuses it may be entered from.
// A nil set means the target is reachable from anywhere.
var allowedSources = map[Status]statusSet{
	StatusStandby:            nil,
	StatusPendingFailed:      setOf(StatusStandby, StatusPreparing, StatusRunning),
	StatusPreparing:          setOf(StatusStandby),
	StatusRunning:            setOf(StatusPreparing),
	StatusPendingSuccess:     setOf(StatusRunning),
	StatusPendingAggregating: setOf(StatusPendingSuccess),
	StatusAggregating:        setOf(StatusPendingAggregating),
	StatusSuccess:            setOf(StatusPendingSuccess, StatusAggregating),
	StatusFailed:             setOf(StatusPendingFailed, StatusPendingAggregating, StatusAggregating),
}

// InvalidTransitionError is returned when target cannot be entered from Current.
type InvalidTransitionError struct {
	Current Status
	Target  Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.Current, e.Target)
}

// Is makes an invalid transition match apperr.ErrConflict.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == apperr.ErrConflict
}

// CanTransition reports whether the edge current -> target exists.
func CanTransition(current, target Status) bool {
	sources, ok := allowedSources[target]
	if !ok || !current.Valid() {
		return false
	}
	if sources == nil {
		return true
	}
	_, ok = sources[current]
	return ok
}

// Transition validates current -> target against the edge table and returns
// the new status. It never mutates anything.
func Transition(current, target Status) (Status, error) {
	if !CanTransition(current, target) {
		return current, &InvalidTransitionError{Current: current, Target: target}
	}
	return target, nil
}

// State is the status field of a run. Its value changes only through Apply,
// or when a persisted row is scanned. The zero State is a fresh run in STANDBY.
type State struct {
	status Status
	loaded bool
}

// NewState returns the state every new run starts in.
func NewState() State {
	return State{status: StatusStandby, loaded: true}
}

// Current returns the status held by the state.
func (st State) Current() Status {
	if !st.loaded {
		return StatusStandby
	}
	return st.status
}

// Apply moves the state to target if the edge table allows it.
// On error the state is left unchanged.
func (st *State) Apply(target Status) error {
	next, err := Transition(st.Current(), target)
	if err != nil {
		return err
	}
	st.status = next
	st.loaded = true
	return nil
}

// Scan implements sql.Scanner for the runs.status column.
func (st *State) Scan(src any) error {
	var name string
	switch v := src.(type) {
	case string:
		name = v
	case []byte:
		name = string(v)
	default:
		return fmt.Errorf("cannot scan %T into run status", src)
	}
	s, err := ParseStatus(name)
	if err != nil {
		return err
	}
	st.status = s
	st.loaded = true
	return nil
}

// Value implements driver.Valuer.
func (st State) Value() (driver.Value, error) {
	return st.Current().String(), nil
}

// MarshalJSON renders the state as its symbolic name.
func (st State) MarshalJSON() ([]byte, error) {
	return json.Marshal(st.Current().String())
}

func (st State) String() string {
	return st.Current().String()
}
