package runstate

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	currentRoundKey = "current_round"
	totalRoundKey   = "total_round"
)

// Task is one unit of work in a project. Config is opaque to the
// orchestrator except for the round counters.
type Task struct {
	Seq    int             `json:"seq"`
	Model  string          `json:"model"`
	Config json.RawMessage `json:"config,omitempty"`
}

// CurrentRound returns config.current_round (0 when absent).
func (t Task) CurrentRound() int {
	return int(gjson.GetBytes(t.Config, currentRoundKey).Int())
}

// TotalRound returns config.total_round (0 when absent).
func (t Task) TotalRound() int {
	return int(gjson.GetBytes(t.Config, totalRoundKey).Int())
}

// Tasks is an ordered task list stored as a JSON column.
type Tasks []Task

// Validate checks that the list is non-empty, sequenced 1..N, and that every
// task names a model and carries a JSON object config.
func (ts Tasks) Validate() error {
	if len(ts) == 0 {
		return fmt.Errorf("at least one task is required")
	}
	for i, t := range ts {
		if t.Seq != i+1 {
			return fmt.Errorf("task %d has seq %d, want %d", i, t.Seq, i+1)
		}
		if t.Model == "" {
			return fmt.Errorf("task %d: model is required", t.Seq)
		}
		if len(t.Config) > 0 && !gjson.ValidBytes(t.Config) {
			return fmt.Errorf("task %d: config is not valid JSON", t.Seq)
		}
		if len(t.Config) > 0 && !gjson.ParseBytes(t.Config).IsObject() {
			return fmt.Errorf("task %d: config must be a JSON object", t.Seq)
		}
	}
	return nil
}

// Clone deep-copies the list so a run snapshot never aliases the project.
func (ts Tasks) Clone() Tasks {
	if ts == nil {
		return nil
	}
	out := make(Tasks, len(ts))
	for i, t := range ts {
		out[i] = t
		if t.Config != nil {
			out[i].Config = append(json.RawMessage(nil), t.Config...)
		}
	}
	return out
}

// Value implements driver.Valuer.
func (ts Tasks) Value() (driver.Value, error) {
	if ts == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(ts)
}

// Scan implements sql.Scanner.
func (ts *Tasks) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	case nil:
		*ts = nil
		return nil
	default:
		return fmt.Errorf("cannot scan %T into tasks", src)
	}
	return json.Unmarshal(raw, ts)
}

// AdvanceRound applies the coordinator's increase-round step to a run's task
// list. The task at curSeq gets its current_round bumped while it is below
// total_round; once the task's rounds are exhausted curSeq moves to the next
// task, unless it is already the last one. tasks is modified in place.
func AdvanceRound(tasks Tasks, curSeq int) (int, error) {
	if curSeq < 1 || curSeq > len(tasks) {
		return curSeq, fmt.Errorf("cur_seq %d out of range for %d tasks", curSeq, len(tasks))
	}
	task := &tasks[curSeq-1]
	current, total := task.CurrentRound(), task.TotalRound()
	if current < total {
		cfg := task.Config
		if len(cfg) == 0 {
			cfg = json.RawMessage("{}")
		}
		updated, err := sjson.SetBytes(cfg, currentRoundKey, current+1)
		if err != nil {
			return curSeq, fmt.Errorf("update current_round: %w", err)
		}
		task.Config = updated
		return curSeq, nil
	}
	if curSeq < len(tasks) {
		return curSeq + 1, nil
	}
	return curSeq, nil
}
