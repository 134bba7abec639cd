package runstate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func tasksFixture() Tasks {
	return Tasks{
		{Seq: 1, Model: "fedavg-cnn", Config: json.RawMessage(`{"current_round":2,"total_round":3,"lr":0.01}`)},
		{Seq: 2, Model: "fedavg-mlp", Config: json.RawMessage(`{"current_round":1,"total_round":1}`)},
	}
}

func TestAdvanceRound_IncrementsRound(t *testing.T) {
	tasks := tasksFixture()

	seq, err := AdvanceRound(tasks, 1)
	if err != nil {
		t.Fatalf("AdvanceRound: %v", err)
	}
	if seq != 1 {
		t.Errorf("cur_seq = %d, want 1", seq)
	}
	if tasks[0].CurrentRound() != 3 {
		t.Errorf("current_round = %d, want 3", tasks[0].CurrentRound())
	}
	if lr := gjson.GetBytes(tasks[0].Config, "lr").Float(); lr != 0.01 {
		t.Errorf("lr = %v, other config keys must survive", lr)
	}
}

func TestAdvanceRound_ExhaustedRoundsMoveToNextTask(t *testing.T) {
	tasks := tasksFixture()
	tasks[0].Config = json.RawMessage(`{"current_round":3,"total_round":3}`)

	seq, err := AdvanceRound(tasks, 1)
	if err != nil {
		t.Fatalf("AdvanceRound: %v", err)
	}
	if seq != 2 {
		t.Errorf("cur_seq = %d, want 2", seq)
	}
	if tasks[0].CurrentRound() != 3 {
		t.Errorf("current_round changed to %d", tasks[0].CurrentRound())
	}
}

func TestAdvanceRound_LastTaskStays(t *testing.T) {
	tasks := tasksFixture()

	seq, err := AdvanceRound(tasks, 2)
	if err != nil {
		t.Fatalf("AdvanceRound: %v", err)
	}
	if seq != 2 {
		t.Errorf("cur_seq = %d, want 2", seq)
	}
	if tasks[1].CurrentRound() != 1 {
		t.Errorf("current_round = %d, want 1", tasks[1].CurrentRound())
	}
}

func TestAdvanceRound_OutOfRange(t *testing.T) {
	if _, err := AdvanceRound(tasksFixture(), 3); err == nil {
		t.Error("expected error for cur_seq past the task list")
	}
	if _, err := AdvanceRound(tasksFixture(), 0); err == nil {
		t.Error("expected error for cur_seq 0")
	}
}

func TestTasks_CloneDoesNotAlias(t *testing.T) {
	orig := tasksFixture()
	snap := orig.Clone()
	if _, err := AdvanceRound(snap, 1); err != nil {
		t.Fatalf("AdvanceRound: %v", err)
	}
	if orig[0].CurrentRound() != 2 {
		t.Errorf("original task changed to round %d", orig[0].CurrentRound())
	}
}

func TestTasks_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tasks   Tasks
		wantErr string
	}{
		{"valid", tasksFixture(), ""},
		{"empty", Tasks{}, "at least one task"},
		{"bad seq", Tasks{{Seq: 2, Model: "m"}}, "has seq 2"},
		{"missing model", Tasks{{Seq: 1}}, "model is required"},
		{"array config", Tasks{{Seq: 1, Model: "m", Config: json.RawMessage(`[1]`)}}, "JSON object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tasks.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestTasks_ScanValue(t *testing.T) {
	v, err := tasksFixture().Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	var back Tasks
	if err := back.Scan(v); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(back) != 2 || back[1].Model != "fedavg-mlp" || back[0].TotalRound() != 3 {
		t.Errorf("unexpected scan result: %+v", back)
	}
}
