package runtime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewExecRuntime_DefaultWorkDir(t *testing.T) {
	rt := NewExecRuntime("")

	expected := filepath.Join(os.TempDir(), "fedplane", "runner")
	if rt.WorkDir != expected {
		t.Errorf("expected WorkDir to be %s, got %s", expected, rt.WorkDir)
	}
	if rt.MaxOutput != DefaultMaxOutput {
		t.Errorf("expected MaxOutput %d, got %d", DefaultMaxOutput, rt.MaxOutput)
	}
}

func TestStart_Success(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Command: []string{"echo", "hello"},
		Env:     map[string]string{RunIDEnv: "run-123"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", result.ExitCode)
	}
	if got := strings.TrimSpace(string(handle.Output())); got != "hello" {
		t.Errorf("expected output 'hello', got %q", got)
	}
}

func TestStart_EmptyCommand(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	_, err := rt.Start(context.Background(), StartOptions{})
	if err == nil {
		t.Fatal("expected error for empty command")
	}
	if !strings.Contains(err.Error(), "command is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStart_CommandNotFound(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	_, err := rt.Start(context.Background(), StartOptions{
		Command: []string{"nonexistent-binary-xyz"},
	})
	if err == nil {
		t.Fatal("expected error for non-existent command")
	}
}

func TestStart_CreatesRunWorkDir(t *testing.T) {
	base := t.TempDir()
	rt := NewExecRuntime(base)

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Command: []string{"pwd"},
		Env:     map[string]string{RunIDEnv: "run-workdir"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := handle.Wait(ctx); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}

	dir := filepath.Join(base, "run-workdir")
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected work dir %s: %v", dir, err)
	}
	if !strings.HasSuffix(strings.TrimSpace(string(handle.Output())), "run-workdir") {
		t.Errorf("process ran in %q", handle.Output())
	}
}

func TestWait_NonZeroExit(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Command: []string{"sh", "-c", "echo boom >&2; exit 3"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", result.ExitCode)
	}
	if !strings.Contains(string(handle.Output()), "boom") {
		t.Errorf("expected stderr to be captured, got %q", handle.Output())
	}
}

func TestWait_ContextCancelled(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	handle, err := rt.Start(context.Background(), StartOptions{
		Command: []string{"sleep", "10"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result, err := handle.Wait(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
	if result.ExitCode != -1 {
		t.Errorf("expected exit code -1, got %d", result.ExitCode)
	}
}

func TestStart_TimeoutKillsProcess(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Command: []string{"sleep", "10"},
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	start := time.Now()
	result, _ := handle.Wait(ctx)
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout did not kill the process")
	}
	if result.ExitCode == 0 {
		t.Error("expected a non-zero exit code after timeout")
	}
}

func TestStop_Terminates(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	handle, err := rt.Start(context.Background(), StartOptions{
		Command: []string{"sleep", "30"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := handle.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	// A second Stop after exit is a no-op.
	if err := handle.Stop(stopCtx); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
}

func TestStart_PassesEnvironment(t *testing.T) {
	rt := NewExecRuntime(t.TempDir())

	ctx := context.Background()
	handle, err := rt.Start(ctx, StartOptions{
		Command: []string{"sh", "-c", "echo $FEDPLANE_TEST_VAR"},
		Env:     map[string]string{"FEDPLANE_TEST_VAR": "custom-value"},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	handle.Wait(ctx)

	if got := strings.TrimSpace(string(handle.Output())); got != "custom-value" {
		t.Errorf("expected 'custom-value', got: %q", got)
	}
}

func TestCappedBuffer(t *testing.T) {
	b := &cappedBuffer{limit: 5}

	n, err := b.Write([]byte("abc"))
	if n != 3 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	n, err = b.Write([]byte("defgh"))
	if n != 5 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}

	got := string(b.Bytes())
	if !strings.HasPrefix(got, "abcde") || !strings.Contains(got, "[output truncated]") {
		t.Errorf("unexpected buffer contents %q", got)
	}
}
