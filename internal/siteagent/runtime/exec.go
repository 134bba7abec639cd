package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"
)

// RunIDEnv names the variable carrying the run id. When present, the process
// gets its own working directory named after it.
const RunIDEnv = "FEDPLANE_RUN_ID"

// DefaultMaxOutput caps the captured output per process.
const DefaultMaxOutput = 4 << 20

// ExecRuntime implements Runtime using raw OS processes.
type ExecRuntime struct {
	WorkDir   string
	MaxOutput int
}

// NewExecRuntime creates a process-based runtime rooted at workDir.
func NewExecRuntime(workDir string) *ExecRuntime {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "fedplane", "runner")
	}
	return &ExecRuntime{WorkDir: workDir, MaxOutput: DefaultMaxOutput}
}

// Start implements Runtime.Start using os/exec.
func (e *ExecRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	dir := opts.Dir
	if dir == "" {
		dir = e.WorkDir
		if id := opts.Env[RunIDEnv]; id != "" {
			dir = filepath.Join(e.WorkDir, id)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	cmd := exec.Command(opts.Command[0], opts.Command[1:]...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	out := &cappedBuffer{limit: e.MaxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", opts.Command[0], err)
	}

	h := &execHandle{cmd: cmd, out: out, done: make(chan struct{})}
	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()

	if opts.Timeout > 0 {
		go func() {
			timer := time.NewTimer(opts.Timeout)
			defer timer.Stop()
			select {
			case <-h.done:
			case <-timer.C:
				_ = h.kill()
			}
		}()
	}
	return h, nil
}

type execHandle struct {
	cmd     *exec.Cmd
	out     *cappedBuffer
	done    chan struct{}
	waitErr error
}

func (h *execHandle) Wait(ctx context.Context) (*ExitResult, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		_ = h.kill()
		<-h.done
		return &ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}

	if h.waitErr == nil {
		return &ExitResult{ExitCode: 0}, nil
	}
	var exitErr *exec.ExitError
	if errors.As(h.waitErr, &exitErr) {
		return &ExitResult{ExitCode: exitErr.ExitCode(), Error: h.waitErr}, nil
	}
	return &ExitResult{ExitCode: -1, Error: h.waitErr}, h.waitErr
}

func (h *execHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signal process: %w", err)
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		if err := h.kill(); err != nil {
			return err
		}
		<-h.done
		return nil
	}
}

func (h *execHandle) Output() []byte {
	return h.out.Bytes()
}

func (h *execHandle) kill() error {
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process: %w", err)
	}
	return nil
}

// cappedBuffer keeps the first limit bytes written to it and drops the rest.
// Writes never fail so the child never blocks on a full pipe.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       []byte
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - len(b.buf)
	if b.limit <= 0 {
		room = len(p)
	}
	if room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf = append(b.buf, p[:room]...)
		}
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]byte(nil), b.buf...)
	if b.truncated {
		out = append(out, "\n[output truncated]\n"...)
	}
	return out
}
