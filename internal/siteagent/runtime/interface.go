// Package runtime provides the Runtime interface the site agent executes
// training commands through.
package runtime

import (
	"context"
	"time"
)

// Runtime starts training processes.
type Runtime interface {
	// Start begins execution and returns a handle.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting a process.
type StartOptions struct {
	Command []string
	Env     map[string]string
	// Dir overrides the working directory. Empty means a per-run directory
	// under the runtime's WorkDir.
	Dir     string
	Timeout time.Duration
}

// ExitResult describes how a process ended.
type ExitResult struct {
	ExitCode int
	Error    error
}

// Handle represents a running process.
type Handle interface {
	// Wait blocks until the process exits or ctx is done. On ctx expiry the
	// process is killed and ExitCode is -1.
	Wait(ctx context.Context) (*ExitResult, error)

	// Stop terminates the process, escalating to SIGKILL if it does not
	// exit before ctx is done.
	Stop(ctx context.Context) error

	// Output returns the combined stdout/stderr captured so far.
	Output() []byte
}
