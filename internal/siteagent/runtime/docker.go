package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// ContainerWorkDir is where the per-run directory is mounted inside the
// container.
const ContainerWorkDir = "/workspace"

// containerAPI is the part of the Docker engine API the runtime needs.
type containerAPI interface {
	ensureImage(ctx context.Context, ref string) error
	create(ctx context.Context, cfg *container.Config, host *container.HostConfig) (string, error)
	start(ctx context.Context, id string) error
	wait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error)
	stop(ctx context.Context, id string, graceSeconds int) error
	logs(ctx context.Context, id string) (io.ReadCloser, error)
	remove(ctx context.Context, id string) error
}

// DockerRuntime runs the training command inside a container of Image. The
// per-run directory is bind-mounted at ContainerWorkDir.
type DockerRuntime struct {
	api       containerAPI
	Image     string
	WorkDir   string
	MaxOutput int
}

// NewDockerRuntime connects to the Docker daemon configured by the standard
// environment (DOCKER_HOST and friends).
func NewDockerRuntime(img, workDir string) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newDockerRuntime(&dockerClient{cli: cli}, img, workDir), nil
}

func newDockerRuntime(api containerAPI, img, workDir string) *DockerRuntime {
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "fedplane", "runner")
	}
	return &DockerRuntime{api: api, Image: img, WorkDir: workDir, MaxOutput: DefaultMaxOutput}
}

func mapToEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// Start implements Runtime.Start using a Docker container.
func (d *DockerRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if d.Image == "" {
		return nil, fmt.Errorf("image is required")
	}
	if len(opts.Command) == 0 {
		return nil, fmt.Errorf("command is required")
	}

	dir := opts.Dir
	if dir == "" {
		dir = d.WorkDir
		if id := opts.Env[RunIDEnv]; id != "" {
			dir = filepath.Join(d.WorkDir, id)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve work dir: %w", err)
	}

	if err := d.api.ensureImage(ctx, d.Image); err != nil {
		return nil, err
	}

	id, err := d.api.create(ctx, &container.Config{
		Image:      d.Image,
		Cmd:        opts.Command,
		Env:        mapToEnvList(opts.Env),
		WorkingDir: ContainerWorkDir,
		Tty:        true,
	}, &container.HostConfig{
		Binds: []string{absDir + ":" + ContainerWorkDir},
	})
	if err != nil {
		return nil, fmt.Errorf("create container: %w", err)
	}
	if err := d.api.start(ctx, id); err != nil {
		_ = d.api.remove(context.WithoutCancel(ctx), id)
		return nil, fmt.Errorf("start container: %w", err)
	}

	h := &dockerHandle{
		api:  d.api,
		id:   id,
		out:  &cappedBuffer{limit: d.MaxOutput},
		done: make(chan struct{}),
	}
	go h.collect()

	if opts.Timeout > 0 {
		go func() {
			timer := time.NewTimer(opts.Timeout)
			defer timer.Stop()
			select {
			case <-h.done:
			case <-timer.C:
				_ = h.api.stop(context.Background(), h.id, 0)
			}
		}()
	}
	return h, nil
}

type dockerHandle struct {
	api  containerAPI
	id   string
	out  *cappedBuffer
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	exitMsg  string
	waitErr  error
}

// collect waits for the container to stop, copies its output and removes it.
func (h *dockerHandle) collect() {
	defer close(h.done)
	ctx := context.Background()

	statusCh, errCh := h.api.wait(ctx, h.id)
	h.mu.Lock()
	select {
	case err := <-errCh:
		h.exitCode, h.waitErr = -1, fmt.Errorf("wait container: %w", err)
	case status := <-statusCh:
		h.exitCode = int(status.StatusCode)
		if status.Error != nil {
			h.exitMsg = status.Error.Message
		}
	}
	h.mu.Unlock()

	if rc, err := h.api.logs(ctx, h.id); err == nil {
		_, _ = io.Copy(h.out, rc)
		rc.Close()
	}
	_ = h.api.remove(ctx, h.id)
}

func (h *dockerHandle) Wait(ctx context.Context) (*ExitResult, error) {
	select {
	case <-h.done:
	case <-ctx.Done():
		_ = h.api.stop(context.Background(), h.id, 0)
		<-h.done
		return &ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.waitErr != nil {
		return &ExitResult{ExitCode: -1, Error: h.waitErr}, h.waitErr
	}
	res := &ExitResult{ExitCode: h.exitCode}
	if h.exitMsg != "" {
		res.Error = fmt.Errorf("%s", h.exitMsg)
	} else if h.exitCode != 0 {
		res.Error = fmt.Errorf("container exited with code %d", h.exitCode)
	}
	return res, nil
}

func (h *dockerHandle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	if err := h.api.stop(ctx, h.id, 10); err != nil {
		return fmt.Errorf("stop container: %w", err)
	}
	select {
	case <-h.done:
	case <-ctx.Done():
	}
	return nil
}

func (h *dockerHandle) Output() []byte {
	return h.out.Bytes()
}

// dockerClient adapts the Docker SDK client to containerAPI.
type dockerClient struct {
	cli *client.Client
}

func (c *dockerClient) ensureImage(ctx context.Context, ref string) error {
	// Check if it exists locally first to save a pull.
	if _, err := c.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	}
	reader, err := c.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

func (c *dockerClient) create(ctx context.Context, cfg *container.Config, host *container.HostConfig) (string, error) {
	resp, err := c.cli.ContainerCreate(ctx, cfg, host, nil, nil, "")
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *dockerClient) start(ctx context.Context, id string) error {
	return c.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (c *dockerClient) wait(ctx context.Context, id string) (<-chan container.WaitResponse, <-chan error) {
	return c.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
}

func (c *dockerClient) stop(ctx context.Context, id string, graceSeconds int) error {
	return c.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &graceSeconds})
}

func (c *dockerClient) logs(ctx context.Context, id string) (io.ReadCloser, error) {
	return c.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
}

func (c *dockerClient) remove(ctx context.Context, id string) error {
	return c.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}
