// Package siteagent contains the long-running process deployed at each site.
// It keeps the site CONNECTED and executes the site's STANDBY runs.
package siteagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fedplane/internal/siteagent/runtime"
	"fedplane/pkg/api"
	"fedplane/pkg/client"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Controller is the subset of the controller API the agent uses.
// *client.Client implements it.
type Controller interface {
	Heartbeat(ctx context.Context, siteID, status string) (*api.SiteResponse, error)
	ListRuns(ctx context.Context, projectID string) ([]api.RunResponse, error)
	UpdateRunStatus(ctx context.Context, runID string, req api.StatusChangeRequest) (*api.RunResponse, error)
	UploadFile(ctx context.Context, up client.FileUpload) (*api.UploadFileResponse, error)
}

// Config holds configuration for the site agent.
type Config struct {
	SiteID            string
	ProjectID         string
	Command           []string
	HeartbeatInterval time.Duration // default: 20s
	PollInterval      time.Duration // default: 5s
	MaxBackoff        time.Duration // maximum poll backoff when there is no work (default: 1m)
	RunTimeout        time.Duration // default: 2h
}

// Agent heartbeats the controller and executes runs owned by its site.
type Agent struct {
	ctrl   Controller
	rt     runtime.Runtime
	config Config
	log    *slog.Logger
	tracer trace.Tracer
}

// New creates a new site agent.
func New(ctrl Controller, rt runtime.Runtime, config Config, log *slog.Logger) *Agent {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = 20 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = time.Minute
	}
	if config.MaxBackoff < config.PollInterval {
		config.MaxBackoff = config.PollInterval
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = 2 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		ctrl:   ctrl,
		rt:     rt,
		config: config,
		log:    log.With("site_uid", config.SiteID),
		tracer: otel.Tracer("fedplane/siteagent"),
	}
}

// Run starts the heartbeat and run loops. It blocks until ctx is cancelled
// or the controller rejects the agent's credentials. A run in flight is
// allowed to finish reporting before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("site agent starting", "project_id", a.config.ProjectID)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.heartbeatLoop(gctx) })
	g.Go(func() error { return a.runLoop(gctx) })

	err := g.Wait()
	a.log.Info("site agent stopped")
	return err
}

func (a *Agent) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		if err := a.heartbeat(ctx, "CONNECTED"); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			// Best effort: tell the controller we are leaving instead of
			// waiting for the liveness sweep.
			offCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if _, err := a.ctrl.Heartbeat(offCtx, a.config.SiteID, "DISCONNECTED"); err != nil {
				a.log.Warn("disconnect heartbeat failed", "error", err)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// heartbeat returns an error only when retrying cannot help.
func (a *Agent) heartbeat(ctx context.Context, status string) error {
	_, err := a.ctrl.Heartbeat(ctx, a.config.SiteID, status)
	if err == nil {
		return nil
	}
	if isAuthError(err) {
		return fmt.Errorf("heartbeat rejected: %w", err)
	}
	if ctx.Err() == nil {
		a.log.Warn("heartbeat failed", "error", err)
	}
	return nil
}

func (a *Agent) runLoop(ctx context.Context) error {
	backoff := a.config.PollInterval

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		runs, err := a.ctrl.ListRuns(ctx, a.config.ProjectID)
		if err != nil {
			if isAuthError(err) {
				return fmt.Errorf("list runs rejected: %w", err)
			}
			if ctx.Err() == nil {
				a.log.Warn("list runs failed", "error", err)
			}
			backoff = a.nextBackoff(backoff)
			continue
		}

		pending := a.pendingRuns(runs)
		if len(pending) == 0 {
			backoff = a.nextBackoff(backoff)
			continue
		}
		backoff = a.config.PollInterval

		for i := range pending {
			if ctx.Err() != nil {
				return nil
			}
			a.processRun(ctx, &pending[i])
		}
	}
}

func (a *Agent) nextBackoff(cur time.Duration) time.Duration {
	cur *= 2
	if cur > a.config.MaxBackoff {
		cur = a.config.MaxBackoff
	}
	return cur
}

// pendingRuns keeps the STANDBY participant runs owned by this site.
// Coordinator runs are driven by the operator.
func (a *Agent) pendingRuns(runs []api.RunResponse) []api.RunResponse {
	var out []api.RunResponse
	for _, r := range runs {
		if r.SiteUID == a.config.SiteID && r.Role == "PARTICIPANT" && r.Status == "STANDBY" {
			out = append(out, r)
		}
	}
	return out
}

// processRun drives one run STANDBY -> PREPARING -> RUNNING, executes the
// training command and reports PENDING_SUCCESS or PENDING_FAILED.
func (a *Agent) processRun(ctx context.Context, run *api.RunResponse) {
	taskSeq, round, model, taskConfig := currentTask(run)

	spanCtx, span := a.tracer.Start(ctx, "siteagent.process_run",
		trace.WithAttributes(
			attribute.String("run.id", run.ID),
			attribute.String("project.id", run.ProjectID),
			attribute.Int("run.batch", run.Batch),
			attribute.Int("task.seq", taskSeq),
			attribute.Int("task.round", round),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	log := a.log.With("run_id", run.ID, "batch", run.Batch, "task_seq", taskSeq, "round", round)

	if err := a.setStatus(spanCtx, run.ID, "PREPARING"); err != nil {
		// Another actor moved the run first; it is no longer ours to start.
		log.Warn("could not claim run", "error", err)
		return
	}
	if err := a.setStatus(spanCtx, run.ID, "RUNNING"); err != nil {
		log.Error("could not mark run running", "error", err)
		a.finish(log, run.ID, "PENDING_FAILED")
		return
	}

	opts := runtime.StartOptions{
		Command: a.config.Command,
		Env: map[string]string{
			runtime.RunIDEnv:       run.ID,
			"FEDPLANE_PROJECT_ID":  run.ProjectID,
			"FEDPLANE_BATCH":       strconv.Itoa(run.Batch),
			"FEDPLANE_TASK_SEQ":    strconv.Itoa(taskSeq),
			"FEDPLANE_ROUND":       strconv.Itoa(round),
			"FEDPLANE_MODEL":       model,
			"FEDPLANE_TASK_CONFIG": taskConfig,
		},
		Timeout: a.config.RunTimeout,
	}

	// The process keeps running through a shutdown so the result can still be
	// reported; only RunTimeout bounds it.
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(spanCtx), a.config.RunTimeout)
	defer cancel()

	handle, err := a.rt.Start(execCtx, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start failed")
		log.Error("failed to start training command", "error", err)
		a.uploadLog(execCtx, log, run.ID, taskSeq, round, []byte(err.Error()))
		a.finish(log, run.ID, "PENDING_FAILED")
		return
	}

	result, err := handle.Wait(execCtx)
	a.uploadLog(execCtx, log, run.ID, taskSeq, round, handle.Output())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "wait failed")
		log.Error("training command did not complete", "error", err)
		a.finish(log, run.ID, "PENDING_FAILED")
		return
	}

	span.SetAttributes(attribute.Int("exit_code", result.ExitCode))
	if result.ExitCode != 0 {
		span.SetStatus(codes.Error, "non-zero exit")
		log.Warn("training command failed", "exit_code", result.ExitCode)
		a.finish(log, run.ID, "PENDING_FAILED")
		return
	}
	log.Info("training command succeeded")
	a.finish(log, run.ID, "PENDING_SUCCESS")
}

func (a *Agent) setStatus(ctx context.Context, runID, status string) error {
	_, err := a.ctrl.UpdateRunStatus(ctx, runID, api.StatusChangeRequest{Status: status})
	return err
}

// finish reports the terminal pending status on a fresh context so a
// shutdown in progress does not leave the run RUNNING.
func (a *Agent) finish(log *slog.Logger, runID, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.setStatus(ctx, runID, status); err != nil {
		log.Error("failed to report run result", "status", status, "error", err)
		return
	}
	log.Info("run reported", "status", status)
}

func (a *Agent) uploadLog(ctx context.Context, log *slog.Logger, runID string, taskSeq, round int, output []byte) {
	if len(output) == 0 {
		return
	}
	resp, err := a.ctrl.UploadFile(ctx, client.FileUpload{
		RunID:    runID,
		TaskSeq:  taskSeq,
		RoundSeq: round,
		Kind:     api.FileKindLogs,
		FileName: "train.log",
		Content:  strings.NewReader(string(output)),
	})
	if err != nil {
		log.Error("failed to upload run log", "error", err)
		return
	}
	log.Debug("uploaded run log", "path", resp.Path)
}

// currentTask extracts the active task of a run. Uploads need a task and
// round of at least 1, so missing values are clamped.
func currentTask(run *api.RunResponse) (seq, round int, model, config string) {
	seq = max(run.CurSeq, 1)
	round = 1
	config = "{}"
	if t := run.CurrentTask(); t != nil {
		model = t.Model
		if len(t.Config) > 0 {
			config = string(t.Config)
			round = max(int(gjson.Get(config, "current_round").Int()), 1)
		}
	}
	return seq, round, model, config
}

func isAuthError(err error) bool {
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden
}
