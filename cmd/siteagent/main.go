// Package main is the entry point for the fedplane site agent. The agent
// runs next to a site's training code: it keeps the site CONNECTED and
// executes the site's runs as they are scheduled.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fedplane/internal/config"
	"fedplane/internal/logger"
	"fedplane/internal/observability"
	"fedplane/internal/siteagent"
	"fedplane/internal/siteagent/runtime"
	"fedplane/pkg/client"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (default: fedplane.yaml in current directory)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "siteagent: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateAgent(); err != nil {
		return err
	}

	log := logger.New("fedplane-siteagent", cfg.LogLevel).With("site_uid", cfg.SiteUID)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "fedplane-siteagent", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	rt, err := newRuntime(cfg, log)
	if err != nil {
		return err
	}
	agent := siteagent.New(client.New(cfg.ControllerURL, cfg.SiteAPIKey), rt, siteagent.Config{
		SiteID:            cfg.SiteUID,
		ProjectID:         cfg.SiteProjectID,
		Command:           cfg.SiteCommand,
		HeartbeatInterval: cfg.SiteHeartbeatInterval,
		PollInterval:      cfg.SitePollInterval,
		RunTimeout:        cfg.SiteRunTimeout,
	}, log)

	return agent.Run(ctx)
}

func newRuntime(cfg *config.Config, log *slog.Logger) (runtime.Runtime, error) {
	if cfg.SiteRuntime == config.RuntimeDocker {
		rt, err := runtime.NewDockerRuntime(cfg.SiteImage, cfg.SiteWorkDir)
		if err != nil {
			return nil, err
		}
		log.Info("using docker runtime", "controller", cfg.ControllerURL, "image", rt.Image, "workdir", rt.WorkDir)
		return rt, nil
	}
	rt := runtime.NewExecRuntime(cfg.SiteWorkDir)
	log.Info("using exec runtime", "controller", cfg.ControllerURL, "workdir", rt.WorkDir)
	return rt, nil
}
