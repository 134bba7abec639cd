// Package main is the entry point for the fedplane controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"fedplane/internal/blob"
	"fedplane/internal/config"
	"fedplane/internal/controller"
	"fedplane/internal/logger"
	"fedplane/internal/observability"
	"fedplane/internal/orchestrator"
	"fedplane/internal/store/postgres"
	"fedplane/internal/sweeper"

	"go.opentelemetry.io/otel"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: fedplane.yaml in current directory)")
	flag.Parse()

	if err := run(*configPath, *migrateFlag); err != nil {
		fmt.Fprintf(os.Stderr, "controller: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, migrate bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateController(); err != nil {
		return err
	}

	log := logger.New("fedplane-controller", cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		log.Info("running database migrations")
		if err := postgres.Migrate(db.DB()); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		log.Info("migrations completed")
	}

	blobs, err := blob.NewFSStore(cfg.BlobRoot)
	if err != nil {
		return fmt.Errorf("failed to open blob store: %w", err)
	}

	shutdownTracer, err := observability.InitTracer(ctx, "fedplane-controller", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("failed to init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		return fmt.Errorf("failed to init metrics: %w", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Warn("failed to shutdown metrics", "error", err)
		}
	}()

	svc := orchestrator.New(db, blobs, log,
		orchestrator.WithLivenessThreshold(cfg.LivenessThreshold),
		orchestrator.WithInstruments(observability.DefaultInstruments()),
	)

	// The gauge queries the database only when scraped.
	if err := observability.RegisterConnectedSitesGauge(otel.Meter(observability.MeterName), svc.CountConnectedSites); err != nil {
		log.Warn("failed to register connected sites gauge", "error", err)
	}

	go func() {
		if err := sweeper.New(svc, cfg.SweepInterval, log).Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("liveness sweeper stopped", "error", err)
		}
	}()

	if cfg.AdminSecret == "" {
		log.Warn("ADMIN_SECRET is not set; site registration is disabled")
	}

	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(controller.Config{
		Addr:        addr,
		AdminSecret: cfg.AdminSecret,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
	}, controller.Dependencies{
		Service: svc,
		Auth:    svc,
		DB:      db,
		Metrics: metricsHandler,
		Log:     log,
	})

	log.Info("fedplane controller starting", "addr", addr)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	log.Info("controller exited")
	return nil
}
