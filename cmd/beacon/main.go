package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	corecfg "github.com/beacon-lab/project-beacon/internal/core/config"
	"github.com/beacon-lab/project-beacon/internal/core/storage/postgres"
	"github.com/beacon-lab/project-beacon/internal/dispatch"
	"github.com/beacon-lab/project-beacon/internal/intake"
	"github.com/beacon-lab/project-beacon/internal/migrations"
	"github.com/beacon-lab/project-beacon/internal/monitor"
	"github.com/beacon-lab/project-beacon/internal/server"
	"golang.org/x/sync/errgroup"
)

const dispatchLeaseName = "dispatch"

func main() {
	configPath := flag.String("config", "beacon.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded config",
		"transmission_method", cfg.Pipeline.TransmissionMethod,
		"batch_size", cfg.Pipeline.BatchSize,
		"dispatch_interval", cfg.Pipeline.DispatchInterval,
	)

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.RunMigrations(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Live pipeline settings: every intake request and dispatch run reads
	// the current file contents, so edits apply without a restart.
	settings, err := corecfg.NewLive(cfg, *configPath)
	if err != nil {
		slog.Error("Failed to initialize settings provider", "error", err)
		os.Exit(1)
	}

	// 4. Initialize Intake
	bots, err := intake.NewBotDetector(cfg.Pipeline.BotRulesDir)
	if err != nil {
		slog.Error("Failed to load bot signature rules", "error", err)
		os.Exit(1)
	}
	intakeSvc := intake.NewService(dbAdapter, settings, bots, cfg.Server.MaxBodySizeMB)

	// 5. Initialize Dispatch (lease-locked queue processor + scheduler)
	lock := postgres.NewLeaseLock(dbAdapter.DB(), dispatchLeaseName)
	processor := dispatch.NewProcessor(dbAdapter, settings, lock)
	scheduler := dispatch.NewScheduler(cfg.Pipeline.DispatchIntervalDuration(), processor)

	// 6. Initialize Monitor (stats, event browsing, manual trigger)
	monitorHandler := monitor.NewHandler(dbAdapter, processor)

	// 7. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode)
	intakeSvc.RegisterRoutes(srv.Engine)
	monitorHandler.RegisterRoutes(srv.Engine)

	// 8. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.Start(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
