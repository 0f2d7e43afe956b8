package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jamielennox/aws-snapshot/internal/app/orchestrator"
	"github.com/jamielennox/aws-snapshot/internal/config"
	"github.com/jamielennox/aws-snapshot/internal/domain"
	"github.com/jamielennox/aws-snapshot/internal/infrastructure/ebs"
	mongoinfra "github.com/jamielennox/aws-snapshot/internal/infrastructure/mongo"
	"github.com/jamielennox/aws-snapshot/internal/infrastructure/storage"
	"github.com/jamielennox/aws-snapshot/internal/repository"
	"github.com/jamielennox/aws-snapshot/pkg/lock"
	"github.com/jamielennox/aws-snapshot/pkg/logger"
	"github.com/jamielennox/aws-snapshot/pkg/timer"
)

const version = "2.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configFile  = flag.String("config", "config.yaml", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", orchestrator.ProgramName, version)
		return 0
	}

	// Load configuration
	cfg, err := config.LoadFromFile(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Dir:    cfg.LogDir,
		Name:   orchestrator.ProgramName,
	})

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The handler only cancels; the orchestrator's control flow observes the
	// cancellation and performs the cleanup sequence.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warn("Received shutdown signal", "signal", sig.String())
		cancel()
	}()

	// Manifest storage affects reporting only; the run proceeds without it.
	var manifest orchestrator.ManifestWriter
	storageRepo, err := storage.NewRepository(ctx, cfg.Storage)
	if err != nil {
		log.Error("Failed to initialize manifest storage, continuing without manifests", "error", err)
		storageRepo = nil
	} else {
		defer storageRepo.Close()
		manifest = storage.NewManifestWriter(storageRepo, orchestrator.ProgramName)
	}

	snapshotter, err := ebs.NewSnapshotter(ctx, cfg.Snapshot, log)
	if err != nil {
		log.Error("Failed to initialize EBS snapshotter", "error", err)
		fmt.Fprintf(os.Stderr, "%s: %v\n", orchestrator.ProgramName, err)
		return 1
	}

	var conn *mongoinfra.Connection
	deps := orchestrator.Deps{
		Lock:   lock.New(cfg.LockFile),
		Timers: timer.NewRegistry(),
		Connect: func(ctx context.Context) (repository.Connection, error) {
			c, err := mongoinfra.Connect(ctx, cfg.Mongo)
			if err != nil {
				return nil, err
			}
			conn = c
			return c, nil
		},
		NewResolver: func(repository.Connection) repository.ReplicaSetResolver {
			return mongoinfra.NewResolver(conn, cfg.Snapshot.IncludeConfigServer, log)
		},
		NewBalancer: func(repository.Connection) repository.BalancerController {
			return mongoinfra.NewBalancerController(conn, log)
		},
		NewExecutor: func(mode domain.TopologyMode, balancer repository.BalancerController) (repository.SnapshotExecutor, error) {
			return orchestrator.NewCoordinator(mode, snapshotter, balancer, cfg.Snapshot, orchestrator.ProgramName, log), nil
		},
		Storage:  storageRepo,
		Manifest: manifest,
	}

	orch := orchestrator.New(cfg, deps, log)
	summary, err := orch.Run(ctx)
	if err != nil {
		// Last-resort operator-facing message, independent of the logging
		// subsystem.
		fmt.Fprintf(os.Stderr, "%s: backup failed: %v\n", orchestrator.ProgramName, err)
		return 1
	}

	log.Info("Backup completed",
		"mode", summary.Mode,
		"replicaSets", len(summary.Results),
		"snapshots", summary.SnapshotCount())
	return 0
}
