package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/batch-orchestrator/internal/async"
	"github.com/joseph-ayodele/batch-orchestrator/internal/backend"
	"github.com/joseph-ayodele/batch-orchestrator/internal/backend/local"
	"github.com/joseph-ayodele/batch-orchestrator/internal/common"
	"github.com/joseph-ayodele/batch-orchestrator/internal/core"
	repo "github.com/joseph-ayodele/batch-orchestrator/internal/repository"
	svc "github.com/joseph-ayodele/batch-orchestrator/internal/server"
	"github.com/joseph-ayodele/batch-orchestrator/internal/validator"
)

func main() {
	configPath := flag.String("config", os.Getenv("ORCHESTRATOR_CONFIG"), "path to an HCL config file")
	flag.Parse()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(2)
	}

	logger := common.NewLogger(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, archive, err := svc.ConnectArchive(ctx, cfg.Archive, logger)
	if err != nil {
		logger.Error("failed to open archive", "error", err, "driver", cfg.Archive.Driver)
		os.Exit(1)
	}
	defer svc.CloseArchive(db, logger)

	// Ping DB to ensure connectivity
	if err := svc.PingArchive(ctx, db, logger, 5*time.Second); err != nil {
		logger.Error("failed to ping archive", "error", err)
		os.Exit(1)
	}

	v, err := validator.New(validator.Limits{
		MaxRecords:           cfg.Job.MaxRecords,
		MaxExecutorInstances: cfg.Job.MaxExecutorInstances,
	})
	if err != nil {
		logger.Error("failed to build validator", "error", err)
		os.Exit(1)
	}

	norm, batch := newBackends(cfg.Backends, logger)

	hub := svc.NewHub(logger)
	hub.Start(ctx)

	store := repo.NewMemoryJobStore(logger)
	manager := core.NewManager(store, v, norm, batch, core.PolicyFromConfig(cfg), logger,
		core.WithTransitionHook(hub.Publish),
	)
	queue := async.NewJobQueue(logger,
		async.WithWorkers(cfg.Job.Workers),
		async.WithQueueSize(cfg.Job.QueueSize),
		async.WithProcessTimeout(cfg.Job.Timeout+time.Minute),
	)
	var coordOpts []core.CoordinatorOption
	if archive != nil {
		coordOpts = append(coordOpts, core.WithArchive(archive))
	}
	coord := core.NewCoordinator(store, manager, queue, cfg.Job.Timeout, logger, coordOpts...)

	var ping svc.ArchivePinger
	if db != nil {
		ping = func(ctx context.Context) error { return svc.PingArchive(ctx, db, logger, 2*time.Second) }
	}

	g, gctx := errgroup.WithContext(ctx)

	if addr := cfg.Server.HTTPAddr; addr != "" {
		httpServer := &http.Server{
			Addr:              addr,
			Handler:           svc.NewHTTPHandler(coord, hub, ping, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("orchestrator http listening", "addr", addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return httpServer.Shutdown(sctx)
		})
	}

	if addr := cfg.Server.GRPCAddr; addr != "" {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			logger.Error("failed to listen on address", "addr", addr, "error", err)
			os.Exit(1)
		}
		grpcServer, healthServer := svc.NewGRPCServer(coord, logger)
		g.Go(func() error {
			logger.Info("orchestrator grpc listening", "addr", addr)
			if err := grpcServer.Serve(lis); err != nil {
				return fmt.Errorf("grpc serve: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			healthServer.Shutdown()
			grpcServer.GracefulStop()
			return nil
		})
	}

	err = g.Wait()

	logger.Info("shutting down", "live_jobs", store.Len(), "running_jobs", manager.InFlight())
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	coord.Shutdown(sctx)

	if err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func newBackends(cfg common.BackendsConfig, logger *slog.Logger) (backend.Normalizer, backend.BatchProcessor) {
	if cfg.Mode == "http" {
		logger.Info("using http backends", "normalization_url", cfg.NormalizationURL, "batch_url", cfg.BatchURL)
		return backend.NewNormalizationClient(backend.ClientConfig{BaseURL: cfg.NormalizationURL, Timeout: cfg.CallTimeout}, logger),
			backend.NewBatchClient(backend.ClientConfig{BaseURL: cfg.BatchURL, Timeout: cfg.CallTimeout}, logger)
	}
	logger.Info("using in-process backends", "simulated_latency", cfg.SimulatedLatency)
	return local.NewNormalizer(cfg.SimulatedLatency, logger), local.NewBatchProcessor(cfg.SimulatedLatency, logger)
}
