package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/arvhal/replagent/internal/adapters/duckdb"
	"github.com/arvhal/replagent/internal/adapters/llm"
	"github.com/arvhal/replagent/internal/adapters/sandbox"
	"github.com/arvhal/replagent/internal/api"
	appconfig "github.com/arvhal/replagent/internal/config"
	"github.com/arvhal/replagent/internal/core/ports"
	"github.com/arvhal/replagent/internal/core/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger.Info("starting replagent daemon")

	if err := run(logger); err != nil {
		logger.Error("daemon startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	archive, err := duckdb.NewRepository(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init job archive: %w", err)
	}
	defer archive.Close()

	newExec, err := buildExecutorFactory(logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to init sandbox: %w", err)
	}

	provider := llm.NewOpenAIProvider(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel)

	eventBus := services.NewEventBus(logger)
	scheduler := services.NewPipelineScheduler(logger, services.SchedulerConfig{
		MaxConcurrentPipelines: int64(cfg.MaxPipelines),
	})
	ingestor := services.NewIngestor(logger, services.IngestConfig{
		BatchSize: cfg.IngestBatch,
		Workers:   cfg.IngestWorkers,
	})

	orch := services.NewOrchestrator(logger, scheduler, ingestor, provider, newExec, eventBus, archive, services.OrchestratorConfig{
		Loop: services.LoopConfig{
			MaxIterations: cfg.MaxIterations,
			ModelTimeout:  cfg.ModelTimeout,
		},
		DefaultMaxDocuments: cfg.MaxDocuments,
	})

	apiServer := api.NewServer(logger, orch, eventBus, cfg.CorpusDir, cfg.DemoSeed)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:5174"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: c.Handler(apiServer.Routes()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Start pipeline scheduler loop
	g.Go(func() error {
		scheduler.Start(gCtx)
		return nil
	})

	// 2. Start API server
	g.Go(func() error {
		logger.Info("starting api server", "addr", cfg.ListenAddr, "sandbox", cfg.Sandbox)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})

	// 3. Graceful shutdown for API server
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// buildExecutorFactory returns a constructor so each job pipeline gets a
// fresh executor with no state carried over from previous jobs.
func buildExecutorFactory(logger *slog.Logger, cfg appconfig.Config) (func() ports.Executor, error) {
	switch cfg.Sandbox {
	case "docker":
		exec, err := sandbox.NewDockerExecutor(logger, sandbox.DockerConfig{
			Image:   cfg.SandboxImage,
			Timeout: cfg.SandboxTimeout,
		})
		if err != nil {
			return nil, err
		}
		// The docker executor keeps no snippet state between Run calls,
		// so one instance serves every job.
		return func() ports.Executor { return exec }, nil
	default:
		return func() ports.Executor {
			return sandbox.NewStarlarkExecutor(logger, sandbox.StarlarkConfig{
				Timeout: cfg.SandboxTimeout,
			})
		}, nil
	}
}
