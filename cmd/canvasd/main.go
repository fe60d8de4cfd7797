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

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/lccanvas/canvasd/internal/adapters/comfy"
	"github.com/lccanvas/canvasd/internal/adapters/llm"
	"github.com/lccanvas/canvasd/internal/adapters/media"
	"github.com/lccanvas/canvasd/internal/adapters/sqlite"
	"github.com/lccanvas/canvasd/internal/api"
	"github.com/lccanvas/canvasd/internal/config"
	"github.com/lccanvas/canvasd/internal/core/domain"
	"github.com/lccanvas/canvasd/internal/core/services"
	"github.com/lccanvas/canvasd/internal/metrics"
	"github.com/lccanvas/canvasd/internal/workflows"
)

func main() {
	// .env is optional and the real environment always wins.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting canvasd", "port", cfg.Port, "upstream", cfg.ComfyServerAddress)

	if err := run(logger, cfg); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	db, err := sqlite.New(logger, cfg.JobDBPath)
	if err != nil {
		return fmt.Errorf("failed to open job database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	store := media.NewStore(logger, cfg.OutputDir)
	jobs := sqlite.NewJobStore(db, store.ArtifactExists)
	posts := sqlite.NewPostStore(db)
	registry := workflows.NewRegistry(logger, cfg.WorkflowsDir)

	hub := services.NewHub(logger)
	scheduler := services.NewScheduler(logger, services.SchedulerConfig{
		MaxPerUserQueue:        cfg.MaxPerUserQueue,
		MaxPerUserConcurrent:   cfg.MaxPerUserConcurrent,
		JobTimeout:             cfg.JobTimeout,
		ProgressLogStepPercent: cfg.ProgressLogStepPercent,
		ProgressLogMinInterval: cfg.ProgressLogMinInterval,
	}, observedNotifier{hub: hub}, jobs)

	factory := comfy.NewFactory(logger, comfy.Config{
		ServerAddress:      cfg.ComfyServerAddress,
		HTTPConnectTimeout: cfg.HTTPConnectTimeout,
		HTTPReadTimeout:    cfg.HTTPReadTimeout,
		WSConnectTimeout:   cfg.WSConnectTimeout,
		WSIdleTimeout:      cfg.WSIdleTimeout,
	})
	pipeline := services.NewPipeline(logger, registry, store, factory.NewSession, scheduler, cfg.ComfyInputDir)
	scheduler.RegisterProcessor(domain.JobTypeGenerate, pipeline.Process)

	metrics.RegisterQueueDepth(func() float64 { return float64(scheduler.QueueDepth()) })
	metrics.RegisterActiveJobs(func() float64 { return float64(scheduler.ActiveCount()) })

	translator := llm.NewGeminiTranslator(cfg.TranslateAPIKey, cfg.TranslateModel)

	server := api.NewServer(logger, cfg, scheduler, hub, store, posts, jobs, registry, translator, factory, db)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: c.Handler(server.Handler()),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return scheduler.Run(gCtx)
	})

	g.Go(func() error {
		logger.Info("starting http server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// observedNotifier mirrors job lifecycle transitions into Prometheus as
// they fan out to clients. Progress frames reuse the running status, so
// only admission and terminal transitions are counted.
type observedNotifier struct {
	hub *services.Hub
}

func (n observedNotifier) SendToUser(userID string, v any) {
	if ev, ok := v.(domain.StatusEvent); ok {
		switch ev.Status {
		case domain.JobStatusQueued, domain.JobStatusComplete,
			domain.JobStatusError, domain.JobStatusCancelled:
			metrics.IncJobStatus(string(ev.Status))
		}
	}
	n.hub.SendToUser(userID, v)
}
