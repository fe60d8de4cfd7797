package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lccanvas/canvasd/internal/adapters/media"
	"github.com/lccanvas/canvasd/internal/config"
	"github.com/lccanvas/canvasd/internal/core/ports"
	"github.com/lccanvas/canvasd/internal/core/services"
	"github.com/lccanvas/canvasd/internal/metrics"
	"github.com/lccanvas/canvasd/internal/workflows"
)

// Server wires every HTTP and WebSocket surface: generation, media
// libraries, the public feed, the admin console, and health.
type Server struct {
	logger     *slog.Logger
	cfg        *config.Config
	scheduler  *services.Scheduler
	hub        *services.Hub
	store      *media.Store
	posts      ports.PostStore
	jobs       ports.JobStore
	registry   *workflows.Registry
	translator ports.Translator
	upstream   interface {
		Ping(ctx context.Context) error
	}
	db interface {
		Healthz(ctx context.Context) error
	}
}

func NewServer(
	logger *slog.Logger,
	cfg *config.Config,
	scheduler *services.Scheduler,
	hub *services.Hub,
	store *media.Store,
	posts ports.PostStore,
	jobs ports.JobStore,
	registry *workflows.Registry,
	translator ports.Translator,
	upstream interface {
		Ping(ctx context.Context) error
	},
	db interface {
		Healthz(ctx context.Context) error
	},
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger:     logger,
		cfg:        cfg,
		scheduler:  scheduler,
		hub:        hub,
		store:      store,
		posts:      posts,
		jobs:       jobs,
		registry:   registry,
		translator: translator,
		upstream:   upstream,
		db:         db,
	}
}

// Handler builds the route table. Middleware order matters: the beta
// gate runs first, then request logging, then the feed-trash gate, so a
// blocked request is still logged but a trash probe never reaches the
// file server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.betaGate)
	r.Use(s.requestLog)
	r.Use(s.trashGate)

	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Get("/api/v1/session", s.handleSession)
	r.Get("/api/v1/beta/status", s.handleBetaStatus)
	r.Post("/api/v1/beta/login", s.handleBetaLogin)

	r.Get("/api/v1/workflows", s.handleWorkflows)
	r.Post("/api/v1/generate", s.handleGenerate)
	r.Get("/api/v1/jobs/metrics", s.handleJobMetrics)
	r.Get("/api/v1/jobs/{jobID}", s.handleJobStatus)
	r.Post("/api/v1/jobs/{jobID}/cancel", s.handleJobCancel)
	r.Post("/api/v1/cancel", s.handleCancelActive)
	r.Post("/api/v1/translate-prompt", s.handleTranslatePrompt)

	r.Get("/api/v1/images", s.handleImagesList)
	r.Post("/api/v1/images/{imageID}/delete", s.handleImageDelete)

	r.Get("/api/v1/controls", s.handleControlsList)
	r.Post("/api/v1/controls/upload", s.handleControlUpload)
	r.Post("/api/v1/controls/{imageID}/delete", s.handleControlDelete)
	r.Post("/api/v1/controls/{imageID}/restore", s.handleControlRestore)

	r.Get("/api/v1/inputs", s.handleInputsList)
	r.Post("/api/v1/inputs/upload", s.handleInputUpload)
	r.Post("/api/v1/inputs/copy", s.handleInputCopy)
	r.Post("/api/v1/inputs/{imageID}/delete", s.handleInputDelete)
	r.Post("/api/v1/inputs/{imageID}/restore", s.handleInputRestore)

	r.Post("/api/v1/feed/publish", s.handleFeedPublish)
	r.Get("/api/v1/feed", s.handleFeedList)
	r.Get("/api/v1/feed/{postID}", s.handleFeedDetail)
	r.Post("/api/v1/feed/{postID}/like", s.handleFeedLike)
	r.Post("/api/v1/feed/{postID}/reaction", s.handleFeedReaction)
	r.Post("/api/v1/feed/{postID}/delete", s.handleFeedDelete)

	r.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Use(s.requireAdmin)
		ar.Get("/users", s.handleAdminUsers)
		ar.Get("/jobs", s.handleAdminJobs)
		ar.Get("/jobs/metrics", s.handleAdminJobMetrics)
		ar.Post("/jobs/sweep", s.handleAdminJobsSweep)
		ar.Get("/images", s.handleAdminImages)
		ar.Post("/images/{imageID}/delete", s.handleAdminImageDelete)
		ar.Post("/images/{imageID}/restore", s.handleAdminImageRestore)
		ar.Get("/controls", s.handleAdminControls)
		ar.Post("/controls/{imageID}/delete", s.handleAdminControlDelete)
		ar.Post("/controls/{imageID}/restore", s.handleAdminControlRestore)
		ar.Get("/inputs", s.handleAdminInputs)
		ar.Post("/inputs/{imageID}/delete", s.handleAdminInputDelete)
		ar.Post("/inputs/{imageID}/restore", s.handleAdminInputRestore)
		ar.Post("/purge-trash", s.handleAdminPurgeTrash)
		ar.Post("/purge-controls", s.handleAdminPurgeControls)
		ar.Get("/feed", s.handleAdminFeed)
		ar.Post("/feed/{postID}/delete", s.handleAdminFeedDelete)
		ar.Post("/feed/{postID}/restore", s.handleAdminFeedRestore)
		ar.Post("/feed/{postID}/purge", s.handleAdminFeedPurge)
	})

	r.Get("/ws/status", s.handleWS)
	r.Get("/outputs/*", s.handleOutputs)
	r.Get("/static/*", s.handleStatic)

	return r
}
