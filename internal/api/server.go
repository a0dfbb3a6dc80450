package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgallion1/redliner/internal/analyze"
	"github.com/dgallion1/redliner/internal/config"
	"github.com/dgallion1/redliner/internal/export"
	"github.com/dgallion1/redliner/internal/extract"
	"github.com/dgallion1/redliner/internal/parser"
	"github.com/dgallion1/redliner/internal/pipeline"
	"github.com/dgallion1/redliner/internal/session"
	"github.com/dgallion1/redliner/internal/storage"
)

// Server is the HTTP API server for redliner.
type Server struct {
	router       chi.Router
	orchestrator *pipeline.Orchestrator
	sessions     *session.Manager
	repo         storage.Repository
	exporter     export.Exporter
	extractor    extract.Extractor
	claude       *analyze.ClaudeClient
	validate     *validator.Validate
	log          *slog.Logger
	cfg          config.Config
}

// NewServer creates and configures the HTTP server. repo and claude may be
// nil.
func NewServer(orch *pipeline.Orchestrator, sessions *session.Manager, repo storage.Repository, exporter export.Exporter, claude *analyze.ClaudeClient, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		orchestrator: orch,
		sessions:     sessions,
		repo:         repo,
		exporter:     exporter,
		extractor: extract.Extractor{
			Options: parser.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext},
			Timeout: cfg.ExtractTimeout,
		},
		claude:   claude,
		validate: validator.New(),
		log:      log,
		cfg:      cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.RedlineAPIKey, s.log))

		r.Post("/api/ingest", s.handleIngest)
		r.Get("/api/ingest/{jobID}/status", s.handleIngestStatus)
		r.Post("/api/ingest/batch", s.handleBatchIngest)
		r.Get("/api/stats/llm", s.handleLLMStats)

		r.Route("/api/documents", func(r chi.Router) {
			r.Get("/", s.handleListDocuments)
			r.Post("/", s.handleCreateDocument)

			r.Route("/{docID}", func(r chi.Router) {
				r.Get("/", s.handleGetDocument)
				r.Delete("/", s.handleDeleteDocument)
				r.Get("/projection", s.handleProjection)
				r.Get("/export", s.handleExport)
				r.Post("/reload", s.handleReload)
				r.Get("/live", s.handleLive)

				r.Post("/suggestions/{suggestionID}/accept", s.handleAccept)
				r.Post("/suggestions/{suggestionID}/reject", s.handleReject)
				r.Put("/suggestions/{suggestionID}", s.handleModify)
				r.Post("/select", s.handleSelect)
				r.Post("/navigate", s.handleNavigate)
				r.Put("/filter", s.handleFilter)
				r.Post("/edits", s.handleEdit)
				r.Post("/apply", s.handleApply)
			})
		})
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"sessions":    s.sessions.Len(),
		"queue_depth": s.orchestrator.QueueDepth(),
		"persistent":  s.repo != nil,
	})
}
