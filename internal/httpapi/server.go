// Package httpapi exposes the upload, progress, analysis and template API
// over chi.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/Lllllllleong/documentanalysisflow/internal/metrics"
	"github.com/Lllllllleong/documentanalysisflow/internal/models"
	"github.com/Lllllllleong/documentanalysisflow/internal/progress"
	"github.com/Lllllllleong/documentanalysisflow/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Analyzer runs analysis requests. *services.Analyzer implements it.
type Analyzer interface {
	Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error)
}

// Ingestor accepts and deletes documents. *services.Ingest implements it.
type Ingestor interface {
	Upload(ctx context.Context, filename string, data []byte) (*models.Document, error)
	Delete(ctx context.Context, documentID string) error
}

// Subscriber opens progress subscriptions. *progress.Broadcaster implements it.
type Subscriber interface {
	Subscribe(documentID string) *progress.Subscription
}

// Deps are the collaborators of the API server.
type Deps struct {
	Store     store.Store
	Analyzer  Analyzer
	Ingest    Ingestor
	Events    Subscriber
	Metrics   *metrics.Collector
	Logger    *slog.Logger
	ModelName string
	// MaxUploadBytes bounds the request body of an upload.
	MaxUploadBytes int64
	// KeepAlive is the interval of SSE comment frames; zero uses 15s.
	KeepAlive time.Duration
}

// Server holds the API handlers.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

// NewServer creates the API server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.KeepAlive <= 0 {
		deps.KeepAlive = 15 * time.Second
	}
	return &Server{deps: deps, logger: deps.Logger}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Get("/progress/{id}", s.handleProgress)
		r.Post("/analyze", s.handleAnalyze)

		r.Route("/documents", func(r chi.Router) {
			r.Get("/", s.handleListDocuments)
			r.Get("/{id}", s.handleGetDocument)
			r.Delete("/{id}", s.handleDeleteDocument)
		})

		r.Route("/prompt-templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Get("/{id}", s.handleGetTemplate)
			r.Put("/{id}", s.handleUpdateTemplate)
			r.Delete("/{id}", s.handleDeleteTemplate)
		})
		r.Post("/init-default-templates", s.handleInitTemplates)

		r.Route("/analyses", func(r chi.Router) {
			r.Get("/", s.handleListAnalyses)
			r.Get("/{id}", s.handleGetAnalysis)
		})

		r.Get("/stats", s.handleStats)
	})
	return r
}

// requestLogger logs one line per request with slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"durationMs", time.Since(start).Milliseconds(),
			"requestId", middleware.GetReqID(r.Context()),
		)
	})
}

// AnalyzeHandler serves a single analysis request outside the router, for
// deployments that expose analysis as its own function.
func (s *Server) AnalyzeHandler() http.Handler {
	return http.HandlerFunc(s.handleAnalyze)
}
