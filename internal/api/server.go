package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmelnik/readmark/internal/anchor"
	"github.com/dmelnik/readmark/internal/config"
	"github.com/dmelnik/readmark/internal/content"
	"github.com/dmelnik/readmark/internal/highlight"
)

// Server is the HTTP API of the readmark service.
type Server struct {
	router    chi.Router
	log       *slog.Logger
	cfg       config.Config
	library   *content.Library
	store     highlight.Store
	manager   *highlight.Manager
	readAloud *highlight.ReadAloud
}

// NewServer creates and configures the HTTP server.
func NewServer(lib *content.Library, st highlight.Store, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		log:       log,
		cfg:       cfg,
		library:   lib,
		store:     st,
		manager:   highlight.NewManager(st, log),
		readAloud: highlight.NewReadAloud(log),
	}
	s.manager.OnSelectionReady(func(rng anchor.TextRange) {
		log.Debug("selection ready", "section", rng.SectionID, "text", rng.Text)
	})
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

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/documents", s.handleUploadDocument)
		r.Get("/api/documents", s.handleListDocuments)
		r.Delete("/api/documents/{docID}", s.handleDeleteDocument)
		r.Get("/api/documents/{docID}/sections", s.handleListSections)
		r.Get("/api/documents/{docID}/sections/{sectionID}", s.handleRenderSection)

		r.Get("/api/documents/{docID}/highlights", s.handleListHighlights)
		r.Post("/api/documents/{docID}/highlights", s.handleCreateHighlight)
		r.Delete("/api/highlights/{highlightID}", s.handleDeleteHighlight)
		r.Patch("/api/highlights/{highlightID}/color", s.handleRecolorHighlight)

		r.Post("/api/documents/{docID}/sections/{sectionID}/readaloud", s.handleReadAloudAdvance)
		r.Delete("/api/documents/{docID}/sections/{sectionID}/readaloud", s.handleReadAloudStop)

		r.Get("/api/documents/{docID}/export", s.handleExport)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
