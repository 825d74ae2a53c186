package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/davidschrooten/atlas-reconciler/config"
	"github.com/davidschrooten/atlas-reconciler/internal/reconciler"
	"github.com/davidschrooten/atlas-reconciler/internal/search"
	syncstate "github.com/davidschrooten/atlas-reconciler/internal/sync"
)

// Reconciler is the service surface the API exposes
type Reconciler interface {
	RunImport(ctx context.Context, indexName string) (reconciler.RunReport, error)
	RunCleanup(ctx context.Context, indexName string) (reconciler.RunReport, error)
	Estimate(ctx context.Context, indexName string) (int64, error)
	ListIndexes() ([]search.IndexInfo, error)
	States() map[string]*syncstate.IndexState
}

// Server represents the API server
type Server struct {
	service Reconciler
	config  *config.Config
}

// NewServer creates a new API server
func NewServer(service Reconciler, cfg *config.Config) *Server {
	return &Server{
		service: service,
		config:  cfg,
	}
}

// Router setups the API routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/indexes", s.handleListIndexes)
	r.Get("/indexes/{index}/status", s.handleStatus)
	r.Get("/indexes/{index}/estimate", s.handleEstimate)
	r.Post("/indexes/{index}/import", s.handleImport)
	r.Post("/indexes/{index}/cleanup", s.handleCleanup)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	return r
}

func (s *Server) handleListIndexes(w http.ResponseWriter, r *http.Request) {
	indexes, err := s.service.ListIndexes()
	if err != nil {
		log.Printf("Failed to list indexes: %v", err)
		http.Error(w, "failed to list indexes", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, map[string]interface{}{"indexes": indexes})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	if index == "" {
		http.Error(w, "index parameter is required", http.StatusBadRequest)
		return
	}

	state, exists := s.service.States()[index]
	if !exists {
		http.Error(w, "index not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, state)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	if index == "" {
		http.Error(w, "index parameter is required", http.StatusBadRequest)
		return
	}

	count, err := s.service.Estimate(r.Context(), index)
	if err != nil {
		if isNotFound(err) {
			http.Error(w, "index not found", http.StatusNotFound)
			return
		}
		log.Printf("Estimate error for index %s: %v", index, err)
		http.Error(w, "estimate failed", http.StatusInternalServerError)
		return
	}

	// The count comes from collection statistics and is approximate
	s.writeJSON(w, map[string]interface{}{"index": index, "estimatedCount": count})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	if index == "" {
		http.Error(w, "index parameter is required", http.StatusBadRequest)
		return
	}

	report, err := s.service.RunImport(r.Context(), index)
	if err != nil {
		if isNotFound(err) {
			http.Error(w, "index not found", http.StatusNotFound)
			return
		}
		log.Printf("Import error for index %s: %v", index, err)
		http.Error(w, "import failed", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, report)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	index := chi.URLParam(r, "index")
	if index == "" {
		http.Error(w, "index parameter is required", http.StatusBadRequest)
		return
	}

	report, err := s.service.RunCleanup(r.Context(), index)
	if err != nil {
		if isNotFound(err) {
			http.Error(w, "index not found", http.StatusNotFound)
			return
		}
		log.Printf("Cleanup error for index %s: %v", index, err)
		http.Error(w, "cleanup failed", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ready"})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, reconciler.ErrIndexNotFound)
}
