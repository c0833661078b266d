// Package server exposes the HTTP surface of the sending core: the trigger
// entry point, per-campaign manual resume, and progress queries.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pelicanmail/pelican/internal/dispatch"
	"github.com/pelicanmail/pelican/internal/docstore"
	"github.com/pelicanmail/pelican/internal/metrics"
	"github.com/pelicanmail/pelican/internal/models"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	dispatcher *dispatch.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	listenAddr string
}

// New creates the API server.
func New(d *dispatch.Dispatcher, m *metrics.Metrics, listenAddr string, logger *slog.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		dispatcher: d,
		metrics:    m,
		logger:     logger.With("component", "server"),
		listenAddr: listenAddr,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/dispatch/tick", s.handleTick)
		r.Post("/campaigns/{id}/resume", s.handleResume)
		r.Get("/campaigns/{id}/progress", s.handleProgress)
	})
}

// Handler returns the router; used by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // a tick may drain several batches
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info("starting HTTP server", "addr", s.listenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// ErrorResponse is the error body
type ErrorResponse struct {
	Error string `json:"error"`
}

// ProgressResponse is the body for GET /campaigns/{id}/progress
type ProgressResponse struct {
	CampaignID string                  `json:"campaign_id"`
	Status     string                  `json:"status"`
	Progress   *models.SendingProgress `json:"sending_progress,omitempty"`
	Stats      *models.CampaignStats   `json:"stats,omitempty"`
	Counts     models.SendCounts       `json:"counts"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTick handles POST /api/v1/dispatch/tick: process all campaigns
// currently eligible to send. Safe to call repeatedly and concurrently.
func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	stats, err := s.dispatcher.Run(r.Context())
	if err != nil {
		s.logger.Error("dispatch tick failed", "error", err)
		s.sendError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}
	s.sendJSON(w, http.StatusOK, stats)
}

// handleResume handles POST /api/v1/campaigns/{id}/resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.dispatcher.Resume(r.Context(), id); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "campaign not found")
			return
		}
		s.logger.Error("campaign resume failed", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusConflict, err.Error())
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// handleProgress handles GET /api/v1/campaigns/{id}/progress
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	campaign, counts, err := s.dispatcher.Progress(r.Context(), id)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, "campaign not found")
			return
		}
		s.logger.Error("progress query failed", "campaign_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "progress query failed")
		return
	}

	s.sendJSON(w, http.StatusOK, &ProgressResponse{
		CampaignID: campaign.ID,
		Status:     campaign.Status,
		Progress:   campaign.Progress,
		Stats:      campaign.Stats,
		Counts:     counts,
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, status int, msg string) {
	s.sendJSON(w, status, &ErrorResponse{Error: msg})
}
