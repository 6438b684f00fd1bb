// Package server exposes the detection cycle over HTTP for external schedulers.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rewired-gh/surgewatch/internal/logger"
	"github.com/rewired-gh/surgewatch/internal/models"
	"github.com/rewired-gh/surgewatch/internal/monitor"
	"github.com/rewired-gh/surgewatch/internal/storage"
)

// AuthHeader carries the shared secret.
const AuthHeader = "X-Auth-Token"

// PollTimeout bounds a triggered poll. The poll outlives the request that
// started it.
const PollTimeout = 2 * time.Minute

// Poller runs one detection cycle.
type Poller interface {
	Poll(ctx context.Context) (monitor.Report, error)
}

// AlertLister reads journaled alerts.
type AlertLister interface {
	RecentAlerts(limit int) ([]models.Alert, error)
	GetAlert(id string) (*models.Alert, error)
}

// Server serves the trigger, health and recent-alerts endpoints.
type Server struct {
	addr      string
	authToken string
	poller    Poller
	alerts    AlertLister
	server    *http.Server
}

// New creates a Server. alerts may be nil, in which case the /api/alerts
// routes are not served.
func New(addr, authToken string, poller Poller, alerts AlertLister) *Server {
	s := &Server{
		addr:      addr,
		authToken: authToken,
		poller:    poller,
		alerts:    alerts,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /api/monitor", s.auth(http.HandlerFunc(s.handleMonitor)))
	mux.Handle("POST /api/monitor", s.auth(http.HandlerFunc(s.handleMonitor)))
	if s.alerts != nil {
		mux.Handle("GET /api/alerts", s.auth(http.HandlerFunc(s.handleAlerts)))
		mux.Handle("GET /api/alerts/{id}", s.auth(http.HandlerFunc(s.handleAlert)))
	}
	return mux
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	logger.Info("Starting HTTP server on %s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// auth rejects requests whose shared secret is missing or wrong. An empty
// configured secret rejects everything.
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(AuthHeader)
		if s.authToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), PollTimeout)
	defer cancel()

	report, err := s.poller.Poll(ctx)
	if err != nil {
		logger.Error("Triggered poll failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if report.Skipped {
		writeJSON(w, http.StatusConflict, map[string]any{"status": "busy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "report": report})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	alerts, err := s.alerts.RecentAlerts(limit)
	if err != nil {
		logger.Error("Failed to list alerts: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.alerts.GetAlert(r.PathValue("id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "alert not found"})
		return
	}
	if err != nil {
		logger.Error("Failed to get alert: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alert": alert})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}
