// Package server provides the HTTP surface for the SafeSight detection
// service: health, metrics, the detect websocket and the REST API.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/safesight/safesight/internal/detector"
	"github.com/safesight/safesight/internal/metrics"
	"github.com/safesight/safesight/internal/server/api"
	"github.com/safesight/safesight/internal/session"
	"github.com/safesight/safesight/internal/store"
)

// Config holds the server configuration.
type Config struct {
	Store    *store.Store
	Manager  *session.Manager
	Detector detector.Detector
	Metrics  *metrics.Metrics
}

// Server represents the HTTP server for the SafeSight application.
type Server struct {
	config Config
	mux    *http.ServeMux
	start  time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		mux:    http.NewServeMux(),
		start:  time.Now(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)

	if s.config.Metrics != nil {
		s.mux.Handle("/metrics", s.config.Metrics.Handler())
	}

	if s.config.Store != nil {
		violationHandler := api.NewViolationHandler(s.config.Store)
		s.mux.Handle("/api/violations", violationHandler)
		s.mux.Handle("/api/violations/", violationHandler)

		alertHandler := api.NewAlertConfigHandler(s.config.Store)
		s.mux.Handle("/api/alerts/configs", alertHandler)
		s.mux.Handle("/api/alerts/configs/", alertHandler)
	}

	if s.config.Manager != nil {
		sessionHandler := api.NewSessionHandler(s.config.Manager, s.config.Store)
		s.mux.Handle("/api/sessions", sessionHandler)
		s.mux.Handle("/api/sessions/", sessionHandler)

		detectHandler := NewDetectHandler(s.config.Manager)
		s.mux.Handle("/ws/detect", detectHandler)
	}
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// handleHealth handles GET requests to /api/health. A detector that cannot
// serve requests degrades the reported status; it is never hidden.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "ok"
	detectorStatus := "unconfigured"
	code := http.StatusOK

	if s.config.Detector != nil {
		if s.config.Detector.Healthy() {
			detectorStatus = "healthy"
		} else {
			detectorStatus = "unavailable"
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	response := map[string]interface{}{
		"status":   status,
		"detector": detectorStatus,
		"uptime":   time.Since(s.start).String(),
	}
	if s.config.Manager != nil {
		response["active_sessions"] = s.config.Manager.ActiveCount()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s)
}
