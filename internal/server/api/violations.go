// Package api provides HTTP API handlers for the SafeSight compliance service.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/safesight/safesight/internal/store"
)

// ViolationHandler handles HTTP requests for violation resources.
type ViolationHandler struct {
	store *store.Store
}

// NewViolationHandler creates a new ViolationHandler with the given store.
func NewViolationHandler(s *store.Store) *ViolationHandler {
	return &ViolationHandler{store: s}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *ViolationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected paths: /api/violations, /api/violations/{id},
	// /api/violations/{id}/review
	path := strings.TrimPrefix(r.URL.Path, "/api/violations")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		// Collection endpoint: /api/violations
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if id, ok := strings.CutSuffix(path, "/review"); ok {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.review(w, r, id)
		return
	}

	// Item endpoint: /api/violations/{id}
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, path)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Request and response types

type reviewRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type violationResponse struct {
	ID           string `json:"id"`
	SessionID    string `json:"session_id"`
	TrackID      int64  `json:"track_id"`
	WorkerID     string `json:"worker_id,omitempty"`
	ItemType     string `json:"item_type"`
	Severity     string `json:"severity"`
	Status       string `json:"status"`
	FrameID      string `json:"frame_id"`
	EvidencePath string `json:"evidence_path,omitempty"`
	StartedAt    string `json:"started_at"`
	EndedAt      string `json:"ended_at,omitempty"`
	Notes        string `json:"notes,omitempty"`
	ResolvedAt   string `json:"resolved_at,omitempty"`
}

type listViolationsResponse struct {
	Violations []violationResponse `json:"violations"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// toViolationResponse converts a store.Violation to a violationResponse.
func toViolationResponse(v *store.Violation) violationResponse {
	resp := violationResponse{
		ID:           v.ID,
		SessionID:    v.SessionID,
		TrackID:      v.TrackID,
		WorkerID:     v.WorkerID,
		ItemType:     v.ItemType,
		Severity:     v.Severity,
		Status:       v.Status,
		FrameID:      v.FrameID,
		EvidencePath: v.EvidencePath,
		StartedAt:    v.StartedAt.Format(time.RFC3339),
		Notes:        v.Notes,
	}
	if v.EndedAt != nil {
		resp.EndedAt = v.EndedAt.Format(time.RFC3339)
	}
	if v.ResolvedAt != nil {
		resp.ResolvedAt = v.ResolvedAt.Format(time.RFC3339)
	}
	return resp
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// list handles GET /api/violations with optional filter query parameters.
func (h *ViolationHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := store.ViolationFilters{
		SessionID: q.Get("session_id"),
		WorkerID:  q.Get("worker_id"),
		Severity:  q.Get("severity"),
		Status:    q.Get("status"),
		OnlyOpen:  q.Get("open") == "true",
	}
	if since := q.Get("since"); since != "" {
		ts, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since timestamp")
			return
		}
		filters.Since = ts
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filters.Limit = n
	}

	violations, err := h.store.Violations().List(filters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list violations")
		return
	}

	response := listViolationsResponse{
		Violations: make([]violationResponse, 0, len(violations)),
	}
	for _, v := range violations {
		response.Violations = append(response.Violations, toViolationResponse(v))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/violations/{id} and returns a single violation.
func (h *ViolationHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	v, err := h.store.Violations().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Violation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get violation")
		return
	}

	writeJSON(w, http.StatusOK, toViolationResponse(v))
}

// review handles POST /api/violations/{id}/review and updates the review status.
func (h *ViolationHandler) review(w http.ResponseWriter, r *http.Request, id string) {
	var req reviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	switch req.Status {
	case store.ViolationReviewed, store.ViolationResolved, store.ViolationDismissed:
	default:
		writeError(w, http.StatusBadRequest, "Invalid review status")
		return
	}

	if err := h.store.Violations().Review(id, req.Status, req.Notes, time.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Violation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to review violation")
		return
	}

	v, err := h.store.Violations().GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload violation")
		return
	}

	writeJSON(w, http.StatusOK, toViolationResponse(v))
}
