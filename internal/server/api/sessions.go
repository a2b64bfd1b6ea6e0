package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/safesight/safesight/internal/detector"
	"github.com/safesight/safesight/internal/session"
	"github.com/safesight/safesight/internal/store"
)

// maxFrameBytes bounds the size of a single submitted frame image.
const maxFrameBytes = 8 << 20

// SessionHandler handles HTTP requests for detection session resources.
// Live sessions are served by the manager; finished sessions by the store.
type SessionHandler struct {
	manager *session.Manager
	store   *store.Store
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(m *session.Manager, s *store.Store) *SessionHandler {
	return &SessionHandler{manager: m, store: s}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected paths: /api/sessions, /api/sessions/{id},
	// /api/sessions/{id}/frames
	path := strings.TrimPrefix(r.URL.Path, "/api/sessions")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	if id, ok := strings.CutSuffix(path, "/frames"); ok {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.submitFrame(w, r, id)
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodDelete:
		h.close(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Request and response types

type createSessionRequest struct {
	CameraID string `json:"camera_id"`
	Location string `json:"location"`
}

type sessionResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	StartedAt      string `json:"started_at"`
	EndedAt        string `json:"ended_at,omitempty"`
	FrameCount     int    `json:"frame_count"`
	ViolationCount int    `json:"violation_count"`
	CameraID       string `json:"camera_id,omitempty"`
	Location       string `json:"location,omitempty"`
}

type listSessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

// toSessionResponse converts a store.Session to a sessionResponse.
func toSessionResponse(s *store.Session) sessionResponse {
	resp := sessionResponse{
		ID:             s.ID,
		Status:         s.Status,
		StartedAt:      s.StartedAt.Format(time.RFC3339),
		FrameCount:     s.FrameCount,
		ViolationCount: s.ViolationCount,
		CameraID:       s.CameraID,
		Location:       s.Location,
	}
	if s.EndedAt != nil {
		resp.EndedAt = s.EndedAt.Format(time.RFC3339)
	}
	return resp
}

// list handles GET /api/sessions and returns session records, newest first.
func (h *SessionHandler) list(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	sessions, err := h.store.Sessions().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	response := listSessionsResponse{
		Sessions: make([]sessionResponse, 0, len(sessions)),
	}
	for _, s := range sessions {
		response.Sessions = append(response.Sessions, toSessionResponse(s))
	}

	writeJSON(w, http.StatusOK, response)
}

// create handles POST /api/sessions and starts a new live session.
func (h *SessionHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	}

	id := session.NewSessionID()
	if _, err := h.manager.Create(id, req.CameraID, req.Location); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	record, err := h.store.Sessions().GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload session")
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(record))
}

// get handles GET /api/sessions/{id} and returns a single session record.
func (h *SessionHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	record, err := h.store.Sessions().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get session")
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(record))
}

// close handles DELETE /api/sessions/{id} and tears down a live session.
func (h *SessionHandler) close(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.manager.Close(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to close session")
		return
	}

	writeJSON(w, http.StatusNoContent, nil)
}

// submitFrame handles POST /api/sessions/{id}/frames. The request body is a
// single JPEG or PNG image; the response is the per-frame detection result.
func (h *SessionHandler) submitFrame(w http.ResponseWriter, r *http.Request, id string) {
	sess, err := h.manager.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	imageBytes, err := io.ReadAll(io.LimitReader(r.Body, maxFrameBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read frame body")
		return
	}
	if len(imageBytes) == 0 {
		writeError(w, http.StatusBadRequest, "Empty frame body")
		return
	}
	if len(imageBytes) > maxFrameBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "Frame too large")
		return
	}

	now := time.Now()
	frameID := id + "_r" + strconv.FormatInt(now.UnixNano(), 10)

	result, err := sess.Submit(r.Context(), frameID, imageBytes, now)
	switch {
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusTooManyRequests, "Session busy, frame dropped")
	case errors.Is(err, session.ErrNotActive):
		writeError(w, http.StatusConflict, "Session not active")
	case errors.Is(err, session.ErrInvalidFrame):
		writeError(w, http.StatusBadRequest, "Frame image could not be decoded")
	case errors.Is(err, detector.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Detection capability unavailable")
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Detection failed")
	default:
		writeJSON(w, http.StatusOK, result)
	}
}
