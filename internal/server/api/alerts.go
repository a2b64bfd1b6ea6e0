package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/safesight/safesight/internal/store"
)

// AlertConfigHandler handles HTTP requests for alert configuration resources.
type AlertConfigHandler struct {
	store *store.Store
}

// NewAlertConfigHandler creates a new AlertConfigHandler with the given store.
func NewAlertConfigHandler(s *store.Store) *AlertConfigHandler {
	return &AlertConfigHandler{store: s}
}

// ServeHTTP implements the http.Handler interface and routes requests to appropriate methods.
func (h *AlertConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Expected paths: /api/alerts/configs or /api/alerts/configs/{id}
	path := strings.TrimPrefix(r.URL.Path, "/api/alerts/configs")
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

	if id, ok := strings.CutSuffix(path, "/events"); ok {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.events(w, r, id)
		return
	}

	id := path
	switch r.Method {
	case http.MethodGet:
		h.get(w, r, id)
	case http.MethodPut:
		h.update(w, r, id)
	case http.MethodDelete:
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// Request and response types

type alertConfigRequest struct {
	Name               string `json:"name"`
	Channel            string `json:"channel"`
	Destination        string `json:"destination"`
	MinSeverity        string `json:"min_severity"`
	ViolationThreshold int    `json:"violation_threshold"`
	WindowMinutes      int    `json:"window_minutes"`
	Enabled            *bool  `json:"enabled"`
}

type alertConfigResponse struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Channel            string `json:"channel"`
	Destination        string `json:"destination"`
	MinSeverity        string `json:"min_severity"`
	ViolationThreshold int    `json:"violation_threshold"`
	WindowMinutes      int    `json:"window_minutes"`
	Enabled            bool   `json:"enabled"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

type listAlertConfigsResponse struct {
	Configs []alertConfigResponse `json:"configs"`
}

type alertEventResponse struct {
	ID           string `json:"id"`
	ConfigID     string `json:"config_id"`
	ViolationID  string `json:"violation_id"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	DispatchedAt string `json:"dispatched_at"`
}

type listAlertEventsResponse struct {
	Events []alertEventResponse `json:"events"`
}

// toAlertConfigResponse converts a store.AlertConfig to an alertConfigResponse.
func toAlertConfigResponse(c *store.AlertConfig) alertConfigResponse {
	return alertConfigResponse{
		ID:                 c.ID,
		Name:               c.Name,
		Channel:            c.Channel,
		Destination:        c.Destination,
		MinSeverity:        c.MinSeverity,
		ViolationThreshold: c.ViolationThreshold,
		WindowMinutes:      c.WindowMinutes,
		Enabled:            c.Enabled,
		CreatedAt:          c.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:          c.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func validSeverity(s string) bool {
	switch s {
	case store.SeverityLow, store.SeverityMedium, store.SeverityHigh, store.SeverityCritical:
		return true
	}
	return false
}

// list handles GET /api/alerts/configs and returns all alert configs.
func (h *AlertConfigHandler) list(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.AlertConfigs().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list alert configs")
		return
	}

	response := listAlertConfigsResponse{
		Configs: make([]alertConfigResponse, 0, len(configs)),
	}
	for _, c := range configs {
		response.Configs = append(response.Configs, toAlertConfigResponse(c))
	}

	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/alerts/configs/{id} and returns a single config.
func (h *AlertConfigHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	c, err := h.store.AlertConfigs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Alert config not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get alert config")
		return
	}

	writeJSON(w, http.StatusOK, toAlertConfigResponse(c))
}

// create handles POST /api/alerts/configs and creates a new config.
func (h *AlertConfigHandler) create(w http.ResponseWriter, r *http.Request) {
	var req alertConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	if req.Channel == "" {
		writeError(w, http.StatusBadRequest, "Channel is required")
		return
	}
	if req.MinSeverity == "" {
		req.MinSeverity = store.SeverityMedium
	}
	if !validSeverity(req.MinSeverity) {
		writeError(w, http.StatusBadRequest, "Invalid min_severity")
		return
	}
	if req.ViolationThreshold <= 0 {
		req.ViolationThreshold = 1
	}
	if req.WindowMinutes <= 0 {
		req.WindowMinutes = 60
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	config := &store.AlertConfig{
		ID:                 uuid.New().String(),
		Name:               req.Name,
		Channel:            req.Channel,
		Destination:        req.Destination,
		MinSeverity:        req.MinSeverity,
		ViolationThreshold: req.ViolationThreshold,
		WindowMinutes:      req.WindowMinutes,
		Enabled:            enabled,
	}

	if err := h.store.AlertConfigs().Create(config); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create alert config")
		return
	}

	created, err := h.store.AlertConfigs().GetByID(config.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload alert config")
		return
	}

	writeJSON(w, http.StatusCreated, toAlertConfigResponse(created))
}

// update handles PUT /api/alerts/configs/{id} and updates an existing config.
func (h *AlertConfigHandler) update(w http.ResponseWriter, r *http.Request, id string) {
	config, err := h.store.AlertConfigs().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Alert config not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get alert config")
		return
	}

	var req alertConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if req.Name != "" {
		config.Name = req.Name
	}
	if req.Channel != "" {
		config.Channel = req.Channel
	}
	if req.Destination != "" {
		config.Destination = req.Destination
	}
	if req.MinSeverity != "" {
		if !validSeverity(req.MinSeverity) {
			writeError(w, http.StatusBadRequest, "Invalid min_severity")
			return
		}
		config.MinSeverity = req.MinSeverity
	}
	if req.ViolationThreshold > 0 {
		config.ViolationThreshold = req.ViolationThreshold
	}
	if req.WindowMinutes > 0 {
		config.WindowMinutes = req.WindowMinutes
	}
	if req.Enabled != nil {
		config.Enabled = *req.Enabled
	}

	if err := h.store.AlertConfigs().Update(config); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update alert config")
		return
	}

	updated, err := h.store.AlertConfigs().GetByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload alert config")
		return
	}

	writeJSON(w, http.StatusOK, toAlertConfigResponse(updated))
}

// delete handles DELETE /api/alerts/configs/{id}.
func (h *AlertConfigHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.AlertConfigs().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Alert config not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete alert config")
		return
	}

	writeJSON(w, http.StatusNoContent, nil)
}

// events handles GET /api/alerts/configs/{id}/events and returns recent
// dispatch attempts for the config.
func (h *AlertConfigHandler) events(w http.ResponseWriter, r *http.Request, id string) {
	if _, err := h.store.AlertConfigs().GetByID(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Alert config not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get alert config")
		return
	}

	events, err := h.store.AlertEvents().ListByConfig(id, 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list alert events")
		return
	}

	response := listAlertEventsResponse{
		Events: make([]alertEventResponse, 0, len(events)),
	}
	for _, e := range events {
		response.Events = append(response.Events, alertEventResponse{
			ID:           e.ID,
			ConfigID:     e.ConfigID,
			ViolationID:  e.ViolationID,
			Status:       e.Status,
			Error:        e.Error,
			DispatchedAt: e.DispatchedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	writeJSON(w, http.StatusOK, response)
}
