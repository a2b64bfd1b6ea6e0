package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/safesight/safesight/internal/store"
)

func createConfig(t *testing.T, handler *AlertConfigHandler, body string) alertConfigResponse {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/alerts/configs", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var created alertConfigResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return created
}

func TestAlertConfigHandler_Create(t *testing.T) {
	s := newTestStore(t)
	handler := NewAlertConfigHandler(s)

	t.Run("applies defaults", func(t *testing.T) {
		created := createConfig(t, handler, `{"name": "safety team", "channel": "webhook", "destination": "https://example.com/hook"}`)

		if created.ID == "" {
			t.Error("expected a generated ID")
		}
		if created.MinSeverity != store.SeverityMedium {
			t.Errorf("expected default min_severity medium, got %s", created.MinSeverity)
		}
		if created.ViolationThreshold != 1 {
			t.Errorf("expected default threshold 1, got %d", created.ViolationThreshold)
		}
		if created.WindowMinutes != 60 {
			t.Errorf("expected default window 60, got %d", created.WindowMinutes)
		}
		if !created.Enabled {
			t.Error("expected config enabled by default")
		}
	})

	t.Run("requires name and channel", func(t *testing.T) {
		for _, body := range []string{
			`{"channel": "webhook"}`,
			`{"name": "no channel"}`,
		} {
			req := httptest.NewRequest(http.MethodPost, "/api/alerts/configs", bytes.NewBufferString(body))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("body %s: expected status %d, got %d", body, http.StatusBadRequest, rec.Code)
			}
		}
	})

	t.Run("rejects invalid severity", func(t *testing.T) {
		body := `{"name": "bad", "channel": "webhook", "min_severity": "catastrophic"}`
		req := httptest.NewRequest(http.MethodPost, "/api/alerts/configs", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})
}

func TestAlertConfigHandler_ListAndGet(t *testing.T) {
	s := newTestStore(t)
	handler := NewAlertConfigHandler(s)

	created := createConfig(t, handler, `{"name": "night shift", "channel": "slack", "destination": "https://hooks.slack.test/x"}`)

	t.Run("lists configs", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/alerts/configs", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		var response listAlertConfigsResponse
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(response.Configs) != 1 {
			t.Errorf("expected 1 config, got %d", len(response.Configs))
		}
	})

	t.Run("gets one config", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/alerts/configs/"+created.ID, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		var got alertConfigResponse
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if got.Name != "night shift" || got.Channel != "slack" {
			t.Errorf("unexpected config: %+v", got)
		}
	})

	t.Run("returns 404 for unknown ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/alerts/configs/nope", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestAlertConfigHandler_Update(t *testing.T) {
	s := newTestStore(t)
	handler := NewAlertConfigHandler(s)

	created := createConfig(t, handler, `{"name": "day shift", "channel": "webhook", "destination": "https://example.com/hook"}`)

	t.Run("disables a config", func(t *testing.T) {
		body := bytes.NewBufferString(`{"enabled": false}`)
		req := httptest.NewRequest(http.MethodPut, "/api/alerts/configs/"+created.ID, body)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
		}

		var got alertConfigResponse
		if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if got.Enabled {
			t.Error("expected config disabled")
		}
		if got.Name != "day shift" {
			t.Errorf("expected untouched fields preserved, got name %q", got.Name)
		}
	})

	t.Run("returns 404 for unknown ID", func(t *testing.T) {
		body := bytes.NewBufferString(`{"enabled": false}`)
		req := httptest.NewRequest(http.MethodPut, "/api/alerts/configs/nope", body)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
		}
	})
}

func TestAlertConfigHandler_Delete(t *testing.T) {
	s := newTestStore(t)
	handler := NewAlertConfigHandler(s)

	created := createConfig(t, handler, `{"name": "temp", "channel": "webhook"}`)

	req := httptest.NewRequest(http.MethodDelete, "/api/alerts/configs/"+created.ID, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/alerts/configs/"+created.ID, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d after delete, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestAlertConfigHandler_Events(t *testing.T) {
	s := newTestStore(t)
	handler := NewAlertConfigHandler(s)

	created := createConfig(t, handler, `{"name": "with events", "channel": "webhook"}`)

	event := &store.AlertEvent{
		ID:           uuid.NewString(),
		ConfigID:     created.ID,
		ViolationID:  "v1",
		Status:       store.AlertSent,
		DispatchedAt: time.Now(),
	}
	if err := s.AlertEvents().Create(event); err != nil {
		t.Fatalf("failed to record event: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/alerts/configs/"+created.ID+"/events", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response listAlertEventsResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(response.Events))
	}
	if response.Events[0].Status != store.AlertSent {
		t.Errorf("expected sent event, got %s", response.Events[0].Status)
	}
}
