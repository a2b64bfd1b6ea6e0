package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gocv.io/x/gocv"
	"github.com/gorilla/websocket"

	"github.com/safesight/safesight/internal/alert"
	"github.com/safesight/safesight/internal/detector"
	"github.com/safesight/safesight/internal/session"
	"github.com/safesight/safesight/internal/store"
	"github.com/safesight/safesight/internal/violation"
)

// newTestServer wires a full server around a mock detector and a temp store.
func newTestServer(t *testing.T, mock *detector.MockDetector) *Server {
	t.Helper()
	tmpDir := t.TempDir()

	s, err := store.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	recorder := violation.NewRecorder(violation.Config{
		EvidenceDir: filepath.Join(tmpDir, "evidence"),
	}, s.Violations(), nil)
	registry := alert.NewChannelRegistry(filepath.Join(tmpDir, "channels"))
	dispatcher := alert.NewDispatcher(alert.DefaultConfig(), s, registry, nil)
	manager := session.NewManager(session.DefaultConfig(), mock, nil,
		recorder, dispatcher, s.Sessions(), nil)

	return New(Config{
		Store:    s,
		Manager:  manager,
		Detector: mock,
	})
}

func frameJPEG(t *testing.T) []byte {
	t.Helper()
	mat := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer mat.Close()
	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	defer buf.Close()
	return append([]byte(nil), buf.GetBytes()...)
}

func TestServer_Health(t *testing.T) {
	t.Run("returns 200 with JSON response", func(t *testing.T) {
		s := New(Config{})
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		contentType := rec.Header().Get("Content-Type")
		if contentType != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", contentType)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}
		if response["detector"] != "unconfigured" {
			t.Errorf("expected detector 'unconfigured', got %v", response["detector"])
		}
		if _, exists := response["uptime"]; !exists {
			t.Error("expected 'uptime' field in response")
		}
	})

	t.Run("reports healthy detector", func(t *testing.T) {
		s := newTestServer(t, detector.NewMockDetector())
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response["detector"] != "healthy" {
			t.Errorf("expected detector 'healthy', got %v", response["detector"])
		}
		if response["active_sessions"] != float64(0) {
			t.Errorf("expected 0 active sessions, got %v", response["active_sessions"])
		}
	})

	t.Run("degrades when detector is unavailable", func(t *testing.T) {
		mock := detector.NewMockDetector()
		mock.SetUnhealthy(true)
		s := newTestServer(t, mock)
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response["status"] != "degraded" {
			t.Errorf("expected status 'degraded', got %v", response["status"])
		}
		if response["detector"] != "unavailable" {
			t.Errorf("expected detector 'unavailable', got %v", response["detector"])
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		s := New(Config{})
		methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

		for _, method := range methods {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{})
	req := httptest.NewRequest(http.MethodGet, "/api/nonexistent", nil)
	rec := httptest.NewRecorder()

	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func dialDetect(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/detect" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	var msg wsMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("websocket read error = %v", err)
	}
	return msg
}

func TestDetectHandler_Protocol(t *testing.T) {
	mock := detector.NewMockDetector()
	mock.SetDetections([]detector.RawDetection{
		{Type: detector.TypePerson, Confidence: 0.9,
			Box: detector.Box{X: 0.15, Y: 0.2, Width: 0.3, Height: 0.6}},
	})
	s := newTestServer(t, mock)
	ts := httptest.NewServer(s)
	defer ts.Close()

	conn := dialDetect(t, ts, "?cameraId=cam-ws&location=dock")

	greeting := readMessage(t, conn)
	if greeting.Type != "connected" {
		t.Fatalf("greeting type = %q, want connected", greeting.Type)
	}
	if !strings.HasPrefix(greeting.SessionID, "ws_session_") {
		t.Errorf("greeting session_id = %q", greeting.SessionID)
	}

	t.Run("binary frame returns detection", func(t *testing.T) {
		if err := conn.WriteMessage(websocket.BinaryMessage, frameJPEG(t)); err != nil {
			t.Fatalf("write frame error = %v", err)
		}

		msg := readMessage(t, conn)
		if msg.Type != "detection" {
			t.Fatalf("message type = %q, want detection", msg.Type)
		}
		if msg.FrameNumber != 1 {
			t.Errorf("frame_number = %d, want 1", msg.FrameNumber)
		}
		if msg.Result == nil || msg.Result.Detected != 1 {
			t.Errorf("result = %+v, want one detection", msg.Result)
		}
		if msg.Result.FrameID != greeting.SessionID+"_f1" {
			t.Errorf("frameId = %q", msg.Result.FrameID)
		}
	})

	t.Run("ping answered with pong", func(t *testing.T) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)); err != nil {
			t.Fatalf("write ping error = %v", err)
		}
		if msg := readMessage(t, conn); msg.Type != "pong" {
			t.Errorf("message type = %q, want pong", msg.Type)
		}
	})

	t.Run("config updates the session", func(t *testing.T) {
		payload := `{"type":"config","required_ppe":["helmet"],"confidence_threshold":0.8}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			t.Fatalf("write config error = %v", err)
		}

		msg := readMessage(t, conn)
		if msg.Type != "config_updated" {
			t.Fatalf("message type = %q, want config_updated", msg.Type)
		}
		if len(msg.RequiredPPE) != 1 || msg.RequiredPPE[0] != "helmet" {
			t.Errorf("required_ppe = %v", msg.RequiredPPE)
		}
	})

	t.Run("invalid JSON reports an error", func(t *testing.T) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
			t.Fatalf("write error = %v", err)
		}
		if msg := readMessage(t, conn); msg.Type != "error" {
			t.Errorf("message type = %q, want error", msg.Type)
		}
	})

	t.Run("unknown message type reports an error", func(t *testing.T) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe"}`)); err != nil {
			t.Fatalf("write error = %v", err)
		}
		msg := readMessage(t, conn)
		if msg.Type != "error" || !strings.Contains(msg.Message, "subscribe") {
			t.Errorf("message = %+v, want unknown type error", msg)
		}
	})
}

func TestDetectHandler_UndecodableFrame(t *testing.T) {
	s := newTestServer(t, detector.NewMockDetector())
	ts := httptest.NewServer(s)
	defer ts.Close()

	conn := dialDetect(t, ts, "")
	if msg := readMessage(t, conn); msg.Type != "connected" {
		t.Fatalf("greeting type = %q", msg.Type)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte("garbage")); err != nil {
		t.Fatalf("write frame error = %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != "error" {
		t.Errorf("message type = %q, want error", msg.Type)
	}
}

func TestDetectHandler_SessionRecordedOnDisconnect(t *testing.T) {
	mock := detector.NewMockDetector()
	tmpDir := t.TempDir()
	st, err := store.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()

	recorder := violation.NewRecorder(violation.Config{
		EvidenceDir: filepath.Join(tmpDir, "evidence"),
	}, st.Violations(), nil)
	registry := alert.NewChannelRegistry(filepath.Join(tmpDir, "channels"))
	dispatcher := alert.NewDispatcher(alert.DefaultConfig(), st, registry, nil)
	manager := session.NewManager(session.DefaultConfig(), mock, nil,
		recorder, dispatcher, st.Sessions(), nil)

	s := New(Config{Store: st, Manager: manager, Detector: mock})
	ts := httptest.NewServer(s)
	defer ts.Close()

	conn := dialDetect(t, ts, "?cameraId=cam-7")
	greeting := readMessage(t, conn)
	if greeting.Type != "connected" {
		t.Fatalf("greeting type = %q", greeting.Type)
	}

	if err := conn.WriteMessage(websocket.BinaryMessage, frameJPEG(t)); err != nil {
		t.Fatalf("write frame error = %v", err)
	}
	readMessage(t, conn)

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	// The handler tears the session down after the read loop exits.
	deadline := time.Now().Add(2 * time.Second)
	for {
		record, err := st.Sessions().GetByID(greeting.SessionID)
		if err == nil && record.Status == store.SessionCompleted {
			if record.CameraID != "cam-7" {
				t.Errorf("camera_id = %q, want cam-7", record.CameraID)
			}
			if record.FrameCount != 1 {
				t.Errorf("frame_count = %d, want 1", record.FrameCount)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session %s never completed", greeting.SessionID)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
