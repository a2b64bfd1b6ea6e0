package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/safesight/safesight/internal/detector"
	"github.com/safesight/safesight/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

const wsWriteTimeout = 10 * time.Second

// DetectHandler runs live detection sessions over websocket connections.
//
// Protocol: the client connects, receives a "connected" greeting, then sends
// binary JPEG frames; each frame is answered with a "detection" message
// carrying the DetectionResult. Text messages configure the session
// ("config") or keep it alive ("ping").
type DetectHandler struct {
	manager *session.Manager
}

// NewDetectHandler creates a DetectHandler backed by the session manager.
func NewDetectHandler(m *session.Manager) *DetectHandler {
	return &DetectHandler{manager: m}
}

// wsMessage is the envelope for text messages in both directions.
type wsMessage struct {
	Type                string                   `json:"type"`
	SessionID           string                   `json:"session_id,omitempty"`
	Message             string                   `json:"message,omitempty"`
	FrameNumber         int                      `json:"frame_number,omitempty"`
	RequiredPPE         []string                 `json:"required_ppe,omitempty"`
	ConfidenceThreshold float64                  `json:"confidence_threshold,omitempty"`
	Result              *session.DetectionResult `json:"result,omitempty"`
}

// ServeHTTP handles websocket upgrade requests and runs the session loop.
func (h *DetectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sessionID := session.NewSessionID()
	sess, err := h.manager.Create(sessionID, r.URL.Query().Get("cameraId"), r.URL.Query().Get("location"))
	if err != nil {
		log.Printf("websocket session create failed: %v", err)
		writeJSON(conn, wsMessage{Type: "error", Message: "failed to start session"})
		return
	}
	defer h.manager.Close(context.Background(), sessionID)

	log.Printf("websocket session connected: %s", sessionID)
	defer log.Printf("websocket session disconnected: %s", sessionID)

	writeJSON(conn, wsMessage{
		Type:      "connected",
		SessionID: sessionID,
		Message:   "Websocket connection established. Send binary image frames for detection.",
	})

	frameNumber := 0
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("websocket error for %s: %v", sessionID, err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			frameNumber++
			h.handleFrame(r.Context(), conn, sess, frameNumber, data)
		case websocket.TextMessage:
			h.handleText(conn, sess, data)
		}
	}
}

func (h *DetectHandler) handleFrame(ctx context.Context, conn *websocket.Conn, sess *session.Session, frameNumber int, data []byte) {
	frameID := fmt.Sprintf("%s_f%d", sess.ID, frameNumber)

	result, err := sess.Submit(ctx, frameID, data, time.Now())
	switch {
	case errors.Is(err, session.ErrBusy):
		writeJSON(conn, wsMessage{Type: "busy", FrameNumber: frameNumber, Message: "frame dropped, session busy"})
	case errors.Is(err, session.ErrNotActive):
		writeJSON(conn, wsMessage{Type: "error", FrameNumber: frameNumber, Message: "session not active"})
	case errors.Is(err, detector.ErrUnavailable):
		writeJSON(conn, wsMessage{Type: "error", FrameNumber: frameNumber, Message: "detection capability unavailable"})
	case err != nil:
		writeJSON(conn, wsMessage{Type: "error", FrameNumber: frameNumber, Message: fmt.Sprintf("detection failed: %v", err)})
	default:
		writeJSON(conn, wsMessage{Type: "detection", FrameNumber: frameNumber, Result: result})
	}
}

func (h *DetectHandler) handleText(conn *websocket.Conn, sess *session.Session, data []byte) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		writeJSON(conn, wsMessage{Type: "error", Message: "invalid JSON format"})
		return
	}

	switch msg.Type {
	case "config":
		required := make([]detector.PPEType, 0, len(msg.RequiredPPE))
		for _, t := range msg.RequiredPPE {
			required = append(required, detector.PPEType(t))
		}
		sess.Configure(required, msg.ConfidenceThreshold)
		writeJSON(conn, wsMessage{
			Type:                "config_updated",
			RequiredPPE:         msg.RequiredPPE,
			ConfidenceThreshold: msg.ConfidenceThreshold,
		})
	case "ping":
		writeJSON(conn, wsMessage{Type: "pong"})
	default:
		writeJSON(conn, wsMessage{Type: "error", Message: "unknown message type: " + msg.Type})
	}
}

func writeJSON(conn *websocket.Conn, msg wsMessage) {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("websocket write failed: %v", err)
	}
}
