// Package agent implements the SafeSight camera agent: it captures frames
// from a local camera, gates them on motion, and streams them to the
// detection server over a websocket connection.
package agent

import (
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"gocv.io/x/gocv"

	"github.com/safesight/safesight/internal/capture"
	"github.com/safesight/safesight/internal/config"
)

// Capture modes. Idle keeps the connection warm with occasional frames;
// active streams at the configured FPS while the scene is moving.
const (
	IdleFPS       = 1
	IdleTimeoutMs = 2000
)

// ErrNotConnected is returned when sending a frame before the websocket
// connection is established.
var ErrNotConnected = errors.New("not connected to detection server")

// StatusFunc receives the overall compliance status of each detection
// response ("compliant", "partial", "nonCompliant" or "" for empty frames).
type StatusFunc func(status string, detected int)

// Agent owns the capture loop and the websocket connection.
type Agent struct {
	config *config.AgentConfig
	camera capture.Camera
	motion *capture.MotionDetector

	onStatus StatusFunc

	mu        sync.Mutex
	conn      *websocket.Conn
	streaming bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates an agent for the given camera. A nil motion detector disables
// motion gating and streams every frame.
func New(cfg *config.AgentConfig, cam capture.Camera, motion *capture.MotionDetector) *Agent {
	return &Agent{
		config:    cfg,
		camera:    cam,
		motion:    motion,
		streaming: true,
	}
}

// OnStatus sets the callback invoked for each detection response.
func (a *Agent) OnStatus(fn StatusFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStatus = fn
}

// SetStreaming pauses or resumes frame submission. The capture loop and the
// connection stay up while paused.
func (a *Agent) SetStreaming(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streaming = on
	if on {
		log.Println("Streaming resumed")
	} else {
		log.Println("Streaming paused")
	}
}

// isStreaming reports whether frames should currently be submitted.
func (a *Agent) isStreaming() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.streaming
}

// Start opens the camera, connects to the server and launches the capture
// loop. It returns once the loop is running.
func (a *Agent) Start() error {
	if err := a.camera.Open(); err != nil {
		return err
	}

	if err := a.connect(); err != nil {
		a.camera.Close()
		return err
	}

	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.runLoop()
	return nil
}

// Stop tears down the capture loop, the connection and the camera.
func (a *Agent) Stop() {
	if a.stopCh != nil {
		close(a.stopCh)
		<-a.doneCh
	}

	a.mu.Lock()
	if a.conn != nil {
		a.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		a.conn.Close()
		a.conn = nil
	}
	a.mu.Unlock()

	a.camera.Close()
}

// connect dials the detection server and starts the response reader.
func (a *Agent) connect() error {
	u, err := url.Parse(a.config.ServerURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("cameraId", a.config.CameraID)
	if a.config.Location != "" {
		q.Set("location", a.config.Location)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	go a.readResponses(conn)
	log.Printf("Connected to detection server: %s", a.config.ServerURL)
	return nil
}

// serverMessage mirrors the server's websocket envelope; only the fields
// the agent reacts to are decoded.
type serverMessage struct {
	Type    string            `json:"type"`
	Result  *detectionSummary `json:"result"`
	Message string            `json:"message"`
}

type detectionSummary struct {
	Detected   int `json:"detected"`
	Compliant  int `json:"compliant"`
	Detections []struct {
		OverallStatus string `json:"overallStatus"`
	} `json:"detections"`
}

// readResponses consumes detection responses until the connection drops.
func (a *Agent) readResponses(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			if a.conn == conn {
				a.conn = nil
			}
			a.mu.Unlock()
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "detection":
			a.reportStatus(msg.Result)
		case "error":
			log.Printf("Server error: %s", msg.Message)
		case "busy":
			// Frame dropped under backpressure; nothing to do.
		}
	}
}

// reportStatus derives the worst per-person status and notifies the callback.
func (a *Agent) reportStatus(result *detectionSummary) {
	a.mu.Lock()
	fn := a.onStatus
	a.mu.Unlock()
	if fn == nil || result == nil {
		return
	}

	status := ""
	for _, d := range result.Detections {
		switch d.OverallStatus {
		case "nonCompliant":
			status = "nonCompliant"
		case "partial":
			if status != "nonCompliant" {
				status = "partial"
			}
		case "compliant":
			if status == "" {
				status = "compliant"
			}
		}
	}
	fn(status, result.Detected)
}

// runLoop is the capture loop. It mirrors the motion-gated cadence of the
// original pipeline: idle FPS until motion, then the configured capture FPS
// until the scene has been still for the idle timeout.
func (a *Agent) runLoop() {
	defer close(a.doneCh)

	activeMode := false
	lastMotionTime := time.Now()
	lastSent := time.Time{}

	frameInterval := time.Second / time.Duration(IdleFPS)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			frame, err := a.camera.ReadFrame()
			if err != nil {
				log.Printf("Error reading frame: %v", err)
				continue
			}

			motionDetected := a.motion == nil
			if a.motion != nil {
				motionDetected, _ = a.motion.Detect(frame)
			}

			if motionDetected {
				lastMotionTime = time.Now()
				if !activeMode {
					activeMode = true
					a.camera.SetFPS(a.config.CaptureFPS)
					frameInterval = time.Second / time.Duration(a.config.CaptureFPS)
					ticker.Reset(frameInterval)
					log.Println("Motion detected, switched to active mode")
				}
			} else if activeMode {
				if time.Since(lastMotionTime) > time.Duration(IdleTimeoutMs)*time.Millisecond {
					activeMode = false
					a.camera.SetFPS(IdleFPS)
					frameInterval = time.Second / time.Duration(IdleFPS)
					ticker.Reset(frameInterval)
					log.Println("Scene still, switched to idle mode")
				}
			}

			// In idle mode send an occasional keepalive frame so the
			// server's track silence counters keep advancing.
			send := activeMode ||
				(a.config.KeepaliveEvery > 0 && time.Since(lastSent) >= a.config.KeepaliveEvery)

			if send && a.isStreaming() {
				if err := a.sendFrame(frame); err != nil {
					log.Printf("Error sending frame: %v", err)
					a.reconnect()
				} else {
					lastSent = time.Now()
				}
			}
			frame.Close()
		}
	}
}

// sendFrame encodes the frame as JPEG and writes it as a binary message.
func (a *Agent) sendFrame(frame *gocv.Mat) error {
	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return err
	}
	defer buf.Close()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn == nil {
		return ErrNotConnected
	}
	a.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return a.conn.WriteMessage(websocket.BinaryMessage, buf.GetBytes())
}

// reconnect re-establishes a dropped connection with a short backoff. The
// server assigns a new session; tracks from the old session were already
// force-expired when it closed.
func (a *Agent) reconnect() {
	a.mu.Lock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
	a.mu.Unlock()

	time.Sleep(time.Second)
	if err := a.connect(); err != nil {
		log.Printf("Reconnect failed: %v", err)
	}
}
