package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// YOLODetector implements Detector using a Python YOLO inference subprocess.
// Frames are sent as length-prefixed JPEG buffers on stdin; the service
// answers with one JSON line per frame. Calls are serialized internally so
// the detector is safe for concurrent use from multiple sessions.
type YOLODetector struct {
	config  Config
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	mu      sync.Mutex
	started bool
}

// NewYOLODetector creates a new YOLO detector.
// The Python process is started lazily on first detection.
func NewYOLODetector(config Config) (*YOLODetector, error) {
	if config.ScriptPath == "" {
		config.ScriptPath = findInferenceScript()
	}
	if config.ScriptPath == "" {
		return nil, fmt.Errorf("%w: ppe_service.py not found", ErrUnavailable)
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}

	return &YOLODetector{
		config: config,
	}, nil
}

type inferenceResult struct {
	dets []RawDetection
	err  error
}

// Detect analyzes a frame and returns detected objects above the
// confidence floor. A call that exceeds the configured timeout returns
// ErrInferenceTimeout and restarts the inference process, since the wire
// protocol is desynchronized once a response is abandoned.
func (d *YOLODetector) Detect(ctx context.Context, frame *gocv.Mat) ([]RawDetection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	// Encode frame as JPEG
	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	// The goroutine gets its own references to the pipes: shutdown nils the
	// struct fields on timeout while the round trip may still be blocked on
	// the read.
	stdin := d.stdin
	stdout := d.stdout

	resultCh := make(chan inferenceResult, 1)
	go func() {
		dets, err := roundTrip(stdin, stdout, data)
		resultCh <- inferenceResult{dets: dets, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			d.shutdown()
			return nil, res.err
		}
		dets := NormalizeBoxes(res.dets, frame.Cols(), frame.Rows())
		return ApplyFloor(dets, d.config.ConfidenceFloor), nil
	case <-ctx.Done():
		d.shutdown()
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrInferenceTimeout
		}
		return nil, ctx.Err()
	}
}

// roundTrip writes one length-prefixed frame and reads one JSON response line.
func roundTrip(stdin io.Writer, stdout *bufio.Reader, data []byte) ([]RawDetection, error) {
	// Write length (4 bytes big-endian) + data
	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(data)))

	if _, err := stdin.Write(length); err != nil {
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := stdout.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var response struct {
		Detections []jsonDetection `json:"detections"`
	}
	if err := json.Unmarshal([]byte(line), &response); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	dets := make([]RawDetection, 0, len(response.Detections))
	for _, jd := range response.Detections {
		label := LabelForClass(jd.Class)
		if label == "" {
			continue // unknown class index
		}
		dets = append(dets, RawDetection{
			Type:       label,
			Confidence: jd.Confidence,
			Box:        jd.Box,
		})
	}
	return dets, nil
}

// Healthy reports whether the detector can serve requests.
func (d *YOLODetector) Healthy() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return true
	}
	_, err := os.Stat(d.config.ScriptPath)
	return err == nil
}

// Close shuts down the Python process.
func (d *YOLODetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *YOLODetector) ensureStarted() error {
	if d.started {
		return nil
	}

	if _, err := os.Stat(d.config.ScriptPath); err != nil {
		return fmt.Errorf("%w: %s", ErrUnavailable, d.config.ScriptPath)
	}

	// Use virtual environment Python if available
	pythonPath := findVenvPython()
	if pythonPath == "" {
		pythonPath = "python3"
	}

	d.cmd = exec.Command(pythonPath, d.config.ScriptPath)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("%w: start inference service: %v", ErrUnavailable, err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	return nil
}

func (d *YOLODetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	// Give the process a moment to exit after stdin closes.
	done := make(chan error, 1)
	go func() { done <- d.cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		d.cmd.Process.Kill()
		err = <-done
	}

	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

func findInferenceScript() string {
	// Get executable directory
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		"scripts/ppe_service.py",
		"../scripts/ppe_service.py",
		filepath.Join(execDir, "scripts/ppe_service.py"),
		filepath.Join(os.Getenv("HOME"), ".safesight/scripts/ppe_service.py"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".safesight/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// jsonDetection is the per-object JSON structure from the Python service.
type jsonDetection struct {
	Class      int     `json:"class"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}
