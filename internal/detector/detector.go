package detector

import (
	"context"
	"errors"
	"time"

	"gocv.io/x/gocv"
)

// ErrUnavailable is returned when the detection capability is not loaded
// or the underlying inference process is unhealthy.
var ErrUnavailable = errors.New("detection capability unavailable")

// ErrInferenceTimeout is returned when a single inference call exceeds
// the configured timeout. The frame should be skipped, not retried.
var ErrInferenceTimeout = errors.New("inference timed out")

// Detector defines the interface for PPE detection implementations.
type Detector interface {
	// Detect analyzes a video frame and returns detected objects with
	// confidences below the configured floor already dropped.
	Detect(ctx context.Context, frame *gocv.Mat) ([]RawDetection, error)

	// Healthy reports whether the detection capability can serve requests.
	Healthy() bool

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds configuration options for PPE detection.
type Config struct {
	// ScriptPath is the path to the inference service script.
	// Empty means auto-discovery next to the binary.
	ScriptPath string

	// ConfidenceFloor is the minimum detection confidence (0.0-1.0).
	// Detections below the floor are dropped before returning.
	ConfidenceFloor float64

	// Timeout bounds a single inference call.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		ConfidenceFloor: 0.5,
		Timeout:         5 * time.Second,
	}
}
