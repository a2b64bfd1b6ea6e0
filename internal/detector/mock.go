package detector

import (
	"context"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results frame by frame.
type MockDetector struct {
	dets      []RawDetection
	queue     [][]RawDetection
	err       error
	unhealthy bool
	calls     int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetDetections sets the detections returned by every Detect call
// once the frame queue is drained.
func (m *MockDetector) SetDetections(dets []RawDetection) {
	m.dets = dets
}

// Enqueue appends per-frame detection results. Detect consumes one
// entry per call before falling back to the fixed detections.
func (m *MockDetector) Enqueue(frames ...[]RawDetection) {
	m.queue = append(m.queue, frames...)
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.err = err
}

// SetUnhealthy makes Healthy report false.
func (m *MockDetector) SetUnhealthy(unhealthy bool) {
	m.unhealthy = unhealthy
}

// Calls returns the number of Detect invocations.
func (m *MockDetector) Calls() int {
	return m.calls
}

// Detect returns the pre-configured detections or error.
func (m *MockDetector) Detect(ctx context.Context, frame *gocv.Mat) ([]RawDetection, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		return next, nil
	}
	return m.dets, nil
}

// Healthy reports the configured health state.
func (m *MockDetector) Healthy() bool {
	return !m.unhealthy
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}
