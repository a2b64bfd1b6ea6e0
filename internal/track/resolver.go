package track

import (
	"gocv.io/x/gocv"

	"github.com/safesight/safesight/internal/detector"
)

// WorkerResolver resolves a detected person to a worker identity.
// Implementations typically call an external face or badge recognition
// service; the pipeline only depends on this interface.
type WorkerResolver interface {
	// Resolve returns the worker ID for the person inside box, or an empty
	// string when the identity cannot be established.
	Resolve(box detector.Box, frame *gocv.Mat) (string, error)
}

// NoopResolver leaves every track anonymous.
type NoopResolver struct{}

// Resolve always returns an empty worker ID.
func (NoopResolver) Resolve(box detector.Box, frame *gocv.Mat) (string, error) {
	return "", nil
}
