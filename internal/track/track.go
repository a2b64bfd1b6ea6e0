// Package track associates anonymous per-frame detections with persistent
// worker identities across a live stream.
package track

import (
	"time"

	"github.com/safesight/safesight/internal/compliance"
	"github.com/safesight/safesight/internal/detector"
)

// Track is a persistent identity linking detections of the same physical
// worker across frames within one session.
type Track struct {
	// ID is process-local and monotonically assigned.
	ID int64
	// WorkerID is the resolved worker identity, empty while unresolved.
	WorkerID string
	// LastBox is the last matched person bounding box.
	LastBox detector.Box
	// LastSeen is the timestamp of the last matched frame.
	LastSeen time.Time
	// Confidence is the confidence of the last matched person detection.
	Confidence float64
	// Silence counts consecutive frames without a match.
	Silence int
	// Compliance is the debounced per-item compliance state for this track.
	Compliance *compliance.State
}

// Config holds tuning constants for track matching.
type Config struct {
	// IoUThreshold is the minimum overlap for a detection to extend a track.
	IoUThreshold float64
	// SilenceExpiry is the number of consecutive unmatched frames after
	// which a track expires.
	SilenceExpiry int
	// ItemMargin widens a person box when attributing PPE item centroids,
	// as a fraction of the box's larger dimension.
	ItemMargin float64
	// Compliance configures the state machine created for new tracks.
	Compliance compliance.Config
}

// DefaultConfig returns a Config with the standard tuning constants.
func DefaultConfig() Config {
	return Config{
		IoUThreshold:  0.3,
		SilenceExpiry: 30,
		ItemMargin:    0.05,
		Compliance:    compliance.DefaultConfig(),
	}
}
