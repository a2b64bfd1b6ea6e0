// Package violation persists confirmed compliance violations with
// evidentiary frame snapshots.
package violation

import (
	"errors"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"github.com/safesight/safesight/internal/compliance"
	"github.com/safesight/safesight/internal/detector"
	"github.com/safesight/safesight/internal/metrics"
	"github.com/safesight/safesight/internal/store"
	"github.com/safesight/safesight/internal/track"
)

// Config holds recorder configuration.
type Config struct {
	// EvidenceDir is where violation snapshots are written.
	EvidenceDir string
	// Retries bounds persistence retry attempts on violation open/close.
	Retries int
	// Backoff is the initial retry delay; it doubles per attempt.
	Backoff time.Duration
}

// DefaultConfig returns a Config with the standard values.
func DefaultConfig() Config {
	return Config{
		EvidenceDir: "evidence",
		Retries:     3,
		Backoff:     100 * time.Millisecond,
	}
}

// Recorder turns compliance transitions into persisted violation records.
// Opens are deduplicated so an ongoing violation is recorded exactly once.
type Recorder struct {
	config     Config
	violations *store.ViolationRepository
	metrics    *metrics.Metrics
}

// NewRecorder creates a Recorder backed by the given violation repository.
// metrics may be nil.
func NewRecorder(config Config, violations *store.ViolationRepository, m *metrics.Metrics) *Recorder {
	if config.Retries <= 0 {
		config.Retries = DefaultConfig().Retries
	}
	if config.Backoff <= 0 {
		config.Backoff = DefaultConfig().Backoff
	}
	return &Recorder{
		config:     config,
		violations: violations,
		metrics:    m,
	}
}

// Record applies one compliance transition for a track.
//
// A transition into nonCompliant opens a violation per confirmed-missing
// item, attaching the current frame as evidence; a transition out of
// nonCompliant closes every open violation on the track. Re-processing the
// same transition is a no-op because an existing open record wins.
// It returns the violations opened by this call.
func (r *Recorder) Record(sessionID string, t *track.Track, tr compliance.Transition, frameID string, frame *gocv.Mat, ts time.Time) ([]*store.Violation, error) {
	switch {
	case tr.New == compliance.StatusNonCompliant:
		return r.open(sessionID, t, tr.Missing, frameID, frame, ts)
	case tr.Old == compliance.StatusNonCompliant:
		n, err := r.close(sessionID, t.ID, ts)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			log.Printf("session %s: closed %d violation(s) for track %d", sessionID, n, t.ID)
		}
		return nil, nil
	default:
		return nil, nil
	}
}

// TrackExpired force-closes any open violations on an expired track.
// Safe to call more than once for the same track.
func (r *Recorder) TrackExpired(sessionID string, trackID int64, ts time.Time) error {
	n, err := r.close(sessionID, trackID, ts)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Printf("session %s: track %d expired, force-closed %d violation(s)", sessionID, trackID, n)
	}
	return nil
}

// SessionEnded force-closes every open violation in the session.
func (r *Recorder) SessionEnded(sessionID string, ts time.Time) error {
	var n int
	err := r.withRetry(func() error {
		var err error
		n, err = r.violations.CloseOpenForSession(sessionID, ts)
		return err
	})
	if err != nil {
		return err
	}
	if n > 0 {
		if r.metrics != nil {
			r.metrics.ViolationsClosed.Add(float64(n))
		}
		log.Printf("session %s: ended, force-closed %d violation(s)", sessionID, n)
	}
	return nil
}

// CountForSession returns the persisted violation count for the session.
func (r *Recorder) CountForSession(sessionID string) (int, error) {
	return r.violations.CountBySession(sessionID)
}

func (r *Recorder) open(sessionID string, t *track.Track, missing []detector.PPEType, frameID string, frame *gocv.Mat, ts time.Time) ([]*store.Violation, error) {
	severity := severityFor(missing)

	var opened []*store.Violation
	for _, item := range missing {
		v := &store.Violation{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			TrackID:   t.ID,
			WorkerID:  t.WorkerID,
			ItemType:  string(item),
			Severity:  severity,
			FrameID:   frameID,
			StartedAt: ts,
		}

		if path, err := r.saveEvidence(sessionID, v.ID, t.LastBox, frame); err != nil {
			log.Printf("session %s: evidence snapshot failed for track %d: %v", sessionID, t.ID, err)
		} else {
			v.EvidencePath = path
		}

		err := r.withRetry(func() error {
			return r.violations.Open(v)
		})
		if errors.Is(err, store.ErrConflict) {
			// Another writer already holds the open record; the loser is a no-op.
			continue
		}
		if err != nil {
			return opened, fmt.Errorf("open violation for track %d item %s: %w", t.ID, item, err)
		}

		if r.metrics != nil {
			r.metrics.ViolationsOpened.Inc()
		}
		log.Printf("session %s: opened %s violation %s for track %d (worker %q)",
			sessionID, item, v.ID, t.ID, t.WorkerID)
		opened = append(opened, v)
	}
	return opened, nil
}

func (r *Recorder) close(sessionID string, trackID int64, ts time.Time) (int, error) {
	var n int
	err := r.withRetry(func() error {
		var err error
		n, err = r.violations.CloseOpenForTrack(sessionID, trackID, ts)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("close violations for track %d: %w", trackID, err)
	}
	if n > 0 && r.metrics != nil {
		r.metrics.ViolationsClosed.Add(float64(n))
	}
	return n, nil
}

// withRetry runs fn with bounded exponential backoff. Violations must not be
// silently dropped, so transient persistence failures are retried before the
// error surfaces to the session.
func (r *Recorder) withRetry(fn func() error) error {
	var err error
	backoff := r.config.Backoff
	for attempt := 0; attempt <= r.config.Retries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			backoff *= 2
		}
		if err = fn(); err == nil {
			return nil
		}
		if errors.Is(err, store.ErrConflict) {
			return err // not transient, surface immediately
		}
	}
	return err
}

// saveEvidence crops the person region out of the frame and writes it as a
// JPEG under the evidence directory. A nil frame yields no snapshot.
func (r *Recorder) saveEvidence(sessionID, violationID string, box detector.Box, frame *gocv.Mat) (string, error) {
	if frame == nil || frame.Empty() {
		return "", nil
	}

	dir := filepath.Join(r.config.EvidenceDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	rect := clampRect(box, frame.Cols(), frame.Rows())
	region := frame.Region(rect)
	defer region.Close()

	path := filepath.Join(dir, violationID+".jpg")
	if ok := gocv.IMWrite(path, region); !ok {
		return "", fmt.Errorf("write evidence image %s", path)
	}
	return path, nil
}

// clampRect converts a normalized box back to pixel coordinates for the
// given frame, clamped to its bounds.
func clampRect(box detector.Box, width, height int) image.Rectangle {
	w := float64(width)
	h := float64(height)
	x0 := int(box.X * w)
	y0 := int(box.Y * h)
	x1 := int((box.X + box.Width) * w)
	y1 := int((box.Y + box.Height) * h)

	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > width {
		x1 = width
	}
	if y1 > height {
		y1 = height
	}
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return image.Rect(x0, y0, x1, y1)
}

// severityFor derives a violation severity from the missing items.
// A missing helmet is high on its own; three or more missing items together
// are critical.
func severityFor(missing []detector.PPEType) string {
	if len(missing) >= 3 {
		return store.SeverityCritical
	}
	for _, item := range missing {
		if item == detector.TypeHelmet {
			return store.SeverityHigh
		}
	}
	return store.SeverityMedium
}
