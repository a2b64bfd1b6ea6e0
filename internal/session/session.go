// Package session owns the per-connection lifecycle for live detection
// streams: frame sequencing, backpressure, and deterministic teardown.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/safesight/safesight/internal/alert"
	"github.com/safesight/safesight/internal/detector"
	"github.com/safesight/safesight/internal/metrics"
	"github.com/safesight/safesight/internal/store"
	"github.com/safesight/safesight/internal/track"
	"github.com/safesight/safesight/internal/violation"
)

// ErrNotActive is returned when a frame is submitted outside the active state.
var ErrNotActive = errors.New("session not active")

// ErrBusy is returned when the in-flight frame limit is reached. The caller
// should drop or retry the frame instead of blocking.
var ErrBusy = errors.New("session busy")

// ErrInvalidFrame is returned when the submitted image bytes cannot be decoded.
var ErrInvalidFrame = errors.New("invalid frame image")

// State is a session lifecycle state.
type State string

// Session lifecycle states.
const (
	StateIdle    State = "idle"
	StateActive  State = "active"
	StateClosing State = "closing"
	StateClosed  State = "closed"
)

// Config holds per-session tuning.
type Config struct {
	// InFlightLimit bounds frames admitted but not yet answered.
	InFlightLimit int
	// Track configures the matcher created for this session.
	Track track.Config
}

// DefaultConfig returns a Config with the standard values.
func DefaultConfig() Config {
	return Config{
		InFlightLimit: 4,
		Track:         track.DefaultConfig(),
	}
}

// Session processes one live stream. Frames are processed strictly
// sequentially in arrival order; all track and compliance state is owned by
// this session and destroyed with it.
type Session struct {
	ID string

	config     Config
	detector   detector.Detector
	matcher    *track.Matcher
	recorder   *violation.Recorder
	dispatcher *alert.Dispatcher
	sessions   *store.SessionRepository
	metrics    *metrics.Metrics

	inflight chan struct{}

	mu             sync.Mutex // serializes frame processing and teardown
	extraFloor     float64
	stateMu        sync.RWMutex
	state          State
	startedAt      time.Time
	frameCount     int
	violationCount int
}

// newSession is called by the Manager; sessions always start idle and are
// activated once their record is persisted.
func newSession(id string, config Config, det detector.Detector, resolver track.WorkerResolver,
	rec *violation.Recorder, disp *alert.Dispatcher, repo *store.SessionRepository, m *metrics.Metrics) *Session {
	if config.InFlightLimit <= 0 {
		config.InFlightLimit = DefaultConfig().InFlightLimit
	}
	return &Session{
		ID:         id,
		config:     config,
		detector:   det,
		matcher:    track.NewMatcher(config.Track, resolver),
		recorder:   rec,
		dispatcher: disp,
		sessions:   repo,
		metrics:    m,
		inflight:   make(chan struct{}, config.InFlightLimit),
		state:      StateIdle,
		startedAt:  time.Now(),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.stateMu.Lock()
	s.state = st
	s.stateMu.Unlock()
}

// FrameCount returns the number of frames processed so far.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameCount
}

// Configure adjusts the session's required PPE set and confidence floor.
// The new requirements apply to tracks created after the call; existing
// tracks keep their debounce windows. A floor at or below the detector's
// own threshold has no additional effect; an empty required set leaves the
// current requirements unchanged.
func (s *Session) Configure(required []detector.PPEType, confidenceFloor float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(required) > 0 {
		cfg := s.config.Track.Compliance
		cfg.Required = required
		s.config.Track.Compliance = cfg
		s.matcher.SetCompliance(cfg)
	}
	if confidenceFloor > 0 {
		s.extraFloor = confidenceFloor
	}
	log.Printf("session %s: configured required=%v floor=%.2f", s.ID, required, confidenceFloor)
}

// Submit runs one frame through the detection pipeline and returns the
// response payload.
//
// Frames are rejected with ErrNotActive outside the active state and with
// ErrBusy once the in-flight limit is reached. An inference timeout skips
// the frame (logged, empty result) rather than stalling the stream; a
// detector that is not loaded surfaces detector.ErrUnavailable.
func (s *Session) Submit(ctx context.Context, frameID string, imageBytes []byte, ts time.Time) (*DetectionResult, error) {
	if s.State() != StateActive {
		return nil, ErrNotActive
	}

	// Backpressure: admit or reject, never queue unboundedly.
	select {
	case s.inflight <- struct{}{}:
	default:
		if s.metrics != nil {
			s.metrics.FramesRejected.Inc()
		}
		return nil, ErrBusy
	}
	defer func() { <-s.inflight }()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Re-check after acquiring the processing lock: a teardown may have
	// raced with admission.
	if s.State() != StateActive {
		return nil, ErrNotActive
	}

	frame, err := gocv.IMDecode(imageBytes, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	defer frame.Close()
	if frame.Empty() {
		return nil, ErrInvalidFrame
	}

	start := time.Now()
	dets, err := s.detector.Detect(ctx, &frame)
	if s.metrics != nil {
		s.metrics.InferenceLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if errors.Is(err, detector.ErrInferenceTimeout) {
			// Skip the frame, keep the session alive.
			log.Printf("session %s: inference timed out, skipping frame %s", s.ID, frameID)
			if s.metrics != nil {
				s.metrics.FramesSkipped.Inc()
			}
			return &DetectionResult{FrameID: frameID, Detections: []PersonDetection{}}, nil
		}
		return nil, err
	}
	if s.extraFloor > 0 {
		dets = detector.ApplyFloor(dets, s.extraFloor)
	}

	result := s.matcher.Match(dets, &frame, ts)

	for _, expired := range result.Expired {
		if err := s.recorder.TrackExpired(s.ID, expired.ID, ts); err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.ActiveTracks.Dec()
		}
	}

	for _, a := range result.Matched {
		if a.New && s.metrics != nil {
			s.metrics.ActiveTracks.Inc()
		}

		tr, changed := a.Track.Compliance.Observe(a.Items, ts)
		if !changed {
			continue
		}

		opened, err := s.recorder.Record(s.ID, a.Track, tr, frameID, &frame, ts)
		if err != nil {
			return nil, err
		}
		s.violationCount += len(opened)

		for _, v := range opened {
			s.dispatcher.Evaluate(ctx, v)
		}
	}

	s.frameCount++
	if s.metrics != nil {
		s.metrics.FramesProcessed.Inc()
	}

	return buildResult(frameID, result.Matched), nil
}

// Close drains in-flight frames, force-expires every track, force-closes
// every open violation and persists the final session record. It is safe to
// call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.stateMu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.stateMu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.stateMu.Unlock()

	// Taking the processing lock guarantees the last admitted frame has
	// drained; new submissions are already rejected by the state check.
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var firstErr error

	for _, t := range s.matcher.ExpireAll() {
		if err := s.recorder.TrackExpired(s.ID, t.ID, now); err != nil && firstErr == nil {
			firstErr = err
		}
		if s.metrics != nil {
			s.metrics.ActiveTracks.Dec()
		}
	}

	if err := s.recorder.SessionEnded(s.ID, now); err != nil && firstErr == nil {
		firstErr = err
	}

	// The store is authoritative for the final count: opens that lost
	// the dedup race never reached the in-memory counter.
	violations := s.violationCount
	if n, err := s.recorder.CountForSession(s.ID); err == nil {
		violations = n
	} else {
		log.Printf("session %s: violation count fallback to in-memory counter: %v", s.ID, err)
	}

	status := store.SessionCompleted
	if firstErr != nil {
		status = store.SessionError
	}
	if err := s.sessions.Finish(s.ID, status, now, s.frameCount, violations); err != nil && firstErr == nil {
		firstErr = err
	}

	s.setState(StateClosed)
	log.Printf("session %s: closed after %d frame(s), %d violation(s)", s.ID, s.frameCount, violations)
	return firstErr
}
