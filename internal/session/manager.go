package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/safesight/safesight/internal/alert"
	"github.com/safesight/safesight/internal/detector"
	"github.com/safesight/safesight/internal/metrics"
	"github.com/safesight/safesight/internal/store"
	"github.com/safesight/safesight/internal/track"
	"github.com/safesight/safesight/internal/violation"
)

// ErrSessionExists is returned when creating a session with a taken ID.
var ErrSessionExists = errors.New("session already exists")

// ErrSessionNotFound is returned when a session ID is unknown.
var ErrSessionNotFound = errors.New("session not found")

// Manager owns all live sessions. Sessions are fully independent of each
// other; the detector and the store are the only shared resources.
type Manager struct {
	config     Config
	detector   detector.Detector
	resolver   track.WorkerResolver
	recorder   *violation.Recorder
	dispatcher *alert.Dispatcher
	sessions   *store.SessionRepository
	metrics    *metrics.Metrics

	mu   sync.RWMutex
	live map[string]*Session
}

// NewManager creates a session manager. resolver and metrics may be nil.
func NewManager(config Config, det detector.Detector, resolver track.WorkerResolver,
	rec *violation.Recorder, disp *alert.Dispatcher, repo *store.SessionRepository, m *metrics.Metrics) *Manager {
	return &Manager{
		config:     config,
		detector:   det,
		resolver:   resolver,
		recorder:   rec,
		dispatcher: disp,
		sessions:   repo,
		metrics:    m,
		live:       make(map[string]*Session),
	}
}

// Create starts a new session, persists its record and activates it.
func (m *Manager) Create(id, cameraID, location string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.live[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	s := newSession(id, m.config, m.detector, m.resolver, m.recorder, m.dispatcher, m.sessions, m.metrics)

	record := &store.Session{
		ID:        id,
		StartedAt: s.startedAt,
		CameraID:  cameraID,
		Location:  location,
	}
	if err := m.sessions.Create(record); err != nil {
		return nil, fmt.Errorf("persist session %s: %w", id, err)
	}

	s.setState(StateActive)
	m.live[id] = s
	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
	return s, nil
}

// Get returns the live session with the given ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.live[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close tears down one session and removes it from the live set.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.live[id]
	if ok {
		delete(m.live, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	err := s.Close(ctx)
	if m.metrics != nil {
		m.metrics.ActiveSessions.Dec()
	}
	return err
}

// CloseAll tears down every live session, bounded by ctx.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.live))
	for _, s := range m.live {
		sessions = append(sessions, s)
	}
	m.live = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.Close(ctx)
		if m.metrics != nil {
			m.metrics.ActiveSessions.Dec()
		}
	}
}

// ActiveCount returns the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

// NewSessionID generates a session identifier for websocket connections.
func NewSessionID() string {
	return "ws_session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
