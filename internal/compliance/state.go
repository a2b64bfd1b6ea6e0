// Package compliance converts per-frame PPE observations into a debounced
// compliance status per tracked worker.
package compliance

import (
	"time"

	"github.com/safesight/safesight/internal/detector"
)

// Status represents a compliance state for an item or a whole track.
type Status string

const (
	// StatusInitializing is the state before any observation is recorded.
	StatusInitializing Status = "initializing"
	// StatusCompliant means every required item meets the confirmation ratio.
	StatusCompliant Status = "compliant"
	// StatusPartial means the observation window is still filling, or some
	// items are confirmed while others are not yet decided.
	StatusPartial Status = "partial"
	// StatusNonCompliant means at least one required item fell below the
	// confirmation ratio over a full window.
	StatusNonCompliant Status = "nonCompliant"
)

// Config holds the tuning constants for the compliance state machine.
type Config struct {
	// WindowSize is the number of recent frames considered per item.
	WindowSize int
	// ConfirmationRatio is the fraction of observed frames required for an
	// item to count as compliant.
	ConfirmationRatio float64
	// Required lists the PPE item types a worker must wear.
	Required []detector.PPEType
}

// DefaultConfig returns a Config with the standard tuning constants.
func DefaultConfig() Config {
	return Config{
		WindowSize:        5,
		ConfirmationRatio: 0.6,
		Required: []detector.PPEType{
			detector.TypeHelmet,
			detector.TypeVest,
			detector.TypeShoes,
			detector.TypeGloves,
		},
	}
}

// window is a fixed-size ring of per-frame observations.
type window struct {
	slots []bool
	next  int
	count int
}

func newWindow(size int) *window {
	return &window{slots: make([]bool, size)}
}

func (w *window) observe(present bool) {
	w.slots[w.next] = present
	w.next = (w.next + 1) % len(w.slots)
	if w.count < len(w.slots) {
		w.count++
	}
}

func (w *window) full() bool {
	return w.count == len(w.slots)
}

// ratio returns the fraction of recorded observations that were present.
func (w *window) ratio() float64 {
	if w.count == 0 {
		return 0
	}
	seen := 0
	for i := 0; i < w.count; i++ {
		if w.slots[i] {
			seen++
		}
	}
	return float64(seen) / float64(w.count)
}

// ItemState holds the observation window and derived status for one PPE item.
type ItemState struct {
	Type         detector.PPEType
	Status       Status
	LastDetected time.Time

	win *window
}

// Transition describes an overall status change produced by an observation.
type Transition struct {
	Old Status
	New Status
	// Missing lists the required items currently confirmed non-compliant.
	Missing []detector.PPEType
}

// State is the per-track compliance state machine. It is not safe for
// concurrent use; each track is owned by a single session goroutine.
type State struct {
	config  Config
	items   map[detector.PPEType]*ItemState
	overall Status
}

// NewState creates a compliance state machine for one track.
func NewState(config Config) *State {
	if config.WindowSize <= 0 {
		config.WindowSize = DefaultConfig().WindowSize
	}
	if config.ConfirmationRatio <= 0 {
		config.ConfirmationRatio = DefaultConfig().ConfirmationRatio
	}
	if len(config.Required) == 0 {
		config.Required = DefaultConfig().Required
	}

	items := make(map[detector.PPEType]*ItemState, len(config.Required))
	for _, t := range config.Required {
		items[t] = &ItemState{
			Type:   t,
			Status: StatusInitializing,
			win:    newWindow(config.WindowSize),
		}
	}

	return &State{
		config:  config,
		items:   items,
		overall: StatusInitializing,
	}
}

// Observe records one frame's observations for every required item.
// An item type absent from seen counts as observed-absent, not as missing
// data. It returns the resulting transition; changed is true only when the
// overall status actually moved, which is the debouncing contract.
func (s *State) Observe(seen map[detector.PPEType]bool, ts time.Time) (Transition, bool) {
	old := s.overall

	for t, item := range s.items {
		present := seen[t]
		item.win.observe(present)
		if present {
			item.LastDetected = ts
		}

		switch {
		case !item.win.full():
			item.Status = StatusPartial
		case item.win.ratio() >= s.config.ConfirmationRatio:
			item.Status = StatusCompliant
		default:
			item.Status = StatusNonCompliant
		}
	}

	s.overall = s.deriveOverall()

	tr := Transition{
		Old:     old,
		New:     s.overall,
		Missing: s.Missing(),
	}
	return tr, s.overall != old
}

// deriveOverall computes the track status from the current item statuses.
func (s *State) deriveOverall() Status {
	compliant := 0
	for _, item := range s.items {
		switch item.Status {
		case StatusNonCompliant:
			return StatusNonCompliant
		case StatusCompliant:
			compliant++
		}
	}
	if compliant == len(s.items) {
		return StatusCompliant
	}
	return StatusPartial
}

// Overall returns the current debounced track status.
func (s *State) Overall() Status {
	return s.overall
}

// Missing returns the required item types currently confirmed non-compliant,
// in the configured required order.
func (s *State) Missing() []detector.PPEType {
	var missing []detector.PPEType
	for _, t := range s.config.Required {
		if item, ok := s.items[t]; ok && item.Status == StatusNonCompliant {
			missing = append(missing, t)
		}
	}
	return missing
}

// Items returns the per-item states in the configured required order.
func (s *State) Items() []*ItemState {
	out := make([]*ItemState, 0, len(s.config.Required))
	for _, t := range s.config.Required {
		if item, ok := s.items[t]; ok {
			out = append(out, item)
		}
	}
	return out
}
