package compliance

import (
	"testing"
	"time"

	"github.com/safesight/safesight/internal/detector"
)

func helmetOnlyConfig() Config {
	return Config{
		WindowSize:        5,
		ConfirmationRatio: 0.6,
		Required:          []detector.PPEType{detector.TypeHelmet},
	}
}

func observe(s *State, present bool, n int) (Transition, bool) {
	var tr Transition
	var changed bool
	for i := 0; i < n; i++ {
		seen := map[detector.PPEType]bool{}
		if present {
			seen[detector.TypeHelmet] = true
		}
		tr, changed = s.Observe(seen, time.Now())
	}
	return tr, changed
}

func TestState_StartsInitializing(t *testing.T) {
	s := NewState(helmetOnlyConfig())
	if s.Overall() != StatusInitializing {
		t.Errorf("Overall() = %q, want %q", s.Overall(), StatusInitializing)
	}
}

func TestState_PartialUntilWindowFull(t *testing.T) {
	s := NewState(helmetOnlyConfig())

	tr, changed := observe(s, true, 1)
	if !changed {
		t.Fatal("first observation should transition out of initializing")
	}
	if tr.New != StatusPartial {
		t.Errorf("status after 1 frame = %q, want %q", tr.New, StatusPartial)
	}

	// Frames 2-4 keep the window unfilled; no further transitions.
	for i := 0; i < 3; i++ {
		if _, changed := observe(s, true, 1); changed {
			t.Errorf("frame %d produced a transition before the window filled", i+2)
		}
	}
}

func TestState_CompliantAfterWindowFull(t *testing.T) {
	s := NewState(helmetOnlyConfig())

	tr, changed := observe(s, true, 5)
	if !changed {
		t.Fatal("fifth frame should confirm compliance")
	}
	if tr.New != StatusCompliant {
		t.Errorf("status = %q, want %q", tr.New, StatusCompliant)
	}
	if len(tr.Missing) != 0 {
		t.Errorf("Missing = %v, want empty", tr.Missing)
	}
}

func TestState_SingleMissedFrameDoesNotFlap(t *testing.T) {
	s := NewState(helmetOnlyConfig())
	observe(s, true, 5)

	// One missed frame: ratio 4/5 = 0.8 >= 0.6, status holds.
	if _, changed := observe(s, false, 1); changed {
		t.Error("one missed frame should not change a confirmed status")
	}
	if s.Overall() != StatusCompliant {
		t.Errorf("Overall() = %q, want %q", s.Overall(), StatusCompliant)
	}
}

func TestState_SustainedAbsenceConfirmsNonCompliant(t *testing.T) {
	s := NewState(helmetOnlyConfig())
	observe(s, true, 5)

	// Ratio falls below 0.6 once 3 of the last 5 frames are absent.
	observe(s, false, 1)
	observe(s, false, 1)
	tr, changed := observe(s, false, 1)
	if !changed {
		t.Fatal("third consecutive absence should confirm non-compliance")
	}
	if tr.New != StatusNonCompliant {
		t.Errorf("status = %q, want %q", tr.New, StatusNonCompliant)
	}
	if len(tr.Missing) != 1 || tr.Missing[0] != detector.TypeHelmet {
		t.Errorf("Missing = %v, want [helmet]", tr.Missing)
	}
}

func TestState_RecoveryClosesOut(t *testing.T) {
	s := NewState(helmetOnlyConfig())
	observe(s, true, 5)
	observe(s, false, 3) // now nonCompliant

	// Re-donning the helmet: ratio recovers at 3 of last 5 present.
	observe(s, true, 2)
	tr, changed := observe(s, true, 1)
	if !changed {
		t.Fatal("recovery should transition back to compliant")
	}
	if tr.Old != StatusNonCompliant || tr.New != StatusCompliant {
		t.Errorf("transition = %q -> %q, want nonCompliant -> compliant", tr.Old, tr.New)
	}
}

func TestState_MultipleItems(t *testing.T) {
	s := NewState(Config{
		WindowSize:        5,
		ConfirmationRatio: 0.6,
		Required: []detector.PPEType{
			detector.TypeHelmet,
			detector.TypeVest,
			detector.TypeGloves,
		},
	})

	// Helmet always present, vest and gloves never.
	var tr Transition
	var changed bool
	for i := 0; i < 5; i++ {
		tr, changed = s.Observe(map[detector.PPEType]bool{
			detector.TypeHelmet: true,
		}, time.Now())
	}

	if !changed || tr.New != StatusNonCompliant {
		t.Fatalf("status = %q (changed=%v), want nonCompliant", tr.New, changed)
	}

	// Missing preserves the configured required order.
	want := []detector.PPEType{detector.TypeVest, detector.TypeGloves}
	if len(tr.Missing) != len(want) {
		t.Fatalf("Missing = %v, want %v", tr.Missing, want)
	}
	for i := range want {
		if tr.Missing[i] != want[i] {
			t.Errorf("Missing[%d] = %q, want %q", i, tr.Missing[i], want[i])
		}
	}
}

func TestState_LastDetectedOnlyAdvancesWhenSeen(t *testing.T) {
	s := NewState(helmetOnlyConfig())

	t0 := time.Now()
	s.Observe(map[detector.PPEType]bool{detector.TypeHelmet: true}, t0)
	s.Observe(map[detector.PPEType]bool{}, t0.Add(time.Second))

	items := s.Items()
	if len(items) != 1 {
		t.Fatalf("Items() = %d entries, want 1", len(items))
	}
	if !items[0].LastDetected.Equal(t0) {
		t.Errorf("LastDetected = %v, want %v", items[0].LastDetected, t0)
	}
}

func TestState_ItemsInRequiredOrder(t *testing.T) {
	required := []detector.PPEType{
		detector.TypeVest,
		detector.TypeHelmet,
		detector.TypeShoes,
	}
	s := NewState(Config{WindowSize: 5, ConfirmationRatio: 0.6, Required: required})

	items := s.Items()
	if len(items) != len(required) {
		t.Fatalf("Items() = %d entries, want %d", len(items), len(required))
	}
	for i, item := range items {
		if item.Type != required[i] {
			t.Errorf("Items()[%d] = %q, want %q", i, item.Type, required[i])
		}
	}
}
