package alert

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/safesight/safesight/internal/store"
)

// recordingChannel captures sent messages and optionally fails.
type recordingChannel struct {
	messages []Message
	err      error
}

func (c *recordingChannel) Send(ctx context.Context, msg Message) error {
	if c.err != nil {
		return c.err
	}
	c.messages = append(c.messages, msg)
	return nil
}

func newTestDispatcher(t *testing.T, cfg Config) (*Dispatcher, *store.Store, *recordingChannel) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	ch := &recordingChannel{}
	registry := NewChannelRegistry(filepath.Join(t.TempDir(), "channels"))
	registry.Register("test", ch)

	return NewDispatcher(cfg, s, registry, nil), s, ch
}

func seedConfig(t *testing.T, s *store.Store, threshold int, minSeverity string) *store.AlertConfig {
	t.Helper()
	cfg := &store.AlertConfig{
		ID:                 "c1",
		Name:               "dock rule",
		Channel:            "test",
		Destination:        "supervisor",
		MinSeverity:        minSeverity,
		ViolationThreshold: threshold,
		WindowMinutes:      60,
		Enabled:            true,
	}
	if err := s.AlertConfigs().Create(cfg); err != nil {
		t.Fatalf("seed config: %v", err)
	}
	return cfg
}

func seedViolation(t *testing.T, s *store.Store, id string, trackID int64, severity string) *store.Violation {
	t.Helper()
	v := &store.Violation{
		ID:        id,
		SessionID: "s1",
		TrackID:   trackID,
		ItemType:  "helmet",
		Severity:  severity,
		FrameID:   "f1",
		StartedAt: time.Now().UTC(),
	}
	if err := s.Violations().Open(v); err != nil {
		t.Fatalf("seed violation: %v", err)
	}
	return v
}

func TestDispatcher_SendsWhenThresholdMet(t *testing.T) {
	d, s, ch := newTestDispatcher(t, DefaultConfig())
	seedConfig(t, s, 1, store.SeverityMedium)
	v := seedViolation(t, s, "v1", 1, store.SeverityHigh)

	d.Evaluate(context.Background(), v)

	if len(ch.messages) != 1 {
		t.Fatalf("sent = %d messages, want 1", len(ch.messages))
	}
	msg := ch.messages[0]
	if msg.Destination != "supervisor" {
		t.Errorf("Destination = %q, want supervisor", msg.Destination)
	}
	if msg.Violation == nil || msg.Violation.ID != "v1" {
		t.Errorf("Violation detail = %+v, want v1", msg.Violation)
	}

	events, _ := s.AlertEvents().ListByConfig("c1", 10)
	if len(events) != 1 || events[0].Status != store.AlertSent {
		t.Errorf("events = %+v, want one sent event", events)
	}
}

func TestDispatcher_ThresholdNotMet(t *testing.T) {
	d, s, ch := newTestDispatcher(t, DefaultConfig())
	seedConfig(t, s, 3, store.SeverityMedium)
	v := seedViolation(t, s, "v1", 1, store.SeverityHigh)

	d.Evaluate(context.Background(), v)

	if len(ch.messages) != 0 {
		t.Errorf("sent = %d messages, want 0 below threshold", len(ch.messages))
	}
}

func TestDispatcher_SeverityFloorFiltersCount(t *testing.T) {
	d, s, ch := newTestDispatcher(t, DefaultConfig())
	seedConfig(t, s, 2, store.SeverityHigh)

	// Two low-severity violations do not satisfy a high-severity rule.
	seedViolation(t, s, "v1", 1, store.SeverityLow)
	v2 := seedViolation(t, s, "v2", 2, store.SeverityLow)
	d.Evaluate(context.Background(), v2)
	if len(ch.messages) != 0 {
		t.Fatalf("low-severity violations should not trigger a high-severity rule")
	}

	// Two high-severity ones do.
	seedViolation(t, s, "v3", 3, store.SeverityHigh)
	v4 := seedViolation(t, s, "v4", 4, store.SeverityCritical)
	d.Evaluate(context.Background(), v4)
	if len(ch.messages) != 1 {
		t.Errorf("sent = %d messages, want 1", len(ch.messages))
	}
}

func TestDispatcher_CooldownSuppressesRepeat(t *testing.T) {
	d, s, ch := newTestDispatcher(t, Config{Cooldown: time.Hour})
	seedConfig(t, s, 1, store.SeverityMedium)

	v1 := seedViolation(t, s, "v1", 1, store.SeverityHigh)
	d.Evaluate(context.Background(), v1)

	v2 := seedViolation(t, s, "v2", 2, store.SeverityHigh)
	d.Evaluate(context.Background(), v2)

	if len(ch.messages) != 1 {
		t.Errorf("sent = %d messages, want 1 (second suppressed by cooldown)", len(ch.messages))
	}
}

func TestDispatcher_FailureRecordedAndRetriesAfter(t *testing.T) {
	d, s, ch := newTestDispatcher(t, Config{Cooldown: time.Hour})
	seedConfig(t, s, 1, store.SeverityMedium)
	ch.err = errors.New("smtp down")

	v1 := seedViolation(t, s, "v1", 1, store.SeverityHigh)
	d.Evaluate(context.Background(), v1)

	events, _ := s.AlertEvents().ListByConfig("c1", 10)
	if len(events) != 1 || events[0].Status != store.AlertFailed {
		t.Fatalf("events = %+v, want one failed event", events)
	}
	if events[0].Error == "" {
		t.Error("failed event should carry the error message")
	}

	// A failed attempt does not start the cooldown.
	ch.err = nil
	v2 := seedViolation(t, s, "v2", 2, store.SeverityHigh)
	d.Evaluate(context.Background(), v2)
	if len(ch.messages) != 1 {
		t.Errorf("sent = %d messages, want 1 after the channel recovered", len(ch.messages))
	}
}

func TestDispatcher_UnknownChannelRecordsFailure(t *testing.T) {
	d, s, ch := newTestDispatcher(t, DefaultConfig())
	cfg := seedConfig(t, s, 1, store.SeverityMedium)
	cfg.Channel = "missing"
	s.AlertConfigs().Update(cfg)

	v := seedViolation(t, s, "v1", 1, store.SeverityHigh)
	d.Evaluate(context.Background(), v)

	if len(ch.messages) != 0 {
		t.Error("nothing should be sent through an unknown channel")
	}
	events, _ := s.AlertEvents().ListByConfig("c1", 10)
	if len(events) != 1 || events[0].Status != store.AlertFailed {
		t.Errorf("events = %+v, want one failed event", events)
	}
}

func TestDispatcher_DisabledConfigIgnored(t *testing.T) {
	d, s, ch := newTestDispatcher(t, DefaultConfig())
	cfg := seedConfig(t, s, 1, store.SeverityMedium)
	cfg.Enabled = false
	s.AlertConfigs().Update(cfg)

	v := seedViolation(t, s, "v1", 1, store.SeverityHigh)
	d.Evaluate(context.Background(), v)

	if len(ch.messages) != 0 {
		t.Errorf("sent = %d messages, want 0 for a disabled config", len(ch.messages))
	}
}
