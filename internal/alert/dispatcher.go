package alert

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/safesight/safesight/internal/metrics"
	"github.com/safesight/safesight/internal/store"
)

// Config holds dispatcher configuration.
type Config struct {
	// Cooldown is the minimum interval between two alerts for one config.
	Cooldown time.Duration
	// ChannelTimeout bounds one delivery attempt.
	ChannelTimeout time.Duration
}

// DefaultConfig returns a Config with the standard values.
func DefaultConfig() Config {
	return Config{
		Cooldown:       5 * time.Minute,
		ChannelTimeout: 5 * time.Second,
	}
}

// Dispatcher evaluates alert configs after each violation open and delivers
// notifications through the matching channel. Delivery is best-effort: a
// failed send is recorded as an AlertEvent but never surfaces to the
// detection pipeline.
type Dispatcher struct {
	config     Config
	configs    *store.AlertConfigRepository
	events     *store.AlertEventRepository
	violations *store.ViolationRepository
	registry   *ChannelRegistry
	metrics    *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. metrics may be nil.
func NewDispatcher(config Config, st *store.Store, registry *ChannelRegistry, m *metrics.Metrics) *Dispatcher {
	if config.Cooldown <= 0 {
		config.Cooldown = DefaultConfig().Cooldown
	}
	if config.ChannelTimeout <= 0 {
		config.ChannelTimeout = DefaultConfig().ChannelTimeout
	}
	return &Dispatcher{
		config:     config,
		configs:    st.AlertConfigs(),
		events:     st.AlertEvents(),
		violations: st.Violations(),
		registry:   registry,
		metrics:    m,
	}
}

// Evaluate checks every enabled config against the recent violation history
// and dispatches those whose threshold is satisfied and whose cooldown has
// elapsed. Errors are logged, never returned to the pipeline.
func (d *Dispatcher) Evaluate(ctx context.Context, v *store.Violation) {
	configs, err := d.configs.ListEnabled()
	if err != nil {
		log.Printf("alert: failed to load configs: %v", err)
		return
	}

	now := time.Now()
	for _, cfg := range configs {
		if !d.thresholdMet(cfg, now) {
			continue
		}

		lastSent, err := d.events.LastSent(cfg.ID)
		if err != nil {
			log.Printf("alert: cooldown lookup for %s failed: %v", cfg.Name, err)
			continue
		}
		if !lastSent.IsZero() && now.Sub(lastSent) < d.config.Cooldown {
			continue
		}

		d.dispatch(ctx, cfg, v, now)
	}
}

// thresholdMet reports whether the config's "N violations at or above
// min severity within window W" rule is currently satisfied.
func (d *Dispatcher) thresholdMet(cfg *store.AlertConfig, now time.Time) bool {
	window := time.Duration(cfg.WindowMinutes) * time.Minute
	count, err := d.violations.CountSince(now.Add(-window), store.SeveritiesAtLeast(cfg.MinSeverity))
	if err != nil {
		log.Printf("alert: violation count for %s failed: %v", cfg.Name, err)
		return false
	}
	return count >= cfg.ViolationThreshold
}

func (d *Dispatcher) dispatch(ctx context.Context, cfg *store.AlertConfig, v *store.Violation, now time.Time) {
	msg := Message{
		ConfigName:  cfg.Name,
		Destination: cfg.Destination,
		Subject:     fmt.Sprintf("PPE violation: missing %s", v.ItemType),
		Body: fmt.Sprintf("Violation threshold reached for rule %q: %d+ violation(s) at severity >= %s within %d minutes.",
			cfg.Name, cfg.ViolationThreshold, cfg.MinSeverity, cfg.WindowMinutes),
		Violation: detailFor(v),
	}

	event := &store.AlertEvent{
		ID:           uuid.NewString(),
		ConfigID:     cfg.ID,
		ViolationID:  v.ID,
		DispatchedAt: now,
	}

	ch, err := d.registry.Get(cfg.Channel)
	if err == nil {
		sendCtx, cancel := context.WithTimeout(ctx, d.config.ChannelTimeout)
		err = ch.Send(sendCtx, msg)
		cancel()
	}

	if err != nil {
		event.Status = store.AlertFailed
		event.Error = err.Error()
		if d.metrics != nil {
			d.metrics.AlertsFailed.Inc()
		}
		log.Printf("alert: delivery for %s failed: %v", cfg.Name, err)
	} else {
		event.Status = store.AlertSent
		if d.metrics != nil {
			d.metrics.AlertsSent.Inc()
		}
		log.Printf("alert: dispatched %s via %s", cfg.Name, cfg.Channel)
	}

	if err := d.events.Create(event); err != nil {
		log.Printf("alert: failed to record event for %s: %v", cfg.Name, err)
	}
}
