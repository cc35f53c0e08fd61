// Package monitor polls the ledger for new records and answers the ones that
// match the trigger table.
//
// Each cycle reads the half-open window [watermark, now) where now is taken
// from the clock before any I/O. On success the watermark moves to now, so
// consecutive windows neither overlap nor leave gaps and every record is
// evaluated in exactly one cycle. A failed read leaves the watermark in place
// and the same window is retried next cycle.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/sovereign/internal/clock"
	"github.com/roach88/sovereign/internal/record"
	"github.com/roach88/sovereign/internal/rules"
	"github.com/roach88/sovereign/internal/store"
)

// DefaultPollInterval is the time between cycles.
const DefaultPollInterval = 30 * time.Second

// ErrHalted is returned by Run when the kill switch stops the monitor.
var ErrHalted = errors.New("monitor halted by kill switch")

// Source is the ledger read side.
type Source interface {
	Records(ctx context.Context, q store.Query) ([]record.Record, error)
}

// Handler answers a fired trigger. It reports whether a response was
// attempted.
type Handler interface {
	HandleEvent(ctx context.Context, trigger string, data record.Payload) bool
}

// Guard is the kill switch as seen by the monitor.
type Guard interface {
	CheckActive(ctx context.Context) bool
}

// Config tunes the poll loop.
type Config struct {
	PollInterval time.Duration
	// MaxDuration stops Run after this long. Zero runs until cancelled.
	MaxDuration time.Duration
}

// Window is the half-open time range a cycle read.
type Window struct {
	Since time.Time `json:"since"`
	Until time.Time `json:"until"`
}

// Trigger is one response the monitor started.
type Trigger struct {
	Name     string `json:"name"`
	RecordID string `json:"record_id"`
	AgentID  string `json:"agent_id"`
}

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	Cycle     int       `json:"cycle"`
	Window    Window    `json:"window"`
	Evaluated int       `json:"evaluated"`
	RecordIDs []string  `json:"record_ids,omitempty"`
	Triggered []Trigger `json:"triggered,omitempty"`
	Err       error     `json:"-"`
}

// Monitor is the event monitor.
type Monitor struct {
	source   Source
	table    *rules.Table
	handler  Handler
	guard    Guard
	clock    clock.Clock
	cfg      Config
	logger   *slog.Logger
	observer func(CycleReport)

	mu        sync.Mutex
	watermark time.Time
	cycles    int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock drives the monitor from c instead of the system clock.
func WithClock(c clock.Clock) Option {
	return func(m *Monitor) { m.clock = clock.OrReal(c) }
}

// WithGuard makes Run consult the kill switch before every cycle.
func WithGuard(g Guard) Option {
	return func(m *Monitor) { m.guard = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver registers a callback invoked after every cycle.
func WithObserver(fn func(CycleReport)) Option {
	return func(m *Monitor) { m.observer = fn }
}

// WithConfig sets the poll interval and maximum duration.
func WithConfig(cfg Config) Option {
	return func(m *Monitor) { m.cfg = cfg }
}

// New creates a monitor whose initial watermark is the clock's current time:
// records written before construction are never evaluated.
func New(source Source, table *rules.Table, handler Handler, opts ...Option) *Monitor {
	m := &Monitor{
		source:  source,
		table:   table,
		handler: handler,
		clock:   clock.Real,
		cfg:     Config{PollInterval: DefaultPollInterval},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.PollInterval <= 0 {
		m.cfg.PollInterval = DefaultPollInterval
	}
	m.watermark = m.clock.Now()
	return m
}

// Watermark returns the inclusive lower bound of the next window.
func (m *Monitor) Watermark() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.watermark
}

// RunCycle performs one poll cycle.
func (m *Monitor) RunCycle(ctx context.Context) CycleReport {
	now := m.clock.Now()

	m.mu.Lock()
	m.cycles++
	report := CycleReport{
		Cycle:  m.cycles,
		Window: Window{Since: m.watermark, Until: now},
	}
	m.mu.Unlock()

	recs, err := m.source.Records(ctx, store.Query{
		Since: report.Window.Since,
		Until: report.Window.Until,
		Order: store.NewestFirst,
	})
	if err != nil {
		report.Err = err
		m.logger.Error("poll cycle failed, window will be retried",
			"event", "monitor_cycle_failed",
			"module", "monitor",
			"cycle", report.Cycle,
			"since", report.Window.Since,
			"error", err.Error(),
			"unavailable", store.IsUnavailable(err),
		)
		m.notify(report)
		return report
	}

	for _, rec := range recs {
		report.Evaluated++
		report.RecordIDs = append(report.RecordIDs, rec.ID)
		for _, rule := range m.table.Match(rec) {
			if m.handler.HandleEvent(ctx, rule.Name, rec.Payload) {
				report.Triggered = append(report.Triggered, Trigger{
					Name:     rule.Name,
					RecordID: rec.ID,
					AgentID:  rec.AgentID,
				})
			}
		}
	}

	m.mu.Lock()
	m.watermark = now
	m.mu.Unlock()

	if len(report.Triggered) > 0 {
		names := make([]string, 0, len(report.Triggered))
		for _, tr := range report.Triggered {
			names = append(names, tr.Name)
		}
		m.logger.Info("triggered responses",
			"event", "monitor_triggered",
			"module", "monitor",
			"cycle", report.Cycle,
			"triggers", names,
		)
	}
	m.logger.Debug("poll cycle complete",
		"event", "monitor_cycle",
		"module", "monitor",
		"cycle", report.Cycle,
		"evaluated", report.Evaluated,
	)
	m.notify(report)
	return report
}

func (m *Monitor) notify(r CycleReport) {
	if m.observer != nil {
		m.observer(r)
	}
}

// Run polls until ctx is cancelled, MaxDuration elapses or the kill switch
// trips. The first cycle runs immediately. A cycle in progress when ctx is
// cancelled runs to completion. Cancellation and expiry return nil; a kill
// switch halt returns ErrHalted.
func (m *Monitor) Run(ctx context.Context) error {
	start := m.clock.Now()
	ticker := m.clock.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	m.logger.Info("event monitor started",
		"event", "monitor_started",
		"module", "monitor",
		"poll_interval", m.cfg.PollInterval.String(),
		"max_duration", m.cfg.MaxDuration.String(),
	)

	for {
		if ctx.Err() != nil {
			m.logStopped("cancelled")
			return nil
		}
		if m.guard != nil && !m.guard.CheckActive(ctx) {
			m.logStopped("halted")
			return ErrHalted
		}

		m.RunCycle(context.WithoutCancel(ctx))

		if m.expired(start) {
			m.logStopped("max_duration")
			return nil
		}

		select {
		case <-ctx.Done():
			m.logStopped("cancelled")
			return nil
		case <-ticker.C():
		}

		if m.expired(start) {
			m.logStopped("max_duration")
			return nil
		}
	}
}

func (m *Monitor) expired(start time.Time) bool {
	return m.cfg.MaxDuration > 0 && m.clock.Now().Sub(start) >= m.cfg.MaxDuration
}

func (m *Monitor) logStopped(reason string) {
	m.logger.Info("event monitor stopped",
		"event", "monitor_stopped",
		"module", "monitor",
		"reason", reason,
	)
}
