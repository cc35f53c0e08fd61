// Package supervisor checks the system can start and then runs its
// long-lived loops together: the event monitor, the kill-switch watcher and
// the consensus sweeper. The first loop to fail stops the others.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/sovereign/internal/clock"
	"github.com/roach88/sovereign/internal/consensus"
	"github.com/roach88/sovereign/internal/killswitch"
	"github.com/roach88/sovereign/internal/monitor"
)

// Status values reported by Diagnose.
const (
	StatusActive = "ACTIVE"
	StatusFailed = "FAILED"
	StatusHalted = "HALTED"
)

// DefaultKillCheckInterval is how often the kill switch and the sweeper run.
const DefaultKillCheckInterval = 60 * time.Second

// Ledger is what diagnostics need from the store.
type Ledger interface {
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// Monitor is the event monitor loop.
type Monitor interface {
	Run(ctx context.Context) error
}

// Switch is the kill switch.
type Switch interface {
	Check(ctx context.Context) killswitch.Decision
	Watch(ctx context.Context, clk clock.Clock, interval time.Duration, onHalt func(killswitch.Decision)) error
}

// Sweeper re-evaluates pending consensus events.
type Sweeper interface {
	Sweep(ctx context.Context) ([]consensus.Result, error)
}

// Diagnostics is the startup report.
type Diagnostics struct {
	Status     string              `json:"status"`
	Records    int64               `json:"records"`
	KillSwitch killswitch.Decision `json:"kill_switch"`
	Err        error               `json:"-"`
	Error      string              `json:"error,omitempty"`
}

// OK reports whether the system may start.
func (d Diagnostics) OK() bool { return d.Status == StatusActive }

// Diagnose pings the ledger, counts its records and consults the switch.
func Diagnose(ctx context.Context, ledger Ledger, sw Switch) Diagnostics {
	fail := func(err error) Diagnostics {
		return Diagnostics{Status: StatusFailed, Err: err, Error: err.Error()}
	}
	if err := ledger.Ping(ctx); err != nil {
		return fail(fmt.Errorf("ledger unreachable: %w", err))
	}
	n, err := ledger.Count(ctx)
	if err != nil {
		return fail(fmt.Errorf("count ledger: %w", err))
	}
	d := Diagnostics{Status: StatusActive, Records: n}
	if sw != nil {
		d.KillSwitch = sw.Check(ctx)
		if !d.KillSwitch.Active {
			d.Status = StatusHalted
		}
	}
	return d
}

// Config tunes the supervisor loops.
type Config struct {
	// KillCheckInterval paces both the kill-switch watcher and the sweeper.
	KillCheckInterval time.Duration
}

// Supervisor owns the run group.
type Supervisor struct {
	ledger  Ledger
	monitor Monitor
	sw      Switch
	sweeper Sweeper
	clock   clock.Clock
	cfg     Config
	logger  *slog.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithClock(c clock.Clock) Option {
	return func(s *Supervisor) { s.clock = clock.OrReal(c) }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSweeper enables the periodic consensus sweep.
func WithSweeper(sw Sweeper) Option {
	return func(s *Supervisor) { s.sweeper = sw }
}

func WithConfig(cfg Config) Option {
	return func(s *Supervisor) { s.cfg = cfg }
}

// New creates a supervisor. ledger, mon and sw are required.
func New(ledger Ledger, mon Monitor, sw Switch, opts ...Option) (*Supervisor, error) {
	if ledger == nil || mon == nil || sw == nil {
		return nil, errors.New("supervisor: ledger, monitor and kill switch are required")
	}
	s := &Supervisor{
		ledger:  ledger,
		monitor: mon,
		sw:      sw,
		clock:   clock.Real,
		cfg:     Config{KillCheckInterval: DefaultKillCheckInterval},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.KillCheckInterval <= 0 {
		s.cfg.KillCheckInterval = DefaultKillCheckInterval
	}
	return s, nil
}

// Run diagnoses the system and then runs every loop until ctx is cancelled,
// the monitor finishes or the kill switch trips. A halt returns an error
// matching killswitch.ErrHalted; a failed diagnosis returns its error.
func (s *Supervisor) Run(ctx context.Context) error {
	d := Diagnose(ctx, s.ledger, s.sw)
	switch d.Status {
	case StatusFailed:
		s.logger.Error("diagnostics failed",
			"event", "diagnostics_failed",
			"module", "supervisor",
			"error", d.Err,
		)
		return d.Err
	case StatusHalted:
		s.logger.Warn("kill switch active at startup",
			"event", "startup_halted",
			"module", "supervisor",
			"source", string(d.KillSwitch.Source),
			"reason", d.KillSwitch.Reason,
		)
		return fmt.Errorf("startup: %w", killswitch.ErrHalted)
	}
	s.logger.Info("diagnostics passed",
		"event", "diagnostics_passed",
		"module", "supervisor",
		"records", d.Records,
	)

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		// The monitor ending on its own (max duration) ends the run.
		defer stop()
		return s.monitor.Run(gctx)
	})
	g.Go(func() error {
		return s.sw.Watch(gctx, s.clock, s.cfg.KillCheckInterval, func(d killswitch.Decision) {
			s.logger.Warn("kill switch tripped",
				"event", "killswitch_tripped",
				"module", "supervisor",
				"source", string(d.Source),
				"reason", d.Reason,
			)
		})
	})
	if s.sweeper != nil {
		g.Go(func() error { return s.sweep(gctx) })
	}

	err := g.Wait()
	switch {
	case err == nil:
		s.logger.Info("supervisor stopped", "event", "supervisor_stopped", "module", "supervisor")
		return nil
	case errors.Is(err, monitor.ErrHalted):
		return fmt.Errorf("%w: %w", killswitch.ErrHalted, err)
	default:
		return err
	}
}

// sweep runs the consensus sweep on every tick. Failures are logged and
// retried next tick.
func (s *Supervisor) sweep(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.cfg.KillCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
		results, err := s.sweeper.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("consensus sweep failed",
				"event", "consensus_sweep_failed",
				"module", "supervisor",
				"error", err,
			)
		}
		for _, r := range results {
			if r.NewlyConfirmed {
				s.logger.Info("sovereign truth confirmed",
					"event", "consensus_confirmed",
					"module", "supervisor",
					"event_hash", r.EventHash,
					"mean_confidence", r.MeanConfidence,
				)
			}
		}
	}
}
