package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/sovereign/internal/clock"
	"github.com/roach88/sovereign/internal/record"
)

// DefaultInterval paces Run when RunConfig.Interval is not set.
const DefaultInterval = time.Minute

// RunConfig tunes Run.
type RunConfig struct {
	Interval time.Duration
	Clock    clock.Clock
	Logger   *slog.Logger
	// OnResult is called after every Execute, successful or not.
	OnResult func(result record.Payload, err error)
}

// Run drives a persistent worker: it checks the kill signal, executes one
// unit of work, then waits Interval. Execute failures are logged and the
// loop continues. Run returns ErrKilled when the kill signal is set and nil
// when ctx is cancelled.
func Run(ctx context.Context, w Worker, cfg RunConfig) error {
	clk := clock.OrReal(cfg.Clock)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := w.Identity()
	logger = logger.With("module", "worker", "agent_id", id.AgentID)

	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	ticker := clk.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if w.CheckKillSignal(ctx) {
			logger.Warn("kill signal received", "event", "worker_killed")
			return ErrKilled
		}

		result, err := w.Execute(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Error("worker execution failed", "event", "worker_execute_failed", "error", err)
		}
		if cfg.OnResult != nil {
			cfg.OnResult(result, err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
	}
}
