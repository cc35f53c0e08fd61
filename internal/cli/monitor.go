package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sovereign/internal/monitor"
)

// MonitorOptions holds flags for the monitor command.
type MonitorOptions struct {
	*RootOptions
	Duration time.Duration
	Interval time.Duration
}

// MonitorSummary is printed when the monitor stops.
type MonitorSummary struct {
	Cycles    int                  `json:"cycles"`
	Evaluated int                  `json:"evaluated"`
	Triggered []monitor.Trigger    `json:"triggered"`
	Failures  int                  `json:"failures"`
	Halted    bool                 `json:"halted"`
	Last      *monitor.CycleReport `json:"last,omitempty"`
}

// NewMonitorCommand creates the monitor command.
func NewMonitorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MonitorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run only the event monitor",
		Long: `Poll the ledger for new findings and spawn responders for every record
that matches a trigger rule. Runs until interrupted, until --duration
elapses, or until the kill switch trips (exit code 1).

Example:
  sovereign monitor --duration 10m
  sovereign monitor --interval 5s --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 0, "poll interval (overrides config)")

	return cmd
}

func runMonitor(opts *MonitorOptions, cmd *cobra.Command) error {
	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := s.cfg.MonitorSettings()
	if opts.Duration > 0 {
		cfg.MaxDuration = opts.Duration
	}
	if opts.Interval > 0 {
		cfg.PollInterval = opts.Interval
	}

	ks := s.killSwitch()
	inc, err := s.incubator(ks)
	if err != nil {
		return s.fmt.Fail(ExitCommandError, CodeConfig, "failed to build incubator", err)
	}

	summary := MonitorSummary{Triggered: []monitor.Trigger{}}
	observe := func(r monitor.CycleReport) {
		summary.Cycles++
		summary.Evaluated += r.Evaluated
		summary.Triggered = append(summary.Triggered, r.Triggered...)
		if r.Err != nil {
			summary.Failures++
		}
		last := r
		summary.Last = &last
		s.fmt.VerboseLog("cycle %d: %d records, %d triggers", r.Cycle, r.Evaluated, len(r.Triggered))
	}
	mon := s.monitor(ks, inc, monitor.WithConfig(cfg), monitor.WithObserver(observe))

	ctx, stop := signalContext(cmd)
	defer stop()

	err = mon.Run(ctx)
	if errors.Is(err, monitor.ErrHalted) {
		summary.Halted = true
	} else if err != nil {
		return s.fmt.Fail(ExitFailure, CodeInternal, "monitor failed", err)
	}

	if outErr := s.fmt.Emit(summary, func(w io.Writer) error {
		fmt.Fprintf(w, "Monitor stopped after %d cycle(s): %d record(s) evaluated, %d trigger(s), %d failed cycle(s)\n",
			summary.Cycles, summary.Evaluated, len(summary.Triggered), summary.Failures)
		for _, t := range summary.Triggered {
			fmt.Fprintf(w, "  %s <- %s (%s)\n", t.Name, t.AgentID, t.RecordID)
		}
		return nil
	}); outErr != nil {
		return outErr
	}
	if summary.Halted {
		return NewExitError(ExitFailure, "monitor halted by kill switch")
	}
	return nil
}
