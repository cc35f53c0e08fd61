package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/sovereign/internal/inquisitor"
	"github.com/roach88/sovereign/internal/killswitch"
	"github.com/roach88/sovereign/internal/supervisor"
	"github.com/roach88/sovereign/internal/worker"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// PlansFile, when set, starts the inquisitor as a persistent worker
	// with the plans it contains queued.
	PlansFile      string
	WorkerInterval time.Duration
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the swarm",
		Long: `Run diagnostics, then the event monitor, the kill-switch watcher and the
consensus sweeper until interrupted or halted.

Startup fails (exit code 2) when the config is invalid or the ledger cannot
be opened. A kill switch halt exits with code 1.

Example:
  sovereign run --db ./sovereign.db
  sovereign run --config sovereign.yaml --plans plans.yaml --verbose`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwarm(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.PlansFile, "plans", "", "YAML file of plans for the inquisitor worker")
	cmd.Flags().DurationVar(&opts.WorkerInterval, "worker-interval", worker.DefaultInterval, "inquisitor loop interval")

	return cmd
}

func runSwarm(opts *RunOptions, cmd *cobra.Command) error {
	var plans []inquisitor.Plan
	if opts.PlansFile != "" {
		var err error
		plans, err = inquisitor.LoadPlans(opts.PlansFile)
		if err != nil {
			return newFormatter(cmd, opts.RootOptions).Fail(ExitCommandError, CodeInput, "failed to load plans", err)
		}
	}

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	ks := s.killSwitch()
	inc, err := s.incubator(ks)
	if err != nil {
		return s.fmt.Fail(ExitCommandError, CodeConfig, "failed to build incubator", err)
	}
	eng, err := s.consensus()
	if err != nil {
		return s.fmt.Fail(ExitCommandError, CodeConfig, "failed to build consensus engine", err)
	}
	sup, err := supervisor.New(s.ledger, s.monitor(ks, inc), ks,
		supervisor.WithLogger(s.logger),
		supervisor.WithSweeper(eng),
		supervisor.WithConfig(supervisor.Config{KillCheckInterval: s.cfg.KillSwitch.CheckInterval.Std()}),
	)
	if err != nil {
		return s.fmt.Fail(ExitCommandError, CodeInternal, "failed to build supervisor", err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	s.logger.Info("swarm starting",
		"event", "swarm_start",
		"module", "cli",
		"driver", s.cfg.Ledger.Driver,
		"plans", len(plans),
	)
	fmt.Fprintln(cmd.ErrOrStderr(), "Swarm started. Press Ctrl-C to stop.")

	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()
	g.Go(func() error {
		// The worker has nothing to answer to once the supervisor stops.
		defer cancel()
		return sup.Run(gctx)
	})
	if len(plans) > 0 {
		inq, err := inquisitor.New(s.ledger, worker.WithGuard(ks), worker.WithLogger(s.logger))
		if err != nil {
			return s.fmt.Fail(ExitCommandError, CodeInternal, "failed to build inquisitor", err)
		}
		inq.Submit(plans...)
		g.Go(func() error {
			return worker.Run(gctx, inq, worker.RunConfig{Interval: opts.WorkerInterval, Logger: s.logger})
		})
	}

	err = g.Wait()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		s.logger.Info("swarm stopped gracefully", "event", "swarm_stop", "module", "cli")
		return nil
	case errors.Is(err, killswitch.ErrHalted), errors.Is(err, worker.ErrKilled):
		return s.fmt.Fail(ExitFailure, CodeHalted, "swarm halted", err)
	default:
		return s.fmt.Fail(ExitFailure, CodeInternal, "swarm failed", err)
	}
}
