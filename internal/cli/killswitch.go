package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/sovereign/internal/killswitch"
	"github.com/roach88/sovereign/internal/worker"
)

// NewKillSwitchCommand creates the killswitch command group.
func NewKillSwitchCommand(rootOpts *RootOptions) *cobra.Command {
	var haltReason, resumeReason string

	cmd := &cobra.Command{
		Use:     "killswitch",
		Aliases: []string{"ks"},
		Short:   "Check, trip or reset the kill switch",
		Long: `The kill switch is evaluated in order: the SOVEREIGN_OVERRIDE variable, the
override file, then the remote signal in the ledger. Any local value other
than ACTIVE halts the swarm. An unreadable remote signal fails open.

"check" exits with code 1 when the swarm is halted.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Report whether the swarm may run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.Close()

			d := s.killSwitch().Check(commandContext(cmd))
			if err := s.fmt.Emit(d, func(w io.Writer) error {
				writeDecision(w, d)
				return nil
			}); err != nil {
				return err
			}
			if !d.Active {
				return NewExitError(ExitFailure, "swarm is halted")
			}
			return nil
		},
	})

	halt := &cobra.Command{
		Use:   "halt",
		Short: "Set the remote HALT signal and broadcast SHUTDOWN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := commandContext(cmd)
			if err := s.killSwitch().Halt(ctx, haltReason); err != nil {
				return s.fmt.Fail(ExitFailure, CodeLedger, "failed to halt", err)
			}
			// Persistent workers watch for the VIP shutdown record.
			if err := worker.Shutdown(ctx, s.ledger, haltReason); err != nil {
				return s.fmt.Fail(ExitFailure, CodeLedger, "failed to broadcast shutdown", err)
			}
			d := killswitch.Decision{Active: false, Source: killswitch.SourceRemote, Reason: haltReason}
			return s.fmt.Emit(d, func(w io.Writer) error {
				writeDecision(w, d)
				return nil
			})
		},
	}
	halt.Flags().StringVar(&haltReason, "reason", "manual halt", "reason recorded with the signal")
	cmd.AddCommand(halt)

	resume := &cobra.Command{
		Use:   "resume",
		Short: "Clear the remote HALT signal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.Close()

			ks := s.killSwitch()
			ctx := commandContext(cmd)
			if err := ks.Resume(ctx, resumeReason); err != nil {
				return s.fmt.Fail(ExitFailure, CodeLedger, "failed to resume", err)
			}
			// A local override still wins; report what the swarm will see.
			d := ks.Check(ctx)
			return s.fmt.Emit(d, func(w io.Writer) error {
				writeDecision(w, d)
				return nil
			})
		},
	}
	resume.Flags().StringVar(&resumeReason, "reason", "manual resume", "reason recorded with the signal")
	cmd.AddCommand(resume)

	return cmd
}

func writeDecision(w io.Writer, d killswitch.Decision) {
	state := "ACTIVE"
	if !d.Active {
		state = "HALTED"
	}
	if d.Reason != "" {
		fmt.Fprintf(w, "%s (%s: %s)\n", state, d.Source, d.Reason)
		return
	}
	fmt.Fprintf(w, "%s (%s)\n", state, d.Source)
}
