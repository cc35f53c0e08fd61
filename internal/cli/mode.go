package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sovereign/internal/modes"
	"github.com/roach88/sovereign/internal/record"
)

// ModeView is the output of "mode get".
type ModeView struct {
	Mode    record.Mode   `json:"mode"`
	Profile modes.Profile `json:"profile"`
}

// NewModeCommand creates the mode command group.
func NewModeCommand(rootOpts *RootOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Read or switch the swarm's operating mode",
		Long: `The operating mode is stored in the ledger next to the kill signal:
money, discovery (the default) or survivor.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the current mode",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.Close()

			mode, err := modes.New(s.ledger, modes.WithLogger(s.logger)).Current(commandContext(cmd))
			if err != nil {
				return s.fmt.Fail(ExitFailure, CodeLedger, "failed to read mode", err)
			}
			view := ModeView{Mode: mode, Profile: modes.ProfileOf(mode)}
			return s.fmt.Emit(view, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s: %s\n", view.Mode, view.Profile.Summary)
				return err
			})
		},
	})

	set := &cobra.Command{
		Use:   "set <mode>",
		Short: "Switch the swarm to a mode",
		Example: `  sovereign mode set survivor --reason "429 errors detected"
  sovereign mode set money --reason "high volatility"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd, rootOpts)
			if err != nil {
				return err
			}
			defer s.Close()

			tr, err := modes.New(s.ledger, modes.WithLogger(s.logger)).Set(commandContext(cmd), args[0], reason)
			if errors.Is(err, modes.ErrUnknownMode) {
				return s.fmt.Fail(ExitCommandError, CodeInput, "unknown mode", err)
			}
			if err != nil {
				return s.fmt.Fail(ExitFailure, CodeLedger, "failed to switch mode", err)
			}
			return s.fmt.Emit(tr, func(w io.Writer) error {
				fmt.Fprintf(w, "Mode: %s -> %s\n", tr.From, tr.To)
				if tr.Reason != "" {
					fmt.Fprintf(w, "Reason: %s\n", tr.Reason)
				}
				_, err := fmt.Fprintf(w, "Actions: %s\n", strings.Join(tr.Profile.Actions, "; "))
				return err
			})
		},
	}
	set.Flags().StringVar(&reason, "reason", "", "reason recorded with the switch")
	cmd.AddCommand(set)

	return cmd
}
