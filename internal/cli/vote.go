package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/sovereign/internal/consensus"
	"github.com/roach88/sovereign/internal/record"
)

// VoteOptions holds flags for the vote command.
type VoteOptions struct {
	*RootOptions
	AgentID    string
	AgentType  string
	Category   string
	Confidence float64
	Evidence   string
	Check      bool
}

// VoteResult is the output of the vote command.
type VoteResult struct {
	EventHash string            `json:"event_hash"`
	Consensus *consensus.Result `json:"consensus,omitempty"`
}

// NewVoteCommand creates the vote command.
func NewVoteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VoteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "vote",
		Short: "Submit a consensus vote",
		Long: `Submit one agent's vote that the event described by --evidence happened.

The event is identified by the SHA-256 of its canonical JSON, so evidence
with the same content and different key order counts as the same event.

Example:
  sovereign vote --agent whale_1 --type whale --category whale_move \
    --confidence 0.9 --evidence '{"tx":"0xabc","amount":1500}' --check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVote(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.AgentID, "agent", "", "voting agent id (required)")
	cmd.Flags().StringVar(&opts.AgentType, "type", "", "voting agent type")
	cmd.Flags().StringVar(&opts.Category, "category", "", "vote category")
	cmd.Flags().Float64Var(&opts.Confidence, "confidence", 0, "confidence score")
	cmd.Flags().StringVar(&opts.Evidence, "evidence", "", "event evidence as a JSON object (required)")
	cmd.Flags().BoolVar(&opts.Check, "check", false, "check consensus after voting")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("evidence")

	return cmd
}

func runVote(opts *VoteOptions, cmd *cobra.Command) error {
	evidence, err := record.ParsePayload([]byte(opts.Evidence))
	if err != nil {
		return newFormatter(cmd, opts.RootOptions).Fail(ExitCommandError, CodeInput, "evidence is not a JSON object", err)
	}

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	eng, err := s.consensus()
	if err != nil {
		return s.fmt.Fail(ExitCommandError, CodeConfig, "failed to build consensus engine", err)
	}

	ctx := commandContext(cmd)
	hash, err := eng.SubmitVote(ctx, opts.AgentID, opts.AgentType, evidence, opts.Confidence, opts.Category)
	if err != nil {
		return s.fmt.Fail(ExitFailure, CodeLedger, "failed to submit vote", err)
	}
	out := VoteResult{EventHash: hash}
	if opts.Check {
		res, err := eng.CheckConsensus(ctx, hash)
		if err != nil {
			return s.fmt.Fail(ExitFailure, CodeLedger, "failed to check consensus", err)
		}
		out.Consensus = &res
	}

	return s.fmt.Emit(out, func(w io.Writer) error {
		fmt.Fprintf(w, "Vote recorded for event %s\n", hash)
		if out.Consensus != nil {
			writeConsensus(w, *out.Consensus)
		}
		return nil
	})
}

// NewConsensusCommand creates the consensus command group.
func NewConsensusCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consensus",
		Short: "Inspect and advance consensus",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check <event-hash>",
		Short: "Check whether an event has reached consensus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, rootOpts, func(s *session, eng *consensus.Engine) error {
				res, err := eng.CheckConsensus(commandContext(cmd), args[0])
				if err != nil {
					return s.fmt.Fail(ExitFailure, CodeLedger, "failed to check consensus", err)
				}
				return s.fmt.Emit(res, func(w io.Writer) error {
					writeConsensus(w, res)
					return nil
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pending",
		Short: "List events with pending votes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, rootOpts, func(s *session, eng *consensus.Engine) error {
				hashes, err := eng.ListPendingEvents(commandContext(cmd))
				if err != nil {
					return s.fmt.Fail(ExitFailure, CodeLedger, "failed to list pending events", err)
				}
				if hashes == nil {
					hashes = []string{}
				}
				return s.fmt.Emit(hashes, func(w io.Writer) error {
					if len(hashes) == 0 {
						fmt.Fprintln(w, "No pending events.")
					}
					for _, h := range hashes {
						fmt.Fprintln(w, h)
					}
					return nil
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Check every pending event once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, rootOpts, func(s *session, eng *consensus.Engine) error {
				results, err := eng.Sweep(commandContext(cmd))
				if err != nil {
					return s.fmt.Fail(ExitFailure, CodeLedger, "sweep failed", err)
				}
				if results == nil {
					results = []consensus.Result{}
				}
				return s.fmt.Emit(results, func(w io.Writer) error {
					if len(results) == 0 {
						fmt.Fprintln(w, "No pending events.")
					}
					for _, r := range results {
						writeConsensus(w, r)
					}
					return nil
				})
			})
		},
	})

	return cmd
}

func withEngine(cmd *cobra.Command, opts *RootOptions, fn func(*session, *consensus.Engine) error) error {
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	eng, err := s.consensus()
	if err != nil {
		return s.fmt.Fail(ExitCommandError, CodeConfig, "failed to build consensus engine", err)
	}
	return fn(s, eng)
}

func writeConsensus(w io.Writer, r consensus.Result) {
	fmt.Fprintf(w, "%s %s: %s (%d/%d votes, mean %.2f)\n",
		r.EventHash, r.Outcome, r.Detail, r.Votes, r.Quorum, r.MeanConfidence)
}
