package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sovereign/internal/record"
	"github.com/roach88/sovereign/internal/store"
)

// LedgerTailOptions holds flags for ledger tail.
type LedgerTailOptions struct {
	*RootOptions
	Limit       int
	MessageType string
	AgentFamily string
	Status      string
}

// LedgerWriteOptions holds flags for ledger write.
type LedgerWriteOptions struct {
	*RootOptions
	AgentID     string
	AgentType   string
	MessageType string
	Payload     string
}

// NewLedgerCommand creates the ledger command group.
func NewLedgerCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Read and write ledger records",
	}
	cmd.AddCommand(newLedgerTailCommand(rootOpts))
	cmd.AddCommand(newLedgerWriteCommand(rootOpts))
	return cmd
}

func newLedgerTailCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerTailOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent records, newest first",
		Long: `Show the most recent ledger records, newest first.

Example:
  sovereign ledger tail --limit 5
  sovereign ledger tail --type github_scan --agent ghost_commit --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerTail(opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "number of records to show")
	cmd.Flags().StringVarP(&opts.MessageType, "type", "t", "", "only this message type")
	cmd.Flags().StringVar(&opts.AgentFamily, "agent", "", "only agents whose id contains this")
	cmd.Flags().StringVar(&opts.Status, "status", "", "only records with this status")

	return cmd
}

func runLedgerTail(opts *LedgerTailOptions, cmd *cobra.Command) error {
	q := store.Query{
		MessageType: opts.MessageType,
		AgentFamily: opts.AgentFamily,
		Limit:       opts.Limit,
	}
	if opts.Status != "" {
		st, err := record.ParseStatus(opts.Status)
		if err != nil {
			return newFormatter(cmd, opts.RootOptions).Fail(ExitCommandError, CodeInput, "invalid status", err)
		}
		q.Status = st
	}

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	recs, err := s.ledger.Records(commandContext(cmd), q)
	if err != nil {
		return s.fmt.Fail(ExitFailure, CodeLedger, "failed to read ledger", err)
	}

	return s.fmt.Emit(recs, func(w io.Writer) error {
		if len(recs) == 0 {
			fmt.Fprintln(w, "No records.")
			return nil
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CREATED\tAGENT\tTYPE\tSTATUS\tPAYLOAD")
		for _, r := range recs {
			payload, err := record.MarshalCanonical(r.Payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				r.CreatedAt.UTC().Format(time.RFC3339), r.AgentID, r.MessageType, r.Status, payload)
		}
		return tw.Flush()
	})
}

func newLedgerWriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LedgerWriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Append a finding",
		Long: `Append one finding to the ledger, as a worker would.

Example:
  sovereign ledger write --agent ghost_commit_001 --agent-type scanner \
    --type github_scan --payload '{"new_repos":5}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLedgerWrite(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.AgentID, "agent", "", "agent id (required)")
	cmd.Flags().StringVar(&opts.AgentType, "agent-type", "", "agent type")
	cmd.Flags().StringVarP(&opts.MessageType, "type", "t", "", "message type (required)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "{}", "payload as a JSON object")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

func runLedgerWrite(opts *LedgerWriteOptions, cmd *cobra.Command) error {
	payload, err := record.ParsePayload([]byte(opts.Payload))
	if err != nil {
		return newFormatter(cmd, opts.RootOptions).Fail(ExitCommandError, CodeInput, "payload is not a JSON object", err)
	}

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	rec, err := s.ledger.Append(commandContext(cmd), record.Record{
		AgentID:     opts.AgentID,
		AgentType:   opts.AgentType,
		MessageType: opts.MessageType,
		Payload:     payload,
	})
	if err != nil {
		return s.fmt.Fail(ExitFailure, CodeLedger, "failed to append record", err)
	}
	return s.fmt.Emit(rec, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Appended %s (%s from %s)\n", rec.ID, rec.MessageType, rec.AgentID)
		return err
	})
}
