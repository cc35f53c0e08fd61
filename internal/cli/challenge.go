package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/sovereign/internal/inquisitor"
)

// NewChallengeCommand creates the challenge command.
func NewChallengeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "challenge <plans.yaml>",
		Short: "Run plans past the inquisitor",
		Long: `Challenge every plan in a YAML file (one plan or a list) and record a
plan_validation finding for each. A REJECTED verdict is picked up by the
monitor's plan_rejected trigger.

Example:
  sovereign challenge plans.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChallenge(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runChallenge(opts *RootOptions, path string, cmd *cobra.Command) error {
	plans, err := inquisitor.LoadPlans(path)
	if err != nil {
		return newFormatter(cmd, opts).Fail(ExitCommandError, CodeInput, "failed to load plans", err)
	}

	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.Close()

	inq, err := inquisitor.New(s.ledger)
	if err != nil {
		return s.fmt.Fail(ExitCommandError, CodeInternal, "failed to build inquisitor", err)
	}

	ctx := commandContext(cmd)
	validations := make([]inquisitor.Validation, 0, len(plans))
	for _, p := range plans {
		v, err := inq.Validate(ctx, p)
		if err != nil {
			return s.fmt.Fail(ExitFailure, CodeLedger, fmt.Sprintf("failed to record validation of %q", p.Name), err)
		}
		validations = append(validations, v)
	}

	return s.fmt.Emit(validations, func(w io.Writer) error {
		for _, v := range validations {
			fmt.Fprintf(w, "%s: %s (%d high risk)\n", v.PlanName, v.Verdict, v.HighRiskCount)
			for _, c := range v.Challenges {
				fmt.Fprintf(w, "  [%s] %s: %s\n", c.Risk, c.Category, c.Challenge)
				fmt.Fprintf(w, "         -> %s\n", c.Recommendation)
			}
		}
		return nil
	})
}
