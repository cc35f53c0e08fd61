package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/sovereign/internal/rules"
)

// RuleView is the printable form of a trigger rule.
type RuleView struct {
	Name        string   `json:"name"`
	MessageType string   `json:"message_type"`
	AgentFamily string   `json:"agent_family,omitempty"`
	Condition   string   `json:"condition"`
	SpawnSet    []string `json:"spawn_set"`
	Reason      string   `json:"reason"`
}

// NewRulesCommand creates the rules command.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "Print the trigger table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeRules(newFormatter(cmd, rootOpts), rules.DefaultTable())
		},
	}
}

func ruleViews(t *rules.Table) []RuleView {
	views := make([]RuleView, 0, t.Len())
	for _, r := range t.Rules() {
		views = append(views, RuleView{
			Name:        r.Name,
			MessageType: r.MessageType,
			AgentFamily: r.AgentFamily,
			Condition:   r.Condition.String(),
			SpawnSet:    r.SpawnSet,
			Reason:      r.Reason,
		})
	}
	return views
}

func writeRules(f *OutputFormatter, t *rules.Table) error {
	views := ruleViews(t)
	return f.Emit(views, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TRIGGER\tMESSAGE TYPE\tAGENT\tCONDITION\tSPAWNS\tREASON")
		for _, v := range views {
			family := v.AgentFamily
			if family == "" {
				family = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				v.Name, v.MessageType, family, v.Condition, strings.Join(v.SpawnSet, ","), v.Reason)
		}
		return tw.Flush()
	})
}
