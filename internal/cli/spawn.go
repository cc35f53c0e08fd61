package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sovereign/internal/incubator"
	"github.com/roach88/sovereign/internal/record"
)

// SpawnOptions holds flags for the spawn command.
type SpawnOptions struct {
	*RootOptions
	Params  []string
	Timeout time.Duration
}

// NewSpawnCommand creates the spawn command.
func NewSpawnCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SpawnOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "spawn <task-type>",
		Short: "Spawn one task in a throwaway workspace",
		Long: `Run one registered task type under a hard timeout. The task's workspace
is removed when it finishes, fails or times out.

Parameter values are parsed as JSON when possible and kept as strings
otherwise.

Example:
  sovereign spawn geologist --param resource=lithium --param location=Chile
  sovereign spawn risk_assessor --param 'trigger_data={"return_pct":-12}' --timeout 10s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSpawn(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "task parameter as key=value (repeatable)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "spawn timeout (overrides config)")

	return cmd
}

// parseParams turns key=value pairs into a payload.
func parseParams(pairs []string) (record.Payload, error) {
	params := record.Payload{}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		params[key] = v
	}
	return params, nil
}

func runSpawn(opts *SpawnOptions, taskType string, cmd *cobra.Command) error {
	params, err := parseParams(opts.Params)
	if err != nil {
		return newFormatter(cmd, opts.RootOptions).Fail(ExitCommandError, CodeInput, "invalid parameter", err)
	}

	s, err := openSession(cmd, opts.RootOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	inc, err := s.incubator(s.killSwitch())
	if err != nil {
		return s.fmt.Fail(ExitCommandError, CodeConfig, "failed to build incubator", err)
	}

	res, err := inc.Spawn(commandContext(cmd), taskType, params, opts.Timeout)
	switch {
	case err == nil:
	case incubator.IsTemplateNotFound(err):
		return s.fmt.Fail(ExitCommandError, CodeInput, "unknown task type", err)
	case errors.Is(err, incubator.ErrHalted):
		return s.fmt.Fail(ExitFailure, CodeHalted, "spawn refused", err)
	default:
		return s.fmt.Fail(ExitFailure, CodeInternal, "task failed", err)
	}

	return s.fmt.Emit(res, func(w io.Writer) error {
		fmt.Fprintf(w, "%s finished in %s\n", res.AgentID, res.Duration.Round(time.Millisecond))
		data, err := record.MarshalCanonical(res.Output)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\n", data)
		return nil
	})
}
