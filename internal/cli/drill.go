package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sovereign/internal/harness"
)

// DrillOptions holds flags for the drill command.
type DrillOptions struct {
	*RootOptions
	Filter string // scenario filter (glob pattern)
	Trace  bool   // print the trace of every drill
}

// DrillResult holds the result of a single drill.
type DrillResult struct {
	Name   string               `json:"name"`
	File   string               `json:"file"`
	Pass   bool                 `json:"pass"`
	Errors []string             `json:"errors,omitempty"`
	Trace  []harness.TraceEvent `json:"trace,omitempty"`
}

// DrillSummary holds the overall drill result.
type DrillSummary struct {
	Drills []DrillResult `json:"drills"`
	Passed int           `json:"passed"`
	Failed int           `json:"failed"`
	Total  int           `json:"total"`
}

// NewDrillCommand creates the drill command.
func NewDrillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DrillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "drill <scenario.yaml|dir>...",
		Short: "Run trigger drills",
		Long: `Run drill scenarios against a scratch in-memory ledger. Each drill writes
votes, findings and plans, runs one monitor cycle with the built-in
responders, and checks its assertions. The real ledger is never touched.

Exit codes:
  0 - All drills passed
  1 - One or more drills failed
  2 - Command error (invalid paths, etc.)

Examples:
  sovereign drill ./drills
  sovereign drill ./drills --filter "plan_*"
  sovereign drill ./drills/github_scan.yaml --trace --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrills(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter drills by glob pattern on the file name")
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "include each drill's trace in the output")

	return cmd
}

func runDrills(opts *DrillOptions, paths []string, cmd *cobra.Command) error {
	var files []string
	for _, p := range paths {
		found, err := findScenarioFiles(p, opts.Filter)
		if err != nil {
			return NewExitError(ExitCommandError, err.Error())
		}
		files = append(files, found...)
	}

	summary := DrillSummary{Drills: make([]DrillResult, 0, len(files)), Total: len(files)}
	for _, f := range files {
		res := runDrill(cmd, f)
		if !opts.Trace {
			res.Trace = nil
		}
		summary.Drills = append(summary.Drills, res)
		if res.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	if opts.Format == "json" {
		return outputDrillJSON(cmd, summary)
	}
	return outputDrillText(cmd, summary, opts.Trace)
}

// findScenarioFiles returns path itself when it is a file, or every YAML
// file under it when it is a directory.
func findScenarioFiles(path string, filter string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("drill path not found: %s", path)
	}
	if !info.IsDir() {
		ok, err := matchFilter(path, filter)
		if err != nil || !ok {
			return nil, err
		}
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		ok, err := matchFilter(p, filter)
		if err != nil {
			return err
		}
		if ok {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

func matchFilter(path, filter string) (bool, error) {
	if filter == "" {
		return true, nil
	}
	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	matched, err := filepath.Match(filter, name)
	if err != nil {
		return false, fmt.Errorf("invalid filter pattern: %w", err)
	}
	return matched, nil
}

// runDrill loads and runs one drill file.
func runDrill(cmd *cobra.Command, file string) DrillResult {
	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return DrillResult{
			Name:   filepath.Base(file),
			File:   file,
			Errors: []string{fmt.Sprintf("failed to load drill: %v", err)},
		}
	}

	result, err := harness.Run(commandContext(cmd), scenario)
	if err != nil {
		return DrillResult{
			Name:   scenario.Name,
			File:   file,
			Errors: []string{fmt.Sprintf("execution failed: %v", err)},
		}
	}
	return DrillResult{
		Name:   scenario.Name,
		File:   file,
		Pass:   result.Pass,
		Errors: result.Errors,
		Trace:  result.Trace,
	}
}

func outputDrillJSON(cmd *cobra.Command, summary DrillSummary) error {
	status := "ok"
	if summary.Failed > 0 {
		status = "error"
	}

	response := CLIResponse{
		Status: status,
		Data:   summary,
	}
	if summary.Failed > 0 {
		response.Error = &CLIError{
			Code:    CodeDrill,
			Message: fmt.Sprintf("%d drill(s) failed", summary.Failed),
		}
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(response); err != nil {
		return err
	}

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d drill(s) failed", summary.Failed))
	}
	return nil
}

func outputDrillText(cmd *cobra.Command, summary DrillSummary, withTrace bool) error {
	w := cmd.OutOrStdout()

	if summary.Total == 0 {
		fmt.Fprintln(w, "No drills found.")
		return nil
	}

	for _, d := range summary.Drills {
		mark := "✓"
		if !d.Pass {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s\n", mark, d.Name)
		for _, e := range d.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		if withTrace {
			for _, ev := range d.Trace {
				fmt.Fprintf(w, "    [%d] %s", ev.Seq, ev.Key())
				if ev.AgentID != "" {
					fmt.Fprintf(w, " (%s)", ev.AgentID)
				}
				fmt.Fprintln(w)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Drill Summary: %d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)

	if summary.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d drill(s) failed", summary.Failed))
	}

	fmt.Fprintln(w, "✓ All drills passed")
	return nil
}
