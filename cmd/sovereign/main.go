// Command sovereign runs and operates the agent swarm.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/sovereign/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
