package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cosim",
	Short: "Co-simulation scheduler",
	Long: `cosim composes heterogeneous external simulator processes into one
deterministic run: it connects to each one over the scenario protocol,
wires the dataflow graph described by a scenario file, and drives every
simulator's step() in causal order until the run's time horizon.

Commands:
  run       Connect to every simulator and drive the scenario to completion
  validate  Seal a scenario file and report errors/warnings without running it

Examples:
  cosim run --scenario scenario.yaml --output report.json
  cosim validate --scenario scenario.yaml`,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
