package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/myorg/cosim/internal/config"
	"github.com/myorg/cosim/internal/runner"
)

type validateFlags struct {
	Scenario string
}

var validateCfg validateFlags

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Seal a scenario file and report errors/warnings without running it",
	RunE:  validateScenario,
}

func init() {
	validateCmd.Flags().StringVar(&validateCfg.Scenario, "scenario", "", "scenario YAML file (required)")
	validateCmd.MarkFlagRequired("scenario")
}

func validateScenario(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.LoadConfig(validateCfg.Scenario)
	if err != nil {
		return fmt.Errorf("loading scenario: %w", err)
	}

	conn, err := bootstrap(ctx, cfg)
	defer closeAll(conn.proxies)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	r := runner.New(conn.graph, conn.proxies, runner.Options{
		Until:             toTick(cfg.Run.Until),
		MaxLoopIterations: cfg.Run.MaxLoopIterations,
	})

	warnings, err := r.Seal()
	if err != nil {
		return fmt.Errorf("scenario is invalid: %w", err)
	}

	if len(warnings) == 0 {
		fmt.Println("scenario is valid, no warnings")
		return nil
	}

	fmt.Printf("scenario is valid, %d warning(s):\n", len(warnings))
	for _, w := range warnings {
		fmt.Printf("  - %s\n", w.Reason)
	}
	return nil
}
