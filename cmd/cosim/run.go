package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/myorg/cosim/internal/config"
	"github.com/myorg/cosim/internal/metrics"
	"github.com/myorg/cosim/internal/report"
	"github.com/myorg/cosim/internal/runner"
	"github.com/myorg/cosim/internal/tick"
)

type runFlags struct {
	Scenario string
	Output   string
	LogLevel string
	Quiet    bool
	OTel     bool
}

var runCfg runFlags

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to every simulator and drive the scenario to completion",
	RunE:  runScenario,
}

func init() {
	runCmd.Flags().StringVar(&runCfg.Scenario, "scenario", "", "scenario YAML file (required)")
	runCmd.Flags().StringVar(&runCfg.Output, "output", "", "report output file (JSON); defaults to stdout")
	runCmd.Flags().StringVar(&runCfg.LogLevel, "log", "info", "log level: trace, debug, info, warn, error")
	runCmd.Flags().BoolVar(&runCfg.Quiet, "quiet", false, "suppress the console summary when --output is set")
	runCmd.Flags().BoolVar(&runCfg.OTel, "otel", false, "instrument the run with an OpenTelemetry metrics provider")
	runCmd.MarkFlagRequired("scenario")
}

func runScenario(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(runCfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid --log level %q: %w", runCfg.LogLevel, err)
	}
	logrus.SetLevel(level)
	log := logrus.WithField("component", "cmd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warnf("received signal %v, cancelling run", sig)
		cancel()
	}()

	cfg, err := config.LoadConfig(runCfg.Scenario)
	if err != nil {
		return fmt.Errorf("loading scenario: %w", err)
	}

	conn, err := bootstrap(ctx, cfg)
	if err != nil {
		closeAll(conn.proxies)
		return fmt.Errorf("bootstrap: %w", err)
	}

	var provider metrics.Provider
	if runCfg.OTel {
		provider = metrics.NewOTelProvider(metrics.OTelProviderOptions{ServiceName: "cosim"})
	}

	r := runner.New(conn.graph, conn.proxies, runner.Options{
		Until:             toTick(cfg.Run.Until),
		RTFactor:          cfg.Run.RTFactor,
		RTStrict:          cfg.Run.RTStrict,
		MaxLoopIterations: cfg.Run.MaxLoopIterations,
		LazyStepping:      cfg.Run.LazyStepping,
		TimeResolution:    cfg.Run.TimeResolution,
		MetricsProvider:   provider,
	})

	sealWarnings, err := r.Seal()
	if err != nil {
		closeAll(conn.proxies)
		return fmt.Errorf("sealing scenario: %w", err)
	}
	for _, w := range sealWarnings {
		log.Warnf("seal: %s", w.Reason)
	}

	log.Infof("running scenario %s until t=%d", runCfg.Scenario, cfg.Run.Until)
	startTime := time.Now()
	runReport, err := r.Run(ctx)
	endTime := time.Now()
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}

	stepCounts := make(map[string]int, len(runReport.StepCounts))
	for id, n := range runReport.StepCounts {
		stepCounts[string(id)] = n
	}
	sealWarningStrings := make([]string, len(runReport.Warnings))
	for i, w := range runReport.Warnings {
		sealWarningStrings[i] = w.Reason
	}

	rpt := report.Generate(report.GenerateConfig{
		RunInfo: report.RunInfo{
			StartTime:         startTime,
			EndTime:           endTime,
			Duration:          runReport.Duration,
			Until:             int64(runReport.Until),
			MaxLoopIterations: cfg.Run.MaxLoopIterations,
			RTFactor:          cfg.Run.RTFactor,
			TimeResolution:    cfg.Run.TimeResolution,
		},
		Snapshot:        runReport.Metrics,
		StepCounts:      stepCounts,
		SealWarnings:    sealWarningStrings,
		RuntimeWarnings: runReport.RuntimeWarnings,
	})

	return emitReport(rpt)
}

func emitReport(rpt *report.Report) error {
	if runCfg.Output != "" {
		if err := rpt.WriteToFile(runCfg.Output); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
		if !runCfg.Quiet {
			formatter := report.NewConsoleFormatter().WithReportPath(runCfg.Output)
			formatter.PrintSummary(rpt)
		}
		return nil
	}

	data, err := rpt.ToJSON()
	if err != nil {
		return fmt.Errorf("serializing report: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func toTick(until int64) tick.Tick {
	return tick.Tick(until)
}
