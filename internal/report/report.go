// Package report builds the post-run summary of a completed scheduling run:
// wall-clock timing, per-simulator step counts and step-duration
// percentiles, and the warnings accumulated at seal time and during the
// run itself.
package report

import (
	"time"

	"github.com/myorg/cosim/internal/metrics"
)

// RunInfo carries the run parameters of §4.6/§4.7 for display.
type RunInfo struct {
	StartTime         time.Time     `json:"start_time"`
	EndTime           time.Time     `json:"end_time"`
	Duration          time.Duration `json:"duration"`
	Until             int64         `json:"until"`
	MaxLoopIterations int           `json:"max_loop_iterations"`
	RTFactor          float64       `json:"rt_factor"`
	TimeResolution    float64       `json:"time_resolution"`
}

// Summary aggregates across every simulator in the run.
type Summary struct {
	SimulatorCount      int     `json:"simulator_count"`
	TotalSteps          int64   `json:"total_steps"`
	StepsPerSecond      float64 `json:"steps_per_second"`
	TotalErrors         int64   `json:"total_errors"`
	ErrorRate           float64 `json:"error_rate_pct"`
	SealWarningCount    int     `json:"seal_warning_count"`
	RuntimeWarningCount int     `json:"runtime_warning_count"`
}

// SimulatorReport holds one simulator's step count and step-duration
// distribution for the run.
type SimulatorReport struct {
	Id         string                `json:"id"`
	Steps      int                   `json:"steps"`
	Duration   metrics.DurationStats `json:"step_duration"`
	Errors     int64                 `json:"errors,omitempty"`
	ErrorTypes map[string]int64      `json:"error_types,omitempty"`
}

// Report is the complete summary of one run.
type Report struct {
	Version         string                      `json:"version"`
	RunInfo         RunInfo                     `json:"run_info"`
	Summary         Summary                     `json:"summary"`
	Simulators      map[string]*SimulatorReport `json:"simulators"`
	SealWarnings    []string                    `json:"seal_warnings,omitempty"`
	RuntimeWarnings []string                    `json:"runtime_warnings,omitempty"`
}

// GenerateConfig carries everything needed to build a Report.
type GenerateConfig struct {
	RunInfo         RunInfo
	Snapshot        *metrics.Snapshot
	StepCounts      map[string]int
	SealWarnings    []string
	RuntimeWarnings []string
}

// Generate builds a complete Report from one run's collected state.
func Generate(cfg GenerateConfig) *Report {
	r := &Report{
		Version:         "1.0",
		RunInfo:         cfg.RunInfo,
		Simulators:      make(map[string]*SimulatorReport, len(cfg.StepCounts)),
		SealWarnings:    cfg.SealWarnings,
		RuntimeWarnings: cfg.RuntimeWarnings,
	}

	for id, steps := range cfg.StepCounts {
		sr := &SimulatorReport{Id: id, Steps: steps}
		if cfg.Snapshot != nil {
			if stats, ok := cfg.Snapshot.Simulators[id]; ok {
				sr.Duration = stats.Duration
				sr.Errors = stats.Errors
				sr.ErrorTypes = stats.ErrorTypes
			}
		}
		r.Simulators[id] = sr
	}

	r.Summary = Summary{
		SimulatorCount:      len(cfg.StepCounts),
		SealWarningCount:    len(cfg.SealWarnings),
		RuntimeWarningCount: len(cfg.RuntimeWarnings),
	}
	if cfg.Snapshot != nil {
		r.Summary.TotalSteps = cfg.Snapshot.TotalSteps
		r.Summary.StepsPerSecond = cfg.Snapshot.StepsPerSecond
		r.Summary.TotalErrors = cfg.Snapshot.TotalErrors
		r.Summary.ErrorRate = cfg.Snapshot.ErrorRate()
	}

	return r
}
