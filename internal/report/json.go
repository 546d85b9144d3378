package report

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// jsonReport is the JSON-serializable version of Report, with the run's
// duration rendered as both a display string and seconds (duration_sec)
// for programmatic access.
type jsonReport struct {
	Version         string                      `json:"version"`
	RunInfo         jsonRunInfo                 `json:"run_info"`
	Summary         Summary                     `json:"summary"`
	Simulators      map[string]*SimulatorReport `json:"simulators"`
	SealWarnings    []string                    `json:"seal_warnings,omitempty"`
	RuntimeWarnings []string                    `json:"runtime_warnings,omitempty"`
}

type jsonRunInfo struct {
	StartTime         string  `json:"start_time"`
	EndTime           string  `json:"end_time"`
	Duration          string  `json:"duration"`
	DurationSec       float64 `json:"duration_sec"`
	Until             int64   `json:"until"`
	MaxLoopIterations int     `json:"max_loop_iterations"`
	RTFactor          float64 `json:"rt_factor"`
	TimeResolution    float64 `json:"time_resolution"`
}

// ToJSON serializes the report to indented JSON.
func (r *Report) ToJSON() ([]byte, error) {
	jr := r.toJSONReport()
	return json.MarshalIndent(jr, "", "  ")
}

// ToJSONCompact serializes the report to compact JSON.
func (r *Report) ToJSONCompact() ([]byte, error) {
	jr := r.toJSONReport()
	return json.Marshal(jr)
}

// WriteToFile writes the report to a file as indented JSON.
func (r *Report) WriteToFile(path string) error {
	data, err := r.ToJSON()
	if err != nil {
		return fmt.Errorf("serializing report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

// WriteToFileCompact writes the report to a file as compact JSON.
func (r *Report) WriteToFileCompact(path string) error {
	data, err := r.ToJSONCompact()
	if err != nil {
		return fmt.Errorf("serializing report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}

func (r *Report) toJSONReport() jsonReport {
	return jsonReport{
		Version: r.Version,
		RunInfo: jsonRunInfo{
			StartTime:         r.RunInfo.StartTime.Format(time.RFC3339),
			EndTime:           r.RunInfo.EndTime.Format(time.RFC3339),
			Duration:          r.RunInfo.Duration.String(),
			DurationSec:       r.RunInfo.Duration.Seconds(),
			Until:             r.RunInfo.Until,
			MaxLoopIterations: r.RunInfo.MaxLoopIterations,
			RTFactor:          r.RunInfo.RTFactor,
			TimeResolution:    r.RunInfo.TimeResolution,
		},
		Summary:         r.Summary,
		Simulators:      r.Simulators,
		SealWarnings:    r.SealWarnings,
		RuntimeWarnings: r.RuntimeWarnings,
	}
}

// String returns a human-readable one-line summary of the report.
func (r *Report) String() string {
	return fmt.Sprintf(
		"Report: %d steps across %d simulators (%.2f steps/s), %d errors (%.2f%%), duration: %s",
		r.Summary.TotalSteps,
		r.Summary.SimulatorCount,
		r.Summary.StepsPerSecond,
		r.Summary.TotalErrors,
		r.Summary.ErrorRate,
		r.RunInfo.Duration,
	)
}
