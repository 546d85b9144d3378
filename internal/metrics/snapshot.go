package metrics

import (
	"encoding/json"
	"time"
)

// Snapshot represents a point-in-time view of collected step metrics.
type Snapshot struct {
	StartTime      time.Time                  `json:"start_time"`
	Duration       time.Duration              `json:"duration"`
	TotalSteps     int64                      `json:"total_steps"`
	TotalErrors    int64                      `json:"total_errors"`
	StepsPerSecond float64                    `json:"steps_per_second"`
	Simulators     map[string]*SimulatorStats `json:"simulators"`
}

// SimulatorStats holds step metrics for a single simulator.
type SimulatorStats struct {
	Count          int64            `json:"count"`
	Errors         int64            `json:"errors"`
	StepsPerSecond float64          `json:"steps_per_second"`
	Duration       DurationStats    `json:"duration"`
	ErrorTypes     map[string]int64 `json:"error_types,omitempty"`
}

// DurationStats holds step-duration distribution statistics.
type DurationStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"std_dev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	P999   time.Duration `json:"p999"`
}

// ToJSON serializes the snapshot to JSON.
func (s *Snapshot) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// ToJSONIndent serializes the snapshot to indented JSON.
func (s *Snapshot) ToJSONIndent() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// ErrorRate returns the error rate as a percentage.
func (s *Snapshot) ErrorRate() float64 {
	if s.TotalSteps == 0 {
		return 0
	}
	return float64(s.TotalErrors) / float64(s.TotalSteps) * 100
}

// SuccessRate returns the success rate as a percentage.
func (s *Snapshot) SuccessRate() float64 {
	return 100 - s.ErrorRate()
}

// MarshalJSON customizes JSON output for DurationStats.
func (d DurationStats) MarshalJSON() ([]byte, error) {
	type durationJSON struct {
		Min    string `json:"min"`
		Max    string `json:"max"`
		Mean   string `json:"mean"`
		StdDev string `json:"std_dev"`
		P50    string `json:"p50"`
		P90    string `json:"p90"`
		P95    string `json:"p95"`
		P99    string `json:"p99"`
		P999   string `json:"p999"`
	}

	return json.Marshal(durationJSON{
		Min:    d.Min.String(),
		Max:    d.Max.String(),
		Mean:   d.Mean.String(),
		StdDev: d.StdDev.String(),
		P50:    d.P50.String(),
		P90:    d.P90.String(),
		P95:    d.P95.String(),
		P99:    d.P99.String(),
		P999:   d.P999.String(),
	})
}

// MarshalJSON customizes JSON output for Snapshot.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type snapshotJSON struct {
		StartTime      string                     `json:"start_time"`
		Duration       string                     `json:"duration"`
		TotalSteps     int64                      `json:"total_steps"`
		TotalErrors    int64                      `json:"total_errors"`
		StepsPerSecond float64                    `json:"steps_per_second"`
		ErrorRate      float64                    `json:"error_rate_pct"`
		Simulators     map[string]*SimulatorStats `json:"simulators"`
	}

	return json.Marshal(snapshotJSON{
		StartTime:      s.StartTime.Format(time.RFC3339),
		Duration:       s.Duration.String(),
		TotalSteps:     s.TotalSteps,
		TotalErrors:    s.TotalErrors,
		StepsPerSecond: s.StepsPerSecond,
		ErrorRate:      s.ErrorRate(),
		Simulators:     s.Simulators,
	})
}
