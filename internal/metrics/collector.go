// Package metrics aggregates per-simulator step-duration histograms for the
// end-of-run report, and exposes a Provider abstraction (internal/metrics
// provider.go) for live counters and gauges during a run.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// Histogram range: 1 microsecond to 60 seconds of step duration.
	minLatencyUs = 1
	maxLatencyUs = 60_000_000
	sigFigs      = 3
)

// simMetrics holds step-duration metrics for a single simulator.
type simMetrics struct {
	mu        sync.Mutex
	histogram *hdrhistogram.Histogram
	count     atomic.Int64
	errors    atomic.Int64
	errorMap  map[string]int64
}

func newSimMetrics() *simMetrics {
	return &simMetrics{
		histogram: hdrhistogram.New(minLatencyUs, maxLatencyUs, sigFigs),
		errorMap:  make(map[string]int64),
	}
}

// Collector aggregates step-duration metrics across every simulator in a
// run.
type Collector struct {
	mu        sync.RWMutex
	ops       map[string]*simMetrics
	startTime time.Time
}

// NewCollector creates a new metrics Collector.
func NewCollector() *Collector {
	return &Collector{
		ops:       make(map[string]*simMetrics),
		startTime: time.Now(),
	}
}

// getOrCreateSim returns metrics for a simulator id, creating if needed.
func (c *Collector) getOrCreateSim(sim string) *simMetrics {
	c.mu.RLock()
	op, exists := c.ops[sim]
	c.mu.RUnlock()

	if exists {
		return op
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	if op, exists = c.ops[sim]; exists {
		return op
	}

	op = newSimMetrics()
	c.ops[sim] = op
	return op
}

// RecordStepDuration records one step() call's wall-clock duration in
// nanoseconds for the given simulator id.
func (c *Collector) RecordStepDuration(sim string, latencyNs int64) {
	op := c.getOrCreateSim(sim)

	// Convert to microseconds for histogram
	latencyUs := latencyNs / 1000
	if latencyUs < minLatencyUs {
		latencyUs = minLatencyUs
	}
	if latencyUs > maxLatencyUs {
		latencyUs = maxLatencyUs
	}

	op.mu.Lock()
	op.histogram.RecordValue(latencyUs)
	op.mu.Unlock()

	op.count.Add(1)
}

// IncrementCount increments the step count for a simulator without
// recording a duration (used for event-based steps not independently
// timed).
func (c *Collector) IncrementCount(sim string) {
	op := c.getOrCreateSim(sim)
	op.count.Add(1)
}

// IncrementError increments the error count for a simulator.
func (c *Collector) IncrementError(sim string, errType string) {
	op := c.getOrCreateSim(sim)
	op.errors.Add(1)

	op.mu.Lock()
	op.errorMap[errType]++
	op.mu.Unlock()
}

// GetSnapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) GetSnapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	duration := time.Since(c.startTime)
	snap := &Snapshot{
		StartTime:  c.startTime,
		Duration:   duration,
		Simulators: make(map[string]*SimulatorStats),
	}

	var totalSteps, totalErrors int64

	for sim, op := range c.ops {
		count := op.count.Load()
		errors := op.errors.Load()

		totalSteps += count
		totalErrors += errors

		op.mu.Lock()
		hist := op.histogram.Export()
		errorMapCopy := make(map[string]int64)
		for k, v := range op.errorMap {
			errorMapCopy[k] = v
		}
		op.mu.Unlock()

		imported := hdrhistogram.Import(hist)

		simStats := &SimulatorStats{
			Count:  count,
			Errors: errors,
			Duration: DurationStats{
				Min:    time.Duration(imported.Min()) * time.Microsecond,
				Max:    time.Duration(imported.Max()) * time.Microsecond,
				Mean:   time.Duration(imported.Mean()) * time.Microsecond,
				StdDev: time.Duration(imported.StdDev()) * time.Microsecond,
				P50:    time.Duration(imported.ValueAtQuantile(50)) * time.Microsecond,
				P90:    time.Duration(imported.ValueAtQuantile(90)) * time.Microsecond,
				P95:    time.Duration(imported.ValueAtQuantile(95)) * time.Microsecond,
				P99:    time.Duration(imported.ValueAtQuantile(99)) * time.Microsecond,
				P999:   time.Duration(imported.ValueAtQuantile(99.9)) * time.Microsecond,
			},
			ErrorTypes: errorMapCopy,
		}

		if duration.Seconds() > 0 {
			simStats.StepsPerSecond = float64(count) / duration.Seconds()
		}

		snap.Simulators[sim] = simStats
	}

	snap.TotalSteps = totalSteps
	snap.TotalErrors = totalErrors

	if duration.Seconds() > 0 {
		snap.StepsPerSecond = float64(totalSteps) / duration.Seconds()
	}

	return snap
}

// Reset clears all collected metrics and resets the start time.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ops = make(map[string]*simMetrics)
	c.startTime = time.Now()
}
