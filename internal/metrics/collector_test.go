package metrics

import (
	"encoding/json"
	"math"
	"sync"
	"testing"
	"time"
)

func TestNewCollector(t *testing.T) {
	c := NewCollector()
	if c == nil {
		t.Fatal("NewCollector returned nil")
	}
	if c.ops == nil {
		t.Error("ops map not initialized")
	}
}

func TestRecordStepDuration(t *testing.T) {
	c := NewCollector()

	c.RecordStepDuration("A", 1_000_000) // 1ms
	c.RecordStepDuration("A", 2_000_000) // 2ms
	c.RecordStepDuration("A", 3_000_000) // 3ms
	c.RecordStepDuration("B", 5_000_000) // 5ms

	snap := c.GetSnapshot()

	if snap.TotalSteps != 4 {
		t.Errorf("expected 4 total steps, got %d", snap.TotalSteps)
	}

	aStats, ok := snap.Simulators["A"]
	if !ok {
		t.Fatal("simulator A not found")
	}
	if aStats.Count != 3 {
		t.Errorf("expected 3 steps for A, got %d", aStats.Count)
	}

	bStats, ok := snap.Simulators["B"]
	if !ok {
		t.Fatal("simulator B not found")
	}
	if bStats.Count != 1 {
		t.Errorf("expected 1 step for B, got %d", bStats.Count)
	}
}

func TestIncrementCount(t *testing.T) {
	c := NewCollector()

	c.IncrementCount("A")
	c.IncrementCount("A")
	c.IncrementCount("B")

	snap := c.GetSnapshot()

	if snap.TotalSteps != 3 {
		t.Errorf("expected 3 total steps, got %d", snap.TotalSteps)
	}

	aStats := snap.Simulators["A"]
	if aStats.Count != 2 {
		t.Errorf("expected 2 steps for A, got %d", aStats.Count)
	}
}

func TestIncrementError(t *testing.T) {
	c := NewCollector()

	c.RecordStepDuration("A", 1_000_000)
	c.IncrementError("A", "timeout")
	c.IncrementError("A", "timeout")
	c.IncrementError("A", "connection_lost")

	snap := c.GetSnapshot()

	if snap.TotalErrors != 3 {
		t.Errorf("expected 3 total errors, got %d", snap.TotalErrors)
	}

	aStats := snap.Simulators["A"]
	if aStats.Errors != 3 {
		t.Errorf("expected 3 errors for A, got %d", aStats.Errors)
	}
	if aStats.ErrorTypes["timeout"] != 2 {
		t.Errorf("expected 2 timeout errors, got %d", aStats.ErrorTypes["timeout"])
	}
	if aStats.ErrorTypes["connection_lost"] != 1 {
		t.Errorf("expected 1 connection_lost error, got %d", aStats.ErrorTypes["connection_lost"])
	}
}

func TestDurationPercentiles(t *testing.T) {
	c := NewCollector()

	// Record 100 step durations from 1ms to 100ms
	for i := 1; i <= 100; i++ {
		c.RecordStepDuration("A", int64(i)*1_000_000)
	}

	snap := c.GetSnapshot()
	stats := snap.Simulators["A"]

	if stats.Duration.P50 < 45*time.Millisecond || stats.Duration.P50 > 55*time.Millisecond {
		t.Errorf("P50 out of range: got %v, expected ~50ms", stats.Duration.P50)
	}
	if stats.Duration.P90 < 85*time.Millisecond || stats.Duration.P90 > 95*time.Millisecond {
		t.Errorf("P90 out of range: got %v, expected ~90ms", stats.Duration.P90)
	}
	if stats.Duration.P99 < 95*time.Millisecond || stats.Duration.P99 > 100*time.Millisecond {
		t.Errorf("P99 out of range: got %v, expected ~99ms", stats.Duration.P99)
	}
	if stats.Duration.Min < 900*time.Microsecond || stats.Duration.Min > 1100*time.Microsecond {
		t.Errorf("Min out of range: got %v, expected ~1ms", stats.Duration.Min)
	}
	if stats.Duration.Max < 99*time.Millisecond || stats.Duration.Max > 101*time.Millisecond {
		t.Errorf("Max out of range: got %v, expected ~100ms", stats.Duration.Max)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := NewCollector()

	const numGoroutines = 100
	const opsPerGoroutine = 1000

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			sim := "A"
			if id%2 != 0 {
				sim = "B"
			}

			for j := 0; j < opsPerGoroutine; j++ {
				c.RecordStepDuration(sim, int64((j+1)*1_000_000))
				if j%100 == 0 {
					c.IncrementError(sim, "test_error")
				}
			}
		}(i)
	}

	wg.Wait()

	snap := c.GetSnapshot()

	expectedTotal := int64(numGoroutines * opsPerGoroutine)
	if snap.TotalSteps != expectedTotal {
		t.Errorf("expected %d total steps, got %d", expectedTotal, snap.TotalSteps)
	}

	expectedErrors := int64(numGoroutines * 10)
	if snap.TotalErrors != expectedErrors {
		t.Errorf("expected %d total errors, got %d", expectedErrors, snap.TotalErrors)
	}
}

func TestConcurrentReadWrite(t *testing.T) {
	c := NewCollector()

	const numWriters = 10
	const numReaders = 5
	const duration = 100 * time.Millisecond

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(numWriters)
	for i := 0; i < numWriters; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					c.RecordStepDuration("A", 1_000_000)
				}
			}
		}()
	}

	wg.Add(numReaders)
	for i := 0; i < numReaders; i++ {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = c.GetSnapshot()
				}
			}
		}()
	}

	time.Sleep(duration)
	close(stop)
	wg.Wait()

	snap := c.GetSnapshot()
	if snap.TotalSteps == 0 {
		t.Error("expected some steps to be recorded")
	}
}

func TestReset(t *testing.T) {
	c := NewCollector()

	c.RecordStepDuration("A", 1_000_000)
	c.IncrementError("A", "error")

	snap := c.GetSnapshot()
	if snap.TotalSteps != 1 {
		t.Errorf("expected 1 step before reset, got %d", snap.TotalSteps)
	}

	c.Reset()

	snap = c.GetSnapshot()
	if snap.TotalSteps != 0 {
		t.Errorf("expected 0 steps after reset, got %d", snap.TotalSteps)
	}
	if snap.TotalErrors != 0 {
		t.Errorf("expected 0 errors after reset, got %d", snap.TotalErrors)
	}
}

func TestSnapshotToJSON(t *testing.T) {
	c := NewCollector()

	c.RecordStepDuration("A", 1_000_000)
	c.RecordStepDuration("A", 2_000_000)
	c.IncrementError("A", "timeout")

	snap := c.GetSnapshot()
	jsonData, err := snap.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(jsonData, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed["total_steps"].(float64) != 2 {
		t.Errorf("expected total_steps=2 in JSON")
	}
}

func TestSnapshotErrorRate(t *testing.T) {
	c := NewCollector()

	for i := 0; i < 100; i++ {
		c.RecordStepDuration("A", 1_000_000)
	}
	for i := 0; i < 10; i++ {
		c.IncrementError("A", "error")
	}

	snap := c.GetSnapshot()

	expectedRate := 10.0
	if math.Abs(snap.ErrorRate()-expectedRate) > 0.01 {
		t.Errorf("expected error rate %.2f%%, got %.2f%%", expectedRate, snap.ErrorRate())
	}

	expectedSuccess := 90.0
	if math.Abs(snap.SuccessRate()-expectedSuccess) > 0.01 {
		t.Errorf("expected success rate %.2f%%, got %.2f%%", expectedSuccess, snap.SuccessRate())
	}
}

func TestStepsPerSecondCalculation(t *testing.T) {
	c := NewCollector()

	for i := 0; i < 1000; i++ {
		c.RecordStepDuration("A", 1_000_000)
	}

	time.Sleep(100 * time.Millisecond)

	snap := c.GetSnapshot()

	if snap.StepsPerSecond <= 0 {
		t.Errorf("expected positive steps/sec, got %f", snap.StepsPerSecond)
	}

	expected := 1000.0 / snap.Duration.Seconds()
	tolerance := expected * 0.1
	if math.Abs(snap.StepsPerSecond-expected) > tolerance {
		t.Errorf("steps/sec %f not close to expected %f", snap.StepsPerSecond, expected)
	}
}

func TestMinDurationClamp(t *testing.T) {
	c := NewCollector()

	// Record very small duration (100ns = 0.1µs, should clamp to 1µs)
	c.RecordStepDuration("fast", 100)

	snap := c.GetSnapshot()
	stats := snap.Simulators["fast"]

	if stats.Duration.Min != 1*time.Microsecond {
		t.Errorf("expected min duration 1µs, got %v", stats.Duration.Min)
	}
}

func BenchmarkRecordStepDuration(b *testing.B) {
	c := NewCollector()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.RecordStepDuration("bench", 1_000_000)
	}
}

func BenchmarkRecordStepDurationParallel(b *testing.B) {
	c := NewCollector()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			c.RecordStepDuration("bench", 1_000_000)
		}
	})
}

func BenchmarkGetSnapshot(b *testing.B) {
	c := NewCollector()

	for i := 0; i < 10000; i++ {
		c.RecordStepDuration("A", 1_000_000)
		c.RecordStepDuration("B", 2_000_000)
		c.RecordStepDuration("C", 3_000_000)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.GetSnapshot()
	}
}
