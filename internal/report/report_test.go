package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/myorg/cosim/internal/metrics"
)

func testSnapshot() *metrics.Snapshot {
	collector := metrics.NewCollector()

	for i := 0; i < 1000; i++ {
		collector.RecordStepDuration("plant", int64(i+1)*1_000_000)
	}
	for i := 0; i < 500; i++ {
		collector.RecordStepDuration("controller", int64(i+1)*2_000_000)
	}
	collector.IncrementError("plant", "timeout")
	collector.IncrementError("plant", "timeout")
	collector.IncrementError("controller", "diverged")

	time.Sleep(10 * time.Millisecond)
	return collector.GetSnapshot()
}

func testRunInfo() RunInfo {
	return RunInfo{
		StartTime:         time.Now().Add(-1 * time.Minute),
		EndTime:           time.Now(),
		Duration:          1 * time.Minute,
		Until:             1000,
		MaxLoopIterations: 50,
		RTFactor:          0,
		TimeResolution:    1,
	}
}

func TestGenerate(t *testing.T) {
	snapshot := testSnapshot()

	r := Generate(GenerateConfig{
		RunInfo:  testRunInfo(),
		Snapshot: snapshot,
		StepCounts: map[string]int{
			"plant":      1000,
			"controller": 500,
		},
	})

	assert.Equal(t, "1.0", r.Version)
	assert.Equal(t, int64(1000), r.RunInfo.Until)
	assert.Equal(t, 2, r.Summary.SimulatorCount)
	assert.Equal(t, int64(1500), r.Summary.TotalSteps)
	assert.Equal(t, int64(3), r.Summary.TotalErrors)

	require.Contains(t, r.Simulators, "plant")
	plant := r.Simulators["plant"]
	assert.Equal(t, 1000, plant.Steps)
	assert.Equal(t, int64(2), plant.Errors)
	assert.Equal(t, int64(2), plant.ErrorTypes["timeout"])
}

func TestGenerateWithWarnings(t *testing.T) {
	r := Generate(GenerateConfig{
		RunInfo:         testRunInfo(),
		StepCounts:      map[string]int{"plant": 10},
		SealWarnings:    []string{"edge plant->controller declared weak but never participates in a cycle"},
		RuntimeWarnings: []string{`"plant" missed real-time deadline for t=5 by 20ms`},
	})

	assert.Equal(t, 1, r.Summary.SealWarningCount)
	assert.Equal(t, 1, r.Summary.RuntimeWarningCount)
	assert.Len(t, r.SealWarnings, 1)
	assert.Len(t, r.RuntimeWarnings, 1)
}

func TestGenerateNilSnapshot(t *testing.T) {
	r := Generate(GenerateConfig{
		RunInfo:    testRunInfo(),
		StepCounts: map[string]int{"plant": 10},
	})

	require.Contains(t, r.Simulators, "plant")
	assert.Equal(t, 10, r.Simulators["plant"].Steps)
	assert.Equal(t, int64(0), r.Summary.TotalSteps)
}

func TestReportToJSON(t *testing.T) {
	r := Generate(GenerateConfig{
		RunInfo:    testRunInfo(),
		Snapshot:   testSnapshot(),
		StepCounts: map[string]int{"plant": 1000, "controller": 500},
	})

	data, err := r.ToJSON()
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))

	assert.Contains(t, parsed, "version")
	assert.Contains(t, parsed, "run_info")
	assert.Contains(t, parsed, "summary")
	assert.Contains(t, parsed, "simulators")
}

func TestReportToJSONCompact(t *testing.T) {
	r := Generate(GenerateConfig{
		RunInfo:    testRunInfo(),
		StepCounts: map[string]int{"plant": 1},
	})

	indented, err := r.ToJSON()
	require.NoError(t, err)
	compact, err := r.ToJSONCompact()
	require.NoError(t, err)

	assert.Greater(t, len(indented), len(compact))

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(compact, &parsed))
}

func TestReportWriteToFile(t *testing.T) {
	r := Generate(GenerateConfig{
		RunInfo:    testRunInfo(),
		StepCounts: map[string]int{"plant": 1},
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "report.json")
	require.NoError(t, r.WriteToFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))
}

func TestReportString(t *testing.T) {
	r := Generate(GenerateConfig{
		RunInfo:    testRunInfo(),
		Snapshot:   testSnapshot(),
		StepCounts: map[string]int{"plant": 1000, "controller": 500},
	})

	s := r.String()
	assert.Contains(t, s, "1500 steps")
	assert.Contains(t, s, "2 simulators")
}
