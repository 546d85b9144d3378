package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv() {
	os.Unsetenv("COSIM_UNTIL")
	os.Unsetenv("COSIM_RT_FACTOR")
}

func TestLoadConfigWithDefaults(t *testing.T) {
	clearEnv()

	cfg := LoadConfigWithDefaults()

	assert.Empty(t, cfg.Simulators)
	assert.Equal(t, 100, cfg.Run.MaxLoopIterations)
	assert.Equal(t, 1.0, cfg.Run.TimeResolution)
}

func TestLoadConfigValidYAML(t *testing.T) {
	clearEnv()

	yaml := `
simulators:
  A:
    connect: "localhost:5555"
    entities:
      - model: gen
        num: 2
  B:
    connect: "localhost:5556"
    entities:
      - model: load
        num: 1

connections:
  - src: "A.e0"
    dst: "B.e0"
    attrs:
      mOut: mIn

run:
  until: 100
  max_loop_iterations: 10
  time_resolution: 0.5
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(yaml), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	require.Contains(t, cfg.Simulators, "A")
	assert.Equal(t, "localhost:5555", cfg.Simulators["A"].Connect)
	require.Len(t, cfg.Simulators["A"].Entities, 1)
	assert.Equal(t, "gen", cfg.Simulators["A"].Entities[0].Model)
	assert.Equal(t, 2, cfg.Simulators["A"].Entities[0].Num)

	require.Len(t, cfg.Connections, 1)
	assert.Equal(t, "A.e0", cfg.Connections[0].Src)
	assert.Equal(t, "B.e0", cfg.Connections[0].Dst)
	assert.Equal(t, "mIn", cfg.Connections[0].Attrs["mOut"])

	assert.Equal(t, int64(100), cfg.Run.Until)
	assert.Equal(t, 10, cfg.Run.MaxLoopIterations)
	assert.Equal(t, 0.5, cfg.Run.TimeResolution)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	clearEnv()
	os.Setenv("COSIM_UNTIL", "500")
	os.Setenv("COSIM_RT_FACTOR", "2.5")
	defer clearEnv()

	yaml := `
simulators:
  A:
    connect: "localhost:5555"
    entities:
      - model: gen
        num: 1
run:
  until: 100
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(yaml), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, int64(500), cfg.Run.Until)
	assert.Equal(t, 2.5, cfg.Run.RTFactor)
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("{{invalid yaml"), 0644))

	_, err := LoadConfig(tmpFile)
	require.Error(t, err)
}

func TestLoadConfigInvalidFailsValidation(t *testing.T) {
	clearEnv()
	yaml := `
simulators:
  A:
    connect: "localhost:5555"
    entities:
      - model: gen
        num: 0
run:
  until: 100
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(yaml), 0644))

	_, err := LoadConfig(tmpFile)
	require.Error(t, err)
}

func validConfig() *Config {
	cfg := LoadConfigWithDefaults()
	cfg.Simulators["A"] = SimulatorConfig{
		Connect:  "localhost:5555",
		Entities: []EntityConfig{{Model: "gen", Num: 1}},
	}
	cfg.Simulators["B"] = SimulatorConfig{
		Connect:  "localhost:5556",
		Entities: []EntityConfig{{Model: "load", Num: 1}},
	}
	cfg.Connections = []ConnectionConfig{
		{Src: "A.e0", Dst: "B.e0", Attrs: map[string]string{"mOut": "mIn"}},
	}
	cfg.Run.Until = 100
	return cfg
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "no simulators",
			modify:  func(c *Config) { c.Simulators = map[string]SimulatorConfig{} },
			wantErr: "simulators: at least one simulator is required",
		},
		{
			name:    "missing connect",
			modify:  func(c *Config) { c.Simulators["A"] = SimulatorConfig{Entities: c.Simulators["A"].Entities} },
			wantErr: "simulators.A.connect is required",
		},
		{
			name: "missing entity model",
			modify: func(c *Config) {
				c.Simulators["A"] = SimulatorConfig{Connect: "x", Entities: []EntityConfig{{Num: 1}}}
			},
			wantErr: "simulators.A.entities[0].model is required",
		},
		{
			name: "bad entity num",
			modify: func(c *Config) {
				c.Simulators["A"] = SimulatorConfig{Connect: "x", Entities: []EntityConfig{{Model: "gen", Num: 0}}}
			},
			wantErr: "simulators.A.entities[0].num must be >= 1",
		},
		{
			name:    "connection missing src/dst",
			modify:  func(c *Config) { c.Connections[0].Src = "" },
			wantErr: "connections[0]: src and dst are required",
		},
		{
			name:    "connection missing attrs",
			modify:  func(c *Config) { c.Connections[0].Attrs = nil },
			wantErr: "connections[0]: attrs must map at least one attribute",
		},
		{
			name: "time_shift and weak mutually exclusive",
			modify: func(c *Config) {
				c.Connections[0].TimeShift = true
				c.Connections[0].Weak = true
			},
			wantErr: "connections[0]: time_shift and weak are mutually exclusive",
		},
		{
			name:    "until not positive",
			modify:  func(c *Config) { c.Run.Until = 0 },
			wantErr: "run.until must be > 0",
		},
		{
			name:    "max_loop_iterations too small",
			modify:  func(c *Config) { c.Run.MaxLoopIterations = 0 },
			wantErr: "run.max_loop_iterations must be >= 1",
		},
		{
			name:    "negative rt_factor",
			modify:  func(c *Config) { c.Run.RTFactor = -1 },
			wantErr: "run.rt_factor must be >= 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}
