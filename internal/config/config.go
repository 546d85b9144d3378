// Package config loads a scenario description from YAML: the simulators to
// launch, the entities and models each one exposes, the edges connecting
// them, and the run-wide timing parameters.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the complete scenario description read from a YAML file.
type Config struct {
	Simulators map[string]SimulatorConfig `yaml:"simulators"`
	Connections []ConnectionConfig        `yaml:"connections"`
	Run        RunConfig                  `yaml:"run"`
}

// SimulatorConfig describes how to reach one simulator and what to create
// on it.
type SimulatorConfig struct {
	// Connect is a "host:port" address for the "connect" launch variant
	// (§6): the core dials in rather than spawning the process itself.
	Connect string         `yaml:"connect"`
	Params  map[string]any `yaml:"params"`
	Entities []EntityConfig `yaml:"entities"`
}

// EntityConfig requests num entities of model from a simulator's create().
type EntityConfig struct {
	Model  string         `yaml:"model"`
	Num    int            `yaml:"num"`
	Params map[string]any `yaml:"params"`
}

// ConnectionConfig is one scenario edge, in the YAML author's vocabulary.
type ConnectionConfig struct {
	Src         string         `yaml:"src"` // "sid.eid"
	Dst         string         `yaml:"dst"`
	Attrs       map[string]string `yaml:"attrs"` // src attr -> dst attr
	TimeShift   bool           `yaml:"time_shift"`
	Weak        bool           `yaml:"weak"`
	InitialData map[string]any `yaml:"initial_data"`
}

// RunConfig holds the run-wide parameters of §4.6/§4.7.
type RunConfig struct {
	Until             int64   `yaml:"until"`
	RTFactor          float64 `yaml:"rt_factor"`
	RTStrict          bool    `yaml:"rt_strict"`
	MaxLoopIterations int     `yaml:"max_loop_iterations"`
	LazyStepping      bool    `yaml:"lazy_stepping"`
	TimeResolution    float64 `yaml:"time_resolution"`
}

// LoadConfig reads a scenario file and applies environment overrides.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := LoadConfigWithDefaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadConfigWithDefaults returns a Config with default run parameters and
// no simulators, ready to be populated by YAML unmarshaling.
func LoadConfigWithDefaults() *Config {
	cfg := &Config{
		Simulators: make(map[string]SimulatorConfig),
		Run: RunConfig{
			MaxLoopIterations: 100,
			LazyStepping:      true,
			TimeResolution:    1.0,
		},
	}
	applyEnvOverrides(cfg)
	return cfg
}

// applyEnvOverrides lets an operator override the run's time horizon and
// real-time factor without editing the scenario file, mirroring how
// connection settings were overridden in the ambient config layer this
// was adapted from.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COSIM_UNTIL"); v != "" {
		if until, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Run.Until = until
		}
	}
	if v := os.Getenv("COSIM_RT_FACTOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Run.RTFactor = f
		}
	}
}

// Validate checks the configuration for internally inconsistent values
// that would otherwise surface as a confusing failure deep inside Seal.
func (c *Config) Validate() error {
	if len(c.Simulators) == 0 {
		return fmt.Errorf("simulators: at least one simulator is required")
	}
	for id, sim := range c.Simulators {
		if sim.Connect == "" {
			return fmt.Errorf("simulators.%s.connect is required", id)
		}
		for i, e := range sim.Entities {
			if e.Model == "" {
				return fmt.Errorf("simulators.%s.entities[%d].model is required", id, i)
			}
			if e.Num < 1 {
				return fmt.Errorf("simulators.%s.entities[%d].num must be >= 1", id, i)
			}
		}
	}
	for i, conn := range c.Connections {
		if conn.Src == "" || conn.Dst == "" {
			return fmt.Errorf("connections[%d]: src and dst are required", i)
		}
		if len(conn.Attrs) == 0 {
			return fmt.Errorf("connections[%d]: attrs must map at least one attribute", i)
		}
		if conn.TimeShift && conn.Weak {
			return fmt.Errorf("connections[%d]: time_shift and weak are mutually exclusive", i)
		}
	}
	if c.Run.Until <= 0 {
		return fmt.Errorf("run.until must be > 0")
	}
	if c.Run.MaxLoopIterations < 1 {
		return fmt.Errorf("run.max_loop_iterations must be >= 1")
	}
	if c.Run.RTFactor < 0 {
		return fmt.Errorf("run.rt_factor must be >= 0")
	}
	return nil
}
