package qshard

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

/*
Config describes one simulation: how the register is partitioned, how it
starts, and how much fusion and parallelism the engine may use.
*/
type Config struct {
	Layout            Layout `yaml:"layout"`
	Policy            Policy `yaml:"policy"`
	InitialState      uint64 `yaml:"initial_state"`
	BitAssignment     []uint `yaml:"bit_assignment"`
	MaxFusedQubits    int    `yaml:"max_fused_qubits"`
	Workers           int    `yaml:"workers"`
	ParallelThreshold uint64 `yaml:"parallel_threshold"`
	Seed              int64  `yaml:"seed"`
	Debug             bool   `yaml:"debug"`
}

func NewConfig() *Config {
	return &Config{
		Layout:            Layout{LocalBits: 10},
		Policy:            PolicySimple,
		MaxFusedQubits:    5,
		Workers:           runtime.NumCPU(),
		ParallelThreshold: DefaultThreshold,
		Seed:              1,
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrConfiguration, path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for a run over the given number of processes.
func (c *Config) Validate(processes int) error {
	if err := c.Layout.Validate(c.Policy, processes); err != nil {
		return err
	}

	n := c.Layout.NumQubits()
	if c.InitialState >= uint64(1)<<n {
		return configErrorf("initial state %d does not fit %d qubits", c.InitialState, n)
	}

	if c.BitAssignment != nil && uint(len(c.BitAssignment)) != n {
		return configErrorf("bit assignment names %d qubits, register has %d", len(c.BitAssignment), n)
	}

	if c.MaxFusedQubits < 1 || c.MaxFusedQubits > MaxFusedQubits {
		return configErrorf("max fused qubits %d outside [1, %d]", c.MaxFusedQubits, MaxFusedQubits)
	}

	if uint(c.MaxFusedQubits) > c.Layout.ChunkBits() {
		return configErrorf("max fused qubits %d exceeds the %d bit chunk", c.MaxFusedQubits, c.Layout.ChunkBits())
	}

	if c.Workers < 1 {
		return configErrorf("need at least one worker, got %d", c.Workers)
	}

	return nil
}
