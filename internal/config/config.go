// Package config loads the store's runtime knobs from YAML, the way the
// rest of the retrieved pack (AleutianFOSS, codenerd) configures their own
// long-running services. Bytecode parsing and class-file configuration are
// out of scope for the core (spec.md §1); this only covers worker-pool
// sizing, debug-mode invariant checking, and suppression overrides.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// SuppressionRule mirrors one entry of the 2-D suppression matrix
// (spec.md §4.3): interim updates to Dependee must not wake Depender.
type SuppressionRule struct {
	Depender string `yaml:"depender"`
	Dependee string `yaml:"dependee"`
}

// Config is the top-level runtime configuration for a store + scheduler
// run.
type Config struct {
	// Workers is the worker-pool size; defaults to runtime.NumCPU() when
	// zero or negative (spec.md §5, "Scheduling model").
	Workers int `yaml:"workers"`

	// Debug enables CheckIsValidUpdate monotonicity assertions and phase
	// membership checks (spec.md §4.1, §4.4).
	Debug bool `yaml:"debug"`

	// DeadlineSeconds, if > 0, cancels any phase still running after this
	// many seconds (spec.md §5, "Cancellation & timeout").
	DeadlineSeconds int `yaml:"deadline_seconds"`

	// Suppress lists the kind-pair suppression overrides to install for
	// every phase. The scheduler installs this same list in each phase;
	// there are no per-phase overrides.
	Suppress []SuppressionRule `yaml:"suppress"`
}

// Default returns the zero-config defaults: one worker per CPU, debug
// checks off, no deadline.
func Default(numCPU int) Config {
	return Config{Workers: numCPU, Debug: false}
}

// Load reads and parses a YAML config file at path.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
