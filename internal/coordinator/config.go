// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package coordinator wires the ToolGroup loader, bus launcher,
// registry seeder, agent spawner, rendezvous watcher, teardown
// compensator, and exit classifier into the single state machine
// described in §2's dataflow.
package coordinator

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Config is the coordinator's environment-derived configuration
// (§6's Environment list), resolved once at startup and threaded
// explicitly through every component rather than read piecemeal from
// os.Getenv deep in the call stack.
type Config struct {
	BenchmarkRunDir     string
	PbenchHostname      string
	PbenchFullHostname  string
	AgentConfigPath     string
	PbenchRun           string
	DebugLogging        bool
	unitTestsController bool
}

// Getenv is the minimal environment-reading capability LoadConfig
// needs; os.Getenv satisfies it directly, and tests substitute a map
// lookup so required-variable validation is exercised without
// mutating the process environment.
type Getenv func(key string) string

var requiredVars = []string{
	"benchmark_run_dir",
	"_pbench_hostname",
	"_pbench_full_hostname",
	"_PBENCH_AGENT_CONFIG",
	"pbench_run",
}

// LoadConfig resolves every environment variable the coordinator
// needs, reporting every missing required variable at once via
// errors.Join rather than failing on the first one encountered.
func LoadConfig(getenv Getenv) (*Config, error) {
	values := make(map[string]string, len(requiredVars))
	var missing []error
	for _, name := range requiredVars {
		v := getenv(name)
		if v == "" {
			missing = append(missing, fmt.Errorf("missing required environment variable %s", name))
			continue
		}
		values[name] = v
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}

	cfg := &Config{
		BenchmarkRunDir:     values["benchmark_run_dir"],
		PbenchHostname:      values["_pbench_hostname"],
		PbenchFullHostname:  values["_pbench_full_hostname"],
		AgentConfigPath:     values["_PBENCH_AGENT_CONFIG"],
		PbenchRun:           values["pbench_run"],
		DebugLogging:        getenv("_PBENCH_TOOL_MEISTER_START_LOG_LEVEL") == "debug",
		unitTestsController: getenv("_PBENCH_UNIT_TESTS") != "",
	}
	return cfg, nil
}

// ControllerIdentifier returns the host identifier recorded as
// "controller" in seeded meister parameter records. It is the single
// call site isolating the unit-tests escape flagged as a test-harness
// leak in §9: everywhere else in the coordinator reads
// PbenchFullHostname directly.
func (c *Config) ControllerIdentifier() string {
	if c.unitTestsController {
		return "127.0.0.1"
	}
	return c.PbenchFullHostname
}

// InstallDir returns the installation root containing the bundled
// tool-metadata descriptor, derived from the configuration file path
// the environment provides.
func (c *Config) InstallDir() string {
	return filepath.Dir(c.AgentConfigPath)
}
