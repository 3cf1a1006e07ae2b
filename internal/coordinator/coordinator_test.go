package coordinator

import (
	"errors"
	"strings"
	"testing"

	"github.com/pbench/tool-meister-start/internal/model"
)

func envMap(overrides map[string]string) Getenv {
	base := map[string]string{
		"benchmark_run_dir":    "/run/bench",
		"_pbench_hostname":     "host",
		"_pbench_full_hostname": "host.example.com",
		"_PBENCH_AGENT_CONFIG": "/opt/pbench-agent/config/pbench-agent.cfg",
		"pbench_run":           "/var/lib/pbench-agent",
	}
	for k, v := range overrides {
		if v == "" {
			delete(base, k)
		} else {
			base[k] = v
		}
	}
	return func(key string) string { return base[key] }
}

func TestLoadConfigHappyPath(t *testing.T) {
	cfg, err := LoadConfig(envMap(nil))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.PbenchFullHostname != "host.example.com" {
		t.Errorf("PbenchFullHostname = %q", cfg.PbenchFullHostname)
	}
	if cfg.ControllerIdentifier() != "host.example.com" {
		t.Errorf("ControllerIdentifier() = %q, want the full hostname", cfg.ControllerIdentifier())
	}
	if cfg.InstallDir() != "/opt/pbench-agent/config" {
		t.Errorf("InstallDir() = %q", cfg.InstallDir())
	}
}

func TestLoadConfigReportsAllMissingVars(t *testing.T) {
	_, err := LoadConfig(envMap(map[string]string{
		"benchmark_run_dir": "",
		"pbench_run":        "",
	}))
	if err == nil {
		t.Fatal("expected error for missing variables")
	}
	msg := err.Error()
	if !strings.Contains(msg, "benchmark_run_dir") || !strings.Contains(msg, "pbench_run") {
		t.Errorf("error %q does not name both missing variables", msg)
	}
}

func TestControllerIdentifierUnitTestEscape(t *testing.T) {
	cfg, err := LoadConfig(envMap(map[string]string{"_PBENCH_UNIT_TESTS": "1"}))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.ControllerIdentifier() != "127.0.0.1" {
		t.Errorf("ControllerIdentifier() = %q, want loopback under unit-test escape", cfg.ControllerIdentifier())
	}
}

func TestDebugLoggingFlag(t *testing.T) {
	cfg, err := LoadConfig(envMap(map[string]string{"_PBENCH_TOOL_MEISTER_START_LOG_LEVEL": "debug"}))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.DebugLogging {
		t.Error("DebugLogging = false, want true")
	}
}

func TestMustCompensateOnFailures(t *testing.T) {
	outcome := model.SpawnOutcome{
		Started: []model.AgentHandle{{Host: "a", Kind: model.KindMeister}},
		Failed:  []model.SpawnFailure{{Host: "b", Reason: errors.New("x")}},
	}
	if !mustCompensate(outcome) {
		t.Error("mustCompensate = false, want true when failures > 0")
	}
}

func TestMustCompensateOnDegenerateEmptyOutcome(t *testing.T) {
	if !mustCompensate(model.SpawnOutcome{}) {
		t.Error("mustCompensate = false, want true for the empty-host-list degenerate case")
	}
}

func TestMustCompensateFalseOnCleanSuccess(t *testing.T) {
	outcome := model.SpawnOutcome{Started: []model.AgentHandle{{Host: "a", Kind: model.KindMeister}}}
	if mustCompensate(outcome) {
		t.Error("mustCompensate = true, want false when every host succeeded")
	}
}
