package registry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pbench/tool-meister-start/internal/busconfig"
	"github.com/pbench/tool-meister-start/internal/model"
	"github.com/pbench/tool-meister-start/internal/toolgroup"
)

// fakeWriter records every Set call in-memory so tests can assert on
// exactly which keys were written without a live bus.
type fakeWriter struct {
	values map[string][]byte
	failOn string
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{values: make(map[string][]byte)}
}

func (f *fakeWriter) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if key == f.failOn {
		cmd.SetErr(io.ErrClosedPipe)
		return cmd
	}
	switch v := value.(type) {
	case []byte:
		f.values[key] = v
	case string:
		f.values[key] = []byte(v)
	}
	cmd.SetVal("OK")
	return cmd
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeMetadataDescriptor(t *testing.T, installDir string) {
	t.Helper()
	path := filepath.Join(installDir, "tool-meister", "tool-metadata.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	content := "- name: mpstat\n  persistent: false\n  default_options: \"-P ALL 1\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestSeedWritesSinkAndMeisterKeys(t *testing.T) {
	installDir := t.TempDir()
	writeMetadataDescriptor(t, installDir)

	group := &toolgroup.ToolGroup{
		Name:      "default",
		Hostnames: map[string]toolgroup.HostDescriptor{"hostA": {"mpstat": "-P ALL 1"}},
		Toolnames: map[string]map[string]string{"mpstat": {"hostA": "-P ALL 1"}},
	}

	writer := newFakeWriter()
	err := Seed(context.Background(), testLogger(), writer, installDir, "/run/bench", "ctrl.example.com", group)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}

	var sinkParams model.SinkParameters
	if err := json.Unmarshal(writer.values[busconfig.SinkKey("default")], &sinkParams); err != nil {
		t.Fatalf("unmarshal sink params: %v", err)
	}
	if sinkParams.Group != "default" || sinkParams.BenchmarkRunDir != "/run/bench" {
		t.Errorf("sink params = %+v", sinkParams)
	}

	var meisterParams model.MeisterParameters
	if err := json.Unmarshal(writer.values[busconfig.MeisterKey("default", "hostA")], &meisterParams); err != nil {
		t.Fatalf("unmarshal meister params: %v", err)
	}
	if meisterParams.Controller != "ctrl.example.com" {
		t.Errorf("Controller = %q, want ctrl.example.com", meisterParams.Controller)
	}
	if meisterParams.Tools["mpstat"] != "-P ALL 1" {
		t.Errorf("Tools[mpstat] = %q", meisterParams.Tools["mpstat"])
	}

	if _, ok := writer.values[busconfig.ToolMetadataKey("mpstat")]; !ok {
		t.Errorf("expected tool metadata key to be written")
	}
}

func TestSeedHostWithNoTools(t *testing.T) {
	installDir := t.TempDir()
	writeMetadataDescriptor(t, installDir)

	group := &toolgroup.ToolGroup{
		Name:      "default",
		Hostnames: map[string]toolgroup.HostDescriptor{"hostA": {}},
		Toolnames: map[string]map[string]string{},
	}

	writer := newFakeWriter()
	if err := Seed(context.Background(), testLogger(), writer, installDir, "/run/bench", "ctrl", group); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	var meisterParams model.MeisterParameters
	if err := json.Unmarshal(writer.values[busconfig.MeisterKey("default", "hostA")], &meisterParams); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if meisterParams.Tools == nil || len(meisterParams.Tools) != 0 {
		t.Errorf("Tools = %v, want empty map", meisterParams.Tools)
	}
}

func TestSeedFailsOnMissingDescriptor(t *testing.T) {
	installDir := t.TempDir() // no descriptor written

	group := &toolgroup.ToolGroup{Name: "default", Hostnames: map[string]toolgroup.HostDescriptor{}}
	writer := newFakeWriter()

	if err := Seed(context.Background(), testLogger(), writer, installDir, "/run/bench", "ctrl", group); err == nil {
		t.Fatal("expected error for missing tool metadata descriptor")
	}
}

func TestSeedFailsOnWriteError(t *testing.T) {
	installDir := t.TempDir()
	writeMetadataDescriptor(t, installDir)

	group := &toolgroup.ToolGroup{
		Name:      "default",
		Hostnames: map[string]toolgroup.HostDescriptor{"hostA": {}},
		Toolnames: map[string]map[string]string{},
	}

	writer := newFakeWriter()
	writer.failOn = busconfig.SinkKey("default")

	if err := Seed(context.Background(), testLogger(), writer, installDir, "/run/bench", "ctrl", group); err == nil {
		t.Fatal("expected error when sink key write fails")
	}
}

func TestWriteRegistry(t *testing.T) {
	writer := newFakeWriter()
	registry := model.AgentIdRegistry{
		Sink:    model.AgentRegistration{Kind: model.KindSink, Host: "ctrl", PID: 100},
		Meister: []model.AgentRegistration{{Kind: model.KindMeister, Host: "ctrl", PID: 101}},
	}

	if err := WriteRegistry(context.Background(), writer, registry); err != nil {
		t.Fatalf("WriteRegistry: %v", err)
	}

	var got model.AgentIdRegistry
	if err := json.Unmarshal(writer.values[busconfig.RegistryKey], &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Sink.PID != 100 || len(got.Meister) != 1 {
		t.Errorf("got = %+v", got)
	}
}
