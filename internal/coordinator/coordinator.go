// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"

	"github.com/pbench/tool-meister-start/internal/bus"
	"github.com/pbench/tool-meister-start/internal/busconfig"
	"github.com/pbench/tool-meister-start/internal/clock"
	"github.com/pbench/tool-meister-start/internal/model"
	"github.com/pbench/tool-meister-start/internal/registry"
	"github.com/pbench/tool-meister-start/internal/rendezvous"
	"github.com/pbench/tool-meister-start/internal/spawn"
	"github.com/pbench/tool-meister-start/internal/teardown"
	"github.com/pbench/tool-meister-start/internal/toolgroup"
)

// ExitConfigError is returned for pre-bus configuration failures
// (missing environment variable, unresolvable install dir, bad
// tool-group directory): fatal, but no teardown is needed because
// nothing was started yet (§7's Error taxonomy).
const ExitConfigError = 64

// Binaries locates every external collaborator the coordinator spawns
// or invokes but does not implement (§1's out-of-scope list).
type Binaries struct {
	BusBinPath     string
	SinkBinPath    string
	MeisterBinPath string
	RemoteBinPath  string // remote tool-meister-remote launcher path
}

// Dependencies bundles the collaborators Run needs beyond Config and
// Binaries, so tests can substitute fakes for the clock, the
// secure-shell launcher, and the local process runner without touching
// the production wiring in cmd/tool-meister-start.
type Dependencies struct {
	Clock          clock.Clock
	RemoteLauncher spawn.RemoteLauncher
	Run            spawn.LocalRunner // overrides the production exec-based runner; nil uses spawn.ExecRunner
}

// Run executes one full coordinator lifecycle: load the named tool
// group, bring up the bus, seed parameters, spawn agents, wait for
// rendezvous, and persist the registry — or compensate and report a
// teardown code on any failing edge. The returned int is the process
// exit code (§4.G); the error, when non-nil, is the underlying cause
// for logging.
func Run(ctx context.Context, logger *slog.Logger, cfg *Config, bins Binaries, deps Dependencies, groupName string) (int, error) {
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	localRun := deps.Run
	if localRun == nil {
		localRun = spawn.ExecRunner
	}

	groupDir := filepath.Join(cfg.PbenchRun, toolgroup.GroupDirName(groupName))
	group, err := toolgroup.Load(logger, groupDir, groupName)
	if err != nil {
		return ExitConfigError, fmt.Errorf("coordinator: loading tool group: %w", err)
	}

	runDir := filepath.Join(cfg.BenchmarkRunDir, busconfig.RunSubdir)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return ExitConfigError, fmt.Errorf("coordinator: creating run directory %s: %w", runDir, err)
	}

	busHandle, err := bus.Start(ctx, logger, clk, bins.BusBinPath, runDir, cfg.PbenchFullHostname)
	if err != nil {
		// The bus never became reachable, or never started; any
		// process it did manage to fork was already targeted by
		// bus.Start's own stale-process cleanup. Still run the
		// compensator for its pid-file classification, using a
		// publisher that cannot succeed (there is no live client) —
		// step 1's failure is logged, not fatal, so this degrades
		// gracefully to "kill whatever is at the pid file."
		code := teardown.Run(ctx, logger, unreachablePublisher{}, busconfig.MainChannel, group.Name, bus.PidFilePath(runDir))
		return int(code), fmt.Errorf("coordinator: starting bus: %w", err)
	}

	exitCode, runErr := runWithBus(ctx, logger, clk, cfg, bins, deps, localRun, group, busHandle)
	closeErr := busHandle.Close()
	if runErr == nil && closeErr != nil {
		logger.Warn("coordinator: closing bus handle", "error", closeErr)
	}
	return exitCode, runErr
}

func runWithBus(
	ctx context.Context,
	logger *slog.Logger,
	clk clock.Clock,
	cfg *Config,
	bins Binaries,
	deps Dependencies,
	localRun spawn.LocalRunner,
	group *toolgroup.ToolGroup,
	busHandle *bus.Handle,
) (int, error) {
	compensate := func(cause error) (int, error) {
		code := teardown.Run(ctx, logger, busHandle.Client, busHandle.MainChannel, group.Name, busHandle.PidFilePath)
		return int(code), cause
	}

	if err := registry.Seed(ctx, logger, busHandle.Client, cfg.InstallDir(), cfg.BenchmarkRunDir, cfg.ControllerIdentifier(), group); err != nil {
		return compensate(fmt.Errorf("coordinator: seeding registry: %w", err))
	}

	spawner := &spawn.Spawner{
		SinkBinPath:    bins.SinkBinPath,
		MeisterBinPath: bins.MeisterBinPath,
		RemoteLauncher: deps.RemoteLauncher,
		RemoteBinPath:  bins.RemoteBinPath,
		Run:            localRun,
		Logger:         logger,
	}

	if err := spawner.SpawnSink(ctx, "127.0.0.1", busHandle.Port, busconfig.SinkKey(group.Name)); err != nil {
		return compensate(fmt.Errorf("coordinator: spawning sink: %w", err))
	}

	outcome := spawner.SpawnMeisters(ctx, cfg.PbenchFullHostname, busHandle.Port, group)

	if mustCompensate(outcome) {
		for _, failure := range outcome.Failed {
			logger.Error("coordinator: meister spawn failed", "host", failure.Host, "error", failure.Reason)
		}
		return compensate(fmt.Errorf("coordinator: spawn outcome successes=%d failures=%d", outcome.Successes(), outcome.Failures()))
	}

	finalRegistry, err := rendezvous.Watch(ctx, logger, clk, busHandle.StartChannelSubscription(), outcome.MeisterCount())
	if err != nil {
		return compensate(fmt.Errorf("coordinator: waiting for rendezvous: %w", err))
	}

	if err := registry.WriteRegistry(ctx, busHandle.Client, finalRegistry); err != nil {
		return compensate(fmt.Errorf("coordinator: writing agent id registry: %w", err))
	}

	logger.Info("coordinator: start complete", "group", group.Name, "meisters", len(finalRegistry.Meister))
	return 0, nil
}

// mustCompensate implements §4.G's exit table as a predicate: true
// whenever the run must fall through to the teardown compensator
// rather than proceed to rendezvous. A degenerate outcome with
// neither successes nor failures (an empty host list) is treated as
// an abort, same as any outcome with at least one failure.
func mustCompensate(outcome model.SpawnOutcome) bool {
	return outcome.Failures() > 0 || (outcome.Successes() == 0 && outcome.Failures() == 0)
}

// unreachablePublisher is used when the coordinator must compensate
// before a bus client was ever obtained: every publish fails, which
// teardown.Run logs and otherwise ignores.
type unreachablePublisher struct{}

func (unreachablePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetErr(errors.New("coordinator: no bus connection available to publish terminate"))
	return cmd
}
