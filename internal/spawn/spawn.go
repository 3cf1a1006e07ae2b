// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package spawn implements the Agent Spawner (§4.D): it forks the
// local sink, forks the local meister when the controller itself is
// one of the group's hosts, and fans remote meisters out over a
// secure-shell launcher.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/pbench/tool-meister-start/internal/busconfig"
	"github.com/pbench/tool-meister-start/internal/model"
	"github.com/pbench/tool-meister-start/internal/toolgroup"
)

// ErrSinkFailed is returned when the local sink's direct child exits
// nonzero or fails to start. It is always fatal (§4.D step 1).
var ErrSinkFailed = errors.New("spawn: sink failed to start")

// RemoteLauncher abstracts the secure-shell collaborator (§1, out of
// scope to implement fully): launching the remote tool-meister-remote
// entrypoint on host and waiting for that launch to complete.
// internal/spawn/ssh.go provides the golang.org/x/crypto/ssh-backed
// implementation; tests substitute a fake.
type RemoteLauncher interface {
	Launch(ctx context.Context, host, remotePath, controllerFQDN string, port int, meisterParamKey string) error
}

// LocalRunner abstracts running a local child to completion — the
// "wait for direct child to exit" primitive shared by the sink and the
// controller-resident meister. Production code runs binPath with
// os/exec; tests substitute a fake to avoid spawning real processes.
type LocalRunner func(ctx context.Context, binPath string, args ...string) error

// ExecRunner is the production LocalRunner: it runs binPath, inheriting
// stderr for diagnostics, and waits for it to exit. Grounded on the
// teacher's spawnProxy (cmd.Start, inherited stderr, blocking Wait).
func ExecRunner(ctx context.Context, binPath string, args ...string) error {
	cmd := exec.CommandContext(ctx, binPath, args...)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// Spawner owns the binaries and transport used to bring up the sink
// and every host's meister.
type Spawner struct {
	SinkBinPath    string
	MeisterBinPath string
	RemoteLauncher RemoteLauncher
	RemoteBinPath  string // remote tool-meister-remote launcher path
	Run            LocalRunner
	Logger         *slog.Logger
}

// SpawnSink forks the sink's entry point with (loopback, port,
// sinkParamKey) and waits for it to exit. A nonzero exit is fatal to
// the whole start (§4.D step 1).
func (s *Spawner) SpawnSink(ctx context.Context, loopback string, port int, sinkParamKey string) error {
	s.Logger.Debug("spawn: starting sink", "bin", s.SinkBinPath, "key", sinkParamKey)
	if err := s.Run(ctx, s.SinkBinPath, loopback, strconv.Itoa(port), sinkParamKey); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkFailed, err)
	}
	return nil
}

// SpawnMeisters starts one meister per host in group: a local fork for
// the host matching controllerFQDN, a secure-shell launch for every
// other host. Remote launches run concurrently; the only barrier is
// the final reap, matching §4.D's "sequential spawn, concurrent run,
// barrier reap" shape.
//
// Individual failures never abort the fan-out early — every host is
// attempted, and the result is reported in the returned SpawnOutcome;
// SpawnMeisters has no error return.
func (s *Spawner) SpawnMeisters(ctx context.Context, controllerFQDN string, port int, group *toolgroup.ToolGroup) model.SpawnOutcome {
	hosts := group.SortedHosts()

	var (
		mu      sync.Mutex
		outcome model.SpawnOutcome
		wg      sync.WaitGroup
	)

	record := func(handle model.AgentHandle, failure *model.SpawnFailure) {
		mu.Lock()
		defer mu.Unlock()
		if failure != nil {
			s.Logger.Warn("spawn: meister failed to start", "host", failure.Host, "error", failure.Reason)
			outcome.Failed = append(outcome.Failed, *failure)
			return
		}
		outcome.Started = append(outcome.Started, handle)
	}

	for _, host := range hosts {
		meisterKey := busconfig.MeisterKey(group.Name, host)

		if host == controllerFQDN {
			// Local fork: blocking, per §4.D step 2's "wait for the
			// double-fork parent to exit" — run synchronously before
			// moving to the next host, but still just one more
			// counted attempt, not a fatal error.
			s.Logger.Debug("spawn: starting local meister", "host", host)
			err := s.Run(ctx, s.MeisterBinPath, "127.0.0.1", strconv.Itoa(port), meisterKey)
			if err != nil {
				record(model.AgentHandle{}, &model.SpawnFailure{Host: host, Reason: fmt.Errorf("local meister: %w", err)})
			} else {
				record(model.AgentHandle{Host: host, Kind: model.KindMeister, Local: true}, nil)
			}
			continue
		}

		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			s.Logger.Debug("spawn: launching remote meister", "host", host)
			err := s.RemoteLauncher.Launch(ctx, host, s.RemoteBinPath, controllerFQDN, port, meisterKey)
			if err != nil {
				record(model.AgentHandle{}, &model.SpawnFailure{Host: host, Reason: err})
				return
			}
			record(model.AgentHandle{Host: host, Kind: model.KindMeister, Local: false}, nil)
		}(host)
	}

	wg.Wait()
	return outcome
}
