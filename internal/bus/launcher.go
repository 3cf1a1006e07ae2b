// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bus launches the coordination bus (a Redis-protocol
// server), waits for it to accept a subscription end-to-end, and
// exposes the client handle the rest of the coordinator publishes and
// subscribes through.
package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/pbench/tool-meister-start/internal/busconfig"
	"github.com/pbench/tool-meister-start/internal/clock"
)

// ErrBusUnreachable is returned when the bus never accepts a
// subscription within busconfig.MaxWait.
var ErrBusUnreachable = errors.New("bus: unreachable within deadline")

// ErrUnexpectedAck is returned when the bus's first control message on
// a fresh subscription does not confirm the expected channel with
// subscriber count one. Replaces an inline assertion on the raw frame
// with a typed, explicit validation step.
var ErrUnexpectedAck = errors.New("bus: unexpected subscribe acknowledgement")

// Handle is the coordinator's exclusive view of the running bus for
// the duration of start: its network address, its process-id file (so
// teardown can find it even after this process's in-memory state is
// gone), and a ready client.
type Handle struct {
	Addr        string
	Port        int
	PidFilePath string
	RunDir      string
	MainChannel string

	Client *redis.Client
	pubsub *redis.PubSub
}

// StartChannelSubscription returns the already-open subscription to
// the start channel established during Start, so the rendezvous
// watcher (4.E) can read from the exact connection whose readiness was
// already verified.
func (h *Handle) StartChannelSubscription() *redis.PubSub { return h.pubsub }

// Close releases the handle's client resources. It does not stop the
// bus process; that is the Teardown Compensator's job.
func (h *Handle) Close() error {
	var err error
	if h.pubsub != nil {
		err = h.pubsub.Close()
	}
	if h.Client != nil {
		if cerr := h.Client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Start renders the bus configuration, spawns the bus binary
// synchronously, then polls a fresh subscription to the start channel
// until it round-trips or busconfig.MaxWait elapses.
//
// binPath is the bus executable (out of scope: invoked, not
// implemented, per §1). runDir is the coordinator's tm/ working
// directory; controllerFQDN is bound alongside loopback so remote
// agents can reach the bus.
func Start(ctx context.Context, logger *slog.Logger, clk clock.Clock, binPath, runDir, controllerFQDN string) (*Handle, error) {
	settings := Settings{
		Binds:  []string{"127.0.0.1", controllerFQDN},
		Port:   busconfig.Port,
		RunDir: runDir,
	}

	confPath := ConfigPath(runDir)
	if err := os.WriteFile(confPath, []byte(renderConf(settings)), 0644); err != nil {
		return nil, fmt.Errorf("bus: writing config %s: %w", confPath, err)
	}

	logger.Debug("bus: spawning", "binary", binPath, "config", confPath)
	cmd := exec.Command(binPath, confPath)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("bus: spawning %s: %w", binPath, err)
	}

	pidPath := PidFilePath(runDir)
	mainChannel := busconfig.MainChannel
	startChannel := busconfig.StartChannel(mainChannel)
	addr := "127.0.0.1:" + strconv.Itoa(busconfig.Port)

	client, pubsub, err := waitReady(ctx, logger, clk, pidPath, addr, startChannel)
	if err != nil {
		return nil, err
	}

	return &Handle{
		Addr:        addr,
		Port:        busconfig.Port,
		PidFilePath: pidPath,
		RunDir:      runDir,
		MainChannel: mainChannel,
		Client:      client,
		pubsub:      pubsub,
	}, nil
}

// probeFunc performs one connect-and-verify attempt against the bus,
// returning a ready client/pubsub pair on success. dialAndSubscribe is
// the production probeFunc; tests substitute a fake that never
// touches the network, so the retry/timeout/kill-stale-process state
// machine in pollUntilReady can be exercised in isolation.
type probeFunc func(ctx context.Context) (*redis.Client, *redis.PubSub, error)

// waitReady polls addr until a fresh subscription to startChannel
// round-trips with a valid acknowledgement, or busconfig.MaxWait
// elapses. Grounded on the teacher's waitForSocket
// (poll-with-deadline) generalized from a file-exists check to a
// pub/sub subscribe-ack check.
func waitReady(ctx context.Context, logger *slog.Logger, clk clock.Clock, pidPath, addr, startChannel string) (*redis.Client, *redis.PubSub, error) {
	return pollUntilReady(ctx, logger, clk, pidPath, func(ctx context.Context) (*redis.Client, *redis.PubSub, error) {
		return dialAndSubscribe(ctx, addr, startChannel)
	})
}

// pollUntilReady retries attempt until it succeeds or busconfig.MaxWait
// elapses, sleeping busconfig.PollInterval between attempts. An
// unexpected acknowledgement is logged distinctly from a bare
// connection error but otherwise treated the same: neither aborts the
// wait before the deadline. ctx cancellation (SIGINT/SIGTERM via the
// caller's signal.NotifyContext) is checked at the top of every
// iteration and raced against the poll sleep, so a cancellation during
// the wait is noticed immediately rather than only at the deadline.
func pollUntilReady(ctx context.Context, logger *slog.Logger, clk clock.Clock, pidPath string, attempt probeFunc) (*redis.Client, *redis.PubSub, error) {
	deadline := clk.Now().Add(busconfig.MaxWait)

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		client, pubsub, err := attempt(ctx)
		if err == nil {
			return client, pubsub, nil
		}

		if errors.Is(err, ErrUnexpectedAck) {
			logger.Warn("bus: unexpected subscribe acknowledgement", "error", err)
		} else {
			logger.Debug("bus: not ready yet, retrying", "error", err)
		}

		if clk.Now().After(deadline) {
			killStaleBusProcess(logger, pidPath)
			return nil, nil, fmt.Errorf("%w: %v", ErrBusUnreachable, err)
		}

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-clk.After(busconfig.PollInterval):
		}
	}
}

// dialAndSubscribe performs one connection attempt: dial addr, open a
// fresh subscription to startChannel, and wait for its acknowledgement
// frame. Both the client and the subscription are closed on any
// failure so the next attempt starts from a clean connection.
func dialAndSubscribe(ctx context.Context, addr, startChannel string) (*redis.Client, *redis.PubSub, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pubsub := client.Subscribe(ctx, startChannel)

	ackCtx, cancel := context.WithTimeout(ctx, busconfig.PollInterval*5)
	msg, err := pubsub.Receive(ackCtx)
	cancel()

	if err == nil {
		err = validateAck(msg, startChannel)
	}
	if err != nil {
		pubsub.Close()
		client.Close()
		return nil, nil, err
	}

	return client, pubsub, nil
}

// validateAck confirms the first frame received on a fresh
// subscription is a subscribe confirmation for the expected channel
// with subscriber count one, per §4.B step 4.
func validateAck(msg any, wantChannel string) error {
	sub, ok := msg.(*redis.Subscription)
	if !ok {
		return fmt.Errorf("%w: got %T, want subscription confirmation", ErrUnexpectedAck, msg)
	}
	if sub.Kind != "subscribe" {
		return fmt.Errorf("%w: kind %q", ErrUnexpectedAck, sub.Kind)
	}
	if sub.Channel != wantChannel {
		return fmt.Errorf("%w: channel %q, want %q", ErrUnexpectedAck, sub.Channel, wantChannel)
	}
	if sub.Count != 1 {
		return fmt.Errorf("%w: subscriber count %d, want 1", ErrUnexpectedAck, sub.Count)
	}
	return nil
}

// killStaleBusProcess best-effort kills whatever process is recorded
// in the bus pid file when the bus never became reachable. Errors are
// logged, not returned: the caller is already reporting
// ErrBusUnreachable and this is a secondary cleanup attempt, not the
// primary teardown path (that is internal/teardown, invoked by the
// caller after Start returns its error).
func killStaleBusProcess(logger *slog.Logger, pidPath string) {
	pid, err := readPidFile(pidPath)
	if err != nil {
		logger.Debug("bus: no stale process to kill", "pidfile", pidPath, "error", err)
		return
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return
	}
	if err := proc.Kill(); err != nil {
		logger.Warn("bus: failed killing stale process", "pid", pid, "error", err)
	}
}

func readPidFile(path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		return 0, fmt.Errorf("bus: pid file %s does not contain an integer: %w", path, err)
	}
	return pid, nil
}

// ReadPid reads the numeric process id recorded in the bus pid file.
// Exported for the Teardown Compensator, which needs the same parsing
// with its own richer error classification (see internal/teardown).
func ReadPid(path string) (int, error) { return readPidFile(path) }
