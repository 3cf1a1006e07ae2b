// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package rendezvous implements the Rendezvous Watcher (§4.E): it
// reads agent registrations off the start channel until the sink and
// every expected meister have checked in, assembling the final
// AgentIdRegistry as it goes.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/pbench/tool-meister-start/internal/busconfig"
	"github.com/pbench/tool-meister-start/internal/clock"
	"github.com/pbench/tool-meister-start/internal/model"
)

// Source is the bus capability the watcher needs: pulling the next
// published message off an already-subscribed channel. *redis.PubSub
// satisfies it directly; tests substitute a fake channel of messages.
type Source interface {
	ReceiveMessage(ctx context.Context) (*redis.Message, error)
}

// ErrRendezvousFailed wraps a fatal failure reading from the bus while
// waiting for registrations (a subscription error, a closed
// connection) — distinct from a malformed or unknown registration,
// which is logged and skipped rather than treated as fatal (§4.E,
// scenario 6).
var ErrRendezvousFailed = errors.New("rendezvous: failed waiting for agent registrations")

// Watch reads registrations from src until exactly one sink and
// wantMeisters meisters have checked in, then returns the assembled
// registry. A malformed payload or an unrecognized kind is logged and
// skipped (§4.E scenario 6); it never aborts the wait. A duplicate
// sink registration is logged and ignored — the first one observed
// wins, matching "exactly one sink" rather than "at most one sink
// message."
//
// Per §8.2's expansion of the open question on stalls: Watch never
// times out on its own (the caller decides whether and when to give
// up), but if no registration has arrived for
// busconfig.RendezvousStallWarning, it logs once at WARN and continues
// waiting without resetting any deadline — purely a visibility aid for
// an operator watching logs, not a new failure mode.
func Watch(ctx context.Context, logger *slog.Logger, clk clock.Clock, src Source, wantMeisters int) (model.AgentIdRegistry, error) {
	var registry model.AgentIdRegistry
	haveSink := false
	meistersSeen := 0

	for !haveSink || meistersSeen < wantMeisters {
		msg, err := receiveWithStallWarning(ctx, logger, clk, src)
		if err != nil {
			return model.AgentIdRegistry{}, fmt.Errorf("%w: %v", ErrRendezvousFailed, err)
		}

		reg, err := model.DecodeAgentRegistration([]byte(msg.Payload))
		if err != nil {
			logger.Warn("rendezvous: skipping malformed or unrecognized registration", "error", err)
			continue
		}

		switch reg.Kind {
		case model.KindSink:
			if haveSink {
				logger.Warn("rendezvous: duplicate sink registration, ignoring", "host", reg.Host)
				continue
			}
			registry.Sink = reg
			haveSink = true
			logger.Debug("rendezvous: sink registered", "host", reg.Host, "pid", reg.PID)
		case model.KindMeister:
			registry.Meister = append(registry.Meister, reg)
			meistersSeen++
			logger.Debug("rendezvous: meister registered", "host", reg.Host, "pid", reg.PID, "seen", meistersSeen, "want", wantMeisters)
		}
	}

	return registry, nil
}

// receiveWithStallWarning blocks on src.ReceiveMessage, but races it
// against a stall-warning timer so a long gap between registrations is
// visible in the logs without turning into a hard timeout.
func receiveWithStallWarning(ctx context.Context, logger *slog.Logger, clk clock.Clock, src Source) (*redis.Message, error) {
	type result struct {
		msg *redis.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := src.ReceiveMessage(ctx)
		done <- result{msg, err}
	}()

	warned := false
	for {
		select {
		case r := <-done:
			return r.msg, r.err
		case <-clk.After(busconfig.RendezvousStallWarning):
			if !warned {
				logger.Warn("rendezvous: no agent registration received recently, still waiting")
				warned = true
			}
		}
	}
}
