// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package model holds the wire and in-memory types shared across the
// coordinator's components: parameter records seeded on the bus,
// agent registrations read back from it, and the spawn-outcome
// aggregate that replaces a raw success/failure counter pair.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// AgentKind distinguishes the two roles that register on the start
// channel. It is a validated sum type, not a bare string: decoding
// rejects any value outside {KindSink, KindMeister}.
type AgentKind string

const (
	KindSink    AgentKind = "sink"
	KindMeister AgentKind = "meister"
)

// ErrUnknownKind is returned by DecodeAgentRegistration when the
// payload's kind field is not one of the known AgentKind values. The
// rendezvous watcher treats this as a skip, never a fatal error.
var ErrUnknownKind = errors.New("model: unknown agent kind")

// AgentRegistration is the message an agent publishes on the start
// channel once it is running.
type AgentRegistration struct {
	Kind AgentKind `json:"kind"`
	Host string    `json:"hostname"`
	PID  int       `json:"pid"`
}

// DecodeAgentRegistration parses a start-channel payload. Payloads
// that are not valid UTF-8 JSON, or whose kind is not recognized, are
// reported via error so the caller can log-and-skip rather than treat
// them as fatal.
func DecodeAgentRegistration(payload []byte) (AgentRegistration, error) {
	if !utf8.Valid(payload) {
		return AgentRegistration{}, errors.New("model: decoding agent registration: payload is not valid UTF-8")
	}
	var reg AgentRegistration
	if err := json.Unmarshal(payload, &reg); err != nil {
		return AgentRegistration{}, fmt.Errorf("model: decoding agent registration: %w", err)
	}
	switch reg.Kind {
	case KindSink, KindMeister:
	default:
		return AgentRegistration{}, fmt.Errorf("%w: %q", ErrUnknownKind, reg.Kind)
	}
	return reg, nil
}

// AgentIdRegistry is the final record persisted in the bus under the
// well-known registry key once the coordinator has observed every
// expected registration.
type AgentIdRegistry struct {
	Sink    AgentRegistration   `json:"sink"`
	Meister []AgentRegistration `json:"meister"`
}

// SinkParameters is the parameter record seeded for the sink before it
// is started, at key busconfig.SinkKey(group).
type SinkParameters struct {
	Channel         string `json:"channel"`
	BenchmarkRunDir string `json:"benchmark_run_dir"`
	Group           string `json:"group"`
}

// MeisterParameters is the parameter record seeded for one host's
// meister before it is started, at key busconfig.MeisterKey(group, host).
type MeisterParameters struct {
	BenchmarkRunDir string            `json:"benchmark_run_dir"`
	Channel         string            `json:"channel"`
	Controller      string            `json:"controller"`
	Group           string            `json:"group"`
	Hostname        string            `json:"hostname"`
	Tools           map[string]string `json:"tools"`
}

// AgentHandle records one agent the spawner successfully started:
// either a local fork or a remote secure-shell launch that reaped
// cleanly. It is the unit tracked in SpawnOutcome.Started.
type AgentHandle struct {
	Host  string
	Kind  AgentKind
	PID   int
	Local bool
}

// SpawnFailure records one agent the spawner could not bring up,
// along with the reason. Reason may wrap ErrDialFailed or
// ErrRemoteExit to preserve the distinction between "could not reach
// the host" and "the remote launcher ran and exited nonzero" for
// logging, even though the coordinator's exit code collapses both
// (see DESIGN.md).
type SpawnFailure struct {
	Host   string
	Reason error
}

// SpawnOutcome aggregates the results of one spawn fan-out (§4.D),
// replacing the spec's raw successes/failures integer pair per the
// REDESIGN FLAGS guidance in §9. Classifiers read len(Started) and
// len(Failed) where the distilled spec reads successes/failures.
type SpawnOutcome struct {
	Started []AgentHandle
	Failed  []SpawnFailure
}

// Successes returns the count of agents successfully started.
func (o SpawnOutcome) Successes() int { return len(o.Started) }

// Failures returns the count of agents that failed to start or exited
// nonzero while starting.
func (o SpawnOutcome) Failures() int { return len(o.Failed) }

// MeisterCount returns how many of the started agents are meisters,
// which is the count the rendezvous watcher (4.E) waits for.
func (o SpawnOutcome) MeisterCount() int {
	n := 0
	for _, h := range o.Started {
		if h.Kind == KindMeister {
			n++
		}
	}
	return n
}

// ErrDialFailed wraps a secure-shell connection failure (could not
// reach the remote host at all).
var ErrDialFailed = errors.New("model: secure-shell dial failed")

// ErrRemoteExit wraps a nonzero exit from the remote launcher once the
// secure-shell session itself succeeded.
type ErrRemoteExit struct {
	Code int
}

func (e ErrRemoteExit) Error() string {
	return fmt.Sprintf("model: remote launcher exited with status %d", e.Code)
}
