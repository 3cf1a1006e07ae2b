// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package busconfig centralizes the coordination bus's wire-level
// constants (port, channel names, key templates, run-directory
// layout) so the coordinator and any future stop tooling import one
// definition instead of duplicating string literals.
package busconfig

import (
	"strconv"
	"time"
)

const (
	// Port is the fixed TCP port the bus listens on.
	Port = 17001

	// RunSubdir is the coordinator's working subdirectory, relative
	// to benchmark_run_dir.
	RunSubdir = "tm"

	// ConfigFilename is the bus configuration file written by the
	// launcher, relative to RunSubdir.
	ConfigFilename = "redis.conf"

	// DatabaseFilename is the bus's on-disk snapshot file, relative
	// to RunSubdir.
	DatabaseFilename = "pbench-redis.rdb"

	// MainChannel is the bus channel agents and the coordinator use
	// for control broadcasts (e.g. terminate).
	MainChannel = "tool-meister-chan"

	// StartChannelSuffix is appended to MainChannel to form the
	// channel agents publish readiness announcements on.
	StartChannelSuffix = "-start"

	// MaxWait bounds how long the launcher polls for the bus to
	// accept a subscription before giving up. Mirrors REDIS_MAX_WAIT.
	MaxWait = 60 * time.Second

	// PollInterval is the sleep between bus-readiness poll attempts.
	PollInterval = 100 * time.Millisecond

	// RendezvousStallWarning is how long the rendezvous watcher waits
	// without a new registration before logging a non-fatal stall
	// warning (§8.2). It never bounds the wait itself.
	RendezvousStallWarning = 60 * time.Second
)

// PidFilename returns the bus process-id file name for Port, relative
// to RunSubdir (e.g. "redis_17001.pid").
func PidFilename() string {
	return "redis_" + strconv.Itoa(Port) + ".pid"
}

// StartChannel returns the channel agents publish "I am up" messages
// on for the given main channel name.
func StartChannel(mainChannel string) string {
	return mainChannel + StartChannelSuffix
}

// SinkKey returns the bus key holding the sink's parameter record.
func SinkKey(group string) string {
	return "tds-" + group
}

// MeisterKey returns the bus key holding a meister's parameter record.
func MeisterKey(group, host string) string {
	return "tm-" + group + "-" + host
}

// RegistryKey is the bus key the final AgentIdRegistry is written to.
const RegistryKey = "tm-pids"

// ToolMetadataKey returns the bus key one tool's bundled metadata
// descriptor is seeded under (§4.C). Each tool in the installation's
// descriptor file gets its own key, rather than one large blob, so a
// meister can fetch only the tools it was configured to run.
func ToolMetadataKey(tool string) string {
	return "tm-meta-" + tool
}
