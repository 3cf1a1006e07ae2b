// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package teardown implements the Teardown Compensator (§4.F): a
// two-step idempotent shutdown run whenever the coordinator must
// unwind a partially-started fleet, or on a clean abort.
package teardown

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
)

// Code is the teardown compensator's own small result code, returned
// to the exit classifier (§4.G) as the "compensator code" whenever a
// run must abort.
type Code int

const (
	// CodeSignalDelivered means the kill signal reached the bus
	// process.
	CodeSignalDelivered Code = 1
	// CodeIdFileUnreadable means the bus pid file could not be read.
	CodeIdFileUnreadable Code = 2
	// CodeIdFileNotInteger means the bus pid file's contents did not
	// parse as an integer.
	CodeIdFileNotInteger Code = 3
	// CodeProcessNotFound means the recorded pid no longer refers to a
	// running process.
	CodeProcessNotFound Code = 4
	// CodeKernelError means sending the signal failed for a reason
	// other than "process not found".
	CodeKernelError Code = 5
	// CodeUnexpectedError is the catch-all for anything not
	// classified above.
	CodeUnexpectedError Code = 6
)

// terminateMessage is the payload published on the main channel in
// step 1. directory is always null: the compensator has no concept of
// a per-iteration benchmark directory to scope the terminate to.
type terminateMessage struct {
	Action    string  `json:"action"`
	Group     string  `json:"group"`
	Directory *string `json:"directory"`
}

// Publisher is the bus capability step 1 needs. *redis.Client
// satisfies it; tests substitute a fake so publish behavior is
// verified without a live bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Run executes both teardown steps and returns the compensator code
// for step 2. A failure in step 1 is logged, not returned: publish
// errors never change the outcome of the kill step, matching "Publish
// errors are logged, not fatal."
func Run(ctx context.Context, logger *slog.Logger, publisher Publisher, mainChannel, group, pidPath string) Code {
	publishTerminate(ctx, logger, publisher, mainChannel, group)
	return killBusProcess(logger, pidPath)
}

func publishTerminate(ctx context.Context, logger *slog.Logger, publisher Publisher, mainChannel, group string) {
	payload, err := json.Marshal(terminateMessage{Action: "terminate", Group: group, Directory: nil})
	if err != nil {
		logger.Warn("teardown: marshaling terminate message", "error", err)
		return
	}
	if err := publisher.Publish(ctx, mainChannel, payload).Err(); err != nil {
		logger.Warn("teardown: publishing terminate message", "error", err)
	}
}

// killBusProcess reads the bus pid file and sends SIGKILL, classifying
// the outcome into the six-code table. Idempotent: invoking Run twice
// in a row against an already-dead process lands on
// CodeProcessNotFound both times rather than erroring differently the
// second time.
func killBusProcess(logger *slog.Logger, pidPath string) Code {
	content, err := os.ReadFile(pidPath)
	if err != nil {
		logger.Warn("teardown: reading bus id file", "path", pidPath, "error", err)
		return CodeIdFileUnreadable
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil {
		logger.Warn("teardown: bus id file contents not an integer", "path", pidPath, "error", err)
		return CodeIdFileNotInteger
	}

	err = syscall.Kill(pid, syscall.SIGKILL)
	switch {
	case err == nil:
		logger.Info("teardown: bus process killed", "pid", pid)
		return CodeSignalDelivered
	case errors.Is(err, syscall.ESRCH):
		logger.Warn("teardown: bus process not found", "pid", pid)
		return CodeProcessNotFound
	default:
		var errno syscall.Errno
		if errors.As(err, &errno) {
			logger.Warn("teardown: kernel error killing bus process", "pid", pid, "errno", errno)
			return CodeKernelError
		}
		logger.Warn("teardown: unexpected error killing bus process", "pid", pid, "error", err)
		return CodeUnexpectedError
	}
}
