// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/pbench/tool-meister-start/internal/coordinator"
	"github.com/pbench/tool-meister-start/internal/process"
)

const version = "1.0.0"

func main() {
	code, err := run(os.Args[1:], os.Getenv)
	if err != nil {
		process.Fatal(code, err)
	}
	os.Exit(code)
}

func run(args []string, getenv coordinator.Getenv) (int, error) {
	flags := pflag.NewFlagSet("tool-meister-start", pflag.ContinueOnError)
	showVersion := flags.Bool("version", false, "print version information and exit")
	logLevel := flags.String("log-level", "", "log level (debug or info); overrides _PBENCH_TOOL_MEISTER_START_LOG_LEVEL when set")
	busBinPath := flags.String("bus-bin", "/usr/bin/pbench-redis", "path to the coordination bus executable")
	sinkBinPath := flags.String("sink-bin", "/usr/libexec/pbench-tool-data-sink", "path to the data-sink executable")
	meisterBinPath := flags.String("meister-bin", "/usr/libexec/pbench-tool-meister", "path to the local tool-meister executable")
	remoteBinPath := flags.String("remote-bin", "", "path to the remote tool-meister launcher, resolved on the target host (default: tool-meister/pbench-tool-meister-remote under the installation directory)")
	sshUser := flags.String("ssh-user", "pbench", "username used to reach remote hosts over secure shell")

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0, nil
		}
		return coordinator.ExitConfigError, fmt.Errorf("parsing flags: %w", err)
	}

	if *showVersion {
		fmt.Printf("tool-meister-start %s\n", version)
		return 0, nil
	}

	groupName := "default"
	if positional := flags.Args(); len(positional) > 0 {
		groupName = positional[0]
	}

	cfg, err := coordinator.LoadConfig(getenv)
	if err != nil {
		return coordinator.ExitConfigError, fmt.Errorf("loading configuration: %w", err)
	}

	debug := cfg.DebugLogging
	if *logLevel != "" {
		debug = *logLevel == "debug"
	}
	logger := newLogger(debug).With("run_id", uuid.NewString())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	remoteBin := *remoteBinPath
	if remoteBin == "" {
		remoteBin = filepath.Join(cfg.InstallDir(), "tool-meister", "pbench-tool-meister-remote")
	}

	bins := coordinator.Binaries{
		BusBinPath:     *busBinPath,
		SinkBinPath:    *sinkBinPath,
		MeisterBinPath: *meisterBinPath,
		RemoteBinPath:  remoteBin,
	}

	deps := coordinator.Dependencies{
		RemoteLauncher: newRemoteLauncher(logger, *sshUser),
	}

	code, err := coordinator.Run(ctx, logger, cfg, bins, deps, groupName)
	if err != nil {
		logger.Error("tool-meister-start: exiting", "code", code, "error", err)
	}
	return code, err
}

// newLogger builds the structured logger used for the remainder of
// the process. debug gates the bus-poll and per-host spawn/rendezvous
// chatter that is otherwise too noisy for normal runs.
func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
