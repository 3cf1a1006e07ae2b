// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"fmt"
	"path/filepath"

	"github.com/pbench/tool-meister-start/internal/busconfig"
)

// Settings are the typed inputs to the bus configuration file. Fields
// map directly onto the rendered Redis-protocol .conf directives; the
// struct itself is never serialized as YAML on the wire — it exists so
// the render step (renderConf) has a single validated source of truth
// instead of string-formatting flags inline, mirroring the teacher's
// lib/config pattern of a typed struct feeding a text/file renderer.
type Settings struct {
	// Binds are the addresses the bus listens on (loopback and the
	// controller's fully-qualified identifier).
	Binds []string
	Port  int

	// RunDir is the bus's data directory; the pid file, database
	// file, and this config file all live here.
	RunDir string
}

// ConfigPath returns the path the rendered configuration is written
// to, relative to Settings.RunDir.
func ConfigPath(runDir string) string {
	return filepath.Join(runDir, busconfig.ConfigFilename)
}

// PidFilePath returns the path the bus writes its own process id to.
func PidFilePath(runDir string) string {
	return filepath.Join(runDir, busconfig.PidFilename())
}

// DatabasePath returns the path of the bus's on-disk snapshot file.
func DatabasePath(runDir string) string {
	return filepath.Join(runDir, busconfig.DatabaseFilename)
}

// renderConf renders the Redis-wire configuration file content for
// Settings: bound to every address in Binds, daemonized, data
// directory and pid file under RunDir.
func renderConf(s Settings) string {
	conf := fmt.Sprintf(
		"port %d\n"+
			"daemonize yes\n"+
			"dir %s\n"+
			"dbfilename %s\n"+
			"pidfile %s\n"+
			"save \"\"\n"+
			"appendonly no\n",
		s.Port,
		s.RunDir,
		busconfig.DatabaseFilename,
		filepath.Base(PidFilePath(s.RunDir)),
	)
	for _, bind := range s.Binds {
		conf += fmt.Sprintf("bind %s\n", bind)
	}
	return conf
}
