// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolgroup parses an on-disk tool-group directory tree into
// the normalized in-memory model the rest of the coordinator consumes.
package toolgroup

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrBadGroup is returned when the resolved tool-group directory does
// not exist, is not a directory, or cannot be traversed.
var ErrBadGroup = errors.New("toolgroup: bad group")

const (
	triggerEntry     = "__trigger__"
	labelEntry       = "__label__"
	noinstallSuffix  = "__noinstall__"
	defaultGroupName = "default"
)

// ToolGroup is the normalized, immutable description of one tool
// group: which tools run with which options on which hosts.
type ToolGroup struct {
	Name      string
	Trigger   string // empty when absent
	Hostnames map[string]HostDescriptor
	Labels    map[string]string
	Toolnames map[string]map[string]string // tool -> host -> options
}

// HostDescriptor is a derived, read-only view of the tools configured
// for one host, keyed by tool name.
type HostDescriptor map[string]string

// HasTrigger reports whether the group has a non-empty trigger.
func (t *ToolGroup) HasTrigger() bool { return t.Trigger != "" }

// SortedHosts returns the group's host identifiers in deterministic
// (lexical) order. Downstream code that needs stable iteration order
// (spawning, key seeding) should use this instead of ranging over
// Hostnames directly.
func (t *ToolGroup) SortedHosts() []string {
	hosts := make([]string, 0, len(t.Hostnames))
	for host := range t.Hostnames {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

// HostTools returns the tool->options mapping for one host, derived
// from Toolnames. Returns an empty, non-nil map when the host has no
// tools configured.
func (t *ToolGroup) HostTools(host string) HostDescriptor {
	tools := make(HostDescriptor)
	for tool, hosts := range t.Toolnames {
		if options, ok := hosts[host]; ok {
			tools[tool] = options
		}
	}
	return tools
}

// Load parses root, the directory of the named group (normally
// $pbench_run/tools-v1-<group>), and returns its normalized model.
//
// Load never relies on filesystem enumeration order: callers that need
// determinism use ToolGroup.SortedHosts.
func Load(logger *slog.Logger, root, name string) (*ToolGroup, error) {
	if name == "" {
		name = defaultGroupName
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadGroup, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrBadGroup, root)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrBadGroup, root, err)
	}

	group := &ToolGroup{
		Name:      name,
		Hostnames: make(map[string]HostDescriptor),
		Labels:    make(map[string]string),
		Toolnames: make(map[string]map[string]string),
	}

	for _, entry := range entries {
		switch {
		case entry.Name() == triggerEntry:
			trigger, err := readTrigger(filepath.Join(root, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("%w: reading trigger: %v", ErrBadGroup, err)
			}
			group.Trigger = trigger

		case !entry.IsDir():
			logger.Warn("tool group: skipping non-directory top-level entry",
				"group", name, "entry", entry.Name())

		default:
			if err := loadHost(logger, group, root, entry.Name()); err != nil {
				return nil, err
			}
		}
	}

	// Materialize the derived per-host view now that all tools are
	// known, so Hostnames always reflects the final Toolnames content.
	for host := range group.Hostnames {
		group.Hostnames[host] = group.HostTools(host)
	}

	return group, nil
}

func loadHost(logger *slog.Logger, group *ToolGroup, root, host string) error {
	group.Hostnames[host] = HostDescriptor{}

	hostDir := filepath.Join(root, host)
	entries, err := os.ReadDir(hostDir)
	if err != nil {
		return fmt.Errorf("%w: reading host %s: %v", ErrBadGroup, host, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		switch {
		case entry.IsDir():
			logger.Warn("tool group: skipping nested directory under host",
				"group", group.Name, "host", host, "entry", name)

		case name == labelEntry:
			content, err := os.ReadFile(filepath.Join(hostDir, name))
			if err != nil {
				return fmt.Errorf("%w: reading label for %s: %v", ErrBadGroup, host, err)
			}
			group.Labels[host] = strings.TrimSpace(string(content))

		case strings.HasSuffix(name, noinstallSuffix):
			// Marker file; the install step it annotates is out of
			// scope for the coordinator.

		default:
			options, err := readOptions(filepath.Join(hostDir, name))
			if err != nil {
				return fmt.Errorf("%w: reading tool %s for %s: %v", ErrBadGroup, name, host, err)
			}
			if group.Toolnames[name] == nil {
				group.Toolnames[name] = make(map[string]string)
			}
			group.Toolnames[name][host] = options
		}
	}

	return nil
}

// readTrigger reads the __trigger__ file verbatim, returning an empty
// string when the file is empty or holds only newlines. Any other
// content is stored exactly as written, including any trailing
// newline.
func readTrigger(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if strings.Trim(string(content), "\n") == "" {
		return "", nil
	}
	return string(content), nil
}

// readOptions reads a tool options file, dropping blank/whitespace-only
// lines after trimming and joining the remainder with single spaces.
func readOptions(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	var parts []string
	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		parts = append(parts, trimmed)
	}
	return strings.Join(parts, " "), nil
}

// GroupDirName returns the on-disk directory name for a group under
// pbench_run, matching the tools-v1-<group> convention.
func GroupDirName(name string) string {
	if name == "" {
		name = defaultGroupName
	}
	return "tools-v1-" + name
}
