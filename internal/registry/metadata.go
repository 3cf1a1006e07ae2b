// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ToolMetadata is one entry from the installation's bundled tool
// descriptor file: static facts about a tool that meisters need but
// that are not part of any one group's configuration (e.g. whether
// the tool persists across benchmark iterations).
type ToolMetadata struct {
	Name           string `yaml:"name"`
	Persistent     bool   `yaml:"persistent"`
	DefaultOptions string `yaml:"default_options"`
}

// metadataDescriptorPath is the bundled descriptor's location,
// relative to the installation directory referenced by
// _PBENCH_AGENT_CONFIG's directory.
const metadataDescriptorPath = "tool-meister/tool-metadata.yaml"

// LoadToolMetadata reads and deserializes the static tool descriptor
// file bundled with the installation at installDir. Failure to locate
// or deserialize it is fatal to the seed step (§4.C).
func LoadToolMetadata(installDir string) (map[string]ToolMetadata, error) {
	path := filepath.Join(installDir, metadataDescriptorPath)

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: locating tool metadata descriptor %s: %w", path, err)
	}

	var entries []ToolMetadata
	if err := yaml.Unmarshal(content, &entries); err != nil {
		return nil, fmt.Errorf("registry: parsing tool metadata descriptor %s: %w", path, err)
	}

	byName := make(map[string]ToolMetadata, len(entries))
	for _, entry := range entries {
		if entry.Name == "" {
			return nil, fmt.Errorf("registry: tool metadata descriptor %s has an entry with no name", path)
		}
		byName[entry.Name] = entry
	}
	return byName, nil
}
