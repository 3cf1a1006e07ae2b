// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry seeds the coordination bus with the tool-metadata
// and per-agent parameter records every started agent needs before it
// is started (§4.C).
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pbench/tool-meister-start/internal/busconfig"
	"github.com/pbench/tool-meister-start/internal/model"
	"github.com/pbench/tool-meister-start/internal/toolgroup"
)

// ErrSeedFailed wraps any failure writing a key during Seed: a
// deserialization failure in the tool-metadata descriptor, or a write
// error against the bus.
var ErrSeedFailed = fmt.Errorf("registry: seed failed")

// Writer is the bus capability Seed and WriteRegistry need: setting a
// key's value. *redis.Client satisfies it; tests substitute a fake so
// seeding logic is verified without a live bus.
type Writer interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Seed writes tool metadata and the sink/meister parameter records for
// group into the bus reachable through client. benchmarkRunDir and
// controller are resolved by the caller (the controller identifier
// has its own test-harness escape, §9, kept at a single call site
// upstream of Seed).
func Seed(ctx context.Context, logger *slog.Logger, client Writer, installDir, benchmarkRunDir, controller string, group *toolgroup.ToolGroup) error {
	metadata, err := LoadToolMetadata(installDir)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSeedFailed, err)
	}
	for name, entry := range metadata {
		if err := setJSON(ctx, client, busconfig.ToolMetadataKey(name), entry); err != nil {
			return fmt.Errorf("%w: writing metadata for %s: %v", ErrSeedFailed, name, err)
		}
	}

	sinkParams := model.SinkParameters{
		Channel:         busconfig.MainChannel,
		BenchmarkRunDir: benchmarkRunDir,
		Group:           group.Name,
	}
	if err := setJSON(ctx, client, busconfig.SinkKey(group.Name), sinkParams); err != nil {
		return fmt.Errorf("%w: writing sink parameters: %v", ErrSeedFailed, err)
	}
	logger.Debug("registry: seeded sink parameters", "key", busconfig.SinkKey(group.Name))

	for _, host := range group.SortedHosts() {
		meisterParams := model.MeisterParameters{
			BenchmarkRunDir: benchmarkRunDir,
			Channel:         busconfig.MainChannel,
			Controller:      controller,
			Group:           group.Name,
			Hostname:        host,
			Tools:           group.HostTools(host),
		}
		key := busconfig.MeisterKey(group.Name, host)
		if err := setJSON(ctx, client, key, meisterParams); err != nil {
			return fmt.Errorf("%w: writing meister parameters for %s: %v", ErrSeedFailed, host, err)
		}
		logger.Debug("registry: seeded meister parameters", "host", host, "key", key)
	}

	return nil
}

func setJSON(ctx context.Context, client Writer, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", key, err)
	}
	return client.Set(ctx, key, payload, 0).Err()
}

// WriteRegistry persists the final AgentIdRegistry under
// busconfig.RegistryKey once the rendezvous watcher has observed every
// expected registration (§4.G).
func WriteRegistry(ctx context.Context, client Writer, registry model.AgentIdRegistry) error {
	if err := setJSON(ctx, client, busconfig.RegistryKey, registry); err != nil {
		return fmt.Errorf("registry: writing %s: %w", busconfig.RegistryKey, err)
	}
	return nil
}
