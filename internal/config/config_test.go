// PlayRelay - Multi-Source Play Discovery and Scrobble Dispatch
// Copyright 2026 PlayRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/playrelay/playrelay

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, ":8573", cfg.Server.ListenAddr)
	assert.Equal(t, 240*time.Second, cfg.Discovery.DurationThreshold)
	assert.Equal(t, 0.5, cfg.Discovery.PercentThreshold)
	assert.Equal(t, 50, cfg.Discovery.HistorySize)
	assert.Equal(t, 240*time.Second, cfg.Dedup.Window)
	assert.Equal(t, 5, cfg.Dispatch.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Dispatch.BackoffBase)
	assert.Equal(t, 60*time.Second, cfg.Dispatch.BackoffCap)
	assert.Equal(t, 95, cfg.Matcher.MinScore)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
logging:
  level: debug
discovery:
  duration_threshold: 120s
sources:
  - id: living-room
    type: json
    enabled: true
    url: https://player.local/api/recent
    poll_interval: 30s
clients:
  - id: lb
    type: listenbrainz
    enabled: true
    token: secret
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 120*time.Second, cfg.Discovery.DurationThreshold)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "living-room", cfg.Sources[0].ID)
	assert.Equal(t, 30*time.Second, cfg.Sources[0].PollInterval)
	require.Len(t, cfg.Clients, 1)
	assert.Equal(t, "listenbrainz", cfg.Clients[0].Type)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PLAYRELAY_SERVER__LISTEN_ADDR", ":9999")
	t.Setenv("PLAYRELAY_LOGGING__LEVEL", "warn")

	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_PollIntervalFloor(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
sources:
  - id: fast
    type: json
    enabled: true
    url: https://player.local/api/recent
    poll_interval: 5s
`))
	require.NoError(t, err)

	// Below the enforced floor: raised, not rejected.
	assert.Equal(t, MinPollInterval, cfg.Sources[0].PollInterval)
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown source type", `
sources:
  - id: s
    type: carrierpigeon
    enabled: true
`},
		{"missing source id", `
sources:
  - type: webhook
    enabled: true
`},
		{"unknown client type", `
clients:
  - id: c
    type: minidisc
    enabled: true
`},
		{"duplicate source id", `
sources:
  - id: s
    type: webhook
    enabled: true
  - id: s
    type: webhook
    enabled: true
`},
		{"json source without url", `
sources:
  - id: s
    type: json
    enabled: true
`},
		{"lastfm client missing session", `
clients:
  - id: c
    type: lastfm
    enabled: true
    api_key: k
    api_secret: s
`},
		{"listenbrainz client missing token", `
clients:
  - id: c
    type: listenbrainz
    enabled: true
`},
		{"bad percent threshold", `
discovery:
  percent_threshold: 1.5
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestResolve_SourceOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
sources:
  - id: s
    type: json
    enabled: true
    url: https://player.local/api/recent
    poll_interval: 60s
    discovery:
      duration_threshold: 100s
`))
	require.NoError(t, err)

	d := cfg.Resolve(cfg.Sources[0])
	assert.Equal(t, 100*time.Second, d.DurationThreshold)
	assert.Equal(t, 0.5, d.PercentThreshold)
	// StaleAfter falls back to 2x the poll interval.
	assert.Equal(t, 120*time.Second, d.StaleAfter)
}

func TestResolveDispatch_ClientOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
clients:
  - id: c
    type: listenbrainz
    enabled: true
    token: secret
    max_attempts: 3
    queue_size: 10
`))
	require.NoError(t, err)

	d := cfg.ResolveDispatch(cfg.Clients[0])
	assert.Equal(t, 3, d.MaxAttempts)
	assert.Equal(t, 10, d.QueueSize)
	assert.Equal(t, 100, d.HoldBufferSize)
}
