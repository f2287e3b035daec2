// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

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
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8317, cfg.Port)
	assert.Equal(t, 0.10, cfg.Router.Epsilon)
	assert.Equal(t, 600000, cfg.Router.LargeContextChars)
	assert.Equal(t, []string{"heartbeat"}, cfg.Router.CheapTierCategories)
	assert.Len(t, cfg.Tiers, 3)
	assert.True(t, cfg.Batch.AutoFlush)
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
port: 9000
router:
  epsilon: 0.25
batch:
  max-queue-size: 3
  auto-flush: false
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 0.25, cfg.Router.Epsilon)
	assert.Equal(t, 3, cfg.Batch.MaxQueueSize)
	assert.False(t, cfg.Batch.AutoFlush)
	// Untouched fields keep defaults.
	assert.Equal(t, 600000, cfg.Router.LargeContextChars)
	assert.Equal(t, "standard", cfg.Router.MinCapableClass)
}

func TestLoadConfig_ExplicitZeroEpsilon(t *testing.T) {
	path := writeConfig(t, `
router:
  epsilon: 0
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// An explicit zero disables exploration; only an absent key gets the default.
	assert.Equal(t, 0.0, cfg.Router.Epsilon)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "port: [not a port\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_ValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad epsilon", "router:\n  epsilon: 1.5\n"},
		{"duplicate tier", "tiers:\n  - id: a\n    class: economy\n  - id: a\n    class: standard\n"},
		{"unknown class", "tiers:\n  - id: a\n    class: mega\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	os.Setenv("TIERFLOW_BATCH_API_KEY", "sk-test-123")
	defer os.Unsetenv("TIERFLOW_BATCH_API_KEY")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.Batch.APIKey)
}

func TestBatchConfig_Durations(t *testing.T) {
	b := BatchConfig{PollInterval: "2s", PollTimeout: "1m", RequestTimeout: "10s"}
	assert.Equal(t, 2*time.Second, b.PollIntervalDuration())
	assert.Equal(t, time.Minute, b.PollTimeoutDuration())
	assert.Equal(t, 10*time.Second, b.RequestTimeoutDuration())

	// Bad or empty values fall back.
	bad := BatchConfig{PollInterval: "soon", PollTimeout: "-3m"}
	assert.Equal(t, 5*time.Second, bad.PollIntervalDuration())
	assert.Equal(t, 5*time.Minute, bad.PollTimeoutDuration())
	assert.Equal(t, 30*time.Second, bad.RequestTimeoutDuration())
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "port: 9000\n")

	reloaded := make(chan *Config, 1)
	w := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("port: 9100\n"), 0600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 9100, cfg.Port)
	case <-time.After(3 * time.Second):
		t.Fatal("config reload was not observed")
	}
}
