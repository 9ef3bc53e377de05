package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pcapminer/internal/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
pcapminer:
  node:
    hostname: "miner-01"
  coordinator:
    listen: "127.0.0.1:4000"
    idle_timeout: "5s"
    queue_size: 4
  worker:
    id: "w-1"
    coordinator: "10.0.0.1:4000"
    finalize_local: true
  output:
    dir: "/tmp/out"
    kafka:
      enabled: true
      brokers: ["localhost:9092"]
      topic: "artifacts"
      compression: "lz4"
  enrichment:
    whois:
      enabled: true
    static:
      - address: "1.1.1.1"
        country_code: "AU"
        asn: "13335"
  analyzers:
    top-20-services:
      top_n: 10
  log:
    level: "debug"
    format: "text"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "miner-01", cfg.Node.Hostname)
	assert.Equal(t, "127.0.0.1:4000", cfg.Coordinator.Listen)
	assert.Equal(t, 5*time.Second, cfg.Coordinator.IdleTimeout)
	assert.Equal(t, 4, cfg.Coordinator.QueueSize)
	assert.Equal(t, "w-1", cfg.Worker.ID)
	assert.Equal(t, "10.0.0.1:4000", cfg.Worker.Coordinator)
	assert.True(t, cfg.Worker.FinalizeLocal)
	assert.Equal(t, "/tmp/out", cfg.Output.Dir)
	assert.True(t, cfg.Output.Kafka.Enabled)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Output.Kafka.Brokers)
	assert.Equal(t, "lz4", cfg.Output.Kafka.Compression)
	assert.True(t, cfg.Enrichment.Whois.Enabled)
	assert.Equal(t, "whois.cymru.com:43", cfg.Enrichment.Whois.Address)
	require.Len(t, cfg.Enrichment.Static, 1)
	assert.Equal(t, "1.1.1.1", cfg.Enrichment.Static[0].Address)
	assert.Equal(t, "AU", cfg.Enrichment.Static[0].CountryCode)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.EqualValues(t, 10, cfg.AnalyzerOptions("top-20-services")["top_n"])
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":3000", cfg.Coordinator.Listen)
	assert.Equal(t, 60*time.Second, cfg.Coordinator.IdleTimeout)
	assert.Equal(t, 16, cfg.Coordinator.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.Worker.DialTimeout)
	assert.Equal(t, 5*time.Second, cfg.Worker.HeartbeatInterval)
	assert.True(t, cfg.Worker.ParseHTTP)
	assert.Equal(t, time.Hour, cfg.Enrichment.CacheTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.NotEmpty(t, cfg.Node.Hostname)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PCAPMINER_LOG_LEVEL", "warn")
	t.Setenv("PCAPMINER_COORDINATOR_LISTEN", ":3999")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, ":3999", cfg.Coordinator.Listen)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "pcapminer:\n  log:\n    level: verbose\n"},
		{"bad log format", "pcapminer:\n  log:\n    format: xml\n"},
		{"kafka without brokers", "pcapminer:\n  output:\n    kafka:\n      enabled: true\n"},
		{"kafka bad compression", "pcapminer:\n  output:\n    kafka:\n      enabled: true\n      brokers: [\"k:9092\"]\n      compression: brotli\n"},
		{"zero idle timeout", "pcapminer:\n  coordinator:\n    idle_timeout: 0s\n"},
		{"zero heartbeat interval", "pcapminer:\n  worker:\n    heartbeat_interval: 0s\n"},
		{"metrics path clashes with status", "pcapminer:\n  metrics:\n    path: /status\n"},
		{"bad static address", "pcapminer:\n  enrichment:\n    static:\n      - address: not-an-ip\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			assert.ErrorIs(t, err, core.ErrConfigInvalid)
		})
	}
}

func TestAnalyzerOptionsIgnoresCase(t *testing.T) {
	cfg := &GlobalConfig{Analyzers: map[string]map[string]any{
		"ip-version": {"top_n": 3},
	}}
	assert.NotNil(t, cfg.AnalyzerOptions("IP-version"))
	assert.Nil(t, cfg.AnalyzerOptions("ICMP_messages"))
}
