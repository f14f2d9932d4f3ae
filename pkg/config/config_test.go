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
	path := filepath.Join(t.TempDir(), "whizbang.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
service_name: orders
database:
  driver: postgres
  dsn: postgres://localhost/orders
coordination:
  partition_count: 64
  lease_seconds: 120
  stale_threshold_seconds: 240
worker:
  strategy: immediate
  poll_interval: 250ms
  channel_capacity: 32
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "orders", cfg.ServiceName)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 64, cfg.Coordination.PartitionCount)
	assert.Equal(t, 120, cfg.Coordination.LeaseSeconds)
	assert.Equal(t, StrategyImmediate, cfg.Worker.Strategy)
	assert.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval)
	assert.Equal(t, 32, cfg.Worker.ChannelCapacity)

	// Untouched fields keep their defaults
	assert.Equal(t, Default().Coordination.MaxDeliveryAttempts, cfg.Coordination.MaxDeliveryAttempts)
	assert.Equal(t, Default().Worker.Parallelism, cfg.Worker.Parallelism)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "service_name: [")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.ServiceName = "" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = DriverPostgres; c.Database.DSN = "" }},
		{"zero partitions", func(c *Config) { c.Coordination.PartitionCount = 0 }},
		{"zero lease", func(c *Config) { c.Coordination.LeaseSeconds = 0 }},
		{"stale below lease", func(c *Config) { c.Coordination.StaleThresholdSeconds = c.Coordination.LeaseSeconds - 1 }},
		{"zero max attempts", func(c *Config) { c.Coordination.MaxDeliveryAttempts = 0 }},
		{"sql log level out of range", func(c *Config) { c.Coordination.SQLLogLevel = 4 }},
		{"unknown strategy", func(c *Config) { c.Worker.Strategy = "eager" }},
		{"zero poll interval", func(c *Config) { c.Worker.PollInterval = 0 }},
		{"batched without flush size", func(c *Config) { c.Worker.Strategy = StrategyBatched; c.Worker.BatchFlushSize = 0 }},
		{"negative channel capacity", func(c *Config) { c.Worker.ChannelCapacity = -1 }},
		{"zero parallelism", func(c *Config) { c.Worker.Parallelism = 0 }},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddr = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestTopology(t *testing.T) {
	cfg := Default()
	cfg.Coordination.PartitionCount = 8
	cfg.Coordination.LeaseSeconds = 60
	cfg.Coordination.StaleThresholdSeconds = 120

	top := cfg.Topology()
	assert.Equal(t, 8, top.PartitionCount)
	assert.Equal(t, 60, top.LeaseSeconds)
	assert.Equal(t, 120, top.StaleThresholdSeconds)
}
