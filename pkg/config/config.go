package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/whizbang-io/whizbang/pkg/coordinator"
	"github.com/whizbang-io/whizbang/pkg/partition"
	"github.com/whizbang-io/whizbang/pkg/strategy"
	"github.com/whizbang-io/whizbang/pkg/worker"
)

// Driver names the coordinator backend
const (
	DriverPostgres = "postgres"
	DriverEmbedded = "embedded"
)

// Strategy names the flush strategy
const (
	StrategyImmediate = "immediate"
	StrategyBatched   = "batched"
)

// Config is the full service configuration
type Config struct {
	ServiceName string `yaml:"service_name"`

	// InstanceID is generated at startup when empty
	InstanceID string `yaml:"instance_id"`

	Database     Database     `yaml:"database"`
	Coordination Coordination `yaml:"coordination"`
	Worker       Worker       `yaml:"worker"`
	Log          Log          `yaml:"log"`
	Metrics      Metrics      `yaml:"metrics"`
}

// Database selects and configures the coordinator backend
type Database struct {
	Driver string `yaml:"driver"`

	// DSN is the Postgres connection string. Required for the postgres
	// driver.
	DSN string `yaml:"dsn"`

	// Path is the embedded store file. Empty means in-memory only.
	Path string `yaml:"path"`
}

// Coordination holds the cross-instance scheduling parameters
type Coordination struct {
	PartitionCount        int `yaml:"partition_count"`
	LeaseSeconds          int `yaml:"lease_seconds"`
	StaleThresholdSeconds int `yaml:"stale_threshold_seconds"`
	MaxDeliveryAttempts   int `yaml:"max_delivery_attempts"`

	// SQLLogLevel gates coordinator-side log rows: 0=Debug, 1=Info,
	// 2=Warning, 3=Error
	SQLLogLevel int `yaml:"sql_log_level"`
}

// Worker holds the polling-loop parameters
type Worker struct {
	Strategy           string        `yaml:"strategy"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	BatchFlushInterval time.Duration `yaml:"batch_flush_interval"`
	BatchFlushSize     int           `yaml:"batch_flush_size"`

	// ChannelCapacity bounds the serial executors; zero means unbounded
	ChannelCapacity int `yaml:"channel_capacity"`
	Parallelism     int `yaml:"parallelism"`
}

// Log configures process logging
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Metrics configures the Prometheus endpoint
type Metrics struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		ServiceName: "whizbang",
		Database: Database{
			Driver: DriverEmbedded,
		},
		Coordination: Coordination{
			PartitionCount:        partition.DefaultCount,
			LeaseSeconds:          300,
			StaleThresholdSeconds: 600,
			MaxDeliveryAttempts:   coordinator.DefaultMaxDeliveryAttempts,
			SQLLogLevel:           int(coordinator.LogInfo),
		},
		Worker: Worker{
			Strategy:           StrategyBatched,
			PollInterval:       worker.DefaultPollInterval,
			BatchFlushInterval: strategy.DefaultFlushInterval,
			BatchFlushSize:     strategy.DefaultFlushSize,
			Parallelism:        worker.DefaultParallelism,
		},
		Log: Log{
			Level: "info",
			JSON:  true,
		},
		Metrics: Metrics{
			Enabled:    true,
			ListenAddr: ":9090",
		},
	}
}

// Load reads path on top of the defaults and validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot honor
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverEmbedded:
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}

	if c.Coordination.PartitionCount < 1 {
		return fmt.Errorf("coordination.partition_count must be positive, got %d", c.Coordination.PartitionCount)
	}
	if c.Coordination.LeaseSeconds < 1 {
		return fmt.Errorf("coordination.lease_seconds must be positive, got %d", c.Coordination.LeaseSeconds)
	}
	if c.Coordination.StaleThresholdSeconds < c.Coordination.LeaseSeconds {
		return fmt.Errorf("coordination.stale_threshold_seconds (%d) must not be below lease_seconds (%d)",
			c.Coordination.StaleThresholdSeconds, c.Coordination.LeaseSeconds)
	}
	if c.Coordination.MaxDeliveryAttempts < 1 {
		return fmt.Errorf("coordination.max_delivery_attempts must be positive, got %d", c.Coordination.MaxDeliveryAttempts)
	}
	if c.Coordination.SQLLogLevel < int(coordinator.LogDebug) || c.Coordination.SQLLogLevel > int(coordinator.LogError) {
		return fmt.Errorf("coordination.sql_log_level must be between 0 and 3, got %d", c.Coordination.SQLLogLevel)
	}

	switch c.Worker.Strategy {
	case StrategyImmediate, StrategyBatched:
	default:
		return fmt.Errorf("unknown worker.strategy %q", c.Worker.Strategy)
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive, got %s", c.Worker.PollInterval)
	}
	if c.Worker.Strategy == StrategyBatched {
		if c.Worker.BatchFlushInterval <= 0 {
			return fmt.Errorf("worker.batch_flush_interval must be positive, got %s", c.Worker.BatchFlushInterval)
		}
		if c.Worker.BatchFlushSize < 1 {
			return fmt.Errorf("worker.batch_flush_size must be positive, got %d", c.Worker.BatchFlushSize)
		}
	}
	if c.Worker.ChannelCapacity < 0 {
		return fmt.Errorf("worker.channel_capacity must not be negative, got %d", c.Worker.ChannelCapacity)
	}
	if c.Worker.Parallelism < 1 {
		return fmt.Errorf("worker.parallelism must be positive, got %d", c.Worker.Parallelism)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("metrics.listen_addr is required when metrics are enabled")
	}
	return nil
}

// Topology returns the coordination parameters as a strategy topology
func (c *Config) Topology() strategy.Topology {
	return strategy.Topology{
		PartitionCount:        c.Coordination.PartitionCount,
		LeaseSeconds:          c.Coordination.LeaseSeconds,
		StaleThresholdSeconds: c.Coordination.StaleThresholdSeconds,
	}
}
