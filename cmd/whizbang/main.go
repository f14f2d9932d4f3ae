// Command whizbang runs a coordination node: the embedded or Postgres
// coordinator behind a worker loop, with Prometheus metrics exposition.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/whizbang-io/whizbang/pkg/config"
	"github.com/whizbang-io/whizbang/pkg/coordinator"
	"github.com/whizbang-io/whizbang/pkg/dispatcher"
	"github.com/whizbang-io/whizbang/pkg/envelope"
	"github.com/whizbang-io/whizbang/pkg/events"
	"github.com/whizbang-io/whizbang/pkg/log"
	"github.com/whizbang-io/whizbang/pkg/metrics"
	"github.com/whizbang-io/whizbang/pkg/storage"
	"github.com/whizbang-io/whizbang/pkg/strategy"
	"github.com/whizbang-io/whizbang/pkg/worker"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "whizbang",
	Short:   "Whizbang - database-coordinated work processing",
	Long:    `Whizbang coordinates exactly-once, ordered, multi-instance message processing on top of a relational database.`,
	Version: Version,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a coordination node",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		return run(path)
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			return fmt.Errorf("--config is required")
		}
		if _, err := config.Load(path); err != nil {
			return err
		}
		fmt.Println("Configuration OK")
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Whizbang version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	runCmd.Flags().String("config", "", "Path to the YAML configuration file")
	checkCmd.Flags().String("config", "", "Path to the YAML configuration file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
}

func run(configPath string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger := log.WithInstanceID(instanceID)
	logger.Info().Str("service", cfg.ServiceName).Str("driver", cfg.Database.Driver).Msg("Starting node")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	collector := metrics.NewCollector(broker)
	collector.Start()
	defer collector.Stop()

	coord, cleanup, err := buildCoordinator(cfg, broker)
	if err != nil {
		return err
	}
	defer cleanup()

	host, _ := os.Hostname()
	identity := strategy.Identity{
		InstanceID:  instanceID,
		ServiceName: cfg.ServiceName,
		Host:        host,
		PID:         os.Getpid(),
	}

	var strat strategy.Strategy
	switch cfg.Worker.Strategy {
	case config.StrategyImmediate:
		strat = strategy.NewImmediate(coord, identity, cfg.Topology())
	default:
		strat = strategy.NewBatched(coord, identity, cfg.Topology(),
			strategy.WithFlushInterval(cfg.Worker.BatchFlushInterval),
			strategy.WithFlushSize(cfg.Worker.BatchFlushSize),
		)
	}
	defer strat.Close()

	serviceIdentity := envelope.ServiceIdentity{
		ServiceName: cfg.ServiceName,
		InstanceID:  instanceID,
		Host:        host,
		PID:         os.Getpid(),
	}
	registry := dispatcher.NewRegistry()
	typeRegistry := envelope.NewTypeRegistry()
	disp := dispatcher.New(registry, serviceIdentity,
		dispatcher.NewQueueEmitter(strat, serviceIdentity))

	loop := worker.New(strat, disp, nil, typeRegistry,
		worker.WithPollInterval(cfg.Worker.PollInterval),
		worker.WithChannelCapacity(cfg.Worker.ChannelCapacity),
		worker.WithParallelism(cfg.Worker.Parallelism),
		worker.WithLeaseDuration(time.Duration(cfg.Coordination.LeaseSeconds)*time.Second),
		worker.WithBroker(broker),
	)
	loop.Start()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		logger.Info().Str("addr", cfg.Metrics.ListenAddr).Msg("Metrics exposed")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := loop.Stop(ctx); err != nil {
		logger.Error().Err(err).Msg("Worker loop shutdown failed")
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}
	return nil
}

// buildCoordinator wires the configured backend
func buildCoordinator(cfg *config.Config, broker *events.Broker) (coordinator.Coordinator, func(), error) {
	opts := []coordinator.Option{
		coordinator.WithMaxDeliveryAttempts(cfg.Coordination.MaxDeliveryAttempts),
		coordinator.WithBroker(broker),
	}

	switch cfg.Database.Driver {
	case config.DriverPostgres:
		db, err := sqlx.Connect("pgx", cfg.Database.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return coordinator.NewPostgres(db, opts...), func() { db.Close() }, nil

	case config.DriverEmbedded:
		if cfg.Database.Path == "" {
			return coordinator.NewMemory(opts...), func() {}, nil
		}
		store, err := storage.NewBoltStore(cfg.Database.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open embedded store: %w", err)
		}
		coord, err := coordinator.NewMemoryWithStore(store, opts...)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		return coord, func() { store.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
