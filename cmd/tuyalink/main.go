// tuyalink - Local Tuya Device Command Dispatch Engine
//
// This is the main entry point for the tuyalink daemon. It commands
// Tuya-protocol smart devices over the local network:
//   - Exclusive per-device connections with FIFO queuing
//   - Bounded retry with exponential backoff
//   - UDP discovery of device announcements
//   - REST/WebSocket and MQTT command surfaces
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/tuyalink-core/migrations"

	"github.com/nerrad567/tuyalink-core/internal/api"
	"github.com/nerrad567/tuyalink-core/internal/bridge"
	"github.com/nerrad567/tuyalink-core/internal/device"
	"github.com/nerrad567/tuyalink-core/internal/discovery"
	"github.com/nerrad567/tuyalink-core/internal/dispatch"
	"github.com/nerrad567/tuyalink-core/internal/infrastructure/config"
	"github.com/nerrad567/tuyalink-core/internal/infrastructure/database"
	"github.com/nerrad567/tuyalink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/tuyalink-core/internal/infrastructure/logging"
	"github.com/nerrad567/tuyalink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/tuyalink-core/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// transportDriver names the wire-protocol implementation the dispatcher
// uses. A concrete implementation registers itself under this name via
// transport.Register, typically from a blank import.
const transportDriver = "tuya"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting tuyalink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise device registry from persistence, then apply the seed
	// file. Seeding is idempotent: credentials only ever enter through
	// the seed, so re-applying it on every boot keeps them current.
	registry := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	registry.SetLogger(log)
	if loadErr := registry.Load(ctx); loadErr != nil {
		return fmt.Errorf("loading device registry: %w", loadErr)
	}
	if seedErr := seedRegistry(ctx, cfg.Devices.SeedFile, registry, log); seedErr != nil {
		return seedErr
	}
	log.Info("device registry initialised", "devices", registry.Count())

	// Select the transport driver. Without one the engine still serves
	// the registry, discovery, and API surfaces; dispatch fails with a
	// permanent transport error naming the missing driver.
	adapter, err := transport.Driver(transportDriver)
	if err != nil {
		log.Warn("no transport driver linked, dispatch disabled",
			"driver", transportDriver,
			"registered", transport.Drivers(),
		)
		adapter = unavailableAdapter{}
	}

	// Dispatch engine: gate, dispatcher, batcher.
	gate := dispatch.NewGate(cfg.Dispatch.SessionIdleTimeout, adapter.Close)
	defer gate.CloseAll()

	dispatcher := dispatch.NewDispatcher(registry, gate, adapter, dispatch.Config{
		RetryCeiling:   cfg.Dispatch.RetryCeiling,
		BackoffBase:    cfg.Dispatch.BackoffBase,
		BackoffCap:     cfg.Dispatch.BackoffCap,
		AcquireTimeout: cfg.Dispatch.AcquireTimeout,
		CallTimeout:    cfg.Dispatch.CallTimeout,
	}, log)
	batcher := dispatch.NewBatcher(dispatcher, cfg.Dispatch.BatchFanout, log)

	// Close idle device sessions in the background.
	go gateJanitor(ctx, gate, cfg.Dispatch.SessionIdleTimeout, log)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// MQTT command bridge (requires broker)
	if mqttClient != nil {
		var telemetry bridge.Telemetry
		if influxClient != nil {
			telemetry = influxClient
		}
		cmdBridge := bridge.New(mqttClient, dispatcher, registry, telemetry, log)
		if startErr := cmdBridge.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			if stopErr := cmdBridge.Stop(); stopErr != nil {
				log.Error("error stopping MQTT bridge", "error", stopErr)
			}
		}()
		log.Info("MQTT bridge started")
	}

	// Discovery: UDP announcement listener, merged into the registry.
	// One sweep runs at startup; further sweeps are API-triggered.
	source := discovery.NewUDPSource(cfg.Discovery.Port, nil, log)
	merger := discovery.NewMerger(registry, source, log)
	go initialDiscovery(ctx, merger, cfg.Discovery.DefaultBudget, influxClient, log)

	// HTTP API server
	server, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Registry:   registry,
		Dispatcher: dispatcher,
		Batcher:    batcher,
		Merger:     merger,
		MQTT:       mqttClient,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, MQTT bridge, InfluxDB, MQTT, gate sessions, database.

	log.Info("tuyalink stopped")
	return nil
}

// seedRegistry applies the device seed file. A missing file is not
// fatal: the engine can run on discovery alone, with devices pending
// configuration until credentials arrive.
func seedRegistry(ctx context.Context, path string, registry *device.Registry, log *logging.Logger) error {
	records, seedErrs, err := device.LoadSeed(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("seed file missing, running with discovered devices only", "path", path)
			return nil
		}
		return fmt.Errorf("loading seed file: %w", err)
	}

	for _, seedErr := range seedErrs {
		log.Warn("skipping malformed seed record", "error", seedErr)
	}

	if err := registry.Seed(ctx, records); err != nil {
		return fmt.Errorf("seeding registry: %w", err)
	}
	log.Info("seed file applied", "path", path, "records", len(records), "skipped", len(seedErrs))
	return nil
}

// gateJanitor periodically closes device sessions that have sat idle
// past the configured timeout.
func gateJanitor(ctx context.Context, gate *dispatch.Gate, interval time.Duration, log *logging.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if closed := gate.CloseIdle(now); closed > 0 {
				log.Debug("closed idle device sessions", "count", closed)
			}
		}
	}
}

// initialDiscovery runs one discovery sweep shortly after boot so the
// registry picks up address changes without waiting for an API call.
func initialDiscovery(ctx context.Context, merger *discovery.Merger, budget time.Duration, influx *influxdb.Client, log *logging.Logger) {
	summary, err := merger.Run(ctx, budget)
	if err != nil {
		log.Warn("startup discovery sweep failed", "error", err)
		return
	}
	log.Info("startup discovery sweep complete",
		"seen", summary.Seen,
		"new", summary.New,
		"updated", summary.Updated,
	)
	if influx != nil {
		influx.WriteDiscoverySummary(summary.Seen, summary.New, summary.Updated)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// Optional clients may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}

// getConfigPath returns the configuration file path.
// Uses TUYALINK_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TUYALINK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// unavailableAdapter stands in when no transport driver is linked into
// the binary. Every call fails permanently so the dispatcher surfaces
// the condition immediately instead of retrying.
type unavailableAdapter struct{}

func (unavailableAdapter) Open(context.Context, transport.Endpoint) (transport.Session, error) {
	return nil, transport.Permanent(fmt.Errorf("no %q transport driver linked into this binary", transportDriver))
}

func (unavailableAdapter) Send(context.Context, transport.Session, transport.Params) (transport.Params, error) {
	return nil, transport.Permanent(fmt.Errorf("no %q transport driver linked into this binary", transportDriver))
}

func (unavailableAdapter) Status(context.Context, transport.Session) (transport.Params, error) {
	return nil, transport.Permanent(fmt.Errorf("no %q transport driver linked into this binary", transportDriver))
}

func (unavailableAdapter) Close(transport.Session) error { return nil }
