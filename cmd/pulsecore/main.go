// Pulse Core - Device Command Scheduler
//
// This is the main entry point for the Pulse Core service. It lets many
// remote requesters drive a shared set of output devices one command at
// a time:
//   - Commands are queued FIFO and executed strictly one after another
//   - Each requester is rate limited over a fixed window
//   - Operators can lock admissions and stop every device at once
//
// Devices are reached through a bridge daemon over MQTT, optionally
// supervised by this process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/nerrad567/pulse-core/migrations"

	"github.com/nerrad567/pulse-core/internal/api"
	"github.com/nerrad567/pulse-core/internal/audit"
	"github.com/nerrad567/pulse-core/internal/bridge"
	"github.com/nerrad567/pulse-core/internal/device"
	"github.com/nerrad567/pulse-core/internal/infrastructure/config"
	"github.com/nerrad567/pulse-core/internal/infrastructure/database"
	"github.com/nerrad567/pulse-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/pulse-core/internal/infrastructure/logging"
	"github.com/nerrad567/pulse-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/pulse-core/internal/process"
	"github.com/nerrad567/pulse-core/internal/scheduler"
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

// shutdownStopTimeout bounds the final stop-all issued on shutdown.
const shutdownStopTimeout = 5 * time.Second

// systemOperatorID is recorded as the actor for shutdown stops.
const systemOperatorID = "system"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:funlen // linear start-up sequence reads best in one place
	log := logging.Default()
	log.Info("starting Pulse Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Audit journal storage
	db, err := database.Open(ctx, cfg.Database)
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// MQTT broker shared with the device bridge
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	// Actuation telemetry (optional)
	var telemetry audit.TelemetryWriter
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Device inventory and bridge
	registry := device.NewRegistry()
	registry.SetLogger(log)

	deviceBridge := bridge.New(mqttClient, registry)
	deviceBridge.SetLogger(log)
	if startErr := deviceBridge.Start(); startErr != nil {
		return fmt.Errorf("starting device bridge: %w", startErr)
	}
	log.Info("device bridge subscribed")

	// Locally supervised bridge daemon (optional)
	var bridgeProcess api.ProcessStatsProvider
	if cfg.Bridge.Process.Enabled {
		supervisor := process.NewSupervisor(process.ConfigFromBridge(cfg.Bridge.Process))
		supervisor.SetLogger(log)
		supervisor.SetHealthCheck(deviceBridge.HealthCheck)
		if startErr := supervisor.Start(ctx); startErr != nil {
			return fmt.Errorf("starting bridge process: %w", startErr)
		}
		defer supervisor.Stop()
		bridgeProcess = supervisor
		log.Info("bridge process supervised", "binary", cfg.Bridge.Process.Binary)
	}

	// Audit recorder
	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), telemetry)
	recorder.SetLogger(log)
	recorder.Start()
	defer func() {
		recorder.Stop()
		if dropped := recorder.Dropped(); dropped > 0 {
			log.Warn("audit events dropped", "count", dropped)
		}
	}()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Scheduler
	svc := scheduler.NewService(scheduler.OptionsFromConfig(cfg.Scheduler), deviceBridge)
	svc.SetLogger(log)
	svc.SetMetrics(scheduler.NewMetrics(reg))
	svc.SetObserver(recorder)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownStopTimeout)
		defer cancel()
		signalled := svc.StopAll(stopCtx, systemOperatorID)
		log.Info("devices stopped for shutdown", "signalled", signalled)
	}()
	log.Info("scheduler ready",
		"rate_limit", cfg.Scheduler.RateLimit.MaxCommands,
		"rate_window", cfg.Scheduler.RateLimitWindow(),
		"pulse_cadence", cfg.Scheduler.PulseCadence(),
		"cooldown", cfg.Scheduler.Cooldown(),
	)

	// HTTP API
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log,
		Scheduler: svc,
		AuditRepo: audit.NewSQLiteRepository(db.DB),
		Gatherer:  reg,
		MQTT:      mqttClient,
		Bridge:    deviceBridge,
		Process:   bridgeProcess,
		DB:        db.DB,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. API server
	// 2. Stop every device (before MQTT goes away)
	// 3. Audit recorder flush
	// 4. InfluxDB (if enabled)
	// 5. MQTT
	// 6. Database

	return nil
}

// getConfigPath returns the configuration file path.
// Uses PULSECORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("PULSECORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
