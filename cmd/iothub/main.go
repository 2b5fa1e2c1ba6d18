// IoT Hub Core - telemetry and actuation hub for microcontroller fleets.
//
// The hub ingests sensor data over HTTP and MQTT, owns the LED actuation
// state, keeps a directory of registered devices, and pushes live updates
// to dashboards over WebSocket. SQLite is the source of truth; InfluxDB
// can optionally mirror readings for long-term dashboards.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/jmtorralvo/iot-hub-core/migrations"

	"github.com/jmtorralvo/iot-hub-core/internal/api"
	"github.com/jmtorralvo/iot-hub-core/internal/bridge"
	"github.com/jmtorralvo/iot-hub-core/internal/directory"
	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/config"
	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/database"
	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/influxdb"
	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/logging"
	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/mqtt"
	"github.com/jmtorralvo/iot-hub-core/internal/telemetry"
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

func main() {
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
	log.Info("starting IoT Hub Core",
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

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database and run migrations
	db, err := database.Open(database.Config{
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Device directory
	registry := directory.NewRegistry(db, cfg.Forwarding.DeviceType, log)

	// Telemetry core with asynchronous command forwarding. The forwarder's
	// failure notices loop back through the core as server_message events.
	var core *telemetry.Core
	forwarder := telemetry.NewForwarder(
		telemetry.ForwarderConfig{
			DefaultAddress: cfg.Forwarding.DefaultAddress,
			Timeout:        cfg.GetForwardTimeout(),
			QueueSize:      cfg.Forwarding.QueueSize,
		},
		registry,
		func(msg telemetry.ServerMessage) { core.Notify(msg) },
		log,
	)
	core = telemetry.NewCore(
		telemetry.NewReadingRepository(db),
		telemetry.NewStateRepository(db),
		forwarder,
		log,
	)
	forwarder.Start(ctx)
	defer forwarder.Stop()
	log.Info("telemetry core initialised",
		"forward_target_type", cfg.Forwarding.DeviceType,
		"forward_default", cfg.Forwarding.DefaultAddress,
	)

	// Connect to MQTT broker. The broker is optional: without it the hub
	// still serves HTTP and WebSocket, matching deployments that run
	// HTTP-only firmware.
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		log.Warn("MQTT unavailable, continuing without broker transport", "error", err)
		mqttClient = nil
	} else {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	}

	// MQTT bridge (sensor subscription + command republish)
	if mqttClient != nil {
		mqttBridge, bridgeErr := bridge.New(mqttClient, core, cfg.MQTT, log)
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		if startErr := mqttBridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			mqttBridge.Stop()
		}()
		log.Info("MQTT bridge started",
			"sensor_topic", cfg.MQTT.Topics.Sensor,
			"command_topic", cfg.MQTT.Topics.Command,
		)
	}

	// InfluxDB telemetry mirror (optional)
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		go mirrorTelemetry(ctx, core, influxClient)
		log.Info("InfluxDB mirror started",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB mirror disabled")
	}

	// HTTP API and WebSocket push channel
	apiServer, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Core:      core,
		Directory: registry,
		DB:        db,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Verify core connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("IoT Hub Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses IOTHUB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IOTHUB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// mirrorTelemetry copies accepted telemetry into InfluxDB.
//
// It runs as an ordinary core subscriber so mirroring can never slow
// ingestion: if this goroutine falls behind, it drops events, and the
// SQLite copy remains complete.
func mirrorTelemetry(ctx context.Context, core *telemetry.Core, influx *influxdb.Client) {
	sub := core.Subscribe()
	defer core.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			switch ev.Name {
			case telemetry.EventSensorUpdate:
				if batch, ok := ev.Payload.(*telemetry.Batch); ok {
					for _, s := range batch.Sensors {
						influx.WriteSensorReading(batch.Device, s.Type, s.Value)
					}
				}
			case telemetry.EventLEDUpdate:
				if state, ok := ev.Payload.(telemetry.State); ok {
					influx.WriteActuatorState(state.Red, state.Green)
				}
			}
		}
	}
}

// healthCheck verifies infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
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

	return nil
}
