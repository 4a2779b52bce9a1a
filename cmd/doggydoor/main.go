// Doggy Door - proximity-driven pet door lock controller
//
// This is the main entry point for the doggy door service. It watches
// for a BLE tracker tag on the dog's collar, unlocks the pet door when
// the tag comes close, and locks it again when the tag leaves or the
// auto-relock timeout elapses. The physical lock is driven through a
// Homebridge accessory API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nranderson/doggydoor/migrations"

	"github.com/nranderson/doggydoor/internal/api"
	"github.com/nranderson/doggydoor/internal/ble"
	"github.com/nranderson/doggydoor/internal/bridges/homebridge"
	"github.com/nranderson/doggydoor/internal/door"
	"github.com/nranderson/doggydoor/internal/infrastructure/config"
	"github.com/nranderson/doggydoor/internal/infrastructure/database"
	"github.com/nranderson/doggydoor/internal/infrastructure/influxdb"
	"github.com/nranderson/doggydoor/internal/infrastructure/logging"
	"github.com/nranderson/doggydoor/internal/infrastructure/mqtt"
	"github.com/nranderson/doggydoor/internal/lock"
	"github.com/nranderson/doggydoor/internal/proximity"
	"github.com/nranderson/doggydoor/internal/tag"
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

// pingTimeout bounds the startup actuator reachability check.
const pingTimeout = 10 * time.Second

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
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence, one component per block
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting doggy door service",
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

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

	// Actuator bridge
	bridge, err := homebridge.NewClient(homebridge.Config{
		BaseURL:          cfg.Homebridge.URL,
		Token:            cfg.Homebridge.Token,
		AccessoryID:      cfg.Homebridge.AccessoryID,
		CharacteristicID: cfg.Homebridge.CharacteristicID,
		Timeout:          cfg.ActuatorTimeout(),
	})
	if err != nil {
		return fmt.Errorf("creating actuator bridge: %w", err)
	}
	bridge.SetLogger(log)

	pingCtx, pingCancel := context.WithTimeout(ctx, pingTimeout)
	if pingErr := bridge.Ping(pingCtx); pingErr != nil {
		// The bridge may come up after us; the fail-safe keeps the
		// door locked until it does.
		log.Warn("actuator bridge unreachable at startup", "error", pingErr)
	}
	pingCancel()

	// Lock controller
	controller, err := lock.NewController(lock.Config{
		RelockAfter:     cfg.AutoUnlockTimeout(),
		FailSafe:        cfg.Lock.FailSafe,
		ActuatorTimeout: cfg.ActuatorTimeout(),
	}, bridge)
	if err != nil {
		return fmt.Errorf("creating lock controller: %w", err)
	}
	controller.SetLogger(log)
	log.Info("lock controller ready",
		"relock_after", cfg.AutoUnlockTimeout(),
		"fail_safe", cfg.Lock.FailSafe,
	)

	// BLE scanner
	scanner, err := ble.NewHCIScanner(ble.Config{DeviceID: cfg.Detector.DeviceID})
	if err != nil {
		return fmt.Errorf("opening bluetooth controller: %w", err)
	}
	defer func() {
		log.Info("closing bluetooth controller")
		if closeErr := scanner.Close(); closeErr != nil {
			log.Error("error closing bluetooth controller", "error", closeErr)
		}
	}()
	log.Info("bluetooth controller opened", "device", fmt.Sprintf("hci%d", cfg.Detector.DeviceID))

	// Tag classifier
	registry := tag.NewRegistry(cfg.Detector.Registry.Capacity, cfg.RegistryTTL())
	classifier, err := tag.NewClassifier(tag.Policy(cfg.Detector.Policy), cfg.Detector.TagAddress, registry)
	if err != nil {
		return fmt.Errorf("creating tag classifier: %w", err)
	}
	classifier.SetLogger(log)

	// Proximity monitor
	monitor := proximity.NewMonitor(proximity.Config{
		ThresholdFeet: cfg.Detector.ThresholdFeet,
		ScanWindow:    cfg.ScanWindow(),
		ScanInterval:  cfg.ScanInterval(),
		Calibration: tag.Calibration{
			ReferenceRSSI:    cfg.Calibration.ReferenceRSSI,
			PathLossExponent: cfg.Calibration.PathLossExponent,
		},
	}, scanner, classifier)
	monitor.SetLogger(log)

	// Orchestrator
	deps := door.Deps{
		Lock:    controller,
		Monitor: monitor,
		Store:   db,
		Tags:    registry,
	}
	if mqttClient != nil {
		deps.MQTT = mqttClient
	}
	if influxClient != nil {
		deps.Telemetry = influxClient
	}
	orchestrator, err := door.New(door.Config{
		StatusInterval: cfg.StatusReportInterval(),
		EventRetention: cfg.EventRetention(),
	}, deps)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}
	orchestrator.SetLogger(log)

	if startErr := orchestrator.Start(ctx); startErr != nil {
		return fmt.Errorf("starting orchestrator: %w", startErr)
	}
	defer func() {
		// The orchestrator locks the door on its way out; wait for it.
		<-orchestrator.Done()
	}()

	if startErr := monitor.Start(ctx); startErr != nil {
		return fmt.Errorf("starting proximity monitor: %w", startErr)
	}
	defer func() {
		monitor.Stop()
		<-monitor.Done()
	}()

	// API server (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := api.New(api.Deps{
			Config:  cfg.API,
			Logger:  log,
			Door:    orchestrator,
			Store:   db,
			Version: version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	// Verify infrastructure connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, watching for the tag")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Proximity monitor
	// 3. Orchestrator (final lock)
	// 4. Bluetooth controller
	// 5. InfluxDB (if enabled)
	// 6. MQTT (if enabled)
	// 7. Database

	log.Info("doggy door service stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses DOGGYDOOR_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("DOGGYDOOR_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
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
