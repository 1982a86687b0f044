// UnitKey Core - Route Pass Authority
//
// This is the main entry point for UnitKey Core, the capability-token
// authority of the UnitKey smart-storage platform. It registers client
// device keys, maintains the key-sharing ledger, resolves lock audiences,
// and issues short-lived Ed25519-signed route passes that lock controllers
// verify offline.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/unitkey/unitkey-core/migrations"

	"github.com/unitkey/unitkey-core/internal/access"
	"github.com/unitkey/unitkey-core/internal/api"
	"github.com/unitkey/unitkey-core/internal/device"
	"github.com/unitkey/unitkey-core/internal/directory"
	"github.com/unitkey/unitkey-core/internal/infrastructure/config"
	"github.com/unitkey/unitkey-core/internal/infrastructure/database"
	"github.com/unitkey/unitkey-core/internal/infrastructure/influxdb"
	"github.com/unitkey/unitkey-core/internal/infrastructure/logging"
	"github.com/unitkey/unitkey-core/internal/infrastructure/mqtt"
	"github.com/unitkey/unitkey-core/internal/ledger"
	"github.com/unitkey/unitkey-core/internal/routepass"
	"github.com/unitkey/unitkey-core/internal/sharing"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
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
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting UnitKey Core",
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

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Signing key is process-wide state; load it once, fail fast if absent.
	signer, err := routepass.LoadSigner(cfg.Security.RoutePass.SigningKeyPath)
	if err != nil {
		return fmt.Errorf("loading route pass signing key: %w", err)
	}
	log.Info("signing key loaded", "verification_key", signer.PublicBase64())

	// Security event bus (optional)
	var busClient *mqtt.Client
	if cfg.MQTT.Enabled {
		busClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to event bus: %w", err)
		}
		defer func() {
			log.Info("disconnecting from event bus")
			busClient.Close()
		}()
		log.Info("event bus connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("event bus disabled")
	}
	events := mqtt.NewEvents(busClient)

	// Issuance metrics (optional)
	var metricsClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		metricsClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to metrics backend: %w", err)
		}
		defer func() {
			log.Info("closing metrics backend")
			metricsClient.Close()
		}()
		log.Info("metrics backend connected",
			"url", cfg.InfluxDB.URL,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("metrics backend disabled")
	}

	// Domain wiring, leaves first
	dirRepo := directory.NewSQLiteRepository(db.DB)
	deviceStore := device.NewStore(device.NewSQLiteRepository(db.DB), cfg.Security.Devices.MaxPerUser)
	sharingRepo := sharing.NewSQLiteRepository(db.DB)
	sharingLedger := sharing.NewLedger(sharingRepo, dirRepo, nil, log.Logger)
	resolver := access.NewResolver(dirRepo, sharingRepo, nil, log.Logger)
	historyRepo := ledger.NewSQLiteRepository(db.DB, log.Logger)

	var metricSink routepass.MetricSink
	if metricsClient != nil {
		metricSink = metricsClient
	}
	issuer := routepass.NewIssuer(signer, deviceStore, resolver, historyRepo,
		events, metricSink, cfg.RoutePassTTL(), log.Logger)

	// HTTP API
	server, err := api.New(api.Deps{
		Config:    cfg.API,
		Security:  cfg.Security,
		Logger:    log,
		DB:        db,
		Devices:   deviceStore,
		Sharing:   sharingLedger,
		Issuer:    issuer,
		History:   historyRepo,
		Events:    events,
		Bus:       busClient,
		Metrics:   metricsClient,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing api server", "error", closeErr)
		}
	}()

	log.Info("UnitKey Core running",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"pass_ttl", cfg.RoutePassTTL(),
		"device_cap", cfg.Security.Devices.MaxPerUser,
	)

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// getConfigPath returns the configuration file path from args or the default.
func getConfigPath() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	if env := os.Getenv("UNITKEY_CONFIG"); env != "" {
		return env
	}
	return defaultConfigPath
}
