// wiotp-relay shares Watson IoT Platform connections between command
// listeners and event publishers.
//
// Every configured endpoint that uses the same device or gateway identity
// rides on one platform connection. Routed commands, publish results and
// endpoint status are exposed over a REST API, a WebSocket stream,
// Prometheus metrics and, optionally, InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/wiotp-relay/internal/api"
	"github.com/nerrad567/wiotp-relay/internal/connpool"
	"github.com/nerrad567/wiotp-relay/internal/host"
	"github.com/nerrad567/wiotp-relay/internal/infrastructure/config"
	"github.com/nerrad567/wiotp-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/wiotp-relay/internal/infrastructure/logging"
	"github.com/nerrad567/wiotp-relay/internal/infrastructure/metrics"
	"github.com/nerrad567/wiotp-relay/internal/infrastructure/mqtt"
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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting wiotp-relay",
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

	// Metrics
	promReg := prometheus.NewRegistry()
	relayMetrics := metrics.New(promReg)

	// Shared connection registry
	registry := connpool.NewRegistry(mqtt.NewDialer(cfg.MQTT, log.Component("mqtt")))
	registry.SetLogger(log.Component("connpool"))
	registry.SetObserver(relayMetrics)
	defer func() {
		log.Info("closing platform connections", "connections", registry.Len())
		registry.Close()
	}()

	// Record activity in InfluxDB (optional)
	var recorder *influxdb.Recorder
	if cfg.InfluxDB.Enabled {
		recorder, err = influxdb.Open(ctx, cfg.InfluxDB, func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB recorder")
			if closeErr := recorder.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))

	flowOpts := []host.Option{
		host.WithLogger(log.Component("flow")),
		host.WithBroadcaster(hub),
		host.WithMetrics(relayMetrics),
	}
	apiDeps := api.Deps{
		Config:         cfg.API,
		WS:             cfg.WebSocket,
		Metrics:        cfg.Metrics,
		Logger:         log.Component("api"),
		Registry:       registry,
		MetricsHandler: relayMetrics.Handler(),
		ExternalHub:    hub,
		Version:        version,
	}
	if recorder != nil {
		flowOpts = append(flowOpts, host.WithTelemetry(recorder))
		apiDeps.Telemetry = recorder
	}

	flow := host.New(cfg, registry, flowOpts...)
	apiDeps.Flow = flow

	server, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := flow.Start(ctx); err != nil {
		return fmt.Errorf("starting endpoints: %w", err)
	}
	defer flow.Stop()

	log.Info("initialisation complete, waiting for shutdown signal",
		"endpoints", len(flow.Endpoints()),
		"connections", registry.Len(),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order:
	// 1. Endpoints (publishers, then routers, then credentials)
	// 2. API server
	// 3. InfluxDB (if enabled)
	// 4. Connection registry

	log.Info("wiotp-relay stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses WIOTP_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WIOTP_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
