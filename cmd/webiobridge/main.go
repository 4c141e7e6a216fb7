// Web-IO Bridge
//
// This is the main entry point for the Web-IO bridge. It keeps a persistent
// TCP session to each configured Web-IO 8-in/8-out controller and exposes
// the controllers over MQTT and a local HTTP API:
//   - Output commands arrive on MQTT or HTTP and are queued per device
//   - Input and output changes are published as retained MQTT state
//   - Pin changes and command outcomes are recorded in SQLite
//   - Pin changes and session stats are optionally written to InfluxDB
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/webio-bridge/internal/api"
	"github.com/nerrad567/webio-bridge/internal/bridge"
	"github.com/nerrad567/webio-bridge/internal/history"
	"github.com/nerrad567/webio-bridge/internal/infrastructure/config"
	"github.com/nerrad567/webio-bridge/internal/infrastructure/database"
	"github.com/nerrad567/webio-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/webio-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/webio-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/webio-bridge/internal/webio"
	"github.com/nerrad567/webio-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// pruneInterval is how often expired history rows are removed.
	pruneInterval = time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Startup sequence: one step per component
	log := logging.Default()
	log.Info("starting Web-IO bridge",
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

	// History (optional)
	var db *database.DB
	var historyRepo *history.Repository
	if cfg.History.Enabled {
		db, err = database.Open(database.ConfigFrom(cfg.Database))
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

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		historyRepo = history.NewRepository(db.DB)
		historyRepo.SetLogger(log.Component("history"))
		go pruneHistory(ctx, historyRepo, cfg.GetHistoryRetention(), log)
	} else {
		log.Info("history disabled")
	}

	// MQTT
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
	mqttClient.SetLogger(log.Component("mqtt"))
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

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	var telemetry bridge.TelemetryWriter
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
		telemetry = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub, shared by the API and the sessions.
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		go hub.Run(ctx)
	}

	// Device sessions
	sinks := make([]webio.EventSink, 0, 2)
	if historyRepo != nil {
		sinks = append(sinks, historyRepo)
	}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	sessions, err := buildSessions(cfg, log, sinks...)
	if err != nil {
		return fmt.Errorf("building device sessions: %w", err)
	}

	// Bridge
	opts := bridge.Options{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		HealthInterval: cfg.GetHealthInterval(),
		Sessions:       sessions,
		MQTT:           &mqttBridgeAdapter{client: mqttClient},
		Telemetry:      telemetry,
		Logger:         log.Component("bridge"),
	}
	if historyRepo != nil {
		opts.Commands = historyRepo
	}
	webioBridge, err := bridge.New(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if startErr := webioBridge.Start(ctx); startErr != nil {
		webioBridge.Stop()
		return fmt.Errorf("starting bridge: %w", startErr)
	}
	defer func() {
		log.Info("stopping bridge")
		webioBridge.Stop()
	}()

	// HTTP API (optional)
	var apiServer *api.Server
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Bridge:  webioBridge,
			Hub:     hub,
			Version: version,
		}
		if historyRepo != nil {
			deps.History = historyRepo
		}
		apiServer, err = api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
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
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal", "devices", len(sessions))
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred cleanup runs in reverse order: API, bridge and sessions,
	// InfluxDB, MQTT, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses WEBIO_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WEBIO_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildSessions creates one session per configured device, binds its
// switches and registers the shared sinks.
func buildSessions(cfg *config.Config, log *logging.Logger, sinks ...webio.EventSink) ([]*webio.Session, error) {
	sessionCfg := sessionConfigFrom(cfg.Session)

	sessions := make([]*webio.Session, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		device := webio.NewDevice(webio.DeviceConfig{
			ID:        dc.ID,
			Name:      dc.Name,
			Host:      dc.Host,
			Port:      dc.Port,
			QueueSize: dc.QueueSize,
		})
		deviceLog := log.Component("session").With("device", dc.ID)

		for _, sc := range dc.Switches {
			sw, err := webio.NewSwitch(device, webio.SwitchConfig{
				Pin:       sc.Pin,
				Name:      sc.Name,
				Momentary: sc.MomentaryDuration(),
			})
			if err != nil {
				return nil, fmt.Errorf("device %s switch %d: %w", dc.ID, sc.Pin, err)
			}
			sw.SetOnChange(func(on bool) {
				deviceLog.Info("switch changed", "switch", sw.Name(), "pin", sw.Pin(), "on", on)
			})
		}

		opts := []webio.Option{webio.WithLogger(deviceLog)}
		for _, sink := range sinks {
			opts = append(opts, webio.WithSink(sink))
		}
		sessions = append(sessions, webio.NewSession(device, sessionCfg, opts...))
	}
	return sessions, nil
}

// sessionConfigFrom converts the file's session section. Zero values keep
// the session defaults.
func sessionConfigFrom(sc config.SessionConfig) webio.SessionConfig {
	connect, keepAlive, hold, window, poll := sc.Durations()
	return webio.SessionConfig{
		ConnectTimeout:    connect,
		KeepAliveInterval: keepAlive,
		HoldInterval:      hold,
		ResponseWindow:    window,
		PollInterval:      poll,
		MaxAttempts:       sc.MaxAttempts,
		CallbackQueueSize: sc.CallbackQueueSize,
	}
}

// pruneHistory removes expired history rows now and then every
// pruneInterval until ctx ends. A zero retention keeps everything.
func pruneHistory(ctx context.Context, repo *history.Repository, retention time.Duration, log *logging.Logger) {
	if retention <= 0 {
		return
	}

	prune := func() {
		n, err := repo.Prune(ctx, retention)
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("history prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			log.Info("history pruned", "rows", n, "retention", retention)
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// Optional components may be nil.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if apiServer != nil {
		if err := apiServer.HealthCheck(ctx); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	// Device sessions are not checked here; an unreachable controller
	// shows up as degraded health.
	return nil
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The bridge's handlers do not return errors.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
