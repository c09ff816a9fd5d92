// serialgate - Serial port to REST/MQTT bridge
//
// This is the main entry point for the serialgate daemon. It opens a
// serial port and exposes it over:
//   - HTTP REST API (send, receive, blocking get/wait endpoints)
//   - WebSocket (live tail of received records)
//   - MQTT (optional: publish received records, accept send requests)
//
// Received and sent traffic can optionally be persisted to SQLite and
// I/O counters exported to InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opencomms/serialgate/internal/api"
	"github.com/opencomms/serialgate/internal/bridge"
	"github.com/opencomms/serialgate/internal/history"
	"github.com/opencomms/serialgate/internal/infrastructure/config"
	"github.com/opencomms/serialgate/internal/infrastructure/database"
	"github.com/opencomms/serialgate/internal/infrastructure/logging"
	"github.com/opencomms/serialgate/internal/infrastructure/mqtt"
	"github.com/opencomms/serialgate/internal/infrastructure/tsdb"
	"github.com/opencomms/serialgate/internal/serial"
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

// ioSampleInterval is how often serial I/O counters are written to InfluxDB.
const ioSampleInterval = 10 * time.Second

// trafficWriteTimeout bounds each traffic log insert so a stalled database
// cannot back up the serial IO goroutine.
const trafficWriteTimeout = 5 * time.Second

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
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting serialgate",
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

	// Open traffic log database (optional)
	var repo history.Repository
	if cfg.Database.Enabled {
		db, openErr := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if openErr != nil {
			return fmt.Errorf("opening database: %w", openErr)
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
		log.Info("traffic log schema applied")

		repo = history.NewSQLiteRepository(db.DB)
	} else {
		log.Info("traffic log disabled")
	}

	// Create the serial connection (not opened yet)
	conn := serial.New(cfg.Serial)
	conn.SetLogger(log)

	// Persist received records to the traffic log
	if repo != nil {
		startTrafficLogger(conn, repo, log)
	}

	// Connect to MQTT broker and start the serial bridge (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
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

		brd, bridgeErr := startBridge(ctx, cfg, mqttClient, conn, log)
		if bridgeErr != nil {
			return fmt.Errorf("starting serial bridge: %w", bridgeErr)
		}
		defer func() {
			log.Info("stopping serial bridge")
			brd.Stop()
		}()
	} else {
		log.Info("MQTT bridge disabled")
	}

	// Connect to InfluxDB and export I/O counters (optional)
	var tsdbClient *tsdb.Client
	if cfg.InfluxDB.Enabled {
		var tsdbErr error
		tsdbClient, tsdbErr = tsdb.Connect(cfg.InfluxDB)
		if tsdbErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", tsdbErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := tsdbClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		tsdbClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		go sampleIOCounters(ctx, tsdbClient, conn, cfg.Serial.Port)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the REST API server
	deps := api.Deps{
		Config:  cfg.API,
		WS:      cfg.WebSocket,
		Logger:  log,
		Conn:    conn,
		History: repo,
		Version: version,
	}
	// Assign only when present: a typed nil in the interface field would
	// defeat the server's nil check.
	if tsdbClient != nil {
		deps.Metrics = tsdbClient
	}
	server, err := api.New(deps)
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

	// Open the serial port last, after every consumer has registered its
	// record listeners.
	if connectErr := conn.Connect(ctx); connectErr != nil {
		return fmt.Errorf("opening serial port %s: %w", cfg.Serial.Port, connectErr)
	}
	defer func() {
		log.Info("closing serial port")
		if closeErr := conn.Close(); closeErr != nil {
			log.Error("error closing serial port", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. Serial port
	// 2. API server
	// 3. InfluxDB (if enabled)
	// 4. Serial bridge, then MQTT (if enabled)
	// 5. Database (if enabled)

	log.Info("serialgate stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SERIALGATE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SERIALGATE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startTrafficLogger registers a record listener that persists every
// received record to the traffic log. Inserts run on their own goroutine
// so the serial IO loop never waits on SQLite.
func startTrafficLogger(conn *serial.Connection, repo history.Repository, log *logging.Logger) {
	conn.OnRecord(func(rec serial.Record) {
		entry := &history.Entry{
			Direction: "rx",
			Data:      string(rec.Data),
			Bytes:     len(rec.Data),
			CreatedAt: rec.Time,
		}
		go func() {
			writeCtx, cancel := context.WithTimeout(context.Background(), trafficWriteTimeout)
			defer cancel()
			if err := repo.Create(writeCtx, entry); err != nil {
				log.Warn("failed to persist received record", "error", err)
			}
		}()
	})
}

// startBridge creates and starts the serial-to-MQTT bridge.
//
// Parameters:
//   - ctx: Context for startup/cancellation
//   - cfg: Application configuration
//   - mqttClient: Connected MQTT client
//   - conn: Serial connection
//   - log: Logger instance
//
// Returns:
//   - *bridge.Bridge: Running bridge
//   - error: If the bridge fails to start
func startBridge(ctx context.Context, cfg *config.Config, mqttClient *mqtt.Client, conn *serial.Connection, log *logging.Logger) (*bridge.Bridge, error) {
	topics := mqttClient.Topics()

	// Adapt the infrastructure MQTT client to the bridge's interface
	adapter := &mqttBridgeAdapter{client: mqttClient}

	brd, err := bridge.New(bridge.Options{
		MQTTClient: adapter,
		Conn:       conn,
		Port:       cfg.Serial.Port,
		RxTopic:    topics.Receive(),
		SendTopic:  topics.Send(),
		Logger:     log,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bridge: %w", err)
	}

	if err := brd.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting bridge: %w", err)
	}
	log.Info("serial bridge started",
		"rx_topic", topics.Receive(),
		"send_topic", topics.Send(),
	)

	return brd, nil
}

// sampleIOCounters periodically snapshots serial I/O counters into InfluxDB.
// Runs until ctx is cancelled.
func sampleIOCounters(ctx context.Context, client *tsdb.Client, conn *serial.Connection, port string) {
	ticker := time.NewTicker(ioSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := conn.Stats()
			client.WriteIOSample(port, tsdb.IOSample{
				BytesIn:        stats.BytesIn,
				BytesOut:       stats.BytesOut,
				RecordsIn:      stats.RecordsIn,
				PayloadsOut:    stats.PayloadsOut,
				SendQueueDepth: stats.SendQueueDepth,
				Connected:      stats.Connected,
			})
		}
	}
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the bridge's
// MQTTClient interface. The Subscribe handler signatures differ only in that
// the infrastructure client takes a named MessageHandler type.
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error {
	return a.client.Subscribe(topic, qos, handler)
}

// IsConnected implements bridge.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
