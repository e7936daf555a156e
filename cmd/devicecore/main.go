// Gray Logic Device Core
//
// This is the main entry point for the device controller core. It owns the
// device configuration store and its profiles, runs the UID validator,
// signal hold and trigger rule templates against MQTT traffic, and forwards
// the resulting scenarios to the step interpreter.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/gray-logic-devicecore/internal/automation"
	"github.com/nerrad567/gray-logic-devicecore/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-devicecore/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-devicecore/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-devicecore/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-devicecore/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-devicecore/internal/liveness"
	"github.com/nerrad567/gray-logic-devicecore/internal/store"
	"github.com/nerrad567/gray-logic-devicecore/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/devicecore.yaml"

// pruneInterval is how often trigger history retention is enforced.
const pruneInterval = time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == migrateDownCommand {
		err = migrateDown(ctx)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Gray Logic Device Core",
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
		"output", cfg.Logging.Output,
	)

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", db.Path())

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	if tableErr := db.RequireTables(ctx, migrations.Tables...); tableErr != nil {
		return fmt.Errorf("checking schema: %w", tableErr)
	}
	log.Info("database migrations complete")
	if statusErr := logSchemaStatus(ctx, db, log); statusErr != nil {
		return statusErr
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
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

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
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
		"prefix", mqttClient.Topics().Prefix(),
	)

	var guard liveness.Guard = liveness.Nop{}
	if cfg.Liveness.Enabled {
		monitor := newMonitor(cfg, influxClient, log)
		go monitor.Run(ctx)
		guard = monitor
		log.Info("liveness monitor started", "timeout", cfg.GetLivenessTimeout())
	}

	svc, err := startCore(ctx, cfg, db, mqttClient, influxClient, guard, log)
	if err != nil {
		return err
	}

	// Subscriptions are dropped on reconnect with a clean session.
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
		if syncErr := svc.router.Sync(); syncErr != nil {
			log.Warn("template subscriptions incomplete", "error", syncErr)
		}
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	if interval := cfg.GetSyncInterval(); interval > 0 {
		go syncLoop(ctx, svc.store, interval, log)
	}
	if svc.history != nil && cfg.GetHistoryRetention() > 0 {
		go pruneLoop(ctx, svc.history, cfg.GetHistoryRetention(), log)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Flush anything a sync tick has not yet written.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, syncErr := svc.store.SyncFile(saveCtx); syncErr != nil {
		log.Error("final configuration sync failed", "error", syncErr)
	}

	log.Info("Gray Logic Device Core stopped")
	return nil
}

// services bundles the running device core components.
type services struct {
	store   *store.Store
	router  *subscriptionRouter
	history *automation.SQLiteHistory
}

// startCore builds the store, template registry and dispatcher, loads the
// configuration and subscribes to every input topic.
func startCore(ctx context.Context, cfg *config.Config, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, guard liveness.Guard, log *logging.Logger) (*services, error) {
	topics := mqttClient.Topics()

	registry := automation.NewRegistry()
	registry.SetLogger(log)

	notifier := &changeNotifier{
		client: mqttClient,
		topics: topics,
		log:    log,
	}
	if influxClient != nil {
		notifier.commits = influxClient
	}

	var profiles store.ProfileStorage
	switch cfg.Store.ProfileBackend {
	case config.ProfileBackendSQLite:
		profiles = store.NewSQLiteProfileStorage(db.DB)
	default:
		profiles = store.NewFileProfileStorage(cfg.Store.ProfileDir)
	}

	st, err := store.New(store.Options{
		Storage:     store.NewFileStorage(cfg.Store.ConfigPath),
		Profiles:    profiles,
		Rebuilder:   registry,
		Notifier:    notifier,
		Guard:       guard,
		Logger:      log,
		ScratchSize: cfg.Store.ScratchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	publisher := &mqttPublisher{client: mqttClient}

	recorders := multiRecorder{&mqttEventRecorder{client: mqttClient, topics: topics}}
	var history *automation.SQLiteHistory
	if cfg.Runtime.HistoryEnabled {
		history = automation.NewSQLiteHistory(db.DB)
		recorders = append(recorders, history)
	}
	if influxClient != nil {
		recorders = append(recorders, &influxRecorder{writer: influxClient})
	}

	dispatcher := automation.NewDispatcher(registry, automation.Options{
		Publisher: publisher,
		Audio:     &mqttAudio{client: mqttClient, topic: topics.AudioCommand()},
		Scenarios: automation.NewScenarioForwarder(st, publisher, topics.ScenarioRun()),
		Recorder:  recorders,
		Logger:    log,
	})

	router := newSubscriptionRouter(mqttClient, registry, dispatchHandler(ctx, dispatcher), log)
	notifier.router = router

	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("loading device configuration: %w", err)
	}
	if err := router.Sync(); err != nil {
		log.Warn("template subscriptions incomplete", "error", err)
	}
	log.Info("template runtime ready",
		"generation", st.Generation(),
		"topics", len(router.Active()),
		"templates", registry.Counts(),
	)

	if err := subscribeControls(mqttClient, controlSubscriptions(ctx, topics, st, mqttClient)); err != nil {
		return nil, err
	}
	if cfg.Runtime.FlagInput {
		if err := mqttClient.Subscribe(topics.AllFlags(), mqttClient.QoS(), flagHandler(ctx, topics, dispatcher)); err != nil {
			return nil, fmt.Errorf("subscribing to flags: %w", err)
		}
		log.Info("flag input enabled", "pattern", topics.AllFlags())
	}

	return &services{store: st, router: router, history: history}, nil
}

// newMonitor creates the store liveness monitor. Stalls are logged by the
// monitor and recorded in InfluxDB when it is enabled.
func newMonitor(cfg *config.Config, influxClient *influxdb.Client, log *logging.Logger) *liveness.Monitor {
	monitor := liveness.NewMonitor(liveness.Config{
		Timeout:       cfg.GetLivenessTimeout(),
		CheckInterval: cfg.GetLivenessCheckInterval(),
		OnStall: func(ops []string, since time.Duration) {
			if influxClient != nil {
				influxClient.WriteLivenessStall(ops, since)
			}
		},
	})
	monitor.SetLogger(log)
	return monitor
}

// fileSyncer is satisfied by *store.Store.
type fileSyncer interface {
	SyncFile(ctx context.Context) (bool, error)
}

// syncLoop writes the main document whenever the in-memory generation has
// moved past the persisted one.
func syncLoop(ctx context.Context, st fileSyncer, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			wrote, err := st.SyncFile(ctx)
			if err != nil {
				log.Error("configuration sync failed", "error", err)
				continue
			}
			if wrote {
				log.Debug("configuration synced to disk")
			}
		}
	}
}

// historyPruner is satisfied by *automation.SQLiteHistory.
type historyPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// pruneLoop deletes trigger history older than retention, once at start
// and then every pruneInterval.
func pruneLoop(ctx context.Context, history historyPruner, retention time.Duration, log *logging.Logger) {
	prune := func() {
		removed, err := history.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			log.Error("pruning trigger history failed", "error", err)
			return
		}
		if removed > 0 {
			log.Info("pruned trigger history", "rows", removed)
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

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
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
