package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-patchbay/internal/api"
	"github.com/nerrad567/gray-logic-patchbay/internal/audit"
	"github.com/nerrad567/gray-logic-patchbay/internal/bridges/jack"
	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
	"github.com/nerrad567/gray-logic-patchbay/internal/history"
	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-patchbay/internal/portname"
	"github.com/nerrad567/gray-logic-patchbay/internal/process"
	"github.com/nerrad567/gray-logic-patchbay/internal/reconciler"
	"github.com/nerrad567/gray-logic-patchbay/migrations"
)

// ErrAlreadyRunning is returned when another daemon holds the instance lock.
var ErrAlreadyRunning = errors.New("another patchbay instance is already running")

const healthCheckTimeout = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the patchbay daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
}

// run starts every component, waits for ctx to be cancelled and shuts down
// in reverse order.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - cfg: Loaded configuration
//
// Returns:
//   - error: nil on clean shutdown, or error describing the failure
func run(ctx context.Context, cfg *config.Config) error {
	log := logging.New(cfg.Logging, version)
	log.Info("starting patchbay",
		"version", version,
		"commit", commit,
		"build_date", date,
		"instance", cfg.Instance.Name,
	)

	lock, err := acquireLock(cfg.Instance.LockFile)
	if err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck // Lock file is released by the OS on exit anyway
		lock.Unlock()
	}()

	// Open database
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
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker
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
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Presentation adapters: websocket hub, MQTT graph topics, history journal
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	hubCtx, stopHub := context.WithCancel(ctx)
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()
	defer func() {
		stopHub()
		<-hubDone
	}()

	publisher := jack.NewGraphPublisher(mqttClient, jack.DefaultPublishBuffer, log.Component("graph-publisher"))
	publisher.Start(ctx)
	defer func() {
		log.Info("stopping graph publisher")
		publisher.Stop()
	}()

	notifiers := graph.Fanout{hub.Notifier(), publisher.Notifier()}

	var historyRepo history.Repository
	if cfg.History.Enabled {
		repo := history.NewSQLiteRepository(db.DB)
		journal := history.NewJournal(history.JournalOptions{
			Repository: repo,
			BufferSize: cfg.History.BufferSize,
			Retention:  time.Duration(cfg.History.RetentionDays) * 24 * time.Hour,
			Logger:     log.Component("history"),
		})
		journal.Start(ctx)
		defer func() {
			log.Info("stopping history journal")
			journal.Stop()
		}()
		notifiers = append(notifiers, journal.Notifier())
		historyRepo = repo
		log.Info("history journal started", "retention_days", cfg.History.RetentionDays)
	} else {
		log.Info("history disabled")
	}

	// The bridge is built first so its mirror can serve the reconciler.
	sink := &eventSink{}
	bridge, err := jack.NewBridge(jack.BridgeOptions{
		MQTT:        mqttClient,
		Events:      sink,
		TopicPrefix: cfg.JACK.TopicPrefix,
		HandleGrace: cfg.JACK.HandleGrace,
		Logger:      log.Component("jack"),
	})
	if err != nil {
		return fmt.Errorf("creating JACK bridge: %w", err)
	}

	rec, err := startReconciler(ctx, cfg, bridge, notifiers, registry, log)
	if err != nil {
		return err
	}
	sink.target = rec.Reconciler
	defer rec.stop()

	mqttClient.SetOnReconnect(bridge.BrokerReconnected)
	if startErr := bridge.Start(ctx); startErr != nil {
		return fmt.Errorf("starting JACK bridge: %w", startErr)
	}
	defer bridge.Stop()

	// Supervise the relay sidecar (if managed)
	if cfg.Relay.Managed {
		relay := process.NewManager(process.NewRelayConfig(cfg.Relay, cfg.MQTT.Broker, cfg.JACK.TopicPrefix, bridge.RelayOnline))
		relay.SetLogger(log.Component("relay"))
		if startErr := relay.Start(ctx); startErr != nil {
			return fmt.Errorf("starting relay: %w", startErr)
		}
		defer func() {
			log.Info("stopping relay")
			if stopErr := relay.Stop(); stopErr != nil {
				log.Error("error stopping relay", "error", stopErr)
			}
		}()
		log.Info("relay started", "binary", cfg.Relay.Binary)
	}

	if influxClient != nil {
		samplerCtx, stopSampler := context.WithCancel(ctx)
		samplerDone := make(chan struct{})
		go func() {
			defer close(samplerDone)
			influxClient.RunSampler(samplerCtx, cfg.Instance.Name,
				time.Duration(cfg.InfluxDB.SampleInterval)*time.Second, graphSampler(rec.Reconciler))
		}()
		defer func() {
			stopSampler()
			<-samplerDone
		}()
	}

	// Start the API server
	deps := api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Security:    cfg.Security,
		Logger:      log.Component("api"),
		Graph:       rec.Reconciler,
		Relay:       bridge,
		MQTT:        mqttClient,
		Audit:       audit.NewSQLiteRepository(db.DB),
		Database:    db,
		Gatherer:    registry,
		ExternalHub: hub,
		Version:     version,
	}
	if historyRepo != nil {
		deps.History = historyRepo
	}
	apiServer, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	checkCtx, cancelCheck := context.WithTimeout(ctx, healthCheckTimeout)
	err = healthCheck(checkCtx, db, mqttClient, influxClient, apiServer)
	cancelCheck()
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	log.Info("patchbay stopped")
	return nil
}

// acquireLock takes the single-instance lock, creating its directory.
func acquireLock(path string) (*flock.Flock, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating lock directory: %w", err)
		}
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, path)
	}
	return lock, nil
}

// runningReconciler is a reconciler whose processing loop has been started.
type runningReconciler struct {
	*reconciler.Reconciler
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *runningReconciler) stop() {
	r.cancel()
	<-r.done
}

func startReconciler(ctx context.Context, cfg *config.Config, bridge *jack.Bridge, notifier graph.Notifier, reg prometheus.Registerer, log *logging.Logger) (*runningReconciler, error) {
	metrics, err := reconciler.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("registering reconciler metrics: %w", err)
	}

	rec := reconciler.New(reconciler.Config{
		QueueSize: cfg.Reconciler.QueueSize,
		Resolver:  portname.New(cfg.JACK.BridgeClient, portname.AliasMode(cfg.JACK.AliasMode)),
	}, bridge.Mirror(), notifier)
	rec.SetLogger(log.Component("reconciler"))
	rec.SetController(bridge)
	rec.SetMetrics(metrics)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(runCtx)
	}()

	log.Info("reconciler started",
		"queue_size", cfg.Reconciler.QueueSize,
		"bridge_client", cfg.JACK.BridgeClient,
		"alias_mode", cfg.JACK.AliasMode,
	)
	return &runningReconciler{Reconciler: rec, cancel: cancel, done: done}, nil
}

// eventSink forwards bridge events to the reconciler once it exists. target
// is set before the bridge subscribes, so no event sees it nil.
type eventSink struct {
	target *reconciler.Reconciler
}

func (s *eventSink) OnPortRegistration(handle uint32, registered bool) {
	s.target.OnPortRegistration(handle, registered)
}

func (s *eventSink) OnConnect(a, b uint32, connected bool) {
	s.target.OnConnect(a, b, connected)
}

func (s *eventSink) RequestResync() {
	s.target.RequestResync()
}

// graphSampler reads reconciler stats for the InfluxDB sampler.
func graphSampler(rec *reconciler.Reconciler) influxdb.SampleFunc {
	return func(ctx context.Context) (influxdb.GraphSample, error) {
		stats, err := rec.Stats(ctx)
		if err != nil {
			return influxdb.GraphSample{}, err
		}
		return influxdb.GraphSample{
			Groups:         stats.Graph.Groups,
			Ports:          stats.Graph.Ports,
			Connections:    stats.Graph.Connections,
			EventsReceived: stats.Received,
			EventsApplied:  stats.Applied,
			EventsDropped:  stats.Dropped,
			Resyncs:        stats.Resyncs,
			QueueDepth:     stats.QueueDepth,
		}, nil
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - apiServer: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
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

	// The relay may still be starting; its state is reported by /health
	// rather than failing startup.
	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
