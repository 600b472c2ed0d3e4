// hydro-core is the server for a mesh of hydroponic sensor and actuator nodes.
//
// It ingests node traffic from the MQTT broker, keeps the node registry and
// liveness state, tracks commands through their lifecycle, records events and
// telemetry, throttles operator notifications and serves the operator API.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/nerrad567/hydro-core/migrations"

	"github.com/nerrad567/hydro-core/internal/api"
	"github.com/nerrad567/hydro-core/internal/command"
	"github.com/nerrad567/hydro-core/internal/event"
	"github.com/nerrad567/hydro-core/internal/infrastructure/cache"
	"github.com/nerrad567/hydro-core/internal/infrastructure/config"
	"github.com/nerrad567/hydro-core/internal/infrastructure/database"
	"github.com/nerrad567/hydro-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/hydro-core/internal/infrastructure/logging"
	"github.com/nerrad567/hydro-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/hydro-core/internal/ingest"
	"github.com/nerrad567/hydro-core/internal/liveness"
	"github.com/nerrad567/hydro-core/internal/node"
	"github.com/nerrad567/hydro-core/internal/notify"
	"github.com/nerrad567/hydro-core/internal/telemetry"
)

// Version information, set at build time via ldflags:
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled or the bus
// supervisor gives up.
func run(ctx context.Context) error { //nolint:gocognit,funlen // linear wiring
	log := logging.Default()
	log.Info("starting hydro-core", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	defer log.Sync() //nolint:errcheck // flushing on exit
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

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
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	checks := map[string]api.HealthChecker{"database": db}

	// Time-series mirror (optional).
	var series telemetry.SeriesWriter
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		series = influxClient
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	// Event fan-out: structured log plus the WebSocket feed.
	hub := api.NewHub(cfg.WebSocket, log)
	sink := event.NewMultiSink(event.NewLogSink(log), hub)

	throttle, redisClient, err := buildThrottle(ctx, cfg, log)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() {
			log.Info("closing Redis connection")
			if closeErr := redisClient.Close(); closeErr != nil {
				log.Error("error closing Redis", "error", closeErr)
			}
		}()
		checks["redis"] = redisClient
	}

	dispatcher := notify.NewDispatcher(throttle,
		notify.NewLogChannel(log),
		notify.NewSinkChannel(sink),
	)
	dispatcher.SetLogger(log)

	// Stores.
	nodeRepo := node.NewSQLiteRepository(db.DB)
	events := event.NewSQLiteStore(db.DB)
	telemetryStore := telemetry.NewSQLiteStore(db.DB)
	commands := command.NewSQLiteStore(db.DB)

	registry := node.NewRegistry(nodeRepo, telemetry.NewRecorder(telemetryStore, series), events, sink)
	registry.SetLogger(log)
	registry.SetOfflineTimeout(cfg.Hydro.NodeOfflineTimeout)

	// Bus.
	router := mqtt.NewRouter()
	supervisor := mqtt.NewSupervisor(router, mqtt.ClientDialer(cfg.MQTT, log), cfg.MQTT.Reconnect)
	supervisor.SetLogger(log)
	checks["mqtt"] = supervisor

	tracker := command.NewTracker(commands, registry, supervisor, sink, command.Config{
		OfflineTimeout: cfg.Hydro.NodeOfflineTimeout,
		DefaultTimeout: cfg.Hydro.Commands.DefaultTimeout,
		SweepInterval:  cfg.Hydro.Commands.SweepInterval,
	})
	tracker.SetLogger(log)

	ingester := ingest.New(registry, tracker, events, dispatcher, sink)
	ingester.SetLogger(log)
	if err := ingester.Register(router); err != nil {
		return fmt.Errorf("registering ingestion routes: %w", err)
	}

	monitor := liveness.NewMonitor(nodeRepo, events, sink, dispatcher, liveness.Config{
		OfflineTimeout: cfg.Hydro.NodeOfflineTimeout,
		Interval:       cfg.Hydro.Liveness.Interval,
		Notify:         cfg.Hydro.Liveness.Notify,
	})
	monitor.SetLogger(log)

	resolver := event.NewAutoResolver(events, cfg.Hydro.Events.AutoResolveAfter, cfg.Hydro.Events.ResolveInterval)
	resolver.SetLogger(log)

	retention := telemetry.NewRetention(telemetryStore, cfg.Hydro.Telemetry.Retention, cfg.Hydro.Telemetry.CleanupInterval)
	retention.SetLogger(log)

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Commands: tracker,
		Throttle: throttle,
		Checks:   checks,
		Hub:      hub,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		log.Warn("security.jwt.secret is empty: operator API is unauthenticated")
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	if err := server.Start(runCtx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	var wg sync.WaitGroup
	background := []func(context.Context){monitor.Run, tracker.Run, resolver.Run, retention.Run}
	for _, fn := range background {
		fn := fn
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(runCtx)
		}()
	}

	busErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		busErr <- supervisor.Run(runCtx)
	}()

	log.Info("initialisation complete", "api", server.Addr())

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case err := <-busErr:
		if err != nil {
			runErr = fmt.Errorf("mqtt supervisor: %w", err)
		}
	}

	stop()
	wg.Wait()

	log.Info("hydro-core stopped")
	return runErr
}

// buildThrottle selects the throttle store from hydro.throttle.backend.
// The Redis client is returned so the caller owns its lifecycle; it is nil
// for the memory backend.
func buildThrottle(ctx context.Context, cfg *config.Config, log *logging.Logger) (*notify.Throttle, *cache.Client, error) {
	var (
		store  notify.Store
		client *cache.Client
	)

	switch cfg.Hydro.Throttle.Backend {
	case "redis":
		var err error
		client, err = cache.Connect(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to Redis: %w", err)
		}
		store = notify.NewRedisStore(client)
		log.Info("notification throttle using Redis", "addr", cfg.Redis.Addr)
	default:
		store = notify.NewMemoryStore(notify.SystemClock{})
		log.Info("notification throttle using in-memory store")
	}

	t := notify.NewThrottle(store, notify.SystemClock{},
		notify.PoliciesFromConfig(cfg.Hydro.Throttle), cfg.Hydro.Throttle.DuplicateWindow)
	t.SetLogger(log)
	return t, client, nil
}

// getConfigPath returns HYDRO_CONFIG if set, otherwise the default path.
func getConfigPath() string {
	if path := os.Getenv("HYDRO_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
