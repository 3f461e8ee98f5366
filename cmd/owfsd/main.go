// owfsd - 1-Wire bus orchestrator
//
// owfsd connects to one or more owserver instances, keeps a live registry
// of the servers and the 1-Wire devices found on them, and streams bus
// events to the event journal, MQTT, InfluxDB and WebSocket clients.
//
// Configuration is read from OWFS_CONFIG (default configs/owfsd.yaml when
// present), then overridden by OWFS_* environment variables, which may be
// supplied through a .env file.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nerrad567/owfs-core/internal/api"
	"github.com/nerrad567/owfs-core/internal/bridges/onewire"
	"github.com/nerrad567/owfs-core/internal/infrastructure/config"
	"github.com/nerrad567/owfs-core/internal/infrastructure/database"
	"github.com/nerrad567/owfs-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/owfs-core/internal/infrastructure/logging"
	"github.com/nerrad567/owfs-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/owfs-core/internal/journal"
	"github.com/nerrad567/owfs-core/internal/process"
	"github.com/nerrad567/owfs-core/internal/relay"
	"github.com/nerrad567/owfs-core/internal/service"
	"github.com/nerrad567/owfs-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/owfsd.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// infra holds the connections opened before the orchestrator starts. Nil
// fields are integrations turned off in configuration.
type infra struct {
	db       *database.DB
	journal  journal.Repository
	mqtt     *mqtt.Client
	influx   *influxdb.Client
	owserver *process.Manager
}

// run is the application logic, separated from main for testability.
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting owfsd", "version", version, "commit", commit, "build_date", date)

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading .env: %w", err)
	}

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "servers", len(cfg.Servers))

	in, closeInfra, err := openInfra(ctx, cfg, log)
	defer closeInfra()
	if err != nil {
		return err
	}

	opts := service.Options{
		Scan:           cfg.Service.Scan,
		LoadStructures: cfg.Service.LoadStructures,
		EventCapacity:  cfg.Service.EventCapacity,
		DrainTimeout:   cfg.Service.DrainTimeout,
		Factory: onewire.NewFactory(onewire.ServerConfig{
			ConnectTimeout: cfg.Service.ConnectTimeout,
			RequestTimeout: cfg.Service.RequestTimeout,
			PollInterval:   cfg.Service.PollInterval,
		}, log),
		Logger: log,
	}

	err = service.Run(ctx, opts, func(ctx context.Context, svc *service.Service) error {
		return serve(ctx, svc, cfg, in, log)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("owfsd stopped")
	return nil
}

// openInfra opens the database, brokers and managed owserver. The returned
// cleanup closes whatever was opened, in reverse order, and is safe to call
// after a failure.
func openInfra(ctx context.Context, cfg *config.Config, log *logging.Logger) (*infra, func(), error) {
	in := &infra{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.Database.Journal {
		db, err := database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return in, cleanup, fmt.Errorf("opening database: %w", err)
		}
		closers = append(closers, func() {
			log.Info("closing database")
			if err := db.Close(); err != nil {
				log.Error("error closing database", "error", err)
			}
		})
		if err := db.Migrate(ctx, migrations.Source()); err != nil {
			return in, cleanup, fmt.Errorf("running migrations: %w", err)
		}
		in.db = db
		in.journal = journal.NewSQLiteRepository(db.DB)
		log.Info("event journal ready", "path", db.Path())
	}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return in, cleanup, fmt.Errorf("connecting to MQTT: %w", err)
		}
		client.SetLogger(log)
		closers = append(closers, func() {
			log.Info("disconnecting from MQTT")
			if err := client.Close(); err != nil {
				log.Error("error closing MQTT", "error", err)
			}
		})
		in.mqtt = client
		log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))
	}

	if cfg.InfluxDB.Enabled {
		client, err := influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return in, cleanup, fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		client.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		closers = append(closers, func() {
			log.Info("closing InfluxDB connection")
			if err := client.Close(); err != nil {
				log.Error("error closing InfluxDB", "error", err)
			}
		})
		in.influx = client
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if cfg.OWServer.Managed {
		mgr, err := startOWServer(ctx, cfg, log)
		if err != nil {
			return in, cleanup, err
		}
		closers = append(closers, func() {
			log.Info("stopping owserver")
			if err := mgr.Stop(); err != nil {
				log.Error("error stopping owserver", "error", err)
			}
		})
		in.owserver = mgr
	}

	return in, cleanup, nil
}

// startOWServer launches the local owserver and waits until it answers.
func startOWServer(ctx context.Context, cfg *config.Config, log *logging.Logger) (*process.Manager, error) {
	addr := service.ServerSpec{Host: "localhost", Port: cfg.OWServer.Port}.Addr().String()
	ping := func(ctx context.Context) error {
		c, err := onewire.Dial(ctx, onewire.Config{Address: addr, ConnectTimeout: time.Second, RequestTimeout: 2 * time.Second})
		if err != nil {
			return err
		}
		defer c.Close() //nolint:errcheck // health check connection
		return c.Ping(ctx)
	}

	pcfg := process.ConfigFor(cfg.OWServer)
	pcfg.ReadyFunc = ping
	pcfg.HealthCheckFunc = ping
	mgr := process.NewManager(pcfg)
	mgr.SetLogger(log)

	log.Info("starting owserver", "binary", pcfg.Binary, "adapter", cfg.OWServer.Adapter, "address", addr)
	if err := mgr.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting owserver: %w", err)
	}
	return mgr, nil
}

// serve runs inside the orchestrator: it wires the event relay, the API
// and the MQTT scan command, registers the configured servers and waits
// for shutdown.
func serve(ctx context.Context, svc *service.Service, cfg *config.Config, in *infra, log *logging.Logger) error {
	stream, err := svc.Events()
	if err != nil {
		return fmt.Errorf("arming event stream: %w", err)
	}

	hub := api.NewHub(cfg.WebSocket, log)
	svc.SpawnTask("websocket-hub", func(ctx context.Context) error {
		hub.Run(ctx)
		return nil
	})

	sinks := []relay.Sink{relay.NewBroadcastSink(hub)}
	if in.journal != nil {
		sinks = append(sinks, relay.NewJournalSink(in.journal))
	}
	if in.mqtt != nil {
		sinks = append(sinks, relay.NewMQTTSink(in.mqtt, in.mqtt.Topics()))
	}
	if in.influx != nil {
		sinks = append(sinks, relay.NewInfluxSink(in.influx))
	}
	rel := relay.New(sinks...)
	rel.SetLogger(log)
	svc.SpawnTask("relay", func(ctx context.Context) error {
		return rel.Run(ctx, stream)
	})

	if in.journal != nil && cfg.Database.JournalRetention > 0 {
		policy := journal.RetentionPolicy{MaxAge: cfg.Database.JournalRetention}
		svc.SpawnTask("journal-prune", func(ctx context.Context) error {
			return journal.PruneLoop(ctx, in.journal, policy, func(n int64, err error) {
				if err != nil {
					log.Warn("journal prune failed", "error", err)
				} else if n > 0 {
					log.Info("journal pruned", "removed", n)
				}
			})
		})
	}

	if in.mqtt != nil {
		topic, err := subscribeCommands(svc, in.mqtt, log)
		if err != nil {
			log.Warn("MQTT scan command unavailable", "error", err)
		} else {
			defer func() {
				if err := in.mqtt.Unsubscribe(topic); err != nil {
					log.Warn("unsubscribing MQTT scan command", "error", err)
				}
			}()
		}
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:       cfg.API,
			WS:           cfg.WebSocket,
			Logger:       log,
			Orchestrator: svc,
			Journal:      in.journal,
			MQTT:         in.mqtt,
			Relay:        rel,
			Hub:          hub,
			Version:      version,
		}
		if in.db != nil {
			deps.DB = in.db.DB
		}
		if in.influx != nil {
			deps.History = in.influx
		}
		srv, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		svc.SpawnTask("api", func(ctx context.Context) error {
			<-ctx.Done()
			return srv.Close()
		})
	}

	registerServers(ctx, svc, cfg.ServerSpecs(), log)

	if err := healthCheck(ctx, in); err != nil {
		log.Warn("health check failed", "error", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal", "servers", len(svc.Servers()), "devices", len(svc.Devices()))

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// registerServers registers each configured server. A server that cannot
// be reached is logged and skipped; there is no retry.
func registerServers(ctx context.Context, svc *service.Service, specs []service.ServerSpec, log *logging.Logger) {
	for _, spec := range specs {
		srv, err := svc.RegisterServer(ctx, spec)
		if err != nil {
			log.Error("server registration failed", "server", spec.Addr().String(), "error", err)
			continue
		}
		log.Info("server registered", "server", srv.Addr().String(), "polling", !spec.NoPolling)
	}
}

// subscribeCommands lets MQTT clients request a scan of every server by
// publishing to <prefix>/command/scan. A payload of "nopoll" skips
// attribute polling. It returns the topic so the caller can unsubscribe
// before the orchestrator shuts down.
func subscribeCommands(svc *service.Service, client *mqtt.Client, log *logging.Logger) (string, error) {
	topic := client.Topics().Command("scan")
	return topic, client.Subscribe(topic, 1, func(_ string, payload []byte) error {
		polling := string(payload) != "nopoll"
		h := svc.SpawnTask("mqtt-scan", func(ctx context.Context) error {
			if err := svc.RequestScanAll(ctx, polling); err != nil {
				log.Warn("MQTT-requested scan failed", "error", err)
			}
			return nil
		})
		if h.Completed() && h.Err() != nil {
			return h.Err()
		}
		return nil
	})
}

// healthCheck verifies the open connections are healthy.
func healthCheck(ctx context.Context, in *infra) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if in.db != nil {
		if err := in.db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if in.mqtt != nil {
		if err := in.mqtt.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if in.influx != nil {
		if err := in.influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	if in.owserver != nil && !in.owserver.IsRunning() {
		return fmt.Errorf("owserver: %s", in.owserver.Status())
	}
	return nil
}

// getConfigPath returns OWFS_CONFIG, the default path if that file exists,
// or "" to run on defaults and environment alone.
func getConfigPath() string {
	if path := os.Getenv("OWFS_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}
