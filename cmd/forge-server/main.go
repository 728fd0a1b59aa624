package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/safe-forge/cmd/flags"
	"github.com/ruteri/safe-forge/config"
	"github.com/ruteri/safe-forge/cryptoutils"
	"github.com/ruteri/safe-forge/events"
	"github.com/ruteri/safe-forge/httpserver"
	"github.com/ruteri/safe-forge/interfaces"
	"github.com/ruteri/safe-forge/registry"
	"github.com/ruteri/safe-forge/storage"
	"github.com/ruteri/safe-forge/store"
	"github.com/ruteri/safe-forge/tracing"
	"github.com/urfave/cli/v2"
)

var serverFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Usage:   "path to a YAML configuration file",
		EnvVars: []string{"FORGE_CONFIG"},
	},
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	&cli.StringFlag{
		Name:    "deployer",
		Usage:   "address of the initial admin, required on first start",
		EnvVars: []string{"FORGE_DEPLOYER"},
	},
	&cli.StringFlag{
		Name:    "store",
		Value:   "memory://",
		Usage:   "state store URI: memory://, sqlite://<path> or postgres://...",
		EnvVars: []string{"FORGE_STORE"},
	},
	&cli.StringSliceFlag{
		Name:  "archive",
		Usage: "storage backend URI to mirror template code to (repeatable)",
	},
	&cli.BoolFlag{
		Name:  "archive-sync",
		Usage: "restore template code missing from the archive on startup",
	},
	&cli.StringFlag{
		Name:  "redis-url",
		Usage: "publish generation events to this Redis server",
	},
	&cli.StringFlag{
		Name:  "redis-stream",
		Value: events.DefaultStream,
		Usage: "Redis stream for generation events",
	},
	&cli.BoolFlag{
		Name:  "tls",
		Usage: "serve https, with a self-signed certificate unless --tls-cert and --tls-key are set",
	},
	&cli.StringFlag{
		Name:  "tls-cert",
		Usage: "TLS certificate file",
	},
	&cli.StringFlag{
		Name:  "tls-key",
		Usage: "TLS private key file",
	},
	&cli.BoolFlag{
		Name:  "trace",
		Usage: "enable OpenTelemetry tracing",
	},
	&cli.StringFlag{
		Name:  "trace-exporter",
		Value: "stdout",
		Usage: "trace exporter: stdout or file",
	},
	&cli.StringFlag{
		Name:  "trace-file",
		Usage: "output file for the file trace exporter",
	},
	flags.LogServiceFlagFn("forge-server"),
}

func main() {
	app := &cli.App{
		Name:   "forge-server",
		Usage:  "Serve the SafeForge admin registry and template lifecycle API",
		Flags:  append(serverFlags, flags.CommonFlags...),
		Action: runServer,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// loadConfig reads the config file and applies explicitly set flags on top.
func loadConfig(cCtx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(cCtx.String("config"))
	if err != nil {
		return nil, err
	}

	setString := func(name string, dst *string) {
		if cCtx.IsSet(name) {
			*dst = cCtx.String(name)
		}
	}
	setBool := func(name string, dst *bool) {
		if cCtx.IsSet(name) {
			*dst = cCtx.Bool(name)
		}
	}

	setString("listen-addr", &cfg.Server.ListenAddr)
	setString(flags.MetricsAddrFlag.Name, &cfg.Server.MetricsAddr)
	setBool(flags.PprofFlag.Name, &cfg.Server.EnablePprof)
	if cCtx.IsSet(flags.DrainSecondsFlag.Name) {
		cfg.Server.DrainDuration = time.Duration(cCtx.Int64(flags.DrainSecondsFlag.Name)) * time.Second
	}

	setString("deployer", &cfg.Deployer)
	setString("store", &cfg.Store.URI)
	if cCtx.IsSet("archive") {
		cfg.Archive.Locations = cCtx.StringSlice("archive")
	}
	setBool("archive-sync", &cfg.Archive.SyncOnStart)
	if cCtx.IsSet("redis-url") {
		cfg.Events.Redis = &events.RedisConfig{
			URL:    cCtx.String("redis-url"),
			Stream: cCtx.String("redis-stream"),
		}
	}

	setBool("tls", &cfg.Server.TLS.Enabled)
	setString("tls-cert", &cfg.Server.TLS.CertFile)
	setString("tls-key", &cfg.Server.TLS.KeyFile)

	setBool("trace", &cfg.Tracing.Enabled)
	setString("trace-exporter", &cfg.Tracing.Exporter)
	setString("trace-file", &cfg.Tracing.FilePath)

	setBool(flags.LogJsonFlag.Name, &cfg.Log.JSON)
	setBool(flags.LogDebugFlag.Name, &cfg.Log.Debug)
	setBool(flags.LogUidFlag.Name, &cfg.Log.UID)
	setString("log-service", &cfg.Log.Service)

	return cfg, cfg.Validate()
}

func runServer(cCtx *cli.Context) error {
	cfg, err := loadConfig(cCtx)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := flags.NewLogger(cfg.Log)
	ctx := cCtx.Context

	tracer, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		logger.Error("Failed to set up tracing", "err", err)
		return err
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			logger.Warn("Failed to flush traces", "err", err)
		}
	}()

	stateStore, err := store.Open(ctx, cfg.Store.URI, logger)
	if err != nil {
		logger.Error("Failed to open state store", "err", err)
		return err
	}
	defer stateStore.Close()

	var archive interfaces.StorageBackend
	if len(cfg.Archive.Locations) > 0 {
		archive, err = storage.NewStorageBackendFactory(logger).CreateMultiBackend(cfg.Archive.Locations)
		if err != nil {
			logger.Error("Failed to create archive backends", "err", err)
			return err
		}
		logger.Info("Archiving template code", "locations", archive.LocationURI())
	}

	sink, closeSinks, err := buildSinks(ctx, cfg.Events, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	forge, err := registry.NewRegistry(ctx, stateStore, registry.Options{
		Archive:        archive,
		ArchiveTimeout: cfg.Archive.Timeout,
		Sink:           sink,
		Log:            logger,
		Tracer:         tracer.Tracer(),
	})
	if err != nil {
		logger.Error("Failed to load forge state", "err", err)
		return err
	}

	if err := bootstrap(ctx, forge, cfg.Deployer, logger); err != nil {
		return err
	}

	if archive != nil && cfg.Archive.SyncOnStart {
		// Failures are logged; serving continues.
		if _, err := forge.SyncArchive(ctx); err != nil {
			logger.Warn("Template archive is incomplete", "err", err)
		}
	}

	serverCfg := flags.ConfigureServer(cfg.Server, logger)
	if cfg.Server.TLS.Enabled {
		serverCfg.TLS, err = cryptoutils.ServerTLSConfig(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile, cfg.Server.TLS.Hosts)
		if err != nil {
			logger.Error("Failed to configure TLS", "err", err)
			return err
		}
	}

	server, err := httpserver.New(serverCfg, httpserver.NewHandler(forge, logger))
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

// bootstrap initializes an empty forge with the deployer as its only admin.
func bootstrap(ctx context.Context, forge *registry.Registry, deployerHex string, logger *slog.Logger) error {
	if forge.Initialized() {
		if deployerHex != "" {
			deployer, err := interfaces.NewPrincipalFromHex(deployerHex)
			if err != nil {
				return err
			}
			if !forge.IsAuthorizedAdmin(deployer) {
				logger.Warn("Configured deployer is not an admin of the existing state", "deployer", deployer.String())
			}
		}
		return nil
	}

	if deployerHex == "" {
		return errors.New("state store is empty: --deployer is required on first start")
	}
	deployer, err := interfaces.NewPrincipalFromHex(deployerHex)
	if err != nil {
		return err
	}
	if err := forge.Initialize(ctx, deployer); err != nil {
		logger.Error("Failed to initialize forge", "err", err)
		return err
	}
	return nil
}

func buildSinks(ctx context.Context, cfg config.EventsConfig, logger *slog.Logger) (interfaces.EventSink, func(), error) {
	var sinks []interfaces.EventSink
	closers := []func(){}

	if cfg.Log {
		sinks = append(sinks, events.NewLogSink(logger, slog.LevelInfo))
	}
	if cfg.Redis != nil {
		redisSink, err := events.NewRedisSink(*cfg.Redis, logger)
		if err != nil {
			logger.Error("Failed to create redis sink", "err", err)
			return nil, nil, err
		}
		if err := redisSink.Ping(ctx); err != nil {
			// Publishing failures are logged per event; start anyway.
			logger.Warn("Redis is not reachable", "err", err)
		}
		sinks = append(sinks, redisSink)
		closers = append(closers, func() { _ = redisSink.Close() })
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	switch len(sinks) {
	case 0:
		return nil, closeAll, nil
	case 1:
		return sinks[0], closeAll, nil
	default:
		return events.NewMultiSink(sinks...), closeAll, nil
	}
}
