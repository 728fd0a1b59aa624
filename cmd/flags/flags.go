package flags

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/ruteri/safe-forge/api"
	"github.com/ruteri/safe-forge/common"
	"github.com/ruteri/safe-forge/config"
	"github.com/urfave/cli/v2"
)

// SetupLogger builds the process logger from the log flags.
func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	return NewLogger(config.LogConfig{
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		UID:     cCtx.Bool(LogUidFlag.Name),
		Service: cCtx.String("log-service"),
	})
}

func NewLogger(cfg config.LogConfig) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cfg.Debug,
		JSON:    cfg.JSON,
		Service: cfg.Service,
		Version: common.Version,
	})

	if cfg.UID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cfg config.ServerConfig, logger *slog.Logger) *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		ListenAddr:               cfg.ListenAddr,
		MetricsAddr:              cfg.MetricsAddr,
		Log:                      logger,
		EnablePprof:              cfg.EnablePprof,
		DrainDuration:            cfg.DrainDuration,
		GracefulShutdownDuration: cfg.ShutdownTimeout,
		ReadTimeout:              cfg.ReadTimeout,
		WriteTimeout:             cfg.WriteTimeout,
		MaxBodyBytes:             cfg.MaxBodyBytes,
	}
}

var ForgeServerFlag = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	Usage:   "forge server base URL",
	EnvVars: []string{"FORGE_SERVER"},
}

var KeyFileFlag = &cli.StringFlag{
	Name:    "key-file",
	Value:   "forge.key",
	Usage:   "hex encoded secp256k1 private key used to sign requests",
	EnvVars: []string{"FORGE_KEY_FILE"},
}

var InsecureTLSFlag = &cli.BoolFlag{
	Name:  "insecure",
	Value: false,
	Usage: "skip TLS certificate verification (self-signed servers)",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait before shutting down after marking the server not ready",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
