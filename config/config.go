// Package config loads the forge server configuration from YAML. Command
// line flags override individual fields after loading.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ruteri/safe-forge/events"
	"github.com/ruteri/safe-forge/interfaces"
	"github.com/ruteri/safe-forge/tracing"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`

	// Deployer becomes the sole admin when the state store is empty.
	Deployer string `yaml:"deployer"`

	Store   StoreConfig    `yaml:"store"`
	Archive ArchiveConfig  `yaml:"archive"`
	Events  EventsConfig   `yaml:"events"`
	Tracing tracing.Config `yaml:"tracing"`
	Log     LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	EnablePprof     bool          `yaml:"pprof"`
	DrainDuration   time.Duration `yaml:"drain_duration"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig enables https. Without cert and key files a self-signed
// certificate for Hosts is generated at startup.
type TLSConfig struct {
	Enabled  bool     `yaml:"enabled"`
	CertFile string   `yaml:"cert_file"`
	KeyFile  string   `yaml:"key_file"`
	Hosts    []string `yaml:"hosts"`
}

type StoreConfig struct {
	// URI is memory://, sqlite://<path> or postgres://...
	URI string `yaml:"uri"`
}

type ArchiveConfig struct {
	// Locations are storage backend URIs. Empty disables archiving.
	Locations []string `yaml:"locations"`
	// Timeout bounds each archive call.
	Timeout time.Duration `yaml:"timeout"`
	// SyncOnStart restores template code missing from the archive.
	SyncOnStart bool `yaml:"sync_on_start"`
}

type EventsConfig struct {
	Log   bool                `yaml:"log"`
	Redis *events.RedisConfig `yaml:"redis"`
}

type LogConfig struct {
	JSON    bool   `yaml:"json"`
	Debug   bool   `yaml:"debug"`
	UID     bool   `yaml:"uid"`
	Service string `yaml:"service"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      "127.0.0.1:8080",
			MetricsAddr:     "127.0.0.1:8090",
			DrainDuration:   45 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    30 * time.Second,
			MaxBodyBytes:    4 << 20,
			TLS:             TLSConfig{Hosts: []string{"localhost", "127.0.0.1"}},
		},
		Store:   StoreConfig{URI: "memory://"},
		Archive: ArchiveConfig{Timeout: 30 * time.Second, SyncOnStart: true},
		Events:  EventsConfig{Log: true},
		Tracing: tracing.DefaultConfig(),
		Log:     LogConfig{Service: "forge-server"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.Decode(data); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode overlays YAML onto cfg. Unknown keys are rejected.
func (c *Config) Decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks the fields needed to start a server.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if c.Store.URI == "" {
		errs = append(errs, errors.New("store.uri is required"))
	}
	if c.Deployer != "" {
		if _, err := interfaces.NewPrincipalFromHex(c.Deployer); err != nil {
			errs = append(errs, fmt.Errorf("deployer: %w", err))
		}
	}
	for _, loc := range c.Archive.Locations {
		if _, err := interfaces.NewStorageBackendLocation(loc); err != nil {
			errs = append(errs, fmt.Errorf("archive location %q: %w", loc, err))
		}
	}
	if c.Events.Redis != nil && c.Events.Redis.URL == "" {
		errs = append(errs, errors.New("events.redis.url is required when redis is configured"))
	}
	if tls := c.Server.TLS; tls.Enabled && (tls.CertFile == "") != (tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls needs both cert_file and key_file"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}

	return errors.Join(errs...)
}
