// Package config handles loading and parsing application configuration.
// It supports two sources for the file path (in priority order):
//  1. An environment variable:  CONFIG_PATH=/path/to/config.yaml
//  2. A command-line flag:      --config=/path/to/config.yaml
//
// Every value read from the file can be overridden by the environment
// variable named in its env:"..." tag. The names match what the
// container deployment injects (BILLING_SERVICE_ADDRESS,
// KAFKA_BOOTSTRAP_SERVERS, DATABASE_URL, ...).
package config

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root configuration structure.
//
// env-required:"true" means the app refuses to start if that value is
// missing. Better to crash at boot than to silently use a wrong default.
type Config struct {
	// Env controls log format and verbosity.
	// Valid values: "dev", "staging", "prod"
	Env string `yaml:"env" env:"ENV" env-required:"true"`

	Storage    Storage    `yaml:"storage"`
	HTTPServer HTTPServer `yaml:"http_server"`
	Billing    Billing    `yaml:"billing"`
	Kafka      Kafka      `yaml:"kafka"`
}

// Storage selects and configures the patient store backend.
type Storage struct {
	// Driver is one of "sqlite", "postgres", "memory".
	Driver string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"sqlite"`

	// Path is the SQLite .db file; used by the sqlite driver only.
	Path string `yaml:"path" env:"STORAGE_PATH" env-default:"storage/patients.db"`

	// URL is the PostgreSQL DSN; used by the postgres driver only.
	URL             string        `yaml:"url" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME" env-default:"5m"`
}

// HTTPServer holds settings specific to the HTTP server.
type HTTPServer struct {
	// Addr is the TCP address the server listens on, e.g. ":4000".
	Addr            string        `yaml:"address" env:"HTTP_SERVER_ADDR" env-required:"true"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"HTTP_SERVER_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"HTTP_SERVER_WRITE_TIMEOUT" env-default:"10s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"HTTP_SERVER_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SERVER_SHUTDOWN_TIMEOUT" env-default:"5s"`
}

// Billing locates the billing service's gRPC endpoint.
type Billing struct {
	Address  string        `yaml:"address" env:"BILLING_SERVICE_ADDRESS" env-default:"localhost"`
	GRPCPort string        `yaml:"grpc_port" env:"BILLING_SERVICE_GRPC_PORT" env-default:"9001"`
	Timeout  time.Duration `yaml:"timeout" env:"BILLING_SERVICE_TIMEOUT" env-default:"5s"`
}

// Target returns the host:port the gRPC client dials.
func (b Billing) Target() string {
	return net.JoinHostPort(b.Address, b.GRPCPort)
}

// Kafka configures the patient event producer. An empty Brokers list
// disables publishing.
type Kafka struct {
	Brokers string `yaml:"brokers" env:"KAFKA_BOOTSTRAP_SERVERS"`
	Topic   string `yaml:"topic" env:"KAFKA_PATIENT_TOPIC" env-default:"patient"`
}

// Enabled reports whether a broker address was configured.
func (k Kafka) Enabled() bool {
	return k.Brokers != ""
}

// Load reads the YAML file at path, applies env overrides and checks
// the result.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "sqlite", "memory":
	case "postgres":
		if c.Storage.URL == "" {
			return errors.New("storage.url (DATABASE_URL) is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

// MustLoad reads, validates, and returns the application config.
// Functions prefixed with "Must" exit on failure; if this returns, the
// config is valid.
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")

	if configPath == "" {
		flags := flag.String("config", "", "Path to the configuration YAML file")
		flag.Parse()
		configPath = *flags
	}

	if configPath == "" {
		log.Fatal("config path is not set: use --config flag or CONFIG_PATH env var")
	}

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}
