package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings. They are read after an
// optional .env file in the working directory has been loaded.
const (
	EnvDriver       = "ACCOUNT_DB_DRIVER"
	EnvDSN          = "ACCOUNT_DB_DSN"
	EnvPassword     = "ACCOUNT_DB_PASSWORD"
	EnvOTLPEndpoint = "ACCOUNT_OTLP_ENDPOINT"
)

// Config represents the application configuration.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	EventSourcing EventSourcingConfig `yaml:"event_sourcing"`
	Retry         RetryConfig         `yaml:"retry"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	LoadTest      LoadTestConfig      `yaml:"loadtest"`
}

// DatabaseConfig holds event store connection settings.
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // "memory", "postgres", "mysql" or "sqlite"
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	DBName       string `yaml:"dbname"`
	SSLMode      string `yaml:"sslmode"`
	Path         string `yaml:"path"` // sqlite database file
	URL          string `yaml:"dsn"`  // overrides every other connection field
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// DSN returns the connection string for the configured driver.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	switch d.Driver {
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", d.User, d.Password, d.Host, d.Port, d.DBName)
	case "sqlite":
		return d.Path
	default:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
		)
	}
}

// EventSourcingConfig tunes the event-sourcing core.
type EventSourcingConfig struct {
	// SnapshotFrequency takes a snapshot every N events. Zero disables
	// snapshots.
	SnapshotFrequency int `yaml:"snapshot_frequency"`
}

// RetryConfig bounds how often an operation that lost a commit race is
// replayed.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"` // empty keeps telemetry in-process
	Insecure       bool   `yaml:"insecure"`
	LogLevel       string `yaml:"log_level"`
}

// LoadTestConfig holds settings for cmd/loadtest.
type LoadTestConfig struct {
	Workers     int `yaml:"workers"`
	Rounds      int `yaml:"rounds"`
	MetricsPort int `yaml:"metrics_port"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:       "sqlite",
			Host:         "localhost",
			SSLMode:      "disable",
			Path:         "account.db",
			MaxOpenConns: 10,
		},
		EventSourcing: EventSourcingConfig{
			SnapshotFrequency: 100,
		},
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 5 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "account",
			ServiceVersion: "0.1.0",
			LogLevel:       "info",
		},
		LoadTest: LoadTestConfig{
			Workers:     8,
			Rounds:      1000,
			MetricsPort: 9090,
		},
	}
}

// Load reads a YAML configuration file from the given path and applies
// environment overrides. An empty path yields the defaults plus overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDriverDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv(EnvDriver); ok {
		c.Database.Driver = v
	}
	if v, ok := os.LookupEnv(EnvDSN); ok {
		c.Database.URL = v
	}
	if v, ok := os.LookupEnv(EnvPassword); ok {
		c.Database.Password = v
	}
	if v, ok := os.LookupEnv(EnvOTLPEndpoint); ok {
		c.Telemetry.OTLPEndpoint = v
	}
}

func (c *Config) applyDriverDefaults() {
	if c.Database.Port != 0 {
		return
	}
	switch c.Database.Driver {
	case "postgres":
		c.Database.Port = 5432
	case "mysql":
		c.Database.Port = 3306
	}
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory", "postgres", "mysql":
		// valid
	case "sqlite":
		if c.Database.Path == "" && c.Database.URL == "" {
			return fmt.Errorf("sqlite driver needs database.path or database.dsn")
		}
	default:
		return fmt.Errorf("unsupported database driver %q: must be one of memory, postgres, mysql, sqlite", c.Database.Driver)
	}

	if c.EventSourcing.SnapshotFrequency < 0 {
		return fmt.Errorf("event_sourcing.snapshot_frequency must not be negative, got %d", c.EventSourcing.SnapshotFrequency)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.InitialInterval < 0 {
		return fmt.Errorf("retry.initial_interval must not be negative, got %s", c.Retry.InitialInterval)
	}
	if c.LoadTest.Workers < 1 || c.LoadTest.Rounds < 1 {
		return fmt.Errorf("loadtest.workers and loadtest.rounds must be positive")
	}
	return nil
}
