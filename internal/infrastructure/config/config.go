package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for FleetWatch Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	Journal   JournalConfig   `yaml:"journal"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Reporting ReportingConfig `yaml:"reporting"`
}

// SiteConfig identifies the deployment.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// JournalConfig controls write-behind persistence of registry mutations.
type JournalConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BufferSize     int           `yaml:"buffer_size"`
	EnqueueTimeout time.Duration `yaml:"enqueue_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// TelemetryConfig controls MQTT ingest and event publishing.
type TelemetryConfig struct {
	// Enabled subscribes to endpoint telemetry topics.
	Enabled bool `yaml:"enabled"`

	// AutoRegister creates unknown devices on first log or ip message,
	// using the device id as the name.
	AutoRegister bool `yaml:"auto_register"`

	// ValidateIPs rejects ip payloads that do not parse as an address.
	ValidateIPs bool `yaml:"validate_ips"`

	// PublishEvents republishes registry events to MQTT.
	PublishEvents bool `yaml:"publish_events"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host        string           `yaml:"host"`
	Port        int              `yaml:"port"`
	TLS         TLSConfig        `yaml:"tls"`
	Timeouts    APITimeoutConfig `yaml:"timeouts"`
	CORS        CORSConfig       `yaml:"cors"`
	MaxBodySize int64            `yaml:"max_body_size"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// Files are rotated by size; MaxSize is in megabytes and MaxAge in days.
type FileLoggingConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// ReportingConfig controls the periodic registry statistics job.
type ReportingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron spec, including descriptors such as "@every 1m".
	Schedule string `yaml:"schedule"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FLEETWATCH_SECTION_KEY
// For example: FLEETWATCH_DATABASE_PATH, FLEETWATCH_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "FleetWatch",
		},
		Database: DatabaseConfig{
			Path:        "./data/fleetwatch.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Journal: JournalConfig{
			Enabled:        true,
			BufferSize:     1024,
			EnqueueTimeout: 100 * time.Millisecond,
			WriteTimeout:   5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fleetwatch-core",
			},
			QoS:         1,
			TopicPrefix: "fleetwatch",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Telemetry: TelemetryConfig{
			Enabled:       true,
			AutoRegister:  false,
			ValidateIPs:   true,
			PublishEvents: true,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			MaxBodySize: 1 << 20,
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
			File: FileLoggingConfig{
				MaxSize:    100,
				MaxBackups: 5,
				MaxAge:     30,
				Compress:   true,
			},
		},
		Reporting: ReportingConfig{
			Enabled:  true,
			Schedule: "@every 1m",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FLEETWATCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := os.Getenv("FLEETWATCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FLEETWATCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FLEETWATCH_MQTT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLEETWATCH_MQTT_PORT: %w", err)
		}
		cfg.MQTT.Broker.Port = port
	}
	if v := os.Getenv("FLEETWATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FLEETWATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("FLEETWATCH_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("FLEETWATCH_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FLEETWATCH_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	// InfluxDB
	if v := os.Getenv("FLEETWATCH_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("FLEETWATCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("FLEETWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Journal.Enabled {
		if c.Journal.BufferSize < 1 {
			errs = append(errs, "journal.buffer_size must be positive")
		}
		if c.Journal.EnqueueTimeout <= 0 {
			errs = append(errs, "journal.enqueue_timeout must be positive")
		}
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, "mqtt.topic_prefix must be non-empty and free of wildcards")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Logging.Output == "file" && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	if c.Reporting.Enabled && c.Reporting.Schedule == "" {
		errs = append(errs, "reporting.schedule is required when reporting is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
