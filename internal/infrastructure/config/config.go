package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the device core.
// Configuration is loaded from YAML (or TOML) and can be overridden by
// environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site" toml:"site"`
	Store    StoreConfig    `yaml:"store" toml:"store"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt" toml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb" toml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Runtime  RuntimeConfig  `yaml:"runtime" toml:"runtime"`
	Liveness LivenessConfig `yaml:"liveness" toml:"liveness"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id" toml:"id"`
	Name     string `yaml:"name" toml:"name"`
	Timezone string `yaml:"timezone" toml:"timezone"`
}

// Profile storage backends.
const (
	ProfileBackendFile   = "file"
	ProfileBackendSQLite = "sqlite"
)

// StoreConfig contains device configuration store settings.
type StoreConfig struct {
	// ConfigPath is the main configuration document.
	ConfigPath string `yaml:"config_path" toml:"config_path"`

	// ProfileBackend selects where per-profile device lists live:
	// "file" (one JSON file per profile in ProfileDir) or "sqlite".
	ProfileBackend string `yaml:"profile_backend" toml:"profile_backend"`
	ProfileDir     string `yaml:"profile_dir" toml:"profile_dir"`

	// ScratchSize is the preallocated encode buffer in bytes.
	// Negative disables the shared buffer.
	ScratchSize int `yaml:"scratch_size" toml:"scratch_size"`

	// SyncInterval is how often (seconds) unpersisted generations are
	// flushed. 0 disables the periodic sync.
	SyncInterval int `yaml:"sync_interval" toml:"sync_interval"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path" toml:"path"`
	WALMode     bool   `yaml:"wal_mode" toml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout" toml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker" toml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth" toml:"auth"`
	QoS       int                 `yaml:"qos" toml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect" toml:"reconnect"`

	// TopicPrefix namespaces the core's own topics (status, flags,
	// scenario requests, audio commands, config notifications).
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	TLS      bool   `yaml:"tls" toml:"tls"`
	ClientID string `yaml:"client_id" toml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay" toml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts" toml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	URL           string `yaml:"url" toml:"url"`
	Token         string `yaml:"token" toml:"token"`
	Org           string `yaml:"org" toml:"org"`
	Bucket        string `yaml:"bucket" toml:"bucket"`
	BatchSize     int    `yaml:"batch_size" toml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval" toml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level" toml:"level"`
	Format string            `yaml:"format" toml:"format"`
	Output string            `yaml:"output" toml:"output"`
	File   FileLoggingConfig `yaml:"file" toml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
type FileLoggingConfig struct {
	Path       string `yaml:"path" toml:"path"`
	MaxSize    int    `yaml:"max_size" toml:"max_size"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAge     int    `yaml:"max_age" toml:"max_age"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// RuntimeConfig contains template runtime settings.
type RuntimeConfig struct {
	// HistoryEnabled records template events in the trigger_history table.
	HistoryEnabled bool `yaml:"history_enabled" toml:"history_enabled"`

	// HistoryRetentionDays prunes older history. 0 keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days" toml:"history_retention_days"`

	// FlagInput subscribes to <topic_prefix>/flag/+ and feeds the flag
	// trigger runtimes.
	FlagInput bool `yaml:"flag_input" toml:"flag_input"`
}

// LivenessConfig contains the stall watchdog settings.
type LivenessConfig struct {
	Enabled       bool `yaml:"enabled" toml:"enabled"`
	Timeout       int  `yaml:"timeout" toml:"timeout"`
	CheckInterval int  `yaml:"check_interval" toml:"check_interval"`
}

// Load reads configuration from a file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults); ".toml" files are parsed as TOML,
//     anything else as YAML
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_STORE_CONFIG_PATH
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied, for running without a config file.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic",
			Timezone: "UTC",
		},
		Store: StoreConfig{
			ConfigPath:     "./data/device_config.json",
			ProfileBackend: ProfileBackendFile,
			ProfileDir:     "./data/profiles",
			ScratchSize:    64 * 1024,
			SyncInterval:   30,
		},
		Database: DatabaseConfig{
			Path:        "./data/devicecore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-devicecore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "graylogic/devicecore",
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
				MaxSize:    10,
				MaxBackups: 5,
				MaxAge:     30,
			},
		},
		Runtime: RuntimeConfig{
			HistoryEnabled:       true,
			HistoryRetentionDays: 30,
			FlagInput:            true,
		},
		Liveness: LivenessConfig{
			Enabled:       true,
			Timeout:       5,
			CheckInterval: 1,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Store
	if v := os.Getenv("GRAYLOGIC_STORE_CONFIG_PATH"); v != "" {
		cfg.Store.ConfigPath = v
	}
	if v := os.Getenv("GRAYLOGIC_STORE_PROFILE_DIR"); v != "" {
		cfg.Store.ProfileDir = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("GRAYLOGIC_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Store validation
	if c.Store.ConfigPath == "" {
		errs = append(errs, "store.config_path is required")
	}
	switch c.Store.ProfileBackend {
	case ProfileBackendFile:
		if c.Store.ProfileDir == "" {
			errs = append(errs, "store.profile_dir is required for the file profile backend")
		}
	case ProfileBackendSQLite:
	default:
		errs = append(errs, "store.profile_backend must be \"file\" or \"sqlite\"")
	}
	if c.Store.SyncInterval < 0 {
		errs = append(errs, "store.sync_interval must not be negative")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, "mqtt.topic_prefix is required and must not contain wildcards")
	}

	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}

	if c.Runtime.HistoryRetentionDays < 0 {
		errs = append(errs, "runtime.history_retention_days must not be negative")
	}

	if c.Liveness.Enabled {
		if c.Liveness.Timeout < 1 || c.Liveness.CheckInterval < 1 {
			errs = append(errs, "liveness.timeout and liveness.check_interval must be at least 1")
		} else if c.Liveness.CheckInterval > c.Liveness.Timeout {
			errs = append(errs, "liveness.check_interval must not exceed liveness.timeout")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetSyncInterval returns the store sync interval as a Duration.
func (c *Config) GetSyncInterval() time.Duration {
	return time.Duration(c.Store.SyncInterval) * time.Second
}

// GetHistoryRetention returns the trigger history retention as a Duration.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Runtime.HistoryRetentionDays) * 24 * time.Hour
}

// GetLivenessTimeout returns the stall threshold as a Duration.
func (c *Config) GetLivenessTimeout() time.Duration {
	return time.Duration(c.Liveness.Timeout) * time.Second
}

// GetLivenessCheckInterval returns the watchdog check interval as a Duration.
func (c *Config) GetLivenessCheckInterval() time.Duration {
	return time.Duration(c.Liveness.CheckInterval) * time.Second
}
