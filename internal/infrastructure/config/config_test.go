package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
site:
  id: "test-site"
store:
  config_path: "/tmp/device_config.json"
  profile_backend: "sqlite"
  sync_interval: 10
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
  topic_prefix: "lab/core"
`
	cfg, err := Load(writeConfig(t, "config.yaml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Store.ProfileBackend != ProfileBackendSQLite {
		t.Errorf("Store.ProfileBackend = %q, want sqlite", cfg.Store.ProfileBackend)
	}
	if cfg.MQTT.TopicPrefix != "lab/core" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "lab/core")
	}
	if cfg.GetSyncInterval() != 10*time.Second {
		t.Errorf("GetSyncInterval() = %v, want 10s", cfg.GetSyncInterval())
	}

	// Unset sections keep their defaults.
	if cfg.Store.ScratchSize != 64*1024 {
		t.Errorf("Store.ScratchSize = %d, want default", cfg.Store.ScratchSize)
	}
	if !cfg.Liveness.Enabled || cfg.Liveness.Timeout != 5 {
		t.Errorf("Liveness = %+v, want defaults", cfg.Liveness)
	}
}

func TestLoad_TOML(t *testing.T) {
	content := `
[site]
id = "toml-site"

[store]
config_path = "/var/lib/devicecore/config.json"
profile_dir = "/var/lib/devicecore/profiles"

[mqtt]
qos = 2
topic_prefix = "plant/core"

[mqtt.broker]
host = "broker.local"

[logging]
level = "debug"

[logging.file]
path = "/var/log/devicecore.log"
compress = true
`
	cfg, err := Load(writeConfig(t, "config.toml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "toml-site" {
		t.Errorf("Site.ID = %q", cfg.Site.ID)
	}
	if cfg.MQTT.Broker.Host != "broker.local" || cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker = %+v", cfg.MQTT.Broker)
	}
	if cfg.MQTT.QoS != 2 {
		t.Errorf("MQTT.QoS = %d, want 2", cfg.MQTT.QoS)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.File.Compress || cfg.Logging.File.MaxBackups != 5 {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidSyntax(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "yaml", file: "config.yaml", content: "invalid: [yaml: content"},
		{name: "toml", file: "config.toml", content: "[site\nid = "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.file, tt.content)); err == nil {
				t.Error("Load() expected parse error, got nil")
			}
		})
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
`
	_, err := Load(writeConfig(t, "config.yaml", content))
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}, wantErr: false},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: true},
		{name: "missing store path", mutate: func(c *Config) { c.Store.ConfigPath = "" }, wantErr: true},
		{name: "unknown profile backend", mutate: func(c *Config) { c.Store.ProfileBackend = "etcd" }, wantErr: true},
		{name: "file backend without dir", mutate: func(c *Config) { c.Store.ProfileDir = "" }, wantErr: true},
		{
			name: "sqlite backend without dir",
			mutate: func(c *Config) {
				c.Store.ProfileBackend = ProfileBackendSQLite
				c.Store.ProfileDir = ""
			},
			wantErr: false,
		},
		{name: "negative sync interval", mutate: func(c *Config) { c.Store.SyncInterval = -1 }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "wildcard prefix", mutate: func(c *Config) { c.MQTT.TopicPrefix = "core/#" }, wantErr: true},
		{name: "influx without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "verbose" }, wantErr: true},
		{name: "liveness interval over timeout", mutate: func(c *Config) { c.Liveness.CheckInterval = 10 }, wantErr: true},
		{
			name: "liveness disabled ignores timings",
			mutate: func(c *Config) {
				c.Liveness.Enabled = false
				c.Liveness.Timeout = 0
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		Store:    StoreConfig{SyncInterval: 30},
		Runtime:  RuntimeConfig{HistoryRetentionDays: 2},
		Liveness: LivenessConfig{Timeout: 5, CheckInterval: 1},
	}

	if got := cfg.GetSyncInterval(); got != 30*time.Second {
		t.Errorf("GetSyncInterval() = %v, want 30s", got)
	}
	if got := cfg.GetHistoryRetention(); got != 48*time.Hour {
		t.Errorf("GetHistoryRetention() = %v, want 48h", got)
	}
	if got := cfg.GetLivenessTimeout(); got != 5*time.Second {
		t.Errorf("GetLivenessTimeout() = %v, want 5s", got)
	}
	if got := cfg.GetLivenessCheckInterval(); got != time.Second {
		t.Errorf("GetLivenessCheckInterval() = %v, want 1s", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("GRAYLOGIC_STORE_CONFIG_PATH", "/custom/config.json")
	t.Setenv("GRAYLOGIC_STORE_PROFILE_DIR", "/custom/profiles")
	t.Setenv("GRAYLOGIC_DATABASE_PATH", "/custom/path.db")
	t.Setenv("GRAYLOGIC_MQTT_HOST", "mqtt.example.com")
	t.Setenv("GRAYLOGIC_MQTT_PORT", "8883")
	t.Setenv("GRAYLOGIC_MQTT_USERNAME", "testuser")
	t.Setenv("GRAYLOGIC_MQTT_PASSWORD", "testpass")
	t.Setenv("GRAYLOGIC_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("GRAYLOGIC_LOGGING_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Store.ConfigPath != "/custom/config.json" {
		t.Errorf("Store.ConfigPath = %q", cfg.Store.ConfigPath)
	}
	if cfg.Store.ProfileDir != "/custom/profiles" {
		t.Errorf("Store.ProfileDir = %q", cfg.Store.ProfileDir)
	}
	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("GRAYLOGIC_MQTT_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want default 1883", cfg.MQTT.Broker.Port)
	}
}

func TestDefault(t *testing.T) {
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default() error = %v", err)
	}

	if cfg.Site.ID == "" {
		t.Error("Default should have non-empty Site.ID")
	}
	if cfg.Store.ProfileBackend != ProfileBackendFile {
		t.Errorf("Store.ProfileBackend = %q, want file", cfg.Store.ProfileBackend)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.TopicPrefix == "" {
		t.Error("Default should have a topic prefix")
	}
}
