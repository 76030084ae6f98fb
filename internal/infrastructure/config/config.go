package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for tuyalink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Devices   DevicesConfig   `yaml:"devices"`
	Database  DatabaseConfig  `yaml:"database"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DevicesConfig locates the device seed file.
type DevicesConfig struct {
	// SeedFile is the path to the devices.json seed file
	// (TinyTuya wizard format). Device credentials only ever enter
	// the system through this file, never through discovery.
	SeedFile string `yaml:"seed_file"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// DispatchConfig contains command dispatch and retry settings.
type DispatchConfig struct {
	// RetryCeiling is the maximum number of attempts for a transiently
	// failing transport call before the operation is surfaced as failed.
	RetryCeiling int `yaml:"retry_ceiling"`

	// BackoffBase is the delay before the first retry. Each subsequent
	// retry doubles the delay up to BackoffCap.
	BackoffBase time.Duration `yaml:"backoff_base"`

	// BackoffCap bounds the exponential backoff delay.
	BackoffCap time.Duration `yaml:"backoff_cap"`

	// AcquireTimeout is how long a dispatch waits for a device's
	// exclusive connection slot before giving up.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// CallTimeout bounds a single transport send/receive round trip.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// SessionIdleTimeout is how long an idle device session is kept
	// open for reuse before it is closed.
	SessionIdleTimeout time.Duration `yaml:"session_idle_timeout"`

	// BatchFanout limits how many devices a batch commands concurrently.
	BatchFanout int `yaml:"batch_fanout"`
}

// DiscoveryConfig contains UDP discovery listener settings.
type DiscoveryConfig struct {
	// Port is the UDP port Tuya devices broadcast announcements on.
	Port int `yaml:"port"`

	// DefaultBudget is the scan duration used when a discovery run is
	// requested without an explicit budget.
	DefaultBudget time.Duration `yaml:"default_budget"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
	Auth     APIAuthConfig    `yaml:"auth"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
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

// APIAuthConfig contains API bearer-token settings.
// When JWTSecret is empty the API runs unauthenticated (dev mode).
type APIAuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
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
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: TUYALINK_SECTION_KEY
// For example: TUYALINK_DATABASE_PATH, TUYALINK_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config populated with sensible defaults.
// Values match a single-host deployment with a local broker.
func defaultConfig() *Config {
	return &Config{
		Devices: DevicesConfig{
			SeedFile: "configs/devices.json",
		},
		Database: DatabaseConfig{
			Path:        "data/tuyalink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Dispatch: DispatchConfig{
			RetryCeiling:       3,
			BackoffBase:        200 * time.Millisecond,
			BackoffCap:         5 * time.Second,
			AcquireTimeout:     10 * time.Second,
			CallTimeout:        10 * time.Second,
			SessionIdleTimeout: 30 * time.Second,
			BatchFanout:        4,
		},
		Discovery: DiscoveryConfig{
			Port:          6667,
			DefaultBudget: 20 * time.Second,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "tuyalink-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0, // unlimited
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8094,
			Timeouts: APITimeoutConfig{
				Read:  15,
				Write: 15,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 4096,
			PingInterval:   30,
			PongTimeout:    60,
		},
		InfluxDB: InfluxDBConfig{
			Enabled:       false,
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides replaces config values with TUYALINK_* environment
// variables where set. Only operationally useful knobs are exposed; the
// full surface remains YAML-only.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TUYALINK_DEVICES_SEED_FILE"); v != "" {
		cfg.Devices.SeedFile = v
	}
	if v := os.Getenv("TUYALINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("TUYALINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("TUYALINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("TUYALINK_API_JWT_SECRET"); v != "" {
		cfg.API.Auth.JWTSecret = v
	}
	if v := os.Getenv("TUYALINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("TUYALINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("TUYALINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("TUYALINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) validate() error {
	if c.Devices.SeedFile == "" {
		return fmt.Errorf("devices.seed_file must not be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Dispatch.RetryCeiling < 1 {
		return fmt.Errorf("dispatch.retry_ceiling must be at least 1, got %d", c.Dispatch.RetryCeiling)
	}
	if c.Dispatch.BackoffBase <= 0 {
		return fmt.Errorf("dispatch.backoff_base must be positive, got %v", c.Dispatch.BackoffBase)
	}
	if c.Dispatch.BackoffCap < c.Dispatch.BackoffBase {
		return fmt.Errorf("dispatch.backoff_cap (%v) must not be below backoff_base (%v)",
			c.Dispatch.BackoffCap, c.Dispatch.BackoffBase)
	}
	if c.Dispatch.BatchFanout < 1 {
		return fmt.Errorf("dispatch.batch_fanout must be at least 1, got %d", c.Dispatch.BatchFanout)
	}
	if c.Discovery.Port < 1 || c.Discovery.Port > 65535 {
		return fmt.Errorf("discovery.port must be 1-65535, got %d", c.Discovery.Port)
	}
	if c.API.Port < 1 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be 1-65535, got %d", c.API.Port)
	}
	if c.MQTT.Enabled {
		if c.MQTT.Broker.Host == "" {
			return fmt.Errorf("mqtt.broker.host must not be empty when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos must be 0-2, got %d", c.MQTT.QoS)
		}
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			return fmt.Errorf("influxdb.url must not be empty when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			return fmt.Errorf("influxdb.bucket must not be empty when influxdb is enabled")
		}
	}
	return nil
}
