package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for patchbay.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	JACK       JACKConfig       `yaml:"jack"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Relay      RelayConfig      `yaml:"relay"`
	Database   DatabaseConfig   `yaml:"database"`
	History    HistoryConfig    `yaml:"history"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Security   SecurityConfig   `yaml:"security"`
}

// InstanceConfig identifies this daemon.
type InstanceConfig struct {
	Name string `yaml:"name"`
	// LockFile guards against two daemons mirroring the same server.
	LockFile string `yaml:"lock_file"`
}

// JACKConfig describes how the JACK server is reached and how its ports are named.
type JACKConfig struct {
	// TopicPrefix is the MQTT prefix the relay publishes under.
	TopicPrefix string `yaml:"topic_prefix"`

	// BridgeClient is the JACK client name of the ALSA MIDI bridge.
	// Default: "a2j"
	BridgeClient string `yaml:"bridge_client"`

	// AliasMode selects the displayed name: 0 canonical, 1 first alias,
	// 2 second alias. Default: 2
	AliasMode int `yaml:"alias_mode"`

	// HandleGrace keeps a retired port handle resolvable so late events
	// for it still apply. Default: 5s
	HandleGrace time.Duration `yaml:"handle_grace"`
}

// ReconcilerConfig contains event queue settings.
type ReconcilerConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// RelayConfig contains settings for supervising the JACK relay sidecar.
type RelayConfig struct {
	// Managed indicates whether patchbay should start the relay itself.
	// If false, the relay is expected to be running externally.
	Managed bool `yaml:"managed"`

	// Binary is the path to the relay executable.
	Binary string `yaml:"binary"`

	// Args are passed to the relay unchanged.
	Args []string `yaml:"args"`

	// RestartOnFailure enables automatic restart if the relay exits.
	// Default: true
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelaySeconds is the time to wait before restarting.
	// Default: 5
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	// Default: 10
	MaxRestartAttempts int `yaml:"max_restart_attempts"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// HistoryConfig controls the graph event journal.
type HistoryConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
	BufferSize    int  `yaml:"buffer_size"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
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
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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
	// SampleInterval is how often graph sizes are written, in seconds.
	SampleInterval int `yaml:"sample_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// AccessTokenTTL is the lifetime of minted tokens in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PATCHBAY_SECTION_KEY
// For example: PATCHBAY_DATABASE_PATH, PATCHBAY_JACK_ALIAS_MODE
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

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Instance: InstanceConfig{
			Name:     "patchbay",
			LockFile: "./data/patchbay.lock",
		},
		JACK: JACKConfig{
			TopicPrefix:  "patchbay/jack",
			BridgeClient: "a2j",
			AliasMode:    2,
			HandleGrace:  5 * time.Second,
		},
		Reconciler: ReconcilerConfig{
			QueueSize: 1024,
		},
		Relay: RelayConfig{
			Binary:              "/usr/bin/patchbay-relay",
			RestartOnFailure:    true,
			RestartDelaySeconds: 5,
			MaxRestartAttempts:  10,
		},
		Database: DatabaseConfig{
			Path:        "./data/patchbay.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 30,
			BufferSize:    256,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "patchbay",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8480,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:      100,
			FlushInterval:  10,
			SampleInterval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PATCHBAY_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := os.Getenv("PATCHBAY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// JACK
	if v := os.Getenv("PATCHBAY_JACK_TOPIC_PREFIX"); v != "" {
		cfg.JACK.TopicPrefix = v
	}
	if v := os.Getenv("PATCHBAY_JACK_BRIDGE_CLIENT"); v != "" {
		cfg.JACK.BridgeClient = v
	}
	if v := os.Getenv("PATCHBAY_JACK_ALIAS_MODE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PATCHBAY_JACK_ALIAS_MODE: %w", err)
		}
		cfg.JACK.AliasMode = n
	}

	// MQTT
	if v := os.Getenv("PATCHBAY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PATCHBAY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PATCHBAY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PATCHBAY_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("PATCHBAY_API_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PATCHBAY_API_PORT: %w", err)
		}
		cfg.API.Port = n
	}

	// InfluxDB
	if v := os.Getenv("PATCHBAY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("PATCHBAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("PATCHBAY_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	return nil
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// JACK validation
	if c.JACK.TopicPrefix == "" {
		errs = append(errs, "jack.topic_prefix is required")
	}
	if c.JACK.AliasMode < 0 || c.JACK.AliasMode > 2 {
		errs = append(errs, "jack.alias_mode must be 0, 1, or 2")
	}
	if c.JACK.HandleGrace < 0 {
		errs = append(errs, "jack.handle_grace must not be negative")
	}

	// Reconciler validation
	if c.Reconciler.QueueSize < 1 {
		errs = append(errs, "reconciler.queue_size must be at least 1")
	}

	// Relay validation
	if c.Relay.Managed && c.Relay.Binary == "" {
		errs = append(errs, "relay.binary is required when relay.managed is true")
	}

	// Database validation
	if c.History.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when history is enabled")
	}
	if c.History.RetentionDays < 0 {
		errs = append(errs, "history.retention_days must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation - mutations on the graph are authenticated
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set PATCHBAY_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
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

// APIBaseURL returns the URL a local client uses to reach the API.
func (c *Config) APIBaseURL() string {
	host := c.API.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	scheme := "http"
	if c.API.TLS.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, c.API.Port)
}
