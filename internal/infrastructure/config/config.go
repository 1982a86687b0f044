package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for UnitKey Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// MQTTConfig contains the security event bus connection settings.
// The bus carries device revocations, share revocations, and issuance
// notices for external consumers (denylist distributors, facility gateways).
type MQTTConfig struct {
	Enabled bool             `yaml:"enabled"`
	Broker  MQTTBrokerConfig `yaml:"broker"`
	Auth    MQTTAuthConfig   `yaml:"auth"`
	QoS     int              `yaml:"qos"`
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

// InfluxDBConfig contains issuance metrics settings.
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

// SecurityConfig contains session validation and route pass settings.
type SecurityConfig struct {
	Session   SessionConfig   `yaml:"session"`
	RoutePass RoutePassConfig `yaml:"route_pass"`
	Devices   DeviceConfig    `yaml:"devices"`
}

// SessionConfig contains settings for validating caller session tokens.
// Sessions are minted by the platform's identity service; this core only
// verifies them.
type SessionConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// RoutePassConfig contains route pass issuance settings.
type RoutePassConfig struct {
	// SigningKeyPath is the path to the Ed25519 signing seed
	// (base64-encoded, 32 bytes). Loaded once at startup.
	SigningKeyPath string `yaml:"signing_key_path"`

	// TTL is the route pass lifetime in seconds.
	TTL int `yaml:"ttl"`
}

// DeviceConfig contains device registration settings.
type DeviceConfig struct {
	// MaxPerUser caps active device identities per user. 0 disables the cap.
	MaxPerUser int `yaml:"max_per_user"`
}

// maxDevicesPerUserLimit is the upper bound accepted for the device cap.
const maxDevicesPerUserLimit = 250

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern UNITKEY_SECTION_KEY, for example
// UNITKEY_DATABASE_PATH or UNITKEY_SESSION_JWT_SECRET.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/unitkey.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "unitkey-core",
			},
			QoS: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			RoutePass: RoutePassConfig{
				SigningKeyPath: "./data/routepass.key",
				TTL:            300,
			},
			Devices: DeviceConfig{
				MaxPerUser: 5,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("UNITKEY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("UNITKEY_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("UNITKEY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("UNITKEY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("UNITKEY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("UNITKEY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("UNITKEY_SESSION_JWT_SECRET"); v != "" {
		cfg.Security.Session.JWTSecret = v
	}
	if v := os.Getenv("UNITKEY_SIGNING_KEY_PATH"); v != "" {
		cfg.Security.RoutePass.SigningKeyPath = v
	}
	if v := os.Getenv("UNITKEY_MAX_DEVICES_PER_USER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.Devices.MaxPerUser = n
		}
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Session secret is required: without it any caller could forge a
	// session and obtain route passes for arbitrary users.
	const minJWTSecretLength = 32
	if c.Security.Session.JWTSecret == "" {
		errs = append(errs, "security.session.jwt_secret is required (set UNITKEY_SESSION_JWT_SECRET environment variable)")
	} else if len(c.Security.Session.JWTSecret) < minJWTSecretLength {
		errs = append(errs, "security.session.jwt_secret must be at least 32 characters")
	}

	if c.Security.RoutePass.SigningKeyPath == "" {
		errs = append(errs, "security.route_pass.signing_key_path is required")
	}
	if c.Security.RoutePass.TTL <= 0 {
		errs = append(errs, "security.route_pass.ttl must be positive")
	}

	if c.Security.Devices.MaxPerUser < 0 || c.Security.Devices.MaxPerUser > maxDevicesPerUserLimit {
		errs = append(errs, fmt.Sprintf("security.devices.max_per_user must be between 0 and %d", maxDevicesPerUserLimit))
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
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

// RoutePassTTL returns the route pass lifetime as a Duration.
func (c *Config) RoutePassTTL() time.Duration {
	return time.Duration(c.Security.RoutePass.TTL) * time.Second
}
