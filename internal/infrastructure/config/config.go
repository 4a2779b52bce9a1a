package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the doggy door service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Detector    DetectorConfig    `yaml:"detector"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Lock        LockConfig        `yaml:"lock"`
	Homebridge  HomebridgeConfig  `yaml:"homebridge"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	API         APIConfig         `yaml:"api"`
	Status      StatusConfig      `yaml:"status"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DetectorConfig contains BLE scanning and tag matching settings.
type DetectorConfig struct {
	// ThresholdFeet is the proximity boundary. At or under it the tag
	// counts as CLOSE.
	ThresholdFeet float64 `yaml:"threshold_feet"`

	// ScanWindowSeconds is how long each scan window collects
	// advertisements.
	ScanWindowSeconds int `yaml:"scan_window_seconds"`

	// ScanIntervalSeconds is the pause between scan windows.
	ScanIntervalSeconds int `yaml:"scan_interval_seconds"`

	// DeviceID selects the HCI adapter (0 for hci0).
	DeviceID int `yaml:"device_id"`

	// Policy is the matching policy: "any" accepts any recognised
	// tag, "address" requires TagAddress to match.
	Policy string `yaml:"policy"`

	// TagAddress is the specific tag address for the "address" policy.
	TagAddress string `yaml:"tag_address"`

	// Registry bounds the recent-match address registry.
	Registry RegistryConfig `yaml:"registry"`
}

// RegistryConfig bounds the recent-match address registry.
type RegistryConfig struct {
	Capacity   int `yaml:"capacity"`
	TTLMinutes int `yaml:"ttl_minutes"`
}

// CalibrationConfig contains the path-loss distance model parameters.
type CalibrationConfig struct {
	// ReferenceRSSI is the expected RSSI in dBm at one metre.
	ReferenceRSSI int `yaml:"reference_rssi"`

	// PathLossExponent models the propagation environment
	// (2.0 free space, higher indoors).
	PathLossExponent float64 `yaml:"path_loss_exponent"`
}

// LockConfig contains lock controller settings.
type LockConfig struct {
	// AutoUnlockTimeoutMinutes is how long the door stays unlocked
	// before relocking automatically.
	AutoUnlockTimeoutMinutes int `yaml:"auto_unlock_timeout_minutes"`

	// FailSafe treats actuator read failures as locked.
	FailSafe bool `yaml:"fail_safe"`
}

// HomebridgeConfig contains accessory API connection settings for the
// physical lock actuator.
type HomebridgeConfig struct {
	URL              string `yaml:"url"`
	Token            string `yaml:"token"`
	AccessoryID      int    `yaml:"accessory_id"`
	CharacteristicID int    `yaml:"characteristic_id"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays is how long journal rows are kept before the
	// daily sweep deletes them. Zero disables pruning.
	RetentionDays int `yaml:"retention_days"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Token    string           `yaml:"token"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// StatusConfig contains periodic status report settings.
type StatusConfig struct {
	ReportIntervalMinutes int `yaml:"report_interval_minutes"`
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
// Environment variables follow the pattern: DOGGYDOOR_SECTION_KEY
// For example: DOGGYDOOR_DATABASE_PATH, DOGGYDOOR_HOMEBRIDGE_TOKEN
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Detector: DetectorConfig{
			ThresholdFeet:       3.0,
			ScanWindowSeconds:   4,
			ScanIntervalSeconds: 2,
			DeviceID:            0,
			Policy:              "any",
			Registry: RegistryConfig{
				Capacity:   256,
				TTLMinutes: 15,
			},
		},
		Calibration: CalibrationConfig{
			ReferenceRSSI:    -59,
			PathLossExponent: 2.0,
		},
		Lock: LockConfig{
			AutoUnlockTimeoutMinutes: 10,
			FailSafe:                 true,
		},
		Homebridge: HomebridgeConfig{
			AccessoryID:    1,
			TimeoutSeconds: 10,
		},
		Database: DatabaseConfig{
			Path:          "./data/doggydoor.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 90,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "doggydoor",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Status: StatusConfig{
			ReportIntervalMinutes: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DOGGYDOOR_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Detector
	if v := os.Getenv("DOGGYDOOR_DETECTOR_THRESHOLD_FEET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detector.ThresholdFeet = f
		}
	}
	if v := os.Getenv("DOGGYDOOR_DETECTOR_TAG_ADDRESS"); v != "" {
		cfg.Detector.TagAddress = v
	}

	// Homebridge
	if v := os.Getenv("DOGGYDOOR_HOMEBRIDGE_URL"); v != "" {
		cfg.Homebridge.URL = v
	}
	if v := os.Getenv("DOGGYDOOR_HOMEBRIDGE_TOKEN"); v != "" {
		cfg.Homebridge.Token = v
	}

	// Database
	if v := os.Getenv("DOGGYDOOR_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("DOGGYDOOR_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DOGGYDOOR_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DOGGYDOOR_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("DOGGYDOOR_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// API
	if v := os.Getenv("DOGGYDOOR_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Detector validation
	if c.Detector.ThresholdFeet <= 0 {
		errs = append(errs, "detector.threshold_feet must be positive")
	}
	if c.Detector.ScanWindowSeconds <= 0 {
		errs = append(errs, "detector.scan_window_seconds must be positive")
	}
	if c.Detector.ScanIntervalSeconds <= 0 {
		errs = append(errs, "detector.scan_interval_seconds must be positive")
	}
	switch c.Detector.Policy {
	case "any":
	case "address":
		if c.Detector.TagAddress == "" {
			errs = append(errs, "detector.tag_address is required for the address policy")
		}
	default:
		errs = append(errs, "detector.policy must be \"any\" or \"address\"")
	}

	// Calibration validation
	if c.Calibration.PathLossExponent <= 0 {
		errs = append(errs, "calibration.path_loss_exponent must be positive")
	}

	// Lock validation
	if c.Lock.AutoUnlockTimeoutMinutes <= 0 {
		errs = append(errs, "lock.auto_unlock_timeout_minutes must be positive")
	}

	// Actuator validation. The physical lock is the whole point of the
	// service; refusing to start without it beats silently running
	// detection-only.
	if c.Homebridge.URL == "" {
		errs = append(errs, "homebridge.url is required")
	}
	if c.Homebridge.CharacteristicID <= 0 {
		errs = append(errs, "homebridge.characteristic_id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days cannot be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ScanWindow returns the scan window as a Duration.
func (c *Config) ScanWindow() time.Duration {
	return time.Duration(c.Detector.ScanWindowSeconds) * time.Second
}

// ScanInterval returns the pause between scan windows as a Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Detector.ScanIntervalSeconds) * time.Second
}

// RegistryTTL returns the recent-match registry TTL as a Duration.
func (c *Config) RegistryTTL() time.Duration {
	return time.Duration(c.Detector.Registry.TTLMinutes) * time.Minute
}

// AutoUnlockTimeout returns the auto-relock delay as a Duration.
func (c *Config) AutoUnlockTimeout() time.Duration {
	return time.Duration(c.Lock.AutoUnlockTimeoutMinutes) * time.Minute
}

// ActuatorTimeout returns the accessory API request timeout as a Duration.
func (c *Config) ActuatorTimeout() time.Duration {
	return time.Duration(c.Homebridge.TimeoutSeconds) * time.Second
}

// StatusReportInterval returns the status report period as a Duration.
func (c *Config) StatusReportInterval() time.Duration {
	return time.Duration(c.Status.ReportIntervalMinutes) * time.Minute
}

// EventRetention returns the journal retention period as a Duration.
// Zero means journal rows are kept forever.
func (c *Config) EventRetention() time.Duration {
	return time.Duration(c.Database.RetentionDays) * 24 * time.Hour
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
