package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Pulse Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Bridge    BridgeConfig    `yaml:"bridge"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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
	Panel    PanelConfig      `yaml:"panel"`
}

// PanelConfig controls the browser operator console served at /panel/.
type PanelConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir serves the console from disk instead of the embedded copy.
	Dir string `yaml:"dir"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
// Actuation telemetry is written here when enabled.
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

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
	// AccessTokenTTL is the lifetime of minted access tokens in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`
}

// SchedulerConfig contains the command scheduler tuning.
//
// All durations are expressed in milliseconds to keep the YAML flat.
type SchedulerConfig struct {
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// PulseCadenceMS is the toggle interval for pulse executions.
	PulseCadenceMS int `yaml:"pulse_cadence_ms"`

	// CooldownMS is the gap between one execution finishing and the next
	// queued entry starting.
	CooldownMS int `yaml:"cooldown_ms"`

	// CallTimeoutMS bounds every individual device call.
	CallTimeoutMS int `yaml:"call_timeout_ms"`

	// IntensityScale is the divisor applied to user intensity to
	// produce a device level in [0,1].
	IntensityScale int `yaml:"intensity_scale"`

	Retry    RetryConfig    `yaml:"retry"`
	Commands CommandsConfig `yaml:"commands"`
}

// RateLimitConfig contains the per-requester fixed window settings.
type RateLimitConfig struct {
	MaxCommands int `yaml:"max_commands"`
	WindowMS    int `yaml:"window_ms"`
}

// RetryConfig bounds the scheduler's recovery from internal dispatch failures.
type RetryConfig struct {
	InitialIntervalMS int `yaml:"initial_interval_ms"`
	MaxIntervalMS     int `yaml:"max_interval_ms"`
	MaxAttempts       int `yaml:"max_attempts"`
}

// CommandsConfig contains the accepted bounds per command kind.
type CommandsConfig struct {
	Vibrate CommandBounds `yaml:"vibrate"`
	Pulse   CommandBounds `yaml:"pulse"`
}

// CommandBounds holds inclusive intensity and duration (seconds) limits.
type CommandBounds struct {
	MinIntensity int `yaml:"min_intensity"`
	MaxIntensity int `yaml:"max_intensity"`
	MinDuration  int `yaml:"min_duration"`
	MaxDuration  int `yaml:"max_duration"`
}

// BridgeConfig contains settings for the device bridge daemon.
type BridgeConfig struct {
	Process BridgeProcessConfig `yaml:"process"`
}

// BridgeProcessConfig controls local supervision of the bridge daemon.
// When disabled the bridge is expected to run elsewhere on the broker.
//
// Durations are in seconds.
type BridgeProcessConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Binary              string   `yaml:"binary"`
	Args                []string `yaml:"args"`
	Env                 []string `yaml:"env"`
	WorkDir             string   `yaml:"work_dir"`
	RestartDelay        int      `yaml:"restart_delay"`
	MaxRestartDelay     int      `yaml:"max_restart_delay"`
	MaxRestartAttempts  int      `yaml:"max_restart_attempts"`
	GracefulTimeout     int      `yaml:"graceful_timeout"`
	HealthCheckInterval int      `yaml:"health_check_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: PULSECORE_SECTION_KEY
// For example: PULSECORE_DATABASE_PATH, PULSECORE_RATE_LIMIT_MAX
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
			Path:        "./data/pulsecore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pulsecore",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			Panel: PanelConfig{
				Enabled: true,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
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
		Scheduler: SchedulerConfig{
			RateLimit: RateLimitConfig{
				MaxCommands: 3,
				WindowMS:    30000,
			},
			PulseCadenceMS: 1000,
			CooldownMS:     500,
			CallTimeoutMS:  2000,
			IntensityScale: 100,
			Retry: RetryConfig{
				InitialIntervalMS: 100,
				MaxIntervalMS:     2000,
				MaxAttempts:       5,
			},
			Commands: CommandsConfig{
				Vibrate: CommandBounds{MinIntensity: 1, MaxIntensity: 100, MinDuration: 1, MaxDuration: 10},
				Pulse:   CommandBounds{MinIntensity: 1, MaxIntensity: 100, MinDuration: 2, MaxDuration: 20},
			},
		},
		Bridge: BridgeConfig{
			Process: BridgeProcessConfig{
				RestartDelay:        2,
				MaxRestartDelay:     60,
				MaxRestartAttempts:  10,
				GracefulTimeout:     10,
				HealthCheckInterval: 30,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: PULSECORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("PULSECORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("PULSECORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("PULSECORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PULSECORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("PULSECORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("PULSECORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("PULSECORE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}

	// Scheduler tuning. Non-numeric values are ignored.
	if v, ok := envInt("PULSECORE_RATE_LIMIT_MAX"); ok {
		cfg.Scheduler.RateLimit.MaxCommands = v
	}
	if v, ok := envInt("PULSECORE_RATE_LIMIT_WINDOW_MS"); ok {
		cfg.Scheduler.RateLimit.WindowMS = v
	}
	if v, ok := envInt("PULSECORE_PULSE_CADENCE_MS"); ok {
		cfg.Scheduler.PulseCadenceMS = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Tokens decide who may stop and lock the devices, so a forgeable
	// secret is never accepted.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set PULSECORE_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	errs = append(errs, c.Scheduler.validate()...)
	errs = append(errs, c.Bridge.Process.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (s SchedulerConfig) validate() []string {
	var errs []string

	if s.RateLimit.MaxCommands < 1 {
		errs = append(errs, "scheduler.rate_limit.max_commands must be at least 1")
	}
	if s.RateLimit.WindowMS < 1 {
		errs = append(errs, "scheduler.rate_limit.window_ms must be positive")
	}
	if s.PulseCadenceMS < 1 {
		errs = append(errs, "scheduler.pulse_cadence_ms must be positive")
	}
	if s.CooldownMS < 0 {
		errs = append(errs, "scheduler.cooldown_ms must not be negative")
	}
	if s.CallTimeoutMS < 1 {
		errs = append(errs, "scheduler.call_timeout_ms must be positive")
	}
	if s.IntensityScale < 1 {
		errs = append(errs, "scheduler.intensity_scale must be positive")
	}
	if s.Retry.MaxAttempts < 0 {
		errs = append(errs, "scheduler.retry.max_attempts must not be negative")
	}

	for name, b := range map[string]CommandBounds{"vibrate": s.Commands.Vibrate, "pulse": s.Commands.Pulse} {
		if b.MinIntensity < 1 || b.MaxIntensity < b.MinIntensity {
			errs = append(errs, fmt.Sprintf("scheduler.commands.%s intensity bounds are invalid", name))
		}
		if b.MinDuration < 1 || b.MaxDuration < b.MinDuration {
			errs = append(errs, fmt.Sprintf("scheduler.commands.%s duration bounds are invalid", name))
		}
	}

	return errs
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

// RateLimitWindow returns the rate limit window as a Duration.
func (s SchedulerConfig) RateLimitWindow() time.Duration {
	return ms(s.RateLimit.WindowMS)
}

// PulseCadence returns the pulse toggle interval as a Duration.
func (s SchedulerConfig) PulseCadence() time.Duration {
	return ms(s.PulseCadenceMS)
}

// Cooldown returns the inter-execution gap as a Duration.
func (s SchedulerConfig) Cooldown() time.Duration {
	return ms(s.CooldownMS)
}

// CallTimeout returns the per device call timeout as a Duration.
func (s SchedulerConfig) CallTimeout() time.Duration {
	return ms(s.CallTimeoutMS)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func (p BridgeProcessConfig) validate() []string {
	if !p.Enabled {
		return nil
	}

	var errs []string
	if p.Binary == "" {
		errs = append(errs, "bridge.process.binary is required when enabled")
	} else if !filepath.IsAbs(p.Binary) {
		errs = append(errs, "bridge.process.binary must be an absolute path")
	}
	if p.RestartDelay < 1 {
		errs = append(errs, "bridge.process.restart_delay must be positive")
	}
	if p.MaxRestartDelay < p.RestartDelay {
		errs = append(errs, "bridge.process.max_restart_delay must not be less than restart_delay")
	}
	if p.MaxRestartAttempts < 0 {
		errs = append(errs, "bridge.process.max_restart_attempts must not be negative")
	}
	if p.GracefulTimeout < 1 {
		errs = append(errs, "bridge.process.graceful_timeout must be positive")
	}
	if p.HealthCheckInterval < 0 {
		errs = append(errs, "bridge.process.health_check_interval must not be negative")
	}
	return errs
}
