package config

import (
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for hydro-core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
	Hydro     HydroConfig     `yaml:"hydro"`
}

// SiteConfig identifies the installation.
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

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// InboxSize bounds the number of received messages waiting for Drive.
	InboxSize int `yaml:"inbox_size"`
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

// MQTTReconnectConfig controls the listener's reconnect loop.
type MQTTReconnectConfig struct {
	// Delay is the fixed wait between attempts.
	Delay time.Duration `yaml:"delay"`

	// MaxAttempts limits consecutive failed attempts. 0 means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// RedisConfig contains Redis connection settings.
// Redis backs the notification throttle when hydro.throttle.backend is "redis".
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
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

// JWTConfig contains JWT verification settings for the operator API.
// An empty secret leaves the operator routes open (development only).
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// HydroConfig holds the node mesh tuning knobs.
type HydroConfig struct {
	// NodeOfflineTimeout is the inactivity window after which a node is offline.
	NodeOfflineTimeout time.Duration `yaml:"node_offline_timeout"`

	Liveness  LivenessConfig  `yaml:"liveness"`
	Commands  CommandsConfig  `yaml:"commands"`
	Events    EventsConfig    `yaml:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Throttle  ThrottleConfig  `yaml:"throttle"`
}

// LivenessConfig controls the periodic online/offline sweep.
type LivenessConfig struct {
	Interval time.Duration `yaml:"interval"`
	Notify   bool          `yaml:"notify"`
}

// CommandsConfig controls command timeouts.
type CommandsConfig struct {
	DefaultTimeout time.Duration `yaml:"default_timeout"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// EventsConfig controls automatic event resolution.
type EventsConfig struct {
	AutoResolveAfter time.Duration `yaml:"auto_resolve_after"`
	ResolveInterval  time.Duration `yaml:"resolve_interval"`
}

// TelemetryConfig controls telemetry retention.
type TelemetryConfig struct {
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ThrottleConfig controls notification rate limiting.
type ThrottleConfig struct {
	// Backend selects the TTL store: "memory" or "redis".
	Backend         string                `yaml:"backend"`
	DuplicateWindow time.Duration         `yaml:"duplicate_window"`
	Tiers           map[string]TierConfig `yaml:"tiers"`
}

// TierConfig is the policy for one severity tier.
type TierConfig struct {
	MaxPerHour  int           `yaml:"max_per_hour"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// UnmarshalYAML merges configured tiers over the current ones field by
// field: a tier that only sets max_per_hour keeps its default min_interval.
// An explicit zero is kept.
func (t *ThrottleConfig) UnmarshalYAML(value *yaml.Node) error {
	current := maps.Clone(t.Tiers)

	type plain ThrottleConfig
	if err := value.Decode((*plain)(t)); err != nil {
		return err
	}

	var set struct {
		Tiers map[string]struct {
			MaxPerHour  *int           `yaml:"max_per_hour"`
			MinInterval *time.Duration `yaml:"min_interval"`
		} `yaml:"tiers"`
	}
	if err := value.Decode(&set); err != nil {
		return err
	}

	tiers := make(map[string]TierConfig, len(current)+len(set.Tiers))
	maps.Copy(tiers, current)
	for name, fields := range set.Tiers {
		tier := current[name]
		if fields.MaxPerHour != nil {
			tier.MaxPerHour = *fields.MaxPerHour
		}
		if fields.MinInterval != nil {
			tier.MinInterval = *fields.MinInterval
		}
		tiers[name] = tier
	}
	t.Tiers = tiers
	return nil
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HYDRO_SECTION_KEY
// For example: HYDRO_DATABASE_PATH, HYDRO_MQTT_HOST
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
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Hydroponics",
		},
		Database: DatabaseConfig{
			Path:        "./data/hydro.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hydro-server",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				Delay:       5 * time.Second,
				MaxAttempts: 0,
			},
			InboxSize: 1024,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "hydro",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Hydro: HydroConfig{
			NodeOfflineTimeout: 20 * time.Second,
			Liveness: LivenessConfig{
				Interval: time.Minute,
				Notify:   true,
			},
			Commands: CommandsConfig{
				DefaultTimeout: 300 * time.Second,
				SweepInterval:  2 * time.Minute,
			},
			Events: EventsConfig{
				AutoResolveAfter: 24 * time.Hour,
				ResolveInterval:  time.Hour,
			},
			Telemetry: TelemetryConfig{
				Retention:       365 * 24 * time.Hour,
				CleanupInterval: 24 * time.Hour,
			},
			Throttle: ThrottleConfig{
				Backend:         "memory",
				DuplicateWindow: 30 * time.Minute,
				Tiers: map[string]TierConfig{
					"critical": {MaxPerHour: 5, MinInterval: 300 * time.Second},
					"warning":  {MaxPerHour: 10, MinInterval: 180 * time.Second},
					"info":     {MaxPerHour: 20, MinInterval: 60 * time.Second},
				},
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HYDRO_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("HYDRO_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HYDRO_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("HYDRO_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HYDRO_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("HYDRO_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("HYDRO_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	if v := os.Getenv("HYDRO_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("HYDRO_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("HYDRO_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
// Every problem found is reported, not just the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Broker.ClientID == "" {
		errs = append(errs, "mqtt.broker.client_id is required")
	}
	if c.MQTT.Reconnect.Delay <= 0 {
		errs = append(errs, "mqtt.reconnect.delay must be positive")
	}
	if c.MQTT.Reconnect.MaxAttempts < 0 {
		errs = append(errs, "mqtt.reconnect.max_attempts must not be negative")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	errs = append(errs, c.Hydro.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (h *HydroConfig) validate() []string {
	var errs []string

	if h.NodeOfflineTimeout <= 0 {
		errs = append(errs, "hydro.node_offline_timeout must be positive")
	}
	if h.Liveness.Interval <= 0 {
		errs = append(errs, "hydro.liveness.interval must be positive")
	}
	if h.Commands.DefaultTimeout <= 0 {
		errs = append(errs, "hydro.commands.default_timeout must be positive")
	}
	if h.Commands.SweepInterval <= 0 {
		errs = append(errs, "hydro.commands.sweep_interval must be positive")
	}
	if h.Events.ResolveInterval <= 0 {
		errs = append(errs, "hydro.events.resolve_interval must be positive")
	}
	if h.Telemetry.CleanupInterval <= 0 {
		errs = append(errs, "hydro.telemetry.cleanup_interval must be positive")
	}

	switch h.Throttle.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("hydro.throttle.backend %q must be memory or redis", h.Throttle.Backend))
	}
	for name, tier := range h.Throttle.Tiers {
		if tier.MaxPerHour <= 0 {
			errs = append(errs, fmt.Sprintf("hydro.throttle.tiers.%s.max_per_hour must be positive", name))
		}
		if tier.MinInterval < 0 {
			errs = append(errs, fmt.Sprintf("hydro.throttle.tiers.%s.min_interval must not be negative", name))
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
