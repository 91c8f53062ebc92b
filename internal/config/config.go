// Package config provides configuration management for FalconStream.
package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Regions maps a Falcon cloud region name to its API base URL.
// Resolved once at startup; the rest of the code only sees the base URL.
var Regions = map[string]string{
	"us-1":     "https://api.crowdstrike.com",
	"us-2":     "https://api.us-2.crowdstrike.com",
	"eu-1":     "https://api.eu-1.crowdstrike.com",
	"us-gov-1": "https://api.laggar.gcw.crowdstrike.com",
}

var streamNameRe = regexp.MustCompile(`^[a-z0-9]{1,32}$`)

// Config holds all FalconStream configuration.
type Config struct {
	Falcon  FalconConfig  `yaml:"falcon"`
	Stream  StreamConfig  `yaml:"stream"`
	Sink    SinkConfig    `yaml:"sink"`
	Offsets OffsetsConfig `yaml:"offsets"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// FalconConfig holds API credentials and region selection.
type FalconConfig struct {
	ClientID        string        `yaml:"client_id"`
	ClientIDEnv     string        `yaml:"client_id_env"`
	ClientSecretEnv string        `yaml:"client_secret_env"`
	Cloud           string        `yaml:"cloud"`
	Timeout         time.Duration `yaml:"timeout"` // control-plane calls only

	// Resolved at load time, never read from YAML.
	ClientSecret string `yaml:"-"`
	BaseURL      string `yaml:"-"`
}

// StreamConfig holds event stream consumption settings.
type StreamConfig struct {
	Name              string        `yaml:"name"`
	IncludeEventTypes []string      `yaml:"include_event_types"`
	ExcludeEventTypes []string      `yaml:"exclude_event_types"`
	Offset            *int64        `yaml:"offset"`
	Latest            bool          `yaml:"latest"`
	Delay             time.Duration `yaml:"delay"`
}

// SinkConfig holds output queue settings.
type SinkConfig struct {
	QueueSize int `yaml:"queue_size"`
}

// OffsetsConfig holds offset checkpoint store settings.
type OffsetsConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db"`
	Interval    time.Duration `yaml:"interval"`
}

// KafkaConfig holds the optional Kafka forwarder settings.
type KafkaConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Brokers   []string      `yaml:"brokers"`
	Topic     string        `yaml:"topic"`
	BatchSize int           `yaml:"batch_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ServerConfig holds the ops HTTP server settings.
type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// Load reads configuration from a YAML file, applies environment-variable
// secret indirection, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.resolveEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Falcon: FalconConfig{
			ClientIDEnv:     "FALCON_CLIENT_ID",
			ClientSecretEnv: "FALCON_CLIENT_SECRET",
			Cloud:           "us-1",
			Timeout:         30 * time.Second,
		},
		Stream: StreamConfig{
			Name: "falconstream",
		},
		Sink: SinkConfig{
			QueueSize: 1000,
		},
		Offsets: OffsetsConfig{
			Enabled:     false,
			Addr:        "localhost:6379",
			PasswordEnv: "FALCONSTREAM_REDIS_PASSWORD",
			Interval:    10 * time.Second,
		},
		Kafka: KafkaConfig{
			Enabled:   false,
			Topic:     "falcon.events",
			BatchSize: 100,
			Timeout:   10 * time.Second,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// resolveEnv fills in secrets from the environment via the *_env keys.
func (c *Config) resolveEnv() {
	if c.Falcon.ClientID == "" && c.Falcon.ClientIDEnv != "" {
		c.Falcon.ClientID = os.Getenv(c.Falcon.ClientIDEnv)
	}
	if c.Falcon.ClientSecretEnv != "" {
		c.Falcon.ClientSecret = os.Getenv(c.Falcon.ClientSecretEnv)
	}
}

// Validate checks the configuration before any network call is made.
// The stream name doubles as the discovery appId, so the backend's
// 32-alphanumeric limit is enforced here.
func (c *Config) Validate() error {
	if c.Falcon.ClientID == "" || c.Falcon.ClientSecret == "" {
		return fmt.Errorf("falcon client_id and client_secret are required")
	}

	baseURL, ok := Regions[c.Falcon.Cloud]
	if !ok {
		return fmt.Errorf("invalid falcon cloud %q, must be one of %v", c.Falcon.Cloud, regionNames())
	}
	c.Falcon.BaseURL = baseURL

	c.Stream.Name = strings.ToLower(c.Stream.Name)
	if !streamNameRe.MatchString(c.Stream.Name) {
		return fmt.Errorf("stream name %q must be 1-32 alphanumeric characters", c.Stream.Name)
	}

	if c.Stream.Offset != nil && c.Stream.Latest {
		return fmt.Errorf("stream offset and latest are mutually exclusive")
	}
	if c.Stream.Offset != nil && *c.Stream.Offset < 0 {
		return fmt.Errorf("stream offset must be non-negative")
	}
	if c.Stream.Delay < 0 {
		return fmt.Errorf("stream delay must be non-negative")
	}

	if c.Sink.QueueSize <= 0 {
		return fmt.Errorf("sink queue_size must be positive")
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka forwarder enabled but no brokers configured")
	}

	return nil
}

func regionNames() []string {
	names := make([]string, 0, len(Regions))
	for name := range Regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
