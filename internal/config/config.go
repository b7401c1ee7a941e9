package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config holds the complete danmu client configuration.
type Config struct {
	Room    RoomConfig    `yaml:"room"`
	Account AccountConfig `yaml:"account"`
	Relay   RelayConfig   `yaml:"relay"`
	Output  OutputConfig  `yaml:"output"`
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	API     APIConfig     `yaml:"api"`
}

type RoomConfig struct {
	ID int64 `yaml:"id"`
}

// AccountConfig identifies the viewer. Cookies are copied from a browser
// session that is already logged in; leave them empty to watch anonymously.
type AccountConfig struct {
	UID     int64             `yaml:"uid"`
	Cookies map[string]string `yaml:"cookies"`
}

type RelayConfig struct {
	Secure            bool     `yaml:"secure"`     // wss when true, ws otherwise
	HostIndex         int      `yaml:"host_index"` // which advertised relay host to dial
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	HandshakeTimeout  Duration `yaml:"handshake_timeout"`
	DialTimeout       Duration `yaml:"dial_timeout"`
}

type OutputConfig struct {
	Format        string `yaml:"format"`         // text, json, msgpack
	TimeZone      string `yaml:"time_zone"`      // IANA name
	TimeLayout    string `yaml:"time_layout"`    // Go reference layout
	TimestampUnit string `yaml:"timestamp_unit"` // s, ms
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

type APIConfig struct {
	BaseURL   string   `yaml:"base_url"`
	LiveURL   string   `yaml:"live_url"`
	UserAgent string   `yaml:"user_agent"`
	Timeout   Duration `yaml:"timeout"`
}

// Duration is a time.Duration that supports YAML string unmarshaling.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads config from a YAML file, applying defaults for missing values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values. A zero room id is allowed
// here because the command line may still supply one.
func (c *Config) Validate() error {
	if c.Room.ID < 0 {
		return fmt.Errorf("room.id must be >= 0, got %d", c.Room.ID)
	}
	if c.Account.UID < 0 {
		return fmt.Errorf("account.uid must be >= 0, got %d", c.Account.UID)
	}
	if c.Relay.HostIndex < 0 {
		return fmt.Errorf("relay.host_index must be >= 0, got %d", c.Relay.HostIndex)
	}
	if c.Relay.HeartbeatInterval <= 0 {
		return fmt.Errorf("relay.heartbeat_interval must be positive, got %s", c.Relay.HeartbeatInterval.Duration())
	}
	if c.Relay.HandshakeTimeout < 0 || c.Relay.DialTimeout < 0 {
		return fmt.Errorf("relay timeouts must not be negative")
	}

	validFormats := map[string]bool{"text": true, "json": true, "msgpack": true}
	if !validFormats[c.Output.Format] {
		return fmt.Errorf("output.format must be text, json or msgpack, got %q", c.Output.Format)
	}
	if c.Output.TimestampUnit != "s" && c.Output.TimestampUnit != "ms" {
		return fmt.Errorf("output.timestamp_unit must be 's' or 'ms', got %q", c.Output.TimestampUnit)
	}
	if _, err := time.LoadLocation(c.Output.TimeZone); err != nil {
		return fmt.Errorf("output.time_zone: %w", err)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text', got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return fmt.Errorf("metrics.address is required when metrics are enabled")
	}
	return nil
}
