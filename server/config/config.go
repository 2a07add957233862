// Package config loads the dedicated server's YAML configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the dedicated server configuration. Every field has a default, so
// an empty file (or no file) yields a runnable server.
type Config struct {
	Name       string `yaml:"name"`
	Map        string `yaml:"map"`        // stem of a .tmx file under MapsDir; empty for open ground
	MapsDir    string `yaml:"maps_dir"`   // directory containing levels/*.tmx
	MaxClients int    `yaml:"max_clients"`

	Transport TransportConfig `yaml:"transport"`
	Net       NetConfig       `yaml:"net"`
	HTTP      HTTPConfig      `yaml:"http"`
	Master    MasterConfig    `yaml:"master"`
	Log       LogConfig       `yaml:"log"`
}

// TransportConfig selects how datagrams reach the server.
type TransportConfig struct {
	Kind string `yaml:"kind"` // udp, quic or ws
	Addr string `yaml:"addr"`
}

// NetConfig holds the snapshot protocol's timing and retention thresholds.
type NetConfig struct {
	TickRate int `yaml:"tick_rate"`
	// RetentionWindow is how many sealed snapshots the server keeps as
	// potential baselines. A client whose last ack is older gets a full
	// snapshot.
	RetentionWindow int `yaml:"retention_window"`
	// AckTimeout reverts a client to full snapshots when it has not
	// acknowledged any snapshot for this long.
	AckTimeout time.Duration `yaml:"ack_timeout"`
	// ConnectionTimeout drops a client that has sent nothing for this long.
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	// ChallengeTimeout expires unanswered handshake challenges.
	ChallengeTimeout time.Duration `yaml:"challenge_timeout"`
}

// HTTPConfig configures the status and metrics listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"` // empty disables it
}

// MasterConfig enables registration with a master server.
type MasterConfig struct {
	URL     string `yaml:"url"` // empty disables registration
	Address string `yaml:"address"`
	Region  string `yaml:"region"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Name:       "arenanet server",
		MapsDir:    "maps",
		MaxClients: 16,
		Transport: TransportConfig{
			Kind: "udp",
			Addr: ":27960",
		},
		Net: NetConfig{
			TickRate:          20,
			RetentionWindow:   32,
			AckTimeout:        time.Second,
			ConnectionTimeout: 30 * time.Second,
			ChallengeTimeout:  10 * time.Second,
		},
		HTTP: HTTPConfig{Addr: ":27961"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case "udp", "quic", "ws":
	default:
		return fmt.Errorf("transport.kind %q: want udp, quic or ws", c.Transport.Kind)
	}
	if c.MaxClients < 1 || c.MaxClients > 64 {
		return fmt.Errorf("max_clients %d out of range [1, 64]", c.MaxClients)
	}
	if c.Net.TickRate < 1 || c.Net.TickRate > 125 {
		return fmt.Errorf("net.tick_rate %d out of range [1, 125]", c.Net.TickRate)
	}
	if c.Net.RetentionWindow < 2 {
		return fmt.Errorf("net.retention_window %d: need at least 2", c.Net.RetentionWindow)
	}
	if c.Net.AckTimeout <= 0 || c.Net.ConnectionTimeout <= 0 {
		return fmt.Errorf("net timeouts must be positive")
	}
	if c.Net.ConnectionTimeout < c.Net.AckTimeout {
		return fmt.Errorf("net.connection_timeout %s is shorter than net.ack_timeout %s", c.Net.ConnectionTimeout, c.Net.AckTimeout)
	}
	return nil
}

// TickInterval returns the duration of one simulation tick.
func (n NetConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(n.TickRate)
}
