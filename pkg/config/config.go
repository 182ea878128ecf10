package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the client configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Sync   SyncConfig   `yaml:"sync"`
}

// ServerConfig points at the game server.
type ServerConfig struct {
	// URL is the HTTP base URL of the game server
	URL string `yaml:"url"`
	// WSURL is the WebSocket base URL for the stream transport
	WSURL string `yaml:"ws_url"`
}

// ClientConfig holds local client settings.
type ClientConfig struct {
	PlayerName string `yaml:"player_name"`
	LogLevel   string `yaml:"log_level"`
	// SnapshotPath is the SQLite file holding per-room deck snapshots
	SnapshotPath string `yaml:"snapshot_path"`
}

// SyncConfig tunes the delivery loop.
type SyncConfig struct {
	// Transport selects the update transport: "poll" or "stream"
	Transport string `yaml:"transport"`
	// PollInterval is the snapshot poll interval in milliseconds
	PollInterval int `yaml:"poll_interval_ms"`
}

// PollIntervalDuration returns the poll interval as a duration.
func (c *SyncConfig) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Millisecond
}

// Load reads the configuration file, filling defaults for zero values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return &cfg, nil
}

// Default returns the default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.fillDefaults()
	return cfg
}

func (c *Config) fillDefaults() {
	if c.Server.URL == "" {
		c.Server.URL = "http://localhost:8080"
	}
	if c.Server.WSURL == "" {
		c.Server.WSURL = "ws://localhost:8080"
	}
	if c.Client.LogLevel == "" {
		c.Client.LogLevel = "info"
	}
	if c.Client.SnapshotPath == "" {
		c.Client.SnapshotPath = "fastlane-decks.db"
	}
	if c.Sync.Transport == "" {
		c.Sync.Transport = "poll"
	}
	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 2000
	}
}
