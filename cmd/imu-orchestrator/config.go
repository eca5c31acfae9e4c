package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for the imu-orchestrator daemon.
type Config struct {
	// IMU control the orchestrator's TCP client connects to, if a start
	// command does not carry its own endpoint.
	IMU IMUConfig `yaml:"imu"`

	// HTTP Adapter Controller configuration.
	Webhooks WebhooksConfig `yaml:"webhooks"`

	// IPC Controller configuration.
	IPC IPCConfig `yaml:"ipc"`

	// Optional WebSocket observer configuration.
	WsObserver WsObserverConfig `yaml:"ws_observer"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type IMUConfig struct {
	DefaultAddress string `yaml:"default_address,omitempty"`
	DefaultPort    int    `yaml:"default_port,omitempty"`
}

type WebhooksConfig struct {
	Port int `yaml:"port"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type WsObserverConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		IMU: IMUConfig{},
		Webhooks: WebhooksConfig{
			Port: 8080,
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/imu-orchestrator.sock",
		},
		WsObserver: WsObserverConfig{
			Enabled: false,
			Port:    8081,
			Path:    "/v1/observe",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides holds ad-hoc CLI overrides applied on top of a loaded config.
type FlagOverrides struct {
	IMUDefaultAddress *string
	IMUDefaultPort    *int

	WebhooksPort *int

	IPCSocketPath *string

	WsObserverEnabled *bool
	WsObserverPort    *int

	LogLevel *string
}

// Apply merges the overrides into cfg. A nil pointer means "not set."
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.IMUDefaultAddress != nil {
		cfg.IMU.DefaultAddress = *o.IMUDefaultAddress
	}
	if o.IMUDefaultPort != nil {
		cfg.IMU.DefaultPort = *o.IMUDefaultPort
	}
	if o.WebhooksPort != nil {
		cfg.Webhooks.Port = *o.WebhooksPort
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.WsObserverEnabled != nil {
		cfg.WsObserver.Enabled = *o.WsObserverEnabled
	}
	if o.WsObserverPort != nil {
		cfg.WsObserver.Port = *o.WsObserverPort
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
func (c *Config) Validate() error {
	if c.IMU.DefaultPort != 0 && (c.IMU.DefaultPort < 1 || c.IMU.DefaultPort > 65535) {
		return errors.New("imu.default_port must be between 1 and 65535")
	}
	if c.IMU.DefaultPort != 0 && c.IMU.DefaultAddress == "" {
		return errors.New("imu.default_address must not be empty when imu.default_port is set")
	}

	if c.Webhooks.Port < 1 || c.Webhooks.Port > 65535 {
		return errors.New("webhooks.port must be between 1 and 65535")
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	if c.WsObserver.Enabled {
		if c.WsObserver.Port < 1 || c.WsObserver.Port > 65535 {
			return errors.New("ws_observer.port must be between 1 and 65535")
		}
		if c.WsObserver.Path == "" {
			return errors.New("ws_observer.path must not be empty")
		}
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}

	return nil
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
