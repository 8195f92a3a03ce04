// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package config defines the broker configuration. The configuration is
// built once at startup and shared read-only; nothing mutates it after
// Load returns.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML either as a Go
// duration string ("10ms") or as a bare integer of milliseconds.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ms int64
	if err := value.Decode(&ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds all configuration for the broker process.
type Config struct {
	// ID identifies this broker instance.
	ID string `yaml:"id"`

	Router RouterConfig `yaml:"router"`

	// Servers maps listener name to its settings. Every entry gets a
	// dedicated accept loop.
	Servers map[string]ServerSettings `yaml:"servers"`

	// Cluster and Replicator are consumed by collaborators outside this
	// core; they are carried, validated and otherwise left alone.
	Cluster    map[string]MeshSettings `yaml:"cluster,omitempty"`
	Replicator *ConnectionSettings     `yaml:"replicator,omitempty"`

	Console *ConsoleSettings `yaml:"console,omitempty"`

	Log LogConfig `yaml:"log"`
}

// RouterConfig holds settings consumed only by the router.
type RouterConfig struct {
	// MaxConnections bounds concurrently registered connections.
	MaxConnections int `yaml:"max_connections"`

	// OutgoingQueueLen is the per-connection outgoing channel depth.
	OutgoingQueueLen int `yaml:"outgoing_queue_len"`

	// MaxPendingPerSession bounds messages retained for an offline
	// non-clean session.
	MaxPendingPerSession int `yaml:"max_pending_per_session"`
}

// ServerSettings holds per-listener configuration.
type ServerSettings struct {
	Port uint16 `yaml:"port"`

	// PEM material. CertPath plus KeyPath enable TLS; CAPath additionally
	// enables mutual authentication.
	CertPath string `yaml:"cert_path,omitempty"`
	KeyPath  string `yaml:"key_path,omitempty"`
	CAPath   string `yaml:"ca_path,omitempty"`

	// PKCS#12 material, the alternative TLS backend.
	PKCS12Path string `yaml:"pkcs12_path,omitempty"`
	PKCS12Pass string `yaml:"pkcs12_pass,omitempty"`

	// NextConnectionDelay is the fixed pause after every accepted
	// connection, successful or not.
	NextConnectionDelay Duration `yaml:"next_connection_delay"`

	Connections ConnectionSettings `yaml:"connections"`
}

// ConnectionSettings holds per-connection limits, shared read-only across
// all connections of a listener.
type ConnectionSettings struct {
	ConnectionTimeout Duration `yaml:"connection_timeout"`
	MaxClientIDLen    int      `yaml:"max_client_id_len"`
	ThrottleDelay     Duration `yaml:"throttle_delay"`
	MaxPayloadSize    int      `yaml:"max_payload_size"`
	MaxInflightCount  int      `yaml:"max_inflight_count"`
	MaxInflightSize   int      `yaml:"max_inflight_size"`
	Username          string   `yaml:"username,omitempty"`
	Password          string   `yaml:"password,omitempty"`
}

// MeshSettings holds one cluster peer address.
type MeshSettings struct {
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`
}

// ConsoleSettings holds the diagnostics endpoint configuration.
type ConsoleSettings struct {
	Port uint16 `yaml:"port"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Default returns a configuration with sensible defaults: one plaintext
// listener on the conventional MQTT port.
func Default() *Config {
	return &Config{
		ID: "mqttd-0",
		Router: RouterConfig{
			MaxConnections:       10000,
			OutgoingQueueLen:     100,
			MaxPendingPerSession: 1000,
		},
		Servers: map[string]ServerSettings{
			"1": {
				Port:                1883,
				NextConnectionDelay: Duration(time.Millisecond),
				Connections:         DefaultConnectionSettings(),
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultConnectionSettings returns per-connection defaults.
func DefaultConnectionSettings() ConnectionSettings {
	return ConnectionSettings{
		ConnectionTimeout: Duration(5 * time.Second),
		MaxClientIDLen:    256,
		ThrottleDelay:     0,
		MaxPayloadSize:    2 * 1024,
		MaxInflightCount:  100,
		MaxInflightSize:   1024 * 1024,
	}
}

// Load loads configuration from a YAML file. An empty path or a missing
// file yields the defaults.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if len(c.Servers) == 0 {
		return fmt.Errorf("at least one server entry is required")
	}

	if c.Router.MaxConnections < 1 {
		return fmt.Errorf("router.max_connections must be at least 1")
	}
	if c.Router.OutgoingQueueLen < 1 {
		return fmt.Errorf("router.outgoing_queue_len must be at least 1")
	}
	if c.Router.MaxPendingPerSession < 0 {
		return fmt.Errorf("router.max_pending_per_session cannot be negative")
	}

	for name, srv := range c.Servers {
		if srv.Port == 0 {
			return fmt.Errorf("servers.%s.port cannot be 0", name)
		}
		if srv.NextConnectionDelay < 0 {
			return fmt.Errorf("servers.%s.next_connection_delay cannot be negative", name)
		}
		if srv.PKCS12Path != "" && srv.CertPath != "" {
			return fmt.Errorf("servers.%s: pkcs12_path and cert_path are mutually exclusive", name)
		}
		if srv.PKCS12Path != "" && srv.PKCS12Pass == "" {
			return fmt.Errorf("servers.%s.pkcs12_pass required with pkcs12_path", name)
		}
		if err := srv.Connections.validate(); err != nil {
			return fmt.Errorf("servers.%s.connections: %w", name, err)
		}
	}

	if c.Replicator != nil {
		if err := c.Replicator.validate(); err != nil {
			return fmt.Errorf("replicator: %w", err)
		}
	}

	if c.Console != nil && c.Console.Port == 0 {
		return fmt.Errorf("console.port cannot be 0")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	return nil
}

func (c ConnectionSettings) validate() error {
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection_timeout must be positive")
	}
	if c.MaxClientIDLen < 1 {
		return fmt.Errorf("max_client_id_len must be at least 1")
	}
	if c.MaxPayloadSize < 2 {
		return fmt.Errorf("max_payload_size must be at least 2 bytes")
	}
	if c.MaxInflightCount < 1 {
		return fmt.Errorf("max_inflight_count must be at least 1")
	}
	if c.MaxInflightSize < 1 {
		return fmt.Errorf("max_inflight_size must be at least 1")
	}
	if c.ThrottleDelay < 0 {
		return fmt.Errorf("throttle_delay cannot be negative")
	}
	return nil
}
