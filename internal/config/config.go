// Package config loads the moonctl configuration.
//
// Precedence, lowest first: DefaultConfig, YAML file, .env file and
// MOONCTL_* environment variables, command-line flags. Validate is called
// once everything has been merged.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"moonlander/internal/engine"
	"moonlander/internal/remote"
	"moonlander/internal/sender"
)

// Config is the top-level YAML configuration shared by moonctl and the GUI panel.
type Config struct {
	// Lander address and port
	Target TargetConfig `yaml:"target"`

	// Command delivery knobs
	Sender SenderConfig `yaml:"sender"`

	// Linux input devices (keyboard remotes)
	Input InputConfig `yaml:"input"`

	// IPC configuration (used by engine-ctl)
	IPC IPCConfig `yaml:"ipc"`

	// State websocket listener
	HTTP HTTPConfig `yaml:"http"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

type TargetConfig struct {
	Address string `yaml:"address" validate:"required,dotted_quad"`
	Port    int    `yaml:"port" validate:"min=1,max=65535"`
}

type SenderConfig struct {
	DialTimeoutMS  int `yaml:"dial_timeout_ms" validate:"min=1"`
	WriteTimeoutMS int `yaml:"write_timeout_ms" validate:"min=1"`
	MaxInFlight    int `yaml:"max_in_flight" validate:"min=1,max=1024"`
}

type InputConfig struct {
	Devices []string `yaml:"devices,omitempty" validate:"dive,required"` // empty means IPC-only
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path" validate:"required"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen" validate:"omitempty,hostname_port"` // empty disables the state websocket
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"required,oneof=error warn warning info debug"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Target: TargetConfig{
			Address: engine.DefaultAddress,
			Port:    engine.DefaultPort,
		},
		Sender: SenderConfig{
			DialTimeoutMS:  int(sender.DefaultDialTimeout / time.Millisecond),
			WriteTimeoutMS: int(sender.DefaultWriteTimeout / time.Millisecond),
			MaxInFlight:    sender.DefaultMaxInFlight,
		},
		Input: InputConfig{
			Devices: []string{},
		},
		IPC: IPCConfig{
			SocketPath: remote.DefaultSocketPath,
		},
		HTTP: HTTPConfig{
			Listen: "127.0.0.1:3002",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected so typos surface at startup.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of DefaultConfig.
func Parse(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	cfg.Logging.Level = normalizeLevel(cfg.Logging.Level)
	return cfg, nil
}

// normalizeLevel folds a level name to the lowercase form the validator
// accepts. logging.ParseLevel is case-insensitive, so "INFO" is valid.
func normalizeLevel(level string) string {
	return strings.ToLower(strings.TrimSpace(level))
}

// TargetValue returns the parsed lander target. Call after Validate.
func (c *Config) TargetValue() (engine.Target, error) {
	addr, err := engine.ParseAddress(c.Target.Address)
	if err != nil {
		return engine.Target{}, fmt.Errorf("target.address: %w", err)
	}
	return engine.Target{Address: addr, Port: c.Target.Port}, nil
}

func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Sender.DialTimeoutMS) * time.Millisecond
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Sender.WriteTimeoutMS) * time.Millisecond
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
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
