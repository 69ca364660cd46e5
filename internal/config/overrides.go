package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is prepended to every environment override, e.g. MOONCTL_TARGET_ADDRESS.
const EnvPrefix = "moonctl"

// Overrides holds values that replace what the config file says.
//
// A nil pointer means "not set". A non-nil pointer is applied even when it
// points at a zero value. The same struct is filled from the environment
// (LoadEnvOverrides) and from command-line flags.
type Overrides struct {
	TargetAddress *string `envconfig:"TARGET_ADDRESS"`
	TargetPort    *int    `envconfig:"TARGET_PORT"`

	SenderDialTimeoutMS  *int `envconfig:"SENDER_DIAL_TIMEOUT_MS"`
	SenderWriteTimeoutMS *int `envconfig:"SENDER_WRITE_TIMEOUT_MS"`
	SenderMaxInFlight    *int `envconfig:"SENDER_MAX_IN_FLIGHT"`

	InputDevices *[]string `envconfig:"INPUT_DEVICES"`

	IPCSocketPath *string `envconfig:"IPC_SOCKET_PATH"`
	HTTPListen    *string `envconfig:"HTTP_LISTEN"`

	LogLevel *string `envconfig:"LOGGING_LEVEL"`
}

// LoadEnvFile loads variables from a .env file into the process environment.
// Variables that are already set win. If path is empty ".env" is tried.
// It reports whether a file was loaded; a missing file is not an error.
func LoadEnvFile(path string) (bool, error) {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err := godotenv.Load(path); err != nil {
		return false, fmt.Errorf("load env file %s: %w", path, err)
	}
	return true, nil
}

// LoadEnvOverrides reads MOONCTL_* variables.
func LoadEnvOverrides() (Overrides, error) {
	var o Overrides
	if err := envconfig.Process(EnvPrefix, &o); err != nil {
		return Overrides{}, fmt.Errorf("read environment: %w", err)
	}
	return o, nil
}

// Apply merges the overrides into cfg. Nil pointers are ignored.
func (o Overrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.TargetAddress != nil {
		cfg.Target.Address = *o.TargetAddress
	}
	if o.TargetPort != nil {
		cfg.Target.Port = *o.TargetPort
	}

	if o.SenderDialTimeoutMS != nil {
		cfg.Sender.DialTimeoutMS = *o.SenderDialTimeoutMS
	}
	if o.SenderWriteTimeoutMS != nil {
		cfg.Sender.WriteTimeoutMS = *o.SenderWriteTimeoutMS
	}
	if o.SenderMaxInFlight != nil {
		cfg.Sender.MaxInFlight = *o.SenderMaxInFlight
	}

	if o.InputDevices != nil {
		cfg.Input.Devices = append([]string(nil), (*o.InputDevices)...)
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPListen != nil {
		cfg.HTTP.Listen = *o.HTTPListen
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = normalizeLevel(*o.LogLevel)
	}
}
