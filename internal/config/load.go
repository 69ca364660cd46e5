package config

import "fmt"

// Load merges DefaultConfig, the YAML file at path (skipped when empty), the
// .env file, MOONCTL_* variables and flags, then validates the result.
func Load(path, envFile string, flags Overrides) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadConfigFile(path); err != nil {
			return Config{}, err
		}
	}

	if _, err := LoadEnvFile(envFile); err != nil {
		return Config{}, err
	}
	env, err := LoadEnvOverrides()
	if err != nil {
		return Config{}, err
	}
	env.Apply(&cfg)

	flags.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration:\n%w", err)
	}
	return cfg, nil
}
