package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	configSubdir   = "config"
	configFileName = "hmsc_config.json"
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	// Set defaults for the websocket listener
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "0.0.0.0:8443"
	}

	// Set defaults for query server
	if cfg.QueryServerPort == 0 {
		cfg.QueryServerPort = 8080
	}

	// Set defaults for session lifecycle
	if cfg.SessionTimeoutSeconds == 0 {
		cfg.SessionTimeoutSeconds = 1800
	}
	if cfg.GracePeriodSeconds == 0 {
		cfg.GracePeriodSeconds = 300
	}
	if cfg.SweepIntervalSeconds == 0 {
		cfg.SweepIntervalSeconds = 60
	}
	if cfg.PinLength == 0 {
		cfg.PinLength = 6
	}
	if cfg.PinLength < 4 || cfg.PinLength > 16 {
		return fmt.Errorf("pin length must be between 4 and 16")
	}

	// Set defaults for the chain adapter
	if cfg.ChainNetwork == "" {
		cfg.ChainNetwork = "localnet"
	}
	switch cfg.ChainNetwork {
	case "localnet", "testnet", "mainnet":
	default:
		return fmt.Errorf("chain network must be 'localnet', 'testnet', or 'mainnet'")
	}
	if cfg.MinNodeAccounts == 0 {
		cfg.MinNodeAccounts = 1
	}
	if cfg.SubmitTimeoutSec == 0 {
		cfg.SubmitTimeoutSec = 10
	}

	return nil
}

// Save writes the given config to <basePath>/config/hmsc_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, configFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads, validates, and returns the config from
// <basePath>/config/hmsc_config.json. Zero-valued fields get defaults.
func Load(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, configSubdir, configFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}
