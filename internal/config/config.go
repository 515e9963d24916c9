// Package config loads the daemon's YAML configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server          string `yaml:"server"`
	Port            int    `yaml:"port"`
	DataDir         string `yaml:"dataDir"`
	InMemory        bool   `yaml:"inMemory"`
	MinimumFreeGB   int    `yaml:"minimumFreeGB"`
	LogLevel        string `yaml:"logLevel"`
	AMLThreshold    string `yaml:"amlThreshold"`
	ContractAddress string `yaml:"contractAddress"`
	ChainID         uint64 `yaml:"chainID"`
	DurationDays    uint32 `yaml:"durationDays"`
	TokenTTL        string `yaml:"tokenTTL"`
	SignTimeout     string `yaml:"signTimeout"`
	SignerKeyFile   string `yaml:"signerKeyFile"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server:       "localhost",
		Port:         4242,
		DataDir:      "./data",
		LogLevel:     "info",
		AMLThreshold: "10000",
		ChainID:      1,
		DurationDays: 30,
		TokenTTL:     "5m",
		SignTimeout:  "30s",
	}
}

// Load reads path over the defaults. A missing file yields the
// defaults.
func Load(path string) (Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return config, fmt.Errorf("read config %s: %w", path, err)
	}

	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return config, fmt.Errorf("parse config %s: %w", path, err)
	}

	defaults := Default()
	if config.Server == "" {
		config.Server = defaults.Server
	}
	if config.Port == 0 {
		config.Port = defaults.Port
	}
	if config.DataDir == "" {
		config.DataDir = defaults.DataDir
	}
	if config.AMLThreshold == "" {
		config.AMLThreshold = defaults.AMLThreshold
	}
	if config.DurationDays == 0 {
		config.DurationDays = defaults.DurationDays
	}

	return config, nil
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server, c.Port)
}
