package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the boardctl connection settings. Flags override the
// environment, which overrides the config file.
type Config struct {
	Server  string        `yaml:"server"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

func defaultConfig() Config {
	return Config{Server: "http://localhost:8080", Timeout: 5 * time.Second}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if v := os.Getenv("BOARDCTL_SERVER"); v != "" {
		cfg.Server = v
	}
	if v := os.Getenv("BOARDCTL_TOKEN"); v != "" {
		cfg.Token = v
	}
	return cfg, nil
}
