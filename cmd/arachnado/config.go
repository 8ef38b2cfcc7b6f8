package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/thezedwards/arachnado/datarpc"
)

// config is the optional YAML configuration file. Every field has a
// sensible default; the file only overrides.
type config struct {
	// MaxMessageSize caps a single serialized outbound event in bytes.
	MaxMessageSize int `yaml:"max_message_size"`
	// TailIntervalStr is the storage change-detection interval, e.g. "200ms".
	TailIntervalStr string `yaml:"tail_interval"`

	TailInterval time.Duration `yaml:"-"`
}

func loadConfig(path string) (config, error) {
	cfg := config{
		MaxMessageSize: datarpc.DefaultMaxMessageSize,
		TailInterval:   200 * time.Millisecond,
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.TailIntervalStr != "" {
		d, err := time.ParseDuration(cfg.TailIntervalStr)
		if err != nil {
			return cfg, fmt.Errorf("config %s: tail_interval: %w", path, err)
		}
		cfg.TailInterval = d
	}
	return cfg, nil
}
