// Copyright 2021 The httpx Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package demo

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the structure of the asyncxdemo YAML configuration file.
type Config struct {
	Requests  []RequestSpec   `yaml:"requests"`
	Processor ProcessorConfig `yaml:"processor"`
	Store     StoreConfig     `yaml:"store"`
	LogLevel  string          `yaml:"logLevel,omitempty"`
	LogFormat string          `yaml:"logFormat,omitempty"`
}

// RequestSpec describes a single request for the demo processor to run.
type RequestSpec struct {
	Method              string `yaml:"method,omitempty"`
	URL                 string `yaml:"url"`
	RaiseErrorResponses bool   `yaml:"raiseErrorResponses,omitempty"`
}

// ProcessorConfig is the YAML-friendly subset of processor.Config the
// demo exposes as flags/config, translated in run.go.
type ProcessorConfig struct {
	MaxConcurrentRequests int   `yaml:"maxConcurrentRequests,omitempty"`
	MaxQueueSize          int   `yaml:"maxQueueSize,omitempty"`
	DefaultMaxRedirects   int   `yaml:"defaultMaxRedirects,omitempty"`
	MaxResponseSize       int64 `yaml:"maxResponseSize,omitempty"`
	TimeoutSeconds        int   `yaml:"timeoutSeconds,omitempty"`
	DrainTimeoutSeconds   int   `yaml:"drainTimeoutSeconds,omitempty"`
}

// StoreConfig selects and configures the payload.Store backend the demo
// wires up for external payload offload, if any.
type StoreConfig struct {
	// Backend is one of "" (no offload), "file", "redis", or "postgres".
	Backend   string `yaml:"backend,omitempty"`
	Threshold int64  `yaml:"threshold,omitempty"`

	File struct {
		Dir string `yaml:"dir,omitempty"`
	} `yaml:"file,omitempty"`

	Redis struct {
		Addr     string `yaml:"addr,omitempty"`
		Password string `yaml:"password,omitempty"`
		DB       int    `yaml:"db,omitempty"`
	} `yaml:"redis,omitempty"`

	Postgres struct {
		DSN   string `yaml:"dsn,omitempty"`
		Table string `yaml:"table,omitempty"`
	} `yaml:"postgres,omitempty"`
}

// LoadConfig reads and validates the YAML configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("asyncxdemo: failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("asyncxdemo: failed to unmarshal config YAML: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("asyncxdemo: config validation failed: %w", err)
	}

	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if len(cfg.Requests) == 0 {
		return fmt.Errorf("at least one entry is required under 'requests'")
	}
	for i, r := range cfg.Requests {
		if r.URL == "" {
			return fmt.Errorf("requests[%d] is missing required field 'url'", i)
		}
	}
	switch cfg.Store.Backend {
	case "", "file", "redis", "postgres":
	default:
		return fmt.Errorf("store.backend must be one of \"\", \"file\", \"redis\", \"postgres\", got %q", cfg.Store.Backend)
	}
	return nil
}
