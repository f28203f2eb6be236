// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the greenframe CLI configuration.
//
// # Sources
//
// Settings are layered, later sources winning:
//
//  1. DefaultConfig.
//  2. The YAML file (~/.greenframe/greenframe.yaml unless --config names
//     another). The default file is written on first run.
//  3. GREENFRAME_* environment variables, e.g. GREENFRAME_LOG_LEVEL or
//     GREENFRAME_STORAGE_BACKEND.
//
// The merged result is validated before it is returned.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/greenframe/services/calc/telemetry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GREENFRAME_"

// Storage backends.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
	BackendNone   = "none"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// Config is the full CLI configuration.
type Config struct {
	Log       LogConfig        `yaml:"log" envPrefix:"LOG_"`
	Telemetry telemetry.Config `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Storage   StorageConfig    `yaml:"storage" envPrefix:"STORAGE_"`
	Server    ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Batch     BatchConfig      `yaml:"batch" envPrefix:"BATCH_"`
	Engine    EngineConfig     `yaml:"engine" envPrefix:"ENGINE_"`
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level string `yaml:"level" env:"LEVEL" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`

	// Dir enables JSON file logging when set.
	Dir  string `yaml:"dir" env:"DIR"`
	JSON bool   `yaml:"json" env:"JSON"`
}

// StorageConfig selects where materialized runs are kept.
type StorageConfig struct {
	Backend    string `yaml:"backend" env:"BACKEND" validate:"oneof=badger sqlite none"`
	BadgerPath string `yaml:"badger_path" env:"BADGER_PATH" validate:"required_if=Backend badger"`
	SQLitePath string `yaml:"sqlite_path" env:"SQLITE_PATH" validate:"required_if=Backend sqlite"`
}

// ServerConfig configures `greenframe serve`.
type ServerConfig struct {
	Addr         string  `yaml:"addr" env:"ADDR" validate:"required"`
	RateLimit    float64 `yaml:"rate_limit" env:"RATE_LIMIT" validate:"gte=0"`
	Burst        int     `yaml:"burst" env:"BURST" validate:"gte=0"`
	MaxBodyBytes int64   `yaml:"max_body_bytes" env:"MAX_BODY_BYTES" validate:"gte=0"`
}

// BatchConfig configures `greenframe batch`.
type BatchConfig struct {
	// Concurrency caps parallel runs. 0 means GOMAXPROCS.
	Concurrency int  `yaml:"concurrency" env:"CONCURRENCY" validate:"gte=0"`
	FailFast    bool `yaml:"fail_fast" env:"FAIL_FAST"`
}

// EngineConfig configures every engine the CLI builds.
type EngineConfig struct {
	ExtractMode string `yaml:"extract_mode" env:"EXTRACT_MODE" validate:"omitempty,oneof=compat explicit explicit-only order-independent"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: telemetry.DefaultConfig(),
		Storage: StorageConfig{
			Backend:    BackendBadger,
			BadgerPath: "~/.greenframe/runs",
			SQLitePath: "~/.greenframe/runs.db",
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8088",
			RateLimit:    20,
			Burst:        40,
			MaxBodyBytes: 4 << 20,
		},
		Batch: BatchConfig{
			Concurrency: 4,
		},
		Engine: EngineConfig{
			ExtractMode: "compat",
		},
	}
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ExpandPath replaces a leading "~" with the home directory.
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
