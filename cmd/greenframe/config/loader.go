// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultPath returns ~/.greenframe/greenframe.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".greenframe", "greenframe.yaml"), nil
}

// Loader reads configuration from a file and the environment.
type Loader struct {
	// Path is the YAML file. Empty means DefaultPath.
	Path string

	// Environ replaces the process environment. Used by tests.
	Environ map[string]string

	// Notice receives the first-run message. Nil means os.Stderr.
	Notice io.Writer
}

// Load reads the configuration at path with process environment overrides.
func Load(path string) (*Config, error) {
	return (&Loader{Path: path}).Load()
}

// Load builds the merged, validated configuration.
//
// Description:
//
//	When Path is empty the default file is used and created with
//	DefaultConfig on first run. An explicit Path must exist.
func (l *Loader) Load() (*Config, error) {
	path := l.Path
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if explicit {
			return nil, fmt.Errorf("config file %s does not exist", path)
		}
		notice := l.Notice
		if notice == nil {
			notice = os.Stderr
		}
		fmt.Fprintf(notice, " First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read the config file %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}

	opts := env.Options{Prefix: EnvPrefix}
	if l.Environ != nil {
		opts.Environment = l.Environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	defaultCfg := DefaultConfig()
	data, err := yaml.Marshal(defaultCfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
