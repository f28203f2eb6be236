// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package geometry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/greenframe/services/calc"
	"github.com/AleutianAI/greenframe/services/calc/expr"
)

var (
	// ErrInvalidProject indicates a project file failed validation.
	ErrInvalidProject = errors.New("invalid project")

	// ErrUnsupportedFormat indicates a file extension that is neither YAML
	// nor JSON.
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

var validate = validator.New()

// Format is a project or rule-set file encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// FormatOf picks the encoding from a file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// Project is one greenhouse to compute.
type Project struct {
	Name   string                `json:"name" yaml:"name" validate:"required"`
	Params Params                `json:"params" yaml:"params"`
	Extra  map[string]expr.Value `json:"extra,omitempty" yaml:"extra,omitempty"`

	// Rules and Global are rule-set and global-override paths, relative to
	// the project file's directory.
	Rules  string `json:"rules,omitempty" yaml:"rules,omitempty"`
	Global string `json:"global,omitempty" yaml:"global,omitempty"`

	dir string
}

// Validate checks the project's required fields and parameter ranges.
func (p *Project) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProject, err)
	}
	for key := range p.Extra {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("%w: empty extra parameter name", ErrInvalidProject)
		}
	}
	return nil
}

// Dir returns the directory the project was loaded from, or "".
func (p *Project) Dir() string {
	return p.dir
}

// RulesPath resolves Rules against the project directory.
func (p *Project) RulesPath() string {
	return p.resolve(p.Rules)
}

// GlobalPath resolves Global against the project directory.
func (p *Project) GlobalPath() string {
	return p.resolve(p.Global)
}

func (p *Project) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || p.dir == "" {
		return path
	}
	return filepath.Join(p.dir, path)
}

// ParseProject decodes and validates a project document.
func ParseProject(data []byte, format Format) (*Project, error) {
	var p Project
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to parse project yaml: %w", err)
		}
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("failed to parse project json: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadProject reads a project file; the encoding follows the extension.
func LoadProject(path string) (*Project, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}
	p, err := ParseProject(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.dir = filepath.Dir(path)
	return p, nil
}

// Inputs flattens a project into the values GET() reads.
//
// Description:
//
//	Extras are applied first, then the user parameters, then the derived
//	base geometry. A later layer overwrites an earlier one; each collision
//	is logged at warn level.
//
// Inputs:
//
//	p - The project.
//	logger - Logger for collisions. Nil means slog.Default().
//
// Outputs:
//
//	calc.Inputs - A fresh map.
func Inputs(p *Project, logger *slog.Logger) calc.Inputs {
	if logger == nil {
		logger = slog.Default()
	}
	params := p.Params.Values()
	base := Derive(p.Params).Values()
	out := make(calc.Inputs, len(p.Extra)+len(params)+len(base))

	for k, v := range p.Extra {
		out[k] = v
	}
	overlay := func(layer string, values map[string]expr.Value) {
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if _, exists := out[k]; exists {
				logger.Warn("input overridden",
					slog.String("project", p.Name),
					slog.String("key", k),
					slog.String("by", layer),
				)
			}
			out[k] = values[k]
		}
	}
	overlay("params", params)
	overlay("base", base)
	return out
}
