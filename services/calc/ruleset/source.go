// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ruleset

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/AleutianAI/greenframe/services/calc"
)

// Load reads and validates a rule-set file.
func Load(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule set: %w", err)
	}
	rs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rs, nil
}

// LoadGlobal reads a global override file.
func LoadGlobal(path string) (Globals, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read global calculations: %w", err)
	}
	global, err := ParseGlobal(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return global, nil
}

// FileSource reads a rule set from disk and implements calc.RuleSource.
//
// GlobalPath, when set, takes precedence over the rule set's own global
// entry. A relative global path inside the rule set resolves against the
// rule-set file's directory.
type FileSource struct {
	Path       string
	GlobalPath string
	Logger     *slog.Logger
}

// LoadRules reads the files and returns the merged rules.
func (s *FileSource) LoadRules(ctx context.Context) ([]calc.FormulaRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rs, err := Load(s.Path)
	if err != nil {
		return nil, err
	}

	global := rs.Global.Inline
	globalPath := s.GlobalPath
	if globalPath == "" && rs.Global.Path != "" {
		globalPath = rs.Global.Path
		if !filepath.IsAbs(globalPath) {
			globalPath = filepath.Join(filepath.Dir(s.Path), globalPath)
		}
	}
	if globalPath != "" {
		if global, err = LoadGlobal(globalPath); err != nil {
			return nil, err
		}
	}
	return Resolve(rs, global, s.Logger), nil
}

// SetSource serves an in-memory rule set.
type SetSource struct {
	Set    *RuleSet
	Global Globals
	Logger *slog.Logger
}

// LoadRules returns the merged rules. Global overrides the set's inline
// global mapping when non-nil.
func (s *SetSource) LoadRules(ctx context.Context) ([]calc.FormulaRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.Set.Validate(); err != nil {
		return nil, err
	}
	global := s.Global
	if global == nil {
		global = s.Set.Global.Inline
	}
	return Resolve(s.Set, global, s.Logger), nil
}

// Resolve flattens rs and merges global into it, logging skipped codes.
func Resolve(rs *RuleSet, global Globals, logger *slog.Logger) []calc.FormulaRule {
	if logger == nil {
		logger = slog.Default()
	}
	rules := rs.Flatten()
	if len(global) == 0 {
		return rules
	}
	res := MergeGlobal(rules, global, rs.OrderedSections())
	for _, code := range res.Skipped {
		logger.Debug("global calculation shadowed by rule", slog.String("code", code))
	}
	logger.Info("merged global calculations",
		slog.Int("added", len(res.Added)),
		slog.Int("skipped", len(res.Skipped)),
	)
	return res.Rules
}

var (
	_ calc.RuleSource = (*FileSource)(nil)
	_ calc.RuleSource = (*SetSource)(nil)
)
