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
	"context"
	"log/slog"

	"github.com/AleutianAI/greenframe/services/calc"
)

// FileLoader reads a project file and implements calc.InputLoader.
type FileLoader struct {
	Path   string
	Logger *slog.Logger
}

// LoadInputs reads the project file and returns its flattened inputs.
func (l *FileLoader) LoadInputs(ctx context.Context) (calc.Inputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := LoadProject(l.Path)
	if err != nil {
		return nil, err
	}
	return Inputs(p, l.Logger), nil
}

// ProjectLoader serves an already-parsed project.
type ProjectLoader struct {
	Project *Project
	Logger  *slog.Logger
}

// LoadInputs returns the project's flattened inputs.
func (l *ProjectLoader) LoadInputs(ctx context.Context) (calc.Inputs, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Inputs(l.Project, l.Logger), nil
}

var (
	_ calc.InputLoader = (*FileLoader)(nil)
	_ calc.InputLoader = (*ProjectLoader)(nil)
)
