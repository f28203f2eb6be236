// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"log/slog"

	"github.com/AleutianAI/greenframe/services/calc"
)

// RunnerFactory builds a fresh Runner. It is called once per rerun so that
// edits to the project file itself take effect.
type RunnerFactory func() (*calc.Runner, error)

// ReportFunc receives each rerun's outcome. report is nil when the factory
// failed.
type ReportFunc func(report *calc.Report, err error)

// Rerun returns a Handler that rebuilds the runner and runs it on every
// batch of changes.
func Rerun(build RunnerFactory, onReport ReportFunc, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, changes []Change) {
		for _, c := range changes {
			logger.Info("file changed", slog.String("path", c.Path), slog.String("op", c.Op.String()))
		}
		report, err := RunOnce(ctx, build)
		if onReport != nil {
			onReport(report, err)
		}
	}
}

// RunOnce builds a runner and runs it.
func RunOnce(ctx context.Context, build RunnerFactory) (*calc.Report, error) {
	runner, err := build()
	if err != nil {
		return nil, err
	}
	return runner.Run(ctx)
}
