// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/greenframe/services/calc"
	"github.com/AleutianAI/greenframe/services/calc/batch"
	"github.com/AleutianAI/greenframe/services/calc/geometry"
	"github.com/AleutianAI/greenframe/services/calc/materialize"
	"github.com/AleutianAI/greenframe/services/calc/watch"
)

// runWatch handles `greenframe watch`. It runs once, then again after
// every change to the project, rule set or global file.
func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	wait, err := time.ParseDuration(debounce)
	if err != nil {
		return fmt.Errorf("invalid --debounce: %w", err)
	}
	opts, err := a.engineOptions()
	if err != nil {
		return err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	projectPath := args[0]
	p, err := geometry.LoadProject(projectPath)
	if err != nil {
		return err
	}
	paths := watchedPaths(projectPath, p)

	build := func() (*calc.Runner, error) {
		return batch.NewProjectRunner(projectPath, batch.ProjectConfig{
			RulesPath:    rulesPath,
			GlobalPath:   globalPath,
			Materializer: st.sink,
			Logger:       a.logger,
			EngineOpts:   opts,
		})
	}
	onReport := func(report *calc.Report, err error) {
		if err != nil {
			a.printer.Error(err.Error())
			return
		}
		b := materialize.Plan(calc.RunInfo{RunID: report.RunID, Project: report.Project, StartedAt: report.StartedAt}, report.Results)
		if a.format != formatTable {
			if err := a.encode(b); err != nil {
				a.logger.Error("encode run", slog.String("error", err.Error()))
			}
			return
		}
		a.renderRun(report, b, st.sink != nil)
	}

	onReport(watch.RunOnce(ctx, build))

	w, err := watch.New(paths, watch.Rerun(build, onReport, a.logger), &watch.Options{
		Debounce: wait,
		Logger:   a.logger,
	})
	if err != nil {
		return err
	}
	a.logger.Info("watching", slog.Any("files", w.Files()))
	return w.Run(ctx)
}

// watchedPaths lists the files a project run reads.
func watchedPaths(projectPath string, p *geometry.Project) []string {
	rules := rulesPath
	if rules == "" {
		rules = p.RulesPath()
	}
	global := globalPath
	if global == "" {
		global = p.GlobalPath()
	}
	return []string{projectPath, rules, global}
}
