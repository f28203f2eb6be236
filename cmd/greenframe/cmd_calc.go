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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/greenframe/services/calc"
	"github.com/AleutianAI/greenframe/services/calc/api"
	"github.com/AleutianAI/greenframe/services/calc/batch"
	"github.com/AleutianAI/greenframe/services/calc/geometry"
	"github.com/AleutianAI/greenframe/services/calc/materialize"
	"github.com/AleutianAI/greenframe/services/calc/ruleset"
)

// runCalc handles `greenframe calc`.
func runCalc(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	opts, err := a.engineOptions()
	if err != nil {
		return err
	}
	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	runner, err := batch.NewProjectRunner(args[0], batch.ProjectConfig{
		RulesPath:    rulesPath,
		GlobalPath:   globalPath,
		Materializer: st.sink,
		Logger:       a.logger,
		EngineOpts:   opts,
	})
	if err != nil {
		return err
	}

	report, err := runner.Run(ctx)
	if err != nil {
		var cycle *calc.CycleError
		if errors.As(err, &cycle) && a.format == formatTable {
			a.renderCycle(&calc.CycleInfo{Codes: cycle.Codes, Path: cycle.Path})
		}
		return err
	}

	b := materialize.Plan(calc.RunInfo{
		RunID:     report.RunID,
		Project:   report.Project,
		StartedAt: report.StartedAt,
	}, report.Results)
	stored := st.sink != nil

	if a.format != formatTable {
		return a.encode(api.RunResponse{Report: report, Batch: &b, Stored: stored})
	}
	a.renderRun(report, b, stored)
	return nil
}

// runGraph handles `greenframe graph`.
func runGraph(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	opts, err := a.engineOptions()
	if err != nil {
		return err
	}
	graph, err := inspectProject(ctx, args[0], a.logger, opts)
	if err != nil {
		return err
	}

	var node calc.GraphNode
	if focusRule != "" {
		if node, err = graph.Node(focusRule); err != nil {
			return err
		}
	}

	switch {
	case a.format != formatTable && focusRule != "":
		err = a.encode(node)
	case a.format != formatTable:
		err = a.encode(graph)
	case focusRule != "":
		a.renderNode(node)
	default:
		a.renderGraph(graph)
	}
	if err != nil {
		return err
	}
	if graph.Cycle != nil {
		return fmt.Errorf("%w: %s", calc.ErrCycleDetected, strings.Join(graph.Cycle.Codes, ", "))
	}
	return nil
}

// inspectProject loads a project and its rules and reports their graph.
func inspectProject(ctx context.Context, path string, logger *slog.Logger, opts []calc.Option) (*calc.GraphReport, error) {
	p, err := geometry.LoadProject(path)
	if err != nil {
		return nil, err
	}
	source := &ruleset.FileSource{Path: rulesPath, GlobalPath: globalPath, Logger: logger}
	if source.Path == "" {
		source.Path = p.RulesPath()
	}
	if source.GlobalPath == "" {
		source.GlobalPath = p.GlobalPath()
	}
	if source.Path == "" {
		return nil, fmt.Errorf("%w: %s", batch.ErrNoRuleSet, p.Name)
	}
	rules, err := source.LoadRules(ctx)
	if err != nil {
		return nil, err
	}
	return calc.Inspect(geometry.Inputs(p, logger), rules, opts...)
}

// runLatest handles `greenframe latest`.
func runLatest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if st.runs == nil {
		return errors.New("no result store configured (set storage.backend or --store)")
	}
	b, err := st.runs.Latest(ctx, args[0])
	if err != nil {
		return err
	}

	if a.format != formatTable {
		return a.encode(b)
	}
	a.renderBatch(*b)
	return nil
}
