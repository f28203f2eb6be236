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
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/greenframe/pkg/ux"
	"github.com/AleutianAI/greenframe/services/calc"
	"github.com/AleutianAI/greenframe/services/calc/batch"
	"github.com/AleutianAI/greenframe/services/calc/materialize"
)

// renderRun prints a finished run: its components by section, its
// diagnostics and a summary.
func (a *app) renderRun(report *calc.Report, b materialize.Batch, stored bool) {
	p := a.printer
	a.renderBatch(b)

	for _, u := range report.Unresolved {
		p.Warning(fmt.Sprintf("%s references unknown code %s", u.Rule, u.Code))
	}

	c := report.Counts
	p.Summary(
		ux.Stat{Label: "rules", Value: c.Rules},
		ux.Stat{Label: "components", Value: len(b.Components), Icon: ux.IconSuccess},
		ux.Stat{Label: "omitted", Value: len(b.Omitted)},
		ux.Stat{Label: "failed", Value: c.Failed, Icon: ux.IconError},
		ux.Stat{Label: "length errors", Value: c.LengthFailed, Icon: ux.IconWarning},
	)
	if stored {
		p.Muted(fmt.Sprintf("stored as run %s in %s", report.RunID, report.Duration.Round(time.Millisecond)))
	}
}

// renderBatch prints a materialized batch.
func (a *app) renderBatch(b materialize.Batch) {
	p := a.printer
	title := b.Project
	if title == "" {
		title = "run"
	}
	p.Title(fmt.Sprintf("%s %s %s", title, ux.IconArrow, b.RunID))

	for _, group := range b.BySection() {
		section := group.Section
		if section == "" {
			section = "unsectioned"
		}
		p.Info(strings.ToUpper(section))
		rows := make([][]string, 0, len(group.Components))
		for _, c := range group.Components {
			rows = append(rows, []string{
				c.Code,
				c.Name,
				formatNumber(c.Quantity),
				formatLength(c.UnitLength, c.LengthError),
				formatLength(c.TotalLength, c.LengthError),
			})
		}
		p.Table([]string{"CODE", "NAME", "QTY", "UNIT LENGTH", "TOTAL LENGTH"}, rows)
	}

	if len(b.Diagnostics) > 0 {
		p.Info("DIAGNOSTICS")
		rows := make([][]string, 0, len(b.Diagnostics))
		for _, d := range b.Diagnostics {
			rows = append(rows, []string{d.Code, d.Formula, d.Error})
		}
		p.Table([]string{"CODE", "FORMULA", "ERROR"}, rows)
	}
}

// renderGraph prints dependency graph nodes and the evaluation order.
func (a *app) renderGraph(g *calc.GraphReport) {
	p := a.printer
	p.Title("Dependency graph")

	rows := make([][]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		rows = append(rows, []string{
			n.Code,
			n.Section,
			strings.Join(n.Dependencies, ", "),
			strings.Join(n.Dependents, ", "),
		})
	}
	p.Table([]string{"CODE", "SECTION", "DEPENDS ON", "USED BY"}, rows)

	for _, u := range g.Unresolved {
		p.Warning(fmt.Sprintf("%s references unknown code %s", u.Rule, u.Code))
	}
	if g.Cycle != nil {
		a.renderCycle(g.Cycle)
		return
	}
	p.Success("evaluation order: " + strings.Join(g.Order, fmt.Sprintf(" %s ", ux.IconArrow)))
}

// renderNode prints one rule's row of the dependency graph.
func (a *app) renderNode(n calc.GraphNode) {
	a.printer.Table([]string{"CODE", "SECTION", "DEPENDS ON", "USED BY"}, [][]string{{
		n.Code,
		n.Section,
		strings.Join(n.Dependencies, ", "),
		strings.Join(n.Dependents, ", "),
	}})
}

// renderCycle prints the rules that could not be ordered.
func (a *app) renderCycle(c *calc.CycleInfo) {
	msg := "dependency cycle among " + strings.Join(c.Codes, ", ")
	if len(c.Path) > 0 {
		msg += " (" + strings.Join(c.Path, fmt.Sprintf(" %s ", ux.IconArrow)) + ")"
	}
	a.printer.Error(msg)
}

// renderOutcomes prints one line per batch job.
func (a *app) renderOutcomes(outcomes []batch.Outcome) {
	p := a.printer
	p.Title("Batch")

	rows := make([][]string, 0, len(outcomes))
	ok := 0
	for _, o := range outcomes {
		status := p.Render(ux.IconSuccess)
		components, failed := "-", "-"
		detail := ""
		if o.Report != nil {
			components = strconv.Itoa(o.Report.Counts.Succeeded - o.Report.Counts.Zero)
			failed = strconv.Itoa(o.Report.Counts.Failed)
		}
		switch {
		case o.Err != nil:
			status = p.Render(ux.IconError)
			detail = o.Error
		case o.Report == nil:
			status = p.Render(ux.IconPending)
			detail = "not run"
		default:
			ok++
		}
		rows = append(rows, []string{status, o.Name, components, failed, o.Duration.Round(time.Millisecond).String(), detail})
	}
	p.Table([]string{"", "PROJECT", "NONZERO", "FAILED", "TIME", "ERROR"}, rows)
	p.Summary(
		ux.Stat{Label: "projects", Value: len(outcomes)},
		ux.Stat{Label: "ok", Value: ok, Icon: ux.IconSuccess},
		ux.Stat{Label: "failed", Value: len(outcomes) - ok, Icon: ux.IconError},
	)
}

// formatNumber rounds to four decimals and drops trailing zeros.
func formatNumber(v float64) string {
	return strconv.FormatFloat(math.Round(v*1e4)/1e4, 'f', -1, 64)
}

func formatLength(v float64, lengthErr string) string {
	if lengthErr != "" {
		return "error"
	}
	return formatNumber(v)
}
