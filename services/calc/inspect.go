// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package calc

import (
	"errors"
)

// GraphNode is one rule's place in the dependency graph.
type GraphNode struct {
	Code         string   `json:"code" yaml:"code"`
	Section      string   `json:"section,omitempty" yaml:"section,omitempty"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
	Dependents   []string `json:"dependents" yaml:"dependents"`
}

// CycleInfo describes rules that could not be ordered.
type CycleInfo struct {
	Codes []string `json:"codes" yaml:"codes"`
	Path  []string `json:"path,omitempty" yaml:"path,omitempty"`
}

// GraphReport is the dependency structure of a rule set, without values.
type GraphReport struct {
	Nodes      []GraphNode  `json:"nodes" yaml:"nodes"`
	Edges      []Edge       `json:"edges" yaml:"edges"`
	Order      []string     `json:"order,omitempty" yaml:"order,omitempty"`
	Unresolved []Unresolved `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Cycle      *CycleInfo   `json:"cycle,omitempty" yaml:"cycle,omitempty"`
}

// Inspect registers rules on a fresh engine and reports the graph.
//
// Description:
//
//	Nothing is evaluated. A cycle is reported on GraphReport.Cycle rather
//	than as an error, with Order left empty. Nodes follow registration
//	order.
//
// Outputs:
//
//	*GraphReport - The graph.
//	error - A registration error (*RuleError wrapping ErrInvalidRule).
func Inspect(inputs Inputs, rules []FormulaRule, opts ...Option) (*GraphReport, error) {
	engine := NewEngine(inputs, opts...)
	for _, rule := range rules {
		if err := engine.AddFormula(rule); err != nil {
			return nil, err
		}
	}

	reg := engine.Registry()
	report := &GraphReport{
		Nodes:      make([]GraphNode, 0, reg.Len()),
		Edges:      reg.Edges(),
		Unresolved: engine.Unresolved(),
	}
	for _, code := range reg.Codes() {
		rule, _ := reg.Rule(code)
		report.Nodes = append(report.Nodes, GraphNode{
			Code:         code,
			Section:      rule.Section,
			Dependencies: nonNil(reg.Dependencies(code)),
			Dependents:   nonNil(reg.Dependents(code)),
		})
	}
	if report.Edges == nil {
		report.Edges = []Edge{}
	}

	order, err := engine.Order()
	var cycle *CycleError
	switch {
	case errors.As(err, &cycle):
		report.Cycle = &CycleInfo{Codes: cycle.Codes, Path: cycle.Path}
	case err != nil:
		return nil, err
	default:
		report.Order = order
	}
	return report, nil
}

// Node returns the node for code, or a *RuleError wrapping ErrRuleNotFound.
func (g *GraphReport) Node(code string) (GraphNode, error) {
	for _, n := range g.Nodes {
		if n.Code == code {
			return n, nil
		}
	}
	return GraphNode{}, &RuleError{Code: code, Err: ErrRuleNotFound}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
