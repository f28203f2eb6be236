// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package materialize turns a run's results into persisted records.
//
// # Contract
//
//   - A result with a positive value and no error becomes a Component:
//     quantity = value, unit length = length, grouped by section.
//   - A result with an error becomes a Diagnostic carrying the formula and
//     the literal error text.
//   - Any other result (zero or negative value, no error) is omitted.
//
// Plan applies the contract; the sinks (BadgerStore, SQLiteStore, Writer
// and Multi) persist or render the resulting Batch and implement
// calc.Materializer.
//
// # Thread Safety
//
// Plan is a pure function. BadgerStore and SQLiteStore are safe for
// concurrent use. Writer serializes writes to its io.Writer.
package materialize

import (
	"context"
	"time"

	"github.com/AleutianAI/greenframe/services/calc"
)

// Kind is the record kind a result maps to.
type Kind int

const (
	// KindOmitted results are not materialized.
	KindOmitted Kind = iota
	// KindComponent results become component records.
	KindComponent
	// KindDiagnostic results become diagnostic records.
	KindDiagnostic
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindComponent:
		return "component"
	case KindDiagnostic:
		return "diagnostic"
	default:
		return "omitted"
	}
}

// Classify maps one result to its record kind.
func Classify(r calc.Result) Kind {
	switch {
	case r.Error != "":
		return KindDiagnostic
	case r.Value > 0:
		return KindComponent
	default:
		return KindOmitted
	}
}

// Component is a bill-of-components line.
type Component struct {
	Position    int     `json:"position" yaml:"position"`
	Code        string  `json:"code" yaml:"code"`
	Name        string  `json:"name,omitempty" yaml:"name,omitempty"`
	Section     string  `json:"section,omitempty" yaml:"section,omitempty"`
	Quantity    float64 `json:"quantity" yaml:"quantity"`
	UnitLength  float64 `json:"unit_length" yaml:"unit_length"`
	TotalLength float64 `json:"total_length" yaml:"total_length"`
	LengthError string  `json:"length_error,omitempty" yaml:"length_error,omitempty"`
}

// Diagnostic shows a formula author why a rule failed.
type Diagnostic struct {
	Position int    `json:"position" yaml:"position"`
	Code     string `json:"code" yaml:"code"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Section  string `json:"section,omitempty" yaml:"section,omitempty"`
	Formula  string `json:"formula" yaml:"formula"`
	Error    string `json:"error" yaml:"error"`
}

// Batch is everything one run materializes. Position fields hold each
// record's index in the run's evaluation order.
type Batch struct {
	RunID       string       `json:"run_id" yaml:"run_id"`
	Project     string       `json:"project,omitempty" yaml:"project,omitempty"`
	StartedAt   time.Time    `json:"started_at" yaml:"started_at"`
	Components  []Component  `json:"components" yaml:"components"`
	Diagnostics []Diagnostic `json:"diagnostics" yaml:"diagnostics"`
	Omitted     []string     `json:"omitted,omitempty" yaml:"omitted,omitempty"`
}

// SectionGroup is the components of one section.
type SectionGroup struct {
	Section    string      `json:"section" yaml:"section"`
	Components []Component `json:"components" yaml:"components"`
}

// Plan applies the materialization contract to results, keeping their
// order.
func Plan(run calc.RunInfo, results []calc.Result) Batch {
	b := Batch{
		RunID:       run.RunID,
		Project:     run.Project,
		StartedAt:   run.StartedAt,
		Components:  []Component{},
		Diagnostics: []Diagnostic{},
	}
	for i, r := range results {
		switch Classify(r) {
		case KindComponent:
			b.Components = append(b.Components, Component{
				Position:    i,
				Code:        r.Code,
				Name:        r.Name,
				Section:     r.Section,
				Quantity:    r.Value,
				UnitLength:  r.Length,
				TotalLength: r.Value * r.Length,
				LengthError: r.LengthError,
			})
		case KindDiagnostic:
			b.Diagnostics = append(b.Diagnostics, Diagnostic{
				Position: i,
				Code:     r.Code,
				Name:     r.Name,
				Section:  r.Section,
				Formula:  r.Formula,
				Error:    r.Error,
			})
		default:
			b.Omitted = append(b.Omitted, r.Code)
		}
	}
	return b
}

// BySection groups components by section. Sections appear in the order of
// their first component; components keep evaluation order.
func (b Batch) BySection() []SectionGroup {
	var groups []SectionGroup
	index := make(map[string]int)
	for _, c := range b.Components {
		i, ok := index[c.Section]
		if !ok {
			i = len(groups)
			index[c.Section] = i
			groups = append(groups, SectionGroup{Section: c.Section})
		}
		groups[i].Components = append(groups[i].Components, c)
	}
	return groups
}

// RunStore reads stored runs back. BadgerStore and SQLiteStore implement
// it.
type RunStore interface {
	Latest(ctx context.Context, project string) (*Batch, error)
}
