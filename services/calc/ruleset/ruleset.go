// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ruleset loads greenhouse rule sets: sections of formula rules plus
// an optional global override object, flattened into the registration
// sequence the calc engine expects.
//
// # File Layout
//
//	sections:
//	  - code: truss
//	    name: Trusses
//	    sequence: 20
//	    keywords: [truss, rafter]
//	    rules:
//	      - code: TRUSS_QTY
//	        formula: GET('no_of_spans') + 1
//	        length_formula: GET('span_width')
//	global: global.json         # or an inline mapping of code -> formula
//
// # Thread Safety
//
// RuleSet values are not safe for concurrent mutation. Flatten and
// MergeGlobal do not modify their arguments.
package ruleset

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/greenframe/services/calc"
)

var (
	// ErrInvalidRuleSet indicates a rule set failed validation.
	ErrInvalidRuleSet = errors.New("invalid rule set")

	// ErrInvalidGlobal indicates a malformed global override document.
	ErrInvalidGlobal = errors.New("invalid global calculations")
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Rule is one formula rule as written in a rule-set file.
type Rule struct {
	Code          string `json:"code" yaml:"code" validate:"required"`
	Name          string `json:"name,omitempty" yaml:"name,omitempty"`
	Formula       string `json:"formula" yaml:"formula" validate:"required"`
	LengthFormula string `json:"length_formula,omitempty" yaml:"length_formula,omitempty"`
	Sequence      int    `json:"sequence,omitempty" yaml:"sequence,omitempty"`
	Active        *bool  `json:"active,omitempty" yaml:"active,omitempty"`
}

// IsActive reports whether the rule takes part in runs. Rules are active
// unless marked otherwise.
func (r Rule) IsActive() bool {
	return r.Active == nil || *r.Active
}

// Section groups rules for ordering and for global keyword matching.
type Section struct {
	Code     string   `json:"code" yaml:"code" validate:"required"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
	Sequence int      `json:"sequence,omitempty" yaml:"sequence,omitempty"`
	Active   *bool    `json:"active,omitempty" yaml:"active,omitempty"`
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Rules    []Rule   `json:"rules" yaml:"rules" validate:"dive"`
}

// IsActive reports whether the section takes part in runs.
func (s Section) IsActive() bool {
	return s.Active == nil || *s.Active
}

// Global is the optional override object: either a path to a JSON file or
// an inline code -> formula mapping kept in document order.
type Global struct {
	Path   string
	Inline Globals
}

// IsZero reports whether no global overrides were configured.
func (g Global) IsZero() bool {
	return g.Path == "" && len(g.Inline) == 0
}

// UnmarshalYAML accepts a scalar path or a mapping.
func (g *Global) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&g.Path)
	case yaml.MappingNode:
		return node.Decode(&g.Inline)
	default:
		return fmt.Errorf("%w: global must be a path or a mapping (line %d)", ErrInvalidGlobal, node.Line)
	}
}

// MarshalYAML writes the path when set, the mapping otherwise.
func (g Global) MarshalYAML() (any, error) {
	if g.Path != "" {
		return g.Path, nil
	}
	return g.Inline, nil
}

// UnmarshalJSON accepts a string path or an object.
func (g *Global) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &g.Path); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, &g.Inline); err != nil {
		return fmt.Errorf("%w: global must be a path or an object", ErrInvalidGlobal)
	}
	return nil
}

// MarshalJSON writes the path when set, the object otherwise.
func (g Global) MarshalJSON() ([]byte, error) {
	if g.Path != "" {
		return json.Marshal(g.Path)
	}
	return json.Marshal(g.Inline)
}

// RuleSet is a parsed rule-set document.
type RuleSet struct {
	Sections []Section `json:"sections" yaml:"sections" validate:"dive"`
	Global   Global    `json:"global,omitempty" yaml:"global,omitempty"`
}

// Validate checks required fields and that rule codes are unique across
// the whole set.
func (rs *RuleSet) Validate() error {
	if err := validate.Struct(rs); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}
	sections := make(map[string]bool, len(rs.Sections))
	codes := make(map[string]string)
	for _, s := range rs.Sections {
		if sections[s.Code] {
			return fmt.Errorf("%w: duplicate section %q", ErrInvalidRuleSet, s.Code)
		}
		sections[s.Code] = true
		for _, r := range s.Rules {
			if other, dup := codes[r.Code]; dup {
				return fmt.Errorf("%w: rule %q defined in sections %q and %q",
					ErrInvalidRuleSet, r.Code, other, s.Code)
			}
			codes[r.Code] = s.Code
		}
	}
	return nil
}

// Parse decodes and validates a rule-set document. JSON documents are
// accepted too, being valid YAML.
func Parse(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rule set: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// OrderedSections returns the active sections sorted by sequence. Sections
// with equal sequence keep their file order.
func (rs *RuleSet) OrderedSections() []Section {
	out := make([]Section, 0, len(rs.Sections))
	for _, s := range rs.Sections {
		if s.IsActive() {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

// Flatten returns the active rules in registration order.
//
// Description:
//
//	Sections are taken in sequence order and, within a section, rules in
//	sequence order; both sorts are stable. Inactive sections and rules are
//	skipped. Each rule's Section is its section's code.
func (rs *RuleSet) Flatten() []calc.FormulaRule {
	var out []calc.FormulaRule
	for _, s := range rs.OrderedSections() {
		rules := make([]Rule, 0, len(s.Rules))
		for _, r := range s.Rules {
			if r.IsActive() {
				rules = append(rules, r)
			}
		}
		sort.SliceStable(rules, func(i, j int) bool {
			return rules[i].Sequence < rules[j].Sequence
		})
		for _, r := range rules {
			out = append(out, calc.FormulaRule{
				Code:          r.Code,
				Name:          r.Name,
				Formula:       r.Formula,
				LengthFormula: r.LengthFormula,
				Section:       s.Code,
				Sequence:      r.Sequence,
			})
		}
	}
	return out
}
