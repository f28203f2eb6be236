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
	"fmt"
	"sort"
)

type set map[string]struct{}

func (s set) add(k string)      { s[k] = struct{}{} }
func (s set) has(k string) bool { _, ok := s[k]; return ok }

// entry is a registered rule plus the references read from its text.
type entry struct {
	rule  FormulaRule
	index int
	// explicit holds CALC() targets, registered or not.
	explicit []string
	// tokens holds bare-word candidates, linked only while they name a rule.
	tokens []string
}

// Edge is a dependency edge: Rule reads the value of Dependency.
type Edge struct {
	Rule       string `json:"rule" yaml:"rule"`
	Dependency string `json:"dependency" yaml:"dependency"`
	// Explicit is true when the edge comes from a CALC() call.
	Explicit bool `json:"explicit" yaml:"explicit"`
}

// Registry holds formula rules and the dependency maps derived from them.
//
// Description:
//
//	On each AddFormula the rule's text is scanned for references and the
//	dependencies/dependents maps are updated. Explicit CALC('CODE') calls
//	always create an edge, even to codes not registered yet (those stay
//	unresolved until the code registers). In ExtractCompat mode, bare words
//	equal to the code of a rule already registered also create an edge; a
//	bare word naming a code registered later stays plain text. In
//	ExtractOrderIndependent mode such words are linked when the code
//	registers, so the final edge set does not depend on registration order.
//
// Thread Safety:
//
//	Registry is NOT safe for concurrent use. It belongs to one run.
type Registry struct {
	mode    ExtractMode
	entries map[string]*entry
	order   []string

	dependencies map[string]set
	dependents   map[string]set

	// waiting maps a bare word to the rules whose text contains it.
	waiting map[string]set
}

// NewRegistry creates an empty registry using the given extraction mode.
func NewRegistry(mode ExtractMode) *Registry {
	return &Registry{
		mode:         mode,
		entries:      make(map[string]*entry),
		dependencies: make(map[string]set),
		dependents:   make(map[string]set),
		waiting:      make(map[string]set),
	}
}

// Mode returns the extraction mode.
func (r *Registry) Mode() ExtractMode {
	return r.mode
}

// AddFormula registers or replaces a rule.
//
// Description:
//
//	Validates the rule's structure, defaults LengthFormula to "0" and
//	recomputes the rule's dependency set. Re-registering a code replaces
//	its definition and edges but keeps its original registration position.
//	Formula content is not parsed here.
//
// Inputs:
//
//	rule - The rule. Code and Formula are required.
//
// Outputs:
//
//	error - *RuleError wrapping ErrInvalidRule on validation failure.
func (r *Registry) AddFormula(rule FormulaRule) error {
	if err := rule.Validate(); err != nil {
		return &RuleError{Code: rule.Code, Err: fmt.Errorf("%w: %v", ErrInvalidRule, err)}
	}
	if rule.LengthFormula == "" {
		rule.LengthFormula = "0"
	}

	code := rule.Code
	e, exists := r.entries[code]
	if exists {
		r.unlink(code)
		e.rule = rule
	} else {
		e = &entry{rule: rule, index: len(r.order)}
		r.entries[code] = e
		r.order = append(r.order, code)
	}

	e.explicit = explicitRefs(rule.Formula)
	e.tokens = nil
	if r.mode == ExtractCompat || r.mode == ExtractOrderIndependent {
		e.tokens = bareTokens(rule.Formula, code)
	}

	deps := make(set)
	for _, dep := range e.explicit {
		deps.add(dep)
	}
	for _, tok := range e.tokens {
		if r.mode == ExtractOrderIndependent {
			r.waitOn(tok, code)
		}
		if _, ok := r.entries[tok]; ok {
			deps.add(tok)
		}
	}
	r.dependencies[code] = deps
	for dep := range deps {
		r.dependentsOf(dep).add(code)
	}

	// Rules registered earlier that mention this code as a bare word.
	if !exists {
		for other := range r.waiting[code] {
			if other == code {
				continue
			}
			r.dependencies[other].add(code)
			r.dependentsOf(code).add(other)
		}
	}
	return nil
}

func (r *Registry) dependentsOf(code string) set {
	s, ok := r.dependents[code]
	if !ok {
		s = make(set)
		r.dependents[code] = s
	}
	return s
}

func (r *Registry) waitOn(token, code string) {
	s, ok := r.waiting[token]
	if !ok {
		s = make(set)
		r.waiting[token] = s
	}
	s.add(code)
}

// unlink removes code's outgoing edges and bare-word subscriptions.
func (r *Registry) unlink(code string) {
	for dep := range r.dependencies[code] {
		if s, ok := r.dependents[dep]; ok {
			delete(s, code)
			if len(s) == 0 {
				delete(r.dependents, dep)
			}
		}
	}
	delete(r.dependencies, code)
	for _, tok := range r.entries[code].tokens {
		if s, ok := r.waiting[tok]; ok {
			delete(s, code)
			if len(s) == 0 {
				delete(r.waiting, tok)
			}
		}
	}
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	return len(r.order)
}

// Codes returns the registered codes in registration order.
func (r *Registry) Codes() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Rule returns the registered rule for code.
func (r *Registry) Rule(code string) (FormulaRule, bool) {
	e, ok := r.entries[code]
	if !ok {
		return FormulaRule{}, false
	}
	return e.rule, true
}

// Has reports whether code is registered.
func (r *Registry) Has(code string) bool {
	_, ok := r.entries[code]
	return ok
}

// Dependencies returns the codes code depends on. Registered codes come
// first in registration order, then unregistered ones sorted by name.
func (r *Registry) Dependencies(code string) []string {
	return r.sorted(r.dependencies[code])
}

// Dependents returns the registered codes that depend on code, in
// registration order.
func (r *Registry) Dependents(code string) []string {
	return r.sorted(r.dependents[code])
}

// Edges returns every dependency edge, ordered by the dependent rule's
// registration order and then by dependency.
func (r *Registry) Edges() []Edge {
	var edges []Edge
	for _, code := range r.order {
		e := r.entries[code]
		explicit := make(set, len(e.explicit))
		for _, ref := range e.explicit {
			explicit.add(ref)
		}
		for _, dep := range r.Dependencies(code) {
			edges = append(edges, Edge{Rule: code, Dependency: dep, Explicit: explicit.has(dep)})
		}
	}
	return edges
}

func (r *Registry) sorted(s set) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		ei, iok := r.entries[out[i]]
		ej, jok := r.entries[out[j]]
		switch {
		case iok && jok:
			return ei.index < ej.index
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}

// Snapshot returns an immutable Graph of the current registry state.
func (r *Registry) Snapshot() *Graph {
	g := &Graph{
		codes:      r.Codes(),
		index:      make(map[string]int, len(r.order)),
		deps:       make(map[string][]string, len(r.order)),
		dependents: make(map[string][]string, len(r.order)),
		unresolved: make(map[string][]string),
	}
	for _, code := range r.order {
		g.index[code] = r.entries[code].index
	}
	for _, code := range r.order {
		for _, dep := range r.Dependencies(code) {
			if r.Has(dep) {
				g.deps[code] = append(g.deps[code], dep)
			} else {
				g.unresolved[code] = append(g.unresolved[code], dep)
			}
		}
		g.dependents[code] = r.Dependents(code)
	}
	return g
}
