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

// Graph is an immutable snapshot of a registry's dependency structure.
//
// Only edges between registered rules take part in ordering. References to
// codes that are not registered are kept separately (see Unresolved).
type Graph struct {
	codes      []string
	index      map[string]int
	deps       map[string][]string
	dependents map[string][]string
	unresolved map[string][]string
}

// Codes returns the rule codes in registration order.
func (g *Graph) Codes() []string {
	out := make([]string, len(g.codes))
	copy(out, g.codes)
	return out
}

// Len returns the number of rules.
func (g *Graph) Len() int {
	return len(g.codes)
}

// Dependencies returns the registered codes code depends on.
func (g *Graph) Dependencies(code string) []string {
	return g.deps[code]
}

// Dependents returns the registered codes that depend on code.
func (g *Graph) Dependents(code string) []string {
	return g.dependents[code]
}

// Unresolved returns references to codes that are not registered rules,
// filtered by isInput. Rules appear in registration order.
func (g *Graph) Unresolved(isInput func(code string) bool) []Unresolved {
	var out []Unresolved
	for _, code := range g.codes {
		for _, dep := range g.unresolved[code] {
			if isInput != nil && isInput(dep) {
				continue
			}
			out = append(out, Unresolved{Rule: code, Code: dep})
		}
	}
	return out
}

// Order returns an evaluation order using Kahn's algorithm.
//
// Description:
//
//	In-degree is the number of registered dependencies of each rule. The
//	queue is seeded with zero in-degree rules in registration order; when a
//	rule is dequeued its dependents are visited in registration order and
//	appended as their in-degree reaches zero. The result is deterministic
//	for a given registration sequence.
//
// Outputs:
//
//	[]string - Codes such that every dependency precedes its dependents.
//	error - *CycleError (wrapping ErrCycleDetected) when some rules cannot
//	        be ordered. No partial order is returned in that case.
func (g *Graph) Order() ([]string, error) {
	inDegree := make(map[string]int, len(g.codes))
	queue := make([]string, 0, len(g.codes))
	for _, code := range g.codes {
		inDegree[code] = len(g.deps[code])
		if inDegree[code] == 0 {
			queue = append(queue, code)
		}
	}

	order := make([]string, 0, len(g.codes))
	for head := 0; head < len(queue); head++ {
		code := queue[head]
		order = append(order, code)
		for _, dependent := range g.dependents[code] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) < len(g.codes) {
		return nil, g.cycleError(inDegree)
	}
	return order, nil
}

// cycleError lists the unordered rules and traces one cycle among them.
func (g *Graph) cycleError(inDegree map[string]int) *CycleError {
	remaining := make(map[string]bool)
	var codes []string
	for _, code := range g.codes {
		if inDegree[code] > 0 {
			remaining[code] = true
			codes = append(codes, code)
		}
	}
	return &CycleError{Codes: codes, Path: g.findCycle(codes, remaining)}
}

// findCycle walks dependency edges inside remaining until a code repeats.
// Every remaining rule has an unordered dependency, so the walk always
// closes a cycle.
func (g *Graph) findCycle(codes []string, remaining map[string]bool) []string {
	if len(codes) == 0 {
		return nil
	}
	pos := make(map[string]int)
	var path []string
	current := codes[0]
	for {
		if at, seen := pos[current]; seen {
			cycle := append([]string{}, path[at:]...)
			return append(cycle, current)
		}
		pos[current] = len(path)
		path = append(path, current)

		next := ""
		for _, dep := range g.deps[current] {
			if remaining[dep] {
				next = dep
				break
			}
		}
		if next == "" {
			return nil
		}
		current = next
	}
}
