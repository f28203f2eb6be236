// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ruleset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/greenframe/services/calc"
)

// MetadataSource marks rules that came from the global override object.
const MetadataSource = "source"

// SourceGlobal is the MetadataSource value for merged global rules.
const SourceGlobal = "global"

// DefaultKeywords are used for a section that declares no keywords of its
// own, keyed by section code.
var DefaultKeywords = map[string][]string{
	"frame":  {"column", "frame", "anchor", "foundation"},
	"truss":  {"truss", "arch", "rafter"},
	"purlin": {"purlin", "gutter", "bracing"},
	"clamp":  {"clamp", "bolt", "joiner"},
}

// MergeResult is the outcome of MergeGlobal.
type MergeResult struct {
	// Rules are the regular rules followed by the newly merged ones.
	Rules []calc.FormulaRule
	// Added lists merged codes in the order they were appended.
	Added []string
	// Skipped lists global codes already defined by a regular rule.
	Skipped []string
}

// GlobalEntry is one code -> formula pair of a global override object.
type GlobalEntry struct {
	Code    string
	Formula string
}

// Globals is a global override object in document order. A repeated code
// keeps its first position and its last formula.
type Globals []GlobalEntry

// Set adds code or replaces its formula in place.
func (g *Globals) Set(code, formula string) {
	for i := range *g {
		if (*g)[i].Code == code {
			(*g)[i].Formula = formula
			return
		}
	}
	*g = append(*g, GlobalEntry{Code: code, Formula: formula})
}

// UnmarshalJSON decodes an object, see ParseGlobal. null is a no-op.
func (g *Globals) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	parsed, err := ParseGlobal(data)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// MarshalJSON writes an object with the entries in order.
func (g Globals) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range g {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Code)
		if err != nil {
			return nil, err
		}
		value, err := json.Marshal(e.Formula)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML decodes a mapping, keeping key order.
func (g *Globals) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: global must be a mapping (line %d)", ErrInvalidGlobal, node.Line)
	}
	out := Globals{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		code := node.Content[i].Value
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("%w: empty code (line %d)", ErrInvalidGlobal, node.Content[i].Line)
		}
		var formula string
		if err := node.Content[i+1].Decode(&formula); err != nil {
			return fmt.Errorf("%w: formula for %q must be a string (line %d)", ErrInvalidGlobal, code, node.Content[i+1].Line)
		}
		out.Set(code, formula)
	}
	*g = out
	return nil
}

// MarshalYAML writes a mapping with the entries in order.
func (g Globals) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, e := range g {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Code},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: e.Formula},
		)
	}
	return node, nil
}

// ParseGlobal decodes a global override document: one JSON object mapping
// rule codes to formulas, read in document order. Numeric formulas are
// accepted and kept as text.
func ParseGlobal(data []byte) (Globals, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGlobal, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalidGlobal)
	}

	out := Globals{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGlobal, err)
		}
		code, _ := tok.(string)
		if strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("%w: empty code", ErrInvalidGlobal)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGlobal, err)
		}
		switch f := v.(type) {
		case string:
			out.Set(code, f)
		case json.Number:
			out.Set(code, f.String())
		default:
			return nil, fmt.Errorf("%w: formula for %q must be a string, got %T", ErrInvalidGlobal, code, v)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGlobal, err)
	}
	return out, nil
}

// MergeGlobal appends global formulas to rules as lower-priority rules.
//
// Description:
//
//	Codes already defined in rules are skipped. New codes are appended in
//	the order of global, which is the document order of the override
//	object; that order is the registration tie-break between them. Each
//	new rule gets the section chosen by SectionFor.
//
// Inputs:
//
//	rules - Regular rules, already flattened. Not modified.
//	global - Code to formula entries, see ParseGlobal.
//	sections - Sections in order; inactive ones are ignored.
//
// Outputs:
//
//	MergeResult - Merged rules plus the added and skipped codes.
func MergeGlobal(rules []calc.FormulaRule, global Globals, sections []Section) MergeResult {
	defined := make(map[string]bool, len(rules))
	for _, r := range rules {
		defined[r.Code] = true
	}

	merged := make([]calc.FormulaRule, len(rules), len(rules)+len(global))
	copy(merged, rules)
	var res MergeResult
	for _, e := range global {
		if defined[e.Code] {
			res.Skipped = append(res.Skipped, e.Code)
			continue
		}
		merged = append(merged, calc.FormulaRule{
			Code:     e.Code,
			Name:     e.Code,
			Formula:  e.Formula,
			Section:  SectionFor(e.Code, sections),
			Metadata: map[string]string{MetadataSource: SourceGlobal},
		})
		res.Added = append(res.Added, e.Code)
	}
	res.Rules = merged
	return res
}

// SectionFor picks the section for a global rule code.
//
// The first active section, in the given order, with a keyword contained
// in the lowercased code wins, so "anchorbolt_qty" matches "anchor". Without
// a match the first active section is used; with no active section the
// result is "".
func SectionFor(code string, sections []Section) string {
	lower := strings.ToLower(code)
	first := ""
	for _, s := range sections {
		if !s.IsActive() {
			continue
		}
		if first == "" {
			first = s.Code
		}
		for _, kw := range keywordsFor(s) {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(lower, kw) {
				return s.Code
			}
		}
	}
	return first
}

func keywordsFor(s Section) []string {
	if len(s.Keywords) > 0 {
		return s.Keywords
	}
	return DefaultKeywords[strings.ToLower(s.Code)]
}
