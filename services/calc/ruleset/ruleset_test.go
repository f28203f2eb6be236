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
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/greenframe/services/calc"
)

const ruleSetYAML = `
sections:
  - code: truss
    name: Trusses
    sequence: 20
    rules:
      - code: RAFTER
        formula: CALC('TRUSS_QTY') * 2
        sequence: 2
      - code: TRUSS_QTY
        formula: GET('no_of_spans') + 1
        length_formula: GET('span_width')
        sequence: 1
      - code: OLD_TRUSS
        formula: "1"
        active: false
  - code: frame
    name: Frame
    sequence: 10
    rules:
      - code: COLUMN_QTY
        formula: (GET('no_of_spans') + 1) * (GET('no_of_bays') + 1)
  - code: clamp
    sequence: 30
    keywords: [fastener]
    rules: []
  - code: legacy
    sequence: 5
    active: false
    rules:
      - code: LEGACY
        formula: "2"
global:
  COLUMN_QTY: "0"
  FASTENER_SET: CALC('COLUMN_QTY') * 4
  PURLIN_COUNT: "7"
`

func codes(rules []calc.FormulaRule) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = r.Code
	}
	return out
}

func TestParse_Flatten(t *testing.T) {
	rs, err := Parse([]byte(ruleSetYAML))
	require.NoError(t, err)

	rules := rs.Flatten()
	assert.Equal(t, []string{"COLUMN_QTY", "TRUSS_QTY", "RAFTER"}, codes(rules))
	assert.Equal(t, "frame", rules[0].Section)
	assert.Equal(t, "truss", rules[1].Section)
	assert.Equal(t, "GET('span_width')", rules[1].LengthFormula)
	assert.Equal(t, 1, rules[1].Sequence)
}

func TestParse_InlineGlobal(t *testing.T) {
	rs, err := Parse([]byte(ruleSetYAML))
	require.NoError(t, err)
	assert.Empty(t, rs.Global.Path)
	assert.Len(t, rs.Global.Inline, 3)

	rs, err = Parse([]byte("sections: []\nglobal: overrides.json\n"))
	require.NoError(t, err)
	assert.Equal(t, "overrides.json", rs.Global.Path)
	assert.False(t, rs.Global.IsZero())
}

func TestParse_JSONDocument(t *testing.T) {
	rs, err := Parse([]byte(`{"sections": [{"code": "frame", "rules": [{"code": "A", "formula": "1"}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, codes(rs.Flatten()))
	assert.True(t, rs.Global.IsZero())
}

func TestParse_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
	}{
		{"missing formula", "sections: [{code: s, rules: [{code: A}]}]"},
		{"missing rule code", "sections: [{code: s, rules: [{formula: '1'}]}]"},
		{"missing section code", "sections: [{rules: []}]"},
		{"duplicate code", "sections: [{code: s, rules: [{code: A, formula: '1'}]}, {code: t, rules: [{code: A, formula: '2'}]}]"},
		{"duplicate section", "sections: [{code: s, rules: []}, {code: s, rules: []}]"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidRuleSet), "got %v", err)
		})
	}

	_, err := Parse([]byte("global: [1, 2]"))
	assert.True(t, errors.Is(err, ErrInvalidGlobal), "got %v", err)
}

func TestSectionFor(t *testing.T) {
	rs, err := Parse([]byte(ruleSetYAML))
	require.NoError(t, err)
	sections := rs.OrderedSections()

	testCases := []struct {
		code string
		want string
	}{
		{"EXTRA_COLUMN_QTY", "frame"},
		{"anchor-bolt", "frame"}, // frame precedes clamp
		{"ARCH_PIPE", "truss"},
		{"FASTENER_SET", "clamp"}, // declared keywords replace the defaults
		{"CLAMP_SET", "frame"},    // clamp's own keywords do not include "clamp"
		{"GUTTER_LEN", "frame"},   // no purlin section, first active section
		{"COLUMNS_QTY", "frame"},
		{"ANCHORBOLT_QTY", "frame"},
		{"TRUSSES", "truss"},
		{"SUPPORT_RAFTERS", "truss"},
	}
	for _, tc := range testCases {
		t.Run(tc.code, func(t *testing.T) {
			assert.Equal(t, tc.want, SectionFor(tc.code, sections))
		})
	}

	assert.Empty(t, SectionFor("ANY", nil))
}

func TestMergeGlobal(t *testing.T) {
	rs, err := Parse([]byte(ruleSetYAML))
	require.NoError(t, err)
	rules := rs.Flatten()
	before := append([]calc.FormulaRule(nil), rules...)

	res := MergeGlobal(rules, rs.Global.Inline, rs.OrderedSections())

	assert.Equal(t, []string{"COLUMN_QTY", "TRUSS_QTY", "RAFTER", "FASTENER_SET", "PURLIN_COUNT"}, codes(res.Rules))
	assert.Equal(t, []string{"FASTENER_SET", "PURLIN_COUNT"}, res.Added)
	assert.Equal(t, []string{"COLUMN_QTY"}, res.Skipped)
	assert.Equal(t, before, rules, "input slice must not change")

	// The regular COLUMN_QTY formula wins over the global one.
	assert.NotEqual(t, "0", res.Rules[0].Formula)

	fastener := res.Rules[3]
	assert.Equal(t, "clamp", fastener.Section)
	assert.Equal(t, SourceGlobal, fastener.Metadata[MetadataSource])
	assert.Equal(t, "frame", res.Rules[4].Section)
}

func TestParseGlobal(t *testing.T) {
	global, err := ParseGlobal([]byte(`{"B": 3.5, "A": "GET('x') * 2", "C": "1", "B": "4"}`))
	require.NoError(t, err)
	assert.Equal(t, Globals{
		{Code: "B", Formula: "4"},
		{Code: "A", Formula: "GET('x') * 2"},
		{Code: "C", Formula: "1"},
	}, global)

	for _, doc := range []string{`[1]`, `null`, `{"A": true}`, `{"": "1"}`, `{`, `{"A": "1"`} {
		_, err := ParseGlobal([]byte(doc))
		assert.ErrorIs(t, err, ErrInvalidGlobal, doc)
	}
}

func TestMergeGlobal_KeepsDocumentOrder(t *testing.T) {
	global, err := ParseGlobal([]byte(`{"ZETA_QTY": "1", "ALPHA_QTY": "2", "MID_QTY": "3"}`))
	require.NoError(t, err)

	res := MergeGlobal(nil, global, nil)
	assert.Equal(t, []string{"ZETA_QTY", "ALPHA_QTY", "MID_QTY"}, res.Added)
	assert.Equal(t, []string{"ZETA_QTY", "ALPHA_QTY", "MID_QTY"}, codes(res.Rules))

	e := calc.NewEngine(calc.Inputs{}, calc.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	for _, r := range res.Rules {
		require.NoError(t, e.AddFormula(r))
	}
	order, err := e.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"ZETA_QTY", "ALPHA_QTY", "MID_QTY"}, order)
}

func TestGlobals_Encoding(t *testing.T) {
	rs, err := Parse([]byte(`
sections: []
global:
  ZETA: "1"
  ALPHA: 2
`))
	require.NoError(t, err)
	assert.Equal(t, Globals{{Code: "ZETA", Formula: "1"}, {Code: "ALPHA", Formula: "2"}}, rs.Global.Inline)

	data, err := json.Marshal(rs.Global)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ZETA": "1", "ALPHA": "2"}`, string(data))
	assert.Less(t, strings.Index(string(data), "ZETA"), strings.Index(string(data), "ALPHA"))

	var back Global
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, rs.Global.Inline, back.Inline)

	out, err := yaml.Marshal(rs.Global)
	require.NoError(t, err)
	assert.Less(t, strings.Index(string(out), "ZETA"), strings.Index(string(out), "ALPHA"))

	var g Globals
	require.NoError(t, json.Unmarshal([]byte(`null`), &g))
	assert.Nil(t, g)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	rulesPath := filepath.Join(dir, "rules.yaml")
	doc := `
sections:
  - code: frame
    rules:
      - code: COLUMN_QTY
        formula: "4"
  - code: truss
    sequence: 1
    rules:
      - code: TRUSS_QTY
        formula: "3"
global: global.json
`
	require.NoError(t, os.WriteFile(rulesPath, []byte(doc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "global.json"), []byte(`{"RAFTER_QTY": "TRUSS_QTY * 2"}`), 0o644))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	src := &FileSource{Path: rulesPath, Logger: logger}
	rules, err := src.LoadRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"COLUMN_QTY", "TRUSS_QTY", "RAFTER_QTY"}, codes(rules))
	assert.Equal(t, "truss", rules[2].Section)

	override := filepath.Join(dir, "other.json")
	require.NoError(t, os.WriteFile(override, []byte(`{"ANCHOR_QTY": "8"}`), 0o644))
	src.GlobalPath = override
	rules, err = src.LoadRules(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"COLUMN_QTY", "TRUSS_QTY", "ANCHOR_QTY"}, codes(rules))
	assert.Equal(t, "frame", rules[2].Section)

	src.GlobalPath = filepath.Join(dir, "missing.json")
	_, err = src.LoadRules(context.Background())
	assert.Error(t, err)
}

func TestSetSource(t *testing.T) {
	rs, err := Parse([]byte(ruleSetYAML))
	require.NoError(t, err)

	rules, err := (&SetSource{Set: rs}).LoadRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 5)

	rules, err = (&SetSource{Set: rs, Global: Globals{}}).LoadRules(context.Background())
	require.NoError(t, err)
	assert.Len(t, rules, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = (&SetSource{Set: rs}).LoadRules(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolve_FeedsEngine(t *testing.T) {
	rs, err := Parse([]byte(ruleSetYAML))
	require.NoError(t, err)

	e := calc.NewEngine(calc.Inputs{}, calc.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	for _, r := range Resolve(rs, rs.Global.Inline, nil) {
		require.NoError(t, e.AddFormula(r))
	}
	order, err := e.Order()
	require.NoError(t, err)
	assert.Equal(t, []string{"COLUMN_QTY", "TRUSS_QTY", "PURLIN_COUNT", "FASTENER_SET", "RAFTER"}, order)
}
