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
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/greenframe/services/calc/expr"
)

// Inputs is the flat parameter map GET() reads.
type Inputs map[string]expr.Value

// Clone returns a shallow copy of in.
func (in Inputs) Clone() Inputs {
	out := make(Inputs, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ruleValidate is the validator instance for rule definitions.
var ruleValidate *validator.Validate

func init() {
	ruleValidate = validator.New()
	_ = ruleValidate.RegisterValidation("formula", validateFormulaSize)
	_ = ruleValidate.RegisterValidation("rulecode", validateRuleCode)
}

// validateRuleCode rejects codes containing whitespace or quotes.
func validateRuleCode(fl validator.FieldLevel) bool {
	return !strings.ContainsAny(fl.Field().String(), " \t\r\n'\"")
}

// validateFormulaSize rejects formula text the evaluator would refuse to parse.
func validateFormulaSize(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= expr.MaxFormulaLength
}

// FormulaRule is a named calculation.
//
// # Description
//
// Formula computes the rule's value (a component quantity). LengthFormula
// optionally computes a unit length and is only evaluated when Formula
// succeeded. Section and Sequence are carried through to results; neither
// affects evaluation order except that registration order breaks ties.
//
// # Validation
//
//   - Code: required, at most 128 bytes, no whitespace or quotes.
//   - Formula: required (may be "0"), at most expr.MaxFormulaLength bytes.
//   - LengthFormula: optional, defaults to "0".
//
// Formula content is not checked at registration; a malformed formula
// surfaces as an evaluation error on its Result.
type FormulaRule struct {
	Code          string            `json:"code" yaml:"code" validate:"required,max=128,rulecode"`
	Name          string            `json:"name,omitempty" yaml:"name"`
	Formula       string            `json:"formula" yaml:"formula" validate:"required,formula"`
	LengthFormula string            `json:"length_formula,omitempty" yaml:"length_formula" validate:"formula"`
	Section       string            `json:"section,omitempty" yaml:"section"`
	Sequence      int               `json:"sequence,omitempty" yaml:"sequence"`
	Metadata      map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Validate checks the structural constraints of r.
func (r *FormulaRule) Validate() error {
	return ruleValidate.Struct(r)
}

// Result is one rule's outcome within a run.
//
// Error holds the evaluator's literal error text for the primary formula;
// when set, Value and Length are 0. LengthError holds the text of a failed
// length formula; the primary Value is kept in that case.
type Result struct {
	Code          string  `json:"code" yaml:"code"`
	Name          string  `json:"name" yaml:"name"`
	Value         float64 `json:"value" yaml:"value"`
	Length        float64 `json:"length" yaml:"length"`
	Section       string  `json:"section,omitempty" yaml:"section,omitempty"`
	Error         string  `json:"error,omitempty" yaml:"error,omitempty"`
	LengthError   string  `json:"length_error,omitempty" yaml:"length_error,omitempty"`
	Formula       string  `json:"formula" yaml:"formula"`
	LengthFormula string  `json:"length_formula,omitempty" yaml:"length_formula,omitempty"`
	Sequence      int     `json:"sequence,omitempty" yaml:"sequence,omitempty"`
}

// Failed reports whether the primary formula failed.
func (r Result) Failed() bool {
	return r.Error != ""
}

// ExtractMode selects how dependency edges are read from formula text.
type ExtractMode int

const (
	// ExtractCompat links explicit CALC('CODE') calls and bare words that
	// equal the code of a rule registered before the scanned one.
	ExtractCompat ExtractMode = iota

	// ExtractExplicitOnly links CALC('CODE') calls only.
	ExtractExplicitOnly

	// ExtractOrderIndependent is ExtractCompat plus bare words naming a
	// code registered later, linked when that code registers.
	ExtractOrderIndependent
)

// String returns the configuration name of the mode.
func (m ExtractMode) String() string {
	switch m {
	case ExtractCompat:
		return "compat"
	case ExtractExplicitOnly:
		return "explicit"
	case ExtractOrderIndependent:
		return "order-independent"
	default:
		return "unknown"
	}
}

// ParseExtractMode parses "compat", "explicit" or "order-independent".
// Empty means compat.
func ParseExtractMode(s string) (ExtractMode, error) {
	switch s {
	case "", "compat":
		return ExtractCompat, nil
	case "explicit", "explicit-only":
		return ExtractExplicitOnly, nil
	case "order-independent":
		return ExtractOrderIndependent, nil
	}
	return ExtractCompat, fmt.Errorf("unknown extract mode %q (want compat, explicit or order-independent)", s)
}

// Unresolved is a dependency that names neither a rule nor an input.
type Unresolved struct {
	// Rule is the code whose formula holds the reference.
	Rule string `json:"rule" yaml:"rule"`
	// Code is the missing dependency.
	Code string `json:"code" yaml:"code"`
}
