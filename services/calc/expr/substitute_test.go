// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubstitute(t *testing.T) {
	computed := map[string]float64{
		"A":   1,
		"B":   6,
		"NEG": -3,
		"BIG": 1e20,
		"Q":   0.25,
	}

	testCases := []struct {
		name    string
		formula string
		want    string
	}{
		{"bare codes", "A + B", "1.0 + 6.0"},
		{"fractional", "Q * 4", "0.25 * 4"},
		{"exponent form", "BIG * 2", "1e+20 * 2"},
		{"negative parenthesised", "NEG ** 2", "(-3.0) ** 2"},
		{"string literal untouched", "CALC('B') + B", "CALC('B') + 6.0"},
		{"double quoted untouched", `GET("A", A)`, `GET("A", 1.0)`},
		{"call untouched", "B(1) + B", "B(1) + 6.0"},
		{"attribute untouched", "math.B + B", "math.B + 6.0"},
		{"word boundaries", "AB + B_1 + B", "AB + B_1 + 6.0"},
		{"numeric literal untouched", "1e5 + B", "1e5 + 6.0"},
		{"no match", "GET('x') * 2", "GET('x') * 2"},
		{"unterminated string", "B + 'B", "6.0 + 'B"},
		{"escaped quote", `'it\'s B' + B`, `'it\'s B' + 6.0`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Substitute(tc.formula, computed))
		})
	}
}

func TestSubstitute_EmptyInputs(t *testing.T) {
	assert.Equal(t, "A + 1", Substitute("A + 1", nil))
	assert.Equal(t, "", Substitute("", map[string]float64{"A": 1}))
}

func TestSubstitute_SpaceBeforeParenStillSubstitutes(t *testing.T) {
	// Only a directly adjacent "(" marks a call.
	assert.Equal(t, "6.0 (1)", Substitute("B (1)", map[string]float64{"B": 6}))
}
