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
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindNone Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindFunc
	KindModule
)

// String returns the formula-language type name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "NoneType"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "str"
	case KindList:
		return "list"
	case KindFunc:
		return "builtin_function_or_method"
	case KindModule:
		return "module"
	default:
		return "unknown"
	}
}

// Value is a tagged scalar (or list) flowing through the evaluator.
//
// Inputs supplied by the host are Values too, so a parameter map can carry
// floats, ints, bools and strings side by side without reflection.
// The zero Value is None.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	list []Value
	fn   *builtin
	mod  *module
}

// None is the formula-language None.
var None = Value{kind: KindNone}

func Bool(b bool) Value      { return Value{kind: KindBool, b: b} }
func Int(i int64) Value      { return Value{kind: KindInt, i: i} }
func Float(f float64) Value  { return Value{kind: KindFloat, f: f} }
func String(s string) Value  { return Value{kind: KindString, s: s} }
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNone reports whether v is None.
func (v Value) IsNone() bool { return v.kind == KindNone }

// IsNumeric reports whether v takes part in arithmetic (bool, int, float).
func (v Value) IsNumeric() bool {
	return v.kind == KindBool || v.kind == KindInt || v.kind == KindFloat
}

// Number returns v as float64 when v is numeric.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Text returns the string payload and whether v is a string.
func (v Value) Text() (string, bool) {
	return v.s, v.kind == KindString
}

// Items returns the list payload and whether v is a list.
func (v Value) Items() ([]Value, bool) {
	return v.list, v.kind == KindList
}

// Truthy follows the formula language truth rules.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNone:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.s != ""
	case KindList:
		return len(v.list) > 0
	default:
		return true
	}
}

// String renders v the way the formula language prints it.
func (v Value) String() string {
	switch v.kind {
	case KindNone:
		return "None"
	case KindBool:
		if v.b {
			return "True"
		}
		return "False"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return FormatFloat(v.f)
	case KindString:
		return "'" + strings.ReplaceAll(v.s, "'", `\'`) + "'"
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case KindFunc:
		return "<built-in function " + v.fn.name + ">"
	case KindModule:
		return "<module '" + v.mod.name + "'>"
	default:
		return "<unknown>"
	}
}

// Interface returns v as a plain Go value (nil, bool, int64, float64, string, []any).
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// FromAny converts a decoded JSON/YAML scalar into a Value.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return None, nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Float(float64(t)), nil
		}
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return None, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Float(f), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			iv, err := FromAny(item)
			if err != nil {
				return None, err
			}
			items = append(items, iv)
		}
		return List(items...), nil
	default:
		return None, fmt.Errorf("unsupported input type %T", x)
	}
}

// MarshalJSON encodes v as its plain JSON counterpart.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindFloat && (math.IsInf(v.f, 0) || math.IsNaN(v.f)) {
		return json.Marshal(FormatFloat(v.f))
	}
	return json.Marshal(v.Interface())
}

// UnmarshalJSON decodes a JSON scalar, keeping integers as ints.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// UnmarshalYAML decodes a YAML scalar or sequence.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// MarshalYAML encodes v as its plain YAML counterpart.
func (v Value) MarshalYAML() (any, error) {
	return v.Interface(), nil
}

// FormatFloat renders f the way the formula language prints floats:
// shortest round-trip digits, always with a decimal point or exponent
// ("6.0", "0.25", "1e+16", "1e-05").
func FormatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}

	sci := strconv.FormatFloat(f, 'e', -1, 64)
	idx := strings.IndexByte(sci, 'e')
	exp, _ := strconv.Atoi(sci[idx+1:])
	if exp < -4 || exp >= 16 {
		return sci
	}

	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}
