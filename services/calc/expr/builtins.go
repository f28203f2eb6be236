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
	"math"
	"sort"
	"strconv"
	"strings"
)

type nativeFunc func(ev *evaluator, pos int, args []Value, kwargs map[string]Value) (Value, error)

type builtin struct {
	name string
	fn   nativeFunc
}

type module struct {
	name  string
	attrs map[string]Value
}

func fnValue(name string, fn nativeFunc) Value {
	return Value{kind: KindFunc, fn: &builtin{name: name, fn: fn}}
}

// FunctionNames lists the callables formulas may reference by bare name.
// Dependency extraction skips these when scanning for rule codes.
var FunctionNames = []string{"GET", "CALC", "INT", "CEIL", "FLOOR", "ABS", "MIN", "MAX", "SUM"}

// namespace is the complete set of names a formula can resolve. Nothing
// outside this map is reachable from formula text.
var namespace map[string]Value

func init() {
	namespace = map[string]Value{
		"GET":   fnValue("GET", builtinGet),
		"CALC":  fnValue("CALC", builtinCalc),
		"INT":   fnValue("INT", builtinInt),
		"CEIL":  fnValue("CEIL", roundingFunc("CEIL", math.Ceil)),
		"FLOOR": fnValue("FLOOR", roundingFunc("FLOOR", math.Floor)),
		"ABS":   fnValue("ABS", builtinAbs),
		"MIN":   fnValue("MIN", extremumFunc("MIN", true)),
		"MAX":   fnValue("MAX", extremumFunc("MAX", false)),
		"SUM":   fnValue("SUM", builtinSum),
		"math":  {kind: KindModule, mod: mathModule()},
	}
}

// IsBuiltin reports whether name resolves in the formula namespace.
func IsBuiltin(name string) bool {
	_, ok := namespace[name]
	return ok
}

// bind matches positional and keyword arguments to params. Parameters after
// the first `required` are optional and left as None when absent.
func bind(name string, pos int, params []string, required int, args []Value, kwargs map[string]Value) ([]Value, error) {
	if len(args) > len(params) {
		return nil, newError(TypeError, pos, "%s() takes at most %d arguments (%d given)", name, len(params), len(args))
	}
	out := make([]Value, len(params))
	set := make([]bool, len(params))
	for i, a := range args {
		out[i] = a
		set[i] = true
	}
	for k, v := range kwargs {
		idx := -1
		for i, p := range params {
			if p == k {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, newError(TypeError, pos, "%s() got an unexpected keyword argument '%s'", name, k)
		}
		if set[idx] {
			return nil, newError(TypeError, pos, "%s() got multiple values for argument '%s'", name, k)
		}
		out[idx] = v
		set[idx] = true
	}
	for i := 0; i < required; i++ {
		if !set[i] {
			return nil, newError(TypeError, pos, "%s() missing required argument: '%s'", name, params[i])
		}
	}
	return out, nil
}

func noKwargs(name string, pos int, kwargs map[string]Value) error {
	for k := range kwargs {
		return newError(TypeError, pos, "%s() got an unexpected keyword argument '%s'", name, k)
	}
	return nil
}

// lookupWithDefault returns the default when key is absent or not a string.
func lookupWithDefault(name string, pos int, args []Value, kwargs map[string]Value, find func(string) (Value, bool)) (Value, error) {
	bound, err := bind(name, pos, []string{"key", "default"}, 1, args, kwargs)
	if err != nil {
		return None, err
	}
	def := Int(0)
	if len(args) > 1 || hasKey(kwargs, "default") {
		def = bound[1]
	}
	key, ok := bound[0].Text()
	if !ok {
		return def, nil
	}
	if v, found := find(key); found {
		return v, nil
	}
	return def, nil
}

func hasKey(m map[string]Value, k string) bool {
	_, ok := m[k]
	return ok
}

func builtinGet(ev *evaluator, pos int, args []Value, kwargs map[string]Value) (Value, error) {
	return lookupWithDefault("GET", pos, args, kwargs, func(key string) (Value, bool) {
		v, ok := ev.inputs[key]
		return v, ok
	})
}

func builtinCalc(ev *evaluator, pos int, args []Value, kwargs map[string]Value) (Value, error) {
	return lookupWithDefault("CALC", pos, args, kwargs, func(key string) (Value, bool) {
		f, ok := ev.computed[key]
		return Float(f), ok
	})
}

// builtinInt truncates toward zero and never fails on bad data: None,
// unparsable strings and non-finite numbers all yield 0.
func builtinInt(_ *evaluator, pos int, args []Value, kwargs map[string]Value) (Value, error) {
	bound, err := bind("INT", pos, []string{"x"}, 1, args, kwargs)
	if err != nil {
		return None, err
	}
	x := bound[0]
	var f float64
	switch x.kind {
	case KindInt:
		return x, nil
	case KindBool, KindFloat:
		f, _ = x.Number()
	case KindString:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x.s), 64)
		if err != nil {
			return Int(0), nil
		}
		f = parsed
	default:
		return Int(0), nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Int(0), nil
	}
	return integral(math.Trunc(f)), nil
}

// integral converts an already-integral float to Int when it fits.
func integral(f float64) Value {
	if f >= -9.2e18 && f <= 9.2e18 {
		return Int(int64(f))
	}
	return Float(f)
}

func requireNumber(name string, pos int, v Value) (float64, error) {
	f, ok := v.Number()
	if !ok {
		return 0, newError(TypeError, pos, "%s() argument must be a real number, not '%s'", name, v.kind)
	}
	return f, nil
}

func roundingFunc(name string, round func(float64) float64) nativeFunc {
	return func(_ *evaluator, pos int, args []Value, kwargs map[string]Value) (Value, error) {
		bound, err := bind(name, pos, []string{"x"}, 1, args, kwargs)
		if err != nil {
			return None, err
		}
		if bound[0].kind == KindInt {
			return bound[0], nil
		}
		f, err := requireNumber(name, pos, bound[0])
		if err != nil {
			return None, err
		}
		if math.IsInf(f, 0) {
			return None, newError(ValueError, pos, "cannot convert float infinity to integer")
		}
		if math.IsNaN(f) {
			return None, newError(ValueError, pos, "cannot convert float NaN to integer")
		}
		return integral(round(f)), nil
	}
}

func builtinAbs(_ *evaluator, pos int, args []Value, kwargs map[string]Value) (Value, error) {
	bound, err := bind("ABS", pos, []string{"x"}, 1, args, kwargs)
	if err != nil {
		return None, err
	}
	x := bound[0]
	switch x.kind {
	case KindBool:
		if x.b {
			return Int(1), nil
		}
		return Int(0), nil
	case KindInt:
		if x.i == math.MinInt64 {
			return Float(-float64(x.i)), nil
		}
		if x.i < 0 {
			return Int(-x.i), nil
		}
		return x, nil
	case KindFloat:
		return Float(math.Abs(x.f)), nil
	}
	return None, newError(TypeError, pos, "bad operand type for ABS(): '%s'", x.kind)
}

// spread returns the items of a single list argument, or the arguments
// themselves.
func spread(args []Value) []Value {
	if len(args) == 1 && args[0].kind == KindList {
		return args[0].list
	}
	return args
}

func extremumFunc(name string, wantMin bool) nativeFunc {
	return func(_ *evaluator, pos int, args []Value, kwargs map[string]Value) (Value, error) {
		def, hasDefault := kwargs["default"]
		for k := range kwargs {
			if k != "default" {
				return None, newError(TypeError, pos, "%s() got an unexpected keyword argument '%s'", name, k)
			}
		}
		if len(args) == 0 {
			return None, newError(TypeError, pos, "%s expected at least 1 argument, got 0", name)
		}
		if len(args) == 1 && args[0].kind != KindList {
			return None, newError(TypeError, pos, "'%s' object is not iterable", args[0].kind)
		}
		items := spread(args)
		if len(items) == 0 {
			if hasDefault {
				return def, nil
			}
			return None, newError(ValueError, pos, "%s() arg is an empty sequence", name)
		}
		best := items[0]
		for _, item := range items[1:] {
			less, err := lessThan(pos, item, best)
			if err != nil {
				return None, err
			}
			if !wantMin {
				less, err = lessThan(pos, best, item)
				if err != nil {
					return None, err
				}
			}
			if less {
				best = item
			}
		}
		return best, nil
	}
}

func builtinSum(_ *evaluator, pos int, args []Value, kwargs map[string]Value) (Value, error) {
	start, hasStart := kwargs["start"]
	for k := range kwargs {
		if k != "start" {
			return None, newError(TypeError, pos, "SUM() got an unexpected keyword argument '%s'", k)
		}
	}
	if !hasStart {
		start = Int(0)
	}
	if len(args) == 1 && args[0].kind != KindList {
		return None, newError(TypeError, pos, "'%s' object is not iterable", args[0].kind)
	}
	acc := start
	for _, item := range spread(args) {
		if item.kind == KindString {
			return None, newError(TypeError, pos, "unsupported operand type(s) for +: '%s' and 'str'", acc.kind)
		}
		next, err := arith(pos, "+", acc, item)
		if err != nil {
			return None, err
		}
		acc = next
	}
	return acc, nil
}

func mathUnary(name string, fn func(float64) (float64, error)) Value {
	return fnValue(name, func(_ *evaluator, pos int, args []Value, kwargs map[string]Value) (Value, error) {
		bound, err := bind(name, pos, []string{"x"}, 1, args, kwargs)
		if err != nil {
			return None, err
		}
		f, err := requireNumber(name, pos, bound[0])
		if err != nil {
			return None, err
		}
		out, err := fn(f)
		if err != nil {
			if e, ok := err.(*Error); ok {
				e.Pos = pos
			}
			return None, err
		}
		return Float(out), nil
	})
}

func errDomain() error { return newError(ValueError, -1, "math domain error") }

func errRange() error { return newError(ValueError, -1, "math range error") }

func plain(fn func(float64) float64) func(float64) (float64, error) {
	return func(x float64) (float64, error) { return fn(x), nil }
}

func mathModule() *module {
	attrs := map[string]Value{
		"pi":  Float(math.Pi),
		"e":   Float(math.E),
		"tau": Float(2 * math.Pi),
		"inf": Float(math.Inf(1)),
		"nan": Float(math.NaN()),

		"ceil":  fnValue("ceil", roundingFunc("ceil", math.Ceil)),
		"floor": fnValue("floor", roundingFunc("floor", math.Floor)),
		"trunc": fnValue("trunc", roundingFunc("trunc", math.Trunc)),

		"fabs":    mathUnary("fabs", plain(math.Abs)),
		"sin":     mathUnary("sin", plain(math.Sin)),
		"cos":     mathUnary("cos", plain(math.Cos)),
		"tan":     mathUnary("tan", plain(math.Tan)),
		"atan":    mathUnary("atan", plain(math.Atan)),
		"radians": mathUnary("radians", func(x float64) (float64, error) { return x * math.Pi / 180, nil }),
		"degrees": mathUnary("degrees", func(x float64) (float64, error) { return x * 180 / math.Pi, nil }),
		"sqrt": mathUnary("sqrt", func(x float64) (float64, error) {
			if x < 0 {
				return 0, errDomain()
			}
			return math.Sqrt(x), nil
		}),
		"exp": mathUnary("exp", func(x float64) (float64, error) {
			out := math.Exp(x)
			if math.IsInf(out, 0) && !math.IsInf(x, 0) {
				return 0, errRange()
			}
			return out, nil
		}),
		"log10": mathUnary("log10", func(x float64) (float64, error) {
			if x <= 0 {
				return 0, errDomain()
			}
			return math.Log10(x), nil
		}),
		"asin": mathUnary("asin", func(x float64) (float64, error) {
			if x < -1 || x > 1 {
				return 0, errDomain()
			}
			return math.Asin(x), nil
		}),
		"acos": mathUnary("acos", func(x float64) (float64, error) {
			if x < -1 || x > 1 {
				return 0, errDomain()
			}
			return math.Acos(x), nil
		}),
		"log":   fnValue("log", mathLog),
		"pow":   fnValue("pow", mathPow),
		"atan2": fnValue("atan2", mathAtan2),
		"hypot": fnValue("hypot", mathHypot),
	}
	return &module{name: "math", attrs: attrs}
}

// mathAttrNames returns the math namespace members, sorted.
func mathAttrNames() []string {
	m := namespace["math"].mod
	names := make([]string, 0, len(m.attrs))
	for k := range m.attrs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func twoNumbers(name string, pos int, params []string, args []Value, kwargs map[string]Value) (float64, float64, error) {
	bound, err := bind(name, pos, params, 2, args, kwargs)
	if err != nil {
		return 0, 0, err
	}
	a, err := requireNumber(name, pos, bound[0])
	if err != nil {
		return 0, 0, err
	}
	b, err := requireNumber(name, pos, bound[1])
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func mathLog(_ *evaluator, pos int, args []Value, kwargs map[string]Value) (Value, error) {
	bound, err := bind("log", pos, []string{"x", "base"}, 1, args, kwargs)
	if err != nil {
		return None, err
	}
	x, err := requireNumber("log", pos, bound[0])
	if err != nil {
		return None, err
	}
	if x <= 0 {
		return None, newError(ValueError, pos, "math domain error")
	}
	if bound[1].IsNone() {
		return Float(math.Log(x)), nil
	}
	base, err := requireNumber("log", pos, bound[1])
	if err != nil {
		return None, err
	}
	if base <= 0 {
		return None, newError(ValueError, pos, "math domain error")
	}
	if base == 1 {
		return None, newError(ZeroDivisionError, pos, "float division by zero")
	}
	return Float(math.Log(x) / math.Log(base)), nil
}

func mathPow(_ *evaluator, pos int, args []Value, kwargs map[string]Value) (Value, error) {
	x, y, err := twoNumbers("pow", pos, []string{"x", "y"}, args, kwargs)
	if err != nil {
		return None, err
	}
	if x == 0 && y < 0 {
		return None, newError(ValueError, pos, "math domain error")
	}
	if x < 0 && y != math.Trunc(y) {
		return None, newError(ValueError, pos, "math domain error")
	}
	return Float(math.Pow(x, y)), nil
}

func mathAtan2(_ *evaluator, pos int, args []Value, kwargs map[string]Value) (Value, error) {
	y, x, err := twoNumbers("atan2", pos, []string{"y", "x"}, args, kwargs)
	if err != nil {
		return None, err
	}
	return Float(math.Atan2(y, x)), nil
}

func mathHypot(_ *evaluator, pos int, args []Value, kwargs map[string]Value) (Value, error) {
	if err := noKwargs("hypot", pos, kwargs); err != nil {
		return None, err
	}
	sum := 0.0
	for _, a := range args {
		f, err := requireNumber("hypot", pos, a)
		if err != nil {
			return None, err
		}
		sum += f * f
	}
	return Float(math.Sqrt(sum)), nil
}
