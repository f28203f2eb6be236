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
	"strings"
)

// maxSequenceLen caps string and list repetition results.
const maxSequenceLen = 1 << 20

type evaluator struct {
	inputs   map[string]Value
	computed map[string]float64
}

func (ev *evaluator) eval(n Node) (Value, error) {
	switch n := n.(type) {
	case *literal:
		return n.val, nil

	case *nameRef:
		if v, ok := namespace[n.name]; ok {
			return v, nil
		}
		return None, newError(NameError, n.pos, "name '%s' is not defined", n.name)

	case *listLit:
		items := make([]Value, len(n.items))
		for i, item := range n.items {
			v, err := ev.eval(item)
			if err != nil {
				return None, err
			}
			items[i] = v
		}
		return List(items...), nil

	case *unaryOp:
		v, err := ev.eval(n.operand)
		if err != nil {
			return None, err
		}
		return unary(n.pos, n.op, v)

	case *binaryOp:
		l, err := ev.eval(n.left)
		if err != nil {
			return None, err
		}
		r, err := ev.eval(n.right)
		if err != nil {
			return None, err
		}
		return arith(n.pos, n.op, l, r)

	case *boolOp:
		l, err := ev.eval(n.left)
		if err != nil {
			return None, err
		}
		if (n.op == "or") == l.Truthy() {
			return l, nil
		}
		return ev.eval(n.right)

	case *notOp:
		v, err := ev.eval(n.operand)
		if err != nil {
			return None, err
		}
		return Bool(!v.Truthy()), nil

	case *compare:
		left, err := ev.eval(n.first)
		if err != nil {
			return None, err
		}
		for i, op := range n.ops {
			right, err := ev.eval(n.operands[i])
			if err != nil {
				return None, err
			}
			ok, err := compareValues(n.operands[i].Pos(), op, left, right)
			if err != nil {
				return None, err
			}
			if !ok {
				return Bool(false), nil
			}
			left = right
		}
		return Bool(true), nil

	case *ternary:
		c, err := ev.eval(n.cond)
		if err != nil {
			return None, err
		}
		if c.Truthy() {
			return ev.eval(n.then)
		}
		return ev.eval(n.els)

	case *call:
		return ev.evalCall(n)

	case *attribute:
		obj, err := ev.eval(n.obj)
		if err != nil {
			return None, err
		}
		if obj.kind != KindModule {
			return None, newError(AttributeError, n.pos, "'%s' object has no attribute '%s'", obj.kind, n.name)
		}
		v, ok := obj.mod.attrs[n.name]
		if !ok {
			return None, newError(AttributeError, n.pos, "module '%s' has no attribute '%s'", obj.mod.name, n.name)
		}
		return v, nil

	case *index:
		obj, err := ev.eval(n.obj)
		if err != nil {
			return None, err
		}
		key, err := ev.eval(n.key)
		if err != nil {
			return None, err
		}
		return subscript(n.pos, obj, key)
	}
	return None, newError(SyntaxError, n.Pos(), "unsupported expression")
}

func (ev *evaluator) evalCall(n *call) (Value, error) {
	fn, err := ev.eval(n.fn)
	if err != nil {
		return None, err
	}
	if fn.kind != KindFunc {
		return None, newError(TypeError, n.pos, "'%s' object is not callable", fn.kind)
	}
	args := make([]Value, len(n.args))
	for i, a := range n.args {
		v, err := ev.eval(a)
		if err != nil {
			return None, err
		}
		args[i] = v
	}
	var kwargs map[string]Value
	if len(n.kwargs) > 0 {
		kwargs = make(map[string]Value, len(n.kwargs))
		for _, kw := range n.kwargs {
			v, err := ev.eval(kw.value)
			if err != nil {
				return None, err
			}
			kwargs[kw.name] = v
		}
	}
	return fn.fn.fn(ev, n.pos, args, kwargs)
}

func unary(pos int, op string, v Value) (Value, error) {
	switch v.kind {
	case KindBool, KindInt:
		i := v.i
		if v.kind == KindBool {
			i = 0
			if v.b {
				i = 1
			}
		}
		if op == "-" {
			if i == math.MinInt64 {
				return Float(-float64(i)), nil
			}
			return Int(-i), nil
		}
		return Int(i), nil
	case KindFloat:
		if op == "-" {
			return Float(-v.f), nil
		}
		return v, nil
	}
	return None, newError(TypeError, pos, "bad operand type for unary %s: '%s'", op, v.kind)
}

// asInt returns the integer payload of a bool or int.
func asInt(v Value) (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func unsupported(pos int, op string, l, r Value) error {
	return newError(TypeError, pos, "unsupported operand type(s) for %s: '%s' and '%s'", op, l.kind, r.kind)
}

// arith applies a binary arithmetic operator. Integer results that
// overflow int64 fall back to float.
func arith(pos int, op string, l, r Value) (Value, error) {
	if op == "+" {
		if l.kind == KindString && r.kind == KindString {
			return String(l.s + r.s), nil
		}
		if l.kind == KindList && r.kind == KindList {
			items := make([]Value, 0, len(l.list)+len(r.list))
			items = append(items, l.list...)
			return List(append(items, r.list...)...), nil
		}
	}
	if op == "*" {
		if v, ok, err := repeat(pos, l, r); ok {
			return v, err
		}
		if v, ok, err := repeat(pos, r, l); ok {
			return v, err
		}
	}
	if !l.IsNumeric() || !r.IsNumeric() {
		return None, unsupported(pos, op, l, r)
	}

	li, lInt := asInt(l)
	ri, rInt := asInt(r)
	if lInt && rInt {
		return intArith(pos, op, li, ri)
	}
	lf, _ := l.Number()
	rf, _ := r.Number()
	return floatArith(pos, op, lf, rf)
}

// repeat handles sequence * int.
func repeat(pos int, seq, n Value) (Value, bool, error) {
	if seq.kind != KindString && seq.kind != KindList {
		return None, false, nil
	}
	count, ok := asInt(n)
	if !ok {
		return None, true, newError(TypeError, pos, "can't multiply sequence by non-int of type '%s'", n.kind)
	}
	if count < 0 {
		count = 0
	}
	size := int64(len(seq.s))
	if seq.kind == KindList {
		size = int64(len(seq.list))
	}
	if size > 0 && count > maxSequenceLen/size {
		return None, true, newError(ValueError, pos, "repeated sequence too large")
	}
	if seq.kind == KindString {
		return String(strings.Repeat(seq.s, int(count))), true, nil
	}
	items := make([]Value, 0, int(size*count))
	for i := int64(0); i < count; i++ {
		items = append(items, seq.list...)
	}
	return List(items...), true, nil
}

func intArith(pos int, op string, a, b int64) (Value, error) {
	switch op {
	case "+":
		s := a + b
		if (s > a) != (b > 0) {
			return Float(float64(a) + float64(b)), nil
		}
		return Int(s), nil
	case "-":
		d := a - b
		if (d < a) != (b > 0) {
			return Float(float64(a) - float64(b)), nil
		}
		return Int(d), nil
	case "*":
		if a == 0 || b == 0 {
			return Int(0), nil
		}
		p := a * b
		if p/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return Float(float64(a) * float64(b)), nil
		}
		return Int(p), nil
	case "/":
		if b == 0 {
			return None, newError(ZeroDivisionError, pos, "division by zero")
		}
		return Float(float64(a) / float64(b)), nil
	case "//":
		if b == 0 {
			return None, newError(ZeroDivisionError, pos, "integer division or modulo by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return Float(-float64(a)), nil
		}
		q := a / b
		if (a%b != 0) && ((a < 0) != (b < 0)) {
			q--
		}
		return Int(q), nil
	case "%":
		if b == 0 {
			return None, newError(ZeroDivisionError, pos, "integer modulo by zero")
		}
		if b == -1 {
			return Int(0), nil
		}
		m := a % b
		if m != 0 && ((m < 0) != (b < 0)) {
			m += b
		}
		return Int(m), nil
	case "**":
		if b < 0 {
			if a == 0 {
				return None, newError(ZeroDivisionError, pos, "0.0 cannot be raised to a negative power")
			}
			return Float(math.Pow(float64(a), float64(b))), nil
		}
		return intPow(a, b), nil
	}
	return None, newError(SyntaxError, pos, "unknown operator %s", op)
}

// intPow computes a**b by squaring, falling back to float on overflow.
func intPow(a, b int64) Value {
	result := int64(1)
	base := a
	exp := b
	for exp > 0 {
		if exp&1 == 1 {
			next := result * base
			if base != 0 && next/base != result {
				return Float(math.Pow(float64(a), float64(b)))
			}
			result = next
		}
		exp >>= 1
		if exp > 0 {
			sq := base * base
			if base != 0 && sq/base != base {
				return Float(math.Pow(float64(a), float64(b)))
			}
			base = sq
		}
	}
	return Int(result)
}

func floatArith(pos int, op string, a, b float64) (Value, error) {
	switch op {
	case "+":
		return Float(a + b), nil
	case "-":
		return Float(a - b), nil
	case "*":
		return Float(a * b), nil
	case "/":
		if b == 0 {
			return None, newError(ZeroDivisionError, pos, "float division by zero")
		}
		return Float(a / b), nil
	case "//":
		if b == 0 {
			return None, newError(ZeroDivisionError, pos, "float floor division by zero")
		}
		return Float(math.Floor(a / b)), nil
	case "%":
		if b == 0 {
			return None, newError(ZeroDivisionError, pos, "float modulo")
		}
		m := math.Mod(a, b)
		if m != 0 && ((m < 0) != (b < 0)) {
			m += b
		}
		return Float(m), nil
	case "**":
		if a == 0 && b < 0 {
			return None, newError(ZeroDivisionError, pos, "0.0 cannot be raised to a negative power")
		}
		if a < 0 && b != math.Trunc(b) {
			return None, newError(ValueError, pos, "math domain error")
		}
		return Float(math.Pow(a, b)), nil
	}
	return None, newError(SyntaxError, pos, "unknown operator %s", op)
}

func equal(l, r Value) bool {
	if l.IsNumeric() && r.IsNumeric() {
		li, lInt := asInt(l)
		ri, rInt := asInt(r)
		if lInt && rInt {
			return li == ri
		}
		lf, _ := l.Number()
		rf, _ := r.Number()
		return lf == rf
	}
	if l.kind != r.kind {
		return false
	}
	switch l.kind {
	case KindNone:
		return true
	case KindString:
		return l.s == r.s
	case KindList:
		if len(l.list) != len(r.list) {
			return false
		}
		for i := range l.list {
			if !equal(l.list[i], r.list[i]) {
				return false
			}
		}
		return true
	case KindFunc:
		return l.fn == r.fn
	case KindModule:
		return l.mod == r.mod
	}
	return false
}

// lessThan orders numbers, strings and lists the way the formula language does.
func lessThan(pos int, l, r Value) (bool, error) {
	switch {
	case l.IsNumeric() && r.IsNumeric():
		li, lInt := asInt(l)
		ri, rInt := asInt(r)
		if lInt && rInt {
			return li < ri, nil
		}
		lf, _ := l.Number()
		rf, _ := r.Number()
		return lf < rf, nil
	case l.kind == KindString && r.kind == KindString:
		return l.s < r.s, nil
	case l.kind == KindList && r.kind == KindList:
		for i := 0; i < len(l.list) && i < len(r.list); i++ {
			if equal(l.list[i], r.list[i]) {
				continue
			}
			return lessThan(pos, l.list[i], r.list[i])
		}
		return len(l.list) < len(r.list), nil
	}
	return false, newError(TypeError, pos, "'<' not supported between instances of '%s' and '%s'", l.kind, r.kind)
}

func compareValues(pos int, op string, l, r Value) (bool, error) {
	switch op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	case "<":
		return lessThanOp(pos, op, l, r)
	case ">":
		return lessThanOp(pos, op, r, l)
	case "<=":
		gt, err := lessThanOp(pos, op, r, l)
		return !gt && err == nil, err
	case ">=":
		lt, err := lessThanOp(pos, op, l, r)
		return !lt && err == nil, err
	case "in", "not in":
		found, err := contains(pos, r, l)
		if op == "not in" {
			return !found && err == nil, err
		}
		return found, err
	}
	return false, newError(SyntaxError, pos, "unknown comparison %s", op)
}

// lessThanOp is lessThan with the error naming the operator actually used.
func lessThanOp(pos int, op string, l, r Value) (bool, error) {
	ok, err := lessThan(pos, l, r)
	if err != nil {
		a, b := l, r
		if op == ">" || op == "<=" {
			a, b = r, l
		}
		return false, newError(TypeError, pos, "'%s' not supported between instances of '%s' and '%s'", op, a.kind, b.kind)
	}
	// NaN compares false both ways; <= and >= must stay false too.
	if isNaN(l) || isNaN(r) {
		if op == "<=" || op == ">=" {
			return true, nil
		}
	}
	return ok, nil
}

func isNaN(v Value) bool {
	return v.kind == KindFloat && math.IsNaN(v.f)
}

func contains(pos int, container, item Value) (bool, error) {
	switch container.kind {
	case KindList:
		for _, v := range container.list {
			if equal(v, item) {
				return true, nil
			}
		}
		return false, nil
	case KindString:
		s, ok := item.Text()
		if !ok {
			return false, newError(TypeError, pos, "'in <string>' requires string as left operand, not %s", item.kind)
		}
		return strings.Contains(container.s, s), nil
	}
	return false, newError(TypeError, pos, "argument of type '%s' is not iterable", container.kind)
}

func subscript(pos int, obj, key Value) (Value, error) {
	var length int
	switch obj.kind {
	case KindList:
		length = len(obj.list)
	case KindString:
		length = len(obj.s)
	default:
		return None, newError(TypeError, pos, "'%s' object is not subscriptable", obj.kind)
	}
	i, ok := asInt(key)
	if !ok {
		return None, newError(TypeError, pos, "%s indices must be integers, not %s", obj.kind, key.kind)
	}
	if i < 0 {
		i += int64(length)
	}
	if i < 0 || i >= int64(length) {
		return None, newError(IndexError, pos, "%s index out of range", obj.kind)
	}
	if obj.kind == KindList {
		return obj.list[i], nil
	}
	return String(obj.s[i : i+1]), nil
}
