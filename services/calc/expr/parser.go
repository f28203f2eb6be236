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
	"strconv"
	"strings"
)

const (
	// MaxFormulaLength bounds the text accepted by Parse.
	MaxFormulaLength = 64 * 1024

	// MaxDepth bounds expression nesting.
	MaxDepth = 200
)

var reserved = map[string]bool{
	"and": true, "or": true, "not": true, "if": true, "else": true, "in": true,
	"is": true, "lambda": true, "for": true, "import": true,
}

type parser struct {
	toks  []token
	pos   int
	depth int
}

// Parse parses formula into an expression tree.
//
// # Description
//
// Parse accepts the formula language as authors write it: arithmetic,
// comparisons, boolean operators, conditional expressions, calls with
// keyword arguments, attribute access on the math namespace, indexing and
// list/tuple literals. Statements, lambdas, comprehensions and imports are
// not part of the grammar.
//
// # Outputs
//
//   - Node: root of the parsed tree.
//   - error: *Error with Kind SyntaxError on malformed or oversized input.
func Parse(formula string) (Node, error) {
	if len(formula) > MaxFormulaLength {
		return nil, newError(SyntaxError, -1, "formula exceeds %d bytes", MaxFormulaLength)
	}
	toks, err := tokenize(formula)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	if p.peek().kind == tokEOF {
		return nil, newError(SyntaxError, 0, "empty expression")
	}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, newError(SyntaxError, t.pos, "invalid syntax at position %d near %q", t.pos, tokenText(t))
	}
	return n, nil
}

func tokenText(t token) string {
	if t.kind == tokString {
		return "'" + t.text + "'"
	}
	return t.text
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) peekAt(offset int) token {
	if p.pos+offset >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+offset]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(op string) bool {
	if p.peek().is(op) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(op string) (token, error) {
	t := p.peek()
	if !t.is(op) {
		if t.kind == tokEOF {
			return t, newError(SyntaxError, t.pos, "unexpected end of formula, expected %q", op)
		}
		return t, newError(SyntaxError, t.pos, "expected %q at position %d, got %q", op, t.pos, tokenText(t))
	}
	p.pos++
	return t, nil
}

func (p *parser) enter(pos int) error {
	p.depth++
	if p.depth > MaxDepth {
		return newError(SyntaxError, pos, "expression nested too deeply")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// parseExpr: or_expr ["if" or_expr "else" expr]
func (p *parser) parseExpr() (Node, error) {
	start := p.peek().pos
	if err := p.enter(start); err != nil {
		return nil, err
	}
	defer p.leave()

	body, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.peek().is("if") {
		return body, nil
	}
	p.next()
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect("else"); err != nil {
		return nil, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ternary{pos: start, cond: cond, then: body, els: els}, nil
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().is("or") {
		t := p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &boolOp{pos: t.pos, op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().is("and") {
		t := p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &boolOp{pos: t.pos, op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (Node, error) {
	if t := p.peek(); t.is("not") {
		if err := p.enter(t.pos); err != nil {
			return nil, err
		}
		defer p.leave()
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notOp{pos: t.pos, operand: operand}, nil
	}
	return p.parseComparison()
}

// comparisonOp returns the comparison operator at the cursor and how many
// tokens it spans.
func (p *parser) comparisonOp() (string, int) {
	t := p.peek()
	switch {
	case t.kind == tokOp && (t.text == "<" || t.text == ">" || t.text == "<=" ||
		t.text == ">=" || t.text == "==" || t.text == "!="):
		return t.text, 1
	case t.is("in"):
		return "in", 1
	case t.is("not") && p.peekAt(1).is("in"):
		return "not in", 2
	}
	return "", 0
}

func (p *parser) parseComparison() (Node, error) {
	first, err := p.parseArith()
	if err != nil {
		return nil, err
	}
	op, width := p.comparisonOp()
	if width == 0 {
		return first, nil
	}
	cmp := &compare{pos: first.Pos(), first: first}
	for width > 0 {
		p.pos += width
		operand, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		cmp.ops = append(cmp.ops, op)
		cmp.operands = append(cmp.operands, operand)
		op, width = p.comparisonOp()
	}
	return cmp, nil
}

func (p *parser) parseArith() (Node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !(t.kind == tokOp && (t.text == "+" || t.text == "-")) {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryOp{pos: t.pos, op: t.text, left: left, right: right}
	}
}

func (p *parser) parseTerm() (Node, error) {
	left, err := p.parseFactor()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if !(t.kind == tokOp && (t.text == "*" || t.text == "/" || t.text == "//" || t.text == "%")) {
			return left, nil
		}
		p.next()
		right, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		left = &binaryOp{pos: t.pos, op: t.text, left: left, right: right}
	}
}

// parseFactor: ("+" | "-") factor | power
func (p *parser) parseFactor() (Node, error) {
	t := p.peek()
	if t.kind == tokOp && (t.text == "+" || t.text == "-") {
		if err := p.enter(t.pos); err != nil {
			return nil, err
		}
		defer p.leave()
		p.next()
		operand, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &unaryOp{pos: t.pos, op: t.text, operand: operand}, nil
	}
	return p.parsePower()
}

// parsePower: postfix ["**" factor]; the right operand may carry a sign,
// so 2 ** -1 parses and -2 ** 2 is -(2 ** 2).
func (p *parser) parsePower() (Node, error) {
	base, err := p.parsePostfix()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind == tokOp && t.text == "**" {
		p.next()
		if err := p.enter(t.pos); err != nil {
			return nil, err
		}
		defer p.leave()
		exp, err := p.parseFactor()
		if err != nil {
			return nil, err
		}
		return &binaryOp{pos: t.pos, op: "**", left: base, right: exp}, nil
	}
	return base, nil
}

func (p *parser) parsePostfix() (Node, error) {
	n, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		switch {
		case t.kind == tokOp && t.text == "(":
			p.next()
			c, err := p.parseCallArgs(n, t.pos)
			if err != nil {
				return nil, err
			}
			n = c
		case t.kind == tokOp && t.text == ".":
			p.next()
			name := p.next()
			if name.kind != tokName || reserved[name.text] {
				return nil, newError(SyntaxError, name.pos, "invalid attribute name at position %d", name.pos)
			}
			n = &attribute{pos: name.pos, obj: n, name: name.text}
		case t.kind == tokOp && t.text == "[":
			p.next()
			key, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect("]"); err != nil {
				return nil, err
			}
			n = &index{pos: t.pos, obj: n, key: key}
		default:
			return n, nil
		}
	}
}

func (p *parser) parseCallArgs(fn Node, pos int) (Node, error) {
	c := &call{pos: pos, fn: fn}
	for !p.peek().is(")") {
		t := p.peek()
		if t.kind == tokName && p.peekAt(1).kind == tokOp && p.peekAt(1).text == "=" {
			p.pos += 2
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			for _, kw := range c.kwargs {
				if kw.name == t.text {
					return nil, newError(SyntaxError, t.pos, "keyword argument repeated: %s", t.text)
				}
			}
			c.kwargs = append(c.kwargs, keyword{name: t.text, value: v})
		} else {
			if len(c.kwargs) > 0 {
				return nil, newError(SyntaxError, t.pos, "positional argument follows keyword argument")
			}
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			c.args = append(c.args, v)
		}
		if !p.accept(",") {
			break
		}
	}
	if _, err := p.expect(")"); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *parser) parseAtom() (Node, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &literal{pos: t.pos, val: parseNumber(t.text)}, nil

	case tokString:
		// adjacent string literals concatenate
		var b strings.Builder
		b.WriteString(t.text)
		for p.peek().kind == tokString {
			b.WriteString(p.next().text)
		}
		return &literal{pos: t.pos, val: String(b.String())}, nil

	case tokName:
		switch t.text {
		case "True", "true":
			return &literal{pos: t.pos, val: Bool(true)}, nil
		case "False", "false":
			return &literal{pos: t.pos, val: Bool(false)}, nil
		case "None":
			return &literal{pos: t.pos, val: None}, nil
		}
		if reserved[t.text] {
			return nil, newError(SyntaxError, t.pos, "invalid syntax at position %d near %q", t.pos, t.text)
		}
		return &nameRef{pos: t.pos, name: t.text}, nil

	case tokOp:
		switch t.text {
		case "(":
			return p.parseSequence(t.pos, ")", true)
		case "[":
			return p.parseSequence(t.pos, "]", false)
		}
		return nil, newError(SyntaxError, t.pos, "invalid syntax at position %d near %q", t.pos, t.text)

	default:
		return nil, newError(SyntaxError, t.pos, "unexpected end of formula")
	}
}

// parseSequence parses the remainder of a parenthesised expression, tuple
// or list. A parenthesised single expression without a trailing comma is
// returned as-is.
func (p *parser) parseSequence(pos int, closer string, paren bool) (Node, error) {
	if err := p.enter(pos); err != nil {
		return nil, err
	}
	defer p.leave()

	seq := &listLit{pos: pos}
	trailingComma := false
	for !p.peek().is(closer) {
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		seq.items = append(seq.items, item)
		trailingComma = p.accept(",")
		if !trailingComma {
			break
		}
	}
	if _, err := p.expect(closer); err != nil {
		return nil, err
	}
	if paren && len(seq.items) == 1 && !trailingComma {
		return seq.items[0], nil
	}
	return seq, nil
}

func parseNumber(text string) Value {
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return Int(i)
		}
	}
	f, _ := strconv.ParseFloat(text, 64)
	return Float(f)
}
