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

// Node is a parsed formula expression.
type Node interface {
	// Pos is the byte offset of the node in the parsed text.
	Pos() int
	children() []Node
}

type literal struct {
	pos int
	val Value
}

type nameRef struct {
	pos  int
	name string
}

type listLit struct {
	pos   int
	items []Node
}

type unaryOp struct {
	pos     int
	op      string
	operand Node
}

type binaryOp struct {
	pos         int
	op          string
	left, right Node
}

// boolOp is a short-circuiting "and" / "or".
type boolOp struct {
	pos         int
	op          string
	left, right Node
}

type notOp struct {
	pos     int
	operand Node
}

// compare holds a chained comparison: a < b <= c.
type compare struct {
	pos      int
	first    Node
	ops      []string
	operands []Node
}

type ternary struct {
	pos       int
	cond      Node
	then, els Node
}

type keyword struct {
	name  string
	value Node
}

type call struct {
	pos    int
	fn     Node
	args   []Node
	kwargs []keyword
}

type attribute struct {
	pos  int
	obj  Node
	name string
}

type index struct {
	pos      int
	obj, key Node
}

func (n *literal) Pos() int   { return n.pos }
func (n *nameRef) Pos() int   { return n.pos }
func (n *listLit) Pos() int   { return n.pos }
func (n *unaryOp) Pos() int   { return n.pos }
func (n *binaryOp) Pos() int  { return n.pos }
func (n *boolOp) Pos() int    { return n.pos }
func (n *notOp) Pos() int     { return n.pos }
func (n *compare) Pos() int   { return n.pos }
func (n *ternary) Pos() int   { return n.pos }
func (n *call) Pos() int      { return n.pos }
func (n *attribute) Pos() int { return n.pos }
func (n *index) Pos() int     { return n.pos }

func (n *literal) children() []Node  { return nil }
func (n *nameRef) children() []Node  { return nil }
func (n *listLit) children() []Node  { return n.items }
func (n *unaryOp) children() []Node  { return []Node{n.operand} }
func (n *binaryOp) children() []Node { return []Node{n.left, n.right} }
func (n *boolOp) children() []Node   { return []Node{n.left, n.right} }
func (n *notOp) children() []Node    { return []Node{n.operand} }
func (n *compare) children() []Node  { return append([]Node{n.first}, n.operands...) }
func (n *ternary) children() []Node  { return []Node{n.cond, n.then, n.els} }
func (n *attribute) children() []Node {
	return []Node{n.obj}
}
func (n *index) children() []Node { return []Node{n.obj, n.key} }
func (n *call) children() []Node {
	out := make([]Node, 0, 1+len(n.args)+len(n.kwargs))
	out = append(out, n.fn)
	out = append(out, n.args...)
	for _, kw := range n.kwargs {
		out = append(out, kw.value)
	}
	return out
}

// Walk visits n and its descendants depth-first. Returning false from fn
// skips the node's children.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.children() {
		Walk(c, fn)
	}
}
