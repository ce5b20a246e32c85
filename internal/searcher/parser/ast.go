package parser

import (
	"fmt"
	"strings"
)

// Node is a query tree node. The set of node kinds is closed: TermNode,
// FieldNode, AndNode and OrNode. Consumers dispatch through Visit so that
// adding a kind fails to compile until every Visitor handles it.
type Node interface {
	fmt.Stringer
	sealed()
}

// TermNode matches documents containing Term in the field in scope
// (content unless an enclosing FieldNode says otherwise). Term is already
// normalized.
type TermNode struct {
	Term string
}

// FieldNode evaluates Child against Field.
type FieldNode struct {
	Field string
	Child Node
}

// AndNode matches documents matched by every child.
type AndNode struct {
	Children []Node
}

// OrNode matches documents matched by at least one child.
type OrNode struct {
	Children []Node
}

func (*TermNode) sealed()  {}
func (*FieldNode) sealed() {}
func (*AndNode) sealed()   {}
func (*OrNode) sealed()    {}

func (n *TermNode) String() string  { return n.Term }
func (n *FieldNode) String() string { return n.Field + ":" + n.Child.String() }
func (n *AndNode) String() string   { return joinChildren(n.Children, " AND ") }
func (n *OrNode) String() string    { return joinChildren(n.Children, " OR ") }

func joinChildren(children []Node, sep string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

// Visitor handles each node kind.
type Visitor[T any] interface {
	VisitTerm(n *TermNode) T
	VisitField(n *FieldNode) T
	VisitAnd(n *AndNode) T
	VisitOr(n *OrNode) T
}

// Visit dispatches n to the matching method of v.
func Visit[T any](n Node, v Visitor[T]) T {
	switch n := n.(type) {
	case *TermNode:
		return v.VisitTerm(n)
	case *FieldNode:
		return v.VisitField(n)
	case *AndNode:
		return v.VisitAnd(n)
	case *OrNode:
		return v.VisitOr(n)
	default:
		panic(fmt.Sprintf("parser: unknown node type %T", n))
	}
}

// Leaf is a term together with the field it is matched against.
type Leaf struct {
	Field string
	Term  string
}

// Leaves returns every leaf of n in left-to-right order, resolving field
// scope with defaultField at the root.
func Leaves(n Node, defaultField string) []Leaf {
	if n == nil {
		return nil
	}
	return Visit[[]Leaf](n, leafCollector{field: defaultField})
}

type leafCollector struct {
	field string
}

func (c leafCollector) VisitTerm(n *TermNode) []Leaf {
	return []Leaf{{Field: c.field, Term: n.Term}}
}

func (c leafCollector) VisitField(n *FieldNode) []Leaf {
	return Visit[[]Leaf](n.Child, leafCollector{field: n.Field})
}

func (c leafCollector) VisitAnd(n *AndNode) []Leaf {
	return c.children(n.Children)
}

func (c leafCollector) VisitOr(n *OrNode) []Leaf {
	return c.children(n.Children)
}

func (c leafCollector) children(nodes []Node) []Leaf {
	var out []Leaf
	for _, child := range nodes {
		out = append(out, Visit[[]Leaf](child, c)...)
	}
	return out
}
