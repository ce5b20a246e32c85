// Package parser turns a query string into a query tree.
//
// Grammar, with the default field applied to bare words:
//
//	or    := and ("OR" and)*
//	and   := unary (["AND"] unary)*
//	unary := "(" or ")" | FIELD ":" unary | WORD
//
// Adjacent terms are conjunctive. A word that normalizes to several terms
// becomes a conjunction of those terms; a word that normalizes to nothing
// is dropped, so a query made only of such words parses to a nil tree.
package parser

import (
	"strings"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/normalizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

// Parse lexes and parses query with the given normalizer. A nil tree with
// a nil error means the query has no searchable terms.
func Parse(query string, n *normalizer.Normalizer) (Node, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &apperrors.QuerySyntaxError{Query: query, Reason: "empty query"}
	}
	lexemes, err := Lex(query, n, index.ResolveField)
	if err != nil {
		return nil, err
	}
	return ParseLexemes(query, lexemes)
}

// ParseLexemes builds a tree from already-normalized lexemes.
func ParseLexemes(query string, lexemes []Lexeme) (Node, error) {
	p := &parser{query: query, lex: lexemes}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.lex) {
		tok := p.lex[p.pos]
		if tok.Kind == LexRParen {
			return nil, p.errorAt(tok, "unbalanced parenthesis")
		}
		return nil, p.errorAt(tok, "unexpected "+tok.Kind.String())
	}
	return node, nil
}

type parser struct {
	query string
	lex   []Lexeme
	pos   int
}

func (p *parser) peek() (Lexeme, bool) {
	if p.pos >= len(p.lex) {
		return Lexeme{}, false
	}
	return p.lex[p.pos], true
}

func (p *parser) errorAt(tok Lexeme, reason string) error {
	return &apperrors.QuerySyntaxError{
		Query:    p.query,
		Fragment: tok.Raw,
		Offset:   tok.Offset,
		Reason:   reason,
	}
}

func (p *parser) errorAtEnd(reason string) error {
	frag := ""
	if len(p.lex) > 0 {
		frag = p.lex[len(p.lex)-1].Raw
	}
	return &apperrors.QuerySyntaxError{
		Query:    p.query,
		Fragment: frag,
		Offset:   len(p.query),
		Reason:   reason,
	}
}

func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	var children []Node
	if left != nil {
		children = append(children, left)
	}
	for {
		tok, ok := p.peek()
		if !ok || tok.Kind != LexOr {
			break
		}
		p.pos++
		if err := p.expectOperand(tok); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if right != nil {
			children = append(children, right)
		}
	}
	return combine(children, func(c []Node) Node { return &OrNode{Children: c} }), nil
}

func (p *parser) parseAnd() (Node, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, p.errorAtEnd("missing term")
	}
	if tok.Kind == LexAnd || tok.Kind == LexOr {
		return nil, p.errorAt(tok, "dangling operator")
	}
	if tok.Kind == LexRParen {
		return nil, p.errorAt(tok, "unbalanced parenthesis")
	}

	var children []Node
	for {
		tok, ok := p.peek()
		if !ok {
			break
		}
		if tok.Kind == LexAnd {
			p.pos++
			if err := p.expectOperand(tok); err != nil {
				return nil, err
			}
		} else if !startsUnary(tok.Kind) {
			break
		}
		node, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if node == nil {
			continue
		}
		if and, isAnd := node.(*AndNode); isAnd {
			children = append(children, and.Children...)
		} else {
			children = append(children, node)
		}
	}
	return combine(children, func(c []Node) Node { return &AndNode{Children: c} }), nil
}

// expectOperand checks that an operand follows the operator op.
func (p *parser) expectOperand(op Lexeme) error {
	next, ok := p.peek()
	if !ok || !startsUnary(next.Kind) {
		return p.errorAt(op, "dangling operator")
	}
	return nil
}

func (p *parser) parseUnary() (Node, error) {
	tok, _ := p.peek()
	p.pos++
	switch tok.Kind {
	case LexWord:
		return termsNode(tok.Terms), nil
	case LexLParen:
		if next, ok := p.peek(); ok && next.Kind == LexRParen {
			return nil, p.errorAt(tok, "empty group")
		}
		node, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.Kind != LexRParen {
			return nil, p.errorAt(tok, "unbalanced parenthesis")
		}
		p.pos++
		return node, nil
	case LexField:
		next, ok := p.peek()
		if !ok || (next.Kind != LexWord && next.Kind != LexLParen) {
			return nil, p.errorAt(tok, "missing term after field")
		}
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, nil
		}
		return &FieldNode{Field: tok.Terms[0], Child: child}, nil
	default:
		return nil, p.errorAt(tok, "unexpected "+tok.Kind.String())
	}
}

func startsUnary(k LexemeKind) bool {
	return k == LexWord || k == LexLParen || k == LexField
}

func termsNode(terms []string) Node {
	nodes := make([]Node, len(terms))
	for i, t := range terms {
		nodes[i] = &TermNode{Term: t}
	}
	return combine(nodes, func(c []Node) Node { return &AndNode{Children: c} })
}

func combine(children []Node, wrap func([]Node) Node) Node {
	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	default:
		return wrap(children)
	}
}
