package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/normalizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

type LexemeKind int

const (
	LexWord LexemeKind = iota
	LexField
	LexAnd
	LexOr
	LexLParen
	LexRParen
)

func (k LexemeKind) String() string {
	switch k {
	case LexWord:
		return "word"
	case LexField:
		return "field"
	case LexAnd:
		return "AND"
	case LexOr:
		return "OR"
	case LexLParen:
		return "("
	case LexRParen:
		return ")"
	default:
		return "unknown"
	}
}

// Lexeme is one token of a raw query. Word lexemes carry their normalized
// terms, which may be empty; Field lexemes carry the canonical field name
// in Terms[0]. Raw and Offset locate the lexeme in the query for error
// reporting.
type Lexeme struct {
	Kind   LexemeKind
	Raw    string
	Offset int
	Terms  []string
}

// Lex splits query into lexemes and normalizes word text. This is the only
// place query text crosses the normalization boundary.
func Lex(query string, n *normalizer.Normalizer, resolveField func(string) (string, bool)) ([]Lexeme, error) {
	var out []Lexeme
	i := 0
	for i < len(query) {
		r, size := utf8.DecodeRuneInString(query[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
			continue
		case r == '(':
			out = append(out, Lexeme{Kind: LexLParen, Raw: "(", Offset: i})
			i += size
			continue
		case r == ')':
			out = append(out, Lexeme{Kind: LexRParen, Raw: ")", Offset: i})
			i += size
			continue
		}

		start := i
		for i < len(query) {
			r, size := utf8.DecodeRuneInString(query[i:])
			if unicode.IsSpace(r) || r == '(' || r == ')' {
				break
			}
			i += size
		}
		chunk := query[start:i]

		switch chunk {
		case "AND":
			out = append(out, Lexeme{Kind: LexAnd, Raw: chunk, Offset: start})
			continue
		case "OR":
			out = append(out, Lexeme{Kind: LexOr, Raw: chunk, Offset: start})
			continue
		}

		if name, rest, ok := splitField(chunk); ok {
			field, known := resolveField(name)
			if !known {
				return nil, &apperrors.QuerySyntaxError{
					Query:    query,
					Fragment: name + ":",
					Offset:   start,
					Reason:   "unknown field " + name,
				}
			}
			out = append(out, Lexeme{Kind: LexField, Raw: name + ":", Offset: start, Terms: []string{field}})
			if rest == "" {
				continue
			}
			start += len(name) + 1
			chunk = rest
		}
		out = append(out, Lexeme{Kind: LexWord, Raw: chunk, Offset: start, Terms: n.Terms(chunk)})
	}
	return out, nil
}

// splitField recognises a "name:" prefix where name is a plain identifier.
func splitField(chunk string) (name, rest string, ok bool) {
	idx := strings.IndexByte(chunk, ':')
	if idx <= 0 {
		return "", "", false
	}
	for _, r := range chunk[:idx] {
		if !(r == '_' || (r < utf8.RuneSelf && unicode.IsLetter(r))) {
			return "", "", false
		}
	}
	return chunk[:idx], chunk[idx+1:], true
}
