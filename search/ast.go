// Package search implements the s-expression query language of §4.4: a
// lexer/parser producing an AST, a compiler splitting each expression
// into a SQL WHERE fragment plus an in-process residual predicate
// (§4.4.2), and the StoreSearch driver that runs queries over a set of
// folders (§4.5).
package search

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/camelmail/camelstore/framework/exterrors"
)

// NodeKind distinguishes the four shapes an s-expression node can take.
type NodeKind int

const (
	KindList NodeKind = iota
	KindSymbol
	KindString
	KindNumber
)

// Node is one node of a parsed query expression. A KindList node's
// first element (by convention) is a KindSymbol naming the operator.
type Node struct {
	Kind NodeKind
	Sym  string
	Str  string
	Num  float64
	List []*Node
}

// Operator returns the leading symbol of a list node, or "" if n is not
// a non-empty list headed by a symbol.
func (n *Node) Operator() string {
	if n == nil || n.Kind != KindList || len(n.List) == 0 || n.List[0].Kind != KindSymbol {
		return ""
	}
	return strings.ToLower(n.List[0].Sym)
}

// Args returns the elements of a list node after its operator.
func (n *Node) Args() []*Node {
	if n == nil || n.Kind != KindList || len(n.List) == 0 {
		return nil
	}
	return n.List[1:]
}

type token struct {
	text   string
	quoted bool
	paren  byte // '(' or ')' or 0
}

func tokenize(src string) ([]token, error) {
	var toks []token
	runes := []rune(src)
	i, n := 0, len(runes)
	for i < n {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(' || r == ')':
			toks = append(toks, token{paren: byte(r)})
			i++
		case r == '"':
			var b strings.Builder
			i++
			closed := false
			for i < n {
				c := runes[i]
				if c == '\\' && i+1 < n {
					switch runes[i+1] {
					case '"':
						b.WriteByte('"')
					case '\\':
						b.WriteByte('\\')
					case 'n':
						b.WriteByte('\n')
					case 't':
						b.WriteByte('\t')
					default:
						b.WriteRune(runes[i+1])
					}
					i += 2
					continue
				}
				if c == '"' {
					closed = true
					i++
					break
				}
				b.WriteRune(c)
				i++
			}
			if !closed {
				return nil, exterrors.New(exterrors.KindParse, "search: unterminated string literal")
			}
			toks = append(toks, token{text: b.String(), quoted: true})
		default:
			start := i
			for i < n && !unicode.IsSpace(runes[i]) && runes[i] != '(' && runes[i] != ')' && runes[i] != '"' {
				i++
			}
			toks = append(toks, token{text: string(runes[start:i])})
		}
	}
	return toks, nil
}

// Parse parses exactly one s-expression query, per §6.4 "the only
// externally visible query format".
func Parse(src string) (*Node, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, exterrors.New(exterrors.KindParse, "search: empty expression")
	}
	pos := 0
	node, err := parseExpr(toks, &pos)
	if err != nil {
		return nil, err
	}
	if pos != len(toks) {
		return nil, exterrors.New(exterrors.KindParse, "search: trailing tokens after top-level expression")
	}
	return node, nil
}

func parseExpr(toks []token, pos *int) (*Node, error) {
	if *pos >= len(toks) {
		return nil, exterrors.New(exterrors.KindParse, "search: unexpected end of expression")
	}
	t := toks[*pos]

	if t.paren == ')' {
		return nil, exterrors.New(exterrors.KindParse, "search: unexpected ')'")
	}
	if t.paren == '(' {
		*pos++
		var list []*Node
		for {
			if *pos >= len(toks) {
				return nil, exterrors.New(exterrors.KindParse, "search: unterminated list")
			}
			if toks[*pos].paren == ')' {
				*pos++
				return &Node{Kind: KindList, List: list}, nil
			}
			child, err := parseExpr(toks, pos)
			if err != nil {
				return nil, err
			}
			list = append(list, child)
		}
	}

	*pos++
	if t.quoted {
		return &Node{Kind: KindString, Str: t.text}, nil
	}
	if f, err := strconv.ParseFloat(t.text, 64); err == nil && t.text != "" {
		return &Node{Kind: KindNumber, Num: f}, nil
	}
	return &Node{Kind: KindSymbol, Sym: t.text}, nil
}

func (n *Node) String() string {
	switch n.Kind {
	case KindSymbol:
		return n.Sym
	case KindString:
		return fmt.Sprintf("%q", n.Str)
	case KindNumber:
		return strconv.FormatFloat(n.Num, 'g', -1, 64)
	default:
		parts := make([]string, len(n.List))
		for i, c := range n.List {
			parts[i] = c.String()
		}
		return "(" + strings.Join(parts, " ") + ")"
	}
}

// stringValue returns n's textual value whether it is a string literal
// or a bare symbol (the grammar of §4.4.1 allows both for word lists).
func stringValue(n *Node) (string, bool) {
	switch n.Kind {
	case KindString, KindSymbol:
		return valueOf(n), true
	default:
		return "", false
	}
}

func valueOf(n *Node) string {
	if n.Kind == KindString {
		return n.Str
	}
	return n.Sym
}
