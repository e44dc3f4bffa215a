// Package trigger implements the boolean trigger mini-language used by
// pipeline catalogs to gate runs on the state of other pipelines.
//
// The grammar is intentionally small: pipeline identifiers combined with
// '&' (and) and '|' (or), grouped by parentheses. An expression compiles
// into a tagged AST (Leaf | And | Or) that is evaluated by walking it with
// a caller-supplied predicate for leaf pipelines.
package trigger

import (
	"fmt"
	"strings"
)

// Expr is a compiled trigger expression node.
type Expr interface {
	// Eval walks the expression. And-nodes pass only when every child
	// passes; Or-nodes pass when any child passes; a Leaf asks the
	// predicate about the referenced pipeline.
	Eval(pred func(name string) (bool, error)) (bool, error)

	// String renders the expression in canonical source form.
	String() string
}

// Leaf references a single pipeline by id.
type Leaf struct {
	Name string
}

// Eval asks the predicate about the referenced pipeline.
func (l Leaf) Eval(pred func(string) (bool, error)) (bool, error) {
	return pred(l.Name)
}

func (l Leaf) String() string { return l.Name }

// And passes when all children pass.
type And struct {
	Children []Expr
}

// Eval evaluates children left to right, short-circuiting on the first miss.
func (a And) Eval(pred func(string) (bool, error)) (bool, error) {
	for _, c := range a.Children {
		ok, err := c.Eval(pred)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (a And) String() string { return joinChildren(a.Children, " & ") }

// Or passes when any child passes.
type Or struct {
	Children []Expr
}

// Eval evaluates children left to right, short-circuiting on the first hit.
func (o Or) Eval(pred func(string) (bool, error)) (bool, error) {
	for _, c := range o.Children {
		ok, err := c.Eval(pred)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (o Or) String() string { return joinChildren(o.Children, " | ") }

func joinChildren(children []Expr, sep string) string {
	parts := make([]string, len(children))
	for i, c := range children {
		switch c.(type) {
		case Leaf:
			parts[i] = c.String()
		default:
			parts[i] = "(" + c.String() + ")"
		}
	}
	return strings.Join(parts, sep)
}

// Pipelines returns every pipeline id referenced by the expression,
// in first-appearance order without duplicates.
func Pipelines(e Expr) []string {
	var names []string
	seen := make(map[string]bool)
	var walk func(Expr)
	walk = func(x Expr) {
		switch n := x.(type) {
		case Leaf:
			if !seen[n.Name] {
				seen[n.Name] = true
				names = append(names, n.Name)
			}
		case And:
			for _, c := range n.Children {
				walk(c)
			}
		case Or:
			for _, c := range n.Children {
				walk(c)
			}
		}
	}
	if e != nil {
		walk(e)
	}
	return names
}

// ParseError reports a malformed trigger expression.
type ParseError struct {
	Input  string
	Pos    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid trigger expression %q at position %d: %s", e.Input, e.Pos, e.Reason)
}
