package trigger

// parser.go - tokenizer and recursive-descent parser for trigger expressions

import (
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokAnd
	tokOr
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// Parse compiles a trigger expression like "a & (b | c)" into an Expr.
// An empty or blank input returns nil with no error (no trigger).
func Parse(input string) (Expr, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}

	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}

	p := &parser{input: input, tokens: tokens}
	expr, err := p.parseGroup()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		return nil, &ParseError{Input: input, Pos: tok.pos, Reason: "unbalanced closing parenthesis"}
	}
	return expr, nil
}

// tokenize splits the input into identifier, operator and paren tokens.
func tokenize(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := rune(input[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '&':
			tokens = append(tokens, token{kind: tokAnd, text: "&", pos: i})
			i++
		case c == '|':
			tokens = append(tokens, token{kind: tokOr, text: "|", pos: i})
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case isIdentRune(c):
			start := i
			for i < len(input) && isIdentRune(rune(input[i])) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: input[start:i], pos: start})
		default:
			return nil, &ParseError{Input: input, Pos: i, Reason: "unexpected character " + string(c)}
		}
	}
	return tokens, nil
}

func isIdentRune(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '-' || c == '.'
}

type parser struct {
	input  string
	tokens []token
	pos    int
}

// parseGroup parses a sequence of operands separated by a single operator
// kind. Mixing '&' and '|' at the same nesting level is rejected; the
// grammar forces parentheses to disambiguate.
func (p *parser) parseGroup() (Expr, error) {
	var operands []Expr
	var op tokenKind = -1

	operand, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	operands = append(operands, operand)

	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]
		if tok.kind == tokRParen {
			break
		}
		if tok.kind != tokAnd && tok.kind != tokOr {
			return nil, &ParseError{Input: p.input, Pos: tok.pos, Reason: "expected '&' or '|' between operands"}
		}
		if op == -1 {
			op = tok.kind
		} else if tok.kind != op {
			return nil, &ParseError{Input: p.input, Pos: tok.pos, Reason: "mixed '&' and '|' without parentheses"}
		}
		p.pos++

		operand, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		operands = append(operands, operand)
	}

	if len(operands) == 1 {
		return operands[0], nil
	}
	if op == tokOr {
		return Or{Children: operands}, nil
	}
	return And{Children: operands}, nil
}

// parseOperand parses a single identifier or a parenthesized group.
func (p *parser) parseOperand() (Expr, error) {
	if p.pos >= len(p.tokens) {
		return nil, &ParseError{Input: p.input, Pos: len(p.input), Reason: "expression ends with an operator"}
	}

	tok := p.tokens[p.pos]
	switch tok.kind {
	case tokIdent:
		p.pos++
		return Leaf{Name: tok.text}, nil
	case tokLParen:
		p.pos++
		inner, err := p.parseGroup()
		if err != nil {
			return nil, err
		}
		if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tokRParen {
			return nil, &ParseError{Input: p.input, Pos: tok.pos, Reason: "unbalanced opening parenthesis"}
		}
		p.pos++
		return inner, nil
	default:
		return nil, &ParseError{Input: p.input, Pos: tok.pos, Reason: "expected identifier or '('"}
	}
}
