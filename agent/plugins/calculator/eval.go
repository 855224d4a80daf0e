package calculator

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrEmptyExpression = errors.New("expression is empty")
	ErrDivisionByZero  = errors.New("division by zero")
)

var wordOperators = strings.NewReplacer(
	"multiplied by", "*",
	"divided by", "/",
	"to the power of", "^",
	"plus", "+",
	"minus", "-",
	"times", "*",
	"over", "/",
	"mod", "%",
	" x ", " * ",
)

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind  tokenKind
	op    byte
	value float64
	pos   int
}

// Evaluate computes an arithmetic expression. Spoken operators ("5 plus 5") are
// accepted, any other letters are dropped before parsing.
func Evaluate(expression string) (float64, error) {
	tokens, err := lex(normalize(expression))
	if err != nil {
		return 0, err
	}
	if len(tokens) == 0 {
		return 0, ErrEmptyExpression
	}

	p := &parser{tokens: tokens}
	v, err := p.expr()
	if err != nil {
		return 0, err
	}
	if t, ok := p.peek(); ok {
		return 0, fmt.Errorf("unexpected token at position %d", t.pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("result is not a finite number")
	}
	return v, nil
}

// Format renders a result without a trailing ".0" for whole numbers.
func Format(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func normalize(expression string) string {
	s := wordOperators.Replace(strings.ToLower(expression))
	s = strings.ReplaceAll(s, "**", "^")

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', strings.ContainsRune("+-*/%^().", r):
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func lex(s string) ([]token, error) {
	var out []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ':
			i++
		case c == '(':
			out = append(out, token{kind: tokLParen, pos: i})
			i++
		case c == ')':
			out = append(out, token{kind: tokRParen, pos: i})
			i++
		case strings.IndexByte("+-*/%^", c) >= 0:
			out = append(out, token{kind: tokOp, op: c, pos: i})
			i++
		default:
			start := i
			for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
				i++
			}
			v, err := strconv.ParseFloat(s[start:i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at position %d", s[start:i], start)
			}
			out = append(out, token{kind: tokNumber, value: v, pos: start})
		}
	}
	return out, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func (p *parser) acceptOp(ops string) (byte, bool) {
	t, ok := p.peek()
	if !ok || t.kind != tokOp || strings.IndexByte(ops, t.op) < 0 {
		return 0, false
	}
	p.pos++
	return t.op, true
}

// expr := term (("+"|"-") term)*
func (p *parser) expr() (float64, error) {
	left, err := p.term()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.acceptOp("+-")
		if !ok {
			return left, nil
		}
		right, err := p.term()
		if err != nil {
			return 0, err
		}
		if op == '+' {
			left += right
		} else {
			left -= right
		}
	}
}

// term := unary (("*"|"/"|"%") unary)*
func (p *parser) term() (float64, error) {
	left, err := p.unary()
	if err != nil {
		return 0, err
	}
	for {
		op, ok := p.acceptOp("*/%")
		if !ok {
			return left, nil
		}
		right, err := p.unary()
		if err != nil {
			return 0, err
		}
		switch op {
		case '*':
			left *= right
		case '/':
			if right == 0 {
				return 0, ErrDivisionByZero
			}
			left /= right
		case '%':
			if right == 0 {
				return 0, ErrDivisionByZero
			}
			left = math.Mod(left, right)
		}
	}
}

// unary := ("+"|"-") unary | power
func (p *parser) unary() (float64, error) {
	if op, ok := p.acceptOp("+-"); ok {
		v, err := p.unary()
		if err != nil {
			return 0, err
		}
		if op == '-' {
			return -v, nil
		}
		return v, nil
	}
	return p.power()
}

// power := primary ("^" unary)?   right associative, binds tighter than unary minus
func (p *parser) power() (float64, error) {
	base, err := p.primary()
	if err != nil {
		return 0, err
	}
	if _, ok := p.acceptOp("^"); !ok {
		return base, nil
	}
	exp, err := p.unary()
	if err != nil {
		return 0, err
	}
	return math.Pow(base, exp), nil
}

func (p *parser) primary() (float64, error) {
	t, ok := p.peek()
	if !ok {
		return 0, errors.New("unexpected end of expression")
	}
	switch t.kind {
	case tokNumber:
		p.pos++
		return t.value, nil
	case tokLParen:
		p.pos++
		v, err := p.expr()
		if err != nil {
			return 0, err
		}
		if next, ok := p.peek(); !ok || next.kind != tokRParen {
			return 0, fmt.Errorf("missing closing parenthesis for position %d", t.pos)
		}
		p.pos++
		return v, nil
	default:
		return 0, fmt.Errorf("unexpected token at position %d", t.pos)
	}
}
