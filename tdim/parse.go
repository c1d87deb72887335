package tdim

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"
)

// Parse parses a dimension expression, e.g. "2*S-4" or "(batch+1)/2".
//
// It accepts integers, symbol names, parentheses, unary minus and the binary operators
// `+`, `-`, `*`, `/` and `%` (the last two require a concrete divisor). The canonical String()
// rendering of any Dim parses back to the same Dim.
func Parse(text string) (Dim, error) {
	p := &parser{text: text}
	d, err := p.expr()
	if err != nil {
		return Dim{}, errors.WithMessagef(err, "parsing dimension %q", text)
	}
	p.skipSpaces()
	if p.pos < len(p.text) {
		return Dim{}, errors.Errorf("parsing dimension %q: unexpected %q at position %d", text, p.text[p.pos:], p.pos)
	}
	return d, nil
}

// MustParse is like Parse but panics on error. Used for tests and constant declarations.
func MustParse(text string) Dim {
	d, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return d
}

type parser struct {
	text string
	pos  int
}

func (p *parser) skipSpaces() {
	for p.pos < len(p.text) && p.text[p.pos] == ' ' {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpaces()
	if p.pos >= len(p.text) {
		return 0
	}
	return p.text[p.pos]
}

func (p *parser) expr() (Dim, error) {
	left, err := p.term()
	if err != nil {
		return Dim{}, err
	}
	for {
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return Dim{}, err
		}
		if op == '+' {
			left = left.Add(right)
		} else {
			left = left.Sub(right)
		}
	}
}

func (p *parser) term() (Dim, error) {
	left, err := p.unary()
	if err != nil {
		return Dim{}, err
	}
	for {
		op := p.peek()
		if op != '*' && op != '/' && op != '%' {
			return left, nil
		}
		p.pos++
		right, err := p.unary()
		if err != nil {
			return Dim{}, err
		}
		switch op {
		case '*':
			left = left.Mul(right)
		case '/':
			left, err = left.Div(right)
		case '%':
			left, err = left.Rem(right)
		}
		if err != nil {
			return Dim{}, err
		}
	}
}

func (p *parser) unary() (Dim, error) {
	if p.peek() == '-' {
		p.pos++
		d, err := p.unary()
		return d.Neg(), err
	}
	return p.primary()
}

func (p *parser) primary() (Dim, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		d, err := p.expr()
		if err != nil {
			return Dim{}, err
		}
		if p.peek() != ')' {
			return Dim{}, errors.Errorf("missing closing parenthesis at position %d", p.pos)
		}
		p.pos++
		return d, nil
	case c >= '0' && c <= '9':
		start := p.pos
		for p.pos < len(p.text) && p.text[p.pos] >= '0' && p.text[p.pos] <= '9' {
			p.pos++
		}
		v, err := strconv.ParseInt(p.text[start:p.pos], 10, 64)
		if err != nil {
			return Dim{}, errors.Wrapf(err, "invalid integer at position %d", start)
		}
		return Int(v), nil
	case c == '_' || unicode.IsLetter(rune(c)):
		start := p.pos
		for p.pos < len(p.text) {
			r := rune(p.text[p.pos])
			if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
				break
			}
			p.pos++
		}
		return Sym(p.text[start:p.pos]), nil
	case c == 0:
		return Dim{}, errors.New("unexpected end of expression")
	}
	return Dim{}, errors.Errorf("unexpected character %q at position %d", strings.TrimSpace(string(c)), p.pos)
}
