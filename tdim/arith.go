package tdim

import (
	"cmp"
	"slices"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/pkg/errors"
)

// atom is a non-constant factor of a term.
type atom interface {
	key() string
	substitute(fn func(Symbol) (Dim, bool)) Dim
	nonNegative() bool
	collectSymbols(set sets.Set[Symbol])
}

func atomKey(a atom) string {
	if a == nil {
		return ""
	}
	return a.key()
}

type symAtom Symbol

func (s symAtom) key() string { return string(s) }

func (s symAtom) substitute(fn func(Symbol) (Dim, bool)) Dim {
	if v, ok := fn(Symbol(s)); ok {
		return v
	}
	return Dim{terms: []term{{coef: 1, atom: s}}}
}

func (s symAtom) nonNegative() bool { return true }

func (s symAtom) collectSymbols(set sets.Set[Symbol]) { set.Insert(Symbol(s)) }

// prodAtom is a product of at least two atoms, none a prodAtom, sorted by key.
type prodAtom []atom

func (p prodAtom) key() string {
	keys := make([]string, len(p))
	for ii, a := range p {
		keys[ii] = a.key()
		if _, isDiv := a.(divAtom); isDiv {
			keys[ii] = "(" + keys[ii] + ")"
		}
	}
	return strings.Join(keys, "*")
}

func (p prodAtom) substitute(fn func(Symbol) (Dim, bool)) Dim {
	result := Int(1)
	for _, a := range p {
		result = result.Mul(a.substitute(fn))
	}
	return result
}

func (p prodAtom) nonNegative() bool {
	for _, a := range p {
		if !a.nonNegative() {
			return false
		}
	}
	return true
}

func (p prodAtom) collectSymbols(set sets.Set[Symbol]) {
	for _, a := range p {
		a.collectSymbols(set)
	}
}

// divAtom is the floor division of num by den > 1, where num is not a multiple of den.
type divAtom struct {
	num Dim
	den int64
}

func (a divAtom) key() string {
	num := a.num.String()
	if len(a.num.terms) > 1 || a.num.terms[0].coef != 1 {
		num = "(" + num + ")"
	}
	return num + "/" + strconv.FormatInt(a.den, 10)
}

func (a divAtom) substitute(fn func(Symbol) (Dim, bool)) Dim {
	d, _ := a.num.substitute(fn).DivInt(a.den)
	return d
}

func (a divAtom) nonNegative() bool { return a.num.nonNegative() }

func (a divAtom) collectSymbols(set sets.Set[Symbol]) { a.num.collectSymbols(set) }

func factorsOf(a atom) []atom {
	if p, ok := a.(prodAtom); ok {
		return p
	}
	return []atom{a}
}

func mulAtoms(a, b atom) atom {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	factors := slices.Concat(factorsOf(a), factorsOf(b))
	slices.SortStableFunc(factors, func(x, y atom) int { return cmp.Compare(x.key(), y.key()) })
	return prodAtom(factors)
}

// accumulator collects terms by atom key, and builds the canonical Dim.
type accumulator map[string]term

func (acc accumulator) add(coef int64, a atom) {
	if coef == 0 {
		return
	}
	k := atomKey(a)
	t, found := acc[k]
	if !found {
		t = term{atom: a}
	}
	t.coef += coef
	acc[k] = t
}

func (acc accumulator) addDim(d Dim, factor int64) {
	for _, t := range d.terms {
		acc.add(t.coef*factor, t.atom)
	}
}

func (acc accumulator) dim() Dim {
	keys := make([]string, 0, len(acc))
	for k, t := range acc {
		if t.coef != 0 {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return Dim{}
	}
	// Constant term ("" key) goes last.
	slices.SortFunc(keys, func(a, b string) int {
		switch {
		case a == b:
			return 0
		case a == "":
			return 1
		case b == "":
			return -1
		}
		return cmp.Compare(a, b)
	})
	terms := make([]term, len(keys))
	for ii, k := range keys {
		terms[ii] = acc[k]
	}
	return Dim{terms: terms}
}

// Add returns d+other.
func (d Dim) Add(other Dim) Dim {
	if len(other.terms) == 0 {
		return d
	}
	if len(d.terms) == 0 {
		return other
	}
	acc := make(accumulator, len(d.terms)+len(other.terms))
	acc.addDim(d, 1)
	acc.addDim(other, 1)
	return acc.dim()
}

// AddInt returns d+v.
func (d Dim) AddInt(v int64) Dim { return d.Add(Int(v)) }

// Sub returns d-other.
func (d Dim) Sub(other Dim) Dim { return d.Add(other.Neg()) }

// SubInt returns d-v.
func (d Dim) SubInt(v int64) Dim { return d.Add(Int(-v)) }

// Neg returns -d.
func (d Dim) Neg() Dim { return d.MulInt(-1) }

// MulInt returns d*v.
func (d Dim) MulInt(v int64) Dim {
	switch v {
	case 0:
		return Dim{}
	case 1:
		return d
	}
	terms := make([]term, len(d.terms))
	for ii, t := range d.terms {
		terms[ii] = term{coef: t.coef * v, atom: t.atom}
	}
	return Dim{terms: terms}
}

// Mul returns d*other.
func (d Dim) Mul(other Dim) Dim {
	if v, ok := other.AsConst(); ok {
		return d.MulInt(v)
	}
	if v, ok := d.AsConst(); ok {
		return other.MulInt(v)
	}
	acc := make(accumulator)
	for _, a := range d.terms {
		for _, b := range other.terms {
			acc.add(a.coef*b.coef, mulAtoms(a.atom, b.atom))
		}
	}
	return acc.dim()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	return a - b*floorDiv(a, b)
}

func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// DivInt returns the floor division of d by v.
func (d Dim) DivInt(v int64) (Dim, error) {
	switch {
	case v == 0:
		return Dim{}, errors.Wrapf(ErrUnsupported, "division of %s by zero", d)
	case v < 0:
		return d.Neg().DivInt(-v)
	case v == 1:
		return d, nil
	}
	if c, ok := d.AsConst(); ok {
		return Int(floorDiv(c, v)), nil
	}

	// Pull out the terms that are multiple of v: floor((v*A + R)/v) = A + floor(R/v).
	quotient := make(accumulator)
	rest := make(accumulator)
	for _, t := range d.terms {
		if t.atom == nil {
			continue
		}
		if t.coef%v == 0 {
			quotient.add(t.coef/v, t.atom)
		} else {
			rest.add(t.coef, t.atom)
		}
	}
	c := d.constant()
	quotient.add(floorDiv(c, v), nil)
	if len(rest) == 0 {
		return quotient.dim(), nil
	}
	rest.add(floorMod(c, v), nil)
	remainder := rest.dim()

	// Simplify by the common divisor of the remainder and the denominator.
	g := v
	for _, t := range remainder.terms {
		g = gcd(g, t.coef)
	}
	den := v
	if g > 1 {
		den = v / g
		for ii := range remainder.terms {
			remainder.terms[ii].coef /= g
		}
	}
	if den > 1 {
		if len(remainder.terms) == 1 && remainder.terms[0].coef == 1 {
			if inner, ok := remainder.terms[0].atom.(divAtom); ok {
				// floor(floor(x/a)/b) == floor(x/(a*b))
				quotient.add(1, divAtom{num: inner.num, den: inner.den * den})
				return quotient.dim(), nil
			}
		}
		quotient.add(1, divAtom{num: remainder, den: den})
	} else {
		quotient.addDim(remainder, 1)
	}
	return quotient.dim(), nil
}

// RemInt returns d modulo v, with the sign of v: d - v*floor(d/v).
func (d Dim) RemInt(v int64) (Dim, error) {
	q, err := d.DivInt(v)
	if err != nil {
		return Dim{}, err
	}
	return d.Sub(q.MulInt(v)), nil
}

// Div returns the floor division of d by other. Symbolic divisors are only accepted when equal to d.
func (d Dim) Div(other Dim) (Dim, error) {
	if v, ok := other.AsConst(); ok {
		return d.DivInt(v)
	}
	if d.Equal(other) {
		return Int(1), nil
	}
	return Dim{}, errors.Wrapf(ErrUnsupported, "cannot divide %s by symbolic dimension %s", d, other)
}

// Rem returns d modulo other. Symbolic divisors are only accepted when equal to d.
func (d Dim) Rem(other Dim) (Dim, error) {
	if v, ok := other.AsConst(); ok {
		return d.RemInt(v)
	}
	if d.Equal(other) {
		return Dim{}, nil
	}
	return Dim{}, errors.Wrapf(ErrUnsupported, "cannot compute %s modulo symbolic dimension %s", d, other)
}

// Broadcast returns the numpy-style broadcast of two axis lengths.
func Broadcast(a, b Dim) (Dim, error) {
	switch {
	case a.IsOne():
		return b, nil
	case b.IsOne(), a.Equal(b):
		return a, nil
	}
	return Dim{}, errors.Errorf("cannot broadcast dimensions %s and %s together", a, b)
}

// BroadcastShapes returns the right-aligned numpy-style broadcast of the shapes.
func BroadcastShapes(shapes ...[]Dim) ([]Dim, error) {
	rank := 0
	for _, shape := range shapes {
		rank = max(rank, len(shape))
	}
	result := make([]Dim, rank)
	for ii := range result {
		result[ii] = Int(1)
	}
	for _, shape := range shapes {
		offset := rank - len(shape)
		for axis, d := range shape {
			b, err := Broadcast(result[offset+axis], d)
			if err != nil {
				return nil, errors.WithMessagef(err, "broadcasting shapes %v", shapes)
			}
			result[offset+axis] = b
		}
	}
	return result, nil
}
