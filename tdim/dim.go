// Package tdim implements symbolic dimensions: axis lengths that are either concrete integers or
// integer expressions over named symbols (batch size, sequence length, the streaming axis, ...).
//
// A Dim is immutable and always kept in a canonical form: a linear combination of "atoms"
// (symbols, products of atoms and floor-divisions by a positive integer) plus a constant.
// Arithmetic folds constants eagerly, so `(S-2)-2` is the same value as `S-4`, and two
// dimensions are equal if and only if their canonical forms are identical.
//
// Symbols stand for axis lengths, and are assumed to be non-negative when deciding signs.
package tdim

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/pkg/errors"
)

// Symbol names an unbound axis length.
type Symbol string

// StreamSymbol is the designated placeholder for the streaming axis.
const StreamSymbol Symbol = "S"

// ProbeValue is the sentinel substituted for every symbol when probing the sign of an expression,
// see Dim.EvalAt.
const ProbeValue int64 = 100_000_000

var (
	// ErrNotConcrete is returned when a concrete integer is required from a dimension that still
	// depends on unbound symbols.
	ErrNotConcrete = errors.New("dimension is not concrete")

	// ErrUnsupported is returned for operations the algebra doesn't handle, e.g. division by a symbolic divisor.
	ErrUnsupported = errors.New("unsupported symbolic dimension operation")
)

// SymbolValues binds symbols to concrete values.
type SymbolValues map[Symbol]int64

// Dim is a symbolic dimension. The zero value is the concrete dimension 0.
type Dim struct {
	// terms are sorted by atom key, with the constant term (nil atom) last. No term has a zero coefficient.
	terms []term
}

type term struct {
	coef int64
	atom atom
}

// Int returns the concrete dimension v.
func Int(v int64) Dim {
	if v == 0 {
		return Dim{}
	}
	return Dim{terms: []term{{coef: v}}}
}

// Sym returns the dimension made of the single symbol name.
func Sym(name string) Dim {
	return Dim{terms: []term{{coef: 1, atom: symAtom(name)}}}
}

// Stream returns the streaming axis placeholder.
func Stream() Dim {
	return Sym(string(StreamSymbol))
}

// FromInts converts concrete axis lengths to dimensions.
func FromInts(values []int) []Dim {
	dims := make([]Dim, len(values))
	for ii, v := range values {
		dims[ii] = Int(int64(v))
	}
	return dims
}

// ToInts converts dimensions to concrete axis lengths, failing with ErrNotConcrete if any is symbolic.
func ToInts(dims []Dim) ([]int, error) {
	values := make([]int, len(dims))
	for ii, d := range dims {
		v, err := d.ToInt64()
		if err != nil {
			return nil, errors.WithMessagef(err, "axis #%d", ii)
		}
		values[ii] = int(v)
	}
	return values, nil
}

// Product multiplies all dims, the empty product is 1.
func Product(dims []Dim) Dim {
	p := Int(1)
	for _, d := range dims {
		p = p.Mul(d)
	}
	return p
}

// AsConst returns the concrete value of d, if it is concrete.
func (d Dim) AsConst() (int64, bool) {
	switch {
	case len(d.terms) == 0:
		return 0, true
	case len(d.terms) == 1 && d.terms[0].atom == nil:
		return d.terms[0].coef, true
	}
	return 0, false
}

// IsConcrete returns whether d has no symbols left.
func (d Dim) IsConcrete() bool {
	_, ok := d.AsConst()
	return ok
}

// ToInt64 returns the concrete value of d, or ErrNotConcrete.
func (d Dim) ToInt64() (int64, error) {
	if v, ok := d.AsConst(); ok {
		return v, nil
	}
	return 0, errors.Wrapf(ErrNotConcrete, "dimension %s depends on symbols %q", d, d.Symbols())
}

// IsZero returns whether d is the concrete 0.
func (d Dim) IsZero() bool {
	return len(d.terms) == 0
}

// IsOne returns whether d is the concrete 1.
func (d Dim) IsOne() bool {
	v, ok := d.AsConst()
	return ok && v == 1
}

// Equal returns whether both dimensions have the same canonical form.
func (d Dim) Equal(other Dim) bool {
	if len(d.terms) != len(other.terms) {
		return false
	}
	for ii, t := range d.terms {
		o := other.terms[ii]
		if t.coef != o.coef || atomKey(t.atom) != atomKey(o.atom) {
			return false
		}
	}
	return true
}

// constant returns the constant term of d.
func (d Dim) constant() int64 {
	if len(d.terms) > 0 && d.terms[len(d.terms)-1].atom == nil {
		return d.terms[len(d.terms)-1].coef
	}
	return 0
}

// Symbols returns the sorted list of symbols d depends on.
func (d Dim) Symbols() []Symbol {
	set := sets.Make[Symbol]()
	d.collectSymbols(set)
	symbols := make([]Symbol, 0, len(set))
	for s := range set {
		symbols = append(symbols, s)
	}
	slices.Sort(symbols)
	return symbols
}

func (d Dim) collectSymbols(set sets.Set[Symbol]) {
	for _, t := range d.terms {
		if t.atom != nil {
			t.atom.collectSymbols(set)
		}
	}
}

// String returns the canonical rendering of d, e.g. "2*S-4".
func (d Dim) String() string {
	if len(d.terms) == 0 {
		return "0"
	}
	var sb strings.Builder
	for ii, t := range d.terms {
		coef := t.coef
		if coef < 0 {
			sb.WriteByte('-')
			coef = -coef
		} else if ii > 0 {
			sb.WriteByte('+')
		}
		switch {
		case t.atom == nil:
			fmt.Fprintf(&sb, "%d", coef)
		case coef == 1:
			sb.WriteString(t.atom.key())
		default:
			if _, isDiv := t.atom.(divAtom); isDiv {
				fmt.Fprintf(&sb, "%d*(%s)", coef, t.atom.key())
				continue
			}
			fmt.Fprintf(&sb, "%d*%s", coef, t.atom.key())
		}
	}
	return sb.String()
}

// IsNegative reports whether d is known to be negative.
//
// The sign is known when d is concrete, or when every symbolic term and the constant agree in sign
// (symbols being non-negative). Otherwise known is false and callers must defer the decision.
func (d Dim) IsNegative() (negative, known bool) {
	c := d.constant()
	allNonNeg, allNonPos := true, true
	for _, t := range d.terms {
		if t.atom == nil {
			continue
		}
		if !t.atom.nonNegative() {
			return false, false
		}
		if t.coef < 0 {
			allNonNeg = false
		} else {
			allNonPos = false
		}
	}
	switch {
	case allNonNeg && c >= 0:
		return false, true
	case allNonPos && c < 0:
		return true, true
	}
	return false, false
}

func (d Dim) nonNegative() bool {
	negative, known := d.IsNegative()
	return known && !negative
}

// Compare returns -1, 0 or 1 if the ordering of d and other can be decided, and known=false otherwise.
func (d Dim) Compare(other Dim) (cmp int, known bool) {
	diff := d.Sub(other)
	if v, ok := diff.AsConst(); ok {
		switch {
		case v < 0:
			return -1, true
		case v > 0:
			return 1, true
		}
		return 0, true
	}
	if negative, ok := diff.IsNegative(); ok && negative {
		return -1, true
	}
	if negative, ok := diff.Neg().IsNegative(); ok && negative {
		return 1, true
	}
	return 0, false
}

// Eval substitutes the bound symbols in values. The result may still be symbolic.
func (d Dim) Eval(values SymbolValues) Dim {
	return d.substitute(func(s Symbol) (Dim, bool) {
		v, found := values[s]
		if !found {
			return Dim{}, false
		}
		return Int(v), true
	})
}

// EvalToInt64 substitutes the symbols in values, and fails with ErrNotConcrete if some are left unbound.
func (d Dim) EvalToInt64(values SymbolValues) (int64, error) {
	return d.Eval(values).ToInt64()
}

// EvalAt substitutes every symbol by the hypothetical value v. It is used to probe expressions,
// typically with ProbeValue.
func (d Dim) EvalAt(v int64) int64 {
	result := d.substitute(func(Symbol) (Dim, bool) { return Int(v), true })
	c, _ := result.AsConst()
	return c
}

// Substitute replaces the symbol s by the dimension by.
func (d Dim) Substitute(s Symbol, by Dim) Dim {
	return d.substitute(func(other Symbol) (Dim, bool) {
		if other != s {
			return Dim{}, false
		}
		return by, true
	})
}

func (d Dim) substitute(fn func(Symbol) (Dim, bool)) Dim {
	var result Dim
	for _, t := range d.terms {
		if t.atom == nil {
			result = result.Add(Int(t.coef))
			continue
		}
		result = result.Add(t.atom.substitute(fn).MulInt(t.coef))
	}
	return result
}
