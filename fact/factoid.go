// Package fact implements the lattice of partial knowledge about graph outlets.
//
// An InferenceFact may know (or not) the datum type, the rank, each axis length and the constant value
// of a tensor. Unify merges two facts into the most specific fact compatible with both, or fails with a
// ConflictError. Unify is commutative, associative and idempotent, so repeated narrowing from many rules
// converges regardless of the order they are applied in.
//
// A TypedFact is the fully resolved counterpart: datum type and full (possibly symbolic) shape are known.
package fact

import (
	"fmt"

	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/pkg/errors"
)

// ErrConflict is matched (with errors.Is) by every ConflictError.
var ErrConflict = errors.New("facts conflict")

// ConflictError is returned when two facts disagree on a known attribute.
type ConflictError struct {
	// Attribute is the attribute where the facts disagree, e.g. "datum type" or "shape[1]".
	Attribute   string
	Left, Right string
}

// Error implements error.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s vs %s", e.Attribute, e.Left, e.Right)
}

// Is allows errors.Is(err, ErrConflict).
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// withAttribute prefixes the attribute of a ConflictError.
func withAttribute(err error, attribute string) error {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		c := *conflict
		if c.Attribute == "" {
			c.Attribute = attribute
		} else {
			c.Attribute = attribute + "." + c.Attribute
		}
		return &c
	}
	return err
}

// Equaler is implemented by the values held by a GenericFactoid.
type Equaler[T any] interface {
	Equal(T) bool
}

// GenericFactoid is either an unknown value or a known one.
type GenericFactoid[T Equaler[T]] struct {
	value T
	known bool
}

// Any returns the unknown factoid.
func Any[T Equaler[T]]() GenericFactoid[T] { return GenericFactoid[T]{} }

// Only returns the factoid holding v.
func Only[T Equaler[T]](v T) GenericFactoid[T] { return GenericFactoid[T]{value: v, known: true} }

// Concretize returns the value, if known.
func (f GenericFactoid[T]) Concretize() (T, bool) { return f.value, f.known }

// IsConcrete returns whether the value is known.
func (f GenericFactoid[T]) IsConcrete() bool { return f.known }

// Unify returns the most specific factoid compatible with f and other.
func (f GenericFactoid[T]) Unify(other GenericFactoid[T]) (GenericFactoid[T], error) {
	switch {
	case !f.known:
		return other, nil
	case !other.known:
		return f, nil
	case f.value.Equal(other.value):
		return f, nil
	}
	return f, &ConflictError{Left: f.String(), Right: other.String()}
}

// Equal returns whether both factoids hold the same knowledge.
func (f GenericFactoid[T]) Equal(other GenericFactoid[T]) bool {
	if f.known != other.known {
		return false
	}
	return !f.known || f.value.Equal(other.value)
}

// String implements fmt.Stringer: unknown values are rendered as "?".
func (f GenericFactoid[T]) String() string {
	if !f.known {
		return "?"
	}
	return fmt.Sprint(f.value)
}

// Int is an integer usable in a GenericFactoid.
type Int int64

// Equal implements Equaler.
func (i Int) Equal(other Int) bool { return i == other }

// Factoid kinds.
type (
	TypeFactoid  = GenericFactoid[tensor.DatumType]
	IntFactoid   = GenericFactoid[Int]
	DimFact      = GenericFactoid[tdim.Dim]
	ValueFactoid = GenericFactoid[*tensor.Tensor]
)

// OnlyDim is a shortcut for the known dimension factoid of d.
func OnlyDim(d tdim.Dim) DimFact { return Only(d) }

// OnlyInt is a shortcut for the known integer factoid of v.
func OnlyInt(v int) IntFactoid { return Only(Int(v)) }
