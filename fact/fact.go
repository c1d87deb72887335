package fact

import (
	"fmt"
	"strings"

	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/pkg/errors"
)

// InferenceFact is the partial knowledge about a tensor flowing through an outlet of an inference graph.
// The zero value knows nothing.
type InferenceFact struct {
	DatumType TypeFactoid
	Shape     ShapeFactoid
	Value     ValueFactoid
}

// FromTensor returns the fully known fact of a constant value.
func FromTensor(t *tensor.Tensor) InferenceFact {
	return InferenceFact{
		DatumType: Only(t.DatumType()),
		Shape:     ShapeOf(t.Dims()...),
		Value:     Only(t),
	}
}

// WithDatumType returns a copy of f with the datum type set. It doesn't check for conflicts, see Unify.
func (f InferenceFact) WithDatumType(dt tensor.DatumType) InferenceFact {
	f.DatumType = Only(dt)
	return f
}

// WithShape returns a copy of f with the shape factoid replaced. It doesn't check for conflicts, see Unify.
func (f InferenceFact) WithShape(shape ShapeFactoid) InferenceFact {
	f.Shape = shape
	return f
}

// WithDims returns a copy of f with the fully known shape dims.
func (f InferenceFact) WithDims(dims ...tdim.Dim) InferenceFact {
	return f.WithShape(ShapeOf(dims...))
}

// Unify returns the most specific fact compatible with both f and other. A known value also determines the
// datum type and the shape.
func (f InferenceFact) Unify(other InferenceFact) (InferenceFact, error) {
	var result InferenceFact
	var err error
	result.Value, err = f.Value.Unify(other.Value)
	if err != nil {
		return f, withAttribute(err, "value")
	}
	result.DatumType, err = f.DatumType.Unify(other.DatumType)
	if err != nil {
		return f, withAttribute(err, "datum type")
	}
	result.Shape, err = f.Shape.Unify(other.Shape)
	if err != nil {
		return f, err
	}
	if v, ok := result.Value.Concretize(); ok {
		result.DatumType, err = result.DatumType.Unify(Only(v.DatumType()))
		if err != nil {
			return f, withAttribute(err, "datum type")
		}
		result.Shape, err = result.Shape.Unify(ShapeOf(v.Dims()...))
		if err != nil {
			return f, err
		}
	}
	return result, nil
}

// Equal returns whether both facts hold the same knowledge.
func (f InferenceFact) Equal(other InferenceFact) bool {
	return f.DatumType.Equal(other.DatumType) && f.Shape.Equal(other.Shape) && f.Value.Equal(other.Value)
}

// IsConcrete returns whether datum type and shape are fully known.
func (f InferenceFact) IsConcrete() bool {
	return f.DatumType.IsConcrete() && f.Shape.IsConcrete()
}

// Missing lists the attributes still unknown, e.g. ["datum type", "shape[1]"].
func (f InferenceFact) Missing() []string {
	var missing []string
	if !f.DatumType.IsConcrete() {
		missing = append(missing, "datum type")
	}
	if f.Shape.IsOpen() {
		missing = append(missing, "rank")
		return missing
	}
	for axis, d := range f.Shape.Dims() {
		if !d.IsConcrete() {
			missing = append(missing, fmt.Sprintf("shape[%d]", axis))
		}
	}
	return missing
}

// ToTypedFact converts a fully determined fact. It fails if the datum type or the shape are not known.
func (f InferenceFact) ToTypedFact() (TypedFact, error) {
	dt, ok := f.DatumType.Concretize()
	dims, shapeOk := f.Shape.Concretize()
	if !ok || !shapeOk {
		return TypedFact{}, errors.Errorf("fact %s is not fully determined: missing %q", f, f.Missing())
	}
	if v, ok := f.Value.Concretize(); ok {
		return FromConst(v), nil
	}
	return Typed(dt, dims...), nil
}

// String implements fmt.Stringer, e.g. "Float32[2,S]" or "?[..]".
func (f InferenceFact) String() string {
	var sb strings.Builder
	sb.WriteString(f.DatumType.String())
	sb.WriteString(f.Shape.String())
	if v, ok := f.Value.Concretize(); ok {
		fmt.Fprintf(&sb, " = %s", v)
	}
	return sb.String()
}

// TypedFact is the fully resolved description of a tensor: datum type and shape (possibly symbolic) are known.
type TypedFact struct {
	DatumType tensor.DatumType
	Shape     []tdim.Dim

	// Konst is set if the outlet is a compile-time constant.
	Konst *tensor.Tensor

	// Uniform is set (to a rank-0 tensor) if every element of the outlet is provably the same constant.
	Uniform *tensor.Tensor
}

// Typed returns the TypedFact of a non-constant tensor.
func Typed(dt tensor.DatumType, dims ...tdim.Dim) TypedFact {
	return TypedFact{DatumType: dt, Shape: dims}
}

// TypedInts returns the TypedFact of a non-constant tensor with a concrete shape.
func TypedInts(dt tensor.DatumType, dims ...int) TypedFact {
	return Typed(dt, tdim.FromInts(dims)...)
}

// FromConst returns the TypedFact of a constant.
func FromConst(t *tensor.Tensor) TypedFact {
	f := TypedFact{DatumType: t.DatumType(), Shape: t.Dims(), Konst: t}
	if u, ok := t.Uniform(); ok {
		f.Uniform = u
	}
	return f
}

// Rank returns the number of axes.
func (f TypedFact) Rank() int { return len(f.Shape) }

// Volume returns the number of elements.
func (f TypedFact) Volume() tdim.Dim { return tdim.Product(f.Shape) }

// ConcreteShape returns the shape if it has no symbols.
func (f TypedFact) ConcreteShape() ([]int, bool) {
	dims, err := tdim.ToInts(f.Shape)
	return dims, err == nil
}

// SameShape returns whether both facts have the same datum type and shape, regardless of their values.
func (f TypedFact) SameShape(other TypedFact) bool {
	if f.DatumType != other.DatumType || len(f.Shape) != len(other.Shape) {
		return false
	}
	for ii, d := range f.Shape {
		if !d.Equal(other.Shape[ii]) {
			return false
		}
	}
	return true
}

// Equal returns whether both facts are the same, including the constant value.
func (f TypedFact) Equal(other TypedFact) bool {
	return f.SameShape(other) && f.Konst.Equal(other.Konst)
}

// WithoutValue returns the fact with the constant and uniform values dropped.
func (f TypedFact) WithoutValue() TypedFact {
	return Typed(f.DatumType, f.Shape...)
}

// ToInferenceFact converts the fact back into the inference lattice.
func (f TypedFact) ToInferenceFact() InferenceFact {
	if f.Konst != nil {
		return FromTensor(f.Konst)
	}
	return InferenceFact{}.WithDatumType(f.DatumType).WithDims(f.Shape...)
}

// String implements fmt.Stringer, e.g. "Int32[2,2]".
func (f TypedFact) String() string {
	parts := make([]string, len(f.Shape))
	for ii, d := range f.Shape {
		parts[ii] = d.String()
	}
	s := f.DatumType.String() + "[" + strings.Join(parts, ",") + "]"
	if f.Uniform != nil {
		s += " uniform"
	}
	return s
}
