package array

import (
	"fmt"

	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"github.com/pkg/errors"
)

// Slice keeps the range [Start, End) of one axis.
//
// Bounds may be symbolic, in which case they are resolved at evaluation with the values bound to the
// model symbols. A bound still negative once resolved counts from the end of the axis.
type Slice struct {
	Axis       int
	Start, End tdim.Dim
}

// NewSlice creates a Slice of axis.
func NewSlice(axis int, start, end tdim.Dim) *Slice {
	return &Slice{Axis: axis, Start: start, End: end}
}

var (
	_ typed.Op                = (*Slice)(nil)
	_ typed.SymbolicEvaluator = (*Slice)(nil)
	_ typed.Declutterer       = (*Slice)(nil)
)

// Name implements typed.Op.
func (*Slice) Name() string { return "Slice" }

// String implements fmt.Stringer.
func (op *Slice) String() string {
	return fmt.Sprintf("Slice(axis=%d, %s..%s)", op.Axis, op.Start, op.End)
}

// OutputFacts implements typed.Op.
//
// Bounds known to be negative count from the end, and concrete bounds on a concrete axis are clamped
// as in Eval. A symbolic bound whose sign can't be decided is kept as is: the declared length is then
// End-Start, and it only matches the evaluated length if the bound resolves within [0, dim].
func (op *Slice) OutputFacts(inputs []fact.TypedFact) ([]fact.TypedFact, error) {
	if err := checkSingleInput(op.Name(), inputs); err != nil {
		return nil, err
	}
	if err := checkAxis(op.Name(), op.Axis, inputs[0].Rank()); err != nil {
		return nil, err
	}
	shape := append([]tdim.Dim(nil), inputs[0].Shape...)
	length, err := op.staticLength(shape[op.Axis])
	if err != nil {
		return nil, err
	}
	shape[op.Axis] = length
	return []fact.TypedFact{fact.Typed(inputs[0].DatumType, shape...)}, nil
}

// staticLength returns the length of the range on an axis of length dim.
func (op *Slice) staticLength(dim tdim.Dim) (tdim.Dim, error) {
	start, end := staticBound(op.Start, dim), staticBound(op.End, dim)
	length := end.Sub(start)
	if negative, known := length.IsNegative(); known && negative {
		return tdim.Dim{}, errors.Errorf("%s: negative length %s on axis %d", op, length, op.Axis)
	}
	n, dimKnown := dim.AsConst()
	s, startKnown := start.AsConst()
	e, endKnown := end.AsConst()
	if dimKnown && startKnown && endKnown {
		return tdim.Int(max(min(max(e, 0), n)-min(max(s, 0), n), 0)), nil
	}
	return length, nil
}

// staticBound counts a bound known to be negative from the end of the axis.
func staticBound(bound, dim tdim.Dim) tdim.Dim {
	if negative, known := bound.IsNegative(); known && negative {
		return bound.Add(dim)
	}
	return bound
}

// Eval implements typed.Op. It requires concrete bounds.
func (op *Slice) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return op.EvalWithSymbols(nil, inputs)
}

// EvalWithSymbols implements typed.SymbolicEvaluator.
func (op *Slice) EvalWithSymbols(symbols tdim.SymbolValues, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s expects 1 input, got %d", op.Name(), len(inputs))
	}
	input := inputs[0]
	if op.Axis >= input.Rank() {
		return nil, errors.Errorf("%s: axis %d out of range for shape %v", op, op.Axis, input.Shape())
	}
	n := int64(input.Shape()[op.Axis])
	start, err := resolveBound(op.Start, symbols, n)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: start", op)
	}
	end, err := resolveBound(op.End, symbols, n)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s: end", op)
	}
	if end < start {
		end = start
	}
	positions := make([]int, 0, end-start)
	for p := start; p < end; p++ {
		positions = append(positions, int(p))
	}
	return []*tensor.Tensor{gatherAxis(input, op.Axis, positions)}, nil
}

// resolveBound evaluates a bound, counts negative values from the end, and clamps into [0, n].
func resolveBound(bound tdim.Dim, symbols tdim.SymbolValues, n int64) (int64, error) {
	v, err := bound.EvalToInt64(symbols)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		v += n
	}
	return min(max(v, 0), n), nil
}

// Declutter implements typed.Declutterer: a slice over the whole axis is removed.
func (op *Slice) Declutter(model *typed.Model, node *typed.Node) (*typed.Patch, error) {
	f, err := model.OutletFact(node.Inputs[0])
	if err != nil {
		return nil, err
	}
	if op.Axis < f.Rank() && op.Start.IsZero() && op.End.Equal(f.Shape[op.Axis]) {
		return typed.ShuntOneOp(model, node)
	}
	return nil, nil
}
