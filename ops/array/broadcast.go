package array

import (
	"fmt"

	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"github.com/pkg/errors"
)

// MultiBroadcastTo broadcasts its input, numpy style, to Shape.
type MultiBroadcastTo struct {
	Shape []tdim.Dim
}

// NewMultiBroadcastTo creates a MultiBroadcastTo to the given shape.
func NewMultiBroadcastTo(shape ...tdim.Dim) *MultiBroadcastTo {
	return &MultiBroadcastTo{Shape: shape}
}

var (
	_ typed.Op                = (*MultiBroadcastTo)(nil)
	_ typed.SymbolicEvaluator = (*MultiBroadcastTo)(nil)
	_ typed.Declutterer       = (*MultiBroadcastTo)(nil)
)

// Name implements typed.Op.
func (*MultiBroadcastTo) Name() string { return "MultiBroadcastTo" }

// String implements fmt.Stringer.
func (op *MultiBroadcastTo) String() string { return fmt.Sprintf("MultiBroadcastTo(%v)", op.Shape) }

// OutputFacts implements typed.Op. A uniform input stays uniform.
func (op *MultiBroadcastTo) OutputFacts(inputs []fact.TypedFact) ([]fact.TypedFact, error) {
	if err := checkSingleInput(op.Name(), inputs); err != nil {
		return nil, err
	}
	shape, err := tdim.BroadcastShapes(inputs[0].Shape, op.Shape)
	if err != nil {
		return nil, errors.WithMessagef(err, "%s of %s", op, inputs[0])
	}
	if len(shape) != len(op.Shape) {
		return nil, errors.Errorf("%s: input %s has a higher rank", op, inputs[0])
	}
	for axis, d := range shape {
		if !d.Equal(op.Shape[axis]) {
			return nil, errors.Errorf("%s: input %s doesn't broadcast to the target shape", op, inputs[0])
		}
	}
	out := fact.Typed(inputs[0].DatumType, op.Shape...)
	out.Uniform = inputs[0].Uniform
	return []fact.TypedFact{out}, nil
}

// Eval implements typed.Op. It requires a concrete target shape.
func (op *MultiBroadcastTo) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	return op.EvalWithSymbols(nil, inputs)
}

// EvalWithSymbols implements typed.SymbolicEvaluator.
func (op *MultiBroadcastTo) EvalWithSymbols(symbols tdim.SymbolValues, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s expects 1 input, got %d", op.Name(), len(inputs))
	}
	shape := make([]int, len(op.Shape))
	for axis, d := range op.Shape {
		v, err := d.EvalToInt64(symbols)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s", op)
		}
		shape[axis] = int(v)
	}
	result, err := inputs[0].BroadcastTo(shape)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{result}, nil
}

// Declutter implements typed.Declutterer: broadcasting to the input's own shape is the identity.
func (op *MultiBroadcastTo) Declutter(model *typed.Model, node *typed.Node) (*typed.Patch, error) {
	f, err := model.OutletFact(node.Inputs[0])
	if err != nil {
		return nil, err
	}
	if f.SameShape(fact.Typed(f.DatumType, op.Shape...)) {
		return typed.ShuntOneOp(model, node)
	}
	return nil, nil
}
