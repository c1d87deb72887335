package array

import (
	"fmt"

	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"github.com/pkg/errors"
)

// Downsample keeps one element every |Stride| along an axis, skipping the first Modulo elements.
// A negative Stride walks the axis backwards, starting from its last element.
type Downsample struct {
	Axis   int
	Stride int
	Modulo int
}

// NewDownsample creates a Downsample of axis.
func NewDownsample(axis, stride, modulo int) *Downsample {
	return &Downsample{Axis: axis, Stride: stride, Modulo: modulo}
}

var (
	_ typed.Op          = (*Downsample)(nil)
	_ typed.Declutterer = (*Downsample)(nil)
)

// Name implements typed.Op.
func (*Downsample) Name() string { return "Downsample" }

// String implements fmt.Stringer.
func (op *Downsample) String() string {
	return fmt.Sprintf("Downsample(axis=%d, stride=%d, modulo=%d)", op.Axis, op.Stride, op.Modulo)
}

func (op *Downsample) absStride() int64 {
	if op.Stride < 0 {
		return int64(-op.Stride)
	}
	return int64(op.Stride)
}

// outputLength is ceil((n - modulo) / |stride|).
func (op *Downsample) outputLength(n tdim.Dim) (tdim.Dim, error) {
	s := op.absStride()
	return n.SubInt(int64(op.Modulo)).AddInt(s - 1).DivInt(s)
}

// OutputFacts implements typed.Op.
func (op *Downsample) OutputFacts(inputs []fact.TypedFact) ([]fact.TypedFact, error) {
	if err := checkSingleInput(op.Name(), inputs); err != nil {
		return nil, err
	}
	if err := checkAxis(op.Name(), op.Axis, inputs[0].Rank()); err != nil {
		return nil, err
	}
	if op.Stride == 0 || op.Modulo < 0 {
		return nil, errors.Errorf("invalid %s", op)
	}
	shape := append([]tdim.Dim(nil), inputs[0].Shape...)
	length, err := op.outputLength(shape[op.Axis])
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", op)
	}
	shape[op.Axis] = length
	return []fact.TypedFact{fact.Typed(inputs[0].DatumType, shape...)}, nil
}

// Eval implements typed.Op.
func (op *Downsample) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s expects 1 input, got %d", op.Name(), len(inputs))
	}
	input := inputs[0]
	if op.Axis >= input.Rank() || op.Stride == 0 {
		return nil, errors.Errorf("%s cannot apply to shape %v", op, input.Shape())
	}
	n := input.Shape()[op.Axis]
	var positions []int
	if op.Stride > 0 {
		for p := op.Modulo; p < n; p += op.Stride {
			positions = append(positions, p)
		}
	} else {
		for p := n - 1; p >= op.Modulo; p += op.Stride {
			positions = append(positions, p)
		}
	}
	return []*tensor.Tensor{gatherAxis(input, op.Axis, positions)}, nil
}

// Declutter implements typed.Declutterer: stride 1 without offset is the identity.
func (op *Downsample) Declutter(model *typed.Model, node *typed.Node) (*typed.Patch, error) {
	if op.Stride == 1 && op.Modulo == 0 {
		return typed.ShuntOneOp(model, node)
	}
	return nil, nil
}
