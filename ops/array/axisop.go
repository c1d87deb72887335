package array

import (
	"fmt"
	"slices"

	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"github.com/pkg/errors"
)

// AxisOpKind enumerates the axis manipulations of AxisOp.
type AxisOpKind int

const (
	// AxisAdd inserts an axis of length 1.
	AxisAdd AxisOpKind = iota

	// AxisRm removes an axis of length 1.
	AxisRm
)

// AxisOp adds or removes an axis of length 1. Elements are not moved.
type AxisOp struct {
	Kind AxisOpKind
	Axis int
}

// AddAxis creates the AxisOp inserting an axis of length 1 at position axis.
func AddAxis(axis int) *AxisOp { return &AxisOp{Kind: AxisAdd, Axis: axis} }

// RmAxis creates the AxisOp removing axis, which must have length 1.
func RmAxis(axis int) *AxisOp { return &AxisOp{Kind: AxisRm, Axis: axis} }

var (
	_ typed.Op          = (*AxisOp)(nil)
	_ typed.Declutterer = (*AxisOp)(nil)
)

// Name implements typed.Op.
func (op *AxisOp) Name() string {
	if op.Kind == AxisAdd {
		return "AddAxis"
	}
	return "RmAxis"
}

// String implements fmt.Stringer.
func (op *AxisOp) String() string { return fmt.Sprintf("%s(%d)", op.Name(), op.Axis) }

func (op *AxisOp) transformShape(shape []tdim.Dim) ([]tdim.Dim, error) {
	switch op.Kind {
	case AxisAdd:
		if op.Axis < 0 || op.Axis > len(shape) {
			return nil, errors.Errorf("%s: axis out of range for rank %d", op, len(shape))
		}
		return slices.Insert(slices.Clone(shape), op.Axis, tdim.Int(1)), nil
	case AxisRm:
		if err := checkAxis(op.Name(), op.Axis, len(shape)); err != nil {
			return nil, err
		}
		if !shape[op.Axis].IsOne() {
			return nil, errors.Errorf("%s: axis has length %s, only axes of length 1 can be removed", op, shape[op.Axis])
		}
		return slices.Delete(slices.Clone(shape), op.Axis, op.Axis+1), nil
	}
	return nil, errors.Errorf("unknown axis operation %d", op.Kind)
}

// OutputFacts implements typed.Op.
func (op *AxisOp) OutputFacts(inputs []fact.TypedFact) ([]fact.TypedFact, error) {
	if err := checkSingleInput(op.Name(), inputs); err != nil {
		return nil, err
	}
	shape, err := op.transformShape(inputs[0].Shape)
	if err != nil {
		return nil, err
	}
	out := fact.Typed(inputs[0].DatumType, shape...)
	out.Uniform = inputs[0].Uniform
	return []fact.TypedFact{out}, nil
}

// Eval implements typed.Op.
func (op *AxisOp) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s expects 1 input, got %d", op.Name(), len(inputs))
	}
	shape, err := op.transformShape(inputs[0].Dims())
	if err != nil {
		return nil, err
	}
	dims, err := tdim.ToInts(shape)
	if err != nil {
		return nil, err
	}
	result, err := inputs[0].Reshape(dims...)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{result}, nil
}

// Declutter implements typed.Declutterer: removing the axis just added by the previous node cancels
// both.
func (op *AxisOp) Declutter(model *typed.Model, node *typed.Node) (*typed.Patch, error) {
	if op.Kind != AxisRm {
		return nil, nil
	}
	prec := model.Node(node.Inputs[0].Node)
	added, ok := prec.Op.(*AxisOp)
	if !ok || added.Kind != AxisAdd || added.Axis != op.Axis {
		return nil, nil
	}
	return typed.Rewire(model, prec.Inputs[:1], node.OutletIDs(), func(_ *typed.Patch, taps []typed.OutletID) ([]typed.OutletID, error) {
		return taps, nil
	})
}
