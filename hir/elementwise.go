package hir

import (
	"github.com/gomlx/typedgraph/infer"
	"github.com/gomlx/typedgraph/ops/elementwise"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
)

// ElementWise applies a unary function to every element: the output has the datum type and shape of
// the input.
type ElementWise struct {
	Op *elementwise.MiniOp
}

// NewElementWise creates the inference operator for the unary function m.
func NewElementWise(m *elementwise.MiniOp) *ElementWise { return &ElementWise{Op: m} }

var _ infer.Op = (*ElementWise)(nil)

// Name implements infer.Op.
func (op *ElementWise) Name() string { return op.Op.Name }

// NOutputs implements infer.Op.
func (*ElementWise) NOutputs() int { return 1 }

// Rules implements infer.Op.
func (op *ElementWise) Rules(s *infer.Solver, inputs, outputs []infer.TensorProxy) error {
	if err := infer.CheckInputArity(inputs, 1); err != nil {
		return err
	}
	if err := infer.CheckOutputArity(outputs, 1); err != nil {
		return err
	}
	infer.Equals(s, inputs[0].DatumType, outputs[0].DatumType)
	infer.Equals(s, inputs[0].Shape, outputs[0].Shape)
	s.GivenValue(inputs[0].Value, func(s *infer.Solver, v *tensor.Tensor) error {
		result, err := op.Op.Eval(v)
		if err != nil {
			return err
		}
		infer.Equals(s, outputs[0].Value, infer.KnownValue(result))
		return nil
	})
	return nil
}

// Wire implements infer.Op.
func (op *ElementWise) Wire(prefix string, target *typed.Model, inputs []typed.OutletID) ([]typed.OutletID, error) {
	return target.WireNode(prefix, elementwise.New(op.Op), inputs)
}
