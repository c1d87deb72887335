package hir

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/typedgraph/infer"
	"github.com/gomlx/typedgraph/ops/array"
	"github.com/gomlx/typedgraph/ops/binary"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
)

// Binary is a broadcasting binary operator. Operands of lower rank are aligned to the right: they get
// leading axes of length 1 when wired, so the typed node sees operands of the same rank.
type Binary struct {
	Op *binary.MiniOp
}

// NewBinary creates the inference operator for the binary function m.
func NewBinary(m *binary.MiniOp) *Binary { return &Binary{Op: m} }

var _ infer.Op = (*Binary)(nil)

// Name implements infer.Op.
func (op *Binary) Name() string { return op.Op.Name }

// NOutputs implements infer.Op.
func (*Binary) NOutputs() int { return 1 }

// Rules implements infer.Op.
func (op *Binary) Rules(s *infer.Solver, inputs, outputs []infer.TensorProxy) error {
	if err := infer.CheckInputArity(inputs, 2); err != nil {
		return err
	}
	if err := infer.CheckOutputArity(outputs, 1); err != nil {
		return err
	}
	typedOp := binary.New(op.Op)
	s.GivenAllTypes(infer.DatumTypes(inputs), func(s *infer.Solver, dts []tensor.DatumType) error {
		dt, err := typedOp.OutputDatumType(dts[0], dts[1])
		if err != nil {
			return err
		}
		infer.Equals(s, outputs[0].DatumType, infer.KnownType(dt))
		return nil
	})
	s.GivenAllShapes(infer.Shapes(inputs), func(s *infer.Solver, shapes [][]tdim.Dim) error {
		shape, err := tdim.BroadcastShapes(shapes...)
		if err != nil {
			return err
		}
		infer.Equals(s, outputs[0].Shape, infer.KnownShape(shape...))
		return nil
	})
	s.GivenAllValues(infer.Values(inputs), func(s *infer.Solver, values []*tensor.Tensor) error {
		var results []*tensor.Tensor
		err := exceptions.TryCatch[error](func() {
			var err error
			if results, err = typedOp.Eval(values); err != nil {
				panic(err)
			}
		})
		if err != nil {
			return err
		}
		infer.Equals(s, outputs[0].Value, infer.KnownValue(results[0]))
		return nil
	})
	return nil
}

// Wire implements infer.Op.
func (op *Binary) Wire(prefix string, target *typed.Model, inputs []typed.OutletID) ([]typed.OutletID, error) {
	wires, err := alignRanks(prefix, target, inputs)
	if err != nil {
		return nil, err
	}
	return target.WireNode(prefix, binary.New(op.Op), wires)
}

// alignRanks prepends axes of length 1 to the inputs of lower rank, until all inputs have the same rank.
func alignRanks(prefix string, target *typed.Model, inputs []typed.OutletID) ([]typed.OutletID, error) {
	facts, err := target.OutletFacts(inputs)
	if err != nil {
		return nil, err
	}
	rank := 0
	for _, f := range facts {
		rank = max(rank, f.Rank())
	}
	wires := make([]typed.OutletID, len(inputs))
	for ii, wire := range inputs {
		for axis := facts[ii].Rank(); axis < rank; axis++ {
			name := fmt.Sprintf("%s.fix-rank-%d-%d", prefix, ii, axis)
			outlets, err := target.WireNode(name, array.AddAxis(0), []typed.OutletID{wire})
			if err != nil {
				return nil, err
			}
			wire = outlets[0]
		}
		wires[ii] = wire
	}
	return wires, nil
}
