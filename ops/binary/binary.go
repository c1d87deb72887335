// Package binary implements the generic binary operator: a MiniOp describes the arithmetic (its kernels per
// datum type, quantized and out-of-place paths, cost and simplifications), and TypedBinOp is the typed
// operator applying it with numpy-style broadcasting.
package binary

import (
	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/ops/kernels"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"github.com/pkg/errors"
)

// OutOfPlaceFn computes c directly on whole tensors. It returns (nil, nil) when it doesn't apply to the
// given datum types, so the generic broadcasting loop is used instead.
type OutOfPlaceFn func(c tensor.DatumType, a, b *tensor.Tensor) (*tensor.Tensor, error)

// QuantizedFn computes the stored value of c from the stored values of a and b, in int64. The result is
// saturated into the storage of c by the caller.
type QuantizedFn func(a, b int64, qa, qb, qc tensor.DatumType) int64

// DeclutterFn proposes a simplification of a node of the operator, or nil.
type DeclutterFn func(model *typed.Model, node *typed.Node) (*typed.Patch, error)

// MiniOp describes a binary arithmetic operation. Fields other than Name and Kernels are optional.
type MiniOp struct {
	Name string

	// Kernels per operating datum type.
	Kernels *kernels.Dispatcher[kernels.BinaryKernel]

	// OperatingDatumType returns the datum type the computation is done in, given the datum types of the
	// operands. By default it is their tensor.SuperType.
	OperatingDatumType func(a, b tensor.DatumType) (tensor.DatumType, error)

	// ResultDatumType returns the datum type of the result. By default it is the datum type of the
	// operands (after promotion).
	ResultDatumType func(a, b tensor.DatumType) (tensor.DatumType, error)

	// OutOfPlace is tried first at evaluation.
	OutOfPlace OutOfPlaceFn

	// Quantized computes operations on quantized operands.
	Quantized QuantizedFn

	// Declutter is the simplification hook, used by TypedBinOp.Declutter.
	Declutter DeclutterFn

	// Cost per output element, for the given operating datum type.
	Cost func(dt tensor.DatumType) []typed.Cost

	// Validation of the rewrites of this operation.
	Validation typed.Validation
}

// String implements fmt.Stringer.
func (m *MiniOp) String() string { return m.Name }

func (m *MiniOp) resultDatumType(a, b tensor.DatumType) (tensor.DatumType, error) {
	if m.ResultDatumType != nil {
		return m.ResultDatumType(a, b)
	}
	return tensor.SuperType(a, b)
}

func (m *MiniOp) operatingDatumType(a, b tensor.DatumType) (tensor.DatumType, error) {
	if m.OperatingDatumType != nil {
		return m.OperatingDatumType(a, b)
	}
	return tensor.SuperType(a, b)
}

// Eval computes the operation on a and b, broadcasting them, into a result of datum type c.
//
// The out-of-place path is tried first, then quantized operands go through Quantized, and otherwise the
// operands are cast to the operating datum type and the kernel of that type is applied.
func (m *MiniOp) Eval(c tensor.DatumType, a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if m.OutOfPlace != nil {
		result, err := m.OutOfPlace(c, a, b)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s", m.Name)
		}
		if result != nil {
			return result, nil
		}
	}
	shape, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", m.Name)
	}
	if a, err = a.BroadcastIntoRank(len(shape)); err != nil {
		return nil, err
	}
	if b, err = b.BroadcastIntoRank(len(shape)); err != nil {
		return nil, err
	}

	if a.DatumType().IsQuantized() || b.DatumType().IsQuantized() || c.IsQuantized() {
		if m.Quantized == nil {
			return nil, errors.Errorf("%s doesn't support quantized datum types (%s, %s -> %s)", m.Name, a.DatumType(), b.DatumType(), c)
		}
		qa, qb := a.DatumType(), b.DatumType()
		return kernels.QuantizedBinary(a, b, shape, c, func(x, y int64) int64 {
			return m.Quantized(x, y, qa, qb, c)
		}), nil
	}

	operating, err := m.operatingDatumType(a.DatumType(), b.DatumType())
	if err != nil {
		return nil, errors.WithMessagef(err, "%s", m.Name)
	}
	kernel, found := m.Kernels.Lookup(operating)
	if !found {
		return nil, errors.Errorf("%s doesn't support datum type %s", m.Name, operating)
	}
	if a, err = a.CastTo(operating); err != nil {
		return nil, err
	}
	if b, err = b.CastTo(operating); err != nil {
		return nil, err
	}
	result, err := tensor.FromData(operating, shape, kernel(a, b, shape))
	if err != nil {
		return nil, err
	}
	return result.CastTo(c)
}

// TypedBinOp is the typed operator of a MiniOp. Operands are broadcast numpy-style.
type TypedBinOp struct {
	Op *MiniOp

	// OutDatumType, if set, overrides the result datum type, e.g. the quantization of the output.
	OutDatumType *tensor.DatumType
}

// New creates the typed operator applying m.
func New(m *MiniOp) *TypedBinOp { return &TypedBinOp{Op: m} }

// WithOutDatumType creates the typed operator applying m, with the given result datum type.
func WithOutDatumType(m *MiniOp, dt tensor.DatumType) *TypedBinOp {
	return &TypedBinOp{Op: m, OutDatumType: &dt}
}

var (
	_ typed.Op          = (*TypedBinOp)(nil)
	_ typed.Declutterer = (*TypedBinOp)(nil)
	_ typed.Coster      = (*TypedBinOp)(nil)
	_ typed.Validator   = (*TypedBinOp)(nil)
)

// Name implements typed.Op.
func (op *TypedBinOp) Name() string { return op.Op.Name }

func (op *TypedBinOp) resultDatumType(a, b tensor.DatumType) (tensor.DatumType, error) {
	if op.OutDatumType != nil {
		return *op.OutDatumType, nil
	}
	return op.Op.resultDatumType(a, b)
}

// OutputDatumType returns the datum type of the result for operands of datum types a and b.
func (op *TypedBinOp) OutputDatumType(a, b tensor.DatumType) (tensor.DatumType, error) {
	return op.resultDatumType(a, b)
}

// OutputFacts implements typed.Op.
func (op *TypedBinOp) OutputFacts(inputs []fact.TypedFact) ([]fact.TypedFact, error) {
	if err := checkArity(inputs); err != nil {
		return nil, err
	}
	dt, err := op.resultDatumType(inputs[0].DatumType, inputs[1].DatumType)
	if err != nil {
		return nil, err
	}
	shape, err := broadcastFactShapes(inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	return []fact.TypedFact{fact.Typed(dt, shape...)}, nil
}

// Eval implements typed.Op.
func (op *TypedBinOp) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 2 {
		return nil, errors.Errorf("%s expects 2 inputs, got %d", op.Name(), len(inputs))
	}
	c, err := op.resultDatumType(inputs[0].DatumType(), inputs[1].DatumType())
	if err != nil {
		return nil, err
	}
	result, err := op.Op.Eval(c, inputs[0], inputs[1])
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{result}, nil
}

// Declutter implements typed.Declutterer.
func (op *TypedBinOp) Declutter(model *typed.Model, node *typed.Node) (*typed.Patch, error) {
	if op.Op.Declutter == nil {
		return nil, nil
	}
	return op.Op.Declutter(model, node)
}

// Cost implements typed.Coster: the per element cost of the operation times the number of output elements.
func (op *TypedBinOp) Cost(inputs []fact.TypedFact) ([]typed.Cost, error) {
	if op.Op.Cost == nil {
		return nil, nil
	}
	outputs, err := op.OutputFacts(inputs)
	if err != nil {
		return nil, err
	}
	operating, err := op.Op.operatingDatumType(inputs[0].DatumType, inputs[1].DatumType)
	if err != nil {
		// Quantized operands with different parameters: accounted in the output datum type.
		operating = outputs[0].DatumType
	}
	volume := outputs[0].Volume()
	costs := op.Op.Cost(operating)
	for ii := range costs {
		costs[ii].Count = costs[ii].Count.Mul(volume)
	}
	return costs, nil
}

// Validation implements typed.Validator.
func (op *TypedBinOp) Validation() typed.Validation { return op.Op.Validation }
