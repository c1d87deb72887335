// Package elementwise implements the generic unary operator: a MiniOp describes the function (its kernels
// per datum type, cost and simplifications), and ElementWiseOp is the typed operator applying it.
package elementwise

import (
	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/graph"
	"github.com/gomlx/typedgraph/ops/kernels"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"github.com/pkg/errors"
)

// Kind enumerates the elementwise functions rewrites need to recognize.
type Kind int

const (
	// KindOther is any function not listed.
	KindOther Kind = iota
	KindAbs
	KindCeil
	KindCos
	KindCube
	KindExp
	KindFloor
	KindLn
	KindNeg
	KindRecip
	KindRound
	KindRsqrt
	KindSign
	KindSin
	KindSqrt
	KindSquare
	KindTanh
)

var kindNames = [...]string{"Other", "Abs", "Ceil", "Cos", "Cube", "Exp", "Floor", "Ln", "Neg", "Recip",
	"Round", "Rsqrt", "Sign", "Sin", "Sqrt", "Square", "Tanh"}

// String implements fmt.Stringer.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "Unknown"
	}
	return kindNames[k]
}

// DeclutterFn proposes a simplification of a node of the operator, or nil.
type DeclutterFn func(model *typed.Model, node *typed.Node) (*typed.Patch, error)

// MiniOp describes an elementwise function. Fields other than Name and Kernels are optional.
type MiniOp struct {
	Name string
	Kind Kind

	// Kernels per operating datum type.
	Kernels *kernels.Dispatcher[kernels.UnaryKernel]

	// OperatingDatumType overrides the datum type the computation is done in, e.g. Int64 for symbolic
	// dimensions. The result is cast back to the input datum type.
	OperatingDatumType func(dt tensor.DatumType) (tensor.DatumType, bool)

	// Declutter is the simplification hook, used by ElementWiseOp.Declutter.
	Declutter DeclutterFn

	// Cost per element, for the given datum type.
	Cost func(dt tensor.DatumType) []typed.Cost

	// Validation of the rewrites involving this function.
	Validation typed.Validation
}

// String implements fmt.Stringer.
func (m *MiniOp) String() string { return m.Name }

// Eval applies the function to every element of a.
//
// Quantized tensors are dequantized to Float32, computed, and quantized back to their datum type.
func (m *MiniOp) Eval(a *tensor.Tensor) (*tensor.Tensor, error) {
	dt := a.DatumType()
	operating := dt
	switch {
	case dt.IsQuantized():
		operating = tensor.F32
	case m.OperatingDatumType != nil:
		if override, ok := m.OperatingDatumType(dt); ok {
			operating = override
		}
	}
	kernel, found := m.Kernels.Lookup(operating)
	if !found {
		return nil, errors.Errorf("%s doesn't support datum type %s", m.Name, dt)
	}
	input, err := a.CastTo(operating)
	if err != nil {
		return nil, err
	}
	result, err := tensor.FromData(operating, input.Shape(), kernel(input))
	if err != nil {
		return nil, err
	}
	return result.CastTo(dt)
}

// ElementWiseOp is the typed operator of a MiniOp.
type ElementWiseOp struct {
	Op *MiniOp
}

// New creates the typed operator applying m.
func New(m *MiniOp) *ElementWiseOp { return &ElementWiseOp{Op: m} }

var (
	_ typed.Op          = (*ElementWiseOp)(nil)
	_ typed.Declutterer = (*ElementWiseOp)(nil)
	_ typed.Coster      = (*ElementWiseOp)(nil)
	_ typed.Validator   = (*ElementWiseOp)(nil)
)

// Name implements typed.Op.
func (op *ElementWiseOp) Name() string { return op.Op.Name }

// Kind returns the kind of the function applied.
func (op *ElementWiseOp) Kind() Kind { return op.Op.Kind }

// KindOf returns the kind of elementwise function of a typed operator, KindOther for any other operator.
func KindOf(op typed.Op) Kind {
	if ew, ok := op.(*ElementWiseOp); ok {
		return ew.Op.Kind
	}
	return KindOther
}

// OutputFacts implements typed.Op.
func (op *ElementWiseOp) OutputFacts(inputs []fact.TypedFact) ([]fact.TypedFact, error) {
	if len(inputs) != 1 {
		return nil, errors.Wrapf(graph.ErrArityMismatch, "%s expects 1 input, got %d", op.Name(), len(inputs))
	}
	dt := inputs[0].DatumType
	if !dt.IsQuantized() {
		operating := dt
		if op.Op.OperatingDatumType != nil {
			if override, ok := op.Op.OperatingDatumType(dt); ok {
				operating = override
			}
		}
		if !op.Op.Kernels.Supports(operating) {
			return nil, errors.Errorf("%s doesn't support datum type %s", op.Name(), dt)
		}
	}
	return []fact.TypedFact{inputs[0].WithoutValue()}, nil
}

// Eval implements typed.Op.
func (op *ElementWiseOp) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("%s expects 1 input, got %d", op.Name(), len(inputs))
	}
	result, err := op.Op.Eval(inputs[0])
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{result}, nil
}

// Declutter implements typed.Declutterer.
func (op *ElementWiseOp) Declutter(model *typed.Model, node *typed.Node) (*typed.Patch, error) {
	if op.Op.Declutter == nil {
		return nil, nil
	}
	return op.Op.Declutter(model, node)
}

// Cost implements typed.Coster.
func (op *ElementWiseOp) Cost(inputs []fact.TypedFact) ([]typed.Cost, error) {
	if op.Op.Cost == nil || len(inputs) != 1 {
		return nil, nil
	}
	volume := inputs[0].Volume()
	costs := op.Op.Cost(inputs[0].DatumType)
	for ii := range costs {
		costs[ii].Count = costs[ii].Count.Mul(volume)
	}
	return costs, nil
}

// Validation implements typed.Validator.
func (op *ElementWiseOp) Validation() typed.Validation { return op.Op.Validation }
