package infer

import (
	"slices"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/graph"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"github.com/pkg/errors"
)

// Op is an operator of the inference phase, following the Expansion protocol:
//
//   - Rules declares, on a Solver, the relations between the facts of its inputs and outputs.
//   - Wire materializes the operator as one or more typed nodes, once the facts of its inputs are known.
type Op interface {
	// Name of the operator, e.g. "StridedSlice".
	Name() string

	// NOutputs returns the number of outputs.
	NOutputs() int

	// Rules declares the inference rules. It must check the number of inputs and outputs first.
	Rules(s *Solver, inputs, outputs []TensorProxy) error

	// Wire adds to target the typed nodes implementing the operator, reading the given outlets, and
	// returns the outlets replacing the operator's outputs. Nodes added must be named with the given
	// prefix. It fails with graph.ErrNotTypable if some input it needs as a constant is not one.
	Wire(prefix string, target *typed.Model, inputs []typed.OutletID) ([]typed.OutletID, error)
}

// CheckInputArity fails with graph.ErrArityMismatch if the number of inputs is not expected.
func CheckInputArity(inputs []TensorProxy, expected int) error {
	if len(inputs) != expected {
		return errors.Wrapf(graph.ErrArityMismatch, "%d inputs given, %d expected", len(inputs), expected)
	}
	return nil
}

// CheckInputArityRange fails with graph.ErrArityMismatch if the number of inputs is not within [minInputs, maxInputs].
func CheckInputArityRange(inputs []TensorProxy, minInputs, maxInputs int) error {
	if len(inputs) < minInputs || len(inputs) > maxInputs {
		return errors.Wrapf(graph.ErrArityMismatch, "%d inputs given, between %d and %d expected", len(inputs), minInputs, maxInputs)
	}
	return nil
}

// CheckOutputArity fails with graph.ErrArityMismatch if the number of outputs is not expected.
func CheckOutputArity(outputs []TensorProxy, expected int) error {
	if len(outputs) != expected {
		return errors.Wrapf(graph.ErrArityMismatch, "%d outputs given, %d expected", len(outputs), expected)
	}
	return nil
}

// InferFacts runs the rules of op on the given facts, and returns them narrowed as much as the rules allow.
// The given slices are not modified.
func InferFacts(op Op, inputs, outputs []fact.InferenceFact, maxSteps int) ([]fact.InferenceFact, []fact.InferenceFact, error) {
	ctx := &Context{Inputs: slices.Clone(inputs), Outputs: slices.Clone(outputs)}
	s := &Solver{}
	if err := op.Rules(s, proxies(inputSide, len(inputs)), proxies(outputSide, len(outputs))); err != nil {
		return nil, nil, err
	}
	if err := s.Run(ctx, maxSteps); err != nil {
		return nil, nil, err
	}
	return ctx.Inputs, ctx.Outputs, nil
}

// Source is the operator of the inputs of an inference model.
type Source struct {
	Fact fact.InferenceFact
}

// Name implements Op.
func (*Source) Name() string { return "Source" }

// NOutputs implements Op.
func (*Source) NOutputs() int { return 1 }

// Rules implements Op.
func (src *Source) Rules(s *Solver, inputs, outputs []TensorProxy) error {
	if err := CheckInputArity(inputs, 0); err != nil {
		return err
	}
	if err := CheckOutputArity(outputs, 1); err != nil {
		return err
	}
	Equals(s, outputs[0].DatumType, Known(src.Fact.DatumType))
	Equals(s, outputs[0].Shape, Known(src.Fact.Shape))
	return nil
}

// Wire implements Op. Model.IntoTyped wires sources with their narrowed fact instead.
func (src *Source) Wire(prefix string, target *typed.Model, _ []typed.OutletID) ([]typed.OutletID, error) {
	f, err := src.Fact.ToTypedFact()
	if err != nil {
		return nil, errors.Wrap(graph.ErrNotTypable, err.Error())
	}
	outlet, err := target.AddSource(prefix, f)
	if err != nil {
		return nil, err
	}
	return []typed.OutletID{outlet}, nil
}

// Const is the operator of a constant of an inference model.
type Const struct {
	Value *tensor.Tensor
}

// Name implements Op.
func (*Const) Name() string { return "Const" }

// NOutputs implements Op.
func (*Const) NOutputs() int { return 1 }

// Rules implements Op.
func (c *Const) Rules(s *Solver, inputs, outputs []TensorProxy) error {
	if err := CheckInputArity(inputs, 0); err != nil {
		return err
	}
	if err := CheckOutputArity(outputs, 1); err != nil {
		return err
	}
	Equals(s, outputs[0].Value, KnownValue(c.Value))
	return nil
}

// Wire implements Op.
func (c *Const) Wire(prefix string, target *typed.Model, _ []typed.OutletID) ([]typed.OutletID, error) {
	outlet, err := target.AddConst(prefix, c.Value)
	if err != nil {
		return nil, err
	}
	return []typed.OutletID{outlet}, nil
}

// typedAdapter makes a typed operator usable in an inference model.
type typedAdapter struct {
	op       typed.Op
	nOutputs int
}

// Typed adapts a typed operator with a single output to the Expansion protocol. Its output facts are derived
// from its OutputFacts once the datum types and shapes of all its inputs are known, and its outputs values
// are computed once all its inputs values are known.
func Typed(op typed.Op) Op { return TypedN(op, 1) }

// TypedN is like Typed, for an operator with nOutputs outputs.
func TypedN(op typed.Op, nOutputs int) Op { return &typedAdapter{op: op, nOutputs: nOutputs} }

// Name implements Op.
func (a *typedAdapter) Name() string { return a.op.Name() }

// NOutputs implements Op.
func (a *typedAdapter) NOutputs() int { return a.nOutputs }

// Rules implements Op.
func (a *typedAdapter) Rules(s *Solver, inputs, outputs []TensorProxy) error {
	if err := CheckOutputArity(outputs, a.nOutputs); err != nil {
		return err
	}
	types := DatumTypes(inputs)
	shapes := Shapes(inputs)
	s.GivenAllTypes(types, func(s *Solver, dts []tensor.DatumType) error {
		s.GivenAllShapes(shapes, func(s *Solver, dims [][]tdim.Dim) error {
			facts := make([]fact.TypedFact, len(inputs))
			for ii := range facts {
				facts[ii] = fact.Typed(dts[ii], dims[ii]...)
			}
			outputFacts, err := a.op.OutputFacts(facts)
			if err != nil {
				return err
			}
			if len(outputFacts) != len(outputs) {
				return errors.Wrapf(graph.ErrArityMismatch, "%s produces %d outputs, %d expected", a.op.Name(), len(outputFacts), len(outputs))
			}
			for ii, f := range outputFacts {
				Equals(s, outputs[ii].DatumType, KnownType(f.DatumType))
				Equals(s, outputs[ii].Shape, KnownShape(f.Shape...))
			}
			return nil
		})
		return nil
	})
	s.GivenAllValues(Values(inputs), func(s *Solver, values []*tensor.Tensor) error {
		if len(values) == 0 {
			return nil
		}
		var results []*tensor.Tensor
		err := exceptions.TryCatch[error](func() {
			var err error
			results, err = a.op.Eval(values)
			if err != nil {
				panic(err)
			}
		})
		if err != nil {
			return err
		}
		if len(results) != len(outputs) {
			return errors.Wrapf(graph.ErrArityMismatch, "%s evaluated to %d outputs, %d expected", a.op.Name(), len(results), len(outputs))
		}
		for ii, v := range results {
			Equals(s, outputs[ii].Value, KnownValue(v))
		}
		return nil
	})
	return nil
}

// Wire implements Op.
func (a *typedAdapter) Wire(prefix string, target *typed.Model, inputs []typed.OutletID) ([]typed.OutletID, error) {
	return target.WireNode(prefix, a.op, inputs)
}
