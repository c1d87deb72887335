// Package typed implements the typed phase of a model: a graph whose outlets all carry a fully resolved
// TypedFact, the patches that rewrite it, the declutter engine driving those rewrites to a fixpoint, and a
// reference sequential evaluator.
package typed

import (
	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/graph"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
)

// OutletID and InletID are re-exported for convenience.
type (
	OutletID = graph.OutletID
	InletID  = graph.InletID
)

// Op is a typed operator: its output facts are computed from its input facts, and it can be evaluated.
type Op interface {
	// Name of the operator, e.g. "Add".
	Name() string

	// OutputFacts computes the facts of the outputs from the facts of the inputs. It fails if the inputs
	// are not acceptable.
	OutputFacts(inputs []fact.TypedFact) ([]fact.TypedFact, error)

	// Eval computes the outputs. Inputs must not be modified.
	Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
}

// Declutterer is implemented by operators that know how to simplify themselves.
//
// Declutter must not change the model: it returns a patch to be applied, or nil if there is nothing to do.
type Declutterer interface {
	Declutter(model *Model, node *Node) (*Patch, error)
}

// SymbolicEvaluator is implemented by operators whose evaluation depends on the values bound to the symbols
// of the model, e.g. a slice with symbolic bounds.
type SymbolicEvaluator interface {
	EvalWithSymbols(symbols tdim.SymbolValues, inputs []*tensor.Tensor) ([]*tensor.Tensor, error)
}

// Validation tells how exactly a rewrite preserves the values of an operator.
type Validation int

const (
	// Exact rewrites produce bit-exact results.
	Exact Validation = iota

	// Rounding rewrites may differ by floating point rounding.
	Rounding
)

// Validator is implemented by operators whose outputs are only approximately preserved by their rewrites.
type Validator interface {
	Validation() Validation
}

// CostKind enumerates the kinds of work accounted by Cost.
type CostKind int

const (
	// CostFMA is a fused multiply-add, or any cheap arithmetic operation.
	CostFMA CostKind = iota

	// CostDiv is a division.
	CostDiv
)

// String implements fmt.Stringer.
func (k CostKind) String() string {
	switch k {
	case CostFMA:
		return "FMA"
	case CostDiv:
		return "Div"
	}
	return "Unknown"
}

// Cost is an amount of work of some kind on some datum type.
type Cost struct {
	Kind      CostKind
	DatumType tensor.DatumType
	Count     tdim.Dim
}

// Coster is implemented by operators that can estimate their computational cost.
type Coster interface {
	Cost(inputs []fact.TypedFact) ([]Cost, error)
}

// Source is the operator of the model inputs.
type Source struct {
	Fact fact.TypedFact
}

// Name implements Op.
func (*Source) Name() string { return "Source" }

// OutputFacts implements Op.
func (s *Source) OutputFacts(inputs []fact.TypedFact) ([]fact.TypedFact, error) {
	if len(inputs) != 0 {
		return nil, graph.ErrArityMismatch
	}
	return []fact.TypedFact{s.Fact.WithoutValue()}, nil
}

// Eval implements Op: sources are fed by the caller, so it always fails.
func (*Source) Eval([]*tensor.Tensor) ([]*tensor.Tensor, error) {
	return nil, graph.ErrNotTypable
}

// Const is the operator of a constant. The tensor is shared, never copied.
type Const struct {
	Value *tensor.Tensor
}

// Name implements Op.
func (*Const) Name() string { return "Const" }

// OutputFacts implements Op.
func (c *Const) OutputFacts(inputs []fact.TypedFact) ([]fact.TypedFact, error) {
	if len(inputs) != 0 {
		return nil, graph.ErrArityMismatch
	}
	return []fact.TypedFact{fact.FromConst(c.Value)}, nil
}

// Eval implements Op.
func (c *Const) Eval([]*tensor.Tensor) ([]*tensor.Tensor, error) {
	return []*tensor.Tensor{c.Value}, nil
}
