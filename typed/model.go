package typed

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/graph"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/pkg/errors"
)

// Node of a typed Model.
type Node = graph.Node[fact.TypedFact, Op]

// Model is a graph of typed operators, whose outlets all carry a TypedFact.
type Model struct {
	*graph.Graph[fact.TypedFact, Op]
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{Graph: graph.New[fact.TypedFact, Op]()}
}

// Clone returns a structural copy of the model. Operators and constants are shared.
func (m *Model) Clone() *Model {
	return &Model{Graph: m.Graph.Clone()}
}

// AddSource adds an input to the model, with the given fact.
func (m *Model) AddSource(name string, f fact.TypedFact) (OutletID, error) {
	op := &Source{Fact: f.WithoutValue()}
	id, err := m.AddNode(name, op, []fact.TypedFact{op.Fact})
	if err != nil {
		return OutletID{}, err
	}
	outlet := OutletID{Node: id}
	if err := m.SetInputOutlets(append(m.InputOutlets(), outlet)...); err != nil {
		return OutletID{}, err
	}
	return outlet, nil
}

// AddConst adds a constant to the model. The tensor is shared with the model and must not be modified.
func (m *Model) AddConst(name string, value *tensor.Tensor) (OutletID, error) {
	op := &Const{Value: value}
	id, err := m.AddNode(name, op, []fact.TypedFact{fact.FromConst(value)})
	if err != nil {
		return OutletID{}, err
	}
	return OutletID{Node: id}, nil
}

// WireNode adds a node consuming the given outlets. The facts of its outputs are computed by the operator.
func (m *Model) WireNode(name string, op Op, inputs []OutletID) ([]OutletID, error) {
	inputFacts := make([]fact.TypedFact, len(inputs))
	for ii, input := range inputs {
		f, err := m.OutletFact(input)
		if err != nil {
			return nil, graph.WrapNodeError(op.Name(), name, errors.WithMessagef(err, "input #%d", ii))
		}
		inputFacts[ii] = f
	}
	outputFacts, err := op.OutputFacts(inputFacts)
	if err != nil {
		return nil, graph.WrapNodeError(op.Name(), name, errors.WithMessagef(err, "computing output facts for inputs %v", inputFacts))
	}
	id, err := m.AddNode(name, op, outputFacts)
	if err != nil {
		return nil, err
	}
	for slot, input := range inputs {
		if err := m.AddEdge(input, InletID{Node: id, Slot: slot}); err != nil {
			return nil, graph.WrapNodeError(op.Name(), name, err)
		}
	}
	return m.Node(id).OutletIDs(), nil
}

// OutletFacts returns the facts of the given outlets.
func (m *Model) OutletFacts(outlets []OutletID) ([]fact.TypedFact, error) {
	facts := make([]fact.TypedFact, len(outlets))
	for ii, o := range outlets {
		f, err := m.OutletFact(o)
		if err != nil {
			return nil, err
		}
		facts[ii] = f
	}
	return facts, nil
}

// EvalNode evaluates the operator of node on the given input values. Panics raised by kernels are
// converted to errors, and every error is annotated with the node.
func (m *Model) EvalNode(node *Node, symbols tdim.SymbolValues, inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	var outputs []*tensor.Tensor
	err := exceptions.TryCatch[error](func() {
		var err error
		if se, ok := node.Op.(SymbolicEvaluator); ok {
			outputs, err = se.EvalWithSymbols(symbols, inputs)
		} else {
			outputs, err = node.Op.Eval(inputs)
		}
		if err != nil {
			panic(err)
		}
	})
	if err != nil {
		return nil, graph.WrapNodeError(node.Op.Name(), node.Name, err)
	}
	if len(outputs) != len(node.Outputs) {
		return nil, graph.WrapNodeError(node.Op.Name(), node.Name,
			errors.Wrapf(graph.ErrArityMismatch, "evaluation returned %d outputs, expected %d", len(outputs), len(node.Outputs)))
	}
	return outputs, nil
}

// ValidateInputs checks that the given values match the facts of the model sources, and returns the
// values bound to the symbols of their shapes. Symbols must be bound consistently across all inputs.
func (m *Model) ValidateInputs(inputs ...*tensor.Tensor) (tdim.SymbolValues, error) {
	sources := m.InputOutlets()
	if len(inputs) != len(sources) {
		return nil, errors.Wrapf(graph.ErrArityMismatch, "model has %d inputs, %d values given", len(sources), len(inputs))
	}
	symbols := make(tdim.SymbolValues)
	type deferredCheck struct {
		input, axis int
		dim         tdim.Dim
	}
	var deferred []deferredCheck
	facts, err := m.OutletFacts(sources)
	if err != nil {
		return nil, err
	}
	for ii, value := range inputs {
		f := facts[ii]
		name := m.Node(sources[ii].Node).Name
		if value.DatumType() != f.DatumType {
			return nil, errors.Errorf("input #%d (%q): datum type %s given, expected %s", ii, name, value.DatumType(), f.DatumType)
		}
		if value.Rank() != f.Rank() {
			return nil, errors.Errorf("input #%d (%q): rank %d given, expected %d (shape %s)", ii, name, value.Rank(), f.Rank(), f)
		}
		shape := value.Shape()
		for axis, d := range f.Shape {
			if c, ok := d.AsConst(); ok {
				if c != int64(shape[axis]) {
					return nil, errors.Errorf("input #%d (%q): axis %d has length %d, expected %d", ii, name, axis, shape[axis], c)
				}
				continue
			}
			if syms := d.Symbols(); len(syms) == 1 && d.Equal(tdim.Sym(string(syms[0]))) {
				s := syms[0]
				if bound, found := symbols[s]; found && bound != int64(shape[axis]) {
					return nil, errors.Errorf("input #%d (%q): axis %d has length %d, but %s was already bound to %d",
						ii, name, axis, shape[axis], s, bound)
				}
				symbols[s] = int64(shape[axis])
				continue
			}
			deferred = append(deferred, deferredCheck{input: ii, axis: axis, dim: d})
		}
	}
	for _, check := range deferred {
		v, err := check.dim.EvalToInt64(symbols)
		if err != nil {
			return nil, errors.WithMessagef(err, "input #%d axis %d: cannot bind %s", check.input, check.axis, check.dim)
		}
		if got := inputs[check.input].Shape()[check.axis]; int64(got) != v {
			return nil, errors.Errorf("input #%d axis %d has length %d, expected %s=%d", check.input, check.axis, got, check.dim, v)
		}
	}
	return symbols, nil
}
