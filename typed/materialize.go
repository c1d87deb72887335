package typed

import (
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/typedgraph/graph"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/pkg/errors"
)

// nonConstantDependencies returns the names of the sources the outlet depends on.
func (m *Model) nonConstantDependencies(outlet OutletID) []string {
	visited := sets.Make[int]()
	return m.recursiveNonConstantDependencies(outlet.Node, visited, nil)
}

// recursiveNonConstantDependencies is the recursive implementation of nonConstantDependencies.
func (m *Model) recursiveNonConstantDependencies(id int, visited sets.Set[int], sources []string) []string {
	visited.Insert(id)
	node := m.Node(id)
	if _, isSource := node.Op.(*Source); isSource {
		return append(sources, node.Name)
	}
	for _, input := range node.Inputs {
		if visited.Has(input.Node) {
			continue
		}
		if f, _ := m.OutletFact(input); f.Konst != nil {
			continue
		}
		sources = m.recursiveNonConstantDependencies(input.Node, visited, sources)
	}
	return sources
}

// MaterializeConstant returns the value of an outlet that only depends on constants.
//
// This is required by operators that need concrete values (like axes or slicing bounds) to be wired.
// If the outlet depends on sources, it fails with graph.ErrNotTypable naming them.
func (m *Model) MaterializeConstant(outlet OutletID) (*tensor.Tensor, error) {
	f, err := m.OutletFact(outlet)
	if err != nil {
		return nil, err
	}
	if f.Konst != nil {
		return f.Konst, nil
	}
	if sources := m.nonConstantDependencies(outlet); len(sources) > 0 {
		return nil, errors.Wrapf(graph.ErrNotTypable, "cannot materialize constant value for %q: it depends on non-constant inputs %q",
			m.Node(outlet.Node).Name, sources)
	}
	values := make(map[OutletID]*tensor.Tensor)
	if err := m.recursiveMaterializeConstant(outlet.Node, values); err != nil {
		return nil, errors.WithMessage(err, "while evaluating constant sub-expression")
	}
	return values[outlet], nil
}

// recursiveMaterializeConstant evaluates node and its dependencies into values.
func (m *Model) recursiveMaterializeConstant(id int, values map[OutletID]*tensor.Tensor) error {
	node := m.Node(id)
	if _, done := values[OutletID{Node: id}]; done {
		return nil
	}
	inputs := make([]*tensor.Tensor, len(node.Inputs))
	for ii, input := range node.Inputs {
		if f, _ := m.OutletFact(input); f.Konst != nil {
			inputs[ii] = f.Konst
			continue
		}
		if err := m.recursiveMaterializeConstant(input.Node, values); err != nil {
			return err
		}
		inputs[ii] = values[input]
	}
	outputs, err := m.EvalNode(node, nil, inputs)
	if err != nil {
		return err
	}
	for slot, value := range outputs {
		values[OutletID{Node: id, Slot: slot}] = value
	}
	return nil
}
