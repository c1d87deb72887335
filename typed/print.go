package typed

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
)

// String implements fmt.Stringer, and pretty prints the model: a summary followed by one line per node,
// in evaluation order.
func (m *Model) String() string {
	var buf bytes.Buffer
	// w writes formatted text to the buffer.
	w := func(format string, args ...any) {
		if len(args) == 0 {
			buf.WriteString(format)
		} else {
			buf.WriteString(fmt.Sprintf(format, args...))
		}
	}
	order, err := m.EvalOrder()
	if err != nil {
		w("Typed Model (invalid): %v\n", err)
		return buf.String()
	}
	opNames := sets.Make[string]()
	var constBytes uint64
	for _, id := range order {
		node := m.Node(id)
		opNames.Insert(node.Op.Name())
		if c, ok := node.Op.(*Const); ok {
			constBytes += c.Value.Bytes()
		}
	}
	w("Typed Model:\n")
	w("\t# nodes:\t%s\n", humanize.Comma(int64(len(order))))
	w("\tOp types:\t%#v\n", slices.Sorted(maps.Keys(opNames)))
	w("\tConstants:\t%s\n", humanize.Bytes(constBytes))
	for _, id := range order {
		node := m.Node(id)
		w("\t#%d %q %s(", id, node.Name, node.Op.Name())
		for ii, input := range node.Inputs {
			if ii > 0 {
				w(", ")
			}
			w("%q/%d", m.Node(input.Node).Name, input.Slot)
		}
		w(") ->")
		for _, outlet := range node.Outputs {
			w(" %s", outlet.Fact)
		}
		w("\n")
	}
	w("\tOutputs:\t%v\n", m.OutputOutlets())
	return buf.String()
}

type costKey struct {
	kind CostKind
	dt   tensor.DatumType
}

// Cost returns the estimated computational cost of evaluating the model, aggregated per kind of cost
// and datum type. Counts may be symbolic.
func (m *Model) Cost() ([]Cost, error) {
	order, err := m.EvalOrder()
	if err != nil {
		return nil, err
	}
	totals := make(map[costKey]tdim.Dim)
	var keys []costKey
	for _, id := range order {
		node := m.Node(id)
		coster, ok := node.Op.(Coster)
		if !ok {
			continue
		}
		inputFacts, err := m.NodeInputFacts(id)
		if err != nil {
			return nil, err
		}
		costs, err := coster.Cost(inputFacts)
		if err != nil {
			return nil, err
		}
		for _, c := range costs {
			key := costKey{c.Kind, c.DatumType}
			if _, found := totals[key]; !found {
				keys = append(keys, key)
			}
			totals[key] = totals[key].Add(c.Count)
		}
	}
	result := make([]Cost, len(keys))
	for ii, key := range keys {
		result[ii] = Cost{Kind: key.kind, DatumType: key.dt, Count: totals[key]}
	}
	return result, nil
}
