package infer

import (
	"bytes"
	"fmt"
	"maps"
	"slices"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/graph"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// OutletID is re-exported for convenience.
type OutletID = graph.OutletID

// Node of an inference Model.
type Node = graph.Node[fact.InferenceFact, Op]

// Model is a graph of inference operators, whose outlets carry partial facts.
//
// It is built by importers through AddSource, AddConst and WireNode, analysed to narrow its facts, and
// finally converted to a typed model by IntoTyped.
type Model struct {
	*graph.Graph[fact.InferenceFact, Op]
}

// NewModel creates an empty inference model.
func NewModel() *Model {
	return &Model{Graph: graph.New[fact.InferenceFact, Op]()}
}

// AnalyseConfig configures Model.AnalyseWith.
type AnalyseConfig struct {
	// MaxPasses is the maximum number of sweeps over the model. Not reaching a fixpoint within it is
	// an error.
	MaxPasses int

	// MaxRuleSteps is the maximum number of rule applications when solving the rules of one node.
	MaxRuleSteps int
}

// DefaultAnalyseConfig returns the configuration used by Model.Analyse.
func DefaultAnalyseConfig() AnalyseConfig {
	return AnalyseConfig{MaxPasses: 10, MaxRuleSteps: DefaultMaxRuleSteps}
}

// AddSource adds an input to the model with the given (possibly partial) fact.
func (m *Model) AddSource(name string, f fact.InferenceFact) (OutletID, error) {
	id, err := m.AddNode(name, &Source{Fact: f}, []fact.InferenceFact{f})
	if err != nil {
		return OutletID{}, err
	}
	outlet := OutletID{Node: id}
	if err := m.SetInputOutlets(append(m.InputOutlets(), outlet)...); err != nil {
		return OutletID{}, err
	}
	return outlet, nil
}

// AddConst adds a constant. The tensor is shared with the model and must not be modified.
func (m *Model) AddConst(name string, value *tensor.Tensor) (OutletID, error) {
	id, err := m.AddNode(name, &Const{Value: value}, []fact.InferenceFact{fact.FromTensor(value)})
	if err != nil {
		return OutletID{}, err
	}
	return OutletID{Node: id}, nil
}

// WireNode adds a node consuming the given outlets. Its output facts start unknown, see Analyse.
func (m *Model) WireNode(name string, op Op, inputs []OutletID) ([]OutletID, error) {
	id, err := m.AddNode(name, op, make([]fact.InferenceFact, op.NOutputs()))
	if err != nil {
		return nil, err
	}
	for slot, input := range inputs {
		if err := m.AddEdge(input, graph.InletID{Node: id, Slot: slot}); err != nil {
			return nil, graph.WrapNodeError(op.Name(), name, err)
		}
	}
	return m.Node(id).OutletIDs(), nil
}

// SetOutletFactUnified narrows the fact of an outlet with f, e.g. to give a hint on an output of the model.
func (m *Model) SetOutletFactUnified(o OutletID, f fact.InferenceFact) error {
	current, err := m.OutletFact(o)
	if err != nil {
		return err
	}
	unified, err := current.Unify(f)
	if err != nil {
		return err
	}
	return m.SetOutletFact(o, unified)
}

// Analyse narrows the facts of the model with DefaultAnalyseConfig.
func (m *Model) Analyse() error {
	return m.AnalyseWith(DefaultAnalyseConfig())
}

// AnalyseWith runs the rules of every node, in evaluation order, until no fact changes.
//
// Rules may narrow the facts of a node's inputs as well as of its outputs, so information flows both ways,
// and several passes may be needed.
func (m *Model) AnalyseWith(cfg AnalyseConfig) error {
	maxPasses := cfg.MaxPasses
	if maxPasses <= 0 {
		maxPasses = DefaultAnalyseConfig().MaxPasses
	}
	order, err := m.EvalOrder()
	if err != nil {
		return err
	}
	for pass := 0; pass < maxPasses; pass++ {
		changes := 0
		for _, id := range order {
			n, err := m.analyseNode(id, cfg.MaxRuleSteps)
			if err != nil {
				return err
			}
			changes += n
		}
		klog.V(1).Infof("analyse: pass %d narrowed %d facts", pass, changes)
		if changes == 0 {
			return nil
		}
	}
	return errors.Wrapf(graph.ErrNonConvergent, "facts still changing after %d analysis passes", maxPasses)
}

// analyseNode solves the rules of one node, and returns the number of facts changed.
func (m *Model) analyseNode(id int, maxSteps int) (int, error) {
	node := m.Node(id)
	inputFacts, err := m.NodeInputFacts(id)
	if err != nil {
		return 0, err
	}
	outputFacts, err := m.NodeOutputFacts(id)
	if err != nil {
		return 0, err
	}
	newInputs, newOutputs, err := InferFacts(node.Op, inputFacts, outputFacts, maxSteps)
	if err != nil {
		return 0, graph.WrapNodeError(node.Op.Name(), node.Name, err)
	}
	changes := 0
	for ii, input := range node.Inputs {
		if newInputs[ii].Equal(inputFacts[ii]) {
			continue
		}
		// The same outlet may feed several inputs of the node.
		if err := m.SetOutletFactUnified(input, newInputs[ii]); err != nil {
			return 0, graph.WrapNodeError(node.Op.Name(), node.Name, errors.WithMessagef(err, "input #%d", ii))
		}
		changes++
	}
	for slot, f := range newOutputs {
		if f.Equal(outputFacts[slot]) {
			continue
		}
		if err := m.SetOutletFact(OutletID{Node: id, Slot: slot}, f); err != nil {
			return 0, err
		}
		changes++
	}
	return changes, nil
}

// MissingFacts lists, for each outlet of the model not fully determined, what is missing.
func (m *Model) MissingFacts() []string {
	var missing []string
	for _, node := range m.Nodes() {
		for slot, outlet := range node.Outputs {
			if outlet.Fact.IsConcrete() {
				continue
			}
			missing = append(missing, fmt.Sprintf("%q/%d (%s): %q", node.Name, slot, node.Op.Name(), outlet.Fact.Missing()))
		}
	}
	return missing
}

// FindFirstUnresolved returns the first node, in evaluation order, with an output not fully determined.
// It returns nil if every output is determined.
func (m *Model) FindFirstUnresolved() *Node {
	order, err := m.EvalOrder()
	if err != nil {
		return nil
	}
	for _, id := range order {
		node := m.Node(id)
		for _, outlet := range node.Outputs {
			if !outlet.Fact.IsConcrete() {
				return node
			}
		}
	}
	return nil
}

// IntoTyped analyses the model and converts it into a typed model, wiring every operator.
//
// Nodes whose outputs values are all known at analysis are wired as constants, so that operators
// needing constant inputs (slicing bounds, axes) can read them from the typed facts.
//
// It fails with graph.ErrNotTypable if some fact can't be fully determined, or if an operator needs
// some constant value that is not known.
func (m *Model) IntoTyped() (*typed.Model, error) {
	if err := m.Analyse(); err != nil {
		return nil, err
	}
	order, err := m.EvalOrder()
	if err != nil {
		return nil, err
	}
	target := typed.NewModel()
	mapping := make(map[OutletID]typed.OutletID)
	for _, id := range order {
		node := m.Node(id)
		var outlets []typed.OutletID
		if _, isSource := node.Op.(*Source); isSource {
			f, err := node.Outputs[0].Fact.ToTypedFact()
			if err != nil {
				return nil, graph.WrapNodeError(node.Op.Name(), node.Name, errors.Wrap(graph.ErrNotTypable, err.Error()))
			}
			outlet, err := target.AddSource(node.Name, f)
			if err != nil {
				return nil, err
			}
			outlets = []typed.OutletID{outlet}
		} else if values, ok := knownValues(node); ok {
			outlets, err = wireConstants(target, node.Name, values)
			if err != nil {
				return nil, graph.WrapNodeError(node.Op.Name(), node.Name, err)
			}
		} else {
			inputs := make([]typed.OutletID, len(node.Inputs))
			for ii, input := range node.Inputs {
				inputs[ii] = mapping[input]
			}
			outlets, err = node.Op.Wire(node.Name, target, inputs)
			if err != nil {
				return nil, graph.WrapNodeError(node.Op.Name(), node.Name, errors.WithMessage(err, "wiring"))
			}
			if len(outlets) != len(node.Outputs) {
				return nil, graph.WrapNodeError(node.Op.Name(), node.Name,
					errors.Wrapf(graph.ErrArityMismatch, "wired %d outlets for %d outputs", len(outlets), len(node.Outputs)))
			}
		}
		for slot, outlet := range outlets {
			wired, err := target.OutletFact(outlet)
			if err != nil {
				return nil, err
			}
			if _, err := wired.ToInferenceFact().Unify(node.Outputs[slot].Fact); err != nil {
				return nil, graph.WrapNodeError(node.Op.Name(), node.Name,
					errors.WithMessagef(err, "wired output #%d (%s) contradicts its inferred fact (%s)", slot, wired, node.Outputs[slot].Fact))
			}
			mapping[OutletID{Node: id, Slot: slot}] = outlet
		}
	}
	outputs := m.OutputOutlets()
	targetOutputs := make([]typed.OutletID, len(outputs))
	for ii, o := range outputs {
		targetOutputs[ii] = mapping[o]
	}
	if err := target.SetOutputOutlets(targetOutputs...); err != nil {
		return nil, err
	}
	return target, nil
}

// knownValues returns the values of the outputs of a node, if they were all determined by the analysis.
func knownValues(node *Node) ([]*tensor.Tensor, bool) {
	if len(node.Outputs) == 0 {
		return nil, false
	}
	values := make([]*tensor.Tensor, len(node.Outputs))
	for slot, outlet := range node.Outputs {
		v, ok := outlet.Fact.Value.Concretize()
		if !ok {
			return nil, false
		}
		values[slot] = v
	}
	return values, true
}

// wireConstants adds one Const per value, named after the node they replace.
func wireConstants(target *typed.Model, name string, values []*tensor.Tensor) ([]typed.OutletID, error) {
	outlets := make([]typed.OutletID, len(values))
	for slot, v := range values {
		constName := name
		if len(values) > 1 {
			constName = fmt.Sprintf("%s.%d", name, slot)
		}
		outlet, err := target.AddConst(constName, v)
		if err != nil {
			return nil, err
		}
		outlets[slot] = outlet
	}
	klog.V(2).Infof("infer: node %q wired as %d constant(s)", name, len(values))
	return outlets, nil
}

// String implements fmt.Stringer, and pretty prints the model: a summary followed by one line per node.
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
	nodes := m.Nodes()
	opNames := sets.Make[string]()
	for _, node := range nodes {
		opNames.Insert(node.Op.Name())
	}
	w("Inference Model:\n")
	w("\t# nodes:\t%s\n", humanize.Comma(int64(len(nodes))))
	w("\tOp types:\t%#v\n", slices.Sorted(maps.Keys(opNames)))
	if missing := m.MissingFacts(); len(missing) > 0 {
		w("\t# unresolved outlets:\t%d\n", len(missing))
	}
	for _, node := range nodes {
		w("\t#%d %q %s(", node.ID, node.Name, node.Op.Name())
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
	return buf.String()
}
