package typed

import (
	"fmt"
	"slices"

	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/graph"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Patch is a staged rewrite of a Model.
//
// A patch holds its own small model. Its sources are "taps": placeholders for outlets of the patched
// model. Shunts tell which outlets of the patched model should be replaced by which outlets of the patch.
// ApplyTo splices the patch in, all-or-nothing.
type Patch struct {
	// Context describes where the patch comes from (rule and node), for logging.
	Context []string

	// Model holds the new nodes. Its sources are the taps.
	Model *Model

	taps   map[int]OutletID
	shunts []shunt
}

type shunt struct {
	outside OutletID // In the patched model.
	by      OutletID // In the patch.
}

// NewPatch creates an empty patch.
func NewPatch(context ...string) *Patch {
	return &Patch{Context: context, Model: NewModel(), taps: make(map[int]OutletID)}
}

// String implements fmt.Stringer.
func (p *Patch) String() string {
	return fmt.Sprintf("patch%v (%d nodes, %d shunts)", p.Context, p.Model.NumNodes(), len(p.shunts))
}

// IsEmpty returns whether the patch does nothing.
func (p *Patch) IsEmpty() bool { return len(p.shunts) == 0 }

// TapModel makes the outlet of the patched model available in the patch, and returns the corresponding
// patch outlet. Tapping the same outlet twice returns the same patch outlet.
func (p *Patch) TapModel(model *Model, outlet OutletID) (OutletID, error) {
	for patchNode, tapped := range p.taps {
		if tapped == outlet {
			return OutletID{Node: patchNode}, nil
		}
	}
	f, err := model.OutletFact(outlet)
	if err != nil {
		return OutletID{}, errors.WithMessage(err, "tapping model")
	}
	name := p.Model.UniqueName(fmt.Sprintf("tap.%s-%d", model.Node(outlet.Node).Name, outlet.Slot))
	op := &Source{Fact: f}
	id, err := p.Model.AddNode(name, op, []fact.TypedFact{f})
	if err != nil {
		return OutletID{}, err
	}
	p.taps[id] = outlet
	return OutletID{Node: id}, nil
}

// TapModelOutlets taps all the given outlets.
func (p *Patch) TapModelOutlets(model *Model, outlets []OutletID) ([]OutletID, error) {
	tapped := make([]OutletID, len(outlets))
	for ii, o := range outlets {
		var err error
		tapped[ii], err = p.TapModel(model, o)
		if err != nil {
			return nil, err
		}
	}
	return tapped, nil
}

// ShuntOutside registers that the consumers of the outlet of the patched model should read the patch
// outlet by instead. Both must have the same datum type and shape.
func (p *Patch) ShuntOutside(model *Model, outlet, by OutletID) error {
	original, err := model.OutletFact(outlet)
	if err != nil {
		return errors.WithMessage(err, "shunting model outlet")
	}
	replacement, err := p.Model.OutletFact(by)
	if err != nil {
		return errors.WithMessage(err, "shunting by patch outlet")
	}
	if !original.SameShape(replacement) {
		return errors.Errorf("cannot shunt outlet %v (%s) by %s: incompatible facts", outlet, original, replacement)
	}
	p.shunts = append(p.shunts, shunt{outside: outlet, by: by})
	return nil
}

// WireNode adds a node to the patch. Name collisions with the patched model are resolved at apply time.
func (p *Patch) WireNode(name string, op Op, inputs []OutletID) ([]OutletID, error) {
	return p.Model.WireNode(p.Model.UniqueName(name), op, inputs)
}

// AddConst adds a constant to the patch.
func (p *Patch) AddConst(name string, value *tensor.Tensor) (OutletID, error) {
	return p.Model.AddConst(p.Model.UniqueName(name), value)
}

// Rewire creates a patch that replaces the outlets `from` of the model by the outlets returned by
// wiring, which is given the tapped `inputs`.
func Rewire(model *Model, inputs, from []OutletID, wiring func(patch *Patch, taps []OutletID) ([]OutletID, error)) (*Patch, error) {
	patch := NewPatch("rewire")
	taps, err := patch.TapModelOutlets(model, inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := wiring(patch, taps)
	if err != nil {
		return nil, err
	}
	if len(outputs) != len(from) {
		return nil, errors.Wrapf(graph.ErrArityMismatch, "rewire produced %d outlets to replace %d", len(outputs), len(from))
	}
	for ii, o := range from {
		if err := patch.ShuntOutside(model, o, outputs[ii]); err != nil {
			return nil, err
		}
	}
	return patch, nil
}

// ReplaceSingleOp creates a patch replacing node by a node of the given operator, reading the given
// model outlets.
func ReplaceSingleOp(model *Model, node *Node, inputs []OutletID, op Op) (*Patch, error) {
	patch := NewPatch("replace " + node.Name)
	taps, err := patch.TapModelOutlets(model, inputs)
	if err != nil {
		return nil, err
	}
	outputs, err := patch.WireNode(node.Name, op, taps)
	if err != nil {
		return nil, err
	}
	if len(outputs) != len(node.Outputs) {
		return nil, errors.Wrapf(graph.ErrArityMismatch, "replacement %s has %d outputs, %q has %d",
			op.Name(), len(outputs), node.Name, len(node.Outputs))
	}
	for slot, o := range outputs {
		if err := patch.ShuntOutside(model, OutletID{Node: node.ID, Slot: slot}, o); err != nil {
			return nil, err
		}
	}
	return patch, nil
}

// ShuntOneOp creates a patch removing node: its consumers will read its first input instead.
func ShuntOneOp(model *Model, node *Node) (*Patch, error) {
	if len(node.Inputs) == 0 || len(node.Outputs) != 1 {
		return nil, errors.Errorf("cannot shunt node %q with %d inputs and %d outputs", node.Name, len(node.Inputs), len(node.Outputs))
	}
	patch := NewPatch("shunt " + node.Name)
	tap, err := patch.TapModel(model, node.Inputs[0])
	if err != nil {
		return nil, err
	}
	if err := patch.ShuntOutside(model, OutletID{Node: node.ID}, tap); err != nil {
		return nil, err
	}
	return patch, nil
}

// validate checks, without changing anything, that the patch can be applied to model.
func (p *Patch) validate(model *Model) error {
	for patchNode, outlet := range p.taps {
		if p.Model.Node(patchNode) == nil {
			return errors.Wrapf(graph.ErrInvalidOutlet, "tap node #%d is not in the patch", patchNode)
		}
		if err := model.CheckOutlet(outlet); err != nil {
			return errors.WithMessage(err, "tapped outlet")
		}
	}
	for _, s := range p.shunts {
		if err := model.CheckOutlet(s.outside); err != nil {
			return errors.WithMessage(err, "shunted outlet")
		}
		if err := p.Model.CheckOutlet(s.by); err != nil {
			return errors.WithMessage(err, "shunting outlet")
		}
	}
	if _, err := p.Model.EvalOrderAll(); err != nil {
		return errors.WithMessage(err, "invalid patch")
	}
	return nil
}

// ApplyTo splices the patch into model: new nodes are added, the consumers of every shunted outlet are
// redirected, and the nodes no longer needed are pruned.
//
// It is all-or-nothing: if it fails the model is left unchanged.
func (p *Patch) ApplyTo(model *Model) error {
	if err := p.validate(model); err != nil {
		return errors.WithMessagef(err, "applying %s", p)
	}
	snapshot := model.Graph.Clone()
	if err := p.splice(model); err != nil {
		model.Graph = snapshot
		return errors.WithMessagef(err, "applying %s", p)
	}
	return nil
}

func (p *Patch) splice(model *Model) error {
	// Consumers of the shunted outlets are captured before the new nodes are added, since those may read
	// the shunted outlets themselves.
	type redirect struct {
		inlets  []InletID
		outputs []int
	}
	redirects := make([]redirect, len(p.shunts))
	modelOutputs := model.OutputOutlets()
	for ii, s := range p.shunts {
		redirects[ii].inlets = slices.Clone(model.Node(s.outside.Node).Outputs[s.outside.Slot].Successors)
		for pos, o := range modelOutputs {
			if o == s.outside {
				redirects[ii].outputs = append(redirects[ii].outputs, pos)
			}
		}
	}

	order, err := p.Model.EvalOrderAll()
	if err != nil {
		return err
	}
	mapping := make(map[OutletID]OutletID)
	wantedNames := make(map[int]string)
	for _, patchID := range order {
		node := p.Model.Node(patchID)
		if tapped, isTap := p.taps[patchID]; isTap {
			mapping[OutletID{Node: patchID}] = tapped
			continue
		}
		name := model.UniqueName(node.Name)
		outputFacts := make([]fact.TypedFact, len(node.Outputs))
		for slot, outlet := range node.Outputs {
			outputFacts[slot] = outlet.Fact
		}
		id, err := model.AddNode(name, node.Op, outputFacts)
		if err != nil {
			return err
		}
		if name != node.Name {
			wantedNames[id] = node.Name
		}
		for slot, input := range node.Inputs {
			if err := model.AddEdge(mapping[input], InletID{Node: id, Slot: slot}); err != nil {
				return err
			}
		}
		for slot := range node.Outputs {
			mapping[OutletID{Node: patchID, Slot: slot}] = OutletID{Node: id, Slot: slot}
		}
	}

	for ii, s := range p.shunts {
		by, found := mapping[s.by]
		if !found {
			return errors.Wrapf(graph.ErrInvalidOutlet, "patch outlet %v was not spliced", s.by)
		}
		for _, inlet := range redirects[ii].inlets {
			if err := model.AddEdge(by, inlet); err != nil {
				return err
			}
		}
		for _, pos := range redirects[ii].outputs {
			modelOutputs[pos] = by
		}
	}
	if err := model.SetOutputOutlets(modelOutputs...); err != nil {
		return err
	}
	pruned := model.Prune()
	if err := model.CheckEdges(); err != nil {
		return err
	}
	if _, err := model.EvalOrder(); err != nil {
		return err
	}

	// Nodes renamed to avoid a collision take back their name if it was freed by the pruning.
	for id, name := range wantedNames {
		if model.Node(id) != nil && !model.HasName(name) {
			if err := model.RenameNode(id, name); err != nil {
				return err
			}
		}
	}
	klog.V(2).Infof("applied %s: %d nodes pruned", p, pruned)
	return nil
}
