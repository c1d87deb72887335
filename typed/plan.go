package typed

import (
	"github.com/gomlx/typedgraph/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Plan is a reference sequential evaluator of a Model.
//
// It evaluates each node in turn on a single goroutine. It is meant for tests and constant folding,
// not for performance.
type Plan struct {
	model *Model
	order []int
}

// NewPlan creates a plan for the model. The model must not be changed while the plan is in use.
func NewPlan(model *Model) (*Plan, error) {
	order, err := model.EvalOrder()
	if err != nil {
		return nil, err
	}
	return &Plan{model: model, order: order}, nil
}

// Run evaluates the model on the given inputs, one per model source, and returns its outputs.
// The symbols in the shapes of the sources are bound from the inputs, see Model.ValidateInputs.
func (p *Plan) Run(inputs ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	symbols, err := p.model.ValidateInputs(inputs...)
	if err != nil {
		return nil, err
	}
	values := make(map[OutletID]*tensor.Tensor)
	for ii, source := range p.model.InputOutlets() {
		values[source] = inputs[ii]
	}
	for _, id := range p.order {
		node := p.model.Node(id)
		if _, isSource := node.Op.(*Source); isSource {
			continue
		}
		nodeInputs := make([]*tensor.Tensor, len(node.Inputs))
		for ii, input := range node.Inputs {
			nodeInputs[ii] = values[input]
		}
		outputs, err := p.model.EvalNode(node, symbols, nodeInputs)
		if err != nil {
			return nil, err
		}
		for slot, value := range outputs {
			values[OutletID{Node: id, Slot: slot}] = value
		}
		klog.V(2).Infof("plan: evaluated %q (%s)", node.Name, node.Op.Name())
	}
	outlets := p.model.OutputOutlets()
	results := make([]*tensor.Tensor, len(outlets))
	for ii, o := range outlets {
		v, found := values[o]
		if !found {
			return nil, errors.Errorf("output #%d (outlet %v) was not computed", ii, o)
		}
		results[ii] = v
	}
	return results, nil
}

// Run is a shortcut to create a plan and run it once.
func (m *Model) Run(inputs ...*tensor.Tensor) ([]*tensor.Tensor, error) {
	plan, err := NewPlan(m)
	if err != nil {
		return nil, err
	}
	return plan.Run(inputs...)
}
