package binary

import (
	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/graph"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"github.com/pkg/errors"
)

func checkArity(inputs []fact.TypedFact) error {
	if len(inputs) != 2 {
		return errors.Wrapf(graph.ErrArityMismatch, "binary operator expects 2 inputs, got %d", len(inputs))
	}
	return nil
}

func broadcastFactShapes(a, b fact.TypedFact) ([]tdim.Dim, error) {
	return tdim.BroadcastShapes(a.Shape, b.Shape)
}

// UniformOperand describes a binary node where exactly one operand is a uniform constant.
type UniformOperand struct {
	// ConstSlot is the input slot of the constant operand: 0 (left) or 1 (right).
	ConstSlot int

	// Value is the rank-0 value of every element of the constant operand.
	Value *tensor.Tensor

	// Var is the other operand, and VarFact its fact.
	Var     typed.OutletID
	VarFact fact.TypedFact

	// Output is the fact of the node's output.
	Output fact.TypedFact
}

// FindUniformOperand returns the operands of a binary node if exactly one of them is a uniform constant.
func FindUniformOperand(model *typed.Model, node *typed.Node) (UniformOperand, bool, error) {
	if len(node.Inputs) != 2 || len(node.Outputs) != 1 {
		return UniformOperand{}, false, nil
	}
	facts, err := model.NodeInputFacts(node.ID)
	if err != nil {
		return UniformOperand{}, false, err
	}
	constSlot := -1
	switch {
	case facts[0].Uniform != nil && facts[1].Uniform == nil:
		constSlot = 0
	case facts[0].Uniform == nil && facts[1].Uniform != nil:
		constSlot = 1
	default:
		return UniformOperand{}, false, nil
	}
	varSlot := 1 - constSlot
	return UniformOperand{
		ConstSlot: constSlot,
		Value:     facts[constSlot].Uniform,
		Var:       node.Inputs[varSlot],
		VarFact:   facts[varSlot],
		Output:    node.Outputs[0].Fact,
	}, true, nil
}

// Is returns whether the uniform value is v.
func (u UniformOperand) Is(v float64) bool {
	x, err := u.Value.ScalarFloat64()
	return err == nil && x == v
}

// VarIsOutput returns whether the variable operand has the datum type and shape of the output, in which
// case it can replace the node.
func (u UniformOperand) VarIsOutput() bool {
	return u.VarFact.SameShape(u.Output)
}
