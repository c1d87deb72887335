package arith

import (
	"math/bits"

	"github.com/gomlx/typedgraph/ops/array"
	"github.com/gomlx/typedgraph/ops/binary"
	"github.com/gomlx/typedgraph/ops/elementwise"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"k8s.io/klog/v2"
)

// uniformOperand returns the uniform operand of a binary node, for plain (not quantized) datum types:
// uniform values of quantized tensors are not the neutral or absorbing elements of the stored values.
func uniformOperand(model *typed.Model, node *typed.Node) (binary.UniformOperand, bool, error) {
	u, found, err := binary.FindUniformOperand(model, node)
	if err != nil || !found {
		return u, false, err
	}
	if u.Value.DatumType().IsQuantized() || u.Output.DatumType.IsQuantized() {
		return u, false, nil
	}
	return u, true, nil
}

// passThrough replaces the node by its variable operand.
func passThrough(model *typed.Model, node *typed.Node, u binary.UniformOperand) (*typed.Patch, error) {
	return typed.Rewire(model, []typed.OutletID{u.Var}, node.OutletIDs(),
		func(_ *typed.Patch, taps []typed.OutletID) ([]typed.OutletID, error) { return taps, nil })
}

// declutterNeutral removes the node if its uniform operand is the neutral element value. If alsoLeft is
// false the uniform operand must be on the right.
func declutterNeutral(model *typed.Model, node *typed.Node, value float64, alsoLeft bool) (*typed.Patch, error) {
	u, found, err := uniformOperand(model, node)
	if err != nil || !found {
		return nil, err
	}
	if !u.Is(value) || (u.ConstSlot == 0 && !alsoLeft) || !u.VarIsOutput() {
		return nil, nil
	}
	klog.V(2).Infof("arith: %q is the identity", node.Name)
	return passThrough(model, node, u)
}

func declutterAdd(model *typed.Model, node *typed.Node) (*typed.Patch, error) {
	return declutterNeutral(model, node, 0, true)
}

func declutterSub(model *typed.Model, node *typed.Node) (*typed.Patch, error) {
	return declutterNeutral(model, node, 0, false)
}

// powerOfTwoShift returns log2 of the uniform value, if it is a positive integer power of two of an
// integer datum type.
func powerOfTwoShift(u binary.UniformOperand) (int, bool) {
	dt := u.Value.DatumType()
	if !dt.IsInteger() || dt.IsTDim() {
		return 0, false
	}
	v, err := u.Value.ScalarInt64()
	if err != nil || v <= 0 || bits.OnesCount64(uint64(v)) != 1 {
		return 0, false
	}
	return bits.TrailingZeros64(uint64(v)), true
}

// shiftBy replaces the node by a shift of its variable operand. The shift amount is a constant of the
// datum type of the output, with the rank of the variable operand.
func shiftBy(model *typed.Model, node *typed.Node, u binary.UniformOperand, shift int, op *binary.MiniOp) (*typed.Patch, error) {
	if !u.VarIsOutput() {
		return nil, nil
	}
	amount, err := tensor.Scalar(int64(shift)).CastTo(u.Output.DatumType)
	if err != nil {
		return nil, err
	}
	if amount, err = amount.BroadcastIntoRank(u.VarFact.Rank()); err != nil {
		return nil, err
	}
	return typed.Rewire(model, []typed.OutletID{u.Var}, node.OutletIDs(),
		func(patch *typed.Patch, taps []typed.OutletID) ([]typed.OutletID, error) {
			konst, err := patch.AddConst(node.Name+".shift", amount)
			if err != nil {
				return nil, err
			}
			return patch.WireNode(node.Name, binary.New(op), []typed.OutletID{taps[0], konst})
		})
}

func declutterMul(model *typed.Model, node *typed.Node) (*typed.Patch, error) {
	if patch, err := declutterNeutral(model, node, 1, true); patch != nil || err != nil {
		return patch, err
	}
	u, found, err := uniformOperand(model, node)
	if err != nil || !found {
		return nil, err
	}
	if u.Is(0) {
		zero, err := u.Value.CastTo(u.Output.DatumType)
		if err != nil {
			return nil, err
		}
		return typed.Rewire(model, nil, node.OutletIDs(),
			func(patch *typed.Patch, _ []typed.OutletID) ([]typed.OutletID, error) {
				konst, err := patch.AddConst(node.Name+".zero", zero)
				if err != nil {
					return nil, err
				}
				return patch.WireNode(node.Name, array.NewMultiBroadcastTo(u.Output.Shape...), []typed.OutletID{konst})
			})
	}
	if shift, ok := powerOfTwoShift(u); ok {
		return shiftBy(model, node, u, shift, ShiftLeft)
	}
	return nil, nil
}

func declutterDiv(model *typed.Model, node *typed.Node) (*typed.Patch, error) {
	if patch, err := declutterNeutral(model, node, 1, false); patch != nil || err != nil {
		return patch, err
	}
	u, found, err := uniformOperand(model, node)
	if err != nil {
		return nil, err
	}
	if found {
		if shift, ok := powerOfTwoShift(u); ok && u.ConstSlot == 1 {
			return shiftBy(model, node, u, shift, ShiftRight)
		}
		return nil, nil
	}

	// a / b => a * recip(b), when a is not a constant.
	facts, err := model.NodeInputFacts(node.ID)
	if err != nil {
		return nil, err
	}
	if facts[0].Konst != nil || facts[0].Uniform != nil || !facts[0].DatumType.IsFloat() || facts[1].DatumType != facts[0].DatumType {
		return nil, nil
	}
	return typed.Rewire(model, node.Inputs, node.OutletIDs(),
		func(patch *typed.Patch, taps []typed.OutletID) ([]typed.OutletID, error) {
			denominator, err := patch.WireNode(node.Name+"-recip", elementwise.New(Recip), taps[1:2])
			if err != nil {
				return nil, err
			}
			return patch.WireNode(node.Name, binary.New(Mul), []typed.OutletID{taps[0], denominator[0]})
		})
}

// declutterPow specializes constant exponents 2, 3 and 0.5 of floats.
func declutterPow(model *typed.Model, node *typed.Node) (*typed.Patch, error) {
	if patch, err := declutterNeutral(model, node, 1, false); patch != nil || err != nil {
		return patch, err
	}
	u, found, err := uniformOperand(model, node)
	if err != nil || !found || u.ConstSlot != 1 || !u.VarFact.DatumType.IsFloat() || !u.VarIsOutput() {
		return nil, err
	}
	var replacement *elementwise.MiniOp
	switch {
	case u.Is(2):
		replacement = Square
	case u.Is(3):
		replacement = Cube
	case u.Is(0.5):
		replacement = Sqrt
	default:
		return nil, nil
	}
	return typed.ReplaceSingleOp(model, node, []typed.OutletID{u.Var}, elementwise.New(replacement))
}

// declutterRecip fuses Recip(Sqrt(x)) into Rsqrt(x), and Recip(Rsqrt(x)) into Sqrt(x).
func declutterRecip(model *typed.Model, node *typed.Node) (*typed.Patch, error) {
	prec, ok := model.SinglePrec(node.ID)
	if !ok {
		return nil, nil
	}
	var replacement *elementwise.MiniOp
	switch elementwise.KindOf(prec.Op) {
	case elementwise.KindSqrt:
		replacement = Rsqrt
	case elementwise.KindRsqrt:
		replacement = Sqrt
	default:
		return nil, nil
	}
	patch := typed.NewPatch("recip fusion")
	wire, err := patch.TapModel(model, prec.Inputs[0])
	if err != nil {
		return nil, err
	}
	outputs, err := patch.WireNode(node.Name, elementwise.New(replacement), []typed.OutletID{wire})
	if err != nil {
		return nil, err
	}
	if err := patch.ShuntOutside(model, node.OutletIDs()[0], outputs[0]); err != nil {
		return nil, err
	}
	return patch, nil
}
