package typed

import (
	"testing"

	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/graph"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// incrOp adds one to an Int32 tensor. If restless, its Declutter always proposes to replace it by itself.
type incrOp struct {
	restless bool
}

func (*incrOp) Name() string { return "Incr" }

func (*incrOp) OutputFacts(inputs []fact.TypedFact) ([]fact.TypedFact, error) {
	if len(inputs) != 1 {
		return nil, graph.ErrArityMismatch
	}
	return []fact.TypedFact{inputs[0].WithoutValue()}, nil
}

func (*incrOp) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	in := tensor.Flat[int32](inputs[0])
	out := make([]int32, len(in))
	for ii, v := range in {
		out[ii] = v + 1
	}
	return []*tensor.Tensor{tensor.FromFlat(out, inputs[0].Shape()...)}, nil
}

func (op *incrOp) Declutter(model *Model, node *Node) (*Patch, error) {
	if !op.restless {
		return nil, nil
	}
	return ReplaceSingleOp(model, node, node.Inputs, &incrOp{restless: true})
}

// buildIncrModel builds x -> Incr -> Incr -> output, with x of shape [S].
func buildIncrModel(t *testing.T, restless bool) *Model {
	m := NewModel()
	x := must.M1(m.AddSource("x", fact.Typed(tensor.I32, tdim.Stream())))
	y := must.M1(m.WireNode("y", &incrOp{restless: restless}, []OutletID{x}))
	z := must.M1(m.WireNode("z", &incrOp{restless: restless}, y))
	require.NoError(t, m.SetOutputOutlets(z...))
	return m
}

func TestRun(t *testing.T) {
	m := buildIncrModel(t, false)
	outputs, err := m.Run(tensor.FromValue([]int32{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []int32{3, 4, 5}, tensor.Flat[int32](outputs[0]))

	_, err = m.Run(tensor.FromValue([]int64{1, 2, 3}))
	require.Error(t, err)
	_, err = m.Run()
	require.ErrorIs(t, err, graph.ErrArityMismatch)
}

func TestValidateInputs(t *testing.T) {
	batch := tdim.Sym("batch")
	m := NewModel()
	x := must.M1(m.AddSource("x", fact.Typed(tensor.F32, batch, tdim.Sym("features"))))
	y := must.M1(m.AddSource("y", fact.Typed(tensor.I32, batch, tdim.Int(3))))
	z := must.M1(m.AddSource("z", fact.Typed(tensor.I32, batch.MulInt(2))))
	require.NoError(t, m.SetOutputOutlets(x, y, z))

	symbols, err := m.ValidateInputs(tensor.Zeros(tensor.F32, 5, 7), tensor.Zeros(tensor.I32, 5, 3), tensor.Zeros(tensor.I32, 10))
	require.NoError(t, err)
	assert.Equal(t, tdim.SymbolValues{"batch": 5, "features": 7}, symbols)

	// Wrong datum type:
	_, err = m.ValidateInputs(tensor.Zeros(tensor.F32, 5, 7), tensor.Zeros(tensor.I64, 5, 3), tensor.Zeros(tensor.I32, 10))
	require.Error(t, err)

	// Wrong rank:
	_, err = m.ValidateInputs(tensor.Zeros(tensor.F32, 5, 7, 1), tensor.Zeros(tensor.I32, 5, 3), tensor.Zeros(tensor.I32, 10))
	require.Error(t, err)

	// Fixed dimension not matching:
	_, err = m.ValidateInputs(tensor.Zeros(tensor.F32, 5, 7), tensor.Zeros(tensor.I32, 5, 4), tensor.Zeros(tensor.I32, 10))
	require.Error(t, err)

	// Symbol bound inconsistently:
	_, err = m.ValidateInputs(tensor.Zeros(tensor.F32, 5, 7), tensor.Zeros(tensor.I32, 6, 3), tensor.Zeros(tensor.I32, 10))
	require.Error(t, err)

	// Expression not matching:
	_, err = m.ValidateInputs(tensor.Zeros(tensor.F32, 5, 7), tensor.Zeros(tensor.I32, 5, 3), tensor.Zeros(tensor.I32, 11))
	require.Error(t, err)
}

func TestPatchAtomicity(t *testing.T) {
	t.Run("invalid outlet", func(t *testing.T) {
		m := buildIncrModel(t, false)
		before := m.String()
		y := must.M1(m.NodeByName("y"))
		patch, err := ShuntOneOp(m, y)
		require.NoError(t, err)
		patch.shunts = append(patch.shunts, shunt{outside: OutletID{Node: 999}, by: patch.shunts[0].by})
		err = patch.ApplyTo(m)
		require.ErrorIs(t, err, graph.ErrInvalidOutlet)
		assert.Equal(t, before, m.String())
		require.NoError(t, m.CheckEdges())
	})

	t.Run("cycle", func(t *testing.T) {
		m := buildIncrModel(t, false)
		before := m.String()
		x := must.M1(m.NodeByName("x"))
		y := must.M1(m.NodeByName("y"))
		patch := NewPatch("cycle")
		tapY := must.M1(patch.TapModel(m, OutletID{Node: y.ID}))
		loop := must.M1(patch.WireNode("loop", &incrOp{}, []OutletID{tapY}))
		require.NoError(t, patch.ShuntOutside(m, OutletID{Node: x.ID}, loop[0]))
		require.Error(t, patch.ApplyTo(m))
		assert.Equal(t, before, m.String())
		require.NoError(t, m.CheckEdges())
	})

	t.Run("incompatible facts", func(t *testing.T) {
		m := buildIncrModel(t, false)
		y := must.M1(m.NodeByName("y"))
		patch := NewPatch()
		c := must.M1(patch.AddConst("c", tensor.FromValue([]int64{1})))
		require.Error(t, patch.ShuntOutside(m, OutletID{Node: y.ID}, c))
	})
}

func TestShuntOneOp(t *testing.T) {
	m := buildIncrModel(t, false)
	y := must.M1(m.NodeByName("y"))
	patch := must.M1(ShuntOneOp(m, y))
	require.NoError(t, patch.ApplyTo(m))
	assert.Equal(t, 2, m.NumNodes())
	assert.False(t, m.HasName("y"))
	outputs, err := m.Run(tensor.FromValue([]int32{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 3, 4}, tensor.Flat[int32](outputs[0]))
}

func TestReplaceSingleOpKeepsName(t *testing.T) {
	m := buildIncrModel(t, false)
	z := must.M1(m.NodeByName("z"))
	patch := must.M1(ReplaceSingleOp(m, z, z.Inputs, &incrOp{}))
	require.NoError(t, patch.ApplyTo(m))
	newZ, err := m.NodeByName("z")
	require.NoError(t, err)
	assert.NotEqual(t, z.ID, newZ.ID)
	assert.Equal(t, []OutletID{{Node: newZ.ID}}, m.OutputOutlets())
}

func TestFoldConstants(t *testing.T) {
	m := NewModel()
	c := must.M1(m.AddConst("c", tensor.FromValue([]int32{1, 2})))
	y := must.M1(m.WireNode("y", &incrOp{}, []OutletID{c}))
	z := must.M1(m.WireNode("z", &incrOp{}, y))
	require.NoError(t, m.SetOutputOutlets(z...))

	report, err := m.Declutter()
	require.NoError(t, err)
	assert.True(t, report.Converged)
	assert.Equal(t, 2, report.AppliedRules[FoldConstantsRule])
	output := must.M1(m.OutletFact(m.OutputOutlets()[0]))
	require.NotNil(t, output.Konst)
	assert.Equal(t, []int32{3, 4}, tensor.Flat[int32](output.Konst))
	assert.Equal(t, 1, m.NumNodes())

	// With constant folding disabled nothing happens.
	m = NewModel()
	c = must.M1(m.AddConst("c", tensor.FromValue([]int32{1, 2})))
	y = must.M1(m.WireNode("y", &incrOp{}, []OutletID{c}))
	require.NoError(t, m.SetOutputOutlets(y...))
	report, err = m.DeclutterWith(DeclutterConfig{MaxIterations: 10, DisableConstantFolding: true})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Applied)
}

func TestDeclutterStall(t *testing.T) {
	m := buildIncrModel(t, true)
	report, err := m.DeclutterWith(DeclutterConfig{MaxIterations: 3})
	require.NoError(t, err)
	assert.False(t, report.Converged)
	assert.Equal(t, 3, report.Iterations)
	outputs, err := m.Run(tensor.FromValue([]int32{0}))
	require.NoError(t, err)
	assert.Equal(t, []int32{2}, tensor.Flat[int32](outputs[0]))

	// Disabling the operator's own declutter reaches the fixpoint.
	report, err = m.DeclutterWith(DeclutterConfig{MaxIterations: 3, DisabledRules: []string{"Incr"}})
	require.NoError(t, err)
	assert.True(t, report.Converged)
}

func TestMaterializeConstant(t *testing.T) {
	m := NewModel()
	c := must.M1(m.AddConst("c", tensor.FromValue([]int32{1, 2})))
	y := must.M1(m.WireNode("y", &incrOp{}, []OutletID{c}))
	x := must.M1(m.AddSource("x", fact.TypedInts(tensor.I32, 2)))
	z := must.M1(m.WireNode("z", &incrOp{}, []OutletID{x}))
	require.NoError(t, m.SetOutputOutlets(y[0], z[0]))

	value, err := m.MaterializeConstant(y[0])
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 3}, tensor.Flat[int32](value))
	value, err = m.MaterializeConstant(c)
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2}, tensor.Flat[int32](value))

	_, err = m.MaterializeConstant(z[0])
	require.ErrorIs(t, err, graph.ErrNotTypable)
	assert.Contains(t, err.Error(), `"x"`)
}

func TestWireNodeErrors(t *testing.T) {
	m := NewModel()
	x := must.M1(m.AddSource("x", fact.TypedInts(tensor.I32, 2)))
	_, err := m.WireNode("bad", &incrOp{}, []OutletID{x, x})
	require.ErrorIs(t, err, graph.ErrArityMismatch)
	var nodeErr *graph.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "bad", nodeErr.Node)
	assert.Equal(t, "Incr", nodeErr.Op)

	_, err = m.WireNode("x", &incrOp{}, []OutletID{x})
	require.Error(t, err)
}
