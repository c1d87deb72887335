package array

import (
	"testing"

	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/internal/graphtest"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildChain builds x -> ops[0] -> ops[1] ... -> output.
func buildChain(t *testing.T, x fact.TypedFact, ops ...typed.Op) *typed.Model {
	m := typed.NewModel()
	outlets := []typed.OutletID{must.M1(m.AddSource("x", x))}
	for ii, op := range ops {
		outlets = must.M1(m.WireNode(op.Name()+"-"+string(rune('a'+ii)), op, outlets))
	}
	require.NoError(t, m.SetOutputOutlets(outlets...))
	return m
}

func eval(t *testing.T, op typed.Op, input *tensor.Tensor) *tensor.Tensor {
	outputs, err := op.Eval([]*tensor.Tensor{input})
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	return outputs[0]
}

func TestSlice(t *testing.T) {
	x := tensor.FromValue([][]int32{{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, {9, 10, 11}})
	graphtest.RequireTensorsEqual(t, tensor.FromValue([][]int32{{3, 4, 5}, {6, 7, 8}}),
		eval(t, NewSlice(0, tdim.Int(1), tdim.Int(3)), x))

	// Negative bounds count from the end.
	graphtest.RequireTensorsEqual(t, tensor.FromValue([][]int32{{1, 2}, {4, 5}, {7, 8}, {10, 11}}),
		eval(t, NewSlice(1, tdim.Int(-2), tdim.Int(3)), x))

	// Out of range bounds are clamped, and reversed bounds give an empty range.
	graphtest.RequireTensorsEqual(t, tensor.FromValue([][]int32{{9, 10, 11}}),
		eval(t, NewSlice(0, tdim.Int(3), tdim.Int(10)), x))
	assert.Equal(t, []int{4, 0}, eval(t, NewSlice(1, tdim.Int(-1), tdim.Int(1)), x).Shape())

	// Statically negative lengths are rejected.
	_, err := NewSlice(0, tdim.Int(3), tdim.Int(1)).OutputFacts([]fact.TypedFact{fact.TypedInts(tensor.I32, 4, 3)})
	require.Error(t, err)
	_, err = NewSlice(2, tdim.Int(0), tdim.Int(1)).OutputFacts([]fact.TypedFact{fact.TypedInts(tensor.I32, 4, 3)})
	require.Error(t, err)

	// Declared lengths agree with the evaluated ones when bounds are out of range.
	for _, bounds := range [][2]int64{{-2, 3}, {3, 10}, {-10, 2}, {0, -1}, {-10, 10}} {
		op := NewSlice(0, tdim.Int(bounds[0]), tdim.Int(bounds[1]))
		facts := must.M1(op.OutputFacts([]fact.TypedFact{fact.TypedInts(tensor.I32, 4, 3)}))
		got := eval(t, op, x)
		assert.True(t, facts[0].Shape[0].Equal(tdim.Int(int64(got.Shape()[0]))), "%s: declared %s, got %v",
			op, facts[0].Shape[0], got.Shape())
	}

	// Symbolic bounds are resolved with the symbols bound at run time.
	s := tdim.Sym("S")
	m := buildChain(t, fact.Typed(tensor.I32, s), NewSlice(0, tdim.Int(1), s.SubInt(1)))
	f := must.M1(m.OutletFact(m.OutputOutlets()[0]))
	assert.True(t, f.Shape[0].Equal(s.SubInt(2)))
	outputs := must.M1(m.Run(tensor.FromValue([]int32{1, 2, 3, 4, 5})))
	graphtest.RequireTensorsEqual(t, tensor.FromValue([]int32{2, 3, 4}), outputs[0])

	_, err = NewSlice(0, tdim.Int(0), s).Eval([]*tensor.Tensor{tensor.FromValue([]int32{1})})
	require.ErrorIs(t, err, tdim.ErrNotConcrete)
}

func TestSliceDeclutter(t *testing.T) {
	s := tdim.Sym("S")
	m := buildChain(t, fact.Typed(tensor.I32, s, tdim.Int(2)), NewSlice(0, tdim.Int(0), s))
	graphtest.CheckDeclutter(t, m, false, tensor.FromValue([][]int32{{1, 2}, {3, 4}}))
	assert.Equal(t, "x", graphtest.OutputNode(t, m, 0).Name)

	m = buildChain(t, fact.Typed(tensor.I32, s, tdim.Int(2)), NewSlice(1, tdim.Int(0), tdim.Int(1)))
	graphtest.CheckDeclutter(t, m, false, tensor.FromValue([][]int32{{1, 2}, {3, 4}}))
	assert.Equal(t, "Slice", graphtest.OutputNode(t, m, 0).Op.Name())
}

func TestDownsample(t *testing.T) {
	x := tensor.FromValue([]int32{0, 1, 2, 3, 4, 5, 6})
	for _, tc := range []struct {
		stride, modulo int
		want           []int32
	}{
		{2, 0, []int32{0, 2, 4, 6}},
		{3, 1, []int32{1, 4}},
		{-1, 0, []int32{6, 5, 4, 3, 2, 1, 0}},
		{-2, 0, []int32{6, 4, 2, 0}},
		{-3, 1, []int32{6, 3}},
		{10, 0, []int32{0}},
	} {
		op := NewDownsample(0, tc.stride, tc.modulo)
		t.Run(op.String(), func(t *testing.T) {
			got := eval(t, op, x)
			assert.Equal(t, tc.want, tensor.Flat[int32](got))
			facts := must.M1(op.OutputFacts([]fact.TypedFact{fact.TypedInts(tensor.I32, 7)}))
			assert.True(t, facts[0].Shape[0].Equal(tdim.Int(int64(len(tc.want)))), "length %s", facts[0].Shape[0])
		})
	}

	// Along an inner axis.
	y := tensor.FromValue([][]int32{{0, 1, 2}, {3, 4, 5}})
	graphtest.RequireTensorsEqual(t, tensor.FromValue([][]int32{{2, 0}, {5, 3}}), eval(t, NewDownsample(1, -2, 0), y))

	s := tdim.Sym("S")
	facts := must.M1(NewDownsample(0, 2, 0).OutputFacts([]fact.TypedFact{fact.Typed(tensor.I32, s.MulInt(2))}))
	assert.True(t, facts[0].Shape[0].Equal(s))

	_, err := NewDownsample(0, 0, 0).OutputFacts([]fact.TypedFact{fact.TypedInts(tensor.I32, 7)})
	require.Error(t, err)

	m := buildChain(t, fact.TypedInts(tensor.I32, 7), NewDownsample(0, 1, 0))
	graphtest.CheckDeclutter(t, m, false, x)
	assert.Equal(t, "x", graphtest.OutputNode(t, m, 0).Name)
}

func TestAxisOp(t *testing.T) {
	x := tensor.FromValue([][]int32{{1, 2, 3}, {4, 5, 6}})
	assert.Equal(t, []int{2, 1, 3}, eval(t, AddAxis(1), x).Shape())
	assert.Equal(t, []int{2, 3, 1}, eval(t, AddAxis(2), x).Shape())
	assert.Equal(t, []int{3}, eval(t, RmAxis(0), tensor.FromValue([][]int32{{1, 2, 3}})).Shape())
	_, err := RmAxis(1).Eval([]*tensor.Tensor{x})
	require.Error(t, err)
	_, err = AddAxis(3).OutputFacts([]fact.TypedFact{fact.TypedInts(tensor.I32, 2, 3)})
	require.Error(t, err)

	// Uniform values are preserved.
	facts := must.M1(AddAxis(0).OutputFacts([]fact.TypedFact{fact.FromConst(tensor.Scalar(float32(2)))}))
	assert.Equal(t, 1, facts[0].Rank())
	require.NotNil(t, facts[0].Uniform)
	assert.True(t, facts[0].Uniform.Equal(tensor.Scalar(float32(2))))

	// AddAxis followed by RmAxis of the same axis cancel out.
	m := buildChain(t, fact.TypedInts(tensor.I32, 2, 3), AddAxis(1), RmAxis(1))
	graphtest.CheckDeclutter(t, m, false, x)
	assert.Equal(t, "x", graphtest.OutputNode(t, m, 0).Name)

	m = buildChain(t, fact.TypedInts(tensor.I32, 1, 3), AddAxis(0), RmAxis(1))
	graphtest.CheckDeclutter(t, m, false, tensor.FromValue([][]int32{{1, 2, 3}}))
}

func TestMultiBroadcastTo(t *testing.T) {
	col := tensor.FromValue([][]int32{{1}, {2}})
	op := NewMultiBroadcastTo(tdim.Int(2), tdim.Int(3))
	graphtest.RequireTensorsEqual(t, tensor.FromValue([][]int32{{1, 1, 1}, {2, 2, 2}}), eval(t, op, col))

	s := tdim.Sym("S")
	facts := must.M1(NewMultiBroadcastTo(s, tdim.Int(3)).OutputFacts([]fact.TypedFact{fact.FromConst(tensor.Scalar(int32(0)))}))
	assert.True(t, facts[0].Shape[0].Equal(s))
	require.NotNil(t, facts[0].Uniform)

	_, err := NewMultiBroadcastTo(tdim.Int(3)).OutputFacts([]fact.TypedFact{fact.TypedInts(tensor.I32, 2)})
	require.Error(t, err)
	_, err = NewMultiBroadcastTo(tdim.Int(3)).OutputFacts([]fact.TypedFact{fact.TypedInts(tensor.I32, 2, 3)})
	require.Error(t, err)

	// Symbolic target shapes are resolved at run time.
	m := typed.NewModel()
	x := must.M1(m.AddSource("x", fact.Typed(tensor.I32, s)))
	zero := must.M1(m.AddConst("zero", tensor.Scalar(int32(0))))
	y := must.M1(m.WireNode("y", NewMultiBroadcastTo(s, tdim.Int(2)), []typed.OutletID{zero}))
	require.NoError(t, m.SetOutputOutlets(x, y[0]))
	outputs := must.M1(m.Run(tensor.FromValue([]int32{7, 8, 9})))
	graphtest.RequireTensorsEqual(t, tensor.Zeros(tensor.I32, 3, 2), outputs[1])

	m = buildChain(t, fact.TypedInts(tensor.I32, 2, 3), NewMultiBroadcastTo(tdim.Int(2), tdim.Int(3)))
	graphtest.CheckDeclutter(t, m, false, tensor.FromValue([][]int32{{1, 2, 3}, {4, 5, 6}}))
	assert.Equal(t, "x", graphtest.OutputNode(t, m, 0).Name)
}
