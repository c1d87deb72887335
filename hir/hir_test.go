package hir

import (
	"fmt"
	"math"
	"testing"

	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/graph"
	"github.com/gomlx/typedgraph/infer"
	"github.com/gomlx/typedgraph/internal/graphtest"
	"github.com/gomlx/typedgraph/ops/binary"
	"github.com/gomlx/typedgraph/ops/arith"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildModel builds an inference model x -> op -> y, where x has the given fact and the other inputs of
// op are the constant params.
func buildModel(t *testing.T, op infer.Op, x fact.InferenceFact, params ...*tensor.Tensor) *infer.Model {
	m := infer.NewModel()
	inputs := []infer.OutletID{must.M1(m.AddSource("x", x))}
	for ii, p := range params {
		inputs = append(inputs, must.M1(m.AddConst(fmt.Sprintf("p%d", ii), p)))
	}
	y := must.M1(m.WireNode("y", op, inputs))
	require.NoError(t, m.SetOutputOutlets(y...))
	return m
}

// runTyped converts the model of op applied to input, and runs it.
func runTyped(t *testing.T, op infer.Op, input *tensor.Tensor, params ...*tensor.Tensor) (*typed.Model, *tensor.Tensor) {
	x := fact.InferenceFact{}.WithDatumType(input.DatumType()).WithDims(input.Dims()...)
	model, err := buildModel(t, op, x, params...).IntoTyped()
	require.NoError(t, err)
	outputs, err := model.Run(input)
	require.NoError(t, err)
	return model, outputs[0]
}

func ints(values ...int32) *tensor.Tensor { return tensor.FromValue(values) }

func TestStridedSliceEval(t *testing.T) {
	cube := tensor.FromValue([][][]int32{{{1, 1, 1}, {2, 2, 2}}, {{3, 3, 3}, {4, 4, 4}}, {{5, 5, 5}, {6, 6, 6}}})
	for _, tc := range []struct {
		name                string
		op                  *StridedSlice
		input               *tensor.Tensor
		begin, end, strides *tensor.Tensor
		want                *tensor.Tensor
	}{
		{"single", NewStridedSlice(0, 0, 0), cube, ints(1, 0, 0), ints(2, 1, 3), ints(1, 1, 1),
			tensor.FromValue([][][]int32{{{3, 3, 3}}})},
		{"range", NewStridedSlice(0, 0, 0), cube, ints(1, 0, 0), ints(2, 2, 3), ints(1, 1, 1),
			tensor.FromValue([][][]int32{{{3, 3, 3}, {4, 4, 4}}})},
		{"negative-stride", NewStridedSlice(0, 0, 0), cube, ints(1, -1, 0), ints(2, -3, 3), ints(1, -1, 1),
			tensor.FromValue([][][]int32{{{4, 4, 4}, {3, 3, 3}}})},
		{"reverse", NewStridedSlice(0, 0, 0), ints(0, 1), ints(-1), ints(-3), ints(-1), ints(1, 0)},
		{"end-clamped", NewStridedSlice(0, 0, 0), cube, ints(1, 0, 0), ints(2, 2, 4), ints(1, 1, 2),
			tensor.FromValue([][][]int32{{{3, 3}, {4, 4}}})},
		{"negative-end", NewStridedSlice(0, 0, 0), ints(0, 0), ints(0), ints(-1), ints(1), ints(0)},
		{"negative-bounds",
			NewStridedSlice(0, 0, 0), tensor.FromValue([][]int32{{1, 0, 0, 0}, {3, 0, 0, 0}, {0, 0, 0, 0}}),
			ints(-3, -4), ints(-1, -1), ints(1, 2), tensor.FromValue([][]int32{{1, 0}, {3, 0}})},
		{"begin-mask", NewStridedSlice(1, 0, 0), ints(0, 1), ints(1), ints(1), ints(1), ints(0)},
		{"crossed-bounds", NewStridedSlice(0, 0, 0), ints(0, 1, 2, 3), ints(3), ints(1), ints(1), tensor.Zeros(tensor.I32, 0)},
		{"shrink-to-empty", NewStridedSlice(0, 0, 1), tensor.FromValue([][]int32{{0}}),
			ints(0, 0), ints(0, 0), ints(1, 1), tensor.Zeros(tensor.I32, 0)},
		{"shrink-to-scalar", NewStridedSlice(0, 0, 1), ints(0), ints(0), ints(0), ints(1), tensor.Scalar(int32(0))},
		{"shrink-negative", NewStridedSlice(0, 0, 1), ints(5, 6, 7), ints(-1), ints(0), ints(1), tensor.Scalar(int32(7))},
	} {
		t.Run(tc.name, func(t *testing.T) {
			model, got := runTyped(t, tc.op, tc.input, tc.begin, tc.end, tc.strides)
			graphtest.RequireTensorsEqual(t, tc.want, got)
			assert.Equal(t, "y", graphtest.OutputNode(t, model, 0).Name)
		})
	}
}

func TestStridedSliceIdentity(t *testing.T) {
	x := tensor.FromValue([][]int32{{0, 6}, {0, 0}})
	model, got := runTyped(t, NewStridedSlice(0, 0, 0), x, ints(0), ints(2), ints(1))
	graphtest.RequireTensorsEqual(t, x, got)
	assert.Equal(t, "x", graphtest.OutputNode(t, model, 0).Name)
	assert.Equal(t, 4, model.NumNodes())
}

func TestStridedSliceShrinkAll(t *testing.T) {
	model, got := runTyped(t, NewStridedSlice(0, 0, 3), tensor.FromValue([][]float32{{42}}),
		ints(0, 0), ints(1, 1), ints(1, 1))
	graphtest.RequireTensorsEqual(t, tensor.Scalar(float32(42)), got)
	f := must.M1(model.OutletFact(model.OutputOutlets()[0]))
	assert.Equal(t, 0, f.Rank())
	assert.True(t, model.HasName("y.RmAxis-1"))
}

func TestStridedSliceOnnx(t *testing.T) {
	x := tensor.FromValue([][]int32{{0, 1, 2}, {3, 4, 5}})

	// Axes and strides are optional inputs #3 and #4. Negative axes count from the last one.
	op := &StridedSlice{AxesInput: 3, StepsInput: 4}
	_, got := runTyped(t, op, x, tensor.FromValue([]int64{1}), tensor.FromValue([]int64{3}),
		tensor.FromValue([]int64{-1}), tensor.FromValue([]int64{1}))
	graphtest.RequireTensorsEqual(t, tensor.FromValue([][]int32{{1, 2}, {4, 5}}), got)

	// An end of math.MinInt64 means no end: walking backwards goes down to the first element.
	_, got = runTyped(t, op, tensor.FromValue([]int32{0, 1, 2, 3, 4}), tensor.FromValue([]int64{3}),
		tensor.FromValue([]int64{math.MinInt64}), tensor.FromValue([]int64{0}), tensor.FromValue([]int64{-1}))
	graphtest.RequireTensorsEqual(t, ints(3, 2, 1, 0), got)

	// Without strides input, strides are 1.
	op = &StridedSlice{AxesInput: 3}
	_, got = runTyped(t, op, x, tensor.FromValue([]int64{1}), tensor.FromValue([]int64{math.MaxInt64}),
		tensor.FromValue([]int64{0}))
	graphtest.RequireTensorsEqual(t, tensor.FromValue([][]int32{{3, 4, 5}}), got)

	_, err := buildModel(t, &StridedSlice{AxesInput: 3}, fact.InferenceFact{}.WithDatumType(tensor.I32).WithDims(x.Dims()...),
		ints(0), ints(1), tensor.FromValue([]int64{2})).IntoTyped()
	require.Error(t, err)
}

func TestStridedSliceInference(t *testing.T) {
	f32 := fact.InferenceFact{}.WithDatumType(tensor.F32)
	for _, tc := range []struct {
		name                string
		op                  *StridedSlice
		begin, end, strides *tensor.Tensor
	}{
		{"masks", NewStridedSlice(5, 7, 0), ints(0, 2, 0), ints(0, 0, 0), ints(1, 1, 1)},
		{"shrink", NewStridedSlice(1, 1, 2), ints(0, 0), ints(0, 1), ints(1, 1)},
	} {
		t.Run(tc.name, func(t *testing.T) {
			in := []fact.InferenceFact{f32, fact.FromTensor(tc.begin), fact.FromTensor(tc.end), fact.FromTensor(tc.strides)}
			newIn, out, err := infer.InferFacts(tc.op, in, []fact.InferenceFact{{}}, 0)
			require.NoError(t, err)
			assert.Equal(t, "Float32[..]", newIn[0].String())
			assert.Equal(t, "Float32[..]", out[0].String())
			for ii := 1; ii < len(in); ii++ {
				assert.True(t, newIn[ii].Equal(in[ii]), "input #%d", ii)
			}
		})
	}

	// Symbolic shapes go through.
	s := tdim.Sym("S")
	x := f32.WithDims(tdim.Int(1), s.SubInt(2), tdim.Int(16))
	in := []fact.InferenceFact{x, fact.FromTensor(ints(0, 2, 0)), fact.FromTensor(ints(0, 0, 0)), fact.FromTensor(ints(1, 1, 1))}
	_, out, err := infer.InferFacts(NewStridedSlice(5, 7, 0), in, []fact.InferenceFact{{}}, 0)
	require.NoError(t, err)
	dims, ok := out[0].Shape.Concretize()
	require.True(t, ok)
	require.Len(t, dims, 3)
	assert.True(t, dims[0].Equal(tdim.Int(1)))
	assert.True(t, dims[1].Equal(s.SubInt(4)), "got %s", dims[1])
	assert.True(t, dims[2].Equal(tdim.Int(16)))

	// Strides other than 1 over a symbolic range are not supported.
	in = []fact.InferenceFact{f32.WithDims(s), fact.FromTensor(ints(0)), fact.FromTensor(ints(0)), fact.FromTensor(ints(2))}
	_, _, err = infer.InferFacts(NewStridedSlice(0, 1, 0), in, []fact.InferenceFact{{}}, 0)
	require.ErrorIs(t, err, graph.ErrUnsupportedPattern)

	// Inconsistent begin and end lengths.
	in = []fact.InferenceFact{f32, fact.FromTensor(ints(0, 0)), fact.FromTensor(ints(1)), fact.FromTensor(ints(1, 1))}
	_, _, err = infer.InferFacts(NewStridedSlice(0, 0, 0), in, []fact.InferenceFact{{}}, 0)
	require.ErrorIs(t, err, fact.ErrConflict)

	_, _, err = infer.InferFacts(NewStridedSlice(0, 0, 0), in[:3], []fact.InferenceFact{{}}, 0)
	require.ErrorIs(t, err, graph.ErrArityMismatch)
}

func TestStridedSliceSymbolic(t *testing.T) {
	s := tdim.Sym("S")
	x := fact.InferenceFact{}.WithDatumType(tensor.F32).WithDims(s, tdim.Int(2))
	m := buildModel(t, NewStridedSlice(0, 0, 0), x, ints(1), ints(-1), ints(1))
	model, err := m.IntoTyped()
	require.NoError(t, err)
	f := must.M1(model.OutletFact(model.OutputOutlets()[0]))
	assert.True(t, f.Shape[0].Equal(s.SubInt(2)), "got %s", f.Shape[0])
	outputs, err := model.Run(tensor.FromValue([][]float32{{0, 1}, {2, 3}, {4, 5}, {6, 7}}))
	require.NoError(t, err)
	graphtest.RequireTensorsEqual(t, tensor.FromValue([][]float32{{2, 3}, {4, 5}}), outputs[0])
}

func TestStridedSliceNotTypable(t *testing.T) {
	m := infer.NewModel()
	x := must.M1(m.AddSource("x", fact.InferenceFact{}.WithDatumType(tensor.I32).WithDims(tdim.Int(4))))
	begin := must.M1(m.AddSource("begin", fact.InferenceFact{}.WithDatumType(tensor.I32).WithDims(tdim.Int(1))))
	end := must.M1(m.AddConst("end", ints(3)))
	strides := must.M1(m.AddConst("strides", ints(1)))
	y := must.M1(m.WireNode("y", NewStridedSlice(0, 0, 0), []infer.OutletID{x, begin, end, strides}))
	require.NoError(t, m.SetOutputOutlets(y...))

	require.NoError(t, m.Analyse())
	assert.Equal(t, "y", m.FindFirstUnresolved().Name)
	_, err := m.IntoTyped()
	require.ErrorIs(t, err, graph.ErrNotTypable)
}

func TestStridedSliceComputedBounds(t *testing.T) {
	m := infer.NewModel()
	x := must.M1(m.AddSource("x", fact.InferenceFact{}.WithDatumType(tensor.I32).WithDims(tdim.Int(3))))
	one := must.M1(m.AddConst("one", ints(1)))
	zero := must.M1(m.AddConst("zero", ints(0)))
	begin := must.M1(m.WireNode("begin", NewBinary(arith.Add), []infer.OutletID{one, zero}))
	end := must.M1(m.AddConst("end", ints(3)))
	strides := must.M1(m.AddConst("strides", ints(1)))
	y := must.M1(m.WireNode("y", NewStridedSlice(0, 0, 0), []infer.OutletID{x, begin[0], end, strides}))
	require.NoError(t, m.SetOutputOutlets(y...))

	model, err := m.IntoTyped()
	require.NoError(t, err)
	node := must.M1(model.NodeByName("begin"))
	assert.IsType(t, &typed.Const{}, node.Op)
	outputs := graphtest.CheckDeclutter(t, model, false, ints(10, 20, 30))
	graphtest.RequireTensorsEqual(t, ints(20, 30), outputs[0])
}

func TestStridedSliceWireConstantExpression(t *testing.T) {
	target := typed.NewModel()
	x := must.M1(target.AddSource("x", fact.TypedInts(tensor.I32, 3)))
	one := must.M1(target.AddConst("one", ints(1)))
	zero := must.M1(target.AddConst("zero", ints(0)))
	begin := must.M1(target.WireNode("begin", binary.New(arith.Add), []typed.OutletID{one, zero}))
	end := must.M1(target.AddConst("end", ints(3)))
	strides := must.M1(target.AddConst("strides", ints(1)))
	y, err := NewStridedSlice(0, 0, 0).Wire("y", target, []typed.OutletID{x, begin[0], end, strides})
	require.NoError(t, err)
	require.NoError(t, target.SetOutputOutlets(y[0], begin[0]))

	// The add feeding the bounds is still in the graph until decluttered.
	assert.IsType(t, &binary.TypedBinOp{}, graphtest.OutputNode(t, target, 1).Op)
	report, err := target.Declutter()
	require.NoError(t, err)
	require.True(t, report.Converged)
	assert.GreaterOrEqual(t, report.AppliedRules[typed.FoldConstantsRule], 1)
	folded := graphtest.OutputNode(t, target, 1)
	assert.Equal(t, "begin", folded.Name)
	assert.IsType(t, &typed.Const{}, folded.Op)

	outputs, err := target.Run(ints(10, 20, 30))
	require.NoError(t, err)
	graphtest.RequireTensorsEqual(t, ints(20, 30), outputs[0])
	graphtest.RequireTensorsEqual(t, ints(1), outputs[1])

	// Bounds depending on a source can't be evaluated at wiring time.
	source := must.M1(target.AddSource("b", fact.TypedInts(tensor.I32, 1)))
	_, err = NewStridedSlice(0, 0, 0).Wire("z", target, []typed.OutletID{x, source, end, strides})
	require.ErrorIs(t, err, graph.ErrNotTypable)
}

func TestBinary(t *testing.T) {
	m := infer.NewModel()
	x := must.M1(m.AddSource("x", fact.InferenceFact{}.WithDatumType(tensor.F32).WithDims(tdim.Int(2), tdim.Int(3))))
	c := must.M1(m.AddConst("c", tensor.FromValue([]float32{1, 2, 3})))
	y := must.M1(m.WireNode("y", NewBinary(arith.Add), []infer.OutletID{x, c}))
	require.NoError(t, m.SetOutputOutlets(y...))
	require.NoError(t, m.Analyse())
	assert.Equal(t, "Float32[2,3]", must.M1(m.OutletFact(y[0])).String())

	model, err := m.IntoTyped()
	require.NoError(t, err)
	assert.Equal(t, 4, model.NumNodes())
	assert.True(t, model.HasName("y.fix-rank-1-1"))
	outputs, err := model.Run(tensor.FromValue([][]float32{{1, 1, 1}, {2, 2, 2}}))
	require.NoError(t, err)
	graphtest.RequireTensorsEqual(t, tensor.FromValue([][]float32{{2, 3, 4}, {3, 4, 5}}), outputs[0])

	// Constants are propagated at analysis.
	m = infer.NewModel()
	a := must.M1(m.AddConst("a", ints(1, 2)))
	b := must.M1(m.AddConst("b", ints(3, 4)))
	y = must.M1(m.WireNode("y", NewBinary(arith.Mul), []infer.OutletID{a, b}))
	require.NoError(t, m.SetOutputOutlets(y...))
	require.NoError(t, m.Analyse())
	v, ok := must.M1(m.OutletFact(y[0])).Value.Concretize()
	require.True(t, ok)
	graphtest.RequireTensorsEqual(t, ints(3, 8), v)

	// Shapes that can't broadcast conflict.
	_, _, err = infer.InferFacts(NewBinary(arith.Add), []fact.InferenceFact{
		fact.InferenceFact{}.WithDatumType(tensor.F32).WithDims(tdim.Int(2)),
		fact.InferenceFact{}.WithDatumType(tensor.F32).WithDims(tdim.Int(3)),
	}, []fact.InferenceFact{{}}, 0)
	require.Error(t, err)
}

func TestElementWise(t *testing.T) {
	s := tdim.Sym("S")
	m := buildModel(t, NewElementWise(arith.Sqrt), fact.InferenceFact{}.WithDatumType(tensor.F32).WithDims(s))
	require.NoError(t, m.Analyse())
	assert.Equal(t, "Float32[S]", must.M1(m.OutletFact(m.OutputOutlets()[0])).String())
	model, err := m.IntoTyped()
	require.NoError(t, err)
	outputs, err := model.Run(tensor.FromValue([]float32{4, 9}))
	require.NoError(t, err)
	graphtest.RequireTensorsClose(t, tensor.FromValue([]float32{2, 3}), outputs[0])

	_, out, err := infer.InferFacts(NewElementWise(arith.Neg), []fact.InferenceFact{fact.FromTensor(ints(1, -2))},
		[]fact.InferenceFact{{}}, 0)
	require.NoError(t, err)
	v, ok := out[0].Value.Concretize()
	require.True(t, ok)
	graphtest.RequireTensorsEqual(t, ints(-1, 2), v)
}
