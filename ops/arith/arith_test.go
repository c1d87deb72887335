package arith

import (
	"testing"

	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/internal/graphtest"
	"github.com/gomlx/typedgraph/ops/binary"
	"github.com/gomlx/typedgraph/ops/elementwise"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildBinary builds x <op> konst (or konst <op> x if konstOnLeft), with x a source of the given fact.
func buildBinary(t *testing.T, op *binary.MiniOp, x fact.TypedFact, konst *tensor.Tensor, konstOnLeft bool) *typed.Model {
	m := typed.NewModel()
	source := must.M1(m.AddSource("x", x))
	c := must.M1(m.AddConst("c", konst))
	inputs := []typed.OutletID{source, c}
	if konstOnLeft {
		inputs = []typed.OutletID{c, source}
	}
	y := must.M1(m.WireNode("y", binary.New(op), inputs))
	require.NoError(t, m.SetOutputOutlets(y...))
	return m
}

func requireBinaryOp(t *testing.T, m *typed.Model, want *binary.MiniOp) {
	t.Helper()
	op, ok := graphtest.OutputNode(t, m, 0).Op.(*binary.TypedBinOp)
	require.Truef(t, ok, "output op is %T", graphtest.OutputNode(t, m, 0).Op)
	assert.Equal(t, want.Name, op.Op.Name)
}

func TestMulAsShiftLeft(t *testing.T) {
	four := must.M1(tensor.Scalar(int32(4)).BroadcastIntoRank(2))
	m := buildBinary(t, Mul, fact.TypedInts(tensor.I32, 2, 2), four, false)
	x := tensor.FromValue([][]int32{{1, 2}, {3, 4}})
	outputs := graphtest.CheckDeclutter(t, m, false, x)
	graphtest.RequireTensorsEqual(t, tensor.FromValue([][]int32{{4, 8}, {12, 16}}), outputs[0])
	requireBinaryOp(t, m, ShiftLeft)
	assert.Equal(t, "y", graphtest.OutputNode(t, m, 0).Name)

	// Also with the constant on the left.
	m = buildBinary(t, Mul, fact.TypedInts(tensor.I32, 2, 2), four, true)
	graphtest.CheckDeclutter(t, m, false, x)
	requireBinaryOp(t, m, ShiftLeft)
}

func TestDivAsShiftRight(t *testing.T) {
	m := buildBinary(t, Div, fact.TypedInts(tensor.I32, 2, 2), tensor.FromValue([][]int32{{4}}), false)
	outputs := graphtest.CheckDeclutter(t, m, false, tensor.FromValue([][]int32{{16, 32}, {64, 68}}))
	graphtest.RequireTensorsEqual(t, tensor.FromValue([][]int32{{4, 8}, {16, 17}}), outputs[0])
	requireBinaryOp(t, m, ShiftRight)

	// Floor division is preserved on negative dividends.
	m = buildBinary(t, Div, fact.TypedInts(tensor.I32, 3), tensor.Scalar(int32(2)), false)
	outputs = graphtest.CheckDeclutter(t, m, false, tensor.FromValue([]int32{-7, 7, -8}))
	graphtest.RequireTensorsEqual(t, tensor.FromValue([]int32{-4, 3, -4}), outputs[0])
	requireBinaryOp(t, m, ShiftRight)

	// A power of two dividend is not a shift.
	m = buildBinary(t, Div, fact.TypedInts(tensor.I32, 3), tensor.Scalar(int32(8)), true)
	graphtest.CheckDeclutter(t, m, false, tensor.FromValue([]int32{1, 2, 3}))
	requireBinaryOp(t, m, Div)
}

func TestNeutralElements(t *testing.T) {
	x := tensor.FromValue([]float32{1, 2, 3})
	for _, tc := range []struct {
		name        string
		op          *binary.MiniOp
		value       float32
		konstOnLeft bool
		removed     bool
	}{
		{"x+0", Add, 0, false, true},
		{"0+x", Add, 0, true, true},
		{"x-0", Sub, 0, false, true},
		{"0-x", Sub, 0, true, false},
		{"x*1", Mul, 1, false, true},
		{"1*x", Mul, 1, true, true},
		{"x/1", Div, 1, false, true},
		{"1/x", Div, 1, true, false},
		{"x^1", Pow, 1, false, true},
		{"x+1", Add, 1, false, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := buildBinary(t, tc.op, fact.TypedInts(tensor.F32, 3), tensor.Scalar(tc.value), tc.konstOnLeft)
			graphtest.CheckDeclutter(t, m, false, x)
			if tc.removed {
				assert.Equal(t, "x", graphtest.OutputNode(t, m, 0).Name)
			} else {
				requireBinaryOp(t, m, tc.op)
			}
		})
	}

	// Broadcasting by the neutral element changes the shape: the node is kept.
	m := buildBinary(t, Add, fact.TypedInts(tensor.F32, 3), tensor.FromValue([][]float32{{0}, {0}}), false)
	graphtest.CheckDeclutter(t, m, false, x)
	requireBinaryOp(t, m, Add)
}

func TestMulByZero(t *testing.T) {
	m := buildBinary(t, Mul, fact.TypedInts(tensor.I32, 2, 2), tensor.Scalar(int32(0)), false)
	outputs := graphtest.CheckDeclutter(t, m, false, tensor.FromValue([][]int32{{1, 2}, {3, 4}}))
	graphtest.RequireTensorsEqual(t, tensor.Zeros(tensor.I32, 2, 2), outputs[0])
	_, isBinary := graphtest.OutputNode(t, m, 0).Op.(*binary.TypedBinOp)
	assert.False(t, isBinary)
}

func TestDivAsRecip(t *testing.T) {
	m := typed.NewModel()
	x := must.M1(m.AddSource("x", fact.TypedInts(tensor.F32, 3)))
	y := must.M1(m.AddSource("y", fact.TypedInts(tensor.F32, 3)))
	z := must.M1(m.WireNode("z", binary.New(Div), []typed.OutletID{x, y}))
	require.NoError(t, m.SetOutputOutlets(z...))

	outputs := graphtest.CheckDeclutter(t, m, true, tensor.FromValue([]float32{1, 2, 3}), tensor.FromValue([]float32{3, 4, 7}))
	graphtest.RequireTensorsClose(t, tensor.FromValue([]float32{1.0 / 3, 0.5, 3.0 / 7}), outputs[0])
	requireBinaryOp(t, m, Mul)
	recip := m.Node(graphtest.OutputNode(t, m, 0).Inputs[1].Node)
	assert.Equal(t, elementwise.KindRecip, elementwise.KindOf(recip.Op))
	assert.Equal(t, "z-recip", recip.Name)

	// Integer divisions are kept.
	m = typed.NewModel()
	x = must.M1(m.AddSource("x", fact.TypedInts(tensor.I32, 3)))
	y = must.M1(m.AddSource("y", fact.TypedInts(tensor.I32, 3)))
	z = must.M1(m.WireNode("z", binary.New(Div), []typed.OutletID{x, y}))
	require.NoError(t, m.SetOutputOutlets(z...))
	graphtest.CheckDeclutter(t, m, false, tensor.FromValue([]int32{7, -7, 9}), tensor.FromValue([]int32{2, 2, 3}))
	requireBinaryOp(t, m, Div)
}

func TestPowSpecialization(t *testing.T) {
	x := tensor.FromValue([]float32{1, 2, 4})
	for _, tc := range []struct {
		exponent float32
		want     elementwise.Kind
	}{
		{2, elementwise.KindSquare},
		{3, elementwise.KindCube},
		{0.5, elementwise.KindSqrt},
	} {
		t.Run(tc.want.String(), func(t *testing.T) {
			m := buildBinary(t, Pow, fact.TypedInts(tensor.F32, 3), tensor.Scalar(tc.exponent), false)
			graphtest.CheckDeclutter(t, m, true, x)
			assert.Equal(t, tc.want, elementwise.KindOf(graphtest.OutputNode(t, m, 0).Op))
		})
	}

	m := buildBinary(t, Pow, fact.TypedInts(tensor.F32, 3), tensor.Scalar(float32(4)), false)
	graphtest.CheckDeclutter(t, m, true, x)
	requireBinaryOp(t, m, Pow)
}

func TestRecipFusion(t *testing.T) {
	for _, tc := range []struct {
		inner, want *elementwise.MiniOp
		x, result   []float32
	}{
		{Sqrt, Rsqrt, []float32{1, 4, 16}, []float32{1, 0.5, 0.25}},
		{Rsqrt, Sqrt, []float32{1, 4, 16}, []float32{1, 2, 4}},
	} {
		t.Run(tc.inner.Name, func(t *testing.T) {
			m := typed.NewModel()
			x := must.M1(m.AddSource("x", fact.TypedInts(tensor.F32, 3)))
			y := must.M1(m.WireNode("y", elementwise.New(tc.inner), []typed.OutletID{x}))
			z := must.M1(m.WireNode("z", elementwise.New(Recip), y))
			require.NoError(t, m.SetOutputOutlets(z...))
			outputs := graphtest.CheckDeclutter(t, m, true, tensor.FromValue(tc.x))
			graphtest.RequireTensorsClose(t, tensor.FromValue(tc.result), outputs[0])
			assert.Equal(t, 2, m.NumNodes())
			out := graphtest.OutputNode(t, m, 0)
			assert.Equal(t, tc.want.Kind, elementwise.KindOf(out.Op))
			assert.Equal(t, "z", out.Name)
		})
	}
}

func TestFloorDivision(t *testing.T) {
	a := tensor.FromValue([]int32{-7, 7, -8, 8})
	b := tensor.Scalar(int32(2))
	q := must.M1(Div.Eval(tensor.I32, a, b))
	assert.Equal(t, []int32{-4, 3, -4, 4}, tensor.Flat[int32](q))
	r := must.M1(Rem.Eval(tensor.I32, a, b))
	assert.Equal(t, []int32{1, 1, 0, 0}, tensor.Flat[int32](r))
	r = must.M1(Rem.Eval(tensor.I32, a, tensor.Scalar(int32(-3))))
	assert.Equal(t, []int32{-1, -2, -2, -1}, tensor.Flat[int32](r))

	rf := must.M1(Rem.Eval(tensor.F64, tensor.FromValue([]float64{-7.5, 7.5}), tensor.Scalar(2.0)))
	assert.Equal(t, []float64{0.5, 1.5}, tensor.Flat[float64](rf))

	// Division by zero is reported as an error at evaluation.
	m := buildBinary(t, Div, fact.TypedInts(tensor.I32, 2), tensor.Scalar(int32(0)), false)
	_, err := m.Run(tensor.FromValue([]int32{1, 2}))
	require.Error(t, err)
}

func TestPow(t *testing.T) {
	p := must.M1(Pow.Eval(tensor.I32, tensor.FromValue([]int32{2, 2, -1, 1, 3}), tensor.FromValue([]int32{3, -1, -3, -2, 0})))
	assert.Equal(t, []int32{8, 0, -1, 1, 1}, tensor.Flat[int32](p))
	f := must.M1(Pow.Eval(tensor.F32, tensor.FromValue([]float32{4, 9}), tensor.Scalar(float32(0.5))))
	graphtest.RequireTensorsClose(t, tensor.FromValue([]float32{2, 3}), f)
}

func TestSymbolicDimensions(t *testing.T) {
	s := tdim.Sym("S")

	sum := must.M1(Add.Eval(tensor.TDim, tensor.FromDims(s, tdim.Int(2)), tensor.Scalar(int64(1))))
	graphtest.RequireTensorsEqual(t, tensor.FromDims(s.AddInt(1), tdim.Int(3)), sum)

	product := must.M1(Mul.Eval(tensor.TDim, tensor.FromDims(s), tensor.Scalar(int64(4))))
	graphtest.RequireTensorsEqual(t, tensor.FromDims(s.MulInt(4)), product)

	// Symbolic times symbolic goes through the generic kernel.
	product = must.M1(Mul.Eval(tensor.TDim, tensor.FromDims(s), tensor.FromDims(s)))
	graphtest.RequireTensorsEqual(t, tensor.FromDims(s.Mul(s)), product)

	quotient := must.M1(Div.Eval(tensor.TDim, tensor.FromDims(s.MulInt(4), tdim.Int(9)), tensor.Scalar(int64(2))))
	graphtest.RequireTensorsEqual(t, tensor.FromDims(s.MulInt(2), tdim.Int(4)), quotient)

	_, err := Div.Eval(tensor.TDim, tensor.FromDims(s), tensor.FromDims(s))
	require.ErrorIs(t, err, tdim.ErrUnsupported)

	remainder := must.M1(Rem.Eval(tensor.TDim, tensor.FromDims(s.MulInt(4).AddInt(3)), tensor.Scalar(int64(2))))
	graphtest.RequireTensorsEqual(t, tensor.FromDims(tdim.Int(1)), remainder)

	// Comparisons need concrete values.
	smallest := must.M1(Min.Eval(tensor.TDim, tensor.FromDims(tdim.Int(3), tdim.Int(5)), tensor.Scalar(int64(4))))
	graphtest.RequireTensorsEqual(t, tensor.FromDims(tdim.Int(3), tdim.Int(4)), smallest)
	_, err = Max.Eval(tensor.TDim, tensor.FromDims(s), tensor.Scalar(int64(4)))
	require.ErrorIs(t, err, tdim.ErrNotConcrete)

	negated := must.M1(Neg.Eval(tensor.FromDims(s, tdim.Int(-2))))
	graphtest.RequireTensorsEqual(t, tensor.FromDims(s.Neg(), tdim.Int(2)), negated)
	absolute := must.M1(Abs.Eval(tensor.FromDims(tdim.Int(-3), tdim.Int(2))))
	graphtest.RequireTensorsEqual(t, tensor.FromDims(tdim.Int(3), tdim.Int(2)), absolute)
}

func TestQuantized(t *testing.T) {
	q := tensor.QU8(128, 0.5)
	a := must.M1(tensor.FromData(q, []int{2}, []uint8{130, 132})) // 1, 2
	b := must.M1(tensor.FromData(q, []int{2}, []uint8{132, 134})) // 2, 3

	sum := must.M1(binary.New(Add).Eval([]*tensor.Tensor{a, b}))[0]
	assert.Equal(t, q, sum.DatumType())
	assert.Equal(t, []uint8{134, 138}, tensor.Flat[uint8](sum))

	diff := must.M1(Sub.Eval(q, b, a))
	assert.Equal(t, []uint8{130, 130}, tensor.Flat[uint8](diff))

	product := must.M1(Mul.Eval(q, a, b))
	assert.Equal(t, []uint8{132, 140}, tensor.Flat[uint8](product))

	quotient := must.M1(Div.Eval(q, b, a))
	assert.Equal(t, []uint8{132, 131}, tensor.Flat[uint8](quotient))

	largest := must.M1(Max.Eval(q, a, b))
	assert.Equal(t, []uint8{132, 134}, tensor.Flat[uint8](largest))

	// Unary functions are computed in float32.
	root := must.M1(Sqrt.Eval(must.M1(tensor.FromData(tensor.QU8(0, 0.25), []int{1}, []uint8{16}))))
	assert.Equal(t, []uint8{8}, tensor.Flat[uint8](root))

	// Quantized operands are not simplified.
	m := buildBinary(t, Add, fact.TypedInts(q, 2), must.M1(tensor.FromData(q, []int{}, []uint8{128})), false)
	graphtest.CheckDeclutter(t, m, false, a)
	requireBinaryOp(t, m, Add)
}

func TestCost(t *testing.T) {
	s := tdim.Sym("S")
	costs := must.M1(elementwise.New(Tanh).Cost([]fact.TypedFact{fact.TypedInts(tensor.F32, 2, 3)}))
	require.Len(t, costs, 2)
	assert.Equal(t, typed.CostFMA, costs[0].Kind)
	assert.True(t, costs[0].Count.Equal(tdim.Int(66)))
	assert.Equal(t, typed.CostDiv, costs[1].Kind)
	assert.True(t, costs[1].Count.Equal(tdim.Int(6)))

	costs = must.M1(binary.New(Mul).Cost([]fact.TypedFact{
		fact.Typed(tensor.F32, s, tdim.Int(2)), fact.TypedInts(tensor.F32, 2)}))
	require.Len(t, costs, 1)
	assert.Equal(t, tensor.F32, costs[0].DatumType)
	assert.True(t, costs[0].Count.Equal(s.MulInt(2)))

	costs = must.M1(binary.New(Add).Cost([]fact.TypedFact{fact.TypedInts(tensor.F32, 2), fact.TypedInts(tensor.F32, 2)}))
	assert.Empty(t, costs)
}
