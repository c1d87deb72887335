package arith

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/gomlx/typedgraph/ops/elementwise"
	"github.com/gomlx/typedgraph/ops/kernels"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
)

func floatUnary(f32 func(float32) float32, f64 func(float64) float64) kernels.UnaryFuncs {
	return kernels.UnaryFuncs{F32: f32, F64: f64}
}

// newFloatUnary creates a unary MiniOp on floats. Quantized inputs are computed through float32.
func newFloatUnary(name string, kind elementwise.Kind, f32 func(float32) float32, f64 func(float64) float64) *elementwise.MiniOp {
	return &elementwise.MiniOp{
		Name:    name,
		Kind:    kind,
		Kernels: floatUnary(f32, f64).Dispatcher(name),
	}
}

// newRoundingUnary is like newFloatUnary, for functions whose rewrites may change the rounding.
func newRoundingUnary(name string, kind elementwise.Kind, f32 func(float32) float32, f64 func(float64) float64) *elementwise.MiniOp {
	m := newFloatUnary(name, kind, f32, f64)
	m.Validation = typed.Rounding
	return m
}

var (
	// Abs is |x|. Symbolic dimensions are computed as Int64 once concrete.
	Abs = &elementwise.MiniOp{
		Name: "Abs",
		Kind: elementwise.KindAbs,
		Kernels: kernels.SignedUnary(abs[int8], abs[int16], abs[int32], abs[int64],
			abs[float32], abs[float64]).Dispatcher("Abs"),
		OperatingDatumType: func(dt tensor.DatumType) (tensor.DatumType, bool) {
			if dt.IsTDim() {
				return tensor.I64, true
			}
			return dt, false
		},
	}

	// Neg is -x.
	Neg = &elementwise.MiniOp{
		Name: "Neg",
		Kind: elementwise.KindNeg,
		Kernels: withUnaryTDim(kernels.SignedUnary(neg[int8], neg[int16], neg[int32], neg[int64],
			neg[float32], neg[float64]), tdim.Dim.Neg).Dispatcher("Neg"),
	}

	Exp    = newRoundingUnary("Exp", elementwise.KindExp, math32.Exp, math.Exp)
	Ln     = newRoundingUnary("Ln", elementwise.KindLn, math32.Log, math.Log)
	Square = newRoundingUnary("Square", elementwise.KindSquare, square[float32], square[float64])
	Cube   = newRoundingUnary("Cube", elementwise.KindCube, cube[float32], cube[float64])
	Sqrt   = newRoundingUnary("Sqrt", elementwise.KindSqrt, math32.Sqrt, math.Sqrt)
	Rsqrt  = newRoundingUnary("Rsqrt", elementwise.KindRsqrt, rsqrtF32, rsqrtF64)
	Ceil   = newFloatUnary("Ceil", elementwise.KindCeil, math32.Ceil, math.Ceil)
	Floor  = newFloatUnary("Floor", elementwise.KindFloor, math32.Floor, math.Floor)
	Round  = newFloatUnary("Round", elementwise.KindRound, math32.Round, math.Round)
	Sign   = newFloatUnary("Sign", elementwise.KindSign, sign[float32], sign[float64])
	Sin    = newFloatUnary("Sin", elementwise.KindSin, math32.Sin, math.Sin)
	Cos    = newFloatUnary("Cos", elementwise.KindCos, math32.Cos, math.Cos)

	// Recip is 1/x. Recip(Sqrt(x)) and Recip(Rsqrt(x)) are fused.
	Recip = &elementwise.MiniOp{
		Name:       "Recip",
		Kind:       elementwise.KindRecip,
		Kernels:    floatUnary(recip[float32], recip[float64]).Dispatcher("Recip"),
		Cost:       divCost,
		Validation: typed.Rounding,
	}

	// Tanh is the hyperbolic tangent.
	Tanh = &elementwise.MiniOp{
		Name:    "Tanh",
		Kind:    elementwise.KindTanh,
		Kernels: floatUnary(math32.Tanh, math.Tanh).Dispatcher("Tanh"),
		Cost: func(dt tensor.DatumType) []typed.Cost {
			return []typed.Cost{
				{Kind: typed.CostFMA, DatumType: dt, Count: tdim.Int(11)},
				{Kind: typed.CostDiv, DatumType: dt, Count: tdim.Int(1)},
			}
		},
	}
)

func withUnaryTDim(funcs kernels.UnaryFuncs, fn func(tdim.Dim) tdim.Dim) kernels.UnaryFuncs {
	funcs.TDim = fn
	return funcs
}

func init() {
	Recip.Declutter = declutterRecip
}
