// Package arith defines the arithmetic operators: the binary family (Add, Sub, Mul, Div, Rem, Min, Max,
// Pow and the shifts) as binary.MiniOp, the unary family (Abs, Exp, Sqrt, Recip, ...) as
// elementwise.MiniOp, and their simplification rules.
//
// Typed nodes are created with binary.New(arith.Mul) or elementwise.New(arith.Sqrt).
package arith

import (
	"math"

	"github.com/gomlx/typedgraph/ops/binary"
	"github.com/gomlx/typedgraph/ops/kernels"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
)

func numericBinary(i8 func(a, b int8) int8, i16 func(a, b int16) int16, i32 func(a, b int32) int32,
	i64 func(a, b int64) int64, u8 func(a, b uint8) uint8, u16 func(a, b uint16) uint16,
	u32 func(a, b uint32) uint32, u64 func(a, b uint64) uint64,
	f32 func(a, b float32) float32, f64 func(a, b float64) float64) kernels.BinaryFuncs {
	funcs := kernels.IntegerBinary(i8, i16, i32, i64, u8, u16, u32, u64)
	funcs.F32, funcs.F64 = f32, f64
	return funcs
}

func withTDim(funcs kernels.BinaryFuncs, fn func(a, b tdim.Dim) tdim.Dim) kernels.BinaryFuncs {
	funcs.TDim = fn
	return funcs
}

// comparisonDatumType compares symbolic dimensions as Int64: they must be concrete by then.
func comparisonDatumType(a, b tensor.DatumType) (tensor.DatumType, error) {
	dt, err := tensor.SuperType(a, b)
	if err != nil {
		return dt, err
	}
	if dt.IsTDim() {
		return tensor.I64, nil
	}
	return dt, nil
}

func fmaCost(dt tensor.DatumType) []typed.Cost {
	return []typed.Cost{{Kind: typed.CostFMA, DatumType: dt, Count: tdim.Int(1)}}
}

func divCost(dt tensor.DatumType) []typed.Cost {
	return []typed.Cost{{Kind: typed.CostDiv, DatumType: dt, Count: tdim.Int(1)}}
}

var (
	// Add is a + b.
	Add = &binary.MiniOp{
		Name: "Add",
		Kernels: withTDim(numericBinary(add[int8], add[int16], add[int32], add[int64], add[uint8], add[uint16],
			add[uint32], add[uint64], add[float32], add[float64]), tdim.Dim.Add).Dispatcher("Add"),
		Quantized:  quantizedAdd,
		Validation: typed.Rounding,
	}

	// Sub is a - b.
	Sub = &binary.MiniOp{
		Name: "Sub",
		Kernels: withTDim(numericBinary(sub[int8], sub[int16], sub[int32], sub[int64], sub[uint8], sub[uint16],
			sub[uint32], sub[uint64], sub[float32], sub[float64]), tdim.Dim.Sub).Dispatcher("Sub"),
		Quantized: quantizedSub,
	}

	// Mul is a * b.
	Mul = &binary.MiniOp{
		Name: "Mul",
		Kernels: withTDim(numericBinary(mul[int8], mul[int16], mul[int32], mul[int64], mul[uint8], mul[uint16],
			mul[uint32], mul[uint64], mul[float32], mul[float64]), tdim.Dim.Mul).Dispatcher("Mul"),
		OutOfPlace: mulOutOfPlace,
		Cost:       fmaCost,
	}

	// Div is a / b. Integer division is the floor division, as for symbolic dimensions.
	Div = &binary.MiniOp{
		Name: "Div",
		Kernels: numericBinary(divInt[int8], divInt[int16], divInt[int32], divInt[int64], divInt[uint8],
			divInt[uint16], divInt[uint32], divInt[uint64], div[float32], div[float64]).Dispatcher("Div"),
		OutOfPlace: divOutOfPlace,
		Cost:       divCost,
		Validation: typed.Rounding,
	}

	// Rem is the remainder of the floor division: it has the sign of b.
	Rem = &binary.MiniOp{
		Name: "Rem",
		Kernels: numericBinary(remInt[int8], remInt[int16], remInt[int32], remInt[int64], remInt[uint8],
			remInt[uint16], remInt[uint32], remInt[uint64], remFloat[float32], remFloat[float64]).Dispatcher("Rem"),
		OutOfPlace: tdimByInteger(tdim.Dim.RemInt, false),
	}

	// Min is the smallest of a and b. Symbolic dimensions are compared once concrete.
	Min = &binary.MiniOp{
		Name: "Min",
		Kernels: numericBinary(minOf[int8], minOf[int16], minOf[int32], minOf[int64], minOf[uint8],
			minOf[uint16], minOf[uint32], minOf[uint64], minOf[float32], minOf[float64]).Dispatcher("Min"),
		OperatingDatumType: comparisonDatumType,
		Quantized:          func(a, b int64, _, _, _ tensor.DatumType) int64 { return min(a, b) },
	}

	// Max is the largest of a and b. Symbolic dimensions are compared once concrete.
	Max = &binary.MiniOp{
		Name: "Max",
		Kernels: numericBinary(maxOf[int8], maxOf[int16], maxOf[int32], maxOf[int64], maxOf[uint8],
			maxOf[uint16], maxOf[uint32], maxOf[uint64], maxOf[float32], maxOf[float64]).Dispatcher("Max"),
		OperatingDatumType: comparisonDatumType,
		Quantized:          func(a, b int64, _, _, _ tensor.DatumType) int64 { return max(a, b) },
	}

	// Pow is a raised to the power b.
	Pow = &binary.MiniOp{
		Name: "Pow",
		Kernels: kernels.BinaryFuncs{
			I32: powInt[int32], I64: powInt[int64],
			F32: powF32, F64: math.Pow,
		}.Dispatcher("Pow"),
		Validation: typed.Rounding,
	}

	// ShiftLeft is a << b, for integers.
	ShiftLeft = &binary.MiniOp{
		Name: "ShiftLeft",
		Kernels: kernels.IntegerBinary(shiftLeft[int8], shiftLeft[int16], shiftLeft[int32], shiftLeft[int64],
			shiftLeft[uint8], shiftLeft[uint16], shiftLeft[uint32], shiftLeft[uint64]).Dispatcher("ShiftLeft"),
	}

	// ShiftRight is a >> b, for integers: the floor division by 2^b.
	ShiftRight = &binary.MiniOp{
		Name: "ShiftRight",
		Kernels: kernels.IntegerBinary(shiftRight[int8], shiftRight[int16], shiftRight[int32], shiftRight[int64],
			shiftRight[uint8], shiftRight[uint16], shiftRight[uint32], shiftRight[uint64]).Dispatcher("ShiftRight"),
	}
)

func init() {
	Add.Declutter = declutterAdd
	Sub.Declutter = declutterSub
	Mul.Declutter = declutterMul
	Div.Declutter = declutterDiv
	Pow.Declutter = declutterPow
}
