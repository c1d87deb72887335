package kernels

import (
	"slices"

	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/x448/float16"
)

// BinaryKernel computes a binary operation on two tensors of the same storage type, broadcast (numpy style)
// to shape. Both operands must already have the rank of shape. It returns the flat result storage.
type BinaryKernel func(a, b *tensor.Tensor, shape []int) any

// BinaryFuncs holds the scalar functions of a binary operation, per storage type. Nil entries are not
// supported. Float16 and BFloat16 are computed through F32 unless given explicitly.
type BinaryFuncs struct {
	Bool func(a, b bool) bool
	I8   func(a, b int8) int8
	I16  func(a, b int16) int16
	I32  func(a, b int32) int32
	I64  func(a, b int64) int64
	U8   func(a, b uint8) uint8
	U16  func(a, b uint16) uint16
	U32  func(a, b uint32) uint32
	U64  func(a, b uint64) uint64
	F16  func(a, b float16.Float16) float16.Float16
	BF16 func(a, b bfloat16.BFloat16) bfloat16.BFloat16
	F32  func(a, b float32) float32
	F64  func(a, b float64) float64

	// TDim may panic (with exceptions.Panicf) when the symbolic operation is not supported.
	TDim func(a, b tdim.Dim) tdim.Dim
}

// IntegerBinary fills the integer entries of BinaryFuncs with the instantiations of fn.
// It is a convenience for operations written once with generics.
func IntegerBinary(i8 func(a, b int8) int8, i16 func(a, b int16) int16, i32 func(a, b int32) int32,
	i64 func(a, b int64) int64, u8 func(a, b uint8) uint8, u16 func(a, b uint16) uint16,
	u32 func(a, b uint32) uint32, u64 func(a, b uint64) uint64) BinaryFuncs {
	return BinaryFuncs{I8: i8, I16: i16, I32: i32, I64: i64, U8: u8, U16: u16, U32: u32, U64: u64}
}

func registerBinary[T tensor.Supported](d *Dispatcher[BinaryKernel], fn func(a, b T) T) {
	if fn == nil {
		return
	}
	d.Register(tensor.Of[T](), func(a, b *tensor.Tensor, shape []int) any {
		return BroadcastBinary(tensor.Flat[T](a), a.Shape(), tensor.Flat[T](b), b.Shape(), shape, fn)
	})
}

// Dispatcher builds the kernel table of the functions.
func (f BinaryFuncs) Dispatcher(name string) *Dispatcher[BinaryKernel] {
	d := NewDispatcher[BinaryKernel](name)
	registerBinary(d, f.Bool)
	registerBinary(d, f.I8)
	registerBinary(d, f.I16)
	registerBinary(d, f.I32)
	registerBinary(d, f.I64)
	registerBinary(d, f.U8)
	registerBinary(d, f.U16)
	registerBinary(d, f.U32)
	registerBinary(d, f.U64)
	registerBinary(d, f.F16)
	registerBinary(d, f.BF16)
	registerBinary(d, f.F32)
	registerBinary(d, f.F64)
	registerBinary(d, f.TDim)
	if f32 := f.F32; f32 != nil {
		if f.F16 == nil {
			registerBinary(d, func(a, b float16.Float16) float16.Float16 {
				return float16.Fromfloat32(f32(a.Float32(), b.Float32()))
			})
		}
		if f.BF16 == nil {
			registerBinary(d, func(a, b bfloat16.BFloat16) bfloat16.BFloat16 {
				return bfloat16.FromFloat32(f32(a.Float32(), b.Float32()))
			})
		}
	}
	return d
}

// BroadcastBinary computes fn over the elements of a and b broadcast to shape. Both operands must have
// the rank of shape, and each of their axes must be 1 or the axis of shape.
//
// Operands with the output shape or with a single element avoid the broadcast iterator.
func BroadcastBinary[A, B, C any](a []A, aShape []int, b []B, bShape []int, shape []int, fn func(A, B) C) []C {
	n := 1
	for _, d := range shape {
		n *= d
	}
	out := make([]C, n)
	if n == 0 {
		return out
	}
	aFull, bFull := slices.Equal(aShape, shape), slices.Equal(bShape, shape)
	switch {
	case aFull && bFull:
		for ii := range out {
			out[ii] = fn(a[ii], b[ii])
		}
	case aFull && len(b) == 1:
		scalar := b[0]
		for ii := range out {
			out[ii] = fn(a[ii], scalar)
		}
	case bFull && len(a) == 1:
		scalar := a[0]
		for ii := range out {
			out[ii] = fn(scalar, b[ii])
		}
	default:
		aIt := tensor.NewBroadcastIterator(aShape, shape)
		bIt := tensor.NewBroadcastIterator(bShape, shape)
		for ii := range out {
			out[ii] = fn(a[aIt.Next()], b[bIt.Next()])
		}
	}
	return out
}
