package kernels

import (
	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/x448/float16"
)

// UnaryKernel computes an elementwise operation, returning the flat result storage (of the same type).
type UnaryKernel func(a *tensor.Tensor) any

// UnaryFuncs holds the scalar functions of an elementwise operation, per storage type. Nil entries are not
// supported. Float16 and BFloat16 are computed through F32 unless given explicitly.
type UnaryFuncs struct {
	Bool func(bool) bool
	I8   func(int8) int8
	I16  func(int16) int16
	I32  func(int32) int32
	I64  func(int64) int64
	U8   func(uint8) uint8
	U16  func(uint16) uint16
	U32  func(uint32) uint32
	U64  func(uint64) uint64
	F16  func(float16.Float16) float16.Float16
	BF16 func(bfloat16.BFloat16) bfloat16.BFloat16
	F32  func(float32) float32
	F64  func(float64) float64
	TDim func(tdim.Dim) tdim.Dim
}

// SignedUnary fills the signed integer and float entries of UnaryFuncs.
func SignedUnary(i8 func(int8) int8, i16 func(int16) int16, i32 func(int32) int32, i64 func(int64) int64,
	f32 func(float32) float32, f64 func(float64) float64) UnaryFuncs {
	return UnaryFuncs{I8: i8, I16: i16, I32: i32, I64: i64, F32: f32, F64: f64}
}

// MapSlice applies fn to every element.
func MapSlice[A, B any](in []A, fn func(A) B) []B {
	out := make([]B, len(in))
	for ii, v := range in {
		out[ii] = fn(v)
	}
	return out
}

func registerUnary[T tensor.Supported](d *Dispatcher[UnaryKernel], fn func(T) T) {
	if fn == nil {
		return
	}
	d.Register(tensor.Of[T](), func(a *tensor.Tensor) any {
		return MapSlice(tensor.Flat[T](a), fn)
	})
}

// Dispatcher builds the kernel table of the functions.
func (f UnaryFuncs) Dispatcher(name string) *Dispatcher[UnaryKernel] {
	d := NewDispatcher[UnaryKernel](name)
	registerUnary(d, f.Bool)
	registerUnary(d, f.I8)
	registerUnary(d, f.I16)
	registerUnary(d, f.I32)
	registerUnary(d, f.I64)
	registerUnary(d, f.U8)
	registerUnary(d, f.U16)
	registerUnary(d, f.U32)
	registerUnary(d, f.U64)
	registerUnary(d, f.F16)
	registerUnary(d, f.BF16)
	registerUnary(d, f.F32)
	registerUnary(d, f.F64)
	registerUnary(d, f.TDim)
	if f32 := f.F32; f32 != nil {
		if f.F16 == nil {
			registerUnary(d, func(a float16.Float16) float16.Float16 { return float16.Fromfloat32(f32(a.Float32())) })
		}
		if f.BF16 == nil {
			registerUnary(d, func(a bfloat16.BFloat16) bfloat16.BFloat16 { return bfloat16.FromFloat32(f32(a.Float32())) })
		}
	}
	return d
}
