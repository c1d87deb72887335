package kernels

import (
	"github.com/chewxy/math32"
	"github.com/gomlx/typedgraph/tensor"
)

// StoredInt64s returns the stored integers of an integer or quantized tensor: quantized values are not
// dequantized.
func StoredInt64s(t *tensor.Tensor) []int64 {
	raw, err := t.Reinterpret(t.DatumType().Unquantized())
	if err != nil {
		panic(err)
	}
	values, err := raw.AsInt64s()
	if err != nil {
		panic(err)
	}
	return values
}

// FromStoredInt64s saturates the values into the storage range of dt and builds the tensor.
// The values slice is modified.
func FromStoredInt64s(dt tensor.DatumType, shape []int, values []int64) *tensor.Tensor {
	for ii, v := range values {
		values[ii] = tensor.Saturate(v, dt.DType)
	}
	wide, err := tensor.FromData(tensor.I64, shape, values)
	if err != nil {
		panic(err)
	}
	narrow, err := wide.CastTo(dt.Unquantized())
	if err != nil {
		panic(err)
	}
	result, err := narrow.Reinterpret(dt)
	if err != nil {
		panic(err)
	}
	return result
}

// ScaleBy multiplies v by a real scale factor, rounding half away from zero.
func ScaleBy(v int64, scale float32) int64 {
	return int64(math32.Round(float32(v) * scale))
}

// QuantizedBinary computes fn over the stored values of a and b (broadcast to shape, with its rank), in
// int64, and saturates the results into the storage of c.
func QuantizedBinary(a, b *tensor.Tensor, shape []int, c tensor.DatumType, fn func(a, b int64) int64) *tensor.Tensor {
	values := BroadcastBinary(StoredInt64s(a), a.Shape(), StoredInt64s(b), b.Shape(), shape, fn)
	return FromStoredInt64s(c, shape, values)
}

// ViaFloat32 computes fn over the real (dequantized) values of a and b broadcast to shape, and quantizes
// the results into c.
func ViaFloat32(a, b *tensor.Tensor, shape []int, c tensor.DatumType, fn func(a, b float32) float32) *tensor.Tensor {
	af, err := a.CastTo(tensor.F32)
	if err != nil {
		panic(err)
	}
	bf, err := b.CastTo(tensor.F32)
	if err != nil {
		panic(err)
	}
	values := BroadcastBinary(tensor.Flat[float32](af), a.Shape(), tensor.Flat[float32](bf), b.Shape(), shape, fn)
	result, err := tensor.FromFlat(values, shape...).CastTo(c)
	if err != nil {
		panic(err)
	}
	return result
}
