package tensor

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Saturate clamps v to the range representable by the integer dtype.
func Saturate(v int64, dtype dtypes.DType) int64 {
	var lo, hi int64
	switch dtype {
	case dtypes.Int8:
		lo, hi = math.MinInt8, math.MaxInt8
	case dtypes.Int16:
		lo, hi = math.MinInt16, math.MaxInt16
	case dtypes.Int32:
		lo, hi = math.MinInt32, math.MaxInt32
	case dtypes.Uint8:
		lo, hi = 0, math.MaxUint8
	case dtypes.Uint16:
		lo, hi = 0, math.MaxUint16
	case dtypes.Uint32:
		lo, hi = 0, math.MaxUint32
	case dtypes.Uint64:
		lo, hi = 0, math.MaxInt64
	default:
		return v
	}
	return min(max(v, lo), hi)
}

// Quantize converts a real value to the stored integer of the quantized type dt, rounding half away
// from zero and saturating.
func Quantize(x float64, dt DatumType) int64 {
	zp, scale := dt.QParams()
	q := math.Round(x/float64(scale)) + float64(zp)
	q = math.Max(math.Min(q, 1<<62), -(1 << 62))
	return Saturate(int64(q), dt.DType)
}

// Dequantize converts a stored integer of the quantized type dt to its real value.
func Dequantize(stored int64, dt DatumType) float64 {
	zp, scale := dt.QParams()
	return float64(stored-int64(zp)) * float64(scale)
}

func int64sOf[T int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64](data []T) []int64 {
	out := make([]int64, len(data))
	for ii, v := range data {
		out[ii] = int64(v)
	}
	return out
}

func float64sOf[T int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64](data []T) []float64 {
	out := make([]float64, len(data))
	for ii, v := range data {
		out[ii] = float64(v)
	}
	return out
}

// rawInt64s returns the stored integers of integer or boolean storage.
func rawInt64s(data any) ([]int64, bool) {
	switch d := data.(type) {
	case []bool:
		out := make([]int64, len(d))
		for ii, v := range d {
			if v {
				out[ii] = 1
			}
		}
		return out, true
	case []int8:
		return int64sOf(d), true
	case []int16:
		return int64sOf(d), true
	case []int32:
		return int64sOf(d), true
	case []int64:
		return int64sOf(d), true
	case []uint8:
		return int64sOf(d), true
	case []uint16:
		return int64sOf(d), true
	case []uint32:
		return int64sOf(d), true
	case []uint64:
		return int64sOf(d), true
	}
	return nil, false
}

// AsFloat64s returns the real values of the elements of t. Quantized elements are dequantized,
// TDim elements must be concrete.
func (t *Tensor) AsFloat64s() ([]float64, error) {
	switch d := t.data.(type) {
	case []float16.Float16:
		out := make([]float64, len(d))
		for ii, v := range d {
			out[ii] = float64(v.Float32())
		}
		return out, nil
	case []bfloat16.BFloat16:
		out := make([]float64, len(d))
		for ii, v := range d {
			out[ii] = float64(v.Float32())
		}
		return out, nil
	case []float32:
		return float64sOf(d), nil
	case []float64:
		return float64sOf(d), nil
	}
	ints, err := t.AsInt64s()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(ints))
	for ii, v := range ints {
		out[ii] = float64(v)
	}
	return out, nil
}

// AsInt64s returns the values of the elements of t as integers: floats are truncated toward zero,
// quantized elements are dequantized and rounded, and TDim elements must be concrete.
func (t *Tensor) AsInt64s() ([]int64, error) {
	if t.dt.dim {
		dims := t.data.([]tdim.Dim)
		out := make([]int64, len(dims))
		for ii, d := range dims {
			v, err := d.ToInt64()
			if err != nil {
				return nil, err
			}
			out[ii] = v
		}
		return out, nil
	}
	if raw, ok := rawInt64s(t.data); ok {
		if t.dt.quantized {
			for ii, v := range raw {
				raw[ii] = int64(math.Round(Dequantize(v, t.dt)))
			}
		}
		return raw, nil
	}
	floats, err := t.AsFloat64s()
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(floats))
	for ii, v := range floats {
		out[ii] = int64(v)
	}
	return out, nil
}

// AsDims returns the elements of t as symbolic dimensions. Only integer and TDim tensors qualify.
func (t *Tensor) AsDims() ([]tdim.Dim, error) {
	if t.dt.dim {
		return t.data.([]tdim.Dim), nil
	}
	if !t.dt.IsInteger() {
		return nil, errors.Errorf("cannot convert %s elements to dimensions", t.dt)
	}
	ints, err := t.AsInt64s()
	if err != nil {
		return nil, err
	}
	dims := make([]tdim.Dim, len(ints))
	for ii, v := range ints {
		dims[ii] = tdim.Int(v)
	}
	return dims, nil
}

// ScalarInt64 returns the only element of t as an integer.
func (t *Tensor) ScalarInt64() (int64, error) {
	if t.Len() != 1 {
		return 0, errors.Errorf("expected a single element, got shape %v", t.shape)
	}
	values, err := t.AsInt64s()
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// ScalarFloat64 returns the only element of t as a float.
func (t *Tensor) ScalarFloat64() (float64, error) {
	if t.Len() != 1 {
		return 0, errors.Errorf("expected a single element, got shape %v", t.shape)
	}
	values, err := t.AsFloat64s()
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

// isRealValued returns whether the elements of dt are converted through floats.
func isRealValued(dt DatumType) bool {
	return dt.quantized || dt.IsFloat()
}

// CastTo converts t to the datum type dt. Integer conversions wrap around as in Go, float to integer
// conversions truncate, and quantization rounds and saturates.
func (t *Tensor) CastTo(dt DatumType) (*Tensor, error) {
	if dt == t.dt {
		return t, nil
	}
	var data any
	switch {
	case dt.dim:
		dims, err := t.AsDims()
		if err != nil {
			return nil, err
		}
		data = dims
	case dt.quantized:
		floats, err := t.AsFloat64s()
		if err != nil {
			return nil, err
		}
		ints := make([]int64, len(floats))
		for ii, v := range floats {
			ints[ii] = Quantize(v, dt)
		}
		data = fromInt64s(dt.DType, ints)
	case dt.IsFloat(), dt.IsBool():
		floats, err := t.AsFloat64s()
		if err != nil {
			return nil, err
		}
		data = fromFloat64s(dt.DType, floats)
	case isRealValued(t.dt):
		floats, err := t.AsFloat64s()
		if err != nil {
			return nil, err
		}
		ints := make([]int64, len(floats))
		for ii, v := range floats {
			ints[ii] = int64(math.Trunc(v))
		}
		data = fromInt64s(dt.DType, ints)
	default:
		ints, err := t.AsInt64s()
		if err != nil {
			return nil, err
		}
		data = fromInt64s(dt.DType, ints)
	}
	return &Tensor{dt: dt, shape: t.shape, data: data}, nil
}

func convertInts[T int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64](values []int64) []T {
	out := make([]T, len(values))
	for ii, v := range values {
		out[ii] = T(v)
	}
	return out
}

func fromInt64s(dtype dtypes.DType, values []int64) any {
	switch dtype {
	case dtypes.Int8:
		return convertInts[int8](values)
	case dtypes.Int16:
		return convertInts[int16](values)
	case dtypes.Int32:
		return convertInts[int32](values)
	case dtypes.Int64:
		return values
	case dtypes.Uint8:
		return convertInts[uint8](values)
	case dtypes.Uint16:
		return convertInts[uint16](values)
	case dtypes.Uint32:
		return convertInts[uint32](values)
	case dtypes.Uint64:
		return convertInts[uint64](values)
	}
	exceptions.Panicf("tensor: cannot convert integers to %s", dtype)
	return nil
}

func fromFloat64s(dtype dtypes.DType, values []float64) any {
	switch dtype {
	case dtypes.Bool:
		out := make([]bool, len(values))
		for ii, v := range values {
			out[ii] = v != 0
		}
		return out
	case dtypes.Float16:
		out := make([]float16.Float16, len(values))
		for ii, v := range values {
			out[ii] = float16.Fromfloat32(float32(v))
		}
		return out
	case dtypes.BFloat16:
		out := make([]bfloat16.BFloat16, len(values))
		for ii, v := range values {
			out[ii] = bfloat16.FromFloat64(v)
		}
		return out
	case dtypes.Float32:
		out := make([]float32, len(values))
		for ii, v := range values {
			out[ii] = float32(v)
		}
		return out
	case dtypes.Float64:
		return values
	}
	exceptions.Panicf("tensor: cannot convert floats to %s", dtype)
	return nil
}

// CloseEnough returns an error describing the first mismatch between t and other. Floating point elements
// are compared with a tolerance, larger if approximate is set; quantized elements may differ by one
// step when approximate is set.
func (t *Tensor) CloseEnough(other *Tensor, approximate bool) error {
	if t.dt != other.dt {
		return errors.Errorf("datum type mismatch: %s vs %s", t.dt, other.dt)
	}
	if len(t.shape) != len(other.shape) || volume(t.shape) != volume(other.shape) {
		return errors.Errorf("shape mismatch: %v vs %v", t.shape, other.shape)
	}
	for axis := range t.shape {
		if t.shape[axis] != other.shape[axis] {
			return errors.Errorf("shape mismatch: %v vs %v", t.shape, other.shape)
		}
	}
	switch {
	case t.dt.IsFloat():
		atol, rtol := 1e-7, 1e-7
		if approximate {
			atol, rtol = 1e-4, 1e-4
		}
		if t.dt.DType == dtypes.Float16 || t.dt.DType == dtypes.BFloat16 {
			atol, rtol = 1e-2, 1e-2
		}
		a, _ := t.AsFloat64s()
		b, _ := other.AsFloat64s()
		for ii := range a {
			if math.IsNaN(a[ii]) && math.IsNaN(b[ii]) {
				continue
			}
			if math.Abs(a[ii]-b[ii]) > atol+rtol*math.Abs(b[ii]) {
				return errors.Errorf("element #%d: %g vs %g", ii, a[ii], b[ii])
			}
		}
		return nil
	case t.dt.quantized && approximate:
		a, _ := rawInt64s(t.data)
		b, _ := rawInt64s(other.data)
		for ii := range a {
			if a[ii]-b[ii] > 1 || b[ii]-a[ii] > 1 {
				return errors.Errorf("element #%d: %d vs %d", ii, a[ii], b[ii])
			}
		}
		return nil
	}
	if !t.Equal(other) {
		return errors.Errorf("tensors differ: %s vs %s", t, other)
	}
	return nil
}
