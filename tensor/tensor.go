package tensor

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Tensor is an immutable dense multi-dimensional value with a concrete shape.
//
// Tensors are shared by pointer: many outlets and nodes may refer to the same value without copying.
// Methods that "change" a tensor (Reshape, BroadcastIntoRank, CastTo, ...) return a new *Tensor,
// possibly sharing the storage of the original.
type Tensor struct {
	dt    DatumType
	shape []int
	data  any // []T, with T the storage type of dt.
}

func volume(shape []int) int {
	v := 1
	for _, d := range shape {
		v *= d
	}
	return v
}

// FromFlat creates a tensor from flat data in row-major order. It panics if the size of data doesn't match dims.
func FromFlat[T Supported](data []T, dims ...int) *Tensor {
	if volume(dims) != len(data) {
		exceptions.Panicf("tensor.FromFlat: %d elements given for shape %v", len(data), dims)
	}
	return &Tensor{dt: Of[T](), shape: slices.Clone(dims), data: data}
}

// Scalar creates a rank-0 tensor.
func Scalar[T Supported](value T) *Tensor {
	return FromFlat([]T{value})
}

// FromDims creates a rank-1 TDim tensor, e.g. a shape or slicing bounds.
func FromDims(dims ...tdim.Dim) *Tensor {
	return FromFlat(slices.Clone(dims), len(dims))
}

// FromValue creates a tensor from a scalar or a (possibly nested) Go slice of a Supported type.
// It panics on ragged or unsupported values.
func FromValue(value any) *Tensor {
	v := reflect.ValueOf(value)
	var shape []int
	leafType := v.Type()
	for leafType.Kind() == reflect.Slice {
		leafType = leafType.Elem()
	}
	for probe := v; probe.Kind() == reflect.Slice; {
		shape = append(shape, probe.Len())
		if probe.Len() == 0 {
			break
		}
		probe = probe.Index(0)
	}
	flat := reflect.MakeSlice(reflect.SliceOf(leafType), 0, volume(shape))
	var walk func(v reflect.Value, depth int)
	walk = func(v reflect.Value, depth int) {
		if depth == len(shape) {
			flat = reflect.Append(flat, v)
			return
		}
		if v.Len() != shape[depth] {
			exceptions.Panicf("tensor.FromValue: ragged value at depth %d: %d elements, expected %d", depth, v.Len(), shape[depth])
		}
		for ii := range v.Len() {
			walk(v.Index(ii), depth+1)
		}
	}
	walk(v, 0)
	dt, ok := datumTypeOfData(flat.Interface())
	if !ok {
		exceptions.Panicf("tensor.FromValue: unsupported element type %s", leafType)
	}
	return &Tensor{dt: dt, shape: shape, data: flat.Interface()}
}

// Zeros creates a tensor of the given type and shape filled with zeros.
// For quantized types the storage is zero, not the zero-point.
func Zeros(dt DatumType, dims ...int) *Tensor {
	return &Tensor{dt: dt, shape: slices.Clone(dims), data: newStorage(dt, volume(dims))}
}

// FromData wraps an already allocated storage slice. It is used by kernels to publish their results:
// data must not be modified after the call.
func FromData(dt DatumType, shape []int, data any) (*Tensor, error) {
	storageType, ok := datumTypeOfData(data)
	if !ok || storageType != dt.Unquantized() {
		return nil, errors.Errorf("storage %T doesn't match datum type %s", data, dt)
	}
	if n := reflect.ValueOf(data).Len(); n != volume(shape) {
		return nil, errors.Errorf("%d elements given for shape %v", n, shape)
	}
	return &Tensor{dt: dt, shape: slices.Clone(shape), data: data}, nil
}

func datumTypeOfData(data any) (DatumType, bool) {
	switch data.(type) {
	case []bool:
		return Bool, true
	case []int8:
		return I8, true
	case []int16:
		return I16, true
	case []int32:
		return I32, true
	case []int64:
		return I64, true
	case []uint8:
		return U8, true
	case []uint16:
		return U16, true
	case []uint32:
		return U32, true
	case []uint64:
		return U64, true
	case []float16.Float16:
		return F16, true
	case []bfloat16.BFloat16:
		return BF16, true
	case []float32:
		return F32, true
	case []float64:
		return F64, true
	case []tdim.Dim:
		return TDim, true
	}
	return Invalid, false
}

// newStorage allocates a zeroed storage slice for n elements of dt.
func newStorage(dt DatumType, n int) any {
	if dt.dim {
		return make([]tdim.Dim, n)
	}
	switch dt.DType {
	case dtypes.Bool:
		return make([]bool, n)
	case dtypes.Int8:
		return make([]int8, n)
	case dtypes.Int16:
		return make([]int16, n)
	case dtypes.Int32:
		return make([]int32, n)
	case dtypes.Int64:
		return make([]int64, n)
	case dtypes.Uint8:
		return make([]uint8, n)
	case dtypes.Uint16:
		return make([]uint16, n)
	case dtypes.Uint32:
		return make([]uint32, n)
	case dtypes.Uint64:
		return make([]uint64, n)
	case dtypes.Float16:
		return make([]float16.Float16, n)
	case dtypes.BFloat16:
		return make([]bfloat16.BFloat16, n)
	case dtypes.Float32:
		return make([]float32, n)
	case dtypes.Float64:
		return make([]float64, n)
	}
	exceptions.Panicf("datum type %s has no tensor storage", dt)
	return nil
}

// NewStorage allocates a zeroed storage slice for n elements of dt, to be filled by a kernel
// and published with FromData.
func NewStorage(dt DatumType, n int) any {
	return newStorage(dt, n)
}

// Flat returns the flat storage of t. It panics if T is not the storage type of t.
//
// The returned slice is shared with the tensor and must not be modified.
func Flat[T Supported](t *Tensor) []T {
	data, ok := t.data.([]T)
	if !ok {
		exceptions.Panicf("tensor.Flat: tensor of %s doesn't hold %T elements", t.dt, *new(T))
	}
	return data
}

// Data returns the raw storage slice of t, see Flat.
func (t *Tensor) Data() any { return t.data }

// DatumType of the elements.
func (t *Tensor) DatumType() DatumType { return t.dt }

// Shape returns a copy of the dimensions of t.
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Dims returns the shape of t as symbolic dimensions.
func (t *Tensor) Dims() []tdim.Dim { return tdim.FromInts(t.shape) }

// Rank returns the number of axes.
func (t *Tensor) Rank() int { return len(t.shape) }

// Len returns the number of elements.
func (t *Tensor) Len() int { return volume(t.shape) }

// IsScalar returns whether t has rank 0.
func (t *Tensor) IsScalar() bool { return len(t.shape) == 0 }

// Bytes returns the memory used by the elements of t.
func (t *Tensor) Bytes() uint64 { return uint64(t.Len() * t.dt.Size()) }

// Reinterpret returns a tensor sharing t's storage with the datum type dt, which must have the same storage
// (e.g. I8 as QI8).
func (t *Tensor) Reinterpret(dt DatumType) (*Tensor, error) {
	if dt.Unquantized() != t.dt.Unquantized() {
		return nil, errors.Errorf("cannot reinterpret %s as %s", t.dt, dt)
	}
	return &Tensor{dt: dt, shape: t.shape, data: t.data}, nil
}

// Reshape returns a tensor sharing t's storage with a new shape of the same volume.
func (t *Tensor) Reshape(dims ...int) (*Tensor, error) {
	if volume(dims) != t.Len() {
		return nil, errors.Errorf("cannot reshape %v to %v", t.shape, dims)
	}
	return &Tensor{dt: t.dt, shape: slices.Clone(dims), data: t.data}, nil
}

// BroadcastIntoRank prepends axes of length 1 until t has the given rank. Storage is shared.
func (t *Tensor) BroadcastIntoRank(rank int) (*Tensor, error) {
	if rank < t.Rank() {
		return nil, errors.Errorf("cannot broadcast tensor of rank %d into rank %d", t.Rank(), rank)
	}
	shape := make([]int, rank)
	for ii := range shape {
		shape[ii] = 1
	}
	copy(shape[rank-t.Rank():], t.shape)
	return &Tensor{dt: t.dt, shape: shape, data: t.data}, nil
}

// Equal returns whether both tensors have the same datum type, shape and elements.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == nil || other == nil {
		return t == other
	}
	if t.dt != other.dt || !slices.Equal(t.shape, other.shape) {
		return false
	}
	if t.dt.dim {
		return slices.EqualFunc(t.data.([]tdim.Dim), other.data.([]tdim.Dim), tdim.Dim.Equal)
	}
	return reflect.DeepEqual(t.data, other.data)
}

// Uniform returns the rank-0 tensor holding the single value all elements of t are equal to, if any.
func (t *Tensor) Uniform() (*Tensor, bool) {
	n := t.Len()
	if n == 0 {
		return nil, false
	}
	if t.dt.dim {
		dims := t.data.([]tdim.Dim)
		for _, d := range dims[1:] {
			if !d.Equal(dims[0]) {
				return nil, false
			}
		}
	} else {
		v := reflect.ValueOf(t.data)
		first := v.Index(0).Interface()
		for ii := 1; ii < n; ii++ {
			if v.Index(ii).Interface() != first {
				return nil, false
			}
		}
	}
	return &Tensor{dt: t.dt, shape: []int{}, data: gather(t.data, []int{0})}, nil
}

// Select creates a new tensor of the given shape whose flat elements are t's elements at the given
// flat indices.
func (t *Tensor) Select(shape []int, indices []int) *Tensor {
	if volume(shape) != len(indices) {
		exceptions.Panicf("tensor.Select: %d indices for shape %v", len(indices), shape)
	}
	return &Tensor{dt: t.dt, shape: slices.Clone(shape), data: gather(t.data, indices)}
}

// BroadcastTo materializes t broadcast (numpy style) to the given shape.
func (t *Tensor) BroadcastTo(shape []int) (*Tensor, error) {
	if slices.Equal(shape, t.shape) {
		return t, nil
	}
	expanded, err := t.BroadcastIntoRank(len(shape))
	if err != nil {
		return nil, err
	}
	for axis, d := range expanded.shape {
		if d != 1 && d != shape[axis] {
			return nil, errors.Errorf("cannot broadcast shape %v to %v", t.shape, shape)
		}
	}
	indices := make([]int, volume(shape))
	if len(indices) > 0 {
		it := NewBroadcastIterator(expanded.shape, shape)
		for ii := range indices {
			indices[ii] = it.Next()
		}
	}
	return expanded.Select(shape, indices), nil
}

// String implements fmt.Stringer. Long tensors are truncated.
func (t *Tensor) String() string {
	const maxElements = 16
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s%v ", t.dt, t.shape)
	v := reflect.ValueOf(t.data)
	n := v.Len()
	if t.IsScalar() {
		fmt.Fprintf(&sb, "%v", v.Index(0).Interface())
		return sb.String()
	}
	sb.WriteByte('[')
	for ii := range min(n, maxElements) {
		if ii > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%v", v.Index(ii).Interface())
	}
	if n > maxElements {
		fmt.Fprintf(&sb, " ... (%d more)", n-maxElements)
	}
	sb.WriteByte(']')
	return sb.String()
}

func gatherSlice[T any](data []T, indices []int) []T {
	out := make([]T, len(indices))
	for ii, idx := range indices {
		out[ii] = data[idx]
	}
	return out
}

func gather(data any, indices []int) any {
	switch d := data.(type) {
	case []bool:
		return gatherSlice(d, indices)
	case []int8:
		return gatherSlice(d, indices)
	case []int16:
		return gatherSlice(d, indices)
	case []int32:
		return gatherSlice(d, indices)
	case []int64:
		return gatherSlice(d, indices)
	case []uint8:
		return gatherSlice(d, indices)
	case []uint16:
		return gatherSlice(d, indices)
	case []uint32:
		return gatherSlice(d, indices)
	case []uint64:
		return gatherSlice(d, indices)
	case []float16.Float16:
		return gatherSlice(d, indices)
	case []bfloat16.BFloat16:
		return gatherSlice(d, indices)
	case []float32:
		return gatherSlice(d, indices)
	case []float64:
		return gatherSlice(d, indices)
	case []tdim.Dim:
		return gatherSlice(d, indices)
	}
	exceptions.Panicf("tensor: unsupported storage %T", data)
	return nil
}
