package kernels

import (
	"testing"

	"github.com/gomlx/typedgraph/tensor"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestBroadcastBinary(t *testing.T) {
	add := func(a, b int32) int32 { return a + b }
	got := BroadcastBinary([]int32{1, 2, 3}, []int{1, 3}, []int32{10, 20}, []int{2, 1}, []int{2, 3}, add)
	assert.Equal(t, []int32{11, 12, 13, 21, 22, 23}, got)

	got = BroadcastBinary([]int32{1, 2}, []int{2}, []int32{5}, []int{1}, []int{2}, add)
	assert.Equal(t, []int32{6, 7}, got)

	got = BroadcastBinary([]int32{5}, []int{1}, []int32{1, 2}, []int{2}, []int{2}, add)
	assert.Equal(t, []int32{6, 7}, got)

	assert.Empty(t, BroadcastBinary([]int32{}, []int{0}, []int32{1}, []int{1}, []int{0}, add))
}

func TestDispatcher(t *testing.T) {
	d := BinaryFuncs{
		I32: func(a, b int32) int32 { return a - b },
		F32: func(a, b float32) float32 { return a - b },
	}.Dispatcher("Sub")
	assert.True(t, d.Supports(tensor.I32))
	assert.False(t, d.Supports(tensor.I64))
	assert.True(t, d.Supports(tensor.F16), "Float16 falls back to Float32")
	assert.True(t, d.Supports(tensor.BF16))
	_, found := d.Lookup(tensor.U8)
	assert.False(t, found)
	require.Panics(t, func() { d.Get(tensor.U8) })

	a := tensor.FromValue([]float16.Float16{float16.Fromfloat32(3), float16.Fromfloat32(1.5)})
	b := tensor.FromValue([]float16.Float16{float16.Fromfloat32(1), float16.Fromfloat32(0.5)})
	result := must.M1(tensor.FromData(tensor.F16, []int{2}, d.Get(tensor.F16)(a, b, []int{2})))
	halves := tensor.Flat[float16.Float16](result)
	assert.Equal(t, float32(2), halves[0].Float32())
	assert.Equal(t, float32(1), halves[1].Float32())

	d.RegisterIfNotSet(tensor.I32, func(a, b *tensor.Tensor, shape []int) any { return nil })
	got := d.Get(tensor.I32)(tensor.FromValue([]int32{5}), tensor.FromValue([]int32{2}), []int{1})
	assert.Equal(t, []int32{3}, got)

	u := UnaryFuncs{I64: func(x int64) int64 { return -x }}.Dispatcher("Neg")
	assert.Equal(t, []int64{-1, 2}, u.Get(tensor.I64)(tensor.FromValue([]int64{1, -2})))
	assert.False(t, u.Supports(tensor.F32))
}

func TestQuantizedHelpers(t *testing.T) {
	assert.Equal(t, int64(3), ScaleBy(5, 0.5))
	assert.Equal(t, int64(-3), ScaleBy(-5, 0.5))
	assert.Equal(t, int64(2), ScaleBy(5, 0.4))

	q := tensor.QU8(10, 1)
	a := must.M1(tensor.FromData(q, []int{3}, []uint8{0, 100, 250}))
	assert.Equal(t, []int64{0, 100, 250}, StoredInt64s(a))

	// Results are saturated into the storage range.
	sum := QuantizedBinary(a, a, []int{3}, q, func(x, y int64) int64 { return x + y })
	assert.Equal(t, q, sum.DatumType())
	assert.Equal(t, []uint8{0, 200, 255}, tensor.Flat[uint8](sum))

	half := ViaFloat32(a, tensor.Scalar(float32(2)), []int{3}, tensor.F32, func(x, y float32) float32 { return x / y })
	assert.Equal(t, []float32{-5, 45, 120}, tensor.Flat[float32](half))
}
