package arith

import (
	"github.com/gomlx/typedgraph/ops/binary"
	"github.com/gomlx/typedgraph/ops/kernels"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/pkg/errors"
)

func zeroPoint(dt tensor.DatumType) int64 {
	zp, _ := dt.QParams()
	return int64(zp)
}

// quantizedAdd re-centers both operands on the zero point of the result. Operands are expected to share
// the scale of the result.
func quantizedAdd(a, b int64, qa, qb, qc tensor.DatumType) int64 {
	return (a - zeroPoint(qa)) + (b - zeroPoint(qb)) + zeroPoint(qc)
}

func quantizedSub(a, b int64, qa, qb, qc tensor.DatumType) int64 {
	return (a - zeroPoint(qa)) - (b - zeroPoint(qb)) + zeroPoint(qc)
}

func isAnyQuantized(dts ...tensor.DatumType) bool {
	for _, dt := range dts {
		if dt.IsQuantized() {
			return true
		}
	}
	return false
}

func broadcastOperands(a, b *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, []int, error) {
	shape, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		return nil, nil, nil, err
	}
	if a, err = a.BroadcastIntoRank(len(shape)); err != nil {
		return nil, nil, nil, err
	}
	if b, err = b.BroadcastIntoRank(len(shape)); err != nil {
		return nil, nil, nil, err
	}
	return a, b, shape, nil
}

// mulOutOfPlace handles quantized products, rescaled by scale_a*scale_b/scale_c, and symbolic dimensions
// multiplied by integers.
func mulOutOfPlace(c tensor.DatumType, a, b *tensor.Tensor) (*tensor.Tensor, error) {
	qa, qb := a.DatumType(), b.DatumType()
	if isAnyQuantized(qa, qb, c) {
		a, b, shape, err := broadcastOperands(a, b)
		if err != nil {
			return nil, err
		}
		zpa, sa := qa.QParams()
		zpb, sb := qb.QParams()
		zpc, sc := c.QParams()
		scale := sa * sb / sc
		return kernels.QuantizedBinary(a, b, shape, c, func(x, y int64) int64 {
			return kernels.ScaleBy((x-int64(zpa))*(y-int64(zpb)), scale) + int64(zpc)
		}), nil
	}
	return tdimByInteger(func(d tdim.Dim, v int64) (tdim.Dim, error) { return d.MulInt(v), nil }, true)(c, a, b)
}

// divOutOfPlace handles symbolic dimensions divided by integers, and quantized divisions, computed in
// float32.
func divOutOfPlace(c tensor.DatumType, a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if isAnyQuantized(a.DatumType(), b.DatumType(), c) {
		a, b, shape, err := broadcastOperands(a, b)
		if err != nil {
			return nil, err
		}
		return kernels.ViaFloat32(a, b, shape, c, func(x, y float32) float32 { return x / y }), nil
	}
	return tdimByInteger(tdim.Dim.DivInt, false)(c, a, b)
}

// tdimByInteger returns the out-of-place path applying fn to symbolic dimensions and a right operand
// cast to integers. It doesn't apply unless the result is a TDim. A symbolic right operand is left to the
// generic kernel if symbolicFallback, and is unsupported otherwise.
func tdimByInteger(fn func(a tdim.Dim, b int64) (tdim.Dim, error), symbolicFallback bool) binary.OutOfPlaceFn {
	return func(c tensor.DatumType, a, b *tensor.Tensor) (*tensor.Tensor, error) {
		if !c.IsTDim() {
			return nil, nil
		}
		ints, err := b.AsInt64s()
		if err != nil {
			if !errors.Is(err, tdim.ErrNotConcrete) {
				return nil, err
			}
			if symbolicFallback {
				return nil, nil
			}
			return nil, errors.Wrapf(tdim.ErrUnsupported, "symbolic right operand %s", b)
		}
		dims, err := a.CastTo(tensor.TDim)
		if err != nil {
			return nil, err
		}
		a, b, shape, err := broadcastOperands(dims, b)
		if err != nil {
			return nil, err
		}
		var failure error
		values := kernels.BroadcastBinary(tensor.Flat[tdim.Dim](a), a.Shape(), ints, b.Shape(), shape,
			func(x tdim.Dim, y int64) tdim.Dim {
				r, err := fn(x, y)
				if err != nil && failure == nil {
					failure = err
				}
				return r
			})
		if failure != nil {
			return nil, failure
		}
		return tensor.FromData(tensor.TDim, shape, values)
	}
}
