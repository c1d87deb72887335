package tensor

import (
	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Strides returns the row-major strides of shape.
func Strides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for axis := len(shape) - 1; axis >= 0; axis-- {
		strides[axis] = stride
		stride *= shape[axis]
	}
	return strides
}

// BroadcastShapes returns the right-aligned numpy-style broadcast of concrete shapes.
func BroadcastShapes(shapes ...[]int) ([]int, error) {
	rank := 0
	for _, shape := range shapes {
		rank = max(rank, len(shape))
	}
	result := make([]int, rank)
	for ii := range result {
		result[ii] = 1
	}
	for _, shape := range shapes {
		offset := rank - len(shape)
		for axis, d := range shape {
			switch r := result[offset+axis]; {
			case r == 1:
				result[offset+axis] = d
			case d != 1 && d != r:
				return nil, errors.Errorf("cannot broadcast shapes %v together", shapes)
			}
		}
	}
	return result, nil
}

// BroadcastIterator iterates over the flat indices of a tensor that is being broadcast
// (some of its axes of length 1 grow to the target shape).
type BroadcastIterator struct {
	flatIdx     int
	perAxesIdx  []int
	targetDims  []int
	isBroadcast []bool
	strides     []int
}

// NewBroadcastIterator returns an iterator over the flat indices of a tensor of shape fromShape, read in the
// row-major order of toShape.
//
// Pre-requisite: len(fromShape) == len(toShape), and every axis of fromShape is either 1 or equal to toShape.
func NewBroadcastIterator(fromShape, toShape []int) *BroadcastIterator {
	rank := len(fromShape)
	if rank != len(toShape) {
		exceptions.Panicf("BroadcastIterator: rank mismatch fromShape=%v, toShape=%v", fromShape, toShape)
	}
	bi := &BroadcastIterator{
		perAxesIdx:  make([]int, rank),
		targetDims:  toShape,
		isBroadcast: make([]bool, rank),
		strides:     Strides(fromShape),
	}
	for axis := range rank {
		bi.isBroadcast[axis] = fromShape[axis] != toShape[axis]
	}
	return bi
}

// Next returns the current flat index in the source tensor and advances the iterator.
func (bi *BroadcastIterator) Next() (flatIdx int) {
	flatIdx = bi.flatIdx
	bi.flatIdx++
	rank := len(bi.perAxesIdx)
	for axis := rank - 1; axis >= 0; axis-- {
		bi.perAxesIdx[axis]++
		if bi.perAxesIdx[axis] < bi.targetDims[axis] {
			if bi.isBroadcast[axis] {
				// Broadcasting on this axis: go back and repeat the same slice of the tensor.
				bi.flatIdx -= bi.strides[axis]
			}
			break
		}
		bi.perAxesIdx[axis] = 0
	}
	return
}
