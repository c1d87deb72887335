// Package array implements the typed operators that move elements around without computing on them:
// slicing along an axis, strided downsampling, adding or removing an axis, and broadcasting.
package array

import (
	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/graph"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/pkg/errors"
)

func checkSingleInput(name string, inputs []fact.TypedFact) error {
	if len(inputs) != 1 {
		return errors.Wrapf(graph.ErrArityMismatch, "%s expects 1 input, got %d", name, len(inputs))
	}
	return nil
}

func checkAxis(name string, axis, rank int) error {
	if axis < 0 || axis >= rank {
		return errors.Errorf("%s: axis %d out of range for rank %d", name, axis, rank)
	}
	return nil
}

// gatherAxis returns a new tensor made of the given positions along axis of t, in that order.
func gatherAxis(t *tensor.Tensor, axis int, positions []int) *tensor.Tensor {
	shape := t.Shape()
	outer, inner := 1, 1
	for _, d := range shape[:axis] {
		outer *= d
	}
	for _, d := range shape[axis+1:] {
		inner *= d
	}
	n := shape[axis]
	indices := make([]int, 0, outer*len(positions)*inner)
	for o := range outer {
		for _, p := range positions {
			base := (o*n + p) * inner
			for i := range inner {
				indices = append(indices, base+i)
			}
		}
	}
	shape[axis] = len(positions)
	return t.Select(shape, indices)
}
