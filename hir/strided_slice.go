package hir

import (
	"fmt"
	"math"
	"slices"

	"github.com/gomlx/typedgraph/graph"
	"github.com/gomlx/typedgraph/infer"
	"github.com/gomlx/typedgraph/ops/array"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/gomlx/typedgraph/typed"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// StridedSlice extracts a strided sub-tensor, with the semantics of TensorFlow's strided_slice.
//
// Its inputs are the data, the begin and end vectors and, optionally, the vector of axes the bounds apply
// to and the vector of strides. An ONNX end of math.MaxInt64 or math.MinInt64 (as an Int64) means no end.
//
// It is wired as one Slice and one Downsample per axis at most, followed by the removal of the shrunk
// axes. All inputs but the data must be constants, or only depend on constants, by then.
type StridedSlice struct {
	// AxesInput and StepsInput are the positions of the optional axes and strides inputs, or 0 if absent.
	AxesInput, StepsInput int

	// Bit ix of BeginMask (resp. EndMask) ignores the ix-th begin (resp. end) bound.
	BeginMask, EndMask int64

	// Bit ix of ShrinkAxisMask keeps only the element at the ix-th begin bound and removes the axis.
	ShrinkAxisMask int64
}

// NewStridedSlice creates a StridedSlice in the TensorFlow form: its inputs are the data, begin, end
// and strides.
func NewStridedSlice(beginMask, endMask, shrinkAxisMask int64) *StridedSlice {
	return &StridedSlice{StepsInput: 3, BeginMask: beginMask, EndMask: endMask, ShrinkAxisMask: shrinkAxisMask}
}

var _ infer.Op = (*StridedSlice)(nil)

// Name implements infer.Op.
func (*StridedSlice) Name() string { return "StridedSlice" }

// NOutputs implements infer.Op.
func (*StridedSlice) NOutputs() int { return 1 }

func (op *StridedSlice) numInputs() int {
	n := 3
	if op.AxesInput > 0 {
		n++
	}
	if op.StepsInput > 0 {
		n++
	}
	return n
}

func (op *StridedSlice) checkInputPositions() error {
	n := op.numInputs()
	for _, ix := range []int{op.AxesInput, op.StepsInput} {
		if ix != 0 && (ix < 3 || ix >= n) {
			return errors.Errorf("%s: invalid optional input position %d for %d inputs", op.Name(), ix, n)
		}
	}
	if op.AxesInput != 0 && op.AxesInput == op.StepsInput {
		return errors.Errorf("%s: axes and strides can't be both input #%d", op.Name(), op.AxesInput)
	}
	return nil
}

func (op *StridedSlice) mustShrink(ix int) bool  { return op.ShrinkAxisMask&(1<<ix) != 0 }
func (op *StridedSlice) ignoreBegin(ix int) bool { return op.BeginMask&(1<<ix) != 0 }
func (op *StridedSlice) ignoreEnd(ix int) bool   { return op.EndMask&(1<<ix) != 0 }

// sliceParams are the constant inputs of a StridedSlice.
type sliceParams struct {
	begin, end []tdim.Dim
	noEnd      []bool
	strides    []int64
	axes       []int
}

// parseParams reads the constant inputs (all inputs but the data) for data of the given rank.
func (op *StridedSlice) parseParams(rank int, values []*tensor.Tensor) (*sliceParams, error) {
	p := &sliceParams{}
	var err error
	if p.begin, err = values[0].AsDims(); err != nil {
		return nil, errors.WithMessagef(err, "%s: begin", op.Name())
	}
	if p.end, err = values[1].AsDims(); err != nil {
		return nil, errors.WithMessagef(err, "%s: end", op.Name())
	}
	p.noEnd = make([]bool, len(p.end))
	if values[1].DatumType() == tensor.I64 {
		for ii, v := range tensor.Flat[int64](values[1]) {
			p.noEnd[ii] = v == math.MaxInt64 || v == math.MinInt64
		}
	}
	if op.StepsInput > 0 {
		if p.strides, err = values[op.StepsInput-1].AsInt64s(); err != nil {
			return nil, errors.WithMessagef(err, "%s: strides", op.Name())
		}
		if slices.Contains(p.strides, 0) {
			return nil, errors.Errorf("%s: stride 0 in %v", op.Name(), p.strides)
		}
	}
	if op.AxesInput > 0 {
		axes, err := values[op.AxesInput-1].AsInt64s()
		if err != nil {
			return nil, errors.WithMessagef(err, "%s: axes", op.Name())
		}
		for _, axis := range axes {
			if axis < 0 {
				axis += int64(rank)
			}
			if axis < 0 || axis >= int64(rank) {
				return nil, errors.Errorf("%s: axis %d out of range for rank %d", op.Name(), axis, rank)
			}
			p.axes = append(p.axes, int(axis))
		}
	} else {
		for axis := range rank {
			p.axes = append(p.axes, axis)
		}
	}
	return p, nil
}

// sliceAxis is the resolved slicing of one axis: the positions begin, begin+stride, ... up to end
// excluded. A negative stride walks backwards, and end may then be -1.
type sliceAxis struct {
	axis       int
	begin, end tdim.Dim
	stride     int64
	shrink     bool
}

func emptyAxis(axis int, stride int64) sliceAxis {
	return sliceAxis{axis: axis, begin: tdim.Int(0), end: tdim.Int(0), stride: stride}
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// length is ceil(|end-begin| / |stride|). Symbolic ranges are only supported with a stride of 1.
func (a sliceAxis) length() (tdim.Dim, error) {
	span := a.end.Sub(a.begin)
	s := absInt64(a.stride)
	if n, ok := span.AsConst(); ok {
		return tdim.Int((s - 1 + absInt64(n)) / s), nil
	}
	if a.stride == 1 {
		return span, nil
	}
	return tdim.Dim{}, errors.Wrapf(graph.ErrUnsupportedPattern, "stride %d on axis %d of symbolic range %s..%s",
		a.stride, a.axis, a.begin, a.end)
}

// fromEnd adds dim to bounds known to be negative. Bounds of unknown sign are left to Slice, which
// normalizes them once the symbols are bound.
func fromEnd(bound, dim tdim.Dim) tdim.Dim {
	if negative, known := bound.IsNegative(); known && negative {
		return bound.Add(dim)
	}
	return bound
}

// resolveAxis resolves the ix-th bounds, applied to an axis of length dim.
func (op *StridedSlice) resolveAxis(ix, axis int, dim tdim.Dim, p *sliceParams) sliceAxis {
	var begin, end tdim.Dim
	hasBegin := ix < len(p.begin)
	if hasBegin {
		begin = fromEnd(p.begin[ix], dim)
	}
	hasEnd := !op.ignoreEnd(ix) && ix < len(p.end) && !p.noEnd[ix]
	if hasEnd {
		end = fromEnd(p.end[ix], dim)
	}
	stride := int64(1)
	if ix < len(p.strides) {
		stride = p.strides[ix]
	}

	// Shrinking ignores the begin mask, the end and the stride.
	if op.mustShrink(ix) {
		if !hasBegin {
			begin = tdim.Int(0)
		}
		return sliceAxis{axis: axis, begin: begin, end: begin.AddInt(1), stride: 1, shrink: true}
	}
	if op.ignoreBegin(ix) {
		hasBegin = false
	}

	d, dimKnown := dim.AsConst()
	if !hasBegin {
		if stride > 0 {
			begin = tdim.Int(0)
		} else {
			begin = dim.SubInt(1)
		}
	}
	if b, ok := begin.AsConst(); ok && b < 0 {
		if stride < 0 {
			return emptyAxis(axis, stride)
		}
		begin = tdim.Int(0)
	}
	if b, ok := begin.AsConst(); ok && dimKnown && b > d-1 {
		if stride > 0 {
			return emptyAxis(axis, stride)
		}
		begin = tdim.Int(d - 1)
	}

	if !hasEnd {
		if stride > 0 {
			end = dim
		} else {
			end = tdim.Int(-1)
		}
	}
	if e, ok := end.AsConst(); ok && e < 0 {
		if stride > 0 {
			return emptyAxis(axis, stride)
		}
		end = tdim.Int(-1)
	}
	if e, ok := end.AsConst(); ok && dimKnown && e > d-1 {
		if stride < 0 {
			return emptyAxis(axis, stride)
		}
		end = tdim.Int(d)
	}

	// Bounds crossing each other select nothing.
	if span, ok := end.Sub(begin).AsConst(); ok && (span < 0) == (stride > 0) && span != 0 {
		return emptyAxis(axis, stride)
	}
	return sliceAxis{axis: axis, begin: begin, end: end, stride: stride}
}

// plan resolves the slicing of every axis the bounds apply to.
func (op *StridedSlice) plan(shape []tdim.Dim, p *sliceParams) []sliceAxis {
	axes := make([]sliceAxis, len(p.axes))
	for ix, axis := range p.axes {
		axes[ix] = op.resolveAxis(ix, axis, shape[axis], p)
	}
	return axes
}

// outputShape returns the shape of the result of the plan on the given input shape.
func outputShape(shape []tdim.Dim, plan []sliceAxis) ([]tdim.Dim, error) {
	lengths := slices.Clone(shape)
	shrunk := make([]bool, len(shape))
	for _, a := range plan {
		if a.shrink {
			shrunk[a.axis] = true
			continue
		}
		n, err := a.length()
		if err != nil {
			return nil, err
		}
		lengths[a.axis] = n
	}
	out := make([]tdim.Dim, 0, len(shape))
	for axis, d := range lengths {
		if !shrunk[axis] {
			out = append(out, d)
		}
	}
	return out, nil
}

// Rules implements infer.Op.
func (op *StridedSlice) Rules(s *infer.Solver, inputs, outputs []infer.TensorProxy) error {
	if err := op.checkInputPositions(); err != nil {
		return err
	}
	if err := infer.CheckInputArity(inputs, op.numInputs()); err != nil {
		return err
	}
	if err := infer.CheckOutputArity(outputs, 1); err != nil {
		return err
	}
	infer.Equals(s, inputs[0].DatumType, outputs[0].DatumType)
	infer.Equals(s, inputs[1].Rank, infer.KnownRank(1))
	infer.Equals(s, inputs[2].Rank, infer.KnownRank(1))
	infer.Equals(s, inputs[1].Dim(0), inputs[2].Dim(0))
	for _, ix := range []int{op.AxesInput, op.StepsInput} {
		if ix > 0 {
			infer.Equals(s, inputs[1].Shape, inputs[ix].Shape)
		}
	}
	s.GivenShape(inputs[0].Shape, func(s *infer.Solver, shape []tdim.Dim) error {
		s.GivenAllValues(infer.Values(inputs[1:]), func(s *infer.Solver, values []*tensor.Tensor) error {
			p, err := op.parseParams(len(shape), values)
			if err != nil {
				return err
			}
			out, err := outputShape(shape, op.plan(shape, p))
			if err != nil {
				return err
			}
			infer.Equals(s, outputs[0].Shape, infer.KnownShape(out...))
			return nil
		})
		return nil
	})
	return nil
}

// Wire implements infer.Op.
func (op *StridedSlice) Wire(prefix string, target *typed.Model, inputs []typed.OutletID) ([]typed.OutletID, error) {
	if err := op.checkInputPositions(); err != nil {
		return nil, err
	}
	if len(inputs) != op.numInputs() {
		return nil, errors.Wrapf(graph.ErrArityMismatch, "%s: %d inputs given, %d expected", op.Name(), len(inputs), op.numInputs())
	}
	facts, err := target.OutletFacts(inputs)
	if err != nil {
		return nil, err
	}
	values := make([]*tensor.Tensor, len(inputs)-1)
	for ii := range values {
		// Constant sub-expressions are evaluated here; anything depending on a source is not typable.
		values[ii], err = target.MaterializeConstant(inputs[ii+1])
		if err != nil {
			return nil, errors.WithMessagef(err, "%s: input #%d", op.Name(), ii+1)
		}
	}
	input := facts[0]
	p, err := op.parseParams(input.Rank(), values)
	if err != nil {
		return nil, err
	}
	plan := op.plan(input.Shape, p)
	if _, err := outputShape(input.Shape, plan); err != nil {
		return nil, err
	}

	wire := inputs[0]
	wired := false
	add := func(name string, o typed.Op) error {
		outlets, err := target.WireNode(name, o, []typed.OutletID{wire})
		if err != nil {
			return err
		}
		wire, wired = outlets[0], true
		return nil
	}
	var shrunk []int
	for _, a := range plan {
		dim := input.Shape[a.axis]
		if a.stride > 0 {
			if !a.begin.IsZero() || !a.end.Equal(dim) {
				if err := add(fmt.Sprintf("%s.Slice-%d", prefix, a.axis), array.NewSlice(a.axis, a.begin, a.end)); err != nil {
					return nil, err
				}
			}
		} else if !a.end.Equal(tdim.Int(-1)) || !a.begin.Equal(dim.SubInt(1)) {
			if err := add(fmt.Sprintf("%s.Slice-%d", prefix, a.axis), array.NewSlice(a.axis, a.end.AddInt(1), a.begin.AddInt(1))); err != nil {
				return nil, err
			}
		}
		if a.stride != 1 {
			if err := add(fmt.Sprintf("%s.Stride-%d", prefix, a.axis), array.NewDownsample(a.axis, int(a.stride), 0)); err != nil {
				return nil, err
			}
		}
		if a.shrink {
			shrunk = append(shrunk, a.axis)
		}
	}

	// Removing the highest axes first keeps the indices of the others valid.
	slices.Sort(shrunk)
	for _, axis := range slices.Backward(shrunk) {
		if err := add(fmt.Sprintf("%s.RmAxis-%d", prefix, axis), array.RmAxis(axis)); err != nil {
			return nil, err
		}
	}
	if wired {
		if err := target.RenameNode(wire.Node, prefix); err != nil {
			return nil, err
		}
	}
	klog.V(2).Infof("%s %q wired over %d axes (%d shrunk)", op.Name(), prefix, len(plan), len(shrunk))
	return []typed.OutletID{wire}, nil
}
