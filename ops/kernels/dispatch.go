// Package kernels is the boundary between the operators and their numeric implementations: per datum type
// tables of kernels, the broadcasting loops feeding them and the fixed-point helpers used by quantized
// operators.
//
// Kernels work on flat buffers and panic (with exceptions.Panicf) on unsupported inputs: the evaluation
// boundary of the typed models converts those panics back to errors.
package kernels

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/typedgraph/tensor"
	"golang.org/x/exp/constraints"
)

// Numeric are the Go types kernels are usually instantiated with.
type Numeric interface {
	constraints.Integer | constraints.Float
}

// Dispatcher holds one kernel of type K per datum type, indexed by tensor.DatumType.Index.
//
// Quantized datum types share the entry of their storage type: operators route quantized inputs through
// dedicated code before looking up a kernel.
type Dispatcher[K any] struct {
	Name  string
	table [tensor.MaxDatumTypes]K
	set   [tensor.MaxDatumTypes]bool
}

// NewDispatcher creates an empty dispatcher for a class of kernels.
func NewDispatcher[K any](name string) *Dispatcher[K] {
	return &Dispatcher[K]{Name: name}
}

func (d *Dispatcher[K]) index(dt tensor.DatumType) int {
	idx := dt.Index()
	if idx < 0 || idx >= tensor.MaxDatumTypes {
		exceptions.Panicf("datum type %s not supported by %s", dt, d.Name)
	}
	return idx
}

// Register a kernel for the datum type. This overwrites any previous setting.
func (d *Dispatcher[K]) Register(dt tensor.DatumType, kernel K) {
	idx := d.index(dt)
	d.table[idx] = kernel
	d.set[idx] = true
}

// RegisterIfNotSet registers the kernel only if the datum type has none yet.
func (d *Dispatcher[K]) RegisterIfNotSet(dt tensor.DatumType, kernel K) {
	if d.Supports(dt) {
		return
	}
	d.Register(dt, kernel)
}

// Supports returns whether a kernel is registered for the datum type.
func (d *Dispatcher[K]) Supports(dt tensor.DatumType) bool {
	idx := dt.Index()
	return idx >= 0 && idx < tensor.MaxDatumTypes && d.set[idx]
}

// Lookup returns the kernel registered for the datum type, if any.
func (d *Dispatcher[K]) Lookup(dt tensor.DatumType) (K, bool) {
	if !d.Supports(dt) {
		var zero K
		return zero, false
	}
	return d.table[dt.Index()], true
}

// Get returns the kernel for the datum type, and panics if there is none.
func (d *Dispatcher[K]) Get(dt tensor.DatumType) K {
	kernel, found := d.Lookup(dt)
	if !found {
		exceptions.Panicf("datum type %s not supported by %s", dt, d.Name)
	}
	return kernel
}
