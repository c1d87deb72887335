package infer

import (
	"fmt"
	"strconv"

	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/pkg/errors"
)

type side int

const (
	inputSide side = iota
	outputSide
)

// tensorKey identifies one of the tensors (input or output) of the context of a solver.
type tensorKey struct {
	side  side
	index int
}

func (k tensorKey) String() string {
	if k.side == inputSide {
		return "inputs[" + strconv.Itoa(k.index) + "]"
	}
	return "outputs[" + strconv.Itoa(k.index) + "]"
}

// Context holds the facts of the inputs and outputs of a node while its rules are being solved.
type Context struct {
	Inputs, Outputs []fact.InferenceFact

	// dirty lists the tensors changed since the last call to takeDirty.
	dirty []tensorKey
}

func (c *Context) factOf(key tensorKey) (*fact.InferenceFact, error) {
	facts := c.Inputs
	if key.side == outputSide {
		facts = c.Outputs
	}
	if key.index < 0 || key.index >= len(facts) {
		return nil, errors.Errorf("%s is out of range: the node has %d", key, len(facts))
	}
	return &facts[key.index], nil
}

// unify narrows the fact of the tensor with the partial knowledge given, and returns whether it changed.
func (c *Context) unify(key tensorKey, partial fact.InferenceFact) (bool, error) {
	f, err := c.factOf(key)
	if err != nil {
		return false, err
	}
	unified, err := f.Unify(partial)
	if err != nil {
		return false, errors.WithMessagef(err, "%s", key)
	}
	if unified.Equal(*f) {
		return false, nil
	}
	*f = unified
	c.dirty = append(c.dirty, key)
	return true, nil
}

func (c *Context) takeDirty() []tensorKey {
	dirty := c.dirty
	c.dirty = nil
	return dirty
}

// Factoid is the constraint on the values handled by expressions: they can be unified and compared.
type Factoid[F any] interface {
	Unify(F) (F, error)
	Equal(F) bool
	String() string
}

// Expr is an expression over the facts of a node's inputs and outputs, used to declare rules.
//
// Expressions are either proxies (attributes of the inputs/outputs) or known values.
type Expr[F any] interface {
	get(ctx *Context) (F, error)
	set(ctx *Context, value F) (bool, error)
	dependencies() []tensorKey
	String() string
}

// TensorProxy gives access to the attributes of an input or output of a node, to be used in rules.
type TensorProxy struct {
	key tensorKey

	DatumType Expr[fact.TypeFactoid]
	Rank      Expr[fact.IntFactoid]
	Shape     Expr[fact.ShapeFactoid]
	Value     Expr[fact.ValueFactoid]
}

func newTensorProxy(key tensorKey) TensorProxy {
	return TensorProxy{
		key:       key,
		DatumType: typeExpr{key},
		Rank:      rankExpr{key},
		Shape:     shapeExpr{key},
		Value:     valueExpr{key},
	}
}

// Dim returns the expression of the length of the given axis.
func (p TensorProxy) Dim(axis int) Expr[fact.DimFact] {
	return dimExpr{key: p.key, axis: axis}
}

// String implements fmt.Stringer.
func (p TensorProxy) String() string { return p.key.String() }

func proxies(s side, n int) []TensorProxy {
	result := make([]TensorProxy, n)
	for ii := range result {
		result[ii] = newTensorProxy(tensorKey{side: s, index: ii})
	}
	return result
}

type typeExpr struct{ key tensorKey }

func (e typeExpr) get(ctx *Context) (fact.TypeFactoid, error) {
	f, err := ctx.factOf(e.key)
	if err != nil {
		return fact.TypeFactoid{}, err
	}
	return f.DatumType, nil
}

func (e typeExpr) set(ctx *Context, v fact.TypeFactoid) (bool, error) {
	return ctx.unify(e.key, fact.InferenceFact{DatumType: v})
}

func (e typeExpr) dependencies() []tensorKey { return []tensorKey{e.key} }
func (e typeExpr) String() string            { return e.key.String() + ".datum_type" }

type rankExpr struct{ key tensorKey }

func (e rankExpr) get(ctx *Context) (fact.IntFactoid, error) {
	f, err := ctx.factOf(e.key)
	if err != nil {
		return fact.IntFactoid{}, err
	}
	return f.Shape.Rank(), nil
}

func (e rankExpr) set(ctx *Context, v fact.IntFactoid) (bool, error) {
	rank, ok := v.Concretize()
	if !ok {
		return false, nil
	}
	if rank < 0 {
		return false, errors.Errorf("%s: invalid negative rank %d", e, rank)
	}
	return ctx.unify(e.key, fact.InferenceFact{Shape: fact.ShapeOfRank(int(rank))})
}

func (e rankExpr) dependencies() []tensorKey { return []tensorKey{e.key} }
func (e rankExpr) String() string            { return e.key.String() + ".rank" }

type shapeExpr struct{ key tensorKey }

func (e shapeExpr) get(ctx *Context) (fact.ShapeFactoid, error) {
	f, err := ctx.factOf(e.key)
	if err != nil {
		return fact.ShapeFactoid{}, err
	}
	return f.Shape, nil
}

func (e shapeExpr) set(ctx *Context, v fact.ShapeFactoid) (bool, error) {
	return ctx.unify(e.key, fact.InferenceFact{Shape: v})
}

func (e shapeExpr) dependencies() []tensorKey { return []tensorKey{e.key} }
func (e shapeExpr) String() string            { return e.key.String() + ".shape" }

type dimExpr struct {
	key  tensorKey
	axis int
}

func (e dimExpr) get(ctx *Context) (fact.DimFact, error) {
	f, err := ctx.factOf(e.key)
	if err != nil {
		return fact.DimFact{}, err
	}
	return f.Shape.Dim(e.axis), nil
}

func (e dimExpr) set(ctx *Context, v fact.DimFact) (bool, error) {
	shape, err := fact.AnyShape().WithDim(e.axis, v)
	if err != nil {
		return false, errors.WithMessagef(err, "%s", e)
	}
	return ctx.unify(e.key, fact.InferenceFact{Shape: shape})
}

func (e dimExpr) dependencies() []tensorKey { return []tensorKey{e.key} }
func (e dimExpr) String() string            { return fmt.Sprintf("%s.shape[%d]", e.key, e.axis) }

type valueExpr struct{ key tensorKey }

func (e valueExpr) get(ctx *Context) (fact.ValueFactoid, error) {
	f, err := ctx.factOf(e.key)
	if err != nil {
		return fact.ValueFactoid{}, err
	}
	return f.Value, nil
}

func (e valueExpr) set(ctx *Context, v fact.ValueFactoid) (bool, error) {
	return ctx.unify(e.key, fact.InferenceFact{Value: v})
}

func (e valueExpr) dependencies() []tensorKey { return []tensorKey{e.key} }
func (e valueExpr) String() string            { return e.key.String() + ".value" }

// knownExpr is a constant expression.
type knownExpr[F Factoid[F]] struct{ value F }

// Known returns an expression with a fixed value. Setting it to an incompatible value is a conflict.
func Known[F Factoid[F]](value F) Expr[F] { return knownExpr[F]{value: value} }

func (e knownExpr[F]) get(*Context) (F, error) { return e.value, nil }

func (e knownExpr[F]) set(_ *Context, v F) (bool, error) {
	if _, err := e.value.Unify(v); err != nil {
		return false, err
	}
	return false, nil
}

func (e knownExpr[F]) dependencies() []tensorKey { return nil }
func (e knownExpr[F]) String() string            { return e.value.String() }

// KnownType is a shortcut to a known datum type expression.
func KnownType(dt tensor.DatumType) Expr[fact.TypeFactoid] { return Known(fact.Only(dt)) }

// KnownRank is a shortcut to a known rank expression.
func KnownRank(rank int) Expr[fact.IntFactoid] { return Known(fact.OnlyInt(rank)) }

// KnownDim is a shortcut to a known dimension expression.
func KnownDim(d tdim.Dim) Expr[fact.DimFact] { return Known(fact.OnlyDim(d)) }

// KnownShape is a shortcut to a known shape expression.
func KnownShape(dims ...tdim.Dim) Expr[fact.ShapeFactoid] { return Known(fact.ShapeOf(dims...)) }

// KnownValue is a shortcut to a known value expression.
func KnownValue(t *tensor.Tensor) Expr[fact.ValueFactoid] { return Known(fact.Only(t)) }
