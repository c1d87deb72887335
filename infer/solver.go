// Package infer implements the inference phase: a graph of operators whose outlets carry partial facts,
// a constraint solver operators use to declare the relations between the facts of their inputs and
// outputs, and the Expansion protocol turning inference operators into typed nodes once facts are known.
package infer

import (
	"fmt"
	"strings"

	"github.com/gomlx/typedgraph/fact"
	"github.com/gomlx/typedgraph/graph"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/gomlx/typedgraph/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// DefaultMaxRuleSteps is the default maximum number of rule applications of one Solver run.
const DefaultMaxRuleSteps = 10_000

// rule is a constraint registered in a Solver.
type rule interface {
	// dependencies lists the tensors whose changes may let the rule make progress.
	dependencies() []tensorKey

	// apply tries to make progress. It returns done=true if the rule doesn't need to be applied again.
	apply(s *Solver, ctx *Context) (done bool, err error)

	String() string
}

// Solver collects the rules declared by an operator, and narrows the facts of a Context until no rule
// can make progress.
type Solver struct {
	rules   []rule
	done    []bool
	queued  []bool
	queue   []int
	running bool
}

// add registers a rule. Rules added while solving (by Given continuations) are queued immediately.
func (s *Solver) add(r rule) {
	s.rules = append(s.rules, r)
	s.done = append(s.done, false)
	s.queued = append(s.queued, false)
	if s.running {
		s.enqueue(len(s.rules) - 1)
	}
}

func (s *Solver) enqueue(idx int) {
	if s.done[idx] || s.queued[idx] {
		return
	}
	s.queued[idx] = true
	s.queue = append(s.queue, idx)
}

// Run applies the rules to ctx until a fixpoint. Every rule is applied at least once, and then again each
// time one of its dependencies changes.
//
// It fails if a rule raises a conflict, or with graph.ErrNonConvergent if maxSteps rule applications
// were not enough to reach the fixpoint.
func (s *Solver) Run(ctx *Context, maxSteps int) error {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxRuleSteps
	}
	s.running = true
	defer func() { s.running = false }()
	for idx := range s.rules {
		s.enqueue(idx)
	}
	for steps := 0; len(s.queue) > 0; steps++ {
		if steps >= maxSteps {
			return errors.Wrapf(graph.ErrNonConvergent, "solver didn't reach a fixpoint after %d rule applications", maxSteps)
		}
		idx := s.queue[0]
		s.queue = s.queue[1:]
		s.queued[idx] = false
		r := s.rules[idx]
		done, err := r.apply(s, ctx)
		if err != nil {
			return errors.WithMessagef(err, "applying rule %s", r)
		}
		if done {
			s.done[idx] = true
		}
		dirty := ctx.takeDirty()
		if len(dirty) == 0 {
			continue
		}
		klog.V(2).Infof("infer: rule %s changed %v", r, dirty)
		for other, otherRule := range s.rules {
			if dependsOn(otherRule, dirty) {
				s.enqueue(other)
			}
		}
	}
	return nil
}

func dependsOn(r rule, dirty []tensorKey) bool {
	for _, dep := range r.dependencies() {
		for _, key := range dirty {
			if dep == key {
				return true
			}
		}
	}
	return false
}

// String lists the rules of the solver.
func (s *Solver) String() string {
	parts := make([]string, len(s.rules))
	for ii, r := range s.rules {
		parts[ii] = r.String()
	}
	return "Solver{" + strings.Join(parts, "; ") + "}"
}

// equalsRule unifies the values of all its expressions.
type equalsRule[F Factoid[F]] struct {
	items []Expr[F]
}

func (r *equalsRule[F]) dependencies() []tensorKey {
	var deps []tensorKey
	for _, e := range r.items {
		deps = append(deps, e.dependencies()...)
	}
	return deps
}

func (r *equalsRule[F]) apply(_ *Solver, ctx *Context) (bool, error) {
	value, err := r.items[0].get(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range r.items[1:] {
		v, err := e.get(ctx)
		if err != nil {
			return false, err
		}
		value, err = value.Unify(v)
		if err != nil {
			return false, errors.WithMessagef(err, "%s", r)
		}
	}
	for _, e := range r.items {
		if _, err := e.set(ctx, value); err != nil {
			return false, errors.WithMessagef(err, "%s", r)
		}
	}
	return false, nil
}

func (r *equalsRule[F]) String() string {
	parts := make([]string, len(r.items))
	for ii, e := range r.items {
		parts[ii] = e.String()
	}
	return strings.Join(parts, " == ")
}

// Equals declares that a and b have the same value.
func Equals[F Factoid[F]](s *Solver, a, b Expr[F]) {
	s.add(&equalsRule[F]{items: []Expr[F]{a, b}})
}

// EqualsAll declares that all the expressions have the same value.
func EqualsAll[F Factoid[F]](s *Solver, items []Expr[F]) {
	if len(items) < 2 {
		return
	}
	s.add(&equalsRule[F]{items: items})
}

// givenRule calls its continuation once all its expressions have a concrete value.
type givenRule[F Factoid[F], V any] struct {
	items      []Expr[F]
	concretize func(F) (V, bool)
	then       func(s *Solver, values []V) error
}

func (r *givenRule[F, V]) dependencies() []tensorKey {
	var deps []tensorKey
	for _, e := range r.items {
		deps = append(deps, e.dependencies()...)
	}
	return deps
}

func (r *givenRule[F, V]) apply(s *Solver, ctx *Context) (bool, error) {
	values := make([]V, len(r.items))
	for ii, e := range r.items {
		f, err := e.get(ctx)
		if err != nil {
			return false, err
		}
		v, ok := r.concretize(f)
		if !ok {
			return false, nil
		}
		values[ii] = v
	}
	if err := r.then(s, values); err != nil {
		return false, err
	}
	return true, nil
}

func (r *givenRule[F, V]) String() string {
	parts := make([]string, len(r.items))
	for ii, e := range r.items {
		parts[ii] = e.String()
	}
	return fmt.Sprintf("given(%s)", strings.Join(parts, ", "))
}

func givenAll[F Factoid[F], V any](s *Solver, items []Expr[F], concretize func(F) (V, bool), then func(*Solver, []V) error) {
	s.add(&givenRule[F, V]{items: items, concretize: concretize, then: then})
}

func concretizeGeneric[T fact.Equaler[T]](f fact.GenericFactoid[T]) (T, bool) { return f.Concretize() }

func concretizeRank(f fact.IntFactoid) (int, bool) {
	v, ok := f.Concretize()
	return int(v), ok
}

func concretizeShape(f fact.ShapeFactoid) ([]tdim.Dim, bool) { return f.Concretize() }

// GivenType calls then with the datum type of e once it is known.
func (s *Solver) GivenType(e Expr[fact.TypeFactoid], then func(s *Solver, dt tensor.DatumType) error) {
	givenAll(s, []Expr[fact.TypeFactoid]{e}, concretizeGeneric[tensor.DatumType],
		func(s *Solver, values []tensor.DatumType) error { return then(s, values[0]) })
}

// GivenAllTypes calls then with the datum types of all the expressions once they are all known.
func (s *Solver) GivenAllTypes(es []Expr[fact.TypeFactoid], then func(s *Solver, dts []tensor.DatumType) error) {
	givenAll(s, es, concretizeGeneric[tensor.DatumType], then)
}

// GivenRank calls then with the rank of e once it is known.
func (s *Solver) GivenRank(e Expr[fact.IntFactoid], then func(s *Solver, rank int) error) {
	givenAll(s, []Expr[fact.IntFactoid]{e}, concretizeRank,
		func(s *Solver, values []int) error { return then(s, values[0]) })
}

// GivenDim calls then with the dimension of e once it is known.
func (s *Solver) GivenDim(e Expr[fact.DimFact], then func(s *Solver, d tdim.Dim) error) {
	givenAll(s, []Expr[fact.DimFact]{e}, concretizeGeneric[tdim.Dim],
		func(s *Solver, values []tdim.Dim) error { return then(s, values[0]) })
}

// GivenShape calls then with the shape of e once it is fully known.
func (s *Solver) GivenShape(e Expr[fact.ShapeFactoid], then func(s *Solver, dims []tdim.Dim) error) {
	givenAll(s, []Expr[fact.ShapeFactoid]{e}, concretizeShape,
		func(s *Solver, values [][]tdim.Dim) error { return then(s, values[0]) })
}

// GivenAllShapes calls then with the shapes of all the expressions once they are all fully known.
func (s *Solver) GivenAllShapes(es []Expr[fact.ShapeFactoid], then func(s *Solver, shapes [][]tdim.Dim) error) {
	givenAll(s, es, concretizeShape, then)
}

// GivenValue calls then with the value of e once it is known.
func (s *Solver) GivenValue(e Expr[fact.ValueFactoid], then func(s *Solver, v *tensor.Tensor) error) {
	givenAll(s, []Expr[fact.ValueFactoid]{e}, concretizeGeneric[*tensor.Tensor],
		func(s *Solver, values []*tensor.Tensor) error { return then(s, values[0]) })
}

// GivenAllValues calls then with the values of all the expressions once they are all known.
func (s *Solver) GivenAllValues(es []Expr[fact.ValueFactoid], then func(s *Solver, values []*tensor.Tensor) error) {
	givenAll(s, es, concretizeGeneric[*tensor.Tensor], then)
}

// Values returns the value expressions of the tensors.
func Values(tensors []TensorProxy) []Expr[fact.ValueFactoid] {
	es := make([]Expr[fact.ValueFactoid], len(tensors))
	for ii, t := range tensors {
		es[ii] = t.Value
	}
	return es
}

// Shapes returns the shape expressions of the tensors.
func Shapes(tensors []TensorProxy) []Expr[fact.ShapeFactoid] {
	es := make([]Expr[fact.ShapeFactoid], len(tensors))
	for ii, t := range tensors {
		es[ii] = t.Shape
	}
	return es
}

// DatumTypes returns the datum type expressions of the tensors.
func DatumTypes(tensors []TensorProxy) []Expr[fact.TypeFactoid] {
	es := make([]Expr[fact.TypeFactoid], len(tensors))
	for ii, t := range tensors {
		es[ii] = t.DatumType
	}
	return es
}
