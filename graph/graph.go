// Package graph implements the arena storage shared by the inference and the typed computation graphs.
//
// A Graph owns its nodes, addressed by small stable integer ids. Each node holds an operator, the
// outlets it consumes (its inputs) and its own output outlets, each carrying one fact of type F.
// Removed nodes leave a tombstone, so ids held by patches and rules are never reused.
package graph

import (
	"slices"
	"strconv"

	"github.com/gomlx/gomlx/pkg/support/sets"
	"github.com/pkg/errors"
)

// Op is the minimum interface of the operators held by a Graph.
type Op interface {
	Name() string
}

// OutletID identifies an output slot of a node.
type OutletID struct {
	Node, Slot int
}

// InletID identifies an input slot of a node.
type InletID struct {
	Node, Slot int
}

// Outlet is an output slot of a node: its fact and the inlets consuming it.
type Outlet[F any] struct {
	Fact       F
	Successors []InletID
}

// Node of a Graph.
type Node[F any, O Op] struct {
	ID      int
	Name    string
	Op      O
	Inputs  []OutletID
	Outputs []Outlet[F]
}

// OutletIDs returns the ids of the outlets of the node.
func (n *Node[F, O]) OutletIDs() []OutletID {
	ids := make([]OutletID, len(n.Outputs))
	for slot := range n.Outputs {
		ids[slot] = OutletID{Node: n.ID, Slot: slot}
	}
	return ids
}

// Graph is an acyclic graph of nodes with facts of type F on their outlets and operators of type O.
type Graph[F any, O Op] struct {
	nodes   []*Node[F, O]
	names   map[string]int
	inputs  []OutletID
	outputs []OutletID
}

// New creates an empty graph.
func New[F any, O Op]() *Graph[F, O] {
	return &Graph[F, O]{names: make(map[string]int)}
}

// AddNode creates a node with no inputs, and one outlet per given fact. Names must be unique.
func (g *Graph[F, O]) AddNode(name string, op O, outputFacts []F) (int, error) {
	if _, found := g.names[name]; found {
		return -1, errors.Errorf("a node named %q already exists", name)
	}
	id := len(g.nodes)
	node := &Node[F, O]{ID: id, Name: name, Op: op, Outputs: make([]Outlet[F], len(outputFacts))}
	for slot, f := range outputFacts {
		node.Outputs[slot].Fact = f
	}
	g.nodes = append(g.nodes, node)
	g.names[name] = id
	return id, nil
}

// AddEdge connects the outlet to the inlet. Inlet slots must be filled in order; re-connecting an already
// connected inlet replaces its previous input.
func (g *Graph[F, O]) AddEdge(from OutletID, to InletID) error {
	if err := g.checkOutlet(from); err != nil {
		return err
	}
	node := g.Node(to.Node)
	if node == nil || to.Slot < 0 || to.Slot > len(node.Inputs) {
		return errors.Wrapf(ErrInvalidOutlet, "inlet %v", to)
	}
	if to.Slot == len(node.Inputs) {
		node.Inputs = append(node.Inputs, from)
	} else {
		g.removeSuccessor(node.Inputs[to.Slot], to)
		node.Inputs[to.Slot] = from
	}
	outlet := &g.nodes[from.Node].Outputs[from.Slot]
	outlet.Successors = append(outlet.Successors, to)
	return nil
}

func (g *Graph[F, O]) removeSuccessor(from OutletID, inlet InletID) {
	producer := g.Node(from.Node)
	if producer == nil || from.Slot >= len(producer.Outputs) {
		return
	}
	outlet := &producer.Outputs[from.Slot]
	outlet.Successors = slices.DeleteFunc(outlet.Successors, func(s InletID) bool { return s == inlet })
}

// Node returns the node with the given id, or nil if there is no such (live) node.
func (g *Graph[F, O]) Node(id int) *Node[F, O] {
	if id < 0 || id >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Nodes returns the live nodes, in id order.
func (g *Graph[F, O]) Nodes() []*Node[F, O] {
	nodes := make([]*Node[F, O], 0, len(g.nodes))
	for _, n := range g.nodes {
		if n != nil {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// NumNodes returns the number of live nodes.
func (g *Graph[F, O]) NumNodes() int { return len(g.names) }

// NodeByName returns the node with the given name.
func (g *Graph[F, O]) NodeByName(name string) (*Node[F, O], error) {
	id, found := g.names[name]
	if !found {
		return nil, errors.Errorf("node %q not found", name)
	}
	return g.nodes[id], nil
}

// HasName returns whether a live node is named name.
func (g *Graph[F, O]) HasName(name string) bool {
	_, found := g.names[name]
	return found
}

// RenameNode changes the name of a node. The new name must be unused.
func (g *Graph[F, O]) RenameNode(id int, name string) error {
	node := g.Node(id)
	if node == nil {
		return errors.Wrapf(ErrInvalidOutlet, "node #%d", id)
	}
	if node.Name == name {
		return nil
	}
	if _, found := g.names[name]; found {
		return errors.Errorf("cannot rename node %q: a node named %q already exists", node.Name, name)
	}
	delete(g.names, node.Name)
	node.Name = name
	g.names[name] = id
	return nil
}

func (g *Graph[F, O]) checkOutlet(o OutletID) error {
	node := g.Node(o.Node)
	if node == nil || o.Slot < 0 || o.Slot >= len(node.Outputs) {
		return errors.Wrapf(ErrInvalidOutlet, "outlet %v", o)
	}
	return nil
}

// CheckOutlet returns ErrInvalidOutlet if o doesn't refer to an outlet of a live node.
func (g *Graph[F, O]) CheckOutlet(o OutletID) error { return g.checkOutlet(o) }

// OutletFact returns the fact of the outlet.
func (g *Graph[F, O]) OutletFact(o OutletID) (F, error) {
	if err := g.checkOutlet(o); err != nil {
		var zero F
		return zero, err
	}
	return g.nodes[o.Node].Outputs[o.Slot].Fact, nil
}

// SetOutletFact replaces the fact of the outlet.
func (g *Graph[F, O]) SetOutletFact(o OutletID, f F) error {
	if err := g.checkOutlet(o); err != nil {
		return err
	}
	g.nodes[o.Node].Outputs[o.Slot].Fact = f
	return nil
}

// NodeInputFacts returns the facts of the outlets consumed by the node.
func (g *Graph[F, O]) NodeInputFacts(id int) ([]F, error) {
	node := g.Node(id)
	if node == nil {
		return nil, errors.Wrapf(ErrInvalidOutlet, "node #%d", id)
	}
	facts := make([]F, len(node.Inputs))
	for ii, input := range node.Inputs {
		f, err := g.OutletFact(input)
		if err != nil {
			return nil, errors.WithMessagef(err, "input #%d of node %q", ii, node.Name)
		}
		facts[ii] = f
	}
	return facts, nil
}

// NodeOutputFacts returns the facts of the outlets of the node.
func (g *Graph[F, O]) NodeOutputFacts(id int) ([]F, error) {
	node := g.Node(id)
	if node == nil {
		return nil, errors.Wrapf(ErrInvalidOutlet, "node #%d", id)
	}
	facts := make([]F, len(node.Outputs))
	for slot, outlet := range node.Outputs {
		facts[slot] = outlet.Fact
	}
	return facts, nil
}

// SetInputOutlets declares the inputs (sources) of the graph.
func (g *Graph[F, O]) SetInputOutlets(outlets ...OutletID) error {
	for _, o := range outlets {
		if err := g.checkOutlet(o); err != nil {
			return err
		}
	}
	g.inputs = slices.Clone(outlets)
	return nil
}

// InputOutlets returns the declared inputs of the graph.
func (g *Graph[F, O]) InputOutlets() []OutletID { return slices.Clone(g.inputs) }

// SetOutputOutlets declares the outputs of the graph.
func (g *Graph[F, O]) SetOutputOutlets(outlets ...OutletID) error {
	for _, o := range outlets {
		if err := g.checkOutlet(o); err != nil {
			return err
		}
	}
	g.outputs = slices.Clone(outlets)
	return nil
}

// OutputOutlets returns the declared outputs of the graph.
func (g *Graph[F, O]) OutputOutlets() []OutletID { return slices.Clone(g.outputs) }

// SingleSucc returns the only node consuming the outputs of node id, if the node has a single outlet
// consumed exactly once.
func (g *Graph[F, O]) SingleSucc(id int) (*Node[F, O], bool) {
	node := g.Node(id)
	if node == nil || len(node.Outputs) != 1 || len(node.Outputs[0].Successors) != 1 {
		return nil, false
	}
	return g.Node(node.Outputs[0].Successors[0].Node), true
}

// SinglePrec returns the producer of the only input of node id, if the node has exactly one input.
func (g *Graph[F, O]) SinglePrec(id int) (*Node[F, O], bool) {
	node := g.Node(id)
	if node == nil || len(node.Inputs) != 1 {
		return nil, false
	}
	return g.Node(node.Inputs[0].Node), true
}

// ShuntOutlet redirects every consumer of from (including the declared outputs) to read to instead.
func (g *Graph[F, O]) ShuntOutlet(from, to OutletID) error {
	if err := g.checkOutlet(from); err != nil {
		return err
	}
	if err := g.checkOutlet(to); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	successors := slices.Clone(g.nodes[from.Node].Outputs[from.Slot].Successors)
	for _, inlet := range successors {
		if err := g.AddEdge(to, inlet); err != nil {
			return err
		}
	}
	for ii, o := range g.outputs {
		if o == from {
			g.outputs[ii] = to
		}
	}
	return nil
}

// reachable returns the nodes the declared outputs depend on, plus the nodes of the declared inputs.
func (g *Graph[F, O]) reachable() sets.Set[int] {
	visited := sets.Make[int]()
	stack := make([]int, 0, len(g.outputs)+len(g.inputs))
	for _, o := range g.outputs {
		stack = append(stack, o.Node)
	}
	for _, o := range g.inputs {
		stack = append(stack, o.Node)
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited.Has(id) || g.Node(id) == nil {
			continue
		}
		visited.Insert(id)
		for _, input := range g.nodes[id].Inputs {
			stack = append(stack, input.Node)
		}
	}
	return visited
}

// EvalOrder returns the ids of the nodes needed to compute the outputs (plus the declared inputs),
// sorted such that every node comes after the producers of its inputs.
//
// It fails if the graph has a cycle.
func (g *Graph[F, O]) EvalOrder() ([]int, error) {
	return g.evalOrder(g.reachable())
}

// EvalOrderAll is like EvalOrder, but sorts every live node, whether the outputs need them or not.
func (g *Graph[F, O]) EvalOrderAll() ([]int, error) {
	all := sets.Make[int](len(g.names))
	for _, node := range g.Nodes() {
		all.Insert(node.ID)
	}
	return g.evalOrder(all)
}

func (g *Graph[F, O]) evalOrder(needed sets.Set[int]) ([]int, error) {
	pending := make(map[int]int, len(needed))
	var ready []int
	for id := range g.nodes {
		if !needed.Has(id) {
			continue
		}
		if n := len(g.nodes[id].Inputs); n > 0 {
			pending[id] = n
		} else {
			ready = append(ready, id)
		}
	}

	// Mark nodes as done in order, releasing the dependants whose inputs are all done.
	order := make([]int, 0, len(needed))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, outlet := range g.nodes[id].Outputs {
			for _, inlet := range outlet.Successors {
				count, found := pending[inlet.Node]
				if !found {
					continue
				}
				if count == 1 {
					delete(pending, inlet.Node)
					ready = append(ready, inlet.Node)
				} else {
					pending[inlet.Node] = count - 1
				}
			}
		}
	}
	if len(order) != len(needed) {
		stuck := make([]string, 0, len(pending))
		for id := range pending {
			stuck = append(stuck, g.nodes[id].Name)
		}
		slices.Sort(stuck)
		return nil, errors.Errorf("sorting graph failed: %d nodes needed but only %d sorted, nodes in a cycle (or depending on one): %q",
			len(needed), len(order), stuck)
	}
	return order, nil
}

// Prune removes the nodes that neither the declared outputs depend on nor are declared inputs.
// It returns the number of nodes removed.
func (g *Graph[F, O]) Prune() int {
	needed := g.reachable()
	removed := 0
	for id, node := range g.nodes {
		if node == nil || needed.Has(id) {
			continue
		}
		for slot, input := range node.Inputs {
			g.removeSuccessor(input, InletID{Node: id, Slot: slot})
		}
		delete(g.names, node.Name)
		g.nodes[id] = nil
		removed++
	}
	return removed
}

// CheckEdges verifies that every input refers to a live outlet, and that successor lists are consistent.
func (g *Graph[F, O]) CheckEdges() error {
	for _, node := range g.Nodes() {
		for slot, input := range node.Inputs {
			if err := g.checkOutlet(input); err != nil {
				return errors.WithMessagef(err, "input #%d of node %q", slot, node.Name)
			}
			inlet := InletID{Node: node.ID, Slot: slot}
			if !slices.Contains(g.nodes[input.Node].Outputs[input.Slot].Successors, inlet) {
				return errors.Errorf("node %q input #%d is not listed as a successor of outlet %v", node.Name, slot, input)
			}
		}
		for slot, outlet := range node.Outputs {
			for _, inlet := range outlet.Successors {
				consumer := g.Node(inlet.Node)
				if consumer == nil || inlet.Slot >= len(consumer.Inputs) ||
					consumer.Inputs[inlet.Slot] != (OutletID{Node: node.ID, Slot: slot}) {
					return errors.Errorf("node %q outlet #%d lists a stale successor %v", node.Name, slot, inlet)
				}
			}
		}
	}
	for _, o := range slices.Concat(g.inputs, g.outputs) {
		if err := g.checkOutlet(o); err != nil {
			return errors.WithMessage(err, "declared graph input/output")
		}
	}
	return nil
}

// Clone returns a structural copy of the graph. Facts are copied by value and operators are shared.
func (g *Graph[F, O]) Clone() *Graph[F, O] {
	clone := &Graph[F, O]{
		nodes:   make([]*Node[F, O], len(g.nodes)),
		names:   make(map[string]int, len(g.names)),
		inputs:  slices.Clone(g.inputs),
		outputs: slices.Clone(g.outputs),
	}
	for id, node := range g.nodes {
		if node == nil {
			continue
		}
		c := &Node[F, O]{ID: node.ID, Name: node.Name, Op: node.Op, Inputs: slices.Clone(node.Inputs),
			Outputs: make([]Outlet[F], len(node.Outputs))}
		for slot, outlet := range node.Outputs {
			c.Outputs[slot] = Outlet[F]{Fact: outlet.Fact, Successors: slices.Clone(outlet.Successors)}
		}
		clone.nodes[id] = c
	}
	for name, id := range g.names {
		clone.names[name] = id
	}
	return clone
}

// UniqueName returns prefix if no node is named so, otherwise prefix followed by the smallest ".N" suffix
// that is unused.
func (g *Graph[F, O]) UniqueName(prefix string) string {
	if !g.HasName(prefix) {
		return prefix
	}
	for ii := 1; ; ii++ {
		name := prefix + "." + strconv.Itoa(ii)
		if !g.HasName(name) {
			return name
		}
	}
}
