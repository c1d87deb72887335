package graph

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error taxonomy shared by every phase. Use errors.Is to test for them.
var (
	// ErrArityMismatch is returned when an operator is given the wrong number of inputs or outputs.
	ErrArityMismatch = errors.New("arity mismatch")

	// ErrNotTypable is returned when a value needed to materialize an operator is not a compile-time
	// constant, or when a fact is not determined enough to build a typed node.
	ErrNotTypable = errors.New("not typable")

	// ErrUnsupportedPattern is returned for valid but unsupported configurations, e.g. strides on a
	// streaming axis.
	ErrUnsupportedPattern = errors.New("unsupported pattern")

	// ErrInvalidOutlet is returned when an outlet or inlet refers to a node or slot not in the graph.
	ErrInvalidOutlet = errors.New("invalid outlet")

	// ErrNonConvergent is returned when a fixpoint iteration can't make progress within its budget.
	ErrNonConvergent = errors.New("non convergent")
)

// NodeError wraps an error raised while handling a node, with the operator and node names.
type NodeError struct {
	Op   string
	Node string
	Err  error
}

// Error implements error.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q (%s): %v", e.Node, e.Op, e.Err)
}

// Unwrap allows errors.Is and errors.As on the cause.
func (e *NodeError) Unwrap() error { return e.Err }

// WrapNodeError wraps err in a NodeError. It returns nil if err is nil, and err itself if it is already
// a NodeError about the same node.
func WrapNodeError(op, node string, err error) error {
	if err == nil {
		return nil
	}
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) && nodeErr.Node == node {
		return err
	}
	return &NodeError{Op: op, Node: node, Err: err}
}
