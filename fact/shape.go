package fact

import (
	"strconv"
	"strings"

	"github.com/gomlx/typedgraph/tdim"
	"github.com/pkg/errors"
)

// ShapeFactoid is the partial knowledge about a shape. When the rank is unknown (open shape), dims holds the
// known prefix of the axes; any axis beyond it is unknown. The zero value knows nothing.
type ShapeFactoid struct {
	closed bool
	dims   []DimFact
}

// AnyShape returns the shape factoid that knows nothing.
func AnyShape() ShapeFactoid { return ShapeFactoid{} }

// ClosedShape returns a shape factoid of known rank len(dims).
func ClosedShape(dims ...DimFact) ShapeFactoid {
	return ShapeFactoid{closed: true, dims: dims}
}

// OpenShape returns a shape factoid of unknown rank, whose first axes are described by dims.
func OpenShape(dims ...DimFact) ShapeFactoid {
	return ShapeFactoid{dims: dims}.trimmed()
}

// ShapeOf returns the fully known shape factoid.
func ShapeOf(dims ...tdim.Dim) ShapeFactoid {
	facts := make([]DimFact, len(dims))
	for ii, d := range dims {
		facts[ii] = Only(d)
	}
	return ClosedShape(facts...)
}

// ShapeOfRank returns the shape factoid of known rank and unknown dimensions.
func ShapeOfRank(rank int) ShapeFactoid {
	return ClosedShape(make([]DimFact, rank)...)
}

// IsOpen returns whether the rank is unknown.
func (s ShapeFactoid) IsOpen() bool { return !s.closed }

// Rank returns the rank factoid.
func (s ShapeFactoid) Rank() IntFactoid {
	if !s.closed {
		return Any[Int]()
	}
	return OnlyInt(len(s.dims))
}

// Dims returns the known prefix (or all the axes if closed).
func (s ShapeFactoid) Dims() []DimFact { return s.dims }

// Dim returns the factoid for the axis. Axes beyond the known prefix of an open shape are unknown.
func (s ShapeFactoid) Dim(axis int) DimFact {
	if axis < 0 || axis >= len(s.dims) {
		return Any[tdim.Dim]()
	}
	return s.dims[axis]
}

// Concretize returns the shape if the rank and every axis are known.
func (s ShapeFactoid) Concretize() ([]tdim.Dim, bool) {
	if !s.closed {
		return nil, false
	}
	dims := make([]tdim.Dim, len(s.dims))
	for ii, d := range s.dims {
		v, ok := d.Concretize()
		if !ok {
			return nil, false
		}
		dims[ii] = v
	}
	return dims, true
}

// IsConcrete returns whether the shape is fully known.
func (s ShapeFactoid) IsConcrete() bool {
	_, ok := s.Concretize()
	return ok
}

// Unify returns the most specific shape factoid compatible with both s and other.
func (s ShapeFactoid) Unify(other ShapeFactoid) (ShapeFactoid, error) {
	n := max(len(s.dims), len(other.dims))
	closed := s.closed || other.closed
	if closed {
		rank := len(s.dims)
		if !s.closed {
			rank = len(other.dims)
		}
		if (s.closed && other.closed && len(s.dims) != len(other.dims)) || n > rank {
			return s, &ConflictError{Attribute: "rank", Left: s.String(), Right: other.String()}
		}
		n = rank
	}
	dims := make([]DimFact, n)
	for axis := range dims {
		d, err := s.Dim(axis).Unify(other.Dim(axis))
		if err != nil {
			return s, withAttribute(err, "shape["+strconv.Itoa(axis)+"]")
		}
		dims[axis] = d
	}
	return ShapeFactoid{closed: closed, dims: dims}.trimmed(), nil
}

// WithRank unifies s with a shape of the given rank.
func (s ShapeFactoid) WithRank(rank int) (ShapeFactoid, error) {
	return s.Unify(ShapeOfRank(rank))
}

// WithDim unifies the given axis of s with d. On an open shape the known prefix grows as needed.
func (s ShapeFactoid) WithDim(axis int, d DimFact) (ShapeFactoid, error) {
	if axis < 0 {
		return s, errors.Errorf("invalid negative axis %d", axis)
	}
	if !d.IsConcrete() {
		return s, nil
	}
	prefix := make([]DimFact, axis+1)
	prefix[axis] = d
	return s.Unify(OpenShape(prefix...))
}

// Equal returns whether both shape factoids hold the same knowledge.
func (s ShapeFactoid) Equal(other ShapeFactoid) bool {
	if s.closed != other.closed || len(s.dims) != len(other.dims) {
		return false
	}
	for ii := range s.dims {
		if !s.dims[ii].Equal(other.dims[ii]) {
			return false
		}
	}
	return true
}

// String implements fmt.Stringer, e.g. "[1,S-4,?]" or "[2,..]" for an open shape.
func (s ShapeFactoid) String() string {
	parts := make([]string, 0, len(s.dims)+1)
	for _, d := range s.dims {
		parts = append(parts, d.String())
	}
	if !s.closed {
		parts = append(parts, "..")
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// trimmed drops the trailing unknown axes of an open shape, so equal knowledge has a single representation.
func (s ShapeFactoid) trimmed() ShapeFactoid {
	if s.closed {
		return s
	}
	n := len(s.dims)
	for n > 0 && !s.dims[n-1].IsConcrete() {
		n--
	}
	return ShapeFactoid{dims: s.dims[:n]}
}
