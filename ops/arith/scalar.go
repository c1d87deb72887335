package arith

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/typedgraph/ops/kernels"
	"golang.org/x/exp/constraints"
)

// Scalar functions the kernel tables are instantiated from.

func add[T kernels.Numeric](a, b T) T { return a + b }
func sub[T kernels.Numeric](a, b T) T { return a - b }
func mul[T kernels.Numeric](a, b T) T { return a * b }

func minOf[T kernels.Numeric](a, b T) T { return min(a, b) }
func maxOf[T kernels.Numeric](a, b T) T { return max(a, b) }

func shiftLeft[T constraints.Integer](a, b T) T  { return a << b }
func shiftRight[T constraints.Integer](a, b T) T { return a >> b }

// divInt is the floor division, as for symbolic dimensions: -7/2 == -4.
func divInt[T constraints.Integer](a, b T) T {
	if b == 0 {
		exceptions.Panicf("integer division by zero")
	}
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// remInt is the remainder of the floor division: it has the sign of the divisor.
func remInt[T constraints.Integer](a, b T) T {
	if b == 0 {
		exceptions.Panicf("integer division by zero")
	}
	r := a % b
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

func div[T constraints.Float](a, b T) T { return a / b }

func remFloat[T constraints.Float](a, b T) T {
	r := T(math.Mod(float64(a), float64(b)))
	if r != 0 && (r < 0) != (b < 0) {
		r += b
	}
	return r
}

// powInt raises a to a non-negative integer power by squaring. Negative powers truncate toward zero.
func powInt[T constraints.Signed](a, b T) T {
	if b < 0 {
		switch a {
		case 1:
			return 1
		case -1:
			if b%2 == 0 {
				return 1
			}
			return -1
		}
		return 0
	}
	result := T(1)
	for b > 0 {
		if b&1 == 1 {
			result *= a
		}
		a *= a
		b >>= 1
	}
	return result
}

func powF32(a, b float32) float32 { return math32.Pow(a, b) }

// Unary functions.

func abs[T constraints.Signed | constraints.Float](x T) T {
	if x < 0 {
		return -x
	}
	return x
}

func neg[T constraints.Signed | constraints.Float](x T) T { return -x }

func sign[T constraints.Float](x T) T {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x
}

func square[T constraints.Float](x T) T { return x * x }
func cube[T constraints.Float](x T) T   { return x * x * x }
func recip[T constraints.Float](x T) T  { return 1 / x }

func rsqrtF32(x float32) float32 { return 1 / math32.Sqrt(x) }
func rsqrtF64(x float64) float64 { return 1 / math.Sqrt(x) }
