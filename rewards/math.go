package rewards

import (
	"errors"
	"math"
	"math/bits"
)

var ErrNegativeSqrt = errors.New("square root of a negative number")

// ISqrt returns floor(sqrt(n)).
func ISqrt(n int64) (int64, error) {
	if n < 0 {
		return 0, ErrNegativeSqrt
	}
	if n < 2 {
		return n, nil
	}
	// Newton's method from an overestimate converges monotonically.
	x := int64(1) << ((bits.Len64(uint64(n)) + 1) / 2)
	for {
		y := (x + n/x) / 2
		if y >= x {
			return x, nil
		}
		x = y
	}
}

// mulDiv computes a*b/c without intermediate overflow.
// The quotient must fit in 64 bits.
func mulDiv(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	quo, _ := bits.Div64(hi, lo, c)
	return quo
}

// mulDivSat is mulDiv saturating at MaxUint64.
func mulDivSat(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return math.MaxUint64
	}
	quo, _ := bits.Div64(hi, lo, c)
	return quo
}
