package rewards

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestISqrt(t *testing.T) {
	for _, n := range []int64{0, 1, 2, 3, 4, 15, 16, 17, 99, 100, 1_000_000_000, 1<<62 - 1, math.MaxInt64} {
		r, err := ISqrt(n)
		require.NoError(t, err)
		require.LessOrEqual(t, uint64(r)*uint64(r), uint64(n), "n=%d", n)
		require.Greater(t, uint64(r+1)*uint64(r+1), uint64(n), "n=%d", n)
	}
	_, err := ISqrt(-1)
	require.ErrorIs(t, err, ErrNegativeSqrt)
}

func TestMulDiv(t *testing.T) {
	require.Equal(t, uint64(math.MaxUint64/2), mulDiv(math.MaxUint64, 5000, 10_000))
	require.Equal(t, uint64(6), mulDiv(10, 2, 3))
}
