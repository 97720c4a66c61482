package roles

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/pose/shared"
)

func genValidators(n int) []shared.NodeID {
	validators := make([]shared.NodeID, n)
	for i := range validators {
		validators[i] = shared.NodeID(shared.HashConcat([]byte("validator"), shared.U64(uint64(i))))
	}
	return validators
}

func blockHash(epoch uint64) shared.Hash32 {
	return shared.HashConcat([]byte("block"), shared.U64(epoch))
}

func TestChallengerDiffersFromAggregator(t *testing.T) {
	t.Parallel()
	for n := 2; n <= 9; n++ {
		validators := genValidators(n)
		for epoch := uint64(0); epoch < 200; epoch++ {
			a, err := AssignEpochRoles(epoch, blockHash(epoch), validators)
			require.NoError(t, err)
			require.NotEqual(t, a.Challenger, a.Aggregator, "n=%d epoch=%d", n, epoch)
			require.Contains(t, validators, a.Challenger)
			require.Contains(t, validators, a.Aggregator)
		}
	}
}

func TestEveryValidatorGetsEveryRole(t *testing.T) {
	t.Parallel()
	validators := genValidators(3)
	challengers := make(map[shared.NodeID]int)
	aggregators := make(map[shared.NodeID]int)
	for epoch := uint64(0); epoch < 64; epoch++ {
		a, err := AssignEpochRoles(epoch, blockHash(epoch), validators)
		require.NoError(t, err)
		challengers[a.Challenger]++
		aggregators[a.Aggregator]++
	}
	for _, v := range validators {
		require.Positive(t, challengers[v])
		require.Positive(t, aggregators[v])
	}
}

func TestSingleValidatorHoldsBothRoles(t *testing.T) {
	t.Parallel()
	validators := genValidators(1)
	a, err := AssignEpochRoles(5, blockHash(5), validators)
	require.NoError(t, err)
	require.Equal(t, validators[0], a.Challenger)
	require.Equal(t, validators[0], a.Aggregator)
}

func TestEmptyValidatorSet(t *testing.T) {
	t.Parallel()
	_, err := AssignEpochRoles(1, blockHash(1), nil)
	require.ErrorIs(t, err, ErrNoValidators)
	require.False(t, CanRunForRole(shared.NodeID{}, Challenger, 1, blockHash(1), nil))
}

func TestAssignmentIsDeterministic(t *testing.T) {
	t.Parallel()
	validators := genValidators(5)
	a, err := AssignEpochRoles(42, blockHash(42), validators)
	require.NoError(t, err)
	b, err := AssignEpochRoles(42, blockHash(42), validators)
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestCanRunForRole(t *testing.T) {
	t.Parallel()
	validators := genValidators(4)
	a, err := AssignEpochRoles(9, blockHash(9), validators)
	require.NoError(t, err)

	require.True(t, CanRunForRole(a.Challenger, Challenger, 9, blockHash(9), validators))
	require.True(t, CanRunForRole(a.Aggregator, Aggregator, 9, blockHash(9), validators))
	require.False(t, CanRunForRole(a.Challenger, Aggregator, 9, blockHash(9), validators))
	require.False(t, CanRunForRole(shared.NodeID{1}, Challenger, 9, blockHash(9), validators))
}
