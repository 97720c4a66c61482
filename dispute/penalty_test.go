package dispute

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/pose/shared"
)

const hour = msPerHour

func evidence(i int) shared.Hash32 {
	return shared.HashConcat(shared.U64(uint64(i)))
}

func TestSixTimeoutsSuspend(t *testing.T) {
	p := NewPenaltyTracker(DefaultPenaltyConfig())
	node := shared.NodeID{1}

	for i := 0; i < 5; i++ {
		_, tr := p.RecordPenalty(node, ReasonTimeout, evidence(i), 1000)
		require.False(t, tr.NowSuspended)
	}
	require.False(t, p.IsPenalized(node, 1000))

	state, tr := p.RecordPenalty(node, ReasonTimeout, evidence(11), 1000)
	require.True(t, tr.NowSuspended)
	require.Equal(t, uint64(30), state.TotalPoints)
	require.True(t, state.Suspended)
	require.Equal(t, 1000+hour, state.SuspendedUntilMs)
	require.True(t, p.IsPenalized(node, 1000))
	require.False(t, p.IsEjected(node))

	// suspension is time bounded
	require.False(t, p.IsPenalized(node, 1000+hour))
}

func TestThreeInvalidStorageProofsEject(t *testing.T) {
	p := NewPenaltyTracker(DefaultPenaltyConfig())
	node := shared.NodeID{1}

	p.RecordPenalty(node, ReasonInvalidStorageProof, evidence(12), 0)
	state, _ := p.RecordPenalty(node, ReasonInvalidStorageProof, evidence(13), 0)
	require.True(t, state.Suspended)

	state, tr := p.RecordPenalty(node, ReasonInvalidStorageProof, evidence(14), 0)
	require.True(t, tr.NowEjected)
	require.True(t, state.Ejected)
	require.Equal(t, uint64(90), state.TotalPoints)
	require.True(t, p.IsEjected(node))

	// frozen
	state, tr = p.RecordPenalty(node, ReasonReplay, evidence(15), 10*hour)
	require.False(t, tr.Recorded)
	require.Equal(t, uint64(90), state.TotalPoints)
	require.Len(t, state.Records, 3)

	state, _ = p.ApplyDecay(node, 100*hour)
	require.Equal(t, uint64(90), state.TotalPoints)
	require.True(t, p.IsPenalized(node, 100*hour))
}

func TestDecay(t *testing.T) {
	p := NewPenaltyTracker(DefaultPenaltyConfig())
	node := shared.NodeID{1}
	for i := 0; i < 2; i++ {
		p.RecordPenalty(node, ReasonInvalidSignature, evidence(i), 0)
	}

	state, ok := p.ApplyDecay(node, hour-1)
	require.True(t, ok)
	require.Equal(t, uint64(30), state.TotalPoints)
	require.True(t, state.Suspended)

	// one hour forgives two points and lifts the suspension
	state, _ = p.ApplyDecay(node, hour)
	require.Equal(t, uint64(28), state.TotalPoints)
	require.False(t, state.Suspended)

	// repeated calls do not decay twice
	state, _ = p.ApplyDecay(node, hour+hour/2)
	require.Equal(t, uint64(28), state.TotalPoints)
	state, _ = p.ApplyDecay(node, 2*hour)
	require.Equal(t, uint64(26), state.TotalPoints)

	// never below zero
	state, _ = p.ApplyDecay(node, 1000*hour)
	require.Zero(t, state.TotalPoints)

	_, ok = p.ApplyDecay(shared.NodeID{2}, 0)
	require.False(t, ok)
}

func TestDecayAppliedBeforeNewPenalty(t *testing.T) {
	p := NewPenaltyTracker(DefaultPenaltyConfig())
	node := shared.NodeID{1}
	p.RecordPenalty(node, ReasonReplay, evidence(16), 0)
	state, _ := p.RecordPenalty(node, ReasonTimeout, evidence(17), 5*hour)
	require.Equal(t, uint64(20-10+5), state.TotalPoints)
}

func TestRecordsAreBounded(t *testing.T) {
	cfg := DefaultPenaltyConfig()
	cfg.MaxRecords = 3
	cfg.EjectThreshold = 1000
	p := NewPenaltyTracker(cfg)
	node := shared.NodeID{1}

	for i := uint64(0); i < 5; i++ {
		p.RecordPenalty(node, ReasonTimeout, shared.Hash32{byte(i)}, i)
	}
	state, ok := p.State(node)
	require.True(t, ok)
	require.Len(t, state.Records, 3)
	require.Equal(t, shared.Hash32{2}, state.Records[0].EvidenceHash)
	require.Equal(t, uint64(25), state.TotalPoints)
}

func TestStateIsACopy(t *testing.T) {
	p := NewPenaltyTracker(DefaultPenaltyConfig())
	node := shared.NodeID{1}
	state, _ := p.RecordPenalty(node, ReasonTimeout, evidence(18), 0)
	state.Records[0].Points = 999

	fresh, _ := p.State(node)
	require.Equal(t, uint64(5), fresh.Records[0].Points)
	require.ElementsMatch(t, []shared.NodeID{node}, p.Nodes())
}

func TestSameEvidenceCountsOnce(t *testing.T) {
	p := NewPenaltyTracker(DefaultPenaltyConfig())
	node, other := shared.NodeID{1}, shared.NodeID{2}

	state, tr := p.RecordPenalty(node, ReasonReplay, evidence(1), 0)
	require.True(t, tr.Recorded)
	require.Equal(t, uint64(20), state.TotalPoints)

	for i := 0; i < 5; i++ {
		state, tr = p.RecordPenalty(node, ReasonReplay, evidence(1), uint64(i))
		require.False(t, tr.Recorded)
		require.Equal(t, uint64(20), state.TotalPoints)
		require.Len(t, state.Records, 1)
	}
	require.False(t, p.IsEjected(node))

	// evidence is tracked per node
	_, tr = p.RecordPenalty(other, ReasonReplay, evidence(1), 0)
	require.True(t, tr.Recorded)
}
