package dispute

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spacemeshos/pose/receipt"
	"github.com/spacemeshos/pose/shared"
)

func testChallenge() *shared.ChallengeMessage {
	return &shared.ChallengeMessage{
		ChallengeID:   shared.HashConcat([]byte("challenge")),
		EpochID:       4,
		NodeID:        shared.NodeID{1},
		ChallengeType: shared.Uptime,
		Nonce:         shared.Nonce{2},
		IssuedAtMs:    1000,
		DeadlineMs:    2500,
	}
}

func TestBuildEvidenceIsDeterministic(t *testing.T) {
	ch := testChallenge()
	a, err := BuildEvidence(ReasonTimeout, EvidenceInput{Challenge: ch})
	require.NoError(t, err)
	b, err := BuildEvidence(ReasonTimeout, EvidenceInput{Challenge: testChallenge()})
	require.NoError(t, err)

	require.Equal(t, a.EvidenceHash, b.EvidenceHash)
	require.Equal(t, ch.NodeID, a.NodeID)
	require.Equal(t, a.RawEvidence.Hash(), a.EvidenceHash)
	require.Equal(t,
		`{"challengeId":"`+ch.ChallengeID.Hex()+`","epochId":4,"nodeId":"`+ch.NodeID.Hex()+
			`","nonce":"`+ch.Nonce.Hex()+`","reasonCode":"timeout"}`,
		string(a.RawEvidence.Canonical()),
	)

	other, err := BuildEvidence(ReasonReplay, EvidenceInput{Challenge: ch})
	require.NoError(t, err)
	require.NotEqual(t, a.EvidenceHash, other.EvidenceHash)
}

func TestBuildEvidenceWithReceipt(t *testing.T) {
	ch := testChallenge()
	rc := &shared.ReceiptMessage{
		ChallengeID:  ch.ChallengeID,
		NodeID:       ch.NodeID,
		ResponseAtMs: 9000,
		ResponseBody: shared.Body{"nonce": shared.String(ch.Nonce.Hex())},
		NodeSig:      shared.HexBytes{1, 2},
	}
	without, err := BuildEvidence(ReasonTimeout, EvidenceInput{Challenge: ch})
	require.NoError(t, err)
	with, err := BuildEvidence(ReasonTimeout, EvidenceInput{Challenge: ch, Receipt: rc})
	require.NoError(t, err)

	require.NotEqual(t, without.EvidenceHash, with.EvidenceHash)
	nested, ok := with.RawEvidence["receipt"].AsMap()
	require.True(t, ok)
	at, ok := nested.Uint("responseAtMs")
	require.True(t, ok)
	require.Equal(t, uint64(9000), at)
	_, ok = without.RawEvidence["receipt"]
	require.False(t, ok)
}

func TestBuildEvidenceOffender(t *testing.T) {
	ch := testChallenge()
	aggregator := shared.NodeID{9}
	ev, err := BuildEvidence(ReasonMissingReceipt, EvidenceInput{Challenge: ch, Offender: &aggregator})
	require.NoError(t, err)
	require.Equal(t, aggregator, ev.NodeID)
	offender, ok := ev.RawEvidence.String("offender")
	require.True(t, ok)
	require.Equal(t, aggregator.Hex(), offender)
}

func TestBuildEvidenceErrors(t *testing.T) {
	_, err := BuildEvidence("bribery", EvidenceInput{Challenge: testChallenge()})
	require.ErrorIs(t, err, ErrUnknownReason)
	_, err = BuildEvidence(ReasonTimeout, EvidenceInput{})
	require.ErrorIs(t, err, ErrNoChallenge)
}

func TestReasonForRejection(t *testing.T) {
	for r, expected := range map[receipt.Reason]ReasonCode{
		receipt.ReasonReplay:         ReasonReplay,
		receipt.ReasonNodeSig:        ReasonInvalidSignature,
		receipt.ReasonTimeout:        ReasonTimeout,
		receipt.ReasonInvalidStorage: ReasonInvalidStorageProof,
	} {
		code, ok := ReasonForRejection(r)
		require.True(t, ok, r)
		require.Equal(t, expected, code)
	}
	for _, r := range []receipt.Reason{receipt.ReasonChallengerSig, receipt.ReasonMismatch, receipt.ReasonUptimeCheck} {
		_, ok := ReasonForRejection(r)
		require.False(t, ok, r)
	}
}
