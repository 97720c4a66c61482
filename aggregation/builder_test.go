package aggregation_test

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap/zaptest"

	"github.com/spacemeshos/pose/aggregation"
	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/signing"
	"github.com/spacemeshos/pose/signing/mocks"
)

func newSigner(t *testing.T) *signing.EdSigner {
	s, err := signing.GenerateEdSigner(rand.Reader)
	require.NoError(t, err)
	return s
}

func genReceipts(n int) []shared.VerifiedReceipt {
	receipts := make([]shared.VerifiedReceipt, n)
	for i := range receipts {
		id := shared.HashConcat([]byte("challenge"), shared.U64(uint64(i)))
		receipts[i] = shared.VerifiedReceipt{
			Receipt: shared.ReceiptMessage{
				ChallengeID:  id,
				NodeID:       shared.NodeID{byte(i % 5)},
				ResponseAtMs: uint64(1000 + i),
			},
			ResponseBodyHash: shared.HashConcat(id[:]),
		}
	}
	return receipts
}

func TestBuildAndVerifyBatch(t *testing.T) {
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	for _, n := range []int{1, 2, 7, 8, 9, 33} {
		signer := newSigner(t)
		batch, err := aggregation.NewBuilder(signer).Build(ctx, 11, genReceipts(n))
		require.NoError(t, err)

		require.Len(t, batch.LeafHashes, n)
		require.Len(t, batch.SampleProofs, min(n, aggregation.DefaultSampleSize))
		require.Equal(t, signer.NodeID(), batch.AggregatorID)
		require.NoError(t, aggregation.VerifyBatch(batch, signing.EdVerifier{}, aggregation.DefaultSampleSize), "n=%d", n)

		summary, err := aggregation.RecomputeSummary(batch, aggregation.DefaultSampleSize)
		require.NoError(t, err)
		require.Equal(t, batch.SummaryHash, summary)
	}
}

func TestBuildRejectsEmptyInput(t *testing.T) {
	_, err := aggregation.NewBuilder(newSigner(t)).Build(context.Background(), 1, nil)
	require.ErrorIs(t, err, aggregation.ErrEmptyBatch)
}

func TestHonestAggregatorsAgree(t *testing.T) {
	receipts := genReceipts(20)
	a, err := aggregation.NewBuilder(newSigner(t)).Build(context.Background(), 4, receipts)
	require.NoError(t, err)
	b, err := aggregation.NewBuilder(newSigner(t)).Build(context.Background(), 4, receipts)
	require.NoError(t, err)

	require.Equal(t, a.MerkleRoot, b.MerkleRoot)
	require.Equal(t, a.SampleProofs, b.SampleProofs)
	require.Equal(t, a.SummaryHash, b.SummaryHash)
	require.NotEqual(t, a.ID(), b.ID())
}

func TestSummaryBindsSamples(t *testing.T) {
	leaves := aggregation.LeafHashes(genReceipts(12))
	proofs, err := aggregation.SampleProofs(2, leaves, 4)
	require.NoError(t, err)
	root, err := shared.BuildMerkleRoot(leaves)
	require.NoError(t, err)

	summary := aggregation.SummaryHash(2, root, aggregation.RollingCommitment(proofs), len(proofs))
	swapped := append([]shared.SampleProof{}, proofs...)
	swapped[0], swapped[1] = swapped[1], swapped[0]
	require.NotEqual(t, summary, aggregation.SummaryHash(2, root, aggregation.RollingCommitment(swapped), len(swapped)))
	require.NotEqual(t, summary, aggregation.SummaryHash(2, root, aggregation.RollingCommitment(proofs[:3]), 3))
	require.Equal(t, shared.Hash32{}, aggregation.RollingCommitment(nil))
}

func TestVerifyBatchDetectsTampering(t *testing.T) {
	build := func() *shared.ReceiptBatch {
		batch, err := aggregation.NewBuilder(newSigner(t)).Build(context.Background(), 9, genReceipts(10))
		require.NoError(t, err)
		return batch
	}
	verify := func(b *shared.ReceiptBatch) error {
		return aggregation.VerifyBatch(b, signing.EdVerifier{}, aggregation.DefaultSampleSize)
	}

	t.Run("leaf", func(t *testing.T) {
		b := build()
		b.LeafHashes[0] = shared.Hash32{1}
		require.ErrorIs(t, verify(b), aggregation.ErrRootMismatch)
	})
	t.Run("dropped sample", func(t *testing.T) {
		b := build()
		b.SampleProofs = b.SampleProofs[1:]
		require.ErrorIs(t, verify(b), aggregation.ErrSampleMismatch)
	})
	t.Run("sample proof", func(t *testing.T) {
		b := build()
		b.SampleProofs[0].MerkleProof[0] = shared.Hash32{2}
		require.ErrorIs(t, verify(b), aggregation.ErrInvalidSampleProof)
	})
	t.Run("summary", func(t *testing.T) {
		b := build()
		b.SummaryHash = shared.Hash32{3}
		require.ErrorIs(t, verify(b), aggregation.ErrSummaryMismatch)
	})
	t.Run("signature", func(t *testing.T) {
		b := build()
		b.AggregatorID = shared.NodeID{4}
		require.ErrorIs(t, verify(b), aggregation.ErrInvalidAggregatorSig)
	})
	t.Run("empty", func(t *testing.T) {
		require.ErrorIs(t, verify(&shared.ReceiptBatch{}), aggregation.ErrEmptyBatch)
	})
}

func TestBuildSignsSummary(t *testing.T) {
	signer := mocks.NewMockSigner(gomock.NewController(t))
	signer.EXPECT().NodeID().Return(shared.NodeID{7}).AnyTimes()
	var signed []byte
	signer.EXPECT().Sign(gomock.Any()).DoAndReturn(func(digest []byte) ([]byte, error) {
		signed = digest
		return []byte{0xaa}, nil
	})

	batch, err := aggregation.NewBuilder(signer, aggregation.WithSampleSize(2)).Build(context.Background(), 1, genReceipts(5))
	require.NoError(t, err)
	require.Len(t, batch.SampleProofs, 2)
	require.Equal(t, batch.SummaryHash[:], signed)
	require.Equal(t, shared.HexBytes{0xaa}, batch.AggregatorSig)
}
