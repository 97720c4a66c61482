package aggregation

import (
	"errors"
	"fmt"

	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/signing"
)

var (
	ErrRootMismatch         = errors.New("merkle root does not match leaves")
	ErrSampleMismatch       = errors.New("sample set differs from the deterministic draw")
	ErrInvalidSampleProof   = errors.New("invalid sample proof")
	ErrSummaryMismatch      = errors.New("summary hash mismatch")
	ErrInvalidAggregatorSig = errors.New("invalid aggregator signature")
)

// RecomputeSummary derives the summary hash of a batch from its leaves alone,
// ignoring the disclosed root and samples.
func RecomputeSummary(batch *shared.ReceiptBatch, sampleSize int) (shared.Hash32, error) {
	if len(batch.LeafHashes) == 0 {
		return shared.Hash32{}, ErrEmptyBatch
	}
	root, err := shared.BuildMerkleRoot(batch.LeafHashes)
	if err != nil {
		return shared.Hash32{}, err
	}
	proofs, err := SampleProofs(batch.EpochID, batch.LeafHashes, sampleSize)
	if err != nil {
		return shared.Hash32{}, err
	}
	return SummaryHash(batch.EpochID, root, RollingCommitment(proofs), len(proofs)), nil
}

// VerifyBatch checks a batch received from an aggregator: the root against
// the leaves, every sample against the deterministic draw and the root, the
// summary, and the aggregator signature over it.
func VerifyBatch(batch *shared.ReceiptBatch, verifier signing.Verifier, sampleSize int) error {
	if len(batch.LeafHashes) == 0 {
		return ErrEmptyBatch
	}
	root, err := shared.BuildMerkleRoot(batch.LeafHashes)
	if err != nil {
		return err
	}
	if root != batch.MerkleRoot {
		return fmt.Errorf("%w: expected %s, got %s", ErrRootMismatch, root, batch.MerkleRoot)
	}

	indexes, err := SampleIndexes(batch.EpochID, len(batch.LeafHashes), sampleSize)
	if err != nil {
		return err
	}
	if len(indexes) != len(batch.SampleProofs) {
		return fmt.Errorf("%w: expected %d samples, got %d", ErrSampleMismatch, len(indexes), len(batch.SampleProofs))
	}
	for i, p := range batch.SampleProofs {
		if p.LeafIndex != uint64(indexes[i]) || p.Leaf != batch.LeafHashes[indexes[i]] {
			return fmt.Errorf("%w: sample %d", ErrSampleMismatch, i)
		}
		if !shared.VerifyMerkleProof(batch.MerkleRoot, p.Leaf, p.MerkleProof) {
			return fmt.Errorf("%w: leaf %d", ErrInvalidSampleProof, p.LeafIndex)
		}
	}

	summary := SummaryHash(batch.EpochID, batch.MerkleRoot, RollingCommitment(batch.SampleProofs), len(batch.SampleProofs))
	if summary != batch.SummaryHash {
		return fmt.Errorf("%w: expected %s, got %s", ErrSummaryMismatch, summary, batch.SummaryHash)
	}
	if !verifier.Verify(batch.AggregatorID, summary[:], batch.AggregatorSig) {
		return ErrInvalidAggregatorSig
	}
	return nil
}
