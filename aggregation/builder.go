package aggregation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/signing"
)

// DefaultSampleSize is the number of leaves disclosed with a proof in every batch.
const DefaultSampleSize = 8

var ErrEmptyBatch = errors.New("cannot build a batch without receipts")

// Builder folds an epoch's verified receipts into a signed ReceiptBatch.
type Builder struct {
	signer     signing.Signer
	sampleSize int
}

type BuilderOption func(*Builder)

func WithSampleSize(n int) BuilderOption {
	return func(b *Builder) {
		b.sampleSize = n
	}
}

func NewBuilder(signer signing.Signer, opts ...BuilderOption) *Builder {
	b := &Builder{
		signer:     signer,
		sampleSize: DefaultSampleSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) SampleSize() int {
	return b.sampleSize
}

// LeafHash = hash(challengeId || nodeId || u64be(responseAtMs) || responseBodyHash).
func LeafHash(r *shared.VerifiedReceipt) shared.Hash32 {
	return shared.HashConcat(
		r.Receipt.ChallengeID[:],
		r.Receipt.NodeID[:],
		shared.U64(r.Receipt.ResponseAtMs),
		r.ResponseBodyHash[:],
	)
}

// LeafHashes returns the leaves of receipts in order.
func LeafHashes(receipts []shared.VerifiedReceipt) []shared.Hash32 {
	leaves := make([]shared.Hash32, len(receipts))
	for i := range receipts {
		leaves[i] = LeafHash(&receipts[i])
	}
	return leaves
}

// SampleIndexes picks the disclosed leaves. The seed is the epoch id alone so
// every honest aggregator picks the same set.
func SampleIndexes(epochID uint64, leafCount, sampleSize int) ([]int, error) {
	return shared.DrawIndexes(shared.U64(epochID), leafCount, sampleSize)
}

// SampleProofs builds the proofs of the sampled leaves, in index order.
func SampleProofs(epochID uint64, leaves []shared.Hash32, sampleSize int) ([]shared.SampleProof, error) {
	indexes, err := SampleIndexes(epochID, len(leaves), sampleSize)
	if err != nil {
		return nil, err
	}
	proofs := make([]shared.SampleProof, 0, len(indexes))
	for _, idx := range indexes {
		path, err := shared.BuildMerkleProof(leaves, idx)
		if err != nil {
			return nil, err
		}
		proofs = append(proofs, shared.SampleProof{
			Leaf:        leaves[idx],
			LeafIndex:   uint64(idx),
			MerkleProof: path,
		})
	}
	return proofs, nil
}

// RollingCommitment chains hash(prev || u64be(leafIndex) || leaf) over the
// proofs, starting from 32 zero bytes.
func RollingCommitment(proofs []shared.SampleProof) shared.Hash32 {
	var rolling shared.Hash32
	for _, p := range proofs {
		rolling = shared.HashConcat(rolling[:], shared.U64(p.LeafIndex), p.Leaf[:])
	}
	return rolling
}

// SummaryHash = hash(u64be(epochId) || root || rolling || u64be(sampleCount)).
func SummaryHash(epochID uint64, root, rolling shared.Hash32, sampleCount int) shared.Hash32 {
	return shared.HashConcat(shared.U64(epochID), root[:], rolling[:], shared.U64(uint64(sampleCount)))
}

// Build commits to receipts in the given order and signs the summary.
func (b *Builder) Build(ctx context.Context, epochID uint64, receipts []shared.VerifiedReceipt) (*shared.ReceiptBatch, error) {
	if len(receipts) == 0 {
		return nil, ErrEmptyBatch
	}
	leaves := LeafHashes(receipts)
	root, err := shared.BuildMerkleRoot(leaves)
	if err != nil {
		return nil, err
	}
	proofs, err := SampleProofs(epochID, leaves, b.sampleSize)
	if err != nil {
		return nil, fmt.Errorf("sampling epoch %d: %w", epochID, err)
	}
	summary := SummaryHash(epochID, root, RollingCommitment(proofs), len(proofs))
	sig, err := signing.SignDigest(b.signer, summary)
	if err != nil {
		return nil, fmt.Errorf("signing batch of epoch %d: %w", epochID, err)
	}

	batch := &shared.ReceiptBatch{
		EpochID:       epochID,
		AggregatorID:  b.signer.NodeID(),
		MerkleRoot:    root,
		SummaryHash:   summary,
		LeafHashes:    leaves,
		SampleProofs:  proofs,
		AggregatorSig: sig,
	}
	batchSizeMetric.Observe(float64(len(leaves)))
	logging.FromContext(ctx).Info("built receipt batch",
		zap.Uint64("epoch", epochID),
		zap.Int("receipts", len(leaves)),
		zap.Int("samples", len(proofs)),
		zap.Stringer("root", root),
	)
	return batch, nil
}
