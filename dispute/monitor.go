package dispute

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/spacemeshos/pose/aggregation"
	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/shared"
)

type FlagType string

const (
	// FlagNoLocalReceipts: a batch arrived for an epoch this node never observed.
	FlagNoLocalReceipts FlagType = "no_local_receipts"
	// FlagSummaryMismatch: the summary does not follow from the batch leaves.
	FlagSummaryMismatch FlagType = "summary_mismatch"
	// FlagRootWithoutReceipts: a non-empty root for an epoch with no local receipts.
	FlagRootWithoutReceipts FlagType = "root_without_receipts"
	// FlagMissingReceipt: a locally verified receipt is absent from the batch.
	FlagMissingReceipt FlagType = "missing_receipt"
)

type BatchStatus string

const (
	StatusUnknown   BatchStatus = ""
	StatusAccepted  BatchStatus = "accepted"
	StatusDisputed  BatchStatus = "disputed"
	StatusFinalized BatchStatus = "finalized"
)

var (
	ErrUnknownBatch  = errors.New("batch was never processed")
	ErrBatchDisputed = errors.New("disputed batch cannot be finalized")
)

// Flag is one finding against a batch.
type Flag struct {
	Type         FlagType      `json:"type"`
	EpochID      uint64        `json:"epochId,string"`
	BatchID      shared.Hash32 `json:"batchId"`
	AggregatorID shared.NodeID `json:"aggregatorId"`
	// Receipt is the omitted receipt of a FlagMissingReceipt.
	Receipt *shared.VerifiedReceipt `json:"receipt,omitempty"`
}

type batchKey struct {
	id    shared.Hash32
	epoch uint64
}

// Monitor cross-checks submitted batches against receipts verified locally.
// It is not safe for concurrent use.
type Monitor struct {
	sampleSize int
	log        *EventLog
	local      map[uint64]map[shared.Hash32]shared.VerifiedReceipt
	batches    map[batchKey]BatchStatus
	// batches of epochs below are no longer checked
	prunedBefore uint64
}

func NewMonitor(log *EventLog, sampleSize int) *Monitor {
	return &Monitor{
		sampleSize: sampleSize,
		log:        log,
		local:      make(map[uint64]map[shared.Hash32]shared.VerifiedReceipt),
		batches:    make(map[batchKey]BatchStatus),
	}
}

// IngestReceipts adds locally verified receipts of epoch. Ingesting an empty
// slice records that the epoch was observed without receipts.
func (m *Monitor) IngestReceipts(epoch uint64, receipts []shared.VerifiedReceipt) {
	leaves, ok := m.local[epoch]
	if !ok {
		leaves = make(map[shared.Hash32]shared.VerifiedReceipt, len(receipts))
		m.local[epoch] = leaves
	}
	for i := range receipts {
		leaves[aggregation.LeafHash(&receipts[i])] = receipts[i]
	}
}

// LocalReceipts returns the number of receipts ingested for epoch.
func (m *Monitor) LocalReceipts(epoch uint64) int {
	return len(m.local[epoch])
}

// ProcessBatch checks batch once. A batch already processed, finalized or
// disputed, or one of a pruned epoch, is skipped and reported with
// processed == false.
func (m *Monitor) ProcessBatch(ctx context.Context, batch *shared.ReceiptBatch, nowMs uint64) ([]Flag, bool) {
	key := batchKey{batch.ID(), batch.EpochID}
	if _, seen := m.batches[key]; seen || batch.EpochID < m.prunedBefore {
		return nil, false
	}

	flag := func(t FlagType) Flag {
		return Flag{Type: t, EpochID: batch.EpochID, BatchID: key.id, AggregatorID: batch.AggregatorID}
	}
	var flags []Flag
	local, observed := m.local[batch.EpochID]
	switch {
	case !observed:
		flags = append(flags, flag(FlagNoLocalReceipts))
	case len(local) == 0 && !batch.MerkleRoot.IsZero():
		flags = append(flags, flag(FlagRootWithoutReceipts))
	}

	summary, err := aggregation.RecomputeSummary(batch, m.sampleSize)
	if err != nil || summary != batch.SummaryHash {
		flags = append(flags, flag(FlagSummaryMismatch))
	}

	if len(local) > 0 {
		inBatch := make(map[shared.Hash32]struct{}, len(batch.LeafHashes))
		for _, leaf := range batch.LeafHashes {
			inBatch[leaf] = struct{}{}
		}
		var missing []Flag
		for leaf, rc := range local {
			rc := rc
			if _, ok := inBatch[leaf]; !ok {
				f := flag(FlagMissingReceipt)
				f.Receipt = &rc
				missing = append(missing, f)
			}
		}
		sort.Slice(missing, func(i, j int) bool {
			a, b := missing[i].Receipt.Challenge.ChallengeID, missing[j].Receipt.Challenge.ChallengeID
			return bytes.Compare(a[:], b[:]) < 0
		})
		flags = append(flags, missing...)
	}

	status := StatusAccepted
	if len(flags) > 0 {
		status = StatusDisputed
	}
	m.batches[key] = status

	logger := logging.FromContext(ctx).With(
		zap.Stringer("batch", key.id),
		zap.Uint64("epoch", batch.EpochID),
		zap.String("aggregator", batch.AggregatorID.ShortString()),
	)
	for _, f := range flags {
		flagsMetric.WithLabelValues(string(f.Type)).Inc()
		e := Event{
			Type:    EventDisputeFlag,
			NodeID:  batch.AggregatorID,
			EpochID: batch.EpochID,
			AtMs:    nowMs,
			Reason:  string(f.Type),
			Ref:     key.id,
		}
		if f.Receipt != nil {
			e.Ref = f.Receipt.Challenge.ChallengeID
		}
		m.log.Append(e)
		logger.Warn("batch flagged", zap.String("flag", string(f.Type)))
	}
	if status == StatusAccepted {
		m.log.Append(Event{Type: EventBatchAccepted, NodeID: batch.AggregatorID, EpochID: batch.EpochID, AtMs: nowMs, Ref: key.id})
		logger.Info("batch accepted")
	}
	return flags, true
}

// Finalize seals an accepted batch. Finalizing twice is a no-op.
func (m *Monitor) Finalize(batchID shared.Hash32, epoch uint64, nowMs uint64) error {
	key := batchKey{batchID, epoch}
	switch m.batches[key] {
	case StatusUnknown:
		return fmt.Errorf("%w: %s", ErrUnknownBatch, batchID)
	case StatusDisputed:
		return fmt.Errorf("%w: %s", ErrBatchDisputed, batchID)
	case StatusFinalized:
		return nil
	}
	m.batches[key] = StatusFinalized
	m.log.Append(Event{Type: EventBatchFinalized, EpochID: epoch, AtMs: nowMs, Ref: batchID})
	return nil
}

func (m *Monitor) Status(batchID shared.Hash32, epoch uint64) BatchStatus {
	return m.batches[batchKey{batchID, epoch}]
}

// PruneEpochsBefore drops local receipts and batch statuses of epochs older
// than epoch. Batches of those epochs are ignored from then on.
func (m *Monitor) PruneEpochsBefore(epoch uint64) {
	m.prunedBefore = max(m.prunedBefore, epoch)
	for e := range m.local {
		if e < epoch {
			delete(m.local, e)
		}
	}
	for key := range m.batches {
		if key.epoch < epoch {
			delete(m.batches, key)
		}
	}
}
