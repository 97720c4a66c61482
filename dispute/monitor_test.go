package dispute

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spacemeshos/pose/aggregation"
	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/signing"
)

func genReceipts(epoch uint64, n int) []shared.VerifiedReceipt {
	receipts := make([]shared.VerifiedReceipt, n)
	for i := range receipts {
		id := shared.HashConcat(shared.U64(epoch), shared.U64(uint64(i)))
		receipts[i].Challenge.ChallengeID = id
		receipts[i].Challenge.EpochID = epoch
		receipts[i].Receipt.ChallengeID = id
		receipts[i].Receipt.ResponseAtMs = uint64(i)
	}
	return receipts
}

type monitorFixture struct {
	ctx     context.Context
	log     *EventLog
	monitor *Monitor
	builder *aggregation.Builder
}

func newMonitorFixture(t *testing.T) *monitorFixture {
	signer, err := signing.GenerateEdSigner(rand.Reader)
	require.NoError(t, err)
	log := NewEventLog(100)
	return &monitorFixture{
		ctx:     logging.NewContext(context.Background(), zaptest.NewLogger(t)),
		log:     log,
		monitor: NewMonitor(log, aggregation.DefaultSampleSize),
		builder: aggregation.NewBuilder(signer),
	}
}

func (f *monitorFixture) build(t *testing.T, epoch uint64, receipts []shared.VerifiedReceipt) *shared.ReceiptBatch {
	batch, err := f.builder.Build(f.ctx, epoch, receipts)
	require.NoError(t, err)
	return batch
}

func flagTypes(flags []Flag) []FlagType {
	out := make([]FlagType, len(flags))
	for i, f := range flags {
		out[i] = f.Type
	}
	return out
}

func TestMonitorAcceptsHonestBatch(t *testing.T) {
	f := newMonitorFixture(t)
	receipts := genReceipts(1, 10)
	f.monitor.IngestReceipts(1, receipts)
	batch := f.build(t, 1, receipts)

	flags, processed := f.monitor.ProcessBatch(f.ctx, batch, 500)
	require.True(t, processed)
	require.Empty(t, flags)
	require.Equal(t, StatusAccepted, f.monitor.Status(batch.ID(), 1))
	require.Equal(t, map[EventType]int{EventBatchAccepted: 1}, f.log.Summary())

	require.NoError(t, f.monitor.Finalize(batch.ID(), 1, 600))
	require.NoError(t, f.monitor.Finalize(batch.ID(), 1, 700))
	require.Equal(t, StatusFinalized, f.monitor.Status(batch.ID(), 1))
	require.Len(t, f.log.Query(Filter{Type: EventBatchFinalized}), 1)
}

func TestMonitorProcessesBatchOnce(t *testing.T) {
	f := newMonitorFixture(t)
	batch := f.build(t, 2, genReceipts(2, 3))

	flags, processed := f.monitor.ProcessBatch(f.ctx, batch, 0)
	require.True(t, processed)
	require.Equal(t, []FlagType{FlagNoLocalReceipts}, flagTypes(flags))

	flags, processed = f.monitor.ProcessBatch(f.ctx, batch, 0)
	require.False(t, processed)
	require.Empty(t, flags)
	require.Len(t, f.log.Query(Filter{Type: EventDisputeFlag}), 1)
}

func TestMonitorRootWithoutReceipts(t *testing.T) {
	f := newMonitorFixture(t)
	f.monitor.IngestReceipts(3, nil)
	batch := f.build(t, 3, genReceipts(3, 4))

	flags, _ := f.monitor.ProcessBatch(f.ctx, batch, 0)
	require.Equal(t, []FlagType{FlagRootWithoutReceipts}, flagTypes(flags))
	require.Equal(t, StatusDisputed, f.monitor.Status(batch.ID(), 3))
	require.ErrorIs(t, f.monitor.Finalize(batch.ID(), 3, 0), ErrBatchDisputed)
}

func TestMonitorSummaryMismatch(t *testing.T) {
	f := newMonitorFixture(t)
	receipts := genReceipts(4, 6)
	f.monitor.IngestReceipts(4, receipts)
	batch := f.build(t, 4, receipts)
	batch.SummaryHash = shared.Hash32{0xff}

	flags, _ := f.monitor.ProcessBatch(f.ctx, batch, 0)
	require.Equal(t, []FlagType{FlagSummaryMismatch}, flagTypes(flags))
	events := f.log.Query(Filter{Type: EventDisputeFlag})
	require.Len(t, events, 1)
	require.Equal(t, batch.AggregatorID, events[0].NodeID)
	require.Equal(t, string(FlagSummaryMismatch), events[0].Reason)
}

func TestMonitorMissingReceipt(t *testing.T) {
	f := newMonitorFixture(t)
	receipts := genReceipts(5, 6)
	f.monitor.IngestReceipts(5, receipts)
	batch := f.build(t, 5, receipts[:4])

	flags, _ := f.monitor.ProcessBatch(f.ctx, batch, 0)
	require.Equal(t, []FlagType{FlagMissingReceipt, FlagMissingReceipt}, flagTypes(flags))
	omitted := []shared.Hash32{flags[0].Receipt.Challenge.ChallengeID, flags[1].Receipt.Challenge.ChallengeID}
	require.ElementsMatch(t, []shared.Hash32{receipts[4].Challenge.ChallengeID, receipts[5].Challenge.ChallengeID}, omitted)
}

func TestMonitorFinalizeUnknown(t *testing.T) {
	f := newMonitorFixture(t)
	require.ErrorIs(t, f.monitor.Finalize(shared.Hash32{1}, 1, 0), ErrUnknownBatch)
}

func TestMonitorPrune(t *testing.T) {
	f := newMonitorFixture(t)
	f.monitor.IngestReceipts(1, genReceipts(1, 2))
	f.monitor.IngestReceipts(2, genReceipts(2, 3))
	old := f.build(t, 1, genReceipts(1, 2))
	kept := f.build(t, 2, genReceipts(2, 3))
	_, processed := f.monitor.ProcessBatch(f.ctx, old, 0)
	require.True(t, processed)
	_, processed = f.monitor.ProcessBatch(f.ctx, kept, 0)
	require.True(t, processed)

	f.monitor.PruneEpochsBefore(2)
	require.Zero(t, f.monitor.LocalReceipts(1))
	require.Equal(t, 3, f.monitor.LocalReceipts(2))
	require.Equal(t, StatusUnknown, f.monitor.Status(old.ID(), 1))
	require.Equal(t, StatusAccepted, f.monitor.Status(kept.ID(), 2))

	// a pruned epoch is not checked again
	flags, processed := f.monitor.ProcessBatch(f.ctx, old, 0)
	require.False(t, processed)
	require.Empty(t, flags)
	require.Equal(t, StatusUnknown, f.monitor.Status(old.ID(), 1))
	require.Len(t, f.log.Query(Filter{Type: EventBatchAccepted}), 2)

	// pruning never moves back
	f.monitor.PruneEpochsBefore(1)
	_, processed = f.monitor.ProcessBatch(f.ctx, old, 0)
	require.False(t, processed)
}
