// Package service holds the PoSe context object.
//
// A Service owns every registry of the settlement core for the lifetime of
// the process: issuance quotas, consumed nonces, issued challenges, per-epoch
// receipts, penalties, streaks and the dispute log. All calls are serialized
// by a single mutex, the core components themselves do no locking.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/spacemeshos/pose/aggregation"
	"github.com/spacemeshos/pose/challenge"
	"github.com/spacemeshos/pose/dispute"
	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/receipt"
	"github.com/spacemeshos/pose/rewards"
	"github.com/spacemeshos/pose/roles"
	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/signing"
	"github.com/spacemeshos/pose/util"
)

var (
	ErrNoEpoch              = errors.New("no epoch has been started")
	ErrEpochStarted         = errors.New("epoch already started")
	ErrStaleEpoch           = errors.New("epoch is older than the current one")
	ErrUnknownEpoch         = errors.New("unknown epoch")
	ErrEpochClosed          = errors.New("epoch is closed")
	ErrNotChallenger        = errors.New("local node is not the challenger of the epoch")
	ErrNodePenalized        = errors.New("node is penalized")
	ErrUnknownChallenge     = errors.New("unknown challenge")
	ErrInvalidBatch         = errors.New("invalid batch")
	ErrUnexpectedAggregator = errors.New("batch was not built by the epoch aggregator")
)

type epochState struct {
	id         uint64
	blockHash  shared.Hash32
	validators []shared.NodeID
	roles      roles.Assignment
	receipts   []shared.VerifiedReceipt
	closed     bool
	batch      *shared.ReceiptBatch
}

type issuedChallenge struct {
	challenge *shared.ChallengeMessage
	answered  bool
	// digest of the accepted receipt
	accepted     shared.Hash32
	timedOut     bool
	sigPenalized bool
}

func receiptDigest(rc *shared.ReceiptMessage) shared.Hash32 {
	body := rc.ResponseBody.Hash()
	return shared.HashConcat(rc.ChallengeID[:], rc.NodeID[:], shared.U64(rc.ResponseAtMs), body[:], rc.NodeSig)
}

// IssueRequest asks for a challenge to node in the current epoch.
type IssueRequest struct {
	NodeID    shared.NodeID
	Type      shared.ChallengeType
	QuerySpec shared.Body
}

// Submission is the outcome of a submitted receipt. Evidence and Penalty are
// set only when the rejection was penalized.
type Submission struct {
	Result   receipt.Result
	Evidence *dispute.SlashEvidence
	Penalty  *dispute.NodePenaltyState
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	signer signing.Signer
	sigs   signing.Verifier
	now    func() time.Time

	quota     *challenge.Quota
	factory   *challenge.Factory
	nonces    receipt.NonceRegistry
	verifier  *receipt.Verifier
	builder   *aggregation.Builder
	store     *aggregation.Store
	penalties *dispute.PenaltyTracker
	streaks   *rewards.Tracker
	events    *dispute.EventLog
	monitor   *dispute.Monitor

	// challenge id -> *issuedChallenge
	issued *lru.Cache

	epochs  map[uint64]*epochState
	current *epochState
}

type newServiceOptionFunc func(*newServiceOptions)

type newServiceOptions struct {
	cfg      Config
	verifier signing.Verifier
	now      func() time.Time
	rand     io.Reader
}

func WithConfig(cfg Config) newServiceOptionFunc {
	return func(opts *newServiceOptions) {
		opts.cfg = cfg
	}
}

// WithVerifier replaces the ed25519 signature verifier.
func WithVerifier(v signing.Verifier) newServiceOptionFunc {
	return func(opts *newServiceOptions) {
		opts.verifier = v
	}
}

func WithClock(now func() time.Time) newServiceOptionFunc {
	return func(opts *newServiceOptions) {
		opts.now = now
	}
}

// WithRandReader replaces the source of challenge nonces.
func WithRandReader(r io.Reader) newServiceOptionFunc {
	return func(opts *newServiceOptions) {
		opts.rand = r
	}
}

// New opens the service. Batches are stored under dbdir; quotas and nonces are
// persisted only when their log paths are configured.
func New(ctx context.Context, dbdir string, signer signing.Signer, opts ...newServiceOptionFunc) (svc *Service, err error) {
	options := newServiceOptions{
		cfg:      DefaultConfig(),
		verifier: signing.EdVerifier{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}
	cfg := options.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		signer:    signer,
		sigs:      options.verifier,
		now:       options.now,
		penalties: dispute.NewPenaltyTracker(cfg.Penalty),
		streaks:   rewards.NewTracker(),
		events:    dispute.NewEventLog(cfg.Dispute.EventLogCapacity),
		epochs:    make(map[uint64]*epochState),
	}
	s.monitor = dispute.NewMonitor(s.events, cfg.Batch.SampleSize)
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	logger := logging.FromContext(ctx)
	if cfg.Challenge.QuotaLog != "" {
		s.quota, err = challenge.OpenPersistentQuota(cfg.Challenge.QuotaLog, cfg.Challenge, util.WithClock(s.now))
		if err != nil {
			return nil, fmt.Errorf("opening quota: %w", err)
		}
		logger.Info("loaded persisted quota", zap.String("path", cfg.Challenge.QuotaLog))
	} else {
		s.quota = challenge.NewQuota(cfg.Challenge)
	}

	if cfg.Receipt.NonceLog != "" {
		nonces, err := receipt.NewPersistentNonceRegistry(
			cfg.Receipt.NonceLog,
			cfg.Receipt.NonceLogTTL,
			cfg.Receipt.NonceLogMaxEntries,
			util.WithClock(s.now),
		)
		if err != nil {
			return nil, fmt.Errorf("opening nonce registry: %w", err)
		}
		s.nonces = nonces
		logger.Info("loaded persisted nonces", zap.String("path", cfg.Receipt.NonceLog), zap.Int("count", nonces.Len()))
	} else {
		s.nonces = receipt.NewMemoryNonceRegistry()
	}

	s.store, err = aggregation.OpenStore(filepath.Join(dbdir, "batches"))
	if err != nil {
		return nil, fmt.Errorf("opening batch store: %w", err)
	}

	s.issued, err = lru.New(cfg.Receipt.IssuedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating issued challenges cache: %w", err)
	}

	factoryOpts := []challenge.FactoryOption{challenge.WithConfig(cfg.Challenge)}
	if options.rand != nil {
		factoryOpts = append(factoryOpts, challenge.WithRandReader(options.rand))
	}
	s.factory = challenge.NewFactory(signer, factoryOpts...)
	s.verifier = receipt.NewVerifier(s.nonces, s.sigs, receipt.WithDefaultValidators(), receipt.WithClock(s.now))
	s.builder = aggregation.NewBuilder(signer, aggregation.WithSampleSize(cfg.Batch.SampleSize))

	logger.Info("pose service created", zap.String("node", signer.NodeID().ShortString()), zap.Object("config", cfg))
	return s, nil
}

func (s *Service) Close() error {
	var result *multierror.Error
	if s.quota != nil {
		if err := s.quota.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing quota: %w", err))
		}
	}
	if s.nonces != nil {
		if err := s.nonces.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing nonce registry: %w", err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing batch store: %w", err))
		}
	}
	return result.ErrorOrNil()
}

func (s *Service) NodeID() shared.NodeID {
	return s.signer.NodeID()
}

func (s *Service) nowMs() uint64 {
	return uint64(s.now().UnixMilli())
}

// StartEpoch makes epoch the current one and derives its roles.
// Epochs only move forward.
func (s *Service) StartEpoch(
	ctx context.Context,
	epoch uint64,
	blockHash shared.Hash32,
	validators []shared.NodeID,
) (roles.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		switch {
		case epoch == s.current.id:
			return roles.Assignment{}, fmt.Errorf("%w: %d", ErrEpochStarted, epoch)
		case epoch < s.current.id:
			return roles.Assignment{}, fmt.Errorf("%w: %d < %d", ErrStaleEpoch, epoch, s.current.id)
		}
	}
	assignment, err := roles.AssignEpochRoles(epoch, blockHash, validators)
	if err != nil {
		return roles.Assignment{}, err
	}
	st := &epochState{
		id:         epoch,
		blockHash:  blockHash,
		validators: append([]shared.NodeID(nil), validators...),
		roles:      assignment,
	}
	s.epochs[epoch] = st
	s.current = st
	s.pruneBefore(ctx, epoch)

	self := s.signer.NodeID()
	logging.FromContext(ctx).Info("epoch started",
		zap.Uint64("epoch", epoch),
		zap.String("challenger", assignment.Challenger.ShortString()),
		zap.String("aggregator", assignment.Aggregator.ShortString()),
		zap.Bool("is_challenger", assignment.Has(self, roles.Challenger)),
		zap.Bool("is_aggregator", assignment.Has(self, roles.Aggregator)),
	)
	return assignment, nil
}

func (s *Service) pruneBefore(ctx context.Context, epoch uint64) {
	keep := s.cfg.Dispute.KeepEpochs
	if keep == 0 || epoch < keep {
		return
	}
	cutoff := epoch - keep
	for id := range s.epochs {
		if id < cutoff {
			delete(s.epochs, id)
		}
	}
	s.monitor.PruneEpochsBefore(cutoff)
	if n := s.quota.PruneEpochsBefore(cutoff); n > 0 {
		logging.FromContext(ctx).Debug("pruned quota counters", zap.Uint64("before", cutoff), zap.Int("count", n))
	}
}

// Assignment returns the roles of a retained epoch.
func (s *Service) Assignment(epoch uint64) (roles.Assignment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.epochs[epoch]
	if !ok {
		return roles.Assignment{}, false
	}
	return st.roles, true
}

// IssueChallenge builds a challenge for the current epoch. A quota or rate
// rejection is returned as a reason with a nil challenge and nil error.
func (s *Service) IssueChallenge(ctx context.Context, req IssueRequest) (*shared.ChallengeMessage, challenge.Reason, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.current
	switch {
	case st == nil:
		return nil, challenge.ReasonNone, ErrNoEpoch
	case st.closed:
		return nil, challenge.ReasonNone, fmt.Errorf("%w: %d", ErrEpochClosed, st.id)
	case !req.Type.Valid():
		return nil, challenge.ReasonNone, fmt.Errorf("%w: %d", challenge.ErrInvalidType, uint8(req.Type))
	case !roles.CanRunForRole(s.signer.NodeID(), roles.Challenger, st.id, st.blockHash, st.validators):
		return nil, challenge.ReasonNone, fmt.Errorf("%w: %d", ErrNotChallenger, st.id)
	}

	nowMs := s.nowMs()
	if s.penalties.IsPenalized(req.NodeID, nowMs) {
		return nil, challenge.ReasonNone, fmt.Errorf("%w: %s", ErrNodePenalized, req.NodeID)
	}
	if ok, reason := s.quota.CanIssue(req.NodeID, st.id, req.Type, nowMs); !ok {
		return nil, reason, nil
	}

	msg, err := s.factory.Build(ctx, challenge.Params{
		EpochID:         st.id,
		NodeID:          req.NodeID,
		Type:            req.Type,
		EpochRandomness: st.blockHash[:],
		IssuedAtMs:      nowMs,
		QuerySpec:       req.QuerySpec,
	})
	if err != nil {
		return nil, challenge.ReasonNone, err
	}
	if err := s.quota.CommitIssue(req.NodeID, st.id, req.Type, nowMs); err != nil {
		return nil, challenge.ReasonNone, fmt.Errorf("committing quota: %w", err)
	}
	s.issued.Add(msg.ChallengeID, &issuedChallenge{challenge: msg})

	logging.FromContext(ctx).Debug("challenge issued",
		zap.Stringer("challenge", msg.ChallengeID),
		zap.String("node", req.NodeID.ShortString()),
		zap.Stringer("type", req.Type),
		zap.Uint64("epoch", st.id),
	)
	return msg, challenge.ReasonNone, nil
}

// Challenge returns a recently issued challenge.
func (s *Service) Challenge(id shared.Hash32) (*shared.ChallengeMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.issued.Peek(id)
	if !ok {
		return nil, false
	}
	return v.(*issuedChallenge).challenge, true
}

// SubmitReceipt verifies rc against the challenge it answers. Accepted
// receipts are kept for the epoch's batch. Rejections the node is accountable
// for produce slashing evidence and a penalty.
func (s *Service) SubmitReceipt(ctx context.Context, rc *shared.ReceiptMessage) (*Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.issued.Get(rc.ChallengeID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChallenge, rc.ChallengeID)
	}
	entry := v.(*issuedChallenge)
	ch := entry.challenge

	res, err := s.verifier.Verify(ctx, ch, rc)
	if err != nil {
		return nil, err
	}
	sub := &Submission{Result: res}
	logger := logging.FromContext(ctx).With(
		zap.Stringer("challenge", ch.ChallengeID),
		zap.String("node", ch.NodeID.ShortString()),
	)

	if res.OK {
		entry.answered = true
		entry.accepted = receiptDigest(rc)
		st, ok := s.epochs[ch.EpochID]
		if !ok || st.closed {
			logger.Warn("verified receipt arrived after its epoch was closed", zap.Uint64("epoch", ch.EpochID))
			return sub, nil
		}
		st.receipts = append(st.receipts, *res.Receipt)
		logger.Debug("receipt accepted", zap.Uint64("epoch", ch.EpochID))
		return sub, nil
	}

	code, penalize := dispute.ReasonForRejection(res.Reason)
	if !penalize {
		return sub, nil
	}
	// A timeout or a bad signature is charged once per challenge. Resending
	// the receipt that was accepted is not charged as a replay.
	switch code {
	case dispute.ReasonTimeout:
		if entry.timedOut {
			return sub, nil
		}
		entry.timedOut = true
	case dispute.ReasonInvalidSignature:
		if entry.sigPenalized {
			return sub, nil
		}
		entry.sigPenalized = true
	case dispute.ReasonReplay:
		if entry.answered && entry.accepted == receiptDigest(rc) {
			logger.Debug("accepted receipt resubmitted")
			return sub, nil
		}
	}
	ev, err := dispute.BuildEvidence(code, dispute.EvidenceInput{Challenge: ch, Receipt: rc})
	if err != nil {
		return nil, err
	}
	state := s.recordPenalty(ctx, ev, ch.EpochID)
	sub.Evidence = ev
	sub.Penalty = &state
	return sub, nil
}

func (s *Service) recordPenalty(ctx context.Context, ev *dispute.SlashEvidence, epoch uint64) dispute.NodePenaltyState {
	nowMs := s.nowMs()
	state, tr := s.penalties.RecordPenalty(ev.NodeID, ev.Reason, ev.EvidenceHash, nowMs)
	if !tr.Recorded {
		return state
	}
	event := dispute.Event{
		Type:    dispute.EventSlash,
		NodeID:  ev.NodeID,
		EpochID: epoch,
		AtMs:    nowMs,
		Reason:  string(ev.Reason),
		Ref:     ev.EvidenceHash,
	}
	s.events.Append(event)

	logger := logging.FromContext(ctx).With(zap.String("node", ev.NodeID.ShortString()))
	logger.Info("penalty recorded",
		zap.String("reason", string(ev.Reason)),
		zap.Stringer("evidence", ev.EvidenceHash),
		zap.Uint64("points", state.TotalPoints),
	)
	if tr.NowSuspended {
		event.Type = dispute.EventSuspended
		s.events.Append(event)
		logger.Warn("node suspended", zap.Uint64("until_ms", state.SuspendedUntilMs))
	}
	if tr.NowEjected {
		event.Type = dispute.EventEjected
		s.events.Append(event)
		logger.Warn("node ejected")
	}
	return state
}

// SweepTimeouts penalizes every remembered challenge that was neither
// answered nor already penalized and whose deadline passed before nowMs.
func (s *Service) SweepTimeouts(ctx context.Context, nowMs uint64) ([]*dispute.SlashEvidence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evidence []*dispute.SlashEvidence
	for _, key := range s.issued.Keys() {
		v, ok := s.issued.Peek(key)
		if !ok {
			continue
		}
		entry := v.(*issuedChallenge)
		if entry.answered || entry.timedOut || nowMs <= entry.challenge.ExpiresAtMs() {
			continue
		}
		ev, err := dispute.BuildEvidence(dispute.ReasonTimeout, dispute.EvidenceInput{Challenge: entry.challenge})
		if err != nil {
			return evidence, err
		}
		entry.timedOut = true
		s.recordPenalty(ctx, ev, entry.challenge.EpochID)
		timeoutsMetric.Inc()
		evidence = append(evidence, ev)
	}
	if len(evidence) > 0 {
		logging.FromContext(ctx).Info("swept unanswered challenges", zap.Int("count", len(evidence)))
	}
	return evidence, nil
}

// CloseEpoch stops accepting receipts for epoch and hands them to the dispute
// monitor. When the local node aggregates the epoch, the batch is built and
// stored. Closing an epoch twice returns the same batch.
func (s *Service) CloseEpoch(ctx context.Context, epoch uint64) (*shared.ReceiptBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.epochs[epoch]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEpoch, epoch)
	}
	if st.closed {
		return st.batch, nil
	}
	logger := logging.FromContext(ctx).With(zap.Uint64("epoch", epoch), zap.Int("receipts", len(st.receipts)))

	aggregator := roles.CanRunForRole(s.signer.NodeID(), roles.Aggregator, st.id, st.blockHash, st.validators)
	if aggregator && len(st.receipts) > 0 {
		batch, err := s.builder.Build(ctx, epoch, st.receipts)
		if err != nil {
			return nil, err
		}
		if err := s.store.Save(ctx, batch); err != nil {
			return nil, err
		}
		st.batch = batch
		logger.Info("epoch batch built", zap.Stringer("batch", batch.ID()), zap.Stringer("root", batch.MerkleRoot))
	}
	st.closed = true
	s.monitor.IngestReceipts(epoch, st.receipts)
	logger.Info("epoch closed", zap.Bool("aggregator", aggregator))
	return st.batch, nil
}

// ProcessBatch checks a batch published by an aggregator. Batches whose
// signature does not verify are rejected with ErrInvalidBatch; any other
// problem is reported as a dispute flag. Aggregators that omitted locally
// verified receipts are penalized. processed is false for a batch seen before.
func (s *Service) ProcessBatch(ctx context.Context, batch *shared.ReceiptBatch) (flags []dispute.Flag, processed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sigs.Verify(batch.AggregatorID, batch.SummaryHash[:], batch.AggregatorSig) {
		return nil, false, fmt.Errorf("%w: %w", ErrInvalidBatch, aggregation.ErrInvalidAggregatorSig)
	}
	if st, ok := s.epochs[batch.EpochID]; ok &&
		!roles.CanRunForRole(batch.AggregatorID, roles.Aggregator, st.id, st.blockHash, st.validators) {
		return nil, false, fmt.Errorf("%w: %s", ErrUnexpectedAggregator, batch.AggregatorID)
	}

	flags, processed = s.monitor.ProcessBatch(ctx, batch, s.nowMs())
	if !processed {
		return nil, false, nil
	}
	for _, f := range flags {
		if f.Type != dispute.FlagMissingReceipt || f.Receipt == nil {
			continue
		}
		ev, err := dispute.BuildEvidence(dispute.ReasonMissingReceipt, dispute.EvidenceInput{
			Challenge: &f.Receipt.Challenge,
			Receipt:   &f.Receipt.Receipt,
			Offender:  &batch.AggregatorID,
		})
		if err != nil {
			return flags, true, err
		}
		s.recordPenalty(ctx, ev, batch.EpochID)
	}
	if len(flags) == 0 {
		if err := s.store.Save(ctx, batch); err != nil {
			return flags, true, err
		}
	}
	return flags, true, nil
}

// FinalizeBatch seals an accepted batch.
func (s *Service) FinalizeBatch(ctx context.Context, batchID shared.Hash32, epoch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.monitor.Finalize(batchID, epoch, s.nowMs()); err != nil {
		return err
	}
	logging.FromContext(ctx).Info("batch finalized", zap.Stringer("batch", batchID), zap.Uint64("epoch", epoch))
	return nil
}

func (s *Service) BatchStatus(batchID shared.Hash32, epoch uint64) dispute.BatchStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.monitor.Status(batchID, epoch)
}

// Batch loads a stored batch.
func (s *Service) Batch(ctx context.Context, epoch uint64, aggregator shared.NodeID) (*shared.ReceiptBatch, error) {
	return s.store.Get(ctx, epoch, aggregator)
}

// Batches loads every stored batch of epoch.
func (s *Service) Batches(ctx context.Context, epoch uint64) ([]*shared.ReceiptBatch, error) {
	return s.store.ListEpoch(ctx, epoch)
}

// ComputeRewards records the epoch in the streak tracker and splits pool among
// the nodes of stats. Penalized nodes are left out.
func (s *Service) ComputeRewards(
	ctx context.Context,
	epoch uint64,
	pool uint64,
	stats []rewards.NodeStats,
) (*rewards.EpochRewardResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := logging.FromContext(ctx).With(zap.Uint64("epoch", epoch))
	nowMs := s.nowMs()
	eligible := make([]rewards.NodeStats, 0, len(stats))
	for _, st := range stats {
		if s.penalties.IsPenalized(st.NodeID, nowMs) {
			logger.Info("penalized node excluded from rewards", zap.String("node", st.NodeID.ShortString()))
			continue
		}
		eligible = append(eligible, st)
	}

	// streaks are committed only once the rewards are computed
	streaks := s.streaks.Clone()
	for _, st := range eligible {
		streaks.Record(st.NodeID, epoch, st.UptimeBps)
	}
	result, err := rewards.ComputeEpochRewards(pool, streaks.ApplyMultipliers(eligible), s.cfg.Rewards)
	if err != nil {
		return nil, fmt.Errorf("computing rewards of epoch %d: %w", epoch, err)
	}
	s.streaks = streaks
	logger.Info("epoch rewards computed",
		zap.Uint64("pool", pool),
		zap.Int("nodes", len(result.Rewards)),
		zap.Int("capped", len(result.CappedNodes)),
		zap.Uint64("treasury", result.TreasuryOverflow),
	)
	return result, nil
}

// Penalty returns the penalty state of node with decay applied up to now.
func (s *Service) Penalty(node shared.NodeID) (dispute.NodePenaltyState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.penalties.ApplyDecay(node, s.nowMs())
}

func (s *Service) IsPenalized(node shared.NodeID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.penalties.IsPenalized(node, s.nowMs())
}

func (s *Service) Streak(node shared.NodeID) (rewards.NodeStreak, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaks.Streak(node)
}

func (s *Service) Disputes(filter dispute.Filter) []dispute.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Query(filter)
}

func (s *Service) DisputeSummary() map[dispute.EventType]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Summary()
}

// CurrentEpoch returns the last started epoch.
func (s *Service) CurrentEpoch() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return 0, false
	}
	return s.current.id, true
}
