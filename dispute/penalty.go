package dispute

import (
	"time"

	"github.com/spacemeshos/pose/shared"
)

const msPerHour = uint64(time.Hour / time.Millisecond)

func DefaultPenaltyConfig() PenaltyConfig {
	return PenaltyConfig{
		TimeoutPoints:             5,
		InvalidSignaturePoints:    15,
		ReplayPoints:              20,
		InvalidStorageProofPoints: 30,
		MissingReceiptPoints:      10,
		SuspendThreshold:          30,
		SuspendDuration:           time.Hour,
		EjectThreshold:            80,
		MaxRecords:                64,
		DecayPerHour:              2,
	}
}

//nolint:lll
type PenaltyConfig struct {
	TimeoutPoints             uint64 `long:"timeout-points"               description:"Penalty points for an unanswered or late challenge"`
	InvalidSignaturePoints    uint64 `long:"invalid-signature-points"     description:"Penalty points for a bad node signature"`
	ReplayPoints              uint64 `long:"replay-points"                description:"Penalty points for a replayed receipt"`
	InvalidStorageProofPoints uint64 `long:"invalid-storage-proof-points" description:"Penalty points for a failed storage proof"`
	MissingReceiptPoints      uint64 `long:"missing-receipt-points"       description:"Penalty points for an aggregator omitting a verified receipt"`

	SuspendThreshold uint64        `long:"suspend-threshold" description:"Points at which a node is suspended"`
	SuspendDuration  time.Duration `long:"suspend-duration"  description:"How long a suspension lasts"`
	EjectThreshold   uint64        `long:"eject-threshold"   description:"Points at which a node is ejected for good"`
	MaxRecords       int           `long:"max-records"       description:"Number of penalty records kept per node"`
	DecayPerHour     uint64        `long:"decay-per-hour"    description:"Points forgiven per hour without a new penalty"`
}

func (c PenaltyConfig) Points(reason ReasonCode) uint64 {
	switch reason {
	case ReasonTimeout:
		return c.TimeoutPoints
	case ReasonInvalidSignature:
		return c.InvalidSignaturePoints
	case ReasonReplay:
		return c.ReplayPoints
	case ReasonInvalidStorageProof:
		return c.InvalidStorageProofPoints
	case ReasonMissingReceipt:
		return c.MissingReceiptPoints
	}
	return 0
}

type PenaltyRecord struct {
	Reason       ReasonCode    `json:"reason"`
	Points       uint64        `json:"points"`
	AtMs         uint64        `json:"atMs,string"`
	EvidenceHash shared.Hash32 `json:"evidenceHash"`
}

// NodePenaltyState is changed only by RecordPenalty and ApplyDecay.
// An ejected node is frozen.
type NodePenaltyState struct {
	NodeID           shared.NodeID   `json:"nodeId"`
	TotalPoints      uint64          `json:"totalPoints"`
	Records          []PenaltyRecord `json:"records"`
	Suspended        bool            `json:"suspended"`
	SuspendedUntilMs uint64          `json:"suspendedUntilMs,string"`
	Ejected          bool            `json:"ejected"`
	LastRecordMs     uint64          `json:"lastRecordMs,string"`

	decayedUntilMs uint64
	evidence       map[shared.Hash32]struct{}
}

func (s *NodePenaltyState) clone() NodePenaltyState {
	c := *s
	c.Records = append([]PenaltyRecord(nil), s.Records...)
	c.evidence = nil
	return c
}

// Transition describes what a penalty changed.
type Transition struct {
	Recorded     bool
	NowSuspended bool
	NowEjected   bool
}

// PenaltyTracker accumulates penalty points per node.
// It is not safe for concurrent use.
type PenaltyTracker struct {
	cfg   PenaltyConfig
	nodes map[shared.NodeID]*NodePenaltyState
}

func NewPenaltyTracker(cfg PenaltyConfig) *PenaltyTracker {
	return &PenaltyTracker{
		cfg:   cfg,
		nodes: make(map[shared.NodeID]*NodePenaltyState),
	}
}

// RecordPenalty adds the points of reason to node. Penalties against an
// ejected node and evidence already counted for node are ignored. Pending
// decay up to nowMs is applied first.
func (p *PenaltyTracker) RecordPenalty(
	node shared.NodeID,
	reason ReasonCode,
	evidence shared.Hash32,
	nowMs uint64,
) (NodePenaltyState, Transition) {
	s, ok := p.nodes[node]
	if !ok {
		s = &NodePenaltyState{
			NodeID:   node,
			Records:  []PenaltyRecord{},
			evidence: make(map[shared.Hash32]struct{}),
		}
		p.nodes[node] = s
	}
	if _, dup := s.evidence[evidence]; dup || s.Ejected {
		return s.clone(), Transition{}
	}
	s.evidence[evidence] = struct{}{}
	p.decay(s, nowMs)

	points := p.cfg.Points(reason)
	s.TotalPoints += points
	s.Records = append(s.Records, PenaltyRecord{Reason: reason, Points: points, AtMs: nowMs, EvidenceHash: evidence})
	if p.cfg.MaxRecords > 0 && len(s.Records) > p.cfg.MaxRecords {
		s.Records = append(s.Records[:0:0], s.Records[len(s.Records)-p.cfg.MaxRecords:]...)
	}
	s.LastRecordMs = max(s.LastRecordMs, nowMs)
	s.decayedUntilMs = s.LastRecordMs
	penaltiesMetric.WithLabelValues(string(reason)).Inc()

	tr := Transition{Recorded: true}
	switch {
	case s.TotalPoints >= p.cfg.EjectThreshold:
		s.Ejected = true
		s.Suspended = false
		tr.NowEjected = true
		ejectedMetric.Inc()
	case s.TotalPoints >= p.cfg.SuspendThreshold:
		tr.NowSuspended = !s.Suspended
		s.Suspended = true
		s.SuspendedUntilMs = nowMs + uint64(p.cfg.SuspendDuration.Milliseconds())
	}
	return s.clone(), tr
}

// ApplyDecay forgives DecayPerHour points for every full hour since the last
// penalty or decay. Suspension ends once the points drop below the threshold
// or the suspension expires.
func (p *PenaltyTracker) ApplyDecay(node shared.NodeID, nowMs uint64) (NodePenaltyState, bool) {
	s, ok := p.nodes[node]
	if !ok {
		return NodePenaltyState{}, false
	}
	if !s.Ejected {
		p.decay(s, nowMs)
	}
	return s.clone(), true
}

func (p *PenaltyTracker) decay(s *NodePenaltyState, nowMs uint64) {
	if nowMs > s.decayedUntilMs && p.cfg.DecayPerHour > 0 {
		hours := (nowMs - s.decayedUntilMs) / msPerHour
		if hours > 0 {
			s.TotalPoints -= min(s.TotalPoints, hours*p.cfg.DecayPerHour)
			s.decayedUntilMs += hours * msPerHour
		}
	}
	if s.Suspended && (s.TotalPoints < p.cfg.SuspendThreshold || nowMs >= s.SuspendedUntilMs) {
		s.Suspended = false
	}
}

func (p *PenaltyTracker) State(node shared.NodeID) (NodePenaltyState, bool) {
	s, ok := p.nodes[node]
	if !ok {
		return NodePenaltyState{}, false
	}
	return s.clone(), true
}

// IsPenalized reports whether node is ejected or inside a suspension window.
func (p *PenaltyTracker) IsPenalized(node shared.NodeID, nowMs uint64) bool {
	s, ok := p.nodes[node]
	if !ok {
		return false
	}
	return s.Ejected || (s.Suspended && nowMs < s.SuspendedUntilMs)
}

func (p *PenaltyTracker) IsEjected(node shared.NodeID) bool {
	s, ok := p.nodes[node]
	return ok && s.Ejected
}

// Nodes lists every node with a penalty state.
func (p *PenaltyTracker) Nodes() []shared.NodeID {
	out := make([]shared.NodeID, 0, len(p.nodes))
	for id := range p.nodes {
		out = append(out, id)
	}
	return out
}
