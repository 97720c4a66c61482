package rewards

import (
	"github.com/spacemeshos/pose/shared"
)

const (
	// GoodEpochUptimeBps is the uptime score from which an epoch counts as good.
	GoodEpochUptimeBps = 8000
	// StreakRampEpochs good epochs in a row earn the full bonus.
	StreakRampEpochs = 10
	// MaxStreakBonusBps is the bonus on top of 1x at the end of the ramp.
	MaxStreakBonusBps = 5000
)

// NodeStreak counts a node's consecutive good or bad epochs.
type NodeStreak struct {
	ConsecutiveGoodEpochs uint64 `json:"consecutiveGoodEpochs"`
	ConsecutiveBadEpochs  uint64 `json:"consecutiveBadEpochs"`
	LastEpochID           uint64 `json:"lastEpochId"`
}

// MultiplierBps ramps from 1x to 1.5x over StreakRampEpochs good epochs.
func (s NodeStreak) MultiplierBps() uint64 {
	good := min(s.ConsecutiveGoodEpochs, StreakRampEpochs)
	return BpsDenominator + MaxStreakBonusBps*good/StreakRampEpochs
}

// Tracker keeps a streak per node. Each node is updated at most once per
// epoch and epochs only move forward.
type Tracker struct {
	streaks map[shared.NodeID]*NodeStreak
}

func NewTracker() *Tracker {
	return &Tracker{streaks: make(map[shared.NodeID]*NodeStreak)}
}

// Record folds the node's uptime of epoch into its streak. Epochs at or before
// the last recorded one are ignored and false is returned. Skipping an epoch
// breaks the streak.
func (t *Tracker) Record(node shared.NodeID, epoch, uptimeBps uint64) bool {
	s, ok := t.streaks[node]
	if !ok {
		s = &NodeStreak{}
		t.streaks[node] = s
	} else {
		if epoch <= s.LastEpochID {
			return false
		}
		if epoch != s.LastEpochID+1 {
			s.ConsecutiveGoodEpochs = 0
			s.ConsecutiveBadEpochs = 0
		}
	}

	if uptimeBps >= GoodEpochUptimeBps {
		s.ConsecutiveGoodEpochs++
		s.ConsecutiveBadEpochs = 0
	} else {
		s.ConsecutiveBadEpochs++
		s.ConsecutiveGoodEpochs = 0
	}
	s.LastEpochID = epoch
	return true
}

// Clone returns an independent copy. Updates can be staged on the copy and
// kept only if the caller succeeds.
func (t *Tracker) Clone() *Tracker {
	c := &Tracker{streaks: make(map[shared.NodeID]*NodeStreak, len(t.streaks))}
	for id, s := range t.streaks {
		cp := *s
		c.streaks[id] = &cp
	}
	return c
}

func (t *Tracker) Streak(node shared.NodeID) (NodeStreak, bool) {
	s, ok := t.streaks[node]
	if !ok {
		return NodeStreak{}, false
	}
	return *s, true
}

// MultiplierBps is 1x for unknown nodes.
func (t *Tracker) MultiplierBps(node shared.NodeID) uint64 {
	s, ok := t.streaks[node]
	if !ok {
		return BpsDenominator
	}
	return s.MultiplierBps()
}

// ApplyMultipliers sets each node's streak multiplier on a copy of stats.
func (t *Tracker) ApplyMultipliers(stats []NodeStats) []NodeStats {
	out := make([]NodeStats, len(stats))
	for i, s := range stats {
		s.MultiplierBps = t.MultiplierBps(s.NodeID)
		out[i] = s
	}
	return out
}
