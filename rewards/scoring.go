package rewards

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/spacemeshos/pose/shared"
)

// MaxMultiplierBps bounds NodeStats.MultiplierBps (10x).
const MaxMultiplierBps = 100_000

var (
	ErrDuplicateNode     = errors.New("duplicate node in stats")
	ErrInvalidMultiplier = errors.New("multiplier out of range")
)

// NodeStats is one node's measured service over an epoch.
// Scores are in basis points and clamped to 10000.
type NodeStats struct {
	NodeID     shared.NodeID `json:"nodeId"`
	UptimeBps  uint64        `json:"uptimeBps"`
	StorageBps uint64        `json:"storageBps"`
	RelayBps   uint64        `json:"relayBps"`
	StorageGB  uint64        `json:"storageGb"`
	// MultiplierBps scales every weight of the node. Zero means 1x.
	MultiplierBps uint64 `json:"multiplierBps,omitempty"`
}

type BucketRewards struct {
	Uptime  uint64 `json:"uptime"`
	Storage uint64 `json:"storage"`
	Relay   uint64 `json:"relay"`
}

func (b BucketRewards) Total() uint64 {
	return b.Uptime + b.Storage + b.Relay
}

// EpochRewardResult always satisfies sum(Rewards) + TreasuryOverflow == pool.
type EpochRewardResult struct {
	Rewards          map[shared.NodeID]uint64 `json:"rewards"`
	BucketRewards    BucketRewards            `json:"bucketRewards"`
	CappedNodes      []shared.NodeID          `json:"cappedNodes"`
	TreasuryOverflow uint64                   `json:"treasuryOverflow"`
}

// Total is the sum of all node rewards.
func (r *EpochRewardResult) Total() uint64 {
	var total uint64
	for _, v := range r.Rewards {
		total += v
	}
	return total
}

type weighted struct {
	node   shared.NodeID
	weight uint64
}

func lessID(a, b shared.NodeID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// ComputeEpochRewards splits pool among nodes by uptime, storage and relay
// buckets and then enforces the soft cap.
func ComputeEpochRewards(pool uint64, stats []NodeStats, cfg Config) (*EpochRewardResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	res := &EpochRewardResult{
		Rewards:     make(map[shared.NodeID]uint64, len(stats)),
		CappedNodes: []shared.NodeID{},
	}
	for _, s := range stats {
		if _, ok := res.Rewards[s.NodeID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, s.NodeID)
		}
		if s.MultiplierBps > MaxMultiplierBps {
			return nil, fmt.Errorf("%w: %d bps for %s", ErrInvalidMultiplier, s.MultiplierBps, s.NodeID)
		}
		res.Rewards[s.NodeID] = 0
	}

	res.BucketRewards.Uptime = mulDiv(pool, cfg.UptimeBucketBps, BpsDenominator)
	res.BucketRewards.Storage = mulDiv(pool, cfg.StorageBucketBps, BpsDenominator)
	res.BucketRewards.Relay = pool - res.BucketRewards.Uptime - res.BucketRewards.Storage

	uptime := make([]weighted, 0, len(stats))
	storage := make([]weighted, 0, len(stats))
	relay := make([]weighted, 0, len(stats))
	for _, s := range stats {
		sw, err := storageWeight(s, cfg)
		if err != nil {
			return nil, err
		}
		uptime = append(uptime, weighted{s.NodeID, applyMultiplier(linearWeight(s.UptimeBps, cfg.UptimeGateBps), s.MultiplierBps)})
		storage = append(storage, weighted{s.NodeID, applyMultiplier(sw, s.MultiplierBps)})
		relay = append(relay, weighted{s.NodeID, applyMultiplier(linearWeight(s.RelayBps, cfg.RelayGateBps), s.MultiplierBps)})
	}
	res.TreasuryOverflow += distribute(res.BucketRewards.Uptime, uptime, res.Rewards)
	res.TreasuryOverflow += distribute(res.BucketRewards.Storage, storage, res.Rewards)
	res.TreasuryOverflow += distribute(res.BucketRewards.Relay, relay, res.Rewards)

	res.applySoftCap(cfg.SoftCapMultiplierBps)

	if total := res.Total(); total+res.TreasuryOverflow != pool {
		panic(fmt.Sprintf("reward conservation violated: %d + %d != %d", total, res.TreasuryOverflow, pool))
	}
	return res, nil
}

func clampBps(v uint64) uint64 {
	return min(v, BpsDenominator)
}

func linearWeight(score, gate uint64) uint64 {
	score = clampBps(score)
	if score < gate || score == 0 {
		return 0
	}
	return score
}

// storageWeight = score * isqrt(min(GB, cap) * 1e6) / isqrt(cap * 1e6).
func storageWeight(s NodeStats, cfg Config) (uint64, error) {
	score := linearWeight(s.StorageBps, cfg.StorageGateBps)
	if score == 0 {
		return 0, nil
	}
	held, err := ISqrt(int64(min(s.StorageGB, cfg.StorageCapGB) * 1_000_000))
	if err != nil {
		return 0, err
	}
	full, err := ISqrt(int64(cfg.StorageCapGB * 1_000_000))
	if err != nil {
		return 0, err
	}
	return mulDiv(score, uint64(held), uint64(full)), nil
}

func applyMultiplier(weight, multiplierBps uint64) uint64 {
	if multiplierBps == 0 {
		return weight
	}
	return mulDiv(weight, multiplierBps, BpsDenominator)
}

// distribute pays bucket proportionally to weights. The division remainder
// goes to the heaviest node, ties broken by the lowest node id. It returns
// the amount nobody could claim.
func distribute(bucket uint64, weights []weighted, rewards map[shared.NodeID]uint64) uint64 {
	var total uint64
	for _, w := range weights {
		total += w.weight
	}
	if total == 0 || bucket == 0 {
		return bucket
	}

	var paid uint64
	top := -1
	for i, w := range weights {
		if w.weight == 0 {
			continue
		}
		share := mulDiv(bucket, w.weight, total)
		rewards[w.node] += share
		paid += share
		if top < 0 || w.weight > weights[top].weight || (w.weight == weights[top].weight && lessID(w.node, weights[top].node)) {
			top = i
		}
	}
	rewards[weights[top].node] += bucket - paid
	return 0
}

// median of the strictly positive rewards, zero when there are none.
func median(rewards map[shared.NodeID]uint64) uint64 {
	positive := make([]uint64, 0, len(rewards))
	for _, v := range rewards {
		if v > 0 {
			positive = append(positive, v)
		}
	}
	if len(positive) == 0 {
		return 0
	}
	sort.Slice(positive, func(i, j int) bool { return positive[i] < positive[j] })
	mid := len(positive) / 2
	if len(positive)%2 == 1 {
		return positive[mid]
	}
	a, b := positive[mid-1], positive[mid]
	return a + (b-a)/2
}

// applySoftCap trims every reward above median*multiplier and hands the
// overflow to uncapped positive receivers in proportion to their reward,
// never past their own cap. What cannot be placed goes to the treasury.
func (r *EpochRewardResult) applySoftCap(multiplierBps uint64) {
	med := median(r.Rewards)
	if med == 0 {
		return
	}
	limit := mulDivSat(med, multiplierBps, BpsDenominator)

	var overflow uint64
	for node, v := range r.Rewards {
		if v > limit {
			overflow += v - limit
			r.Rewards[node] = limit
			r.CappedNodes = append(r.CappedNodes, node)
		}
	}
	if overflow == 0 {
		return
	}
	sort.Slice(r.CappedNodes, func(i, j int) bool { return lessID(r.CappedNodes[i], r.CappedNodes[j]) })
	capped := make(map[shared.NodeID]struct{}, len(r.CappedNodes))
	for _, node := range r.CappedNodes {
		capped[node] = struct{}{}
	}

	receivers := func() []shared.NodeID {
		var out []shared.NodeID
		for node, v := range r.Rewards {
			if _, ok := capped[node]; !ok && v > 0 && v < limit {
				out = append(out, node)
			}
		}
		// largest first, then lowest id
		sort.Slice(out, func(i, j int) bool {
			vi, vj := r.Rewards[out[i]], r.Rewards[out[j]]
			if vi != vj {
				return vi > vj
			}
			return lessID(out[i], out[j])
		})
		return out
	}

	for overflow > 0 {
		eligible := receivers()
		if len(eligible) == 0 {
			break
		}
		var basis uint64
		for _, node := range eligible {
			basis += r.Rewards[node]
		}
		var placed uint64
		for _, node := range eligible {
			give := min(mulDiv(overflow, r.Rewards[node], basis), limit-r.Rewards[node])
			r.Rewards[node] += give
			placed += give
		}
		if placed == 0 {
			break
		}
		overflow -= placed
	}

	// dust left by integer division
	for _, node := range receivers() {
		if overflow == 0 {
			break
		}
		give := min(overflow, limit-r.Rewards[node])
		r.Rewards[node] += give
		overflow -= give
	}
	r.TreasuryOverflow += overflow
}
