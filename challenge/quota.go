package challenge

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/util"
)

// Reason explains why a challenge may not be issued.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonQuotaExceeded Reason = "quota exceeded"
	ReasonRateLimited   Reason = "rate limited"
)

var ErrMalformedQuotaEntry = errors.New("malformed quota log entry")

type quotaKey struct {
	node  shared.NodeID
	epoch uint64
	typ   shared.ChallengeType
}

func (k quotaKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.node.Hex(), k.epoch, uint8(k.typ))
}

func parseQuotaKey(s string) (quotaKey, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return quotaKey{}, fmt.Errorf("%w: %q", ErrMalformedQuotaEntry, s)
	}
	node, err := shared.NodeIDFromHex(parts[0])
	if err != nil {
		return quotaKey{}, fmt.Errorf("%w: %v", ErrMalformedQuotaEntry, err)
	}
	epoch, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return quotaKey{}, fmt.Errorf("%w: %v", ErrMalformedQuotaEntry, err)
	}
	code, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil || !shared.ChallengeType(code).Valid() {
		return quotaKey{}, fmt.Errorf("%w: bad type in %q", ErrMalformedQuotaEntry, s)
	}
	return quotaKey{node: node, epoch: epoch, typ: shared.ChallengeType(code)}, nil
}

type quotaEntry struct {
	count        int
	lastIssuedMs uint64
}

// Quota enforces the per-node, per-epoch, per-type issuance cap and the
// minimum interval between two issuances.
//
// Checking and committing are separate so a caller can abort after CanIssue
// without side effects. Quota is not safe for concurrent use.
type Quota struct {
	cfg     Config
	entries map[quotaKey]*quotaEntry
	log     *util.TimedLog
}

func NewQuota(cfg Config) *Quota {
	return &Quota{
		cfg:     cfg,
		entries: make(map[quotaKey]*quotaEntry),
	}
}

// OpenPersistentQuota restores the counters recorded in the log at path and
// appends every later commit to it.
func OpenPersistentQuota(path string, cfg Config, opts ...util.TimedLogOption) (*Quota, error) {
	log, err := util.OpenTimedLog(path, cfg.QuotaLogTTL, cfg.QuotaLogMaxEntries, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening quota log: %w", err)
	}
	q := NewQuota(cfg)
	for _, e := range log.Entries() {
		key, err := parseQuotaKey(e.Key)
		if err != nil {
			continue
		}
		q.record(key, e.TimestampMs)
	}
	q.log = log
	return q, nil
}

// CanIssue reports whether a challenge of type typ may be sent to node now.
func (q *Quota) CanIssue(node shared.NodeID, epoch uint64, typ shared.ChallengeType, nowMs uint64) (bool, Reason) {
	reason := q.check(quotaKey{node, epoch, typ}, nowMs)
	if reason != ReasonNone {
		rejectedMetric.WithLabelValues(typ.String(), string(reason)).Inc()
		return false, reason
	}
	return true, ReasonNone
}

func (q *Quota) check(key quotaKey, nowMs uint64) Reason {
	limit := q.cfg.Limit(key.typ)
	entry, ok := q.entries[key]
	if !ok {
		if limit.MaxPerEpoch <= 0 {
			return ReasonQuotaExceeded
		}
		return ReasonNone
	}
	if entry.count >= limit.MaxPerEpoch {
		return ReasonQuotaExceeded
	}
	if nowMs < entry.lastIssuedMs || nowMs-entry.lastIssuedMs < limit.MinIntervalMs {
		return ReasonRateLimited
	}
	return ReasonNone
}

// CommitIssue records an issuance. It does not re-check the limits.
func (q *Quota) CommitIssue(node shared.NodeID, epoch uint64, typ shared.ChallengeType, nowMs uint64) error {
	key := quotaKey{node, epoch, typ}
	if q.log != nil {
		if _, err := q.log.Append(nowMs, key.String()); err != nil {
			return fmt.Errorf("persisting quota: %w", err)
		}
	}
	q.record(key, nowMs)
	issuedMetric.WithLabelValues(typ.String()).Inc()
	return nil
}

func (q *Quota) record(key quotaKey, nowMs uint64) {
	entry, ok := q.entries[key]
	if !ok {
		entry = &quotaEntry{}
		q.entries[key] = entry
	}
	entry.count++
	entry.lastIssuedMs = max(entry.lastIssuedMs, nowMs)
}

// Count returns how many challenges were committed for the key.
func (q *Quota) Count(node shared.NodeID, epoch uint64, typ shared.ChallengeType) int {
	if entry, ok := q.entries[quotaKey{node, epoch, typ}]; ok {
		return entry.count
	}
	return 0
}

// PruneEpochsBefore forgets counters of epochs older than epoch.
// It returns the number of counters removed.
func (q *Quota) PruneEpochsBefore(epoch uint64) int {
	removed := 0
	for key := range q.entries {
		if key.epoch < epoch {
			delete(q.entries, key)
			removed++
		}
	}
	return removed
}

func (q *Quota) Close() error {
	if q.log == nil {
		return nil
	}
	return q.log.Close()
}
