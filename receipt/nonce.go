package receipt

import (
	"fmt"
	"time"

	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/util"
)

// NonceRegistry remembers consumed challenge nonces.
type NonceRegistry interface {
	Seen(key shared.Hash32) bool
	Consume(key shared.Hash32, nowMs uint64) error
	Len() int
	Close() error
}

// NonceKey = hash(challengerId || nodeId || nonce || typeCode || epochId).
func NonceKey(ch *shared.ChallengeMessage) shared.Hash32 {
	return shared.HashConcat(
		ch.ChallengerID[:],
		ch.NodeID[:],
		ch.Nonce[:],
		[]byte{byte(ch.ChallengeType)},
		shared.U64(ch.EpochID),
	)
}

type MemoryNonceRegistry struct {
	seen map[shared.Hash32]struct{}
}

func NewMemoryNonceRegistry() *MemoryNonceRegistry {
	return &MemoryNonceRegistry{seen: make(map[shared.Hash32]struct{})}
}

func (r *MemoryNonceRegistry) Seen(key shared.Hash32) bool {
	_, ok := r.seen[key]
	return ok
}

func (r *MemoryNonceRegistry) Consume(key shared.Hash32, _ uint64) error {
	r.seen[key] = struct{}{}
	return nil
}

func (r *MemoryNonceRegistry) Len() int { return len(r.seen) }

func (r *MemoryNonceRegistry) Close() error { return nil }

// PersistentNonceRegistry keeps consumed nonces in an append-only log.
// Entries past the TTL or beyond the cap are forgotten, oldest first.
type PersistentNonceRegistry struct {
	seen map[shared.Hash32]struct{}
	log  *util.TimedLog
}

func NewPersistentNonceRegistry(
	path string,
	ttl time.Duration,
	maxEntries int,
	opts ...util.TimedLogOption,
) (*PersistentNonceRegistry, error) {
	log, err := util.OpenTimedLog(path, ttl, maxEntries, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening nonce log: %w", err)
	}
	r := &PersistentNonceRegistry{
		seen: make(map[shared.Hash32]struct{}, log.Len()),
		log:  log,
	}
	for _, e := range log.Entries() {
		key, err := shared.HashFromHex(e.Key)
		if err != nil {
			continue
		}
		r.seen[key] = struct{}{}
	}
	return r, nil
}

func (r *PersistentNonceRegistry) Seen(key shared.Hash32) bool {
	_, ok := r.seen[key]
	return ok
}

func (r *PersistentNonceRegistry) Consume(key shared.Hash32, nowMs uint64) error {
	if _, ok := r.seen[key]; ok {
		return nil
	}
	evicted, err := r.log.Append(nowMs, key.Hex())
	if err != nil {
		return fmt.Errorf("persisting nonce: %w", err)
	}
	r.seen[key] = struct{}{}
	r.forget(evicted)
	return nil
}

// Prune drops nonces older than the TTL.
func (r *PersistentNonceRegistry) Prune() (int, error) {
	removed, err := r.log.Prune()
	r.forget(removed)
	return len(removed), err
}

func (r *PersistentNonceRegistry) forget(entries []util.LogEntry) {
	for _, e := range entries {
		if key, err := shared.HashFromHex(e.Key); err == nil {
			delete(r.seen, key)
		}
	}
}

func (r *PersistentNonceRegistry) Len() int { return len(r.seen) }

func (r *PersistentNonceRegistry) Close() error {
	return r.log.Close()
}
