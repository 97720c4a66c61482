package shared

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/spacemeshos/pose/hash"
)

var ErrInvalidTotal = errors.New("total must be positive")

// DeriveEpochSeed binds a random seed to an epoch: hash(randSeed || epochID).
func DeriveEpochSeed(randSeed []byte, epochID uint64) Hash32 {
	return HashConcat(randSeed, U64(epochID))
}

// DrawIndexes deterministically selects count distinct indexes in [0, total).
//
// Candidates are drawn by hashing seed || counter for counter = 0, 1, ... and
// reducing the first 8 bytes of the digest (big-endian) modulo total. Duplicates
// are skipped. If count >= total every index is returned. The result is sorted.
func DrawIndexes(seed []byte, total, count int) ([]int, error) {
	if total <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidTotal, total)
	}
	if count <= 0 {
		return []int{}, nil
	}
	if count >= total {
		all := make([]int, total)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}

	picked := make(map[int]struct{}, count)
	out := make([]int, 0, count)
	counter := make([]byte, 8)
	d := hash.New()
	var digest []byte
	for i := uint64(0); len(out) < count; i++ {
		binary.BigEndian.PutUint64(counter, i)
		d.Reset()
		d.Write(seed)
		d.Write(counter)
		digest = d.Sum(digest[:0])
		idx := int(binary.BigEndian.Uint64(digest[:8]) % uint64(total))
		if _, ok := picked[idx]; ok {
			continue
		}
		picked[idx] = struct{}{}
		out = append(out, idx)
	}
	sort.Ints(out)
	return out, nil
}
