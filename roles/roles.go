// Package roles derives the per-epoch challenger and aggregator duties.
//
// The assignment is a pure function of the epoch id, the epoch's block hash
// and the validator list supplied by consensus. It is never stored: anyone
// holding the same inputs recomputes the same roles.
package roles

import (
	"encoding/binary"
	"errors"

	"github.com/spacemeshos/pose/shared"
)

var ErrNoValidators = errors.New("validator set is empty")

type Role uint8

const (
	Challenger Role = iota + 1
	Aggregator
)

func (r Role) String() string {
	switch r {
	case Challenger:
		return "challenger"
	case Aggregator:
		return "aggregator"
	default:
		return "unknown"
	}
}

// Assignment holds the duties of one epoch.
type Assignment struct {
	Challenger shared.NodeID
	Aggregator shared.NodeID
}

// Has reports whether node holds role in this assignment.
func (a Assignment) Has(node shared.NodeID, role Role) bool {
	switch role {
	case Challenger:
		return a.Challenger == node
	case Aggregator:
		return a.Aggregator == node
	default:
		return false
	}
}

func epochSeed(epochID uint64, blockHash shared.Hash32) uint64 {
	digest := shared.HashConcat(shared.U64(epochID), blockHash[:])
	return binary.BigEndian.Uint64(digest[:8])
}

// AssignEpochRoles picks the challenger at seed mod n and the aggregator among the
// remaining n-1 validators, so the two differ whenever there are at least two validators.
func AssignEpochRoles(epochID uint64, blockHash shared.Hash32, validators []shared.NodeID) (Assignment, error) {
	n := uint64(len(validators))
	if n == 0 {
		return Assignment{}, ErrNoValidators
	}
	seed := epochSeed(epochID, blockHash)
	challenger := seed % n
	if n == 1 {
		return Assignment{Challenger: validators[0], Aggregator: validators[0]}, nil
	}

	aggregator := (seed / n) % (n - 1)
	if aggregator >= challenger {
		aggregator++
	}
	return Assignment{
		Challenger: validators[challenger],
		Aggregator: validators[aggregator],
	}, nil
}

// CanRunForRole recomputes the assignment and checks node against it.
func CanRunForRole(
	node shared.NodeID,
	role Role,
	epochID uint64,
	blockHash shared.Hash32,
	validators []shared.NodeID,
) bool {
	assignment, err := AssignEpochRoles(epochID, blockHash, validators)
	if err != nil {
		return false
	}
	return assignment.Has(node, role)
}
