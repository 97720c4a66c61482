package shared

import (
	"bytes"
	"errors"
	"fmt"
)

var (
	ErrNoLeaves          = errors.New("merkle tree has no leaves")
	ErrLeafIndexOutRange = errors.New("leaf index out of range")
)

// HashPair hashes two sibling nodes in lexicographic order, so the parent does
// not depend on which side each child sits.
func HashPair(a, b Hash32) Hash32 {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return HashConcat(a[:], b[:])
}

func nextLayer(layer []Hash32) []Hash32 {
	if len(layer)%2 == 1 {
		layer = append(layer, layer[len(layer)-1])
	}
	parents := make([]Hash32, len(layer)/2)
	for i := range parents {
		parents[i] = HashPair(layer[2*i], layer[2*i+1])
	}
	return parents
}

// BuildMerkleRoot folds leaves bottom-up, duplicating the last node of odd layers.
// A single leaf is its own root.
func BuildMerkleRoot(leaves []Hash32) (Hash32, error) {
	if len(leaves) == 0 {
		return Hash32{}, ErrNoLeaves
	}
	layer := append([]Hash32(nil), leaves...)
	for len(layer) > 1 {
		layer = nextLayer(layer)
	}
	return layer[0], nil
}

// BuildMerkleProof returns the sibling path from leaves[index] up to the root.
func BuildMerkleProof(leaves []Hash32, index int) ([]Hash32, error) {
	if len(leaves) == 0 {
		return nil, ErrNoLeaves
	}
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("%w: %d of %d", ErrLeafIndexOutRange, index, len(leaves))
	}
	proof := []Hash32{}
	layer := append([]Hash32(nil), leaves...)
	for len(layer) > 1 {
		if len(layer)%2 == 1 {
			layer = append(layer, layer[len(layer)-1])
		}
		proof = append(proof, layer[index^1])
		layer = nextLayer(layer)
		index /= 2
	}
	return proof, nil
}

// VerifyMerkleProof checks that leaf belongs to the tree with the given root.
func VerifyMerkleProof(root, leaf Hash32, proof []Hash32) bool {
	node := leaf
	for _, sibling := range proof {
		node = HashPair(node, sibling)
	}
	return node == root
}
