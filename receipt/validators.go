package receipt

import (
	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/signing"
)

// Body and query spec keys understood by the built-in validators.
const (
	KeyNonce        = "nonce"
	KeyRoot         = "root"
	KeyChunkIndex   = "chunkIndex"
	KeyChunk        = "chunk"
	KeyProof        = "proof"
	KeyMinWitnesses = "minWitnesses"
	KeyWitnesses    = "witnesses"
	KeyNodeID       = "nodeId"
	KeySig          = "sig"
)

// UptimeEcho accepts a receipt whose body echoes the challenge nonce.
type UptimeEcho struct{}

func (UptimeEcho) Validate(ch *shared.ChallengeMessage, rc *shared.ReceiptMessage) bool {
	echoed, ok := rc.ResponseBody.String(KeyNonce)
	if !ok {
		return false
	}
	nonce, err := shared.NonceFromHex(echoed)
	return err == nil && nonce == ch.Nonce
}

// UptimeResponse is the body a live node answers an uptime challenge with.
func UptimeResponse(ch *shared.ChallengeMessage) shared.Body {
	return shared.Body{KeyNonce: shared.String(ch.Nonce.Hex())}
}

// StorageProof checks that the node holds the requested chunk of the data set
// committed to by the query spec root.
type StorageProof struct{}

// StorageLeaf = hash(u64be(index) || chunk).
func StorageLeaf(index uint64, chunk []byte) shared.Hash32 {
	return shared.HashConcat(shared.U64(index), chunk)
}

func (StorageProof) Validate(ch *shared.ChallengeMessage, rc *shared.ReceiptMessage) bool {
	rootHex, ok := ch.QuerySpec.String(KeyRoot)
	if !ok {
		return false
	}
	root, err := shared.HashFromHex(rootHex)
	if err != nil {
		return false
	}
	index, ok := ch.QuerySpec.Uint(KeyChunkIndex)
	if !ok {
		return false
	}

	chunkHex, ok := rc.ResponseBody.String(KeyChunk)
	if !ok {
		return false
	}
	var chunk shared.HexBytes
	if err := chunk.UnmarshalText([]byte(chunkHex)); err != nil {
		return false
	}
	items, ok := rc.ResponseBody.List(KeyProof)
	if !ok {
		return false
	}
	proof := make([]shared.Hash32, 0, len(items))
	for _, item := range items {
		s, ok := item.AsString()
		if !ok {
			return false
		}
		h, err := shared.HashFromHex(s)
		if err != nil {
			return false
		}
		proof = append(proof, h)
	}
	return shared.VerifyMerkleProof(root, StorageLeaf(index, chunk), proof)
}

// StorageResponse is the body answering a storage challenge.
func StorageResponse(chunk []byte, proof []shared.Hash32) shared.Body {
	items := make([]shared.Value, 0, len(proof))
	for _, h := range proof {
		items = append(items, shared.String(h.Hex()))
	}
	return shared.Body{
		KeyChunk: shared.String(shared.HexBytes(chunk).String()),
		KeyProof: shared.List(items...),
	}
}

// RelayWitness requires at least minWitnesses distinct witnesses other than
// the challenged node. When Verifier is set every witness signature over
// RelayWitnessDigest must verify.
type RelayWitness struct {
	Verifier signing.Verifier
}

// RelayWitnessDigest = hash(challengeId || witnessId).
func RelayWitnessDigest(challengeID shared.Hash32, witness shared.NodeID) shared.Hash32 {
	return shared.HashConcat(challengeID[:], witness[:])
}

func (r RelayWitness) Validate(ch *shared.ChallengeMessage, rc *shared.ReceiptMessage) bool {
	required, ok := ch.QuerySpec.Uint(KeyMinWitnesses)
	if !ok {
		required = 1
	}
	items, ok := rc.ResponseBody.List(KeyWitnesses)
	if !ok {
		return false
	}

	distinct := make(map[shared.NodeID]struct{}, len(items))
	for _, item := range items {
		w, ok := item.AsMap()
		if !ok {
			return false
		}
		idHex, ok := w.String(KeyNodeID)
		if !ok {
			return false
		}
		id, err := shared.NodeIDFromHex(idHex)
		if err != nil || id == ch.NodeID {
			continue
		}
		if r.Verifier != nil {
			sigHex, ok := w.String(KeySig)
			if !ok {
				continue
			}
			var sig shared.HexBytes
			if err := sig.UnmarshalText([]byte(sigHex)); err != nil {
				continue
			}
			digest := RelayWitnessDigest(ch.ChallengeID, id)
			if !r.Verifier.Verify(id, digest[:], sig) {
				continue
			}
		}
		distinct[id] = struct{}{}
	}
	return uint64(len(distinct)) >= required
}

// Witness is one relay attestation.
type Witness struct {
	NodeID shared.NodeID
	Sig    []byte
}

// RelayResponse is the body answering a relay challenge.
func RelayResponse(witnesses ...Witness) shared.Body {
	items := make([]shared.Value, 0, len(witnesses))
	for _, w := range witnesses {
		items = append(items, shared.Map(shared.Body{
			KeyNodeID: shared.String(w.NodeID.Hex()),
			KeySig:    shared.String(shared.HexBytes(w.Sig).String()),
		}))
	}
	return shared.Body{KeyWitnesses: shared.List(items...)}
}
