package shared

// ChallengeMessage is a signed, time-bounded work request issued to a node.
// It is immutable once issued. ChallengeID is derived from the message's own
// fields, so a verifier needs nothing else to check it.
type ChallengeMessage struct {
	ChallengeID   Hash32        `json:"challengeId"`
	EpochID       uint64        `json:"epochId,string"`
	NodeID        NodeID        `json:"nodeId"`
	ChallengeType ChallengeType `json:"challengeType"`
	Nonce         Nonce         `json:"nonce"`
	RandSeed      Hash32        `json:"randSeed"`
	IssuedAtMs    uint64        `json:"issuedAtMs,string"`
	DeadlineMs    int64         `json:"deadlineMs,string"`
	QuerySpec     Body          `json:"querySpec"`
	ChallengerID  NodeID        `json:"challengerId"`
	ChallengerSig HexBytes      `json:"challengerSig"`
}

// ExpiresAtMs is the last millisecond at which a response is accepted.
func (c *ChallengeMessage) ExpiresAtMs() uint64 {
	if c.DeadlineMs < 0 {
		return c.IssuedAtMs
	}
	return c.IssuedAtMs + uint64(c.DeadlineMs)
}

// ReceiptMessage is a node's signed response to a challenge.
type ReceiptMessage struct {
	ChallengeID  Hash32   `json:"challengeId"`
	NodeID       NodeID   `json:"nodeId"`
	ResponseAtMs uint64   `json:"responseAtMs,string"`
	ResponseBody Body     `json:"responseBody"`
	NodeSig      HexBytes `json:"nodeSig"`
}

// VerifiedReceipt pairs a challenge with a receipt that passed verification.
type VerifiedReceipt struct {
	Challenge        ChallengeMessage `json:"challenge"`
	Receipt          ReceiptMessage   `json:"receipt"`
	VerifiedAtMs     uint64           `json:"verifiedAtMs,string"`
	ResponseBodyHash Hash32           `json:"responseBodyHash"`
}

// SampleProof proves that Leaf sits at LeafIndex of a batch's Merkle tree.
type SampleProof struct {
	Leaf        Hash32   `json:"leaf"`
	LeafIndex   uint64   `json:"leafIndex,string"`
	MerkleProof []Hash32 `json:"merkleProof"`
}

// ReceiptBatch commits to all verified receipts of one epoch from one aggregator.
type ReceiptBatch struct {
	EpochID       uint64        `json:"epochId,string"`
	AggregatorID  NodeID        `json:"aggregatorId"`
	MerkleRoot    Hash32        `json:"merkleRoot"`
	SummaryHash   Hash32        `json:"summaryHash"`
	LeafHashes    []Hash32      `json:"leafHashes"`
	SampleProofs  []SampleProof `json:"sampleProofs"`
	AggregatorSig HexBytes      `json:"aggregatorSig"`
}

// ID identifies a batch: hash(aggregatorId || epochId || summaryHash).
func (b *ReceiptBatch) ID() Hash32 {
	return HashConcat(b.AggregatorID[:], U64(b.EpochID), b.SummaryHash[:])
}
