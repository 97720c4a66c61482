package dispute

import (
	"errors"
	"fmt"

	"github.com/spacemeshos/pose/receipt"
	"github.com/spacemeshos/pose/shared"
)

// ReasonCode is the closed set of slashable offences.
type ReasonCode string

const (
	ReasonReplay              ReasonCode = "replay"
	ReasonInvalidSignature    ReasonCode = "invalid_signature"
	ReasonTimeout             ReasonCode = "timeout"
	ReasonInvalidStorageProof ReasonCode = "invalid_storage_proof"
	ReasonMissingReceipt      ReasonCode = "missing_receipt"
)

var (
	ErrUnknownReason = errors.New("unknown slash reason")
	ErrNoChallenge   = errors.New("evidence requires a challenge")
)

func (r ReasonCode) Valid() bool {
	switch r {
	case ReasonReplay, ReasonInvalidSignature, ReasonTimeout, ReasonInvalidStorageProof, ReasonMissingReceipt:
		return true
	}
	return false
}

// ReasonForRejection maps a receipt verification failure to the offence it
// proves against the responding node. Failures that are not the node's fault
// map to nothing.
func ReasonForRejection(r receipt.Reason) (ReasonCode, bool) {
	switch r {
	case receipt.ReasonReplay:
		return ReasonReplay, true
	case receipt.ReasonNodeSig:
		return ReasonInvalidSignature, true
	case receipt.ReasonTimeout:
		return ReasonTimeout, true
	case receipt.ReasonInvalidStorage:
		return ReasonInvalidStorageProof, true
	}
	return "", false
}

// SlashEvidence is a canonical, hashed record justifying a penalty.
// Identical inputs always produce the same EvidenceHash.
type SlashEvidence struct {
	NodeID       shared.NodeID `json:"nodeId"`
	Reason       ReasonCode    `json:"reasonCode"`
	EvidenceHash shared.Hash32 `json:"evidenceHash"`
	RawEvidence  shared.Body   `json:"rawEvidence"`
}

type EvidenceInput struct {
	Challenge *shared.ChallengeMessage
	// Receipt is optional.
	Receipt *shared.ReceiptMessage
	// Offender defaults to the challenged node.
	Offender *shared.NodeID
}

func BuildEvidence(reason ReasonCode, in EvidenceInput) (*SlashEvidence, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReason, reason)
	}
	ch := in.Challenge
	if ch == nil {
		return nil, ErrNoChallenge
	}

	raw := shared.Body{
		"reasonCode":  shared.String(string(reason)),
		"challengeId": shared.String(ch.ChallengeID.Hex()),
		"nodeId":      shared.String(ch.NodeID.Hex()),
		"nonce":       shared.String(ch.Nonce.Hex()),
		"epochId":     shared.Uint(ch.EpochID),
	}
	if rc := in.Receipt; rc != nil {
		raw["receipt"] = shared.Map(shared.Body{
			"challengeId":      shared.String(rc.ChallengeID.Hex()),
			"nodeId":           shared.String(rc.NodeID.Hex()),
			"responseAtMs":     shared.Uint(rc.ResponseAtMs),
			"responseBodyHash": shared.String(rc.ResponseBody.Hash().Hex()),
			"nodeSig":          shared.String(rc.NodeSig.String()),
		})
	}
	offender := ch.NodeID
	if in.Offender != nil && *in.Offender != ch.NodeID {
		offender = *in.Offender
		raw["offender"] = shared.String(offender.Hex())
	}

	return &SlashEvidence{
		NodeID:       offender,
		Reason:       reason,
		EvidenceHash: raw.Hash(),
		RawEvidence:  raw,
	}, nil
}
