// Package api defines the JSON messages of the PoSe HTTP transport.
//
// Every rejection is answered with a 4xx status and an ErrorResponse body,
// {"ok":false,"reason":"..."}. 64-bit integers travel as decimal strings.
package api

import (
	"github.com/spacemeshos/pose/dispute"
	"github.com/spacemeshos/pose/rewards"
	"github.com/spacemeshos/pose/shared"
)

type ErrorResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason"`
}

type InfoResponse struct {
	NodeID       shared.NodeID `json:"nodeId"`
	CurrentEpoch *uint64       `json:"currentEpoch,string,omitempty"`
}

// StartEpochRequest is sent by the consensus layer when an epoch begins.
type StartEpochRequest struct {
	EpochID    uint64          `json:"epochId,string"`
	BlockHash  shared.Hash32   `json:"blockHash"`
	Validators []shared.NodeID `json:"validators"`
}

type StartEpochResponse struct {
	EpochID    uint64        `json:"epochId,string"`
	Challenger shared.NodeID `json:"challenger"`
	Aggregator shared.NodeID `json:"aggregator"`
}

type IssueChallengeRequest struct {
	NodeID        shared.NodeID        `json:"nodeId"`
	ChallengeType shared.ChallengeType `json:"challengeType"`
	QuerySpec     shared.Body          `json:"querySpec,omitempty"`
}

type IssueChallengeResponse struct {
	OK        bool                     `json:"ok"`
	Reason    string                   `json:"reason,omitempty"`
	Challenge *shared.ChallengeMessage `json:"challenge,omitempty"`
}

type SubmitReceiptResponse struct {
	OK               bool                      `json:"ok"`
	Reason           string                    `json:"reason,omitempty"`
	ResponseBodyHash *shared.Hash32            `json:"responseBodyHash,omitempty"`
	Evidence         *dispute.SlashEvidence    `json:"evidence,omitempty"`
	Penalty          *dispute.NodePenaltyState `json:"penalty,omitempty"`
}

type CloseEpochResponse struct {
	EpochID uint64               `json:"epochId,string"`
	Batch   *shared.ReceiptBatch `json:"batch,omitempty"`
}

type ProcessBatchResponse struct {
	OK        bool                `json:"ok"`
	Processed bool                `json:"processed"`
	BatchID   shared.Hash32       `json:"batchId"`
	Status    dispute.BatchStatus `json:"status"`
	Flags     []dispute.Flag      `json:"flags"`
}

type FinalizeBatchRequest struct {
	EpochID uint64 `json:"epochId,string"`
}

type FinalizeBatchResponse struct {
	OK     bool                `json:"ok"`
	Status dispute.BatchStatus `json:"status"`
}

type ComputeRewardsRequest struct {
	Pool  uint64              `json:"pool,string"`
	Stats []rewards.NodeStats `json:"stats"`
}

type DisputesResponse struct {
	Events []dispute.Event `json:"events"`
}

type DisputeSummaryResponse struct {
	Counts map[dispute.EventType]int `json:"counts"`
}
