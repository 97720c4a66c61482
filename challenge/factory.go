package challenge

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/signing"
)

var (
	ErrInvalidType = errors.New("invalid challenge type")
	ErrNonce       = errors.New("failed to generate nonce")
)

// Params describe the challenge to build.
type Params struct {
	EpochID         uint64
	NodeID          shared.NodeID
	Type            shared.ChallengeType
	EpochRandomness []byte
	IssuedAtMs      uint64
	QuerySpec       shared.Body
}

// Factory builds signed challenges on behalf of the local challenger.
type Factory struct {
	signer signing.Signer
	rand   io.Reader
	cfg    Config
}

type FactoryOption func(*Factory)

// WithRandReader replaces the nonce source.
func WithRandReader(r io.Reader) FactoryOption {
	return func(f *Factory) {
		f.rand = r
	}
}

// WithConfig sets the per-type deadlines.
func WithConfig(cfg Config) FactoryOption {
	return func(f *Factory) {
		f.cfg = cfg
	}
}

func NewFactory(signer signing.Signer, opts ...FactoryOption) *Factory {
	f := &Factory{
		signer: signer,
		rand:   rand.Reader,
		cfg:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ChallengerID is the id of the signer whose challenges this factory builds.
func (f *Factory) ChallengerID() shared.NodeID {
	return f.signer.NodeID()
}

// Build creates and signs a challenge. It does not consult the quota.
func (f *Factory) Build(ctx context.Context, p Params) (*shared.ChallengeMessage, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, uint8(p.Type))
	}
	var nonce shared.Nonce
	if _, err := io.ReadFull(f.rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNonce, err)
	}

	challengerID := f.signer.NodeID()
	msg := &shared.ChallengeMessage{
		ChallengeID:   ComputeChallengeID(p.EpochID, p.NodeID, p.Type, nonce, challengerID),
		EpochID:       p.EpochID,
		NodeID:        p.NodeID,
		ChallengeType: p.Type,
		Nonce:         nonce,
		RandSeed:      shared.DeriveEpochSeed(p.EpochRandomness, p.EpochID),
		IssuedAtMs:    p.IssuedAtMs,
		DeadlineMs:    f.cfg.Deadline(p.Type).Milliseconds(),
		QuerySpec:     p.QuerySpec,
		ChallengerID:  challengerID,
	}
	sig, err := signing.SignDigest(f.signer, BuildChallengeVerifyPayload(msg))
	if err != nil {
		return nil, fmt.Errorf("signing challenge %s: %w", msg.ChallengeID, err)
	}
	msg.ChallengerSig = sig

	logging.FromContext(ctx).Debug("built challenge",
		zap.Stringer("id", msg.ChallengeID),
		zap.String("node", p.NodeID.ShortString()),
		zap.Stringer("type", p.Type),
		zap.Uint64("epoch", p.EpochID),
	)
	return msg, nil
}

// ComputeChallengeID = hash(epochId || nodeId || typeCode || nonce || challengerId).
func ComputeChallengeID(
	epoch uint64,
	node shared.NodeID,
	typ shared.ChallengeType,
	nonce shared.Nonce,
	challenger shared.NodeID,
) shared.Hash32 {
	return shared.HashConcat(shared.U64(epoch), node[:], []byte{byte(typ)}, nonce[:], challenger[:])
}

// ChallengeDigest hashes the canonical encoding of every field but the signature.
func ChallengeDigest(msg *shared.ChallengeMessage) shared.Hash32 {
	fields := shared.Body{
		"challengeId":   shared.String(msg.ChallengeID.Hex()),
		"epochId":       shared.Uint(msg.EpochID),
		"nodeId":        shared.String(msg.NodeID.Hex()),
		"challengeType": shared.String(msg.ChallengeType.String()),
		"nonce":         shared.String(msg.Nonce.Hex()),
		"randSeed":      shared.String(msg.RandSeed.Hex()),
		"issuedAtMs":    shared.Uint(msg.IssuedAtMs),
		"deadlineMs":    shared.Int(msg.DeadlineMs),
		"querySpec":     shared.Map(msg.QuerySpec),
		"challengerId":  shared.String(msg.ChallengerID.Hex()),
	}
	return fields.Hash()
}

// BuildChallengeVerifyPayload returns the digest the challenger signs:
// hash(ChallengeDigest(msg) || challengeId).
func BuildChallengeVerifyPayload(msg *shared.ChallengeMessage) shared.Hash32 {
	digest := ChallengeDigest(msg)
	return shared.HashConcat(digest[:], msg.ChallengeID[:])
}

// VerifySignature checks that the challenge id matches the message fields and
// that the challenger signed the message.
func VerifySignature(msg *shared.ChallengeMessage, verifier signing.Verifier) bool {
	id := ComputeChallengeID(msg.EpochID, msg.NodeID, msg.ChallengeType, msg.Nonce, msg.ChallengerID)
	if id != msg.ChallengeID {
		return false
	}
	payload := BuildChallengeVerifyPayload(msg)
	return verifier.Verify(msg.ChallengerID, payload[:], msg.ChallengerSig)
}
