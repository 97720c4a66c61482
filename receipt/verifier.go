package receipt

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spacemeshos/pose/challenge"
	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/signing"
)

// Reason is the closed set of verification failures.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonReplay           Reason = "nonce replay detected"
	ReasonChallengerSig    Reason = "invalid challenger signature"
	ReasonMismatch         Reason = "challenge/receipt mismatch"
	ReasonBeforeIssuance   Reason = "receipt timestamp before challenge issuance"
	ReasonTimeout          Reason = "receipt timeout"
	ReasonNodeSig          Reason = "invalid node signature"
	ReasonUptimeCheck      Reason = "uptime check failed"
	ReasonInvalidStorage   Reason = "invalid storage proof"
	ReasonRelayWitness     Reason = "relay witness check failed"
	ReasonUnsupportedCheck Reason = "unsupported challenge type"
)

// PluginReason is reported when the type-specific validator rejects a receipt.
func PluginReason(t shared.ChallengeType) Reason {
	switch t {
	case shared.Uptime:
		return ReasonUptimeCheck
	case shared.Storage:
		return ReasonInvalidStorage
	case shared.Relay:
		return ReasonRelayWitness
	}
	return ReasonUnsupportedCheck
}

// Result of a verification. Receipt is set only when OK.
type Result struct {
	OK               bool
	Reason           Reason
	ResponseBodyHash shared.Hash32
	Receipt          *shared.VerifiedReceipt
}

func rejected(r Reason) Result {
	rejectedMetric.WithLabelValues(string(r)).Inc()
	return Result{Reason: r}
}

// Validator is a challenge-type specific correctness check.
type Validator interface {
	Validate(ch *shared.ChallengeMessage, rc *shared.ReceiptMessage) bool
}

type ValidatorFunc func(ch *shared.ChallengeMessage, rc *shared.ReceiptMessage) bool

func (f ValidatorFunc) Validate(ch *shared.ChallengeMessage, rc *shared.ReceiptMessage) bool {
	return f(ch, rc)
}

// Verifier checks receipts against the challenges they answer.
// It is not safe for concurrent use.
type Verifier struct {
	nonces     NonceRegistry
	sigs       signing.Verifier
	validators map[shared.ChallengeType]Validator
	now        func() time.Time
}

type VerifierOption func(*Verifier)

// WithValidator installs the check for one challenge type.
// Types without a validator skip the last verification step.
func WithValidator(t shared.ChallengeType, v Validator) VerifierOption {
	return func(vr *Verifier) {
		vr.validators[t] = v
	}
}

// WithDefaultValidators installs the built-in validators of every type.
func WithDefaultValidators() VerifierOption {
	return func(vr *Verifier) {
		vr.validators[shared.Uptime] = UptimeEcho{}
		vr.validators[shared.Storage] = StorageProof{}
		vr.validators[shared.Relay] = RelayWitness{Verifier: vr.sigs}
	}
}

// WithClock overrides the clock used to stamp verified receipts.
func WithClock(now func() time.Time) VerifierOption {
	return func(vr *Verifier) {
		vr.now = now
	}
}

func NewVerifier(nonces NonceRegistry, sigs signing.Verifier, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		nonces:     nonces,
		sigs:       sigs,
		validators: make(map[shared.ChallengeType]Validator),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs every check in a fixed order and reports the first failure.
// The nonce is consumed only when the receipt passes, so a second submission
// of an accepted receipt is a replay. The error is non-nil only when the
// nonce registry fails to persist.
func (v *Verifier) Verify(ctx context.Context, ch *shared.ChallengeMessage, rc *shared.ReceiptMessage) (Result, error) {
	res := v.check(ch, rc)
	if !res.OK {
		logging.FromContext(ctx).Debug("receipt rejected",
			zap.Stringer("challenge", ch.ChallengeID),
			zap.String("node", rc.NodeID.ShortString()),
			zap.String("reason", string(res.Reason)),
		)
		return rejected(res.Reason), nil
	}

	nowMs := uint64(v.now().UnixMilli())
	if err := v.nonces.Consume(NonceKey(ch), nowMs); err != nil {
		return Result{}, fmt.Errorf("consuming nonce of %s: %w", ch.ChallengeID, err)
	}
	res.Receipt = &shared.VerifiedReceipt{
		Challenge:        *ch,
		Receipt:          *rc,
		VerifiedAtMs:     nowMs,
		ResponseBodyHash: res.ResponseBodyHash,
	}
	verifiedMetric.WithLabelValues(ch.ChallengeType.String()).Inc()
	return res, nil
}

func (v *Verifier) check(ch *shared.ChallengeMessage, rc *shared.ReceiptMessage) Result {
	if v.nonces.Seen(NonceKey(ch)) {
		return Result{Reason: ReasonReplay}
	}
	if !challenge.VerifySignature(ch, v.sigs) {
		return Result{Reason: ReasonChallengerSig}
	}
	if rc.ChallengeID != ch.ChallengeID || rc.NodeID != ch.NodeID {
		return Result{Reason: ReasonMismatch}
	}
	if rc.ResponseAtMs < ch.IssuedAtMs {
		return Result{Reason: ReasonBeforeIssuance}
	}
	if rc.ResponseAtMs > ch.ExpiresAtMs() {
		return Result{Reason: ReasonTimeout}
	}
	bodyHash := rc.ResponseBody.Hash()
	if !v.sigs.Verify(rc.NodeID, bodyHash[:], rc.NodeSig) {
		return Result{Reason: ReasonNodeSig}
	}
	if validator, ok := v.validators[ch.ChallengeType]; ok && !validator.Validate(ch, rc) {
		return Result{Reason: PluginReason(ch.ChallengeType)}
	}
	return Result{OK: true, ResponseBodyHash: bodyHash}
}

// SignReceipt builds the receipt a node returns for ch.
func SignReceipt(
	signer signing.Signer,
	ch *shared.ChallengeMessage,
	body shared.Body,
	responseAtMs uint64,
) (*shared.ReceiptMessage, error) {
	sig, err := signing.SignDigest(signer, body.Hash())
	if err != nil {
		return nil, fmt.Errorf("signing receipt for %s: %w", ch.ChallengeID, err)
	}
	return &shared.ReceiptMessage{
		ChallengeID:  ch.ChallengeID,
		NodeID:       signer.NodeID(),
		ResponseAtMs: responseAtMs,
		ResponseBody: body,
		NodeSig:      sig,
	}, nil
}
