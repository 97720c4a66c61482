package challenge_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spacemeshos/pose/challenge"
	"github.com/spacemeshos/pose/logging"
	"github.com/spacemeshos/pose/shared"
	"github.com/spacemeshos/pose/signing"
)

func newSigner(t *testing.T) *signing.EdSigner {
	signer, err := signing.GenerateEdSigner(rand.Reader)
	require.NoError(t, err)
	return signer
}

func TestFactoryBuild(t *testing.T) {
	ctx := logging.NewContext(context.Background(), zaptest.NewLogger(t))
	signer := newSigner(t)
	nonce := bytes.Repeat([]byte{0x42}, shared.NonceSize)
	factory := challenge.NewFactory(signer, challenge.WithRandReader(bytes.NewReader(nonce)))

	node := shared.NodeID{1, 2, 3}
	msg, err := factory.Build(ctx, challenge.Params{
		EpochID:         5,
		NodeID:          node,
		Type:            shared.Storage,
		EpochRandomness: []byte("block hash"),
		IssuedAtMs:      1000,
		QuerySpec:       shared.Body{"chunkIndex": shared.Uint(3)},
	})
	require.NoError(t, err)

	require.Equal(t, shared.Nonce(bytes.Repeat([]byte{0x42}, shared.NonceSize)), msg.Nonce)
	require.Equal(t, int64(6000), msg.DeadlineMs)
	require.Equal(t, signer.NodeID(), msg.ChallengerID)
	require.Equal(t, shared.DeriveEpochSeed([]byte("block hash"), 5), msg.RandSeed)
	require.Equal(t, challenge.ComputeChallengeID(5, node, shared.Storage, msg.Nonce, signer.NodeID()), msg.ChallengeID)
	require.True(t, challenge.VerifySignature(msg, signing.EdVerifier{}))
}

func TestFactoryDeadlines(t *testing.T) {
	factory := challenge.NewFactory(newSigner(t))
	for typ, deadline := range map[shared.ChallengeType]int64{
		shared.Uptime:  2500,
		shared.Storage: 6000,
		shared.Relay:   2500,
	} {
		msg, err := factory.Build(context.Background(), challenge.Params{Type: typ})
		require.NoError(t, err)
		require.Equal(t, deadline, msg.DeadlineMs, typ.String())
	}
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	factory := challenge.NewFactory(newSigner(t))
	_, err := factory.Build(context.Background(), challenge.Params{Type: 9})
	require.ErrorIs(t, err, challenge.ErrInvalidType)
}

func TestFactoryNonceFailure(t *testing.T) {
	factory := challenge.NewFactory(newSigner(t), challenge.WithRandReader(iotest.ErrReader(errors.New("no entropy"))))
	_, err := factory.Build(context.Background(), challenge.Params{Type: shared.Uptime})
	require.ErrorIs(t, err, challenge.ErrNonce)
}

func TestVerifySignatureDetectsTampering(t *testing.T) {
	factory := challenge.NewFactory(newSigner(t))
	build := func() *shared.ChallengeMessage {
		msg, err := factory.Build(context.Background(), challenge.Params{
			EpochID:    1,
			Type:       shared.Relay,
			IssuedAtMs: 10,
			QuerySpec:  shared.Body{"minWitnesses": shared.Uint(2)},
		})
		require.NoError(t, err)
		return msg
	}

	t.Run("deadline", func(t *testing.T) {
		msg := build()
		msg.DeadlineMs = 100_000
		require.False(t, challenge.VerifySignature(msg, signing.EdVerifier{}))
	})
	t.Run("query spec", func(t *testing.T) {
		msg := build()
		msg.QuerySpec["minWitnesses"] = shared.Uint(0)
		require.False(t, challenge.VerifySignature(msg, signing.EdVerifier{}))
	})
	t.Run("node id breaks challenge id", func(t *testing.T) {
		msg := build()
		msg.NodeID = shared.NodeID{9}
		require.False(t, challenge.VerifySignature(msg, signing.EdVerifier{}))
	})
	t.Run("untouched", func(t *testing.T) {
		require.True(t, challenge.VerifySignature(build(), signing.EdVerifier{}))
	})
}

func TestVerifyPayloadBindsChallengeID(t *testing.T) {
	msg := &shared.ChallengeMessage{ChallengeID: shared.Hash32{1}, ChallengeType: shared.Uptime}
	digest := challenge.ChallengeDigest(msg)
	require.Equal(t, shared.HashConcat(digest[:], msg.ChallengeID[:]), challenge.BuildChallengeVerifyPayload(msg))
}
