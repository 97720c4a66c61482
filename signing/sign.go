package signing

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"

	"github.com/spacemeshos/pose/shared"
)

//go:generate mockgen -package mocks -destination mocks/signing.go . Signer,Verifier

var (
	ErrSigningFailed    = errors.New("couldn't sign")
	ErrInvalidKeyLen    = errors.New("private key has invalid length")
	ErrSignatureInvalid = errors.New("signature is invalid")
)

// Signer signs digests on behalf of the local node.
// The key material lives outside of the PoSe core.
type Signer interface {
	Sign(digest []byte) ([]byte, error)
	NodeID() shared.NodeID
}

// Verifier checks a signature made by the node identified by id.
// Only the pass/fail outcome matters to callers.
type Verifier interface {
	Verify(id shared.NodeID, digest, signature []byte) bool
}

// VerifierFunc adapts a plain function to Verifier.
type VerifierFunc func(id shared.NodeID, digest, signature []byte) bool

func (f VerifierFunc) Verify(id shared.NodeID, digest, signature []byte) bool {
	return f(id, digest, signature)
}

// EdSigner signs with an ed25519 key. Its NodeID is the public key.
type EdSigner struct {
	priv ed25519.PrivateKey
	id   shared.NodeID
}

// NewEdSigner wraps an existing ed25519 private key.
func NewEdSigner(priv ed25519.PrivateKey) (*EdSigner, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKeyLen, len(priv))
	}
	s := &EdSigner{priv: priv}
	copy(s.id[:], priv.Public().(ed25519.PublicKey))
	return s, nil
}

// GenerateEdSigner creates a signer with a fresh key read from rand.
func GenerateEdSigner(rand io.Reader) (*EdSigner, error) {
	_, priv, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, fmt.Errorf("generating private key: %w", err)
	}
	return NewEdSigner(priv)
}

func (s *EdSigner) Sign(digest []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, digest), nil
}

func (s *EdSigner) NodeID() shared.NodeID {
	return s.id
}

func (s *EdSigner) PrivateKey() ed25519.PrivateKey {
	return s.priv
}

// EdVerifier verifies ed25519 signatures, treating the node id as the public key.
type EdVerifier struct{}

func (EdVerifier) Verify(id shared.NodeID, digest, signature []byte) bool {
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(id[:]), digest, signature)
}

// SignDigest signs a 32-byte digest and wraps signer failures.
func SignDigest(signer Signer, digest shared.Hash32) (shared.HexBytes, error) {
	sig, err := signer.Sign(digest[:])
	if err != nil {
		return nil, fmt.Errorf("%w (%v)", ErrSigningFailed, err)
	}
	return sig, nil
}
