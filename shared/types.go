package shared

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/spacemeshos/pose/hash"
)

const (
	HashSize   = hash.Size
	NodeIDSize = 32
	NonceSize  = 16
)

var (
	ErrInvalidHex           = errors.New("invalid hex encoding")
	ErrInvalidChallengeType = errors.New("invalid challenge type")
)

// Hash32 is a Keccak-256 digest.
type Hash32 [HashSize]byte

// NodeID identifies a node. It is the node's ed25519 public key.
type NodeID [NodeIDSize]byte

// Nonce is the per-challenge random value.
type Nonce [NonceSize]byte

// HexBytes is a variable-length byte string encoded as 0x-prefixed hex.
type HexBytes []byte

// decodeFixedHex decodes a 0x-prefixed hex string into out, which must match its width exactly.
func decodeFixedHex(s string, out []byte) error {
	raw, err := decodeHex(s)
	if err != nil {
		return err
	}
	if len(raw) != len(out) {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidHex, len(out), len(raw))
	}
	copy(out, raw)
	return nil
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("%w: missing 0x prefix in %q", ErrInvalidHex, s)
	}
	raw, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return raw, nil
}

func encodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// HashFromHex parses a 0x-prefixed 32-byte hex string.
func HashFromHex(s string) (Hash32, error) {
	var h Hash32
	err := decodeFixedHex(s, h[:])
	return h, err
}

func (h Hash32) Hex() string    { return encodeHex(h[:]) }
func (h Hash32) String() string { return h.Hex() }
func (h Hash32) Bytes() []byte  { return h[:] }
func (h Hash32) IsZero() bool   { return h == Hash32{} }

func (h Hash32) MarshalText() ([]byte, error) { return []byte(h.Hex()), nil }

func (h *Hash32) UnmarshalText(text []byte) error {
	return decodeFixedHex(string(text), h[:])
}

// NodeIDFromHex parses a 0x-prefixed 32-byte hex string.
func NodeIDFromHex(s string) (NodeID, error) {
	var id NodeID
	err := decodeFixedHex(s, id[:])
	return id, err
}

func (id NodeID) Hex() string    { return encodeHex(id[:]) }
func (id NodeID) String() string { return id.Hex() }
func (id NodeID) Bytes() []byte  { return id[:] }

// ShortString is used in logs.
func (id NodeID) ShortString() string { return hex.EncodeToString(id[:4]) }

func (id NodeID) MarshalText() ([]byte, error) { return []byte(id.Hex()), nil }

func (id *NodeID) UnmarshalText(text []byte) error {
	return decodeFixedHex(string(text), id[:])
}

func (n Nonce) Hex() string    { return encodeHex(n[:]) }
func (n Nonce) String() string { return n.Hex() }

func (n Nonce) MarshalText() ([]byte, error) { return []byte(n.Hex()), nil }

func (n *Nonce) UnmarshalText(text []byte) error {
	return decodeFixedHex(string(text), n[:])
}

// NonceFromHex parses a 0x-prefixed 16-byte hex string.
func NonceFromHex(s string) (Nonce, error) {
	var n Nonce
	err := decodeFixedHex(s, n[:])
	return n, err
}

func (b HexBytes) String() string { return encodeHex(b) }

func (b HexBytes) MarshalText() ([]byte, error) { return []byte(encodeHex(b)), nil }

func (b *HexBytes) UnmarshalText(text []byte) error {
	raw, err := decodeHex(string(text))
	if err != nil {
		return err
	}
	*b = raw
	return nil
}

// ChallengeType is the kind of work a challenge asks for.
// The numeric value is the type code used in hashing.
type ChallengeType uint8

const (
	Uptime  ChallengeType = 1
	Storage ChallengeType = 2
	Relay   ChallengeType = 3
)

// ChallengeTypes lists every valid type in code order.
var ChallengeTypes = []ChallengeType{Uptime, Storage, Relay}

func (t ChallengeType) Valid() bool {
	return t >= Uptime && t <= Relay
}

func (t ChallengeType) String() string {
	switch t {
	case Uptime:
		return "uptime"
	case Storage:
		return "storage"
	case Relay:
		return "relay"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// ParseChallengeType is the inverse of ChallengeType.String.
func ParseChallengeType(s string) (ChallengeType, error) {
	switch strings.ToLower(s) {
	case "uptime":
		return Uptime, nil
	case "storage":
		return Storage, nil
	case "relay":
		return Relay, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidChallengeType, s)
}

func (t ChallengeType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChallengeType, uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *ChallengeType) UnmarshalText(text []byte) error {
	parsed, err := ParseChallengeType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// U64 encodes v as 8 big-endian bytes.
func U64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// HashConcat returns the Keccak-256 digest of the concatenated parts.
func HashConcat(parts ...[]byte) Hash32 {
	return Hash32(hash.SumConcat(parts...))
}
