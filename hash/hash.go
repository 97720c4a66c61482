// Package hash implements the 256-bit Keccak sponge used for every identifier,
// commitment and sampling seed in PoSe.
//
// The permutation is Keccak-f[1600] over 25 64-bit lanes with 24 rounds. The
// sponge absorbs at a rate of 136 bytes and pads with the original Keccak
// domain byte (0x01), which makes Sum256 identical to Ethereum's Keccak-256.
package hash

import (
	"encoding/binary"
	gohash "hash"
	"math/bits"
)

const (
	// Size is the digest length in bytes.
	Size = 32
	// Rate is the number of bytes absorbed per permutation.
	Rate = 136

	rounds     = 24
	domainByte = 0x01
)

var roundConstants = [rounds]uint64{
	0x0000000000000001, 0x0000000000008082, 0x800000000000808A, 0x8000000080008000,
	0x000000000000808B, 0x0000000080000001, 0x8000000080008081, 0x8000000000008009,
	0x000000000000008A, 0x0000000000000088, 0x0000000080008009, 0x000000008000000A,
	0x000000008000808B, 0x800000000000008B, 0x8000000000008089, 0x8000000000008003,
	0x8000000000008002, 0x8000000000000080, 0x000000000000800A, 0x800000008000000A,
	0x8000000080008081, 0x8000000000008080, 0x0000000080000001, 0x8000000080008008,
}

// rotations[x+5y] is the rho offset of lane (x, y).
var rotations = [25]int{
	0, 1, 62, 28, 27,
	36, 44, 6, 55, 20,
	3, 10, 43, 25, 39,
	41, 45, 15, 21, 8,
	18, 2, 61, 56, 14,
}

func permute(a *[25]uint64) {
	var c, d [5]uint64
	var b [25]uint64
	for round := 0; round < rounds; round++ {
		// theta
		for x := 0; x < 5; x++ {
			c[x] = a[x] ^ a[x+5] ^ a[x+10] ^ a[x+15] ^ a[x+20]
		}
		for x := 0; x < 5; x++ {
			d[x] = c[(x+4)%5] ^ bits.RotateLeft64(c[(x+1)%5], 1)
		}
		for i := range a {
			a[i] ^= d[i%5]
		}

		// rho + pi: B[y, 2x+3y] = rot(A[x, y])
		for x := 0; x < 5; x++ {
			for y := 0; y < 5; y++ {
				b[y+5*((2*x+3*y)%5)] = bits.RotateLeft64(a[x+5*y], rotations[x+5*y])
			}
		}

		// chi
		for y := 0; y < 25; y += 5 {
			for x := 0; x < 5; x++ {
				a[y+x] = b[y+x] ^ (^b[y+(x+1)%5] & b[y+(x+2)%5])
			}
		}

		// iota
		a[0] ^= roundConstants[round]
	}
}

// Digest is a streaming Keccak-256 state. The zero value is not usable, use New.
type Digest struct {
	state [25]uint64
	buf   [Rate]byte
	n     int
}

var _ gohash.Hash = (*Digest)(nil)

// New returns a fresh Keccak-256 digest.
func New() *Digest {
	return &Digest{}
}

func (d *Digest) Size() int      { return Size }
func (d *Digest) BlockSize() int { return Rate }

func (d *Digest) Reset() {
	d.state = [25]uint64{}
	d.n = 0
}

func (d *Digest) absorbBlock(block []byte) {
	for i := 0; i < Rate/8; i++ {
		d.state[i] ^= binary.LittleEndian.Uint64(block[i*8:])
	}
	permute(&d.state)
}

// Write absorbs p. It never returns an error.
func (d *Digest) Write(p []byte) (int, error) {
	written := len(p)
	if d.n > 0 {
		k := copy(d.buf[d.n:], p)
		d.n += k
		p = p[k:]
		if d.n < Rate {
			return written, nil
		}
		d.absorbBlock(d.buf[:])
		d.n = 0
	}
	for len(p) >= Rate {
		d.absorbBlock(p[:Rate])
		p = p[Rate:]
	}
	d.n = copy(d.buf[:], p)
	return written, nil
}

// Sum appends the digest of the data written so far to b.
// The state of d is not modified.
func (d *Digest) Sum(b []byte) []byte {
	out := d.checkSum()
	return append(b, out[:]...)
}

func (d *Digest) checkSum() [Size]byte {
	// work on a copy so that Sum can be called repeatedly
	dup := *d
	for i := dup.n; i < Rate; i++ {
		dup.buf[i] = 0
	}
	dup.buf[dup.n] ^= domainByte
	dup.buf[Rate-1] ^= 0x80
	dup.absorbBlock(dup.buf[:])

	var out [Size]byte
	for i := 0; i < Size/8; i++ {
		binary.LittleEndian.PutUint64(out[i*8:], dup.state[i])
	}
	return out
}

// Sum256 returns the Keccak-256 digest of data.
func Sum256(data []byte) [Size]byte {
	d := Digest{}
	_, _ = d.Write(data)
	return d.checkSum()
}

// SumConcat hashes the concatenation of parts without allocating the joined buffer.
func SumConcat(parts ...[]byte) [Size]byte {
	d := Digest{}
	for _, p := range parts {
		_, _ = d.Write(p)
	}
	return d.checkSum()
}
