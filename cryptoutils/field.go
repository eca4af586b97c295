package cryptoutils

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Scalar is an element of the secp256k1 scalar field. All secrets, passwords
// and shares live in this field.
type Scalar = btcec.ModNScalar

// ScalarSize is the length of a canonical scalar encoding.
const ScalarSize = 32

// ErrScalarOverflow is returned when a 32-byte encoding is not below the group order.
var ErrScalarOverflow = errors.New("scalar encoding overflows group order")

// maxRandomAttempts bounds rejection sampling in RandomScalar.
const maxRandomAttempts = 128

// RandomScalar samples a uniform non-zero scalar from rng. A nil rng uses
// crypto/rand.
func RandomScalar(rng io.Reader) (*Scalar, error) {
	if rng == nil {
		rng = rand.Reader
	}

	var buf [ScalarSize]byte
	defer wipeBytes(buf[:])
	for i := 0; i < maxRandomAttempts; i++ {
		if _, err := io.ReadFull(rng, buf[:]); err != nil {
			return nil, fmt.Errorf("failed to read randomness: %w", err)
		}
		s := new(Scalar)
		if overflow := s.SetBytes(&buf); overflow != 0 || s.IsZero() {
			continue
		}
		return s, nil
	}
	return nil, errors.New("randomness source produced no usable scalar")
}

// ScalarFromBytes decodes a canonical big-endian scalar.
func ScalarFromBytes(b [ScalarSize]byte) (*Scalar, error) {
	s := new(Scalar)
	if overflow := s.SetBytes(&b); overflow != 0 {
		return nil, ErrScalarOverflow
	}
	return s, nil
}

// ScalarFromUniformBytes reduces 32 bytes modulo the group order.
func ScalarFromUniformBytes(b []byte) (*Scalar, error) {
	if len(b) != ScalarSize {
		return nil, fmt.Errorf("need %d bytes, got %d", ScalarSize, len(b))
	}
	s := new(Scalar)
	s.SetByteSlice(b)
	return s, nil
}

// ScalarFromInt returns the scalar for a small non-negative integer such as a
// party identifier.
func ScalarFromInt(i int) *Scalar {
	s := new(Scalar)
	s.SetInt(uint32(i))
	return s
}

// ScalarBytes returns the canonical encoding of s.
func ScalarBytes(s *Scalar) [ScalarSize]byte {
	return s.Bytes()
}

// ScalarHex is a debugging helper.
func ScalarHex(s *Scalar) string {
	b := s.Bytes()
	return hex.EncodeToString(b[:])
}

// Sub returns a - b.
func Sub(a, b *Scalar) *Scalar {
	neg := new(Scalar).NegateVal(b)
	return neg.Add(a)
}

// wipeBytes overwrites sensitive data with zeros.
func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
