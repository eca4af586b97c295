package signing

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/dots-platform/skrecovery-app/cryptoutils"
)

type point = btcec.JacobianPoint

var errIdentity = errors.New("point at infinity")

func baseMul(k *cryptoutils.Scalar) *point {
	var p point
	btcec.ScalarBaseMultNonConst(k, &p)
	return &p
}

func mul(k *cryptoutils.Scalar, p *point) *point {
	var out point
	btcec.ScalarMultNonConst(k, p, &out)
	return &out
}

func add(a, b *point) *point {
	var out point
	btcec.AddNonConst(a, b, &out)
	return &out
}

func neg(p *point) *point {
	out := *p
	out.ToAffine()
	out.Y.Negate(1).Normalize()
	return &out
}

func isIdentity(p *point) bool {
	return (p.X.IsZero() && p.Y.IsZero()) || p.Z.IsZero()
}

// encodePoint returns the 33-byte compressed encoding.
func encodePoint(p *point) ([]byte, error) {
	if isIdentity(p) {
		return nil, errIdentity
	}
	a := *p
	a.ToAffine()
	return btcec.NewPublicKey(&a.X, &a.Y).SerializeCompressed(), nil
}

func decodePoint(b []byte) (*point, error) {
	pk, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, fmt.Errorf("invalid point: %w", err)
	}
	var p point
	pk.AsJacobian(&p)
	return &p, nil
}

func pointsEqual(a, b *point) bool {
	ea, errA := encodePoint(a)
	eb, errB := encodePoint(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

func hasOddY(p *point) bool {
	a := *p
	a.ToAffine()
	return a.Y.IsOdd()
}

func xOnly(p *point) [32]byte {
	a := *p
	a.ToAffine()
	return *a.X.Bytes()
}

func decodeScalar(b []byte) (*cryptoutils.Scalar, error) {
	if len(b) != cryptoutils.ScalarSize {
		return nil, fmt.Errorf("invalid scalar length %d", len(b))
	}
	return cryptoutils.ScalarFromBytes([32]byte(b))
}

func encodeScalar(s *cryptoutils.Scalar) []byte {
	b := s.Bytes()
	return b[:]
}

// hashToScalar computes SHA-256 over a domain tag and the given parts,
// reduced modulo the group order.
func hashToScalar(tag string, parts ...[]byte) *cryptoutils.Scalar {
	h := sha256.New()
	h.Write([]byte(tag))
	for _, p := range parts {
		h.Write(p)
	}
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	s := new(cryptoutils.Scalar)
	s.SetBytes(&digest)
	return s
}

func commitHash(tag string, parts ...[]byte) []byte {
	h := sha256.New()
	h.Write([]byte(tag))
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

var bip340ChallengeTag = sha256.Sum256([]byte("BIP0340/challenge"))

// challenge is the BIP-340 challenge e = H_tag(R.x || P.x || m) mod n.
func challenge(r, pub *point, msg []byte) *cryptoutils.Scalar {
	rx := xOnly(r)
	px := xOnly(pub)

	h := sha256.New()
	h.Write(bip340ChallengeTag[:])
	h.Write(bip340ChallengeTag[:])
	h.Write(rx[:])
	h.Write(px[:])
	h.Write(msg)

	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	e := new(cryptoutils.Scalar)
	e.SetBytes(&digest)
	return e
}

func partyBytes(id int) []byte {
	return []byte{byte(id >> 8), byte(id)}
}
