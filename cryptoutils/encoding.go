package cryptoutils

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
)

const (
	// ChunkSize is the number of secret bytes carried by one field element.
	ChunkSize = 31
	// BlockSize is the padded block width; one block encodes one scalar.
	BlockSize = ScalarSize
)

var (
	// ErrInvalidSecret is returned for secrets that are not valid UTF-8.
	ErrInvalidSecret = errors.New("secret must be valid UTF-8")
	// ErrInvalidPadding is returned when a recovered block is not PKCS#7 padded.
	ErrInvalidPadding = errors.New("invalid block padding")
)

// Block is one padded chunk of a secret.
type Block [BlockSize]byte

// EncodeSecret splits UTF-8 text into ChunkSize-byte chunks and pads each to
// BlockSize with PKCS#7. The empty secret encodes to a single padding block.
//
// UTF-8 never contains 0xFF and the pad byte is at most 0x20, so every block
// read as a big-endian integer is below the secp256k1 group order.
func EncodeSecret(secret string) ([]Block, error) {
	if !utf8.ValidString(secret) {
		return nil, ErrInvalidSecret
	}

	data := []byte(secret)
	n := len(data)/ChunkSize + 1
	if len(data) > 0 && len(data)%ChunkSize == 0 {
		n--
	}

	blocks := make([]Block, 0, n)
	for off := 0; off < len(data) || len(blocks) == 0; off += ChunkSize {
		end := off + ChunkSize
		if end > len(data) {
			end = len(data)
		}
		blocks = append(blocks, padBlock(data[off:end]))
	}
	return blocks, nil
}

// DecodeSecret reverses EncodeSecret.
func DecodeSecret(blocks []Block) (string, error) {
	if len(blocks) == 0 {
		return "", fmt.Errorf("%w: no blocks", ErrInvalidPadding)
	}
	out := make([]byte, 0, len(blocks)*ChunkSize)
	for i := range blocks {
		chunk, err := unpadBlock(blocks[i])
		if err != nil {
			return "", fmt.Errorf("block %d: %w", i, err)
		}
		out = append(out, chunk...)
	}
	if !utf8.Valid(out) {
		return "", ErrInvalidSecret
	}
	return string(out), nil
}

func padBlock(chunk []byte) Block {
	var b Block
	copy(b[:], chunk)
	pad := byte(BlockSize - len(chunk))
	for i := len(chunk); i < BlockSize; i++ {
		b[i] = pad
	}
	return b
}

func unpadBlock(b Block) ([]byte, error) {
	pad := int(b[BlockSize-1])
	if pad < BlockSize-ChunkSize || pad > BlockSize {
		return nil, ErrInvalidPadding
	}
	for _, v := range b[BlockSize-pad:] {
		if int(v) != pad {
			return nil, ErrInvalidPadding
		}
	}
	return b[:BlockSize-pad], nil
}

// Scalar interprets the block as a big-endian scalar.
func (b Block) Scalar() (*Scalar, error) {
	return ScalarFromBytes(b)
}

// BlockFromScalar is the inverse of Block.Scalar.
func BlockFromScalar(s *Scalar) Block {
	return Block(s.Bytes())
}

// HashPassword maps a password to a scalar: BLAKE2s-256 reduced modulo the
// group order.
func HashPassword(password string) *Scalar {
	digest := blake2s.Sum256([]byte(password))
	s := new(Scalar)
	s.SetBytes(&digest)
	return s
}

// SaltedHash computes BLAKE2b-512(salt || block_1 || ... || block_k).
func SaltedHash(salt []byte, blocks []Block) []byte {
	h, _ := blake2b.New512(nil)
	h.Write(salt)
	for i := range blocks {
		h.Write(blocks[i][:])
	}
	return h.Sum(nil)
}

// VerifySaltedHash compares the salted hash of blocks with expected in
// constant time.
func VerifySaltedHash(salt []byte, blocks []Block, expected []byte) bool {
	return subtle.ConstantTimeCompare(SaltedHash(salt, blocks), expected) == 1
}
