package prss

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dots-platform/skrecovery-app/cryptoutils"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	seedSize  = 32
	chainInfo = "skrecovery/prss/user/"
)

// chain is a forward-secure generator: every draw replaces the key with
// fresh keystream, so earlier outputs cannot be recomputed from the state.
type chain struct {
	key   [seedSize]byte
	epoch uint64
}

// deriveChain derives the initial per-user chain from an A-set root seed.
func deriveChain(root [seedSize]byte, user string) (*chain, error) {
	c := &chain{}
	r := hkdf.New(sha256.New, root[:], nil, []byte(chainInfo+user))
	if _, err := io.ReadFull(r, c.key[:]); err != nil {
		return nil, fmt.Errorf("failed to derive chain: %w", err)
	}
	return c, nil
}

// next ratchets the chain once and returns count scalars.
func (c *chain) next(count int) ([]*cryptoutils.Scalar, error) {
	var nonce [chacha20.NonceSize]byte
	stream, err := chacha20.NewUnauthenticatedCipher(c.key[:], nonce[:])
	if err != nil {
		return nil, err
	}

	buf := make([]byte, seedSize+count*cryptoutils.ScalarSize)
	stream.XORKeyStream(buf, buf)
	defer wipe(buf)

	out := make([]*cryptoutils.Scalar, count)
	for i := range out {
		off := seedSize + i*cryptoutils.ScalarSize
		s, err := cryptoutils.ScalarFromUniformBytes(buf[off : off+cryptoutils.ScalarSize])
		if err != nil {
			return nil, err
		}
		out[i] = s
	}

	copy(c.key[:], buf[:seedSize])
	c.epoch++
	return out, nil
}

func (c *chain) MarshalBinary() ([]byte, error) {
	out := make([]byte, 8+seedSize)
	binary.BigEndian.PutUint64(out[:8], c.epoch)
	copy(out[8:], c.key[:])
	return out, nil
}

func (c *chain) UnmarshalBinary(data []byte) error {
	if len(data) != 8+seedSize {
		return fmt.Errorf("invalid chain state length %d", len(data))
	}
	c.epoch = binary.BigEndian.Uint64(data[:8])
	copy(c.key[:], data[8:])
	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
