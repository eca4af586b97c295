package signing

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/dots-platform/skrecovery-app/cryptoutils"
	"github.com/dots-platform/skrecovery-app/interfaces"
)

// Params are the arguments of the keygen and signing operations.
type Params struct {
	NumParties    int    `json:"num_parties"`
	Threshold     int    `json:"num_threshold"`
	ActiveParties []int  `json:"active_parties,omitempty"`
	Message       []byte `json:"message,omitempty"`
}

// ParseParams decodes and checks signing parameters for a cluster of size n.
func ParseParams(data []byte, n int) (*Params, error) {
	var p Params
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: signing params: %w", interfaces.ErrInvalidParameters, err)
	}
	if p.NumParties != n {
		return nil, fmt.Errorf("%w: num_parties %d on a cluster of %d", interfaces.ErrInvalidParameters, p.NumParties, n)
	}
	if p.Threshold < 1 || p.Threshold >= p.NumParties {
		return nil, fmt.Errorf("%w: threshold %d with %d parties", interfaces.ErrInvalidParameters, p.Threshold, p.NumParties)
	}
	return &p, nil
}

// Signers validates and sorts the active set for a threshold of t.
func (p *Params) Signers() ([]int, error) {
	active := append([]int(nil), p.ActiveParties...)
	sort.Ints(active)
	if len(active) < p.Threshold+1 {
		return nil, fmt.Errorf("%w: %d active parties, need %d", interfaces.ErrInvalidParameters, len(active), p.Threshold+1)
	}
	for i, id := range active {
		if id < 1 || id > p.NumParties {
			return nil, fmt.Errorf("%w: active party %d", interfaces.ErrInvalidParameters, id)
		}
		if i > 0 && active[i-1] == id {
			return nil, fmt.Errorf("%w: %d", interfaces.ErrDuplicateIdentifier, id)
		}
	}
	return active, nil
}

// KeyShare is one party's output of distributed key generation.
type KeyShare struct {
	ID           int            `json:"id"`
	N            int            `json:"n"`
	T            int            `json:"t"`
	Secret       []byte         `json:"secret"`
	GroupKey     []byte         `json:"group_key"`
	PublicShares map[int][]byte `json:"public_shares"`
}

func (k *KeyShare) secret() (*cryptoutils.Scalar, error) {
	return decodeScalar(k.Secret)
}

func (k *KeyShare) groupKey() (*point, error) {
	return decodePoint(k.GroupKey)
}

func (k *KeyShare) publicShare(id int) (*point, error) {
	b, ok := k.PublicShares[id]
	if !ok {
		return nil, fmt.Errorf("no public share for party %d", id)
	}
	return decodePoint(b)
}

// Validate checks the share is internally consistent.
func (k *KeyShare) Validate() error {
	if k.ID < 1 || k.ID > k.N || k.T < 1 || k.T >= k.N {
		return fmt.Errorf("%w: key share %d of %d at threshold %d", interfaces.ErrInvalidParameters, k.ID, k.N, k.T)
	}
	s, err := k.secret()
	if err != nil {
		return fmt.Errorf("%w: key share secret: %w", interfaces.ErrInvalidShare, err)
	}
	y, err := k.publicShare(k.ID)
	if err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrInvalidShare, err)
	}
	if !pointsEqual(baseMul(s), y) {
		return fmt.Errorf("%w: secret does not match public share", interfaces.ErrInvalidShare)
	}
	if _, err := k.groupKey(); err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrInvalidShare, err)
	}
	return nil
}

// PublicKey is the group key returned to clients after keygen.
type PublicKey struct {
	GroupKey []byte `json:"group_key"`
}

// XOnly returns the 32-byte BIP-340 encoding of the group key.
func (p *PublicKey) XOnly() ([]byte, error) {
	pk, err := btcec.ParsePubKey(p.GroupKey)
	if err != nil {
		return nil, err
	}
	return schnorr.SerializePubKey(pk), nil
}
