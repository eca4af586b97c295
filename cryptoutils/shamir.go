package cryptoutils

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dots-platform/skrecovery-app/interfaces"
)

// ShareSize is the length of an encoded share: identifier byte plus scalar.
const ShareSize = 1 + ScalarSize

// Share is one evaluation of a sharing polynomial.
type Share struct {
	// ID is the public evaluation point, 1..N.
	ID uint8
	// Value is the canonical encoding of the polynomial at ID.
	Value [ScalarSize]byte
}

// NewShare builds a share from an identifier and a scalar.
func NewShare(id int, value *Scalar) Share {
	return Share{ID: uint8(id), Value: value.Bytes()}
}

// Scalar decodes the share value.
func (s Share) Scalar() (*Scalar, error) {
	v, err := ScalarFromBytes(s.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: share %d: %v", interfaces.ErrInvalidShare, s.ID, err)
	}
	return v, nil
}

// Bytes returns the wire form: identifier followed by value.
func (s Share) Bytes() []byte {
	out := make([]byte, ShareSize)
	out[0] = s.ID
	copy(out[1:], s.Value[:])
	return out
}

// ShareFromBytes parses the wire form produced by Bytes.
func ShareFromBytes(b []byte) (Share, error) {
	if len(b) != ShareSize {
		return Share{}, fmt.Errorf("%w: length %d, want %d", interfaces.ErrInvalidShare, len(b), ShareSize)
	}
	var s Share
	s.ID = b[0]
	copy(s.Value[:], b[1:])
	if s.ID == 0 {
		return Share{}, fmt.Errorf("%w: identifier 0", interfaces.ErrInvalidShare)
	}
	return s, nil
}

func (s Share) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(s.Bytes()))
}

func (s *Share) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	raw, err := hex.DecodeString(str)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrInvalidShare, err)
	}
	parsed, err := ShareFromBytes(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Split shares secret among n parties so that any t+1 shares reconstruct it.
// Shares are evaluations of a random degree-t polynomial at identifiers 1..n.
func Split(secret *Scalar, n, t int, rng io.Reader) ([]Share, error) {
	if t < 0 || t >= n || n > interfaces.MaxParties {
		return nil, fmt.Errorf("%w: n=%d t=%d", interfaces.ErrInvalidParameters, n, t)
	}

	poly, err := NewRandomPolynomial(secret, t, rng)
	if err != nil {
		return nil, err
	}
	defer poly.Zeroize()

	shares := make([]Share, n)
	for i := 1; i <= n; i++ {
		shares[i-1] = NewShare(i, poly.EvaluateAt(i))
	}
	return shares, nil
}

// Combine interpolates the constant term from the first threshold+1 shares.
//
// Shares produced by multiplying two degree-t sharings lie on a degree-2t
// polynomial and must be combined with threshold 2t.
func Combine(shares []Share, threshold int) (*Scalar, error) {
	if threshold < 0 {
		return nil, fmt.Errorf("%w: threshold %d", interfaces.ErrInvalidParameters, threshold)
	}
	if len(shares) < threshold+1 {
		return nil, fmt.Errorf("%w: have %d, need %d", interfaces.ErrInsufficientShares, len(shares), threshold+1)
	}

	seen := make(map[uint8]struct{}, len(shares))
	for _, s := range shares {
		if s.ID == 0 {
			return nil, fmt.Errorf("%w: identifier 0", interfaces.ErrInvalidShare)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("%w: %d", interfaces.ErrDuplicateIdentifier, s.ID)
		}
		seen[s.ID] = struct{}{}
	}

	used := shares[:threshold+1]
	ids := make([]int, len(used))
	values := make([]*Scalar, len(used))
	for i, s := range used {
		v, err := s.Scalar()
		if err != nil {
			return nil, err
		}
		ids[i] = int(s.ID)
		values[i] = v
	}
	return InterpolateAtZero(ids, values)
}

// InterpolateAtZero evaluates at x=0 the unique polynomial of degree
// len(ids)-1 through the points (ids[i], values[i]).
func InterpolateAtZero(ids []int, values []*Scalar) (*Scalar, error) {
	if len(ids) != len(values) {
		return nil, fmt.Errorf("%w: %d ids for %d values", interfaces.ErrInvalidParameters, len(ids), len(values))
	}

	result := new(Scalar)
	for i, id := range ids {
		lambda, err := LagrangeCoefficient(id, ids)
		if err != nil {
			return nil, err
		}
		result.Add(lambda.Mul(values[i]))
	}
	return result, nil
}

// LagrangeCoefficient returns the coefficient of party id when interpolating
// at zero over ids: prod_{j != id} x_j / (x_j - x_id).
func LagrangeCoefficient(id int, ids []int) (*Scalar, error) {
	xi := ScalarFromInt(id)
	num := ScalarFromInt(1)
	den := ScalarFromInt(1)
	found := false

	for _, j := range ids {
		if j == id {
			if found {
				return nil, fmt.Errorf("%w: %d", interfaces.ErrDuplicateIdentifier, id)
			}
			found = true
			continue
		}
		xj := ScalarFromInt(j)
		num.Mul(xj)
		den.Mul(Sub(xj, xi))
	}
	if !found {
		return nil, fmt.Errorf("%w: %d not in interpolation set", interfaces.ErrInvalidParameters, id)
	}
	if den.IsZero() {
		return nil, fmt.Errorf("%w: %d", interfaces.ErrDuplicateIdentifier, id)
	}

	return num.Mul(den.InverseNonConst()), nil
}
