package signing

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/dots-platform/skrecovery-app/cryptoutils"
	"github.com/dots-platform/skrecovery-app/interfaces"
)

const (
	keygenCommitTag = "skrecovery/keygen/commit"
	keygenPoKTag    = "skrecovery/keygen/pok"
)

var errOutOfOrder = errors.New("message outside the schedule")

// keygenReveal is the round-two broadcast: Feldman commitments to the dealt
// polynomial, a proof of knowledge of its constant term and the blind that
// opens the round-one hash.
type keygenReveal struct {
	Commitments [][]byte `json:"commitments"`
	ProofR      []byte   `json:"proof_r"`
	ProofZ      []byte   `json:"proof_z"`
	Blind       []byte   `json:"blind"`
}

// Keygen is a Pedersen distributed key generation in four rounds:
// commit, reveal, deal shares, confirm public shares.
type Keygen struct {
	self  int
	n     int
	t     int
	rng   io.Reader
	round int

	poly     *cryptoutils.Polynomial
	reveal   keygenReveal
	outbound []Message

	hashes      map[int][]byte
	commitments map[int][]*point
	received    map[int]*cryptoutils.Scalar
	secret      *cryptoutils.Scalar
	groupKey    *point
	expected    map[int]*point

	output []byte
}

// NewKeygen creates the keygen machine for party self.
func NewKeygen(cfg interfaces.Config, self int, rng io.Reader) (*Keygen, error) {
	if !cfg.ValidParty(self) {
		return nil, fmt.Errorf("%w: party %d", interfaces.ErrInvalidParameters, self)
	}
	if rng == nil {
		rng = rand.Reader
	}
	return &Keygen{
		self:        self,
		n:           cfg.N,
		t:           cfg.T,
		rng:         rng,
		hashes:      make(map[int][]byte),
		commitments: make(map[int][]*point),
		received:    make(map[int]*cryptoutils.Scalar),
		expected:    make(map[int]*point),
	}, nil
}

func (k *Keygen) Schedule() []Round {
	return []Round{
		{Index: 1, Kind: Broadcast},
		{Index: 2, Kind: Broadcast},
		{Index: 3, Kind: PointToPoint},
		{Index: 4, Kind: Broadcast},
	}
}

func (k *Keygen) Outbound() []Message {
	return k.outbound
}

func (k *Keygen) Finished() bool {
	return k.output != nil
}

func (k *Keygen) Output() ([]byte, error) {
	if k.output == nil {
		return nil, errors.New("keygen not finished")
	}
	return k.output, nil
}

func (k *Keygen) Advance() error {
	k.round++
	k.outbound = nil
	switch k.round {
	case 1:
		return k.commit()
	case 2:
		payload, err := json.Marshal(k.reveal)
		if err != nil {
			return err
		}
		k.outbound = []Message{{Payload: payload}}
		return nil
	case 3:
		k.deal()
		return nil
	case 4:
		return k.confirm()
	case 5:
		return k.finish()
	default:
		return errOutOfOrder
	}
}

func (k *Keygen) HandleInbound(from int, payload []byte) error {
	switch k.round {
	case 1:
		if len(payload) != 32 {
			return fmt.Errorf("commitment hash of %d bytes", len(payload))
		}
		k.hashes[from] = payload
		return nil
	case 2:
		return k.verifyReveal(from, payload)
	case 3:
		return k.verifyShare(from, payload)
	case 4:
		y, err := decodePoint(payload)
		if err != nil {
			return err
		}
		if !pointsEqual(y, k.expected[from]) {
			return fmt.Errorf("%w: public share of party %d does not match commitments", interfaces.ErrInvalidShare, from)
		}
		return nil
	default:
		return errOutOfOrder
	}
}

func (k *Keygen) commit() error {
	a0, err := cryptoutils.RandomScalar(k.rng)
	if err != nil {
		return err
	}
	k.poly, err = cryptoutils.NewRandomPolynomial(a0, k.t, k.rng)
	a0.Zero()
	if err != nil {
		return err
	}

	commitments := make([]*point, k.t+1)
	k.reveal.Commitments = make([][]byte, k.t+1)
	for i := range commitments {
		commitments[i] = baseMul(k.poly.Coefficient(i))
		if k.reveal.Commitments[i], err = encodePoint(commitments[i]); err != nil {
			return err
		}
	}
	k.commitments[k.self] = commitments

	nonce, err := cryptoutils.RandomScalar(k.rng)
	if err != nil {
		return err
	}
	if k.reveal.ProofR, err = encodePoint(baseMul(nonce)); err != nil {
		return err
	}
	c := hashToScalar(keygenPoKTag, partyBytes(k.self), k.reveal.Commitments[0], k.reveal.ProofR)
	z := c.Mul(k.poly.Coefficient(0)).Add(nonce)
	k.reveal.ProofZ = encodeScalar(z)
	nonce.Zero()

	k.reveal.Blind = make([]byte, 32)
	if _, err := io.ReadFull(k.rng, k.reveal.Blind); err != nil {
		return err
	}

	k.outbound = []Message{{Payload: k.revealHash(k.self, &k.reveal)}}
	return nil
}

func (k *Keygen) revealHash(party int, r *keygenReveal) []byte {
	parts := [][]byte{partyBytes(party)}
	parts = append(parts, r.Commitments...)
	parts = append(parts, r.ProofR, r.ProofZ, r.Blind)
	return commitHash(keygenCommitTag, parts...)
}

func (k *Keygen) verifyReveal(from int, payload []byte) error {
	var r keygenReveal
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Errorf("decode reveal: %w", err)
	}
	if !bytes.Equal(k.revealHash(from, &r), k.hashes[from]) {
		return errors.New("reveal does not open the round one commitment")
	}
	if len(r.Commitments) != k.t+1 {
		return fmt.Errorf("%d commitments, expected %d", len(r.Commitments), k.t+1)
	}

	commitments := make([]*point, len(r.Commitments))
	for i, b := range r.Commitments {
		p, err := decodePoint(b)
		if err != nil {
			return err
		}
		commitments[i] = p
	}

	// z*G == R + c*C_0
	proofR, err := decodePoint(r.ProofR)
	if err != nil {
		return err
	}
	z, err := decodeScalar(r.ProofZ)
	if err != nil {
		return err
	}
	c := hashToScalar(keygenPoKTag, partyBytes(from), r.Commitments[0], r.ProofR)
	if !pointsEqual(baseMul(z), add(proofR, mul(c, commitments[0]))) {
		return errors.New("invalid proof of knowledge")
	}

	k.commitments[from] = commitments
	return nil
}

func (k *Keygen) deal() {
	for id := 1; id <= k.n; id++ {
		share := k.poly.EvaluateAt(id)
		if id == k.self {
			k.received[id] = share
			continue
		}
		k.outbound = append(k.outbound, Message{To: id, Payload: encodeScalar(share)})
	}
}

// evalCommitments returns sum_k C_k * x^k, the public image of the dealt
// polynomial at x.
func evalCommitments(commitments []*point, x int) *point {
	xs := cryptoutils.ScalarFromInt(x)
	power := cryptoutils.ScalarFromInt(1)
	acc := new(point)
	for _, c := range commitments {
		acc = add(acc, mul(power, c))
		power.Mul(xs)
	}
	return acc
}

func (k *Keygen) verifyShare(from int, payload []byte) error {
	s, err := decodeScalar(payload)
	if err != nil {
		return err
	}
	if !pointsEqual(baseMul(s), evalCommitments(k.commitments[from], k.self)) {
		return fmt.Errorf("%w: share from party %d does not match its commitments", interfaces.ErrInvalidShare, from)
	}
	k.received[from] = s
	return nil
}

func (k *Keygen) confirm() error {
	k.secret = new(cryptoutils.Scalar)
	k.groupKey = new(point)
	for id := 1; id <= k.n; id++ {
		k.secret.Add(k.received[id])
		k.groupKey = add(k.groupKey, k.commitments[id][0])
	}
	if k.secret.IsZero() || isIdentity(k.groupKey) {
		return interfaces.ErrDegeneratePolynomial
	}

	for j := 1; j <= k.n; j++ {
		y := new(point)
		for i := 1; i <= k.n; i++ {
			y = add(y, evalCommitments(k.commitments[i], j))
		}
		k.expected[j] = y
	}

	own, err := encodePoint(baseMul(k.secret))
	if err != nil {
		return err
	}
	k.outbound = []Message{{Payload: own}}
	return nil
}

func (k *Keygen) finish() error {
	groupKey, err := encodePoint(k.groupKey)
	if err != nil {
		return err
	}
	share := KeyShare{
		ID:           k.self,
		N:            k.n,
		T:            k.t,
		Secret:       encodeScalar(k.secret),
		GroupKey:     groupKey,
		PublicShares: make(map[int][]byte, k.n),
	}
	for id, y := range k.expected {
		if share.PublicShares[id], err = encodePoint(y); err != nil {
			return err
		}
	}
	if !pointsEqual(baseMul(k.secret), k.expected[k.self]) {
		return fmt.Errorf("%w: own share does not match commitments", interfaces.ErrInvalidShare)
	}

	k.output, err = json.Marshal(&share)
	k.poly.Zeroize()
	return err
}
