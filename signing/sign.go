package signing

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/dots-platform/skrecovery-app/cryptoutils"
	"github.com/dots-platform/skrecovery-app/interfaces"
)

const (
	nonceCommitTag = "skrecovery/sign/commit"
	bindingTag     = "skrecovery/sign/binding"
)

// SignatureSize is the length of a BIP-340 signature.
const SignatureSize = 64

type nonceReveal struct {
	D     []byte `json:"d"`
	E     []byte `json:"e"`
	Blind []byte `json:"blind"`
}

// Signer produces a BIP-340 Schnorr signature with the active parties in
// three broadcast rounds: commit to nonces, reveal nonces, exchange partial
// signatures.
type Signer struct {
	share  *KeyShare
	secret *cryptoutils.Scalar
	pub    *point
	active []int
	digest [32]byte
	rng    io.Reader
	round  int

	d, e     *cryptoutils.Scalar
	reveal   nonceReveal
	outbound []Message

	hashes  map[int][]byte
	nonces  map[int][2]*point
	partial map[int]*cryptoutils.Scalar

	// Per-signature values fixed in round three.
	bindings  map[int]*cryptoutils.Scalar
	groupR    *point
	challenge *cryptoutils.Scalar
	negR      bool
	negP      bool

	output []byte
}

// NewSigner creates the signing machine for share.ID over the sorted active
// set. The signed digest is SHA-256 of message.
func NewSigner(share *KeyShare, active []int, message []byte, rng io.Reader) (*Signer, error) {
	if err := share.Validate(); err != nil {
		return nil, err
	}
	if !slices.Contains(active, share.ID) {
		return nil, fmt.Errorf("%w: party %d is not an active signer", interfaces.ErrInvalidParameters, share.ID)
	}
	if len(active) < share.T+1 {
		return nil, fmt.Errorf("%w: %d signers below threshold %d", interfaces.ErrInsufficientShares, len(active), share.T+1)
	}
	secret, _ := share.secret()
	pub, err := share.groupKey()
	if err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.Reader
	}
	return &Signer{
		share:   share,
		secret:  secret,
		pub:     pub,
		active:  active,
		digest:  sha256.Sum256(message),
		rng:     rng,
		hashes:  make(map[int][]byte),
		nonces:  make(map[int][2]*point),
		partial: make(map[int]*cryptoutils.Scalar),
	}, nil
}

func (s *Signer) Schedule() []Round {
	return []Round{
		{Index: 1, Kind: Broadcast},
		{Index: 2, Kind: Broadcast},
		{Index: 3, Kind: Broadcast},
	}
}

func (s *Signer) Outbound() []Message {
	return s.outbound
}

func (s *Signer) Finished() bool {
	return s.output != nil
}

// Output returns the 64-byte signature.
func (s *Signer) Output() ([]byte, error) {
	if s.output == nil {
		return nil, errors.New("signing not finished")
	}
	return s.output, nil
}

func (s *Signer) Advance() error {
	s.round++
	s.outbound = nil
	switch s.round {
	case 1:
		return s.commit()
	case 2:
		payload, err := json.Marshal(s.reveal)
		if err != nil {
			return err
		}
		s.outbound = []Message{{Payload: payload}}
		return nil
	case 3:
		return s.sign()
	case 4:
		return s.aggregate()
	default:
		return errOutOfOrder
	}
}

func (s *Signer) HandleInbound(from int, payload []byte) error {
	if !slices.Contains(s.active, from) {
		return fmt.Errorf("party %d is not an active signer", from)
	}
	switch s.round {
	case 1:
		if len(payload) != 32 {
			return fmt.Errorf("nonce commitment of %d bytes", len(payload))
		}
		s.hashes[from] = payload
		return nil
	case 2:
		return s.verifyReveal(from, payload)
	case 3:
		z, err := decodeScalar(payload)
		if err != nil {
			return err
		}
		if err := s.verifyPartial(from, z); err != nil {
			return err
		}
		s.partial[from] = z
		return nil
	default:
		return errOutOfOrder
	}
}

func (s *Signer) commit() error {
	var err error
	if s.d, err = cryptoutils.RandomScalar(s.rng); err != nil {
		return err
	}
	if s.e, err = cryptoutils.RandomScalar(s.rng); err != nil {
		return err
	}
	D, E := baseMul(s.d), baseMul(s.e)
	s.nonces[s.share.ID] = [2]*point{D, E}

	if s.reveal.D, err = encodePoint(D); err != nil {
		return err
	}
	if s.reveal.E, err = encodePoint(E); err != nil {
		return err
	}
	s.reveal.Blind = make([]byte, 32)
	if _, err := io.ReadFull(s.rng, s.reveal.Blind); err != nil {
		return err
	}
	s.outbound = []Message{{Payload: nonceHash(s.share.ID, &s.reveal)}}
	return nil
}

func nonceHash(party int, r *nonceReveal) []byte {
	return commitHash(nonceCommitTag, partyBytes(party), r.D, r.E, r.Blind)
}

func (s *Signer) verifyReveal(from int, payload []byte) error {
	var r nonceReveal
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Errorf("decode nonces: %w", err)
	}
	if !bytes.Equal(nonceHash(from, &r), s.hashes[from]) {
		return errors.New("nonces do not open the round one commitment")
	}
	D, err := decodePoint(r.D)
	if err != nil {
		return err
	}
	E, err := decodePoint(r.E)
	if err != nil {
		return err
	}
	s.nonces[from] = [2]*point{D, E}
	return nil
}

// commitmentList encodes every signer's nonces in identifier order.
func (s *Signer) commitmentList() ([]byte, error) {
	var buf bytes.Buffer
	for _, id := range s.active {
		buf.Write(partyBytes(id))
		for _, p := range s.nonces[id] {
			b, err := encodePoint(p)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
	}
	return buf.Bytes(), nil
}

// nonceFor returns R_i = D_i + rho_i * E_i, negated when the group R has odd y.
func (s *Signer) nonceFor(id int) *point {
	n := s.nonces[id]
	r := add(n[0], mul(s.bindings[id], n[1]))
	if s.negR {
		return neg(r)
	}
	return r
}

func (s *Signer) sign() error {
	list, err := s.commitmentList()
	if err != nil {
		return err
	}

	s.bindings = make(map[int]*cryptoutils.Scalar, len(s.active))
	s.groupR = new(point)
	for _, id := range s.active {
		rho := hashToScalar(bindingTag, partyBytes(id), s.digest[:], list)
		s.bindings[id] = rho
		n := s.nonces[id]
		s.groupR = add(s.groupR, add(n[0], mul(rho, n[1])))
	}
	if isIdentity(s.groupR) {
		return errors.New("group nonce is the identity")
	}
	s.negR = hasOddY(s.groupR)
	s.negP = hasOddY(s.pub)
	s.challenge = challenge(s.groupR, s.pub, s.digest[:])

	lambda, err := cryptoutils.LagrangeCoefficient(s.share.ID, s.active)
	if err != nil {
		return err
	}

	// z_i = k_i + c * lambda_i * s_i with k_i and s_i sign-adjusted for
	// even-y R and P.
	k := new(cryptoutils.Scalar).Set(s.bindings[s.share.ID]).Mul(s.e).Add(s.d)
	if s.negR {
		k.Negate()
	}
	sk := new(cryptoutils.Scalar).Set(s.secret)
	if s.negP {
		sk.Negate()
	}
	z := lambda.Mul(s.challenge).Mul(sk).Add(k)
	s.partial[s.share.ID] = z

	k.Zero()
	sk.Zero()
	s.d.Zero()
	s.e.Zero()

	s.outbound = []Message{{Payload: encodeScalar(z)}}
	return nil
}

// verifyPartial checks z_j * G == R_j + c * lambda_j * Y_j.
func (s *Signer) verifyPartial(from int, z *cryptoutils.Scalar) error {
	y, err := s.share.publicShare(from)
	if err != nil {
		return err
	}
	if s.negP {
		y = neg(y)
	}
	lambda, err := cryptoutils.LagrangeCoefficient(from, s.active)
	if err != nil {
		return err
	}
	expected := add(s.nonceFor(from), mul(lambda.Mul(s.challenge), y))
	if !pointsEqual(baseMul(z), expected) {
		return fmt.Errorf("%w: invalid partial signature from party %d", interfaces.ErrInvalidShare, from)
	}
	return nil
}

func (s *Signer) aggregate() error {
	z := new(cryptoutils.Scalar)
	for _, id := range s.active {
		z.Add(s.partial[id])
	}

	rx := xOnly(s.groupR)
	sig := make([]byte, 0, SignatureSize)
	sig = append(sig, rx[:]...)
	sig = append(sig, encodeScalar(z)...)

	if err := verifyDigest(s.share.GroupKey, s.digest[:], sig); err != nil {
		return err
	}
	s.output = sig
	return nil
}

func verifyDigest(groupKey, digest, sig []byte) error {
	pk, err := (&PublicKey{GroupKey: groupKey}).XOnly()
	if err != nil {
		return err
	}
	pub, err := schnorr.ParsePubKey(pk)
	if err != nil {
		return err
	}
	parsed, err := schnorr.ParseSignature(sig)
	if err != nil {
		return err
	}
	if !parsed.Verify(digest, pub) {
		return errors.New("signature does not verify under the group key")
	}
	return nil
}

// Verify checks a BIP-340 signature over SHA-256(message) against a
// compressed group key.
func Verify(groupKey, message, sig []byte) error {
	digest := sha256.Sum256(message)
	return verifyDigest(groupKey, digest[:], sig)
}
