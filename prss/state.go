package prss

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/dots-platform/skrecovery-app/cryptoutils"
	"github.com/dots-platform/skrecovery-app/interfaces"
	"golang.org/x/crypto/blake2b"
)

// generator holds one A-set's root seed and the per-user chains derived
// from it. mu serialises draws on this A-set.
type generator struct {
	mu     sync.Mutex
	aset   ASet
	root   [seedSize]byte
	rootID string
	chains map[string]*chain
}

func newGenerator(aset ASet, root [seedSize]byte) *generator {
	fp := blake2b.Sum256(root[:])
	return &generator{
		aset:   aset,
		root:   root,
		rootID: hex.EncodeToString(fp[:8]),
		chains: make(map[string]*chain),
	}
}

func (g *generator) chainKey(user string) string {
	return fmt.Sprintf("prss/%s/%s/users/%s", g.aset.Label(), g.rootID, url.PathEscape(user))
}

func (g *generator) chainFor(ctx context.Context, store interfaces.BlobStore, user string) (*chain, error) {
	if c, ok := g.chains[user]; ok {
		return c, nil
	}

	if store != nil {
		data, err := store.Get(ctx, g.chainKey(user))
		switch {
		case err == nil:
			c := &chain{}
			if err := c.UnmarshalBinary(data); err != nil {
				return nil, err
			}
			g.chains[user] = c
			return c, nil
		case !errors.Is(err, interfaces.ErrBlobNotFound):
			return nil, fmt.Errorf("failed to load chain state: %w", err)
		}
	}

	c, err := deriveChain(g.root, user)
	if err != nil {
		return nil, err
	}
	g.chains[user] = c
	return c, nil
}

func (g *generator) draw(ctx context.Context, store interfaces.BlobStore, user string, count int, minEpoch uint64) ([]*cryptoutils.Scalar, uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, err := g.chainFor(ctx, store, user)
	if err != nil {
		return nil, 0, err
	}
	if minEpoch > c.epoch && minEpoch-c.epoch > MaxEpochSkip {
		return nil, 0, fmt.Errorf("%w: A-set %s at epoch %d cannot catch up to %d; reseed required",
			interfaces.ErrMissingCorrelatedRandomness, g.aset.Label(), c.epoch, minEpoch)
	}
	for c.epoch < minEpoch {
		if _, err := c.next(0); err != nil {
			return nil, 0, err
		}
	}
	scalars, err := c.next(count)
	if err != nil {
		return nil, 0, err
	}

	if store != nil {
		data, _ := c.MarshalBinary()
		if err := store.Put(ctx, g.chainKey(user), data); err != nil {
			return nil, 0, fmt.Errorf("failed to persist chain state: %w", err)
		}
	}
	return scalars, c.epoch, nil
}

// MaxEpochSkip bounds how far a lagging chain is ratcheted forward in one
// draw.
const MaxEpochSkip = 4096

// Contribution is one server's correlated randomness for a recovery attempt.
type Contribution struct {
	// Epoch counts the attempts drawn for the user since seeding. All
	// servers report the same epoch for the same attempt.
	Epoch uint64
	// Roots maps every A-set label of this party to a fingerprint of its
	// root seed. Members of an A-set agree on it unless a seed phase only
	// completed on some of them.
	Roots map[string]string
	// R holds this server's degree-T share of a fresh random element, one
	// per chunk.
	R []*cryptoutils.Scalar
	// Zero holds this server's degree-2T share of zero, one per chunk.
	Zero []*cryptoutils.Scalar
}

// State is a server's correlated-randomness state: one generator per A-set
// it belongs to.
type State struct {
	cfg   interfaces.Config
	self  int
	sets  []ASet
	store interfaces.BlobStore
	log   *slog.Logger

	mu   sync.RWMutex
	gens map[int]*generator
}

// NewState creates an empty state for party self. store persists seeds and
// chain positions; it may be nil for in-memory use.
func NewState(cfg interfaces.Config, self int, store interfaces.BlobStore, log *slog.Logger) (*State, error) {
	if !cfg.ValidParty(self) {
		return nil, fmt.Errorf("%w: party %d", interfaces.ErrInvalidParameters, self)
	}
	return &State{
		cfg:   cfg,
		self:  self,
		sets:  ASetsFor(cfg, self),
		store: store,
		log:   log,
		gens:  make(map[int]*generator),
	}, nil
}

// Self is the owning party.
func (s *State) Self() int {
	return s.self
}

// Sets lists the A-sets this party belongs to.
func (s *State) Sets() []ASet {
	return s.sets
}

func seedKey(a ASet) string {
	return fmt.Sprintf("prss/%s/seed", a.Label())
}

// Install sets the root seed of an A-set, discarding every chain derived
// from a previous seed.
func (s *State) Install(ctx context.Context, a ASet, seed [seedSize]byte) error {
	if !a.Contains(s.self) {
		return fmt.Errorf("%w: party %d not in A-set %s", interfaces.ErrInvalidParameters, s.self, a.Label())
	}
	if s.store != nil {
		if err := s.store.Put(ctx, seedKey(a), seed[:]); err != nil {
			return fmt.Errorf("failed to persist seed for %s: %w", a.Label(), err)
		}
	}

	s.mu.Lock()
	s.gens[a.Index] = newGenerator(a, seed)
	s.mu.Unlock()
	return nil
}

// Load restores persisted seeds. Missing seeds are left missing.
func (s *State) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	for _, a := range s.sets {
		data, err := s.store.Get(ctx, seedKey(a))
		if errors.Is(err, interfaces.ErrBlobNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to load seed for %s: %w", a.Label(), err)
		}
		if len(data) != seedSize {
			return fmt.Errorf("corrupt seed for %s", a.Label())
		}
		var seed [seedSize]byte
		copy(seed[:], data)

		s.mu.Lock()
		s.gens[a.Index] = newGenerator(a, seed)
		s.mu.Unlock()
	}
	s.log.Debug("Loaded correlated randomness", "party", s.self, "missing", len(s.Missing()))
	return nil
}

// Missing lists the A-sets without a seed.
func (s *State) Missing() []ASet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ASet
	for _, a := range s.sets {
		if _, ok := s.gens[a.Index]; !ok {
			out = append(out, a)
		}
	}
	return out
}

// Draw advances every A-set chain of user once and returns this party's
// shares of a fresh R and of zero for each chunk.
func (s *State) Draw(ctx context.Context, user string, chunks int) (*Contribution, error) {
	return s.DrawAt(ctx, user, chunks, 0)
}

// DrawAt is Draw for chains that may lag behind the other servers: every
// chain below minEpoch is first ratcheted forward to it, discarding the
// skipped outputs. Chains never move backwards, so no output is reused.
//
// Server i's share of R is sum_{A containing i} r_A * f_A(i). Its share of
// zero is sum_A sum_{k=1..T} r_{A,k} * i^k * f_A(i), a polynomial of degree
// at most 2T vanishing at 0.
func (s *State) DrawAt(ctx context.Context, user string, chunks int, minEpoch uint64) (*Contribution, error) {
	if chunks < 1 {
		return nil, fmt.Errorf("%w: %d chunks", interfaces.ErrInvalidParameters, chunks)
	}

	s.mu.RLock()
	gens := make([]*generator, len(s.sets))
	for i, a := range s.sets {
		g, ok := s.gens[a.Index]
		if !ok {
			s.mu.RUnlock()
			return nil, fmt.Errorf("%w: party %d has no seed for A-set %s", interfaces.ErrMissingCorrelatedRandomness, s.self, a.Label())
		}
		gens[i] = g
	}
	s.mu.RUnlock()

	perChunk := 1 + s.cfg.T
	x := cryptoutils.ScalarFromInt(s.self)
	powers := make([]*cryptoutils.Scalar, s.cfg.T+1)
	powers[0] = cryptoutils.ScalarFromInt(1)
	for k := 1; k <= s.cfg.T; k++ {
		powers[k] = new(cryptoutils.Scalar).Set(powers[k-1]).Mul(x)
	}

	out := &Contribution{
		Roots: make(map[string]string, len(s.sets)),
		R:     make([]*cryptoutils.Scalar, chunks),
		Zero:  make([]*cryptoutils.Scalar, chunks),
	}
	for c := 0; c < chunks; c++ {
		out.R[c] = new(cryptoutils.Scalar)
		out.Zero[c] = new(cryptoutils.Scalar)
	}

	for i, a := range s.sets {
		out.Roots[a.Label()] = gens[i].rootID
		draws, epoch, err := gens[i].draw(ctx, s.store, user, chunks*perChunk, minEpoch)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			out.Epoch = epoch
		} else if epoch != out.Epoch {
			return nil, fmt.Errorf("%w: A-set %s at epoch %d, expected %d; reseed required",
				interfaces.ErrMissingCorrelatedRandomness, a.Label(), epoch, out.Epoch)
		}

		w := Weight(s.cfg, a, s.self)
		for c := 0; c < chunks; c++ {
			base := c * perChunk
			out.R[c].Add(draws[base].Mul(w))
			for k := 1; k <= s.cfg.T; k++ {
				term := draws[base+k].Mul(powers[k]).Mul(w)
				out.Zero[c].Add(term)
			}
		}
	}

	return out, nil
}
