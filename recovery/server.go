package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/dots-platform/skrecovery-app/cryptoutils"
	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/dots-platform/skrecovery-app/prss"
)

// Server is one node's side of password-hardened recovery.
type Server struct {
	cfg   interfaces.Config
	self  int
	store interfaces.BlobStore
	prss  *prss.State
	log   *slog.Logger

	users sync.Map
}

// NewServer creates the recovery service for party self.
func NewServer(cfg interfaces.Config, self int, store interfaces.BlobStore, randomness *prss.State, log *slog.Logger) (*Server, error) {
	if !cfg.ValidParty(self) {
		return nil, fmt.Errorf("%w: party %d", interfaces.ErrInvalidParameters, self)
	}
	if randomness.Self() != self {
		return nil, fmt.Errorf("%w: randomness belongs to party %d", interfaces.ErrInvalidParameters, randomness.Self())
	}
	return &Server{
		cfg:   cfg,
		self:  self,
		store: store,
		prss:  randomness,
		log:   log,
	}, nil
}

func (s *Server) userLock(user string) *sync.Mutex {
	m, _ := s.users.LoadOrStore(user, &sync.Mutex{})
	return m.(*sync.Mutex)
}

func enrollmentKey(user string) string {
	return "users/" + url.PathEscape(user) + "/enrollment"
}

// Enroll stores a user's enrollment record, replacing any previous one.
func (s *Server) Enroll(ctx context.Context, rec *EnrollmentRecord) error {
	if err := rec.Validate(s.self); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode enrollment: %w", err)
	}

	mu := s.userLock(rec.UserID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.store.Put(ctx, enrollmentKey(rec.UserID), data); err != nil {
		return fmt.Errorf("failed to store enrollment: %w", err)
	}

	s.log.Info("Stored enrollment", "user", rec.UserID, "chunks", len(rec.SecretShares))
	return nil
}

func (s *Server) loadEnrollment(ctx context.Context, user string) (*EnrollmentRecord, error) {
	data, err := s.store.Get(ctx, enrollmentKey(user))
	if errors.Is(err, interfaces.ErrBlobNotFound) {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnknownUser, user)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load enrollment: %w", err)
	}

	var rec EnrollmentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode enrollment: %w", err)
	}
	return &rec, nil
}

// Recover computes this server's masked share of every secret chunk:
//
//	masked = (pwd - guess) * R + sk + Z
//
// where R and Z are fresh correlated-randomness shares of a random element and
// of zero. The result reconstructs the chunk at threshold 2T when the guess is
// right and a uniformly random value otherwise.
func (s *Server) Recover(ctx context.Context, req *RecoverRequest) (*RecoverResponse, error) {
	if int(req.GuessShare.ID) != s.self {
		return nil, fmt.Errorf("%w: guess share %d delivered to party %d", interfaces.ErrInvalidShare, req.GuessShare.ID, s.self)
	}

	mu := s.userLock(req.UserID)
	mu.Lock()
	defer mu.Unlock()

	rec, err := s.loadEnrollment(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	pwd, err := rec.PasswordShare.Scalar()
	if err != nil {
		return nil, err
	}
	guess, err := req.GuessShare.Scalar()
	if err != nil {
		return nil, err
	}
	diff := cryptoutils.Sub(pwd, guess)

	contrib, err := s.prss.DrawAt(ctx, req.UserID, len(rec.SecretShares), req.MinEpoch)
	if err != nil {
		return nil, err
	}

	masked := make([]cryptoutils.Share, len(rec.SecretShares))
	for i, share := range rec.SecretShares {
		sk, err := share.Scalar()
		if err != nil {
			return nil, err
		}
		value := new(cryptoutils.Scalar).Set(diff).Mul(contrib.R[i])
		value.Add(sk).Add(contrib.Zero[i])
		masked[i] = cryptoutils.NewShare(s.self, value)
	}

	s.log.Info("Computed masked shares", "user", req.UserID, "epoch", contrib.Epoch, "chunks", len(masked))

	return &RecoverResponse{
		ID:           uint8(s.self),
		Epoch:        contrib.Epoch,
		Roots:        contrib.Roots,
		MaskedShares: masked,
		Salt:         rec.Salt,
		SaltedHash:   rec.SaltedHash,
	}, nil
}
