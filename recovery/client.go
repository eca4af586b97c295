package recovery

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/dots-platform/skrecovery-app/cryptoutils"
	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// SaltSize is the length of the random salt generated at enrollment.
const SaltSize = 32

// Client enrolls secrets with and recovers them from the N servers.
type Client struct {
	cfg     interfaces.Config
	invoker interfaces.NodeInvoker
	app     string
	rng     io.Reader
	log     *slog.Logger

	mu     sync.Mutex
	epochs map[string]uint64
}

// NewClient creates a recovery client. Operations are invoked under app on
// nodes 1..cfg.N.
func NewClient(cfg interfaces.Config, invoker interfaces.NodeInvoker, app string, log *slog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		invoker: invoker,
		app:     app,
		rng:     rand.Reader,
		log:     log,
		epochs:  make(map[string]uint64),
	}
}

// minEpoch is the highest epoch seen for userID.
func (c *Client) minEpoch(userID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochs[userID]
}

// observeEpochs records the highest epoch in responses and reports whether
// all of them agree. An agreed epoch replaces the recorded one, so a reseeded
// cluster is followed downwards.
func (c *Client) observeEpochs(userID string, responses []*RecoverResponse) bool {
	high, agree := responses[0].Epoch, true
	for _, r := range responses[1:] {
		if r.Epoch != responses[0].Epoch {
			agree = false
		}
		high = max(high, r.Epoch)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if agree {
		c.epochs[userID] = high
	} else {
		c.epochs[userID] = max(c.epochs[userID], high)
	}
	return agree
}

func (c *Client) forgetEpoch(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.epochs, userID)
}

// fanOut invokes op on every node concurrently and returns the results
// indexed by node - 1. Any failure aborts the whole call.
func (c *Client) fanOut(ctx context.Context, op interfaces.Operation, clientID, session string, args func(node int) ([]byte, error)) ([][]byte, error) {
	results := make([][]byte, c.cfg.N)
	g, gctx := errgroup.WithContext(ctx)
	for _, node := range c.cfg.Parties() {
		node := node
		g.Go(func() error {
			inv := interfaces.Invocation{
				App:       c.app,
				Operation: op,
				Session:   session,
				ClientID:  clientID,
			}
			if args != nil {
				arg, err := args(node)
				if err != nil {
					return err
				}
				inv.Args = [][]byte{arg}
			}
			out, err := c.invoker.Invoke(gctx, node, inv)
			if err != nil {
				return fmt.Errorf("node %d: %w", node, err)
			}
			results[node-1] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", interfaces.ErrSessionAborted, op, err)
	}
	return results, nil
}

// Seed runs the correlated-randomness seed phase on all nodes.
func (c *Client) Seed(ctx context.Context) error {
	session := uuid.NewString()
	if _, err := c.fanOut(ctx, interfaces.OpSeedPrgs, "", session, nil); err != nil {
		return err
	}
	c.log.Info("Seeded correlated randomness", "session", session)
	return nil
}

// Enroll splits secret and password across the servers.
func (c *Client) Enroll(ctx context.Context, userID, secret, password string) error {
	blocks, err := cryptoutils.EncodeSecret(secret)
	if err != nil {
		return err
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(c.rng, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	digest := cryptoutils.SaltedHash(salt, blocks)

	records := make([]EnrollmentRecord, c.cfg.N)
	for i := range records {
		records[i] = EnrollmentRecord{
			UserID:       userID,
			SecretShares: make([]cryptoutils.Share, len(blocks)),
			Salt:         salt,
			SaltedHash:   digest,
		}
	}

	for chunk, block := range blocks {
		value, err := block.Scalar()
		if err != nil {
			return err
		}
		shares, err := cryptoutils.Split(value, c.cfg.N, c.cfg.T, c.rng)
		value.Zero()
		if err != nil {
			return err
		}
		for i, s := range shares {
			records[i].SecretShares[chunk] = s
		}
	}

	pwd := cryptoutils.HashPassword(password)
	pwdShares, err := cryptoutils.Split(pwd, c.cfg.N, c.cfg.T, c.rng)
	pwd.Zero()
	if err != nil {
		return err
	}
	for i, s := range pwdShares {
		records[i].PasswordShare = s
	}

	_, err = c.fanOut(ctx, interfaces.OpEnroll, userID, "", func(node int) ([]byte, error) {
		return json.Marshal(&records[node-1])
	})
	if err != nil {
		return err
	}

	c.log.Info("Enrolled secret", "user", userID, "chunks", len(blocks))
	return nil
}

// Recover submits a password guess and reconstructs the secret. A wrong guess
// returns an Outcome with Verified false and a nil error.
func (c *Client) Recover(ctx context.Context, userID, guess string) (*Outcome, error) {
	return c.recover(ctx, userID, guess, func(SessionState) {})
}

func (c *Client) recover(ctx context.Context, userID, guess string, transition func(SessionState)) (*Outcome, error) {
	g := cryptoutils.HashPassword(guess)
	guessShares, err := cryptoutils.Split(g, c.cfg.N, c.cfg.T, c.rng)
	g.Zero()
	if err != nil {
		return nil, err
	}
	transition(StateGuessSubmitted)

	// A server that missed an earlier attempt lags behind the others. The
	// first disagreement raises MinEpoch so the next round realigns them.
	for resync := false; ; resync = true {
		responses, err := c.collect(ctx, userID, guessShares)
		if errors.Is(err, interfaces.ErrMissingCorrelatedRandomness) {
			c.forgetEpoch(userID)
		}
		if err != nil {
			return nil, err
		}
		transition(StateServerResponsesPending)

		if !c.observeEpochs(userID, responses) && !resync {
			c.log.Warn("Server epochs disagree, realigning", "user", userID, "min_epoch", c.minEpoch(userID))
			continue
		}
		return c.aggregate(responses)
	}
}

func (c *Client) collect(ctx context.Context, userID string, guessShares []cryptoutils.Share) ([]*RecoverResponse, error) {
	minEpoch := c.minEpoch(userID)
	raw, err := c.fanOut(ctx, interfaces.OpRecover, userID, "", func(node int) ([]byte, error) {
		return json.Marshal(&RecoverRequest{UserID: userID, GuessShare: guessShares[node-1], MinEpoch: minEpoch})
	})
	if err != nil {
		return nil, err
	}

	responses := make([]*RecoverResponse, len(raw))
	for i, data := range raw {
		var resp RecoverResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("%w: node %d: %w", interfaces.ErrSessionAborted, i+1, err)
		}
		responses[i] = &resp
	}
	return responses, nil
}

// aggregate combines one full set of server responses and verifies the
// candidate against the salted hash.
func (c *Client) aggregate(responses []*RecoverResponse) (*Outcome, error) {
	if len(responses) != c.cfg.N {
		return nil, fmt.Errorf("%w: have %d responses, need all %d", interfaces.ErrInsufficientShares, len(responses), c.cfg.N)
	}

	first := responses[0]
	chunks := len(first.MaskedShares)
	roots := make(map[string]string, c.cfg.NumA)
	for i, r := range responses {
		if int(r.ID) != i+1 {
			return nil, fmt.Errorf("%w: response %d carries identifier %d", interfaces.ErrSessionAborted, i+1, r.ID)
		}
		if r.Epoch != first.Epoch {
			return nil, fmt.Errorf("%w: %w: node %d at epoch %d, node 1 at %d", interfaces.ErrSessionAborted,
				interfaces.ErrMissingCorrelatedRandomness, i+1, r.Epoch, first.Epoch)
		}
		if len(r.Roots) != c.cfg.NumA {
			return nil, fmt.Errorf("%w: %w: node %d reports %d A-sets, expected %d", interfaces.ErrSessionAborted,
				interfaces.ErrMissingCorrelatedRandomness, i+1, len(r.Roots), c.cfg.NumA)
		}
		for label, fp := range r.Roots {
			if prev, ok := roots[label]; ok && prev != fp {
				return nil, fmt.Errorf("%w: %w: node %d holds a different seed for A-set %s; reseed required",
					interfaces.ErrSessionAborted, interfaces.ErrMissingCorrelatedRandomness, i+1, label)
			}
			roots[label] = fp
		}
		if len(r.MaskedShares) != chunks || !bytes.Equal(r.Salt, first.Salt) || !bytes.Equal(r.SaltedHash, first.SaltedHash) {
			return nil, fmt.Errorf("%w: node %d disagrees on the enrollment", interfaces.ErrSessionAborted, i+1)
		}
	}

	blocks := make([]cryptoutils.Block, chunks)
	defer func() {
		for i := range blocks {
			blocks[i] = cryptoutils.Block{}
		}
	}()

	for chunk := range blocks {
		shares := make([]cryptoutils.Share, len(responses))
		for i, r := range responses {
			shares[i] = r.MaskedShares[chunk]
		}
		value, err := cryptoutils.Combine(shares, c.cfg.RecoveryThreshold())
		if err != nil {
			return nil, err
		}
		blocks[chunk] = cryptoutils.BlockFromScalar(value)
		value.Zero()
	}

	if !cryptoutils.VerifySaltedHash(first.Salt, blocks, first.SaltedHash) {
		c.log.Info("Recovery rejected", "epoch", first.Epoch)
		return &Outcome{Verified: false, Epoch: first.Epoch}, nil
	}

	secret, err := cryptoutils.DecodeSecret(blocks)
	if err != nil {
		c.log.Warn("Verified candidate failed to decode", "err", err)
		return &Outcome{Verified: false, Epoch: first.Epoch}, nil
	}
	return &Outcome{Verified: true, Secret: secret, Epoch: first.Epoch}, nil
}
