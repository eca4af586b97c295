package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dots-platform/skrecovery-app/cryptoutils"
	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/dots-platform/skrecovery-app/prss"
	"github.com/dots-platform/skrecovery-app/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *memStore) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, interfaces.ErrBlobNotFound
	}
	return append([]byte(nil), data...), nil
}

// localInvoker dispatches invocations straight to in-process servers and
// remembers the last recovery response of every node.
type localInvoker struct {
	servers map[int]*Server

	mu   sync.Mutex
	last map[int]*RecoverResponse
}

func (l *localInvoker) Invoke(ctx context.Context, node int, inv interfaces.Invocation) ([]byte, error) {
	s, ok := l.servers[node]
	if !ok {
		return nil, fmt.Errorf("no node %d", node)
	}
	switch inv.Operation {
	case interfaces.OpEnroll:
		var rec EnrollmentRecord
		if err := json.Unmarshal(inv.Args[0], &rec); err != nil {
			return nil, err
		}
		return nil, s.Enroll(ctx, &rec)
	case interfaces.OpRecover:
		var req RecoverRequest
		if err := json.Unmarshal(inv.Args[0], &req); err != nil {
			return nil, err
		}
		resp, err := s.Recover(ctx, &req)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		l.last[node] = resp
		l.mu.Unlock()
		return json.Marshal(resp)
	default:
		return nil, interfaces.ErrUnknownOperation
	}
}

func (l *localInvoker) lastResponses() []*RecoverResponse {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*RecoverResponse, len(l.last))
	for node, r := range l.last {
		out[node-1] = r
	}
	return out
}

// flakyInvoker drops the next few recovery calls to one node before they
// reach its server.
type flakyInvoker struct {
	*localInvoker
	node  int
	drops atomic.Int32
}

func (f *flakyInvoker) Invoke(ctx context.Context, node int, inv interfaces.Invocation) ([]byte, error) {
	if node == f.node && inv.Operation == interfaces.OpRecover && f.drops.Add(-1) >= 0 {
		return nil, errors.New("connection reset by peer")
	}
	return f.localInvoker.Invoke(ctx, node, inv)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type cluster struct {
	cfg     interfaces.Config
	states  map[int]*prss.State
	invoker *localInvoker
	client  *Client
}

func newCluster(t *testing.T, n, th int, seed bool) *cluster {
	t.Helper()
	cfg, err := interfaces.NewConfig(n, th)
	require.NoError(t, err)

	states := make(map[int]*prss.State)
	inv := &localInvoker{servers: make(map[int]*Server), last: make(map[int]*RecoverResponse)}
	for _, id := range cfg.Parties() {
		store := &memStore{blobs: make(map[string][]byte)}
		st, err := prss.NewState(cfg, id, store, testLogger())
		require.NoError(t, err)
		states[id] = st

		srv, err := NewServer(cfg, id, store, st, testLogger())
		require.NoError(t, err)
		inv.servers[id] = srv
	}

	if seed {
		meshes := transport.PipeMeshes(cfg.Parties())
		defer func() {
			for _, m := range meshes {
				m.Close()
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range cfg.Parties() {
			id := id
			g.Go(func() error { return prss.Seed(gctx, states[id], meshes[id], nil) })
		}
		require.NoError(t, g.Wait())
	}

	return &cluster{
		cfg:     cfg,
		states:  states,
		invoker: inv,
		client:  NewClient(cfg, inv, "rust_app", testLogger()),
	}
}

func TestRecoverCorrectGuess(t *testing.T) {
	c := newCluster(t, 5, 2, true)
	ctx := context.Background()

	require.NoError(t, c.client.Enroll(ctx, "alice", "hello world", "p@ss"))

	out, err := c.client.Recover(ctx, "alice", "p@ss")
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, "hello world", out.Secret)
}

func TestRecoverWrongGuess(t *testing.T) {
	c := newCluster(t, 5, 2, true)
	ctx := context.Background()

	require.NoError(t, c.client.Enroll(ctx, "alice", "hello world", "p@ss"))

	out, err := c.client.Recover(ctx, "alice", "wrong")
	require.NoError(t, err, "a wrong guess is not an error")
	assert.True(t, out.Rejected())
	assert.Empty(t, out.Secret)
}

func TestRecoverLongSecret(t *testing.T) {
	c := newCluster(t, 7, 3, true)
	ctx := context.Background()

	secret := "correct horse battery staple, correct horse battery staple, and a few more words"
	require.NoError(t, c.client.Enroll(ctx, "bob", secret, "hunter2"))

	out, err := c.client.Recover(ctx, "bob", "hunter2")
	require.NoError(t, err)
	require.True(t, out.Verified)
	assert.Equal(t, secret, out.Secret)
}

func TestRecoverDrawsFreshRandomness(t *testing.T) {
	c := newCluster(t, 5, 2, true)
	ctx := context.Background()
	require.NoError(t, c.client.Enroll(ctx, "alice", "hello world", "p@ss"))

	_, err := c.client.Recover(ctx, "alice", "wrong")
	require.NoError(t, err)
	first := c.invoker.lastResponses()

	out, err := c.client.Recover(ctx, "alice", "p@ss")
	require.NoError(t, err)
	require.True(t, out.Verified)
	second := c.invoker.lastResponses()

	assert.Equal(t, first[0].Epoch+1, second[0].Epoch)
	for i := range first {
		assert.NotEqual(t, first[i].MaskedShares[0], second[i].MaskedShares[0], "node %d reused randomness", i+1)
	}

	// Replaying captured shares from the first attempt alongside the second
	// attempt's shares must not validate.
	mixed := make([]*RecoverResponse, len(second))
	for i := range second {
		r := *second[i]
		if i < 2 {
			r = *first[i]
			r.Epoch = second[i].Epoch
		}
		mixed[i] = &r
	}
	replayed, err := c.client.aggregate(mixed)
	require.NoError(t, err)
	assert.True(t, replayed.Rejected())
}

func TestRecoverRejectsEpochMismatch(t *testing.T) {
	c := newCluster(t, 5, 2, true)
	ctx := context.Background()
	require.NoError(t, c.client.Enroll(ctx, "alice", "hello world", "p@ss"))

	_, err := c.client.Recover(ctx, "alice", "p@ss")
	require.NoError(t, err)
	responses := c.invoker.lastResponses()
	responses[3].Epoch++

	_, err = c.client.aggregate(responses)
	require.ErrorIs(t, err, interfaces.ErrSessionAborted)
	require.ErrorIs(t, err, interfaces.ErrMissingCorrelatedRandomness)
}

func TestRecoverRealignsAfterNodeFailure(t *testing.T) {
	c := newCluster(t, 5, 2, true)
	ctx := context.Background()
	require.NoError(t, c.client.Enroll(ctx, "alice", "hello world", "p@ss"))

	flaky := &flakyInvoker{localInvoker: c.invoker, node: 5}
	flaky.drops.Store(1)
	client := NewClient(c.cfg, flaky, "rust_app", testLogger())

	_, err := client.Recover(ctx, "alice", "p@ss")
	require.ErrorIs(t, err, interfaces.ErrSessionAborted)

	// Node 5 now lags the others. A client that never saw any epoch
	// realigns within one call.
	out, err := c.client.Recover(ctx, "alice", "p@ss")
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, "hello world", out.Secret)

	for i := 0; i < 3; i++ {
		out, err := client.Recover(ctx, "alice", "p@ss")
		require.NoError(t, err, "attempt %d", i)
		assert.True(t, out.Verified, "attempt %d", i)
	}

	// Drop another attempt, then re-enroll: the chains survive enrollment
	// and still realign.
	flaky.drops.Store(1)
	_, err = client.Recover(ctx, "alice", "p@ss")
	require.ErrorIs(t, err, interfaces.ErrSessionAborted)
	require.NoError(t, client.Enroll(ctx, "alice", "new secret", "n3w"))

	out, err = client.Recover(ctx, "alice", "n3w")
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, "new secret", out.Secret)

	out, err = client.Recover(ctx, "alice", "p@ss")
	require.NoError(t, err)
	assert.True(t, out.Rejected())
}

func TestRecoverDetectsDivergentSeed(t *testing.T) {
	c := newCluster(t, 5, 2, true)
	ctx := context.Background()
	require.NoError(t, c.client.Enroll(ctx, "alice", "hello world", "p@ss"))

	// Node 1 alone holds a fresh seed for one A-set, as after a seed phase
	// that only completed on some members.
	stale := c.states[1].Sets()[0]
	require.NoError(t, c.states[1].Install(ctx, stale, [32]byte{7}))

	out, err := c.client.Recover(ctx, "alice", "p@ss")
	require.ErrorIs(t, err, interfaces.ErrMissingCorrelatedRandomness)
	assert.Nil(t, out, "a divergent seed must not yield a verdict")

	_, err = c.client.Recover(ctx, "alice", "wrong")
	require.ErrorIs(t, err, interfaces.ErrMissingCorrelatedRandomness)
}

func TestRecoverRequiresAllServers(t *testing.T) {
	c := newCluster(t, 5, 2, true)
	ctx := context.Background()
	require.NoError(t, c.client.Enroll(ctx, "alice", "hello world", "p@ss"))

	_, err := c.client.Recover(ctx, "alice", "p@ss")
	require.NoError(t, err)

	_, err = c.client.aggregate(c.invoker.lastResponses()[:4])
	require.ErrorIs(t, err, interfaces.ErrInsufficientShares)
}

func TestRecoverWithoutSeed(t *testing.T) {
	c := newCluster(t, 5, 2, false)
	ctx := context.Background()
	require.NoError(t, c.client.Enroll(ctx, "alice", "hello world", "p@ss"))

	_, err := c.client.Recover(ctx, "alice", "p@ss")
	require.ErrorIs(t, err, interfaces.ErrMissingCorrelatedRandomness)
	require.ErrorIs(t, err, interfaces.ErrSessionAborted)
}

func TestRecoverUnknownUser(t *testing.T) {
	c := newCluster(t, 5, 2, true)

	_, err := c.client.Recover(context.Background(), "nobody", "p@ss")
	require.ErrorIs(t, err, interfaces.ErrUnknownUser)
}

func TestServerRejectsMisaddressedShares(t *testing.T) {
	c := newCluster(t, 5, 2, true)
	ctx := context.Background()
	require.NoError(t, c.client.Enroll(ctx, "alice", "hello world", "p@ss"))

	_, err := c.invoker.servers[2].Recover(ctx, &RecoverRequest{UserID: "alice", GuessShare: cryptoutils.Share{ID: 3}})
	require.ErrorIs(t, err, interfaces.ErrInvalidShare)
}

func TestConcurrentUsers(t *testing.T) {
	c := newCluster(t, 5, 2, true)
	ctx := context.Background()

	users := []string{"alice", "bob", "carol"}
	for _, u := range users {
		require.NoError(t, c.client.Enroll(ctx, u, "secret of "+u, "pw-"+u))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, u := range users {
		u := u
		g.Go(func() error {
			for i := 0; i < 3; i++ {
				out, err := c.client.Recover(gctx, u, "pw-"+u)
				if err != nil {
					return err
				}
				if !out.Verified || out.Secret != "secret of "+u {
					return fmt.Errorf("user %s attempt %d not verified", u, i)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestSessionStateMachine(t *testing.T) {
	c := newCluster(t, 5, 2, true)
	ctx := context.Background()

	s := c.client.NewSession("alice")
	assert.Equal(t, StateIdle, s.State())

	_, err := s.Recover(ctx, "p@ss")
	require.ErrorIs(t, err, interfaces.ErrInvalidTransition)

	require.NoError(t, s.Enroll(ctx, "hello world", "p@ss"))
	assert.Equal(t, StateEnrolled, s.State())

	out, err := s.Recover(ctx, "wrong")
	require.NoError(t, err)
	assert.True(t, out.Rejected())
	assert.Equal(t, StateRejected, s.State())

	_, err = s.Recover(ctx, "p@ss")
	require.ErrorIs(t, err, interfaces.ErrInvalidTransition, "a rejected attempt is terminal")

	require.NoError(t, s.Retry())
	out, err = s.Recover(ctx, "p@ss")
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, StateVerified, s.State())

	require.ErrorIs(t, s.Retry(), interfaces.ErrInvalidTransition)
}

func TestClientEpochMemory(t *testing.T) {
	c := newCluster(t, 3, 1, false)
	at := func(epochs ...uint64) []*RecoverResponse {
		out := make([]*RecoverResponse, len(epochs))
		for i, e := range epochs {
			out[i] = &RecoverResponse{Epoch: e}
		}
		return out
	}

	assert.False(t, c.client.observeEpochs("alice", at(4, 4, 3)))
	assert.Equal(t, uint64(4), c.client.minEpoch("alice"))

	// A reseeded cluster restarts its chains; agreement is followed down.
	assert.True(t, c.client.observeEpochs("alice", at(1, 1, 1)))
	assert.Equal(t, uint64(1), c.client.minEpoch("alice"))

	assert.False(t, c.client.observeEpochs("alice", at(1, 2, 1)))
	c.client.forgetEpoch("alice")
	assert.Equal(t, uint64(0), c.client.minEpoch("alice"))
	assert.Equal(t, uint64(0), c.client.minEpoch("bob"))
}
