package node

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/dots-platform/skrecovery-app/recovery"
	"github.com/dots-platform/skrecovery-app/signing"
	"github.com/dots-platform/skrecovery-app/storage"
	"github.com/dots-platform/skrecovery-app/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testApp = "skrecovery"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

type testCluster struct {
	cfg    interfaces.Config
	hub    *transport.Hub
	stores map[int]*storage.MemoryBackend
	nodes  Local
}

func newTestCluster(t *testing.T, n, th int) *testCluster {
	t.Helper()
	cfg, err := interfaces.NewConfig(n, th)
	require.NoError(t, err)

	c := &testCluster{
		cfg:    cfg,
		hub:    transport.NewHub(),
		stores: make(map[int]*storage.MemoryBackend),
		nodes:  make(Local),
	}
	for _, id := range cfg.Parties() {
		c.stores[id] = storage.NewMemoryBackend()
		c.restart(t, id)
	}
	return c
}

// restart replaces node id with a fresh process over the same store.
func (c *testCluster) restart(t *testing.T, id int) {
	nd, err := New(c.cfg, id, c.stores[id], c.hub.Dialer(id), testLogger())
	require.NoError(t, err)
	c.nodes[id] = nd
}

func TestRecoveryThroughNodes(t *testing.T) {
	c := newTestCluster(t, 5, 2)
	ctx := testContext(t)
	client := recovery.NewClient(c.cfg, c.nodes, testApp, testLogger())

	require.NoError(t, client.Seed(ctx))
	require.NoError(t, client.Enroll(ctx, "alice", "hello world", "p@ss"))

	out, err := client.Recover(ctx, "alice", "p@ss")
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, "hello world", out.Secret)

	out, err = client.Recover(ctx, "alice", "wrong")
	require.NoError(t, err)
	assert.True(t, out.Rejected())
	assert.Empty(t, out.Secret)
}

func TestRecoverySurvivesRestart(t *testing.T) {
	c := newTestCluster(t, 3, 1)
	ctx := testContext(t)
	client := recovery.NewClient(c.cfg, c.nodes, testApp, testLogger())

	require.NoError(t, client.Seed(ctx))
	require.NoError(t, client.Enroll(ctx, "bob", "correct horse battery staple", "pw"))
	out, err := client.Recover(ctx, "bob", "pw")
	require.NoError(t, err)
	require.True(t, out.Verified)

	for _, id := range c.cfg.Parties() {
		c.restart(t, id)
	}

	out, err = client.Recover(ctx, "bob", "pw")
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, "correct horse battery staple", out.Secret)
}

func TestRecoverWithoutSeed(t *testing.T) {
	c := newTestCluster(t, 3, 1)
	ctx := testContext(t)
	client := recovery.NewClient(c.cfg, c.nodes, testApp, testLogger())

	require.NoError(t, client.Enroll(ctx, "carol", "s", "pw"))
	_, err := client.Recover(ctx, "carol", "pw")
	assert.ErrorIs(t, err, interfaces.ErrMissingCorrelatedRandomness)
	assert.ErrorIs(t, err, interfaces.ErrSessionAborted)
}

func TestAppsAreIsolated(t *testing.T) {
	c := newTestCluster(t, 3, 1)
	ctx := testContext(t)

	first := recovery.NewClient(c.cfg, c.nodes, "first", testLogger())
	second := recovery.NewClient(c.cfg, c.nodes, "second", testLogger())

	require.NoError(t, first.Seed(ctx))
	require.NoError(t, first.Enroll(ctx, "dave", "s", "pw"))

	_, err := second.Recover(ctx, "dave", "pw")
	assert.ErrorIs(t, err, interfaces.ErrUnknownUser)
}

func TestKeygenAndSignThroughNodes(t *testing.T) {
	c := newTestCluster(t, 3, 1)
	ctx := testContext(t)
	coord := signing.NewCoordinator(c.cfg, c.nodes, testApp, testLogger())

	pub, err := coord.KeyGen(ctx, "client-1", "")
	require.NoError(t, err)
	require.Len(t, pub.GroupKey, 33)

	for _, id := range c.cfg.Parties() {
		data, err := c.nodes.GetBlob(ctx, id, "client-1", defaultKeyShare(testApp))
		require.NoError(t, err)
		assert.NotEmpty(t, data)
	}

	msg := []byte("launch")
	sig, err := coord.Sign(ctx, "client-1", "", pub.GroupKey, []int{2, 3}, msg)
	require.NoError(t, err)
	require.NoError(t, signing.Verify(pub.GroupKey, msg, sig))

	xonly, err := pub.XOnly()
	require.NoError(t, err)
	assert.Len(t, xonly, 32)
}

func TestSignStoresSignature(t *testing.T) {
	c := newTestCluster(t, 3, 1)
	ctx := testContext(t)
	coord := signing.NewCoordinator(c.cfg, c.nodes, testApp, testLogger())

	pub, err := coord.KeyGen(ctx, "client-2", "keys/main")
	require.NoError(t, err)

	_, err = c.nodes.GetBlob(ctx, 1, "client-2", defaultKeyShare(testApp))
	assert.ErrorIs(t, err, interfaces.ErrBlobNotFound)

	session := "sign-session"
	params := []byte(`{"num_parties":3,"num_threshold":1,"active_parties":[1,2],"message":"aGk="}`)
	results := make(chan []byte, 3)
	errs := make(chan error, 3)
	for _, id := range c.cfg.Parties() {
		id := id
		go func() {
			sig, err := c.nodes.Invoke(ctx, id, interfaces.Invocation{
				App:       testApp,
				Operation: interfaces.OpSign,
				Session:   session,
				ClientID:  "client-2",
				InFiles:   []string{"keys/main"},
				OutFiles:  []string{"sigs/1"},
				Args:      [][]byte{params},
			})
			results <- sig
			errs <- err
		}()
	}
	for range c.cfg.Parties() {
		require.NoError(t, <-errs)
		<-results
	}

	stored, err := c.nodes.GetBlob(ctx, 1, "client-2", "sigs/1")
	require.NoError(t, err)
	require.NoError(t, signing.Verify(pub.GroupKey, []byte("hi"), stored))

	_, err = c.nodes.GetBlob(ctx, 3, "client-2", "sigs/1")
	assert.ErrorIs(t, err, interfaces.ErrBlobNotFound, "inactive party stores nothing")
}

func TestExecuteValidation(t *testing.T) {
	c := newTestCluster(t, 3, 1)
	ctx := testContext(t)
	nd := c.nodes[1]

	_, err := nd.Execute(ctx, interfaces.Invocation{App: testApp, Operation: interfaces.Operation(99)})
	assert.ErrorIs(t, err, interfaces.ErrUnknownOperation)

	_, err = nd.Execute(ctx, interfaces.Invocation{App: "", Operation: interfaces.OpRecover})
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)

	_, err = nd.Execute(ctx, interfaces.Invocation{App: "a/b", Operation: interfaces.OpRecover})
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)

	_, err = nd.Execute(ctx, interfaces.Invocation{App: testApp, Operation: interfaces.OpRecover})
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)

	_, err = nd.Execute(ctx, interfaces.Invocation{App: testApp, Operation: interfaces.OpSeedPrgs})
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters, "seeding needs a session")

	_, err = nd.Execute(ctx, interfaces.Invocation{
		App:       testApp,
		Operation: interfaces.OpKeyGen,
		Session:   "s",
		ClientID:  "c",
		Args:      [][]byte{[]byte(`{"num_parties":3,"num_threshold":2}`)},
	})
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)
}

func TestBlobs(t *testing.T) {
	c := newTestCluster(t, 3, 1)
	ctx := testContext(t)

	require.NoError(t, c.nodes.PutBlob(ctx, 2, "client", "notes/a", []byte("x")))
	data, err := c.nodes.GetBlob(ctx, 2, "client", "notes/a")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)

	_, err = c.nodes.GetBlob(ctx, 1, "client", "notes/a")
	assert.ErrorIs(t, err, interfaces.ErrBlobNotFound)

	_, err = c.nodes.GetBlob(ctx, 2, "other", "notes/a")
	assert.ErrorIs(t, err, interfaces.ErrBlobNotFound)

	assert.ErrorIs(t, c.nodes.PutBlob(ctx, 2, "client", "../escape", []byte("x")), interfaces.ErrInvalidKey)
	assert.ErrorIs(t, c.nodes.PutBlob(ctx, 2, "", "k", []byte("x")), interfaces.ErrInvalidParameters)
	_, err = c.nodes.GetBlob(ctx, 9, "client", "k")
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)
}

type recordedOp struct {
	op, result string
}

type opRecorder struct {
	mu  sync.Mutex
	ops []recordedOp
}

func (r *opRecorder) ObserveOperation(op, result string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, recordedOp{op, result})
}

func TestObserverSeesOperations(t *testing.T) {
	c := newTestCluster(t, 3, 1)
	ctx := testContext(t)
	rec := &opRecorder{}
	c.nodes[1].SetObserver(rec)

	client := recovery.NewClient(c.cfg, c.nodes, testApp, testLogger())
	_, err := client.Recover(ctx, "nobody", "pw")
	require.Error(t, err)

	_, err = c.nodes[1].Execute(ctx, interfaces.Invocation{App: testApp, Operation: interfaces.Operation(99)})
	require.Error(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.ops, 2)
	assert.Equal(t, recordedOp{"skrecovery", "unknown_user"}, rec.ops[0])
	assert.Equal(t, "invalid", rec.ops[1].result)
}
