package clients

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dots-platform/skrecovery-app/api/nodehandler"
	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/dots-platform/skrecovery-app/node"
	"github.com/dots-platform/skrecovery-app/signing"
	"github.com/dots-platform/skrecovery-app/storage"
	"github.com/dots-platform/skrecovery-app/transport"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startCluster(t *testing.T, cfg interfaces.Config) []string {
	hub := transport.NewHub()
	var endpoints []string
	for _, id := range cfg.Parties() {
		nd, err := node.New(cfg, id, storage.NewMemoryBackend(), hub.Dialer(id), testLogger())
		require.NoError(t, err)
		r := chi.NewRouter()
		nodehandler.NewHandler(nd, testLogger()).RegisterRoutes(r)
		srv := httptest.NewServer(r)
		t.Cleanup(srv.Close)
		endpoints = append(endpoints, srv.URL)
	}
	return endpoints
}

func TestClusterClient(t *testing.T) {
	cfg, err := interfaces.NewConfig(3, 1)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := NewClusterClient(cfg, startCluster(t, cfg), "skrecovery", "client-a", testLogger())
	require.NoError(t, err)

	require.NoError(t, c.Recovery.Seed(ctx))
	require.NoError(t, c.Recovery.Enroll(ctx, "alice", "s3cret", "pw"))
	out, err := c.Recovery.Recover(ctx, "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", out.Secret)

	require.NoError(t, c.Upload(ctx, "files/f", [][]byte{[]byte("a"), []byte("b"), []byte("c")}))
	blobs, err := c.Retrieve(ctx, "files/f")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, blobs)

	_, err = c.Retrieve(ctx, "files/missing")
	assert.ErrorIs(t, err, interfaces.ErrBlobNotFound)

	assert.ErrorIs(t, c.Upload(ctx, "files/g", [][]byte{[]byte("a")}), interfaces.ErrInvalidParameters)

	pub, err := c.KeyGen(ctx, "")
	require.NoError(t, err)
	sig, err := c.Sign(ctx, "", pub.GroupKey, []int{1, 3}, []byte("hello"))
	require.NoError(t, err)
	assert.NoError(t, signing.Verify(pub.GroupKey, []byte("hello"), sig))
}

func TestReplicatedBlobs(t *testing.T) {
	cfg, err := interfaces.NewConfig(3, 1)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := NewClusterClient(cfg, startCluster(t, cfg), "skrecovery", "client-a", testLogger())
	require.NoError(t, err)

	require.NoError(t, c.UploadReplicated(ctx, "pk/main", []byte("02abcdef")))
	pk, err := c.RetrieveConsistent(ctx, "pk/main")
	require.NoError(t, err)
	assert.Equal(t, []byte("02abcdef"), pk)

	// One node holding a different copy poisons the read.
	require.NoError(t, c.Upload(ctx, "pk/forked", [][]byte{[]byte("02ab"), []byte("02ab"), []byte("03ff")}))
	_, err = c.RetrieveConsistent(ctx, "pk/forked")
	assert.ErrorIs(t, err, interfaces.ErrInconsistentReplicas)

	_, err = c.RetrieveConsistent(ctx, "pk/missing")
	assert.ErrorIs(t, err, interfaces.ErrBlobNotFound)
}

func TestNewClusterClientChecksEndpoints(t *testing.T) {
	cfg, err := interfaces.NewConfig(3, 1)
	require.NoError(t, err)
	_, err = NewClusterClient(cfg, []string{"http://a"}, "app", "c", testLogger())
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)
}
