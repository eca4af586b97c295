package signing

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/dots-platform/skrecovery-app/cryptoutils"
	"github.com/dots-platform/skrecovery-app/interfaces"
	"github.com/dots-platform/skrecovery-app/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func runKeygen(t *testing.T, n, th int) map[int]*KeyShare {
	cfg, err := interfaces.NewConfig(n, th)
	require.NoError(t, err)

	ctx := testContext(t)
	meshes := transport.PipeMeshes(cfg.Parties())
	shares := make(map[int]*KeyShare, n)
	results := make([]*KeyShare, n+1)

	g, gctx := errgroup.WithContext(ctx)
	for id, m := range meshes {
		id := id
		m := m
		g.Go(func() error {
			defer m.Close()
			s, err := RunKeygen(gctx, m, cfg, nil, testLogger())
			results[id] = s
			return err
		})
	}
	require.NoError(t, g.Wait())
	for id := 1; id <= n; id++ {
		shares[id] = results[id]
	}
	return shares
}

func runSign(t *testing.T, shares map[int]*KeyShare, active []int, msg []byte) map[int][]byte {
	ctx := testContext(t)
	meshes := transport.PipeMeshes(active)
	sigs := make(map[int][]byte)
	results := make([][]byte, len(shares)+1)

	g, gctx := errgroup.WithContext(ctx)
	for id, share := range shares {
		id := id
		share := share
		var mesh transport.Mesh = transport.NewConnMesh(id, nil)
		if m, ok := meshes[id]; ok {
			mesh = m
		}
		g.Go(func() error {
			defer mesh.Close()
			sig, err := RunSign(gctx, mesh, share, active, msg, nil, testLogger())
			results[id] = sig
			return err
		})
	}
	require.NoError(t, g.Wait())
	for id := range shares {
		sigs[id] = results[id]
	}
	return sigs
}

func TestKeygenProducesConsistentShares(t *testing.T) {
	shares := runKeygen(t, 3, 1)
	require.Len(t, shares, 3)

	groupKey := shares[1].GroupKey
	var ids []int
	var secrets []*cryptoutils.Scalar
	for id, s := range shares {
		require.NoError(t, s.Validate())
		assert.Equal(t, groupKey, s.GroupKey)
		assert.Equal(t, shares[1].PublicShares, s.PublicShares)
		sk, err := s.secret()
		require.NoError(t, err)
		ids = append(ids, id)
		secrets = append(secrets, sk)
	}

	// Any T+1 shares interpolate to the group secret.
	full, err := cryptoutils.InterpolateAtZero(ids[:2], secrets[:2])
	require.NoError(t, err)
	pub, err := encodePoint(baseMul(full))
	require.NoError(t, err)
	assert.Equal(t, groupKey, pub)
}

func TestThresholdSignatureVerifies(t *testing.T) {
	shares := runKeygen(t, 3, 1)
	msg := []byte("transfer 10 to alice")

	sigs := runSign(t, shares, []int{1, 3}, msg)
	assert.Empty(t, sigs[2], "inactive party must not produce a signature")
	require.Len(t, sigs[1], SignatureSize)
	assert.Equal(t, sigs[1], sigs[3])

	require.NoError(t, Verify(shares[1].GroupKey, msg, sigs[1]))
	assert.Error(t, Verify(shares[1].GroupKey, []byte("transfer 11 to alice"), sigs[1]))

	// Independent check with btcec.
	pk, err := btcec.ParsePubKey(shares[1].GroupKey)
	require.NoError(t, err)
	xonly, err := schnorr.ParsePubKey(schnorr.SerializePubKey(pk))
	require.NoError(t, err)
	sig, err := schnorr.ParseSignature(sigs[1])
	require.NoError(t, err)
	digest := sha256.Sum256(msg)
	assert.True(t, sig.Verify(digest[:], xonly))
}

func TestSigningWithEveryQuorum(t *testing.T) {
	shares := runKeygen(t, 5, 2)
	msg := []byte("quorum")
	for _, active := range [][]int{{1, 2, 3}, {2, 4, 5}, {1, 2, 3, 4, 5}} {
		sigs := runSign(t, shares, active, msg)
		require.NotEmpty(t, sigs[active[0]])
		require.NoError(t, Verify(shares[1].GroupKey, msg, sigs[active[0]]))
	}
}

func TestSignerRejectsTooFewParties(t *testing.T) {
	shares := runKeygen(t, 3, 1)
	_, err := NewSigner(shares[1], []int{1}, []byte("m"), nil)
	assert.ErrorIs(t, err, interfaces.ErrInsufficientShares)
}

func TestKeyShareValidateDetectsTampering(t *testing.T) {
	shares := runKeygen(t, 3, 1)
	tampered := *shares[1]
	tampered.Secret = append([]byte(nil), shares[2].Secret...)
	assert.ErrorIs(t, tampered.Validate(), interfaces.ErrInvalidShare)
}

func TestParams(t *testing.T) {
	data, err := json.Marshal(Params{NumParties: 3, Threshold: 1, ActiveParties: []int{3, 1}, Message: []byte("m")})
	require.NoError(t, err)

	p, err := ParseParams(data, 3)
	require.NoError(t, err)
	active, err := p.Signers()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, active)

	_, err = ParseParams(data, 4)
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)

	p.ActiveParties = []int{1, 1}
	_, err = p.Signers()
	assert.ErrorIs(t, err, interfaces.ErrDuplicateIdentifier)

	p.ActiveParties = []int{1, 4}
	_, err = p.Signers()
	assert.ErrorIs(t, err, interfaces.ErrInvalidParameters)
}

func TestCorruptedPartialAbortsSession(t *testing.T) {
	shares := runKeygen(t, 3, 1)
	active := []int{1, 2}
	meshes := transport.PipeMeshes(active)
	ctx := testContext(t)

	honest, err := NewSigner(shares[1], active, []byte("m"), nil)
	require.NoError(t, err)
	inner, err := NewSigner(shares[2], active, []byte("m"), nil)
	require.NoError(t, err)
	bad := &corruptLastRound{Signer: inner}

	errs := make([]error, 3)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, errs[1] = NewDriver(meshes[1], testLogger()).Run(gctx, honest, []int{2})
		meshes[1].Close()
		return nil
	})
	g.Go(func() error {
		_, errs[2] = NewDriver(meshes[2], testLogger()).Run(gctx, bad, []int{1})
		meshes[2].Close()
		return nil
	})
	require.NoError(t, g.Wait())

	assert.ErrorIs(t, errs[1], interfaces.ErrSessionAborted)
	assert.ErrorIs(t, errs[1], interfaces.ErrInvalidShare)
}

// corruptLastRound flips the partial signature sent in round three.
type corruptLastRound struct {
	*Signer
}

func (c *corruptLastRound) Outbound() []Message {
	out := c.Signer.Outbound()
	if c.round != 3 {
		return out
	}
	z, err := decodeScalar(out[0].Payload)
	if err != nil {
		panic(err)
	}
	z.Add(cryptoutils.ScalarFromInt(1))
	return []Message{{Payload: encodeScalar(z)}}
}
