package interfaces

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	cfg, err := NewConfig(5, 2)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.NumA)
	assert.Equal(t, 3, cfg.ASetSize())
	assert.Equal(t, 4, cfg.RecoveryThreshold())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, cfg.Parties())
	assert.True(t, cfg.ValidParty(5))
	assert.False(t, cfg.ValidParty(0))
	assert.False(t, cfg.ValidParty(6))

	cfg, err = NewConfig(3, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.NumA)

	for _, bad := range [][2]int{{1, 0}, {3, 0}, {4, 2}, {256, 1}} {
		_, err := NewConfig(bad[0], bad[1])
		assert.ErrorIs(t, err, ErrInvalidParameters, "n=%d t=%d", bad[0], bad[1])
	}
}

func TestNewConfigBoundsASets(t *testing.T) {
	// C(13, 6) = 1716 fits, C(15, 7) = 6435 does not.
	cfg, err := NewConfig(13, 6)
	require.NoError(t, err)
	assert.Equal(t, 924, cfg.NumA)

	for _, bad := range [][2]int{{15, 7}, {64, 20}, {255, 100}, {255, 2}} {
		_, err := NewConfig(bad[0], bad[1])
		assert.ErrorIs(t, err, ErrInvalidParameters, "n=%d t=%d", bad[0], bad[1])
	}

	_, err = NewConfig(255, 1)
	require.NoError(t, err, "C(255, 1) is small")
}

func TestParseOperation(t *testing.T) {
	for _, name := range []string{"seed_prgs", "upload_sk_and_pwd", "skrecovery", "keygen", "signing"} {
		op, err := ParseOperation(name)
		require.NoError(t, err)
		assert.Equal(t, name, op.String())
	}

	_, err := ParseOperation("rm_rf")
	assert.ErrorIs(t, err, ErrUnknownOperation)

	var op Operation
	require.NoError(t, json.Unmarshal([]byte(`"skrecovery"`), &op))
	assert.Equal(t, OpRecover, op)
	assert.ErrorIs(t, json.Unmarshal([]byte(`"nope"`), &op), ErrUnknownOperation)

	assert.True(t, OpKeyGen.NeedsMesh())
	assert.False(t, OpEnroll.NeedsMesh())
	assert.Equal(t, "operation(42)", Operation(42).String())
}

func TestValidateBlobKey(t *testing.T) {
	for _, ok := range []string{"a", "users/alice/enrollment", "signing/app/keyshare"} {
		assert.NoError(t, ValidateBlobKey(ok), ok)
	}
	for _, bad := range []string{"", "/etc/passwd", "a//b", "a/../b", "./a", "a/"} {
		assert.ErrorIs(t, ValidateBlobKey(bad), ErrInvalidKey, bad)
	}
}

type mapStore map[string][]byte

func (m mapStore) Put(_ context.Context, key string, data []byte) error {
	m[key] = data
	return nil
}

func (m mapStore) Get(_ context.Context, key string) ([]byte, error) {
	d, ok := m[key]
	if !ok {
		return nil, ErrBlobNotFound
	}
	return d, nil
}

func TestNamespacedStore(t *testing.T) {
	ctx := context.Background()
	inner := mapStore{}
	ns := NamespacedStore{Store: inner, Namespace: "apps/x"}

	require.NoError(t, ns.Put(ctx, "k", []byte("v")))
	assert.Equal(t, []byte("v"), inner["apps/x/k"])

	got, err := ns.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = NamespacedStore{Store: inner, Namespace: "apps/y"}.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestStorageBackendLocationScheme(t *testing.T) {
	assert.Equal(t, "s3", StorageBackendLocation("S3://bucket/prefix").Scheme())
	assert.Equal(t, "", StorageBackendLocation("::not a uri").Scheme())
}
