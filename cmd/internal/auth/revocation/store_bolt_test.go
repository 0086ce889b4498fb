package revocation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	sectoken "arc4de/cmd/security/token"
)

func openTestBolt(t *testing.T, path string) *Bolt {
	t.Helper()
	s, err := OpenBolt(path, sectoken.NewDigester([]byte("test-key")))
	require.NoError(t, err)
	return s
}

func TestBoltStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s := openTestBolt(t, filepath.Join(t.TempDir(), "revocation.db"))
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "revocation.db")

	s := openTestBolt(t, path)
	require.NoError(t, s.Activate(ctx, "keep", time.Now().Add(time.Hour)))
	require.NoError(t, s.Activate(ctx, "stale", time.Now().Add(-time.Hour)))
	require.NoError(t, s.Close())

	s = openTestBolt(t, path)
	defer s.Close()

	ok, err := s.IsActive(ctx, "keep")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := s.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "stale entries are pruned when the file is opened")
}

func TestBoltStore_StoresDigestsOnly(t *testing.T) {
	ctx := context.Background()
	s := openTestBolt(t, filepath.Join(t.TempDir(), "revocation.db"))
	defer s.Close()

	require.NoError(t, s.Activate(ctx, "plain-jti", time.Now().Add(time.Hour)))

	var keys []string
	require.NoError(t, s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(boltBucket).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	}))
	require.Len(t, keys, 1)
	assert.NotEqual(t, "plain-jti", keys[0])
	assert.Len(t, keys[0], 64)
}
