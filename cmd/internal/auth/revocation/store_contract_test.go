package revocation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behavior every Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	future := time.Now().Add(time.Hour)

	t.Run("ActivateIdempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Activate(ctx, "a", future))
		require.NoError(t, s.Activate(ctx, "a", future))

		ok, err := s.IsActive(ctx, "a")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.Revoke(ctx, "a"))
		ok, err = s.IsActive(ctx, "a")
		require.NoError(t, err)
		assert.False(t, ok, "one revoke must undo any number of activates")
	})

	t.Run("RevokeIdempotent", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Revoke(ctx, "missing"))
		require.NoError(t, s.Activate(ctx, "b", future))
		require.NoError(t, s.Revoke(ctx, "b"))
		require.NoError(t, s.Revoke(ctx, "b"))

		ok, err := s.IsActive(ctx, "b")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("RotateReplacesOld", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Activate(ctx, "old", future))
		require.NoError(t, s.Rotate(ctx, "old", "new", future))

		oldActive, err := s.IsActive(ctx, "old")
		require.NoError(t, err)
		newActive, err := s.IsActive(ctx, "new")
		require.NoError(t, err)
		assert.False(t, oldActive)
		assert.True(t, newActive)

		err = s.Rotate(ctx, "old", "newer", future)
		assert.ErrorIs(t, err, ErrNotActive, "replaying a rotated jti must fail")
	})

	t.Run("RotateUnknown", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Rotate(ctx, "nope", "x", future), ErrNotActive)
		ok, err := s.IsActive(ctx, "x")
		require.NoError(t, err)
		assert.False(t, ok, "a failed rotation must not activate the new jti")
	})

	t.Run("ExpiredIsInactive", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Activate(ctx, "stale", time.Now().Add(-time.Minute)))
		ok, err := s.IsActive(ctx, "stale")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.ErrorIs(t, s.Rotate(ctx, "stale", "fresh", future), ErrNotActive)
	})

	t.Run("ZeroExpiryNeverExpires", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Activate(ctx, "forever", time.Time{}))
		ok, err := s.IsActive(ctx, "forever")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("EmptyIdentifier", func(t *testing.T) {
		s := newStore(t)
		assert.ErrorIs(t, s.Activate(ctx, "", future), ErrInvalidInput)
		assert.ErrorIs(t, s.Rotate(ctx, "", "x", future), ErrInvalidInput)
	})

	t.Run("ConcurrentRotateExactlyOneWins", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.Activate(ctx, "shared", future))

		const racers = 8
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			wins    int
			losses  int
			unknown []error
		)
		start := make(chan struct{})
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				err := s.Rotate(ctx, "shared", fmt.Sprintf("next-%d", i), future)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrNotActive):
					losses++
				default:
					unknown = append(unknown, err)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		require.Empty(t, unknown)
		assert.Equal(t, 1, wins)
		assert.Equal(t, racers-1, losses)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemory() })
}

func TestMemoryStore_PrunesExpiredOnActivate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	past := time.Now().Add(-time.Minute)
	for i := 0; i < pruneEvery-1; i++ {
		require.NoError(t, m.Activate(ctx, fmt.Sprintf("old-%d", i), past))
	}
	require.Equal(t, pruneEvery-1, m.Len())

	require.NoError(t, m.Activate(ctx, "live", time.Now().Add(time.Hour)))
	assert.Equal(t, 1, m.Len())
}
