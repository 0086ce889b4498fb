package guard

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestGuard_BelowThresholdStaysOpen(t *testing.T) {
	g := New(DefaultConfig())
	for i := 0; i < 4; i++ {
		assert.False(t, g.RecordFailure(t0.Add(time.Duration(i)*time.Second)))
	}
	assert.False(t, g.IsLocked(t0.Add(5*time.Second)))
	assert.NoError(t, g.Check(t0.Add(5*time.Second)))
}

func TestGuard_LocksAtThresholdUntilLockoutElapses(t *testing.T) {
	g := New(DefaultConfig())
	var locked bool
	for i := 0; i < 5; i++ {
		locked = g.RecordFailure(t0.Add(time.Duration(i) * time.Second))
	}
	require.True(t, locked)

	at := t0.Add(10 * time.Second)
	assert.True(t, g.IsLocked(at))

	err := g.Check(at)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
	var le LockedError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, 900*time.Second-6*time.Second, le.RetryAfter)

	end := t0.Add(4*time.Second + 900*time.Second)
	assert.True(t, g.IsLocked(end.Add(-time.Millisecond)))
	assert.False(t, g.IsLocked(end))
}

func TestGuard_ExpiredLockoutClearsHistory(t *testing.T) {
	g := New(DefaultConfig())
	for i := 0; i < 5; i++ {
		g.RecordFailure(t0)
	}
	after := t0.Add(901 * time.Second)
	require.False(t, g.IsLocked(after))

	// One more failure must not immediately re-lock.
	assert.False(t, g.RecordFailure(after))
	assert.False(t, g.IsLocked(after))
}

func TestGuard_SlidingWindowPrunesOldFailures(t *testing.T) {
	g := New(DefaultConfig())
	for i := 0; i < 4; i++ {
		g.RecordFailure(t0)
	}
	// 61s later the first four are outside the window.
	assert.False(t, g.RecordFailure(t0.Add(61*time.Second)))
	assert.False(t, g.IsLocked(t0.Add(61*time.Second)))
}

func TestGuard_ResetClearsEverything(t *testing.T) {
	g := New(DefaultConfig())
	for i := 0; i < 5; i++ {
		g.RecordFailure(t0)
	}
	require.True(t, g.IsLocked(t0))
	g.Reset()
	assert.False(t, g.IsLocked(t0))
	for i := 0; i < 4; i++ {
		assert.False(t, g.RecordFailure(t0))
	}
}

func TestGuard_InvalidConfigFallsBackToDefaults(t *testing.T) {
	g := New(Config{})
	assert.Equal(t, DefaultConfig(), g.cfg)
}

func TestGuard_ConcurrentFailures(t *testing.T) {
	g := New(Config{MaxFailures: 50, Window: time.Minute, Lockout: time.Minute})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.RecordFailure(t0)
		}()
	}
	wg.Wait()
	assert.True(t, g.IsLocked(t0))
}
