// Package guard implements the login guard: a sliding-window failure counter
// that locks out login attempts after repeated failures.
//
// State is process-wide and not partitioned by client address. With a single
// owner, anyone failing repeatedly locks out every caller.
package guard

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrLocked is matched by LockedError.
	ErrLocked = errors.New("login locked")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid guard config")
)

// LockedError carries the remaining lockout time.
type LockedError struct {
	RetryAfter time.Duration
}

func (e LockedError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrLocked.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrLocked.Error(), e.RetryAfter.Round(time.Second))
}

func (e LockedError) Unwrap() error { return ErrLocked }

// Config controls the lockout policy.
type Config struct {
	MaxFailures int
	Window      time.Duration
	Lockout     time.Duration
}

// DefaultConfig is 5 failures within 60s locking login for 15 minutes.
func DefaultConfig() Config {
	return Config{
		MaxFailures: 5,
		Window:      60 * time.Second,
		Lockout:     900 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.MaxFailures <= 0 || c.Window <= 0 || c.Lockout <= 0 {
		return ErrConfig
	}
	return nil
}

// Guard is safe for concurrent use.
type Guard struct {
	cfg Config

	mu          sync.Mutex
	failures    []time.Time
	lockedUntil time.Time
}

// New constructs a Guard, falling back to defaults when cfg is invalid.
func New(cfg Config) *Guard {
	if cfg.Validate() != nil {
		cfg = DefaultConfig()
	}
	return &Guard{
		cfg:      cfg,
		failures: make([]time.Time, 0, cfg.MaxFailures+1),
	}
}

// IsLocked reports whether a lockout is in force at now. An elapsed lockout is
// cleared together with the failure history that caused it.
func (g *Guard) IsLocked(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lockedLocked(now)
}

// Check returns a LockedError when locked, nil otherwise.
func (g *Guard) Check(now time.Time) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.lockedLocked(now) {
		return nil
	}
	return LockedError{RetryAfter: g.lockedUntil.Sub(now)}
}

// RecordFailure registers a failed attempt at now and reports whether it
// triggered (or extended into) a lockout.
func (g *Guard) RecordFailure(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cut := now.Add(-g.cfg.Window)
	dst := g.failures[:0]
	for _, t := range g.failures {
		if t.After(cut) {
			dst = append(dst, t)
		}
	}
	g.failures = append(dst, now)

	if len(g.failures) >= g.cfg.MaxFailures {
		g.lockedUntil = now.Add(g.cfg.Lockout)
		return true
	}
	return false
}

// Reset clears all failure history and any lockout. Called on successful login.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures = g.failures[:0]
	g.lockedUntil = time.Time{}
}

func (g *Guard) lockedLocked(now time.Time) bool {
	if g.lockedUntil.IsZero() {
		return false
	}
	if now.Before(g.lockedUntil) {
		return true
	}
	g.lockedUntil = time.Time{}
	g.failures = g.failures[:0]
	return false
}
