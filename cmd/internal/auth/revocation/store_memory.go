package revocation

import (
	"context"
	"sync"
	"time"
)

// pruneEvery bounds how many activations may happen between expiry scans.
const pruneEvery = 256

// Memory is an in-process Store. Its contents vanish on restart.
type Memory struct {
	mu      sync.Mutex
	active  map[string]time.Time
	now     func() time.Time
	pending int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		active: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (m *Memory) Activate(_ context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active[jti] = expiresAt
	m.pending++
	if m.pending >= pruneEvery {
		m.pruneLocked(m.now())
	}
	return nil
}

func (m *Memory) IsActive(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeLocked(jti, m.now()), nil
}

func (m *Memory) Revoke(_ context.Context, jti string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, jti)
	return nil
}

func (m *Memory) Rotate(_ context.Context, oldJTI, newJTI string, newExpiresAt time.Time) error {
	if oldJTI == "" || newJTI == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.activeLocked(oldJTI, m.now()) {
		return ErrNotActive
	}
	delete(m.active, oldJTI)
	m.active[newJTI] = newExpiresAt
	return nil
}

// Len reports the number of tracked identifiers, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Memory) Close() error { return nil }

func (m *Memory) activeLocked(jti string, now time.Time) bool {
	exp, ok := m.active[jti]
	if !ok {
		return false
	}
	if expired(exp, now) {
		delete(m.active, jti)
		return false
	}
	return true
}

func (m *Memory) pruneLocked(now time.Time) {
	for jti, exp := range m.active {
		if expired(exp, now) {
			delete(m.active, jti)
		}
	}
	m.pending = 0
}
