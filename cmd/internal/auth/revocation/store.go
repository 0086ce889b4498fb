// Package revocation tracks which refresh-token identifiers (jti) are active.
//
// A jti becomes active on login, is replaced atomically on rotation, and is
// removed on logout. Any jti that is not active is rejected on refresh, which
// is what makes replay of a rotated refresh token fail.
//
// Three stores implement the same contract: Memory (volatile, the default),
// Bolt (single-file persistence) and Postgres.
package revocation

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotActive is returned by Rotate when the old jti is not currently active.
	ErrNotActive = errors.New("revocation: token not active")

	// ErrInvalidInput is returned for empty identifiers.
	ErrInvalidInput = errors.New("revocation: invalid input")
)

// Store is the revocation contract shared by all backends.
//
// Activate and Revoke are idempotent. Rotate is atomic: of two concurrent
// rotations of the same old jti, exactly one succeeds and the other returns
// ErrNotActive. A zero expiresAt means the entry never expires on its own.
type Store interface {
	Activate(ctx context.Context, jti string, expiresAt time.Time) error
	IsActive(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string) error
	Rotate(ctx context.Context, oldJTI, newJTI string, newExpiresAt time.Time) error
	Close() error
}

func expired(expiresAt, now time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
