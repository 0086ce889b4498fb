package password

import (
	"crypto/sha256"
	"crypto/subtle"
)

// Checker decides whether a login candidate is the owner's secret.
type Checker interface {
	Check(candidate string) bool
}

// PlainChecker compares against a configured plaintext secret. Both sides are
// reduced to SHA-256 digests first so the comparison time does not depend on
// either length.
type PlainChecker struct {
	digest [sha256.Size]byte
}

// NewPlainChecker returns a checker for secret.
func NewPlainChecker(secret string) (*PlainChecker, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &PlainChecker{digest: sha256.Sum256([]byte(secret))}, nil
}

func (p *PlainChecker) Check(candidate string) bool {
	got := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(got[:], p.digest[:]) == 1
}

// HashChecker verifies candidates against an Argon2id PHC hash.
type HashChecker struct {
	cfg  Config
	hash string
}

// NewHashChecker validates encoded up front so a bad hash fails at startup
// rather than on the first login.
func NewHashChecker(cfg Config, encoded string) (*HashChecker, error) {
	params, _, _, err := decode(encoded)
	if err != nil {
		return nil, err
	}
	if !withinReasonableBounds(params, cfg.Params) {
		return nil, ErrInvalidHash
	}
	return &HashChecker{cfg: cfg, hash: encoded}, nil
}

func (h *HashChecker) Check(candidate string) bool {
	ok, err := h.cfg.Verify(h.hash, candidate)
	return err == nil && ok
}
