package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinSecretBytes is the minimum secret length accepted by DeriveKey.
const MinSecretBytes = 16

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// DeriveKey expands secret into a size-byte key bound to info (HKDF-SHA256).
// Distinct info strings yield independent keys from one configured secret.
func DeriveKey(secret []byte, info string, size int) ([]byte, error) {
	if len(secret) < MinSecretBytes {
		return nil, ErrSecretTooShort
	}
	if size <= 0 {
		return nil, ErrInvalidKeySize
	}
	out := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), out); err != nil {
		return nil, err
	}
	return out, nil
}

// Digester hashes identifiers for storage at rest.
type Digester struct {
	key []byte
}

// NewDigester returns a Digester keyed with key. An empty key selects plain
// SHA-256, which is only suitable for development.
func NewDigester(key []byte) Digester {
	return Digester{key: append([]byte(nil), key...)}
}

// Keyed reports whether digests are HMAC based.
func (d Digester) Keyed() bool { return len(d.key) > 0 }

// Digest returns a stable 64-char hex digest of s.
func (d Digester) Digest(s string) string {
	if len(d.key) == 0 {
		return HashSHA256Hex(s)
	}
	return HashHMACSHA256Hex(s, d.key)
}
