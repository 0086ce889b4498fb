package token

import (
	"bytes"
	"testing"
)

func TestDeriveKey_BoundToInfo(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")

	a, err := DeriveKey(secret, "a", 32)
	if err != nil {
		t.Fatalf("derive a: %v", err)
	}
	b, err := DeriveKey(secret, "b", 32)
	if err != nil {
		t.Fatalf("derive b: %v", err)
	}
	again, err := DeriveKey(secret, "a", 32)
	if err != nil {
		t.Fatalf("derive a again: %v", err)
	}

	if len(a) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(a))
	}
	if bytes.Equal(a, b) {
		t.Fatalf("expected distinct keys per info")
	}
	if !bytes.Equal(a, again) {
		t.Fatalf("expected deterministic derivation")
	}
}

func TestDeriveKey_ShortSecret(t *testing.T) {
	if _, err := DeriveKey([]byte("short"), "x", 32); err != ErrSecretTooShort {
		t.Fatalf("expected ErrSecretTooShort, got %v", err)
	}
}

func TestDigester(t *testing.T) {
	plain := NewDigester(nil)
	if plain.Keyed() {
		t.Fatalf("expected unkeyed digester")
	}
	if got := plain.Digest("jti"); got != HashSHA256Hex("jti") {
		t.Fatalf("unexpected plain digest %q", got)
	}

	keyed := NewDigester([]byte("k"))
	if !keyed.Keyed() {
		t.Fatalf("expected keyed digester")
	}
	if got := keyed.Digest("jti"); got != HashHMACSHA256Hex("jti", []byte("k")) {
		t.Fatalf("unexpected keyed digest %q", got)
	}
	if len(keyed.Digest("jti")) != 64 {
		t.Fatalf("expected 64 hex chars")
	}
}
