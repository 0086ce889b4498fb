package token

import "errors"

// Public, stable errors for callers.
var (
	ErrSecretTooShort = errors.New("token: secret too short")
	ErrInvalidKeySize = errors.New("token: invalid key size")
)
