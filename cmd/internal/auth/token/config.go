package token

import (
	"strings"
	"time"

	sectoken "arc4de/cmd/security/token"
)

// Supported token formats.
const (
	FormatJWT    = "jwt"
	FormatPaseto = "paseto"
)

// Config defines the token authority's signing and lifetime policy.
type Config struct {
	// Secret is the shared signing secret. For PASETO the symmetric key is
	// derived from it.
	Secret string

	// Format selects the codec: FormatJWT or FormatPaseto.
	Format string

	// Issuer is written to and required in the "iss" claim.
	Issuer string

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// ClockSkew is the leeway applied to exp/iat checks. Zero keeps expiry exact.
	ClockSkew time.Duration
}

// DefaultConfig returns the default lifetimes (15 minutes / 7 days). Secret is
// left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		Format:     FormatJWT,
		Issuer:     "arc4de",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}
}

// Validate checks the configuration. Returns ErrConfig on failure.
func (c Config) Validate() error {
	if len(strings.TrimSpace(c.Secret)) < sectoken.MinSecretBytes {
		return ErrConfig
	}
	switch c.Format {
	case FormatJWT, FormatPaseto:
	default:
		return ErrConfig
	}
	if strings.TrimSpace(c.Issuer) == "" {
		return ErrConfig
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.ClockSkew < 0 {
		return ErrConfig
	}
	if c.RefreshTTL < c.AccessTTL {
		return ErrConfig
	}
	return nil
}
