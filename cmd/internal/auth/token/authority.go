package token

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Authority issues and verifies token pairs. It is safe for concurrent use.
type Authority struct {
	cfg   Config
	codec codec
}

// New builds an Authority for cfg.
func New(cfg Config) (*Authority, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var c codec
	switch cfg.Format {
	case FormatPaseto:
		pc, err := newPasetoCodec(cfg.Secret)
		if err != nil {
			return nil, err
		}
		c = pc
	default:
		c = newJWTCodec(cfg.Secret)
	}

	return &Authority{cfg: cfg, codec: c}, nil
}

// Format reports the configured wire format.
func (a *Authority) Format() string { return a.cfg.Format }

// IssuePair mints a new access token and a refresh token with a fresh jti.
// Registering the jti with a revocation store is the caller's job.
func (a *Authority) IssuePair(now time.Time) (Pair, error) {
	// Second precision keeps Pair expiries equal to what the tokens carry.
	now = now.UTC().Truncate(time.Second)

	jti, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return Pair{}, err
	}

	access := Claims{
		Issuer:    a.cfg.Issuer,
		Subject:   Subject,
		Kind:      KindAccess,
		IssuedAt:  now,
		ExpiresAt: now.Add(a.cfg.AccessTTL),
	}
	refresh := Claims{
		Issuer:    a.cfg.Issuer,
		Subject:   Subject,
		Kind:      KindRefresh,
		JTI:       jti.String(),
		IssuedAt:  now,
		ExpiresAt: now.Add(a.cfg.RefreshTTL),
	}

	at, err := a.codec.encode(access)
	if err != nil {
		return Pair{}, err
	}
	rt, err := a.codec.encode(refresh)
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      at,
		RefreshToken:     rt,
		TokenType:        "bearer",
		AccessExpiresAt:  access.ExpiresAt,
		RefreshJTI:       refresh.JTI,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, nil
}

// VerifyAccess validates an access token.
func (a *Authority) VerifyAccess(tok string, now time.Time) (Claims, error) {
	return a.verify(tok, KindAccess, now)
}

// VerifyRefresh validates a refresh token. A refresh token without a jti is rejected.
func (a *Authority) VerifyRefresh(tok string, now time.Time) (Claims, error) {
	return a.verify(tok, KindRefresh, now)
}

func (a *Authority) verify(tok string, want Kind, now time.Time) (Claims, error) {
	if tok == "" {
		return Claims{}, invalid("empty token")
	}

	cl, err := a.codec.decode(tok)
	if err != nil {
		return Claims{}, err
	}

	switch {
	case cl.Issuer != a.cfg.Issuer:
		return Claims{}, invalid("issuer mismatch")
	case cl.Subject != Subject:
		return Claims{}, invalid("subject mismatch")
	case cl.Kind != want:
		return Claims{}, invalid("wrong token type")
	case cl.ExpiresAt.IsZero():
		return Claims{}, invalid("missing exp")
	case !now.Before(cl.ExpiresAt.Add(a.cfg.ClockSkew)):
		return Claims{}, invalid("expired")
	case !cl.IssuedAt.IsZero() && cl.IssuedAt.After(now.Add(a.cfg.ClockSkew)):
		return Claims{}, invalid("issued in the future")
	case want == KindRefresh && cl.JTI == "":
		return Claims{}, invalid("missing jti")
	}

	return cl, nil
}
