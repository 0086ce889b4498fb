package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type jwtCodec struct {
	secret []byte
}

type jwtClaims struct {
	jwt.RegisteredClaims
	Type string `json:"type"`
}

func newJWTCodec(secret string) *jwtCodec {
	return &jwtCodec{secret: []byte(secret)}
}

func (c *jwtCodec) encode(cl Claims) (string, error) {
	claims := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cl.Issuer,
			Subject:   cl.Subject,
			ID:        cl.JTI,
			IssuedAt:  jwt.NewNumericDate(cl.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(cl.ExpiresAt),
		},
		Type: string(cl.Kind),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *jwtCodec) decode(tok string) (Claims, error) {
	var jc jwtClaims
	// Time-based validation happens in Authority so both codecs share one policy.
	_, err := jwt.ParseWithClaims(tok, &jc,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, invalid(err.Error())
	}

	return Claims{
		Issuer:    jc.Issuer,
		Subject:   jc.Subject,
		Kind:      Kind(jc.Type),
		JTI:       jc.ID,
		IssuedAt:  numericTime(jc.IssuedAt),
		ExpiresAt: numericTime(jc.ExpiresAt),
	}, nil
}

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}
