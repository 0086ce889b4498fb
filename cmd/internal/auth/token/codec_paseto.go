package token

import (
	paseto "aidanwoods.dev/go-paseto"

	sectoken "arc4de/cmd/security/token"
)

const pasetoKeyInfo = "arc4de paseto v4.local"

type pasetoCodec struct {
	key paseto.V4SymmetricKey
}

func newPasetoCodec(secret string) (*pasetoCodec, error) {
	raw, err := sectoken.DeriveKey([]byte(secret), pasetoKeyInfo, 32)
	if err != nil {
		return nil, ErrConfig
	}
	key, err := paseto.V4SymmetricKeyFromBytes(raw)
	if err != nil {
		return nil, ErrConfig
	}
	return &pasetoCodec{key: key}, nil
}

func (c *pasetoCodec) encode(cl Claims) (string, error) {
	tok := paseto.NewToken()
	tok.SetIssuer(cl.Issuer)
	tok.SetSubject(cl.Subject)
	tok.SetIssuedAt(cl.IssuedAt)
	tok.SetNotBefore(cl.IssuedAt)
	tok.SetExpiration(cl.ExpiresAt)
	tok.SetString("type", string(cl.Kind))
	if cl.JTI != "" {
		tok.SetJti(cl.JTI)
	}
	return tok.V4Encrypt(c.key, nil), nil
}

func (c *pasetoCodec) decode(tok string) (Claims, error) {
	// Build a fresh parser per call to avoid accumulating rules across verifies.
	p := paseto.NewParserWithoutExpiryCheck()
	parsed, err := p.ParseV4Local(c.key, tok, nil)
	if err != nil {
		return Claims{}, invalid(err.Error())
	}

	iss, _ := parsed.GetIssuer()
	sub, _ := parsed.GetSubject()
	jti, _ := parsed.GetJti()
	kind, _ := parsed.GetString("type")
	iat, _ := parsed.GetIssuedAt()
	exp, _ := parsed.GetExpiration()

	return Claims{
		Issuer:    iss,
		Subject:   sub,
		Kind:      Kind(kind),
		JTI:       jti,
		IssuedAt:  iat,
		ExpiresAt: exp,
	}, nil
}
