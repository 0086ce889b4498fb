package token

import "time"

// Kind is the discriminator claim ("type") separating access from refresh tokens.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Subject is the fixed subject of every token: the single owner.
const Subject = "owner"

// Claims is the decoded, validated content of a token.
type Claims struct {
	Issuer    string
	Subject   string
	Kind      Kind
	JTI       string // refresh tokens only
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Pair is the result of a successful login or refresh.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`

	AccessExpiresAt  time.Time `json:"-"`
	RefreshJTI       string    `json:"-"`
	RefreshExpiresAt time.Time `json:"-"`
}

// codec authenticates and serializes claims. It does not validate them.
type codec interface {
	encode(c Claims) (string, error)
	decode(tok string) (Claims, error)
}
