// Package token is the token authority: it mints and verifies the owner's
// access and refresh tokens.
//
// Access tokens are short-lived and stateless. Refresh tokens carry a unique
// identifier (jti) that the revocation store tracks; registering that
// identifier is the caller's job. Two wire formats are supported behind one
// codec seam: HS256 JWT (default) and PASETO v4.local.
package token
