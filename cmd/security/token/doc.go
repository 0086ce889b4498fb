// Package token provides keyed hashing and key derivation primitives.
//
// Refresh-token identifiers persisted by the revocation stores are stored as
// digests produced here, and the PASETO symmetric key is derived here from the
// configured signing secret.
package token
