// Package password verifies the owner's login secret.
//
// Two Checkers exist: one for a plain configured secret and one for an
// Argon2id PHC hash (produced by `arc4de hash-password`). Both compare in
// constant time with respect to the candidate's length and content.
//
// Hash strings are treated as untrusted input and refused when their
// parameters exceed reasonable bounds.
package password
