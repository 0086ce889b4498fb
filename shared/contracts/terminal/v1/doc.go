// Package v1 defines the ARC4DE terminal protocol v1 contract.
//
// Frames are flat JSON objects discriminated by "type". The package is shared
// between the gateway and its clients (including the smoke tool) so the wire
// format stays authoritative in one place. It has no dependencies beyond the
// standard library.
package v1
