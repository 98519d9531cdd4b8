package crypto

import "golang.org/x/crypto/curve25519"

// basepoint is the standard X25519 base point, re-exported here so the rest
// of the package reads like plain scalar multiplication instead of naming
// the curve25519 package at every call site.
var basepoint = curve25519.Basepoint

// x25519 is a thin indirection over curve25519.X25519, grounded on the
// identical call in portal/core/cryptoops/handshaker.go and
// relaydns/core/cryptoops/handshaker.go.
func x25519(scalar, point []byte) ([]byte, error) {
	return curve25519.X25519(scalar, point)
}
