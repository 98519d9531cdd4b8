// Package crypto implements the ephemeral X25519 handshake and the
// AES-256-GCM authenticated transport used once a connection is encrypted.
//
// Key exchange: X25519 ephemeral Diffie-Hellman. Each side generates a
// keypair per handshake and the raw shared secret is used directly as the
// AEAD key — no KDF is applied (spec-mandated; most of the reference
// corpus runs the shared secret through HKDF first, but this wire format
// does not).
//
// Bulk cipher: AES-256-GCM. Every encrypted message carries a fresh random
// 12-byte nonce; the emission is nonce‖ciphertext‖tag, base64-encoded.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// PublicKeySize is the length of an X25519 public key.
	PublicKeySize = 32
	// NonceSize is the length of an AES-GCM nonce.
	NonceSize = 12
)

var (
	// ErrInvalidHandshakeLength is returned when the handshake's length
	// prefix is anything other than PublicKeySize. Fatal protocol error.
	ErrInvalidHandshakeLength = errors.New("phantomrpc/crypto: handshake key length must be 32")
	// ErrCiphertextTooShort is returned when a decoded frame is shorter than
	// a nonce, so it cannot possibly be a valid sealed message.
	ErrCiphertextTooShort = errors.New("phantomrpc/crypto: ciphertext shorter than nonce")
)

// KeyPair is an ephemeral X25519 keypair generated fresh for one handshake.
type KeyPair struct {
	Private [32]byte
	Public  [32]byte
}

// GenerateKeyPair draws a fresh private scalar from crypto/rand and derives
// the matching public key.
func GenerateKeyPair() (*KeyPair, error) {
	var kp KeyPair
	if _, err := io.ReadFull(rand.Reader, kp.Private[:]); err != nil {
		return nil, fmt.Errorf("phantomrpc/crypto: generate private key: %w", err)
	}
	pub, err := x25519(kp.Private[:], basepoint[:])
	if err != nil {
		return nil, fmt.Errorf("phantomrpc/crypto: derive public key: %w", err)
	}
	copy(kp.Public[:], pub)
	return &kp, nil
}

// SharedSecret computes the raw X25519 shared secret between a local
// private scalar and a peer's public key. Both sides end up with the same
// 32 bytes: shared(a,B) == shared(b,A).
func SharedSecret(priv, peerPublic [32]byte) ([32]byte, error) {
	var out [32]byte
	secret, err := x25519(priv[:], peerPublic[:])
	if err != nil {
		return out, fmt.Errorf("phantomrpc/crypto: derive shared secret: %w", err)
	}
	copy(out[:], secret)
	return out, nil
}

// WriteHandshakeKey writes a length-prefixed (4-byte big-endian) 32-byte
// public key, per spec.md §4.1's handshake framing.
func WriteHandshakeKey(w io.Writer, pub [32]byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], PublicKeySize)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("phantomrpc/crypto: write handshake length: %w", err)
	}
	if _, err := w.Write(pub[:]); err != nil {
		return fmt.Errorf("phantomrpc/crypto: write handshake key: %w", err)
	}
	return nil
}

// ReadHandshakeKey reads a length-prefixed public key and validates the
// length is exactly PublicKeySize. Any other length is a fatal protocol
// error (spec.md §4.1, §8 boundary behaviors).
func ReadHandshakeKey(r io.Reader) ([32]byte, error) {
	var out [32]byte

	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return out, fmt.Errorf("phantomrpc/crypto: read handshake length: %w", err)
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length != PublicKeySize {
		return out, ErrInvalidHandshakeLength
	}
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return out, fmt.Errorf("phantomrpc/crypto: read handshake key: %w", err)
	}
	return out, nil
}

// Cipher wraps an AES-256-GCM AEAD keyed by a raw X25519 shared secret, used
// for the lifetime of a connection once the handshake completes.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from the 32-byte shared secret.
func NewCipher(key [32]byte) (*Cipher, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("phantomrpc/crypto: new aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("phantomrpc/crypto: new gcm: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Seal draws a fresh random nonce, encrypts plaintext with empty associated
// data, and returns the base64-standard-encoded nonce‖ciphertext‖tag frame
// ready to be written as UTF-8 bytes.
func (c *Cipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("phantomrpc/crypto: generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)

	out := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(out, sealed)
	return out, nil
}

// Open base64-decodes frame, splits off the 12-byte nonce, and authenticates
// + decrypts the remainder. Any failure — bad base64, short ciphertext, or
// tag mismatch — is reported uniformly; callers should treat it as fatal
// for the connection (spec.md §4.1, §7).
func (c *Cipher) Open(frame []byte) ([]byte, error) {
	raw := make([]byte, base64.StdEncoding.DecodedLen(len(frame)))
	n, err := base64.StdEncoding.Decode(raw, frame)
	if err != nil {
		return nil, fmt.Errorf("phantomrpc/crypto: decode base64: %w", err)
	}
	raw = raw[:n]

	if len(raw) < NonceSize {
		return nil, ErrCiphertextTooShort
	}
	nonce, ciphertext := raw[:NonceSize], raw[NonceSize:]

	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("phantomrpc/crypto: authenticate: %w", err)
	}
	return plaintext, nil
}
