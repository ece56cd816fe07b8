// Package cryptoutils implements the session-channel primitives of the RPC
// protocol: X25519 keypairs and the authenticated-encryption box derived
// from a (private key, peer public key) pair.
//
// Ciphertexts are self-contained: a random 24-byte nonce followed by the
// sealed box, base64-encoded for transport inside JSON envelopes. A session
// box is stateless and cheap to re-derive, so neither side keeps a session
// table; the pinned pair of public keys is the session.
package cryptoutils

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"
)

// KeySize is the byte length of X25519 public and private keys.
const KeySize = 32

// NonceSize is the byte length of the per-message nonce.
const NonceSize = 24

// ErrOpenFailed indicates an authenticated-decryption failure: the
// ciphertext was not produced under this session's key pair, or was
// tampered with in transit.
var ErrOpenFailed = errors.New("box open failed")

// Keypair holds one side's X25519 keys. The server generates one per
// process, the client one per connection.
type Keypair struct {
	Private *[KeySize]byte
	Public  *[KeySize]byte
}

// GenerateKeypair creates a fresh X25519 keypair from crypto/rand.
func GenerateKeypair() (Keypair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, fmt.Errorf("could not generate keypair: %w", err)
	}
	return Keypair{Private: priv, Public: pub}, nil
}

// PublicKeyBase64 returns the public key in the wire encoding.
func (kp Keypair) PublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(kp.Public[:])
}

// DecodePublicKey parses a base64-encoded peer public key as carried in
// HELLO, HELLO_ACK and RPC envelopes.
func DecodePublicKey(encoded string) (*[KeySize]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid public key encoding: %w", err)
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("invalid public key length: %d", len(raw))
	}
	var key [KeySize]byte
	copy(key[:], raw)
	return &key, nil
}

// SessionBox is the authenticated-encryption channel for one (own private
// key, peer public key) pair. The shared key is precomputed once; Seal and
// Open are safe for concurrent use.
type SessionBox struct {
	shared [KeySize]byte
}

// NewSessionBox derives the session channel for the given key pair.
func NewSessionBox(private, peerPublic *[KeySize]byte) *SessionBox {
	sb := new(SessionBox)
	box.Precompute(&sb.shared, peerPublic, private)
	return sb
}

// Seal encrypts plaintext under the session key and returns the base64
// encoding of nonce || box.
func (sb *SessionBox) Seal(plaintext []byte) (string, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("could not generate nonce: %w", err)
	}
	sealed := box.SealAfterPrecomputation(nonce[:], plaintext, &nonce, &sb.shared)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a base64-encoded nonce || box ciphertext. It returns
// ErrOpenFailed if authentication fails.
func (sb *SessionBox) Open(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	if len(raw) < NonceSize {
		return nil, ErrOpenFailed
	}
	var nonce [NonceSize]byte
	copy(nonce[:], raw[:NonceSize])
	plaintext, ok := box.OpenAfterPrecomputation(nil, raw[NonceSize:], &nonce, &sb.shared)
	if !ok {
		return nil, ErrOpenFailed
	}
	return plaintext, nil
}
