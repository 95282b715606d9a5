// Package crypto provides NaCl secretbox encryption for clipsync frames and
// the shared-secret hashing used by the auth handshake.
//
// A 32-byte symmetric key is derived from the shared secret using HKDF-SHA256.
// Every frame payload is encrypted with a random 24-byte nonce prepended to
// the ciphertext:
//
//	[ 24-byte nonce ][ ciphertext ]
//
// If no secret is configured, callers should not use this package — the wire
// layer passes a nil key and frames carry plain JSON.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var hkdfInfo = []byte("clipsync-v1")

// DeriveKey derives a 32-byte NaCl secretbox key from the shared secret using
// HKDF-SHA256. Both sides must use the same secret to derive the same key.
func DeriveKey(secret string) (*[keySize]byte, error) {
	h := hkdf.New(sha256.New, []byte(secret), nil, hkdfInfo)
	var key [keySize]byte
	if _, err := io.ReadFull(h, key[:]); err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}
	return &key, nil
}

// HashSecret returns the SHA-256 hex digest of the shared secret. The auth
// handshake sends this digest, never the secret itself; the relay compares
// digests in constant time.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Seal encrypts plaintext with key, prepending a random nonce.
// Returns nonce+ciphertext.
func Seal(plaintext []byte, key *[keySize]byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce generation: %w", err)
	}
	ct := secretbox.Seal(nonce[:], plaintext, &nonce, key)
	return ct, nil
}

// Open decrypts ciphertext (nonce+ciphertext) with key.
func Open(ciphertext []byte, key *[keySize]byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plain, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, key)
	if !ok {
		return nil, fmt.Errorf("decryption failed (wrong secret?)")
	}
	return plain, nil
}
