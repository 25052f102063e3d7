// Package vault holds wallet addresses as authenticated ciphertext so
// that a memory dump never reveals a wallet↔chat link in plaintext.
//
// The key is generated when the process starts and lives only in
// memory. A restart therefore invalidates every sealed handle, which is
// the intended trade-off: sessions do not survive restarts, and neither
// does anything that could decrypt them.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// Handle is a sealed wallet address: the nonce and ciphertext needed to
// recover it through the vault that produced it.
type Handle struct {
	Nonce      []byte
	Ciphertext []byte
}

// Vault seals and opens wallet addresses with a per-process AEAD key.
type Vault struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// New generates a fresh 256-bit key and returns a vault bound to it.
// The key is never exposed and never persisted.
func New() (*Vault, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead}, nil
}

// Seal encrypts a wallet address under a fresh random nonce.
// Addresses are lowercased before sealing so Open returns a canonical
// form regardless of the caller's casing.
func (v *Vault) Seal(walletAddress string) (Handle, error) {
	addr := strings.ToLower(strings.TrimSpace(walletAddress))
	if addr == "" {
		return Handle{}, ErrEmptyAddress
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return Handle{}, err
	}

	ct := v.aead.Seal(nil, nonce, []byte(addr), nil)
	return Handle{Nonce: nonce, Ciphertext: ct}, nil
}

// Open decrypts a handle back to the wallet address.
// Any authentication failure is returned as ErrOpen; callers treat it
// as a tampering signal, not a retryable error.
func (v *Vault) Open(h Handle) (string, error) {
	if len(h.Nonce) != chacha20poly1305.NonceSize || len(h.Ciphertext) == 0 {
		return "", ErrOpen
	}
	pt, err := v.aead.Open(nil, h.Nonce, h.Ciphertext, nil)
	if err != nil {
		return "", ErrOpen
	}
	return string(pt), nil
}

// HashAddress returns a short non-reversible fingerprint of a wallet
// address, safe to put in logs.
func HashAddress(walletAddress string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(walletAddress))))
	return hex.EncodeToString(sum[:])[:16]
}
