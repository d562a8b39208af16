// Package crypto seals card numbers for storage with AES-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/bank-cards/card-service/internal/apperr"
)

// nonceLen is the GCM nonce size in bytes (96 bits).
const nonceLen = 12

// sep joins the encoded nonce and ciphertext. ':' is not part of the
// base64 alphabet, so splitting on it is unambiguous.
const sep = ":"

// Vault performs authenticated encryption of card numbers with a single
// process-wide key. It is immutable after construction and safe for
// concurrent use; there is no runtime key rotation.
type Vault struct {
	aead cipher.AEAD
}

// NewVault validates the key and builds the AEAD. The raw key must be 16,
// 24 or 32 bytes; anything else is a configuration error and the caller is
// expected to treat it as fatal.
func NewVault(key []byte) (*Vault, error) {
	if l := len(key); l != 16 && l != 24 && l != 32 {
		return nil, fmt.Errorf("encryption key must be 16, 24, or 32 bytes, got %d", l)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Encrypt seals plain under a fresh random nonce and returns
// base64(nonce) + ":" + base64(ciphertext||tag).
func (v *Vault) Encrypt(plain string) (string, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", apperr.Crypto(err, "failed to generate nonce")
	}
	sealed := v.aead.Seal(nil, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Any malformed input or failed
// authentication yields a crypto error and no plaintext.
func (v *Vault) Decrypt(token string) (string, error) {
	parts := strings.SplitN(token, sep, 2)
	if len(parts) != 2 {
		return "", apperr.Crypto(nil, "cipher token has no nonce separator")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", apperr.Crypto(err, "failed to decode nonce")
	}
	if len(nonce) != nonceLen {
		return "", apperr.Crypto(nil, fmt.Sprintf("nonce length is %d, need %d", len(nonce), nonceLen))
	}
	sealed, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", apperr.Crypto(err, "failed to decode ciphertext")
	}
	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		// The underlying error never carries key material.
		return "", apperr.Crypto(err, "authenticated decryption failed")
	}
	return string(plain), nil
}
