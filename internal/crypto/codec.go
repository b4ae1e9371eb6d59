// Package crypto implements the symmetric codec for booking payloads at
// rest. Blobs are AES-256-GCM with a fresh random nonce prefixed to the
// ciphertext; keys are derived from configured secrets and support rotation
// by keeping previous secrets available for decryption only.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	staycache "github.com/harborview/staycache/internal"
)

// Codec encrypts and decrypts booking payloads. It is a pure transform over
// (key material, bytes) with no side effects, safe for concurrent use.
type Codec struct {
	primary cipher.AEAD
	retired []cipher.AEAD // previous keys, decrypt-only
}

// New derives the primary key from secret and optional decrypt-only keys
// from previous secrets. Secrets never appear in blobs or logs.
func New(secret string, previous ...string) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("crypto: empty secret")
	}
	primary, err := newAEAD(secret)
	if err != nil {
		return nil, err
	}
	c := &Codec{primary: primary}
	for _, p := range previous {
		if p == "" {
			continue
		}
		aead, err := newAEAD(p)
		if err != nil {
			return nil, err
		}
		c.retired = append(c.retired, aead)
	}
	return c, nil
}

func newAEAD(secret string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return aead, nil
}

// Encrypt seals plaintext under the primary key with a fresh random nonce.
// The returned blob is nonce || ciphertext.
func (c *Codec) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.primary.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypto: read nonce: %w", err)
	}
	return c.primary.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a blob produced by Encrypt, trying the primary key first
// and then any retired keys. Every failure mode (truncated blob, auth-tag
// mismatch, wrong key) collapses into ErrDecrypt so callers can treat it
// identically to "record absent".
func (c *Codec) Decrypt(blob []byte) ([]byte, error) {
	for _, aead := range append([]cipher.AEAD{c.primary}, c.retired...) {
		ns := aead.NonceSize()
		if len(blob) < ns {
			continue
		}
		plaintext, err := aead.Open(nil, blob[:ns], blob[ns:], nil)
		if err == nil {
			return plaintext, nil
		}
	}
	return nil, staycache.ErrDecrypt
}
