package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
)

// ErrSealedTooShort is returned when a sealed blob cannot hold a nonce.
var ErrSealedTooShort = errors.New("sealed value too short")

// Sealer encrypts credential material at rest with AES-256-GCM. The AES key
// is the SHA-256 digest of the configured passphrase.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives the AES key from key.
func NewSealer(key string) (*Sealer, error) {
	if key == "" {
		return nil, errors.New("empty secret key")
	}
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, fmt.Errorf("aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns nonce || ciphertext. The secret id is bound as additional
// data so a sealed blob cannot be moved to another row.
func (s *Sealer) Seal(id string, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, []byte(id)), nil
}

// Open reverses Seal.
func (s *Sealer) Open(id string, sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, ErrSealedTooShort
	}
	plain, err := s.aead.Open(nil, sealed[:n], sealed[n:], []byte(id))
	if err != nil {
		return nil, fmt.Errorf("open sealed secret %s: %w", id, err)
	}
	return plain, nil
}
