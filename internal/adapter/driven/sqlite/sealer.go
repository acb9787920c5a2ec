package sqlite

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// sealer encrypts key material at rest with AES-256-GCM. A sealer with a nil
// aead stores values as plaintext.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(secret []byte) (*sealer, error) {
	if secret == nil {
		return &sealer{}, nil
	}

	block, err := aes.NewCipher(secret)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &sealer{aead: gcm}, nil
}

func (s *sealer) enabled() bool {
	return s.aead != nil
}

// seal returns the stored form of value and whether it was encrypted. The
// encrypted form is base64(nonce || ciphertext || tag).
func (s *sealer) seal(value string) (string, bool, error) {
	if s.aead == nil {
		return value, false, nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", false, fmt.Errorf("rand nonce: %w", err)
	}

	out := s.aead.Seal(nonce, nonce, []byte(value), nil)
	return base64.StdEncoding.EncodeToString(out), true, nil
}

// open reverses seal.
func (s *sealer) open(stored string, sealed bool) (string, error) {
	if !sealed {
		return stored, nil
	}
	if s.aead == nil {
		return "", errSealedWithoutSecret
	}

	data, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}
	return string(plain), nil
}

// digest is the lookup handle for a key value. Sealed values use a random
// nonce, so equality and uniqueness are enforced on the digest.
func digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
