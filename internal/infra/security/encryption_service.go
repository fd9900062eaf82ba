// Package security seals gateway credentials stored at rest.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownKey    = errors.New("ciphertext sealed with an unknown key")
	ErrBadCiphertext = errors.New("malformed ciphertext")
)

// EncryptionService seals provider API keys and webhook secrets with AES-256-GCM.
// Ciphertexts are "<key id>:<base64(nonce || sealed)>"; the key id is derived from the key,
// so values sealed with a retired key still open while it is listed as previous.
type EncryptionService struct {
	current string
	keys    map[string]cipher.AEAD
}

// NewEncryptionService seals with key and opens with key or any of previous.
// Every key must be 32 bytes.
func NewEncryptionService(key string, previous ...string) (*EncryptionService, error) {
	s := &EncryptionService{keys: make(map[string]cipher.AEAD, 1+len(previous))}
	for i, k := range append([]string{key}, previous...) {
		id, aead, err := newAEAD(k)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("encryption key: %w", err)
			}
			return nil, fmt.Errorf("previous encryption key %d: %w", i, err)
		}
		if i == 0 {
			s.current = id
		}
		s.keys[id] = aead
	}
	return s, nil
}

func newAEAD(key string) (string, cipher.AEAD, error) {
	if len(key) != 32 {
		return "", nil, fmt.Errorf("must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher([]byte(key))
	if err != nil {
		return "", nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:4]), aead, nil
}

// KeyID identifies the key new values are sealed with.
func (s *EncryptionService) KeyID() string { return s.current }

func (s *EncryptionService) Encrypt(plaintext string) (string, error) {
	aead := s.keys[s.current]
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(s.current))
	return s.current + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *EncryptionService) Decrypt(ciphertext string) (string, error) {
	id, payload, ok := strings.Cut(ciphertext, ":")
	if !ok {
		return "", ErrBadCiphertext
	}
	aead, ok := s.keys[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, id)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil || len(data) < aead.NonceSize() {
		return "", ErrBadCiphertext
	}
	ns := aead.NonceSize()
	plain, err := aead.Open(nil, data[:ns], data[ns:], []byte(id))
	if err != nil {
		return "", fmt.Errorf("open sealed secret: %w", err)
	}
	return string(plain), nil
}

// NeedsRotation reports whether ciphertext was sealed with a key other than the current one.
func (s *EncryptionService) NeedsRotation(ciphertext string) bool {
	id, _, ok := strings.Cut(ciphertext, ":")
	return ok && id != s.current
}
