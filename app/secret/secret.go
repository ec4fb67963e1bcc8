// Package secret provides the at-rest credential encryption capability
// consumed by the auth resolver. The gateway never stores credential
// fields; it only decrypts what the configuration store hands it.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

var ErrInvalidKey = errors.New("encryption key must be 32 bytes hex-encoded")

// Encryptor seals and opens credential fields. Ciphertexts are
// base64(nonce || aead output).
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type aeadEncryptor struct {
	key []byte
}

// NewEncryptor builds a ChaCha20-Poly1305 encryptor from a hex key.
func NewEncryptor(hexKey string) (Encryptor, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	return &aeadEncryptor{key: key}, nil
}

func (e *aeadEncryptor) Encrypt(plaintext string) (string, error) {
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (e *aeadEncryptor) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext: %w", err)
	}

	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", errors.New("ciphertext shorter than nonce")
	}

	plaintext, err := aead.Open(nil, raw[:aead.NonceSize()], raw[aead.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt failed: %w", err)
	}
	return string(plaintext), nil
}

// Plaintext is a pass-through Encryptor for local development setups
// whose configuration store holds unencrypted credentials.
type Plaintext struct{}

func (Plaintext) Encrypt(plaintext string) (string, error) { return plaintext, nil }

func (Plaintext) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }
