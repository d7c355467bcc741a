package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
)

const aesKeySize = 32

// SecretCodec encrypts auth tokens at rest with AES-256-GCM. Ciphertext is
// base64(nonce || sealed).
type SecretCodec struct {
	key []byte
}

// NewSecretCodec builds a codec from the process-wide key. A 32 character key is
// used as is; longer keys are hashed down to 32 bytes.
func NewSecretCodec(key string) (*SecretCodec, error) {
	if len(key) < aesKeySize {
		return nil, fmt.Errorf("%w: need at least %d characters, got %d", ErrInvalidEncryptionKey, aesKeySize, len(key))
	}

	raw := []byte(key)
	if len(raw) != aesKeySize {
		sum := sha256.Sum256(raw)
		raw = sum[:]
	}

	return &SecretCodec{key: raw}, nil
}

func (c *SecretCodec) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *SecretCodec) Encrypt(plaintext string) (string, error) {
	gcm, err := c.gcm()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenEncryptionFailed, err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenEncryptionFailed, err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt opens ciphertext produced by Encrypt. Malformed input, tampering and
// key changes all fail with ErrDecryption.
func (c *SecretCodec) Decrypt(encoded string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	gcm, err := c.gcm()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize+gcm.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrDecryption)
	}

	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return string(plaintext), nil
}
