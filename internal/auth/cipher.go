package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const saltSize = 16

// TokenCipher encrypts OAuth tokens before they are written to the link
// store. The key is derived per value with argon2id from the configured
// secret, so two encryptions of the same token never share ciphertext.
type TokenCipher struct {
	Secret string
}

func (c TokenCipher) Encrypt(plaintext string) (string, error) {
	if c.Secret == "" {
		return "", fmt.Errorf("cipher secret is required")
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	blob := append(append(salt, nonce...), sealed...)
	return base64.StdEncoding.EncodeToString(blob), nil
}

func (c TokenCipher) Decrypt(encoded string) (string, error) {
	if c.Secret == "" {
		return "", fmt.Errorf("cipher secret is required")
	}
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	if len(blob) < saltSize {
		return "", fmt.Errorf("invalid encrypted token")
	}
	salt := blob[:saltSize]
	gcm, err := c.aead(salt)
	if err != nil {
		return "", err
	}
	if len(blob) < saltSize+gcm.NonceSize() {
		return "", fmt.Errorf("invalid encrypted token")
	}
	nonce := blob[saltSize : saltSize+gcm.NonceSize()]
	plaintext, err := gcm.Open(nil, nonce, blob[saltSize+gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt token: %w", err)
	}
	return string(plaintext), nil
}

func (c TokenCipher) aead(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(c.Secret), salt, 3, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return gcm, nil
}
