package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	ivSize  = 12
	tagSize = 16
)

// ErrMalformedEnvelope is returned when the wire envelope does not have
// the expected three dot-joined base64 components.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Seal encrypts plaintext with AES-256-GCM and returns the wire envelope
// "ivBase64.ciphertextBase64.authTagBase64".
func Seal(plaintext, key []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nil, iv, plaintext, nil)
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	enc := base64.StdEncoding
	return strings.Join([]string{
		enc.EncodeToString(iv),
		enc.EncodeToString(ciphertext),
		enc.EncodeToString(tag),
	}, "."), nil
}

// Open decrypts a wire envelope produced by Seal. Authentication failure
// or a malformed envelope yields an error.
func Open(envelope string, key []byte) ([]byte, error) {
	parts := strings.Split(envelope, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedEnvelope
	}

	enc := base64.StdEncoding
	iv, err := enc.DecodeString(parts[0])
	if err != nil {
		return nil, ErrMalformedEnvelope
	}
	ciphertext, err := enc.DecodeString(parts[1])
	if err != nil {
		return nil, ErrMalformedEnvelope
	}
	tag, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, ErrMalformedEnvelope
	}
	if len(iv) != ivSize || len(tag) != tagSize {
		return nil, ErrMalformedEnvelope
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("envelope authentication failed: %w", err)
	}
	return plaintext, nil
}
