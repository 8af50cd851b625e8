package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionKeyInfo is the HKDF info prefix for session key derivation. The
// mobile client derives the same key independently, so the prefix and
// parameters (SHA-256, empty salt, 32-byte output) are frozen.
const SessionKeyInfo = "attendance-session-key-v1:"

// SessionKeySize is the derived symmetric key length in bytes.
const SessionKeySize = 32

// DeriveSessionKey derives the per-device symmetric key from the
// Diffie-Hellman shared secret and the device credential identifier using
// HKDF-SHA256 with an empty salt.
func DeriveSessionKey(sharedSecret []byte, credentialID string) ([]byte, error) {
	h := hkdf.New(sha256.New, sharedSecret, nil, []byte(SessionKeyInfo+credentialID))
	out := make([]byte, SessionKeySize)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// EphemeralKey returns a freshly generated 32-byte key that is never
// stored anywhere. Decoy payloads are sealed under one of these and the
// key goes out of scope immediately, which is what makes decoys
// permanently undecryptable.
func EphemeralKey() []byte {
	return MustRandom(SessionKeySize)
}

// NewNonce returns a 16-byte random nonce encoded as 32 hex characters.
func NewNonce() string {
	return hex.EncodeToString(MustRandom(16))
}

// MustRandom returns n cryptographically random bytes or panics.
func MustRandom(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(err)
	}
	return b
}
