package crypto

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeriveSessionKey_Deterministic(t *testing.T) {
	secret := []byte("dh-shared-secret-material")

	key1, err := DeriveSessionKey(secret, "credential-a")
	assert.NoError(t, err)
	key2, err := DeriveSessionKey(secret, "credential-a")
	assert.NoError(t, err)

	assert.Equal(t, key1, key2, "same inputs must derive the same key")
	assert.Len(t, key1, SessionKeySize)
}

func TestDeriveSessionKey_CredentialSeparation(t *testing.T) {
	secret := []byte("dh-shared-secret-material")

	keyA, err := DeriveSessionKey(secret, "credential-a")
	assert.NoError(t, err)
	keyB, err := DeriveSessionKey(secret, "credential-b")
	assert.NoError(t, err)

	assert.NotEqual(t, keyA, keyB, "different credentials must derive different keys")
}

func TestEnvelope_SealOpen(t *testing.T) {
	key := MustRandom(32)
	plaintext := []byte(`{"v":1,"sid":"abc","uid":7,"r":1}`)

	envelope, err := Seal(plaintext, key)
	assert.NoError(t, err)
	assert.Len(t, strings.Split(envelope, "."), 3, "envelope is iv.ciphertext.tag")

	opened, err := Open(envelope, key)
	assert.NoError(t, err)
	assert.Equal(t, plaintext, opened)
}

func TestEnvelope_WrongKey(t *testing.T) {
	envelope, err := Seal([]byte("payload"), MustRandom(32))
	assert.NoError(t, err)

	_, err = Open(envelope, MustRandom(32))
	assert.Error(t, err, "a different key must not open the envelope")
}

func TestEnvelope_Malformed(t *testing.T) {
	key := MustRandom(32)

	tests := []struct {
		name     string
		envelope string
	}{
		{name: "no dots", envelope: "not-an-envelope"},
		{name: "two parts", envelope: "aa.bb"},
		{name: "bad base64", envelope: "!!.!!.!!"},
		{name: "empty", envelope: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.envelope, key)
			assert.ErrorIs(t, err, ErrMalformedEnvelope)
		})
	}
}

func TestEnvelope_Tampered(t *testing.T) {
	key := MustRandom(32)
	envelope, err := Seal([]byte("payload"), key)
	assert.NoError(t, err)

	parts := strings.Split(envelope, ".")
	parts[1] = parts[2] // swap ciphertext for the tag
	_, err = Open(strings.Join(parts, "."), key)
	assert.Error(t, err)
}

func TestGenerateTOTP_StableWithinStep(t *testing.T) {
	secret := []byte("totp-secret")
	now := time.Unix(1_700_000_010, 0)

	code1 := GenerateTOTP(secret, now, DefaultTOTPStep)
	code2 := GenerateTOTP(secret, now.Add(5*time.Second), DefaultTOTPStep)

	assert.Len(t, code1, 6)
	assert.Equal(t, code1, code2, "codes within one step must match")
}

func TestVerifyTOTP_Window(t *testing.T) {
	secret := []byte("totp-secret")
	generatedAt := time.Unix(1_700_000_000, 0)
	code := GenerateTOTP(secret, generatedAt, DefaultTOTPStep)

	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{name: "same step", offset: 0, want: true},
		{name: "one step later", offset: 30 * time.Second, want: true},
		{name: "one step earlier", offset: -30 * time.Second, want: true},
		{name: "45s away lands outside the window", offset: 45 * time.Second, want: false},
		{name: "far future", offset: 10 * time.Minute, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VerifyTOTP(secret, code, generatedAt.Add(tt.offset), DefaultTOTPStep, 1)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifyTOTP_EmptyCandidate(t *testing.T) {
	assert.False(t, VerifyTOTP([]byte("s"), "", time.Now(), DefaultTOTPStep, 1))
}

func TestRoundTOTP_BindsRound(t *testing.T) {
	serverSecret := []byte("server-secret")
	now := time.Unix(1_700_000_000, 0)

	code := GenerateRoundTOTP(serverSecret, "sess-1", 42, 2, now, DefaultTOTPStep)

	assert.True(t, VerifyRoundTOTP(serverSecret, "sess-1", 42, 2, code, now, DefaultTOTPStep, 1))
	assert.False(t, VerifyRoundTOTP(serverSecret, "sess-1", 42, 3, code, now, DefaultTOTPStep, 1),
		"a code for round 2 must not verify for round 3")
	assert.False(t, VerifyRoundTOTP(serverSecret, "sess-2", 42, 2, code, now, DefaultTOTPStep, 1),
		"a code for one session must not verify for another")
}

func TestEphemeralKey_Unique(t *testing.T) {
	assert.NotEqual(t, EphemeralKey(), EphemeralKey())
}

func TestNewNonce_Format(t *testing.T) {
	nonce := NewNonce()
	assert.Len(t, nonce, 32)
	assert.NotEqual(t, nonce, NewNonce())
}
