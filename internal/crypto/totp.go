package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// DefaultTOTPStep is the time-step used by both one-time code families.
const DefaultTOTPStep = 30 * time.Second

// GenerateTOTP computes a 6-digit one-time code over the time-step counter
// for now, using HMAC-SHA256 with RFC 4226 dynamic truncation.
func GenerateTOTP(secret []byte, now time.Time, step time.Duration) string {
	counter := uint64(now.Unix()) / uint64(step.Seconds())
	return hotp(secret, counter)
}

// GenerateRoundTOTP computes the session+round bound code (TOTPs). The
// per-round secret is HMAC-SHA256 over "sid|uid|round" keyed by the server
// secret, so a code from one round never verifies against another.
func GenerateRoundTOTP(serverSecret []byte, sessionID string, userID uint, round uint, now time.Time, step time.Duration) string {
	return GenerateTOTP(roundSecret(serverSecret, sessionID, userID, round), now, step)
}

// VerifyTOTP checks candidate against the codes for now and the adjacent
// skew steps on either side. Outside that window the code is rejected.
func VerifyTOTP(secret []byte, candidate string, now time.Time, step time.Duration, skew int) bool {
	if candidate == "" {
		return false
	}
	counter := int64(uint64(now.Unix()) / uint64(step.Seconds()))
	for i := -skew; i <= skew; i++ {
		c := counter + int64(i)
		if c < 0 {
			continue
		}
		if hmac.Equal([]byte(hotp(secret, uint64(c))), []byte(candidate)) {
			return true
		}
	}
	return false
}

// VerifyRoundTOTP checks a TOTPs candidate for one specific round.
func VerifyRoundTOTP(serverSecret []byte, sessionID string, userID uint, round uint, candidate string, now time.Time, step time.Duration, skew int) bool {
	return VerifyTOTP(roundSecret(serverSecret, sessionID, userID, round), candidate, now, step, skew)
}

func roundSecret(serverSecret []byte, sessionID string, userID uint, round uint) []byte {
	mac := hmac.New(sha256.New, serverSecret)
	fmt.Fprintf(mac, "%s|%d|%d", sessionID, userID, round)
	return mac.Sum(nil)
}

// hotp is the RFC 4226 computation with an HMAC-SHA256 PRF.
func hotp(secret []byte, counter uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)

	mac := hmac.New(sha256.New, secret)
	mac.Write(buf[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	code := (uint32(sum[offset])&0x7f)<<24 |
		uint32(sum[offset+1])<<16 |
		uint32(sum[offset+2])<<8 |
		uint32(sum[offset+3])

	return fmt.Sprintf("%06d", code%1000000)
}
