package security

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	OTPDigits = 6
	OTPTTL    = 10 * time.Minute
)

var otpRange = big.NewInt(1_000_000)

// GenerateOTP returns a uniformly random 6-digit numeric code.
func GenerateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, otpRange)
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// NormalizeOTP strips every non-digit and left-pads with zeros to six digits.
// Inputs longer than six digits are returned unchanged.
func NormalizeOTP(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < OTPDigits {
		digits = strings.Repeat("0", OTPDigits-len(digits)) + digits
	}
	return digits
}

// OTPEqual compares the normalized forms in constant time.
func OTPEqual(submitted, stored string) bool {
	a := NormalizeOTP(submitted)
	b := NormalizeOTP(stored)
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
