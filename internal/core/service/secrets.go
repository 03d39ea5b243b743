package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/gigmarket/identity/internal/core/domain"
)

const resetTokenBytes = 32

func newResetToken() (string, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("reset token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func newOTP() (string, error) {
	var b strings.Builder
	b.Grow(domain.OTPDigits)
	ten := big.NewInt(10)
	for i := 0; i < domain.OTPDigits; i++ {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", fmt.Errorf("otp: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// hashSecret is the stored form of reset tokens and OTPs.
func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func validOTP(otp string) bool {
	if len(otp) != domain.OTPDigits {
		return false
	}
	for _, c := range otp {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
