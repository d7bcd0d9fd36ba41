package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
)

const referralAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateRandomString produces a cryptographically random base64url string of n bytes.
func GenerateRandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// GenerateNonce generates the single-use session nonce embedded in bearer tokens.
func GenerateNonce() (string, error) {
	return GenerateRandomString(18)
}

// GenerateReferralCode generates an upper-case alphanumeric referral code of length n.
func GenerateReferralCode(n int) (string, error) {
	out := make([]byte, n)
	limit := big.NewInt(int64(len(referralAlphabet)))
	for i := range out {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("failed to generate referral code: %w", err)
		}
		out[i] = referralAlphabet[idx.Int64()]
	}
	return string(out), nil
}
