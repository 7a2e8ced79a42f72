package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseAPIKey extracts secret_id and random_data from an API key.
// Format: rf-v1-<secret_id>-<random_data>, 32 and 64 lower-case hex chars.
func ParseAPIKey(key string) (secretID, randomData string, err error) {
	parts := strings.Split(key, "-")
	if len(parts) != 4 || parts[0] != "rf" || parts[1] != "v1" {
		return "", "", ErrInvalidKeyFormat
	}

	secretID = parts[2]
	randomData = parts[3]
	if len(secretID) != 32 || len(randomData) != 64 {
		return "", "", ErrInvalidKeyFormat
	}
	for _, c := range secretID + randomData {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", "", ErrInvalidKeyFormat
		}
	}

	return secretID, randomData, nil
}

// FormatAPIKey constructs an API key from components.
func FormatAPIKey(secretID, randomData string) string {
	return fmt.Sprintf("rf-v1-%s-%s", secretID, randomData)
}

// GenerateAPIKey creates a new key bound to secretID with 256 random bits.
func GenerateAPIKey(secretID string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate API key: %w", err)
	}
	key := FormatAPIKey(secretID, hex.EncodeToString(buf))
	if _, _, err := ParseAPIKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// ComputeHMAC computes the HMAC-SHA256 signature of apiKey using secret.
func ComputeHMAC(secret []byte, apiKey string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(apiKey))
	return h.Sum(nil)
}

// VerifyHMAC compares signatures in constant time.
func VerifyHMAC(expectedHash, computedHash []byte) bool {
	return hmac.Equal(expectedHash, computedHash)
}
