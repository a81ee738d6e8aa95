package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Prefix            = "pbkdf2_sha256"
	defaultPBKDF2Iterations = 390000
)

// BuildPasswordHash derives a salted PBKDF2-SHA256 hash in the
// "pbkdf2_sha256$iterations$salt$digest" format.
func BuildPasswordHash(password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	saltHex := hex.EncodeToString(salt)

	dk := pbkdf2.Key([]byte(password), []byte(saltHex), defaultPBKDF2Iterations, sha256.Size, sha256.New)
	digest := base64.StdEncoding.EncodeToString(dk)
	return fmt.Sprintf("%s$%d$%s$%s", pbkdf2Prefix, defaultPBKDF2Iterations, saltHex, digest), nil
}

// VerifyPasswordHash checks a password against an encoded PBKDF2 hash using
// a constant-time compare. Malformed hashes simply fail verification.
func VerifyPasswordHash(password, encodedHash string) bool {
	if !strings.HasPrefix(encodedHash, pbkdf2Prefix+"$") {
		return false
	}
	parts := strings.SplitN(encodedHash, "$", 4)
	if len(parts) != 4 {
		return false
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations < 1 {
		return false
	}
	salt, digest := parts[2], parts[3]

	dk := pbkdf2.Key([]byte(password), []byte(salt), iterations, sha256.Size, sha256.New)
	candidate := base64.StdEncoding.EncodeToString(dk)
	return hmac.Equal([]byte(candidate), []byte(digest))
}

// SecureCompare is a constant-time string equality check
func SecureCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}
