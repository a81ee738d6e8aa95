package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndVerifyPasswordHash(t *testing.T) {
	hash, err := BuildPasswordHash("s3cret-password")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "pbkdf2_sha256$"))

	assert.True(t, VerifyPasswordHash("s3cret-password", hash))
	assert.False(t, VerifyPasswordHash("wrong-password", hash))
}

func TestVerifyPasswordHashMalformed(t *testing.T) {
	assert.False(t, VerifyPasswordHash("anything", ""))
	assert.False(t, VerifyPasswordHash("anything", "plaintext"))
	assert.False(t, VerifyPasswordHash("anything", "pbkdf2_sha256$notanumber$salt$digest"))
	assert.False(t, VerifyPasswordHash("anything", "pbkdf2_sha256$1000$saltonly"))
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, SecureCompare("token", "token"))
	assert.False(t, SecureCompare("token", "other"))
	assert.False(t, SecureCompare("token", ""))
}
