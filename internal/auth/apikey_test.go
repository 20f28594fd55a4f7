// ABOUTME: Unit tests for API key generation and hashing
// ABOUTME: Covers prefix shape, hash stability, and credential routing

package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAPIKey(t *testing.T) {
	plaintext, hash, prefix, err := GenerateAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(plaintext, "hx_"))
	assert.True(t, strings.HasPrefix(prefix, "hx_"))
	assert.Len(t, prefix, len("hx_")+8)
	assert.Equal(t, HashAPIKey(plaintext), hash)

	// Keys must be unique
	other, _, _, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, other)
}

func TestHashAPIKey_Stable(t *testing.T) {
	assert.Equal(t, HashAPIKey("hx_abc"), HashAPIKey("hx_abc"))
	assert.NotEqual(t, HashAPIKey("hx_abc"), HashAPIKey("hx_abd"))
}

func TestLooksLikeAPIKey(t *testing.T) {
	assert.True(t, LooksLikeAPIKey("hx_deadbeef"))
	assert.False(t, LooksLikeAPIKey("eyJhbGciOiJIUzI1NiJ9.e30.sig"))
	assert.False(t, LooksLikeAPIKey(""))
}
