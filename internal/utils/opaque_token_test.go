package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOpaqueToken(t *testing.T) {
	first, err := NewOpaqueToken(32)
	require.NoError(t, err)
	second, err := NewOpaqueToken(32)
	require.NoError(t, err)

	assert.Len(t, first.Raw, 43)
	assert.NotEqual(t, first.Raw, second.Raw)
	assert.Equal(t, DigestToken(first.Raw), first.Digest)
	assert.NotEqual(t, first.Raw, first.Digest)

	_, err = NewOpaqueToken(0)
	assert.Error(t, err)
}

func TestDigestToken(t *testing.T) {
	assert.Equal(t, "ungWv48Bz-pBQUDeXa4iI7ADYaOWF3qctBD_YfIAFa0", DigestToken("abc"))
	assert.Equal(t, DigestToken("abc"), DigestToken(" abc\n"))
	assert.NotEqual(t, DigestToken("abc"), DigestToken("abd"))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM\t"))
}
