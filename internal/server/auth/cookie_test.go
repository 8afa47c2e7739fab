package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieRoundTrip(t *testing.T) {
	codec := NewCookieCodec("secret-a", time.Hour)

	value, err := codec.Mint("1001")
	require.NoError(t, err)

	userID, err := codec.Verify(value)
	require.NoError(t, err)
	assert.Equal(t, "1001", userID)
}

func TestCookieWrongSecret(t *testing.T) {
	value, err := NewCookieCodec("secret-a", time.Hour).Mint("1001")
	require.NoError(t, err)

	_, err = NewCookieCodec("secret-b", time.Hour).Verify(value)
	assert.Error(t, err)
}

func TestCookieExpired(t *testing.T) {
	value, err := NewCookieCodec("secret-a", -time.Minute).Mint("1001")
	require.NoError(t, err)

	_, err = NewCookieCodec("secret-a", time.Hour).Verify(value)
	assert.ErrorIs(t, err, ErrCookieExpired)
}
