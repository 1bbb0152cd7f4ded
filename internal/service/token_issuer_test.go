package service

import (
	"testing"
	"time"

	"authcore/internal/entity"
	"authcore/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuers_SharedSecretKeepsPurposesApart(t *testing.T) {
	clock := newFakeClock()
	access := JWTAccessIssuer{Secret: testKey(9), Issuer: "authcore-test", Clock: clock}
	mfa := MFATokenIssuerJWT{Secret: testKey(9), Issuer: "authcore-test", Clock: clock}
	user := entity.User{ID: uuid.New(), Admin: true}

	challenge, ttl, err := mfa.IssueMFAToken(user.ID)
	require.NoError(t, err)
	assert.Equal(t, defaultMFATokenTTL, ttl)
	accessToken, accessTTL, err := access.IssueAccessToken(user)
	require.NoError(t, err)
	assert.Equal(t, defaultAccessTTL, accessTTL)

	_, err = access.Signer().Parse(challenge, utils.PurposeAccess)
	assert.ErrorIs(t, err, utils.ErrInvalidToken, "a challenge is not an access token")
	_, err = mfa.ParseMFAToken(accessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid, "an access token is not a challenge")

	claims, err := access.Signer().Parse(accessToken, utils.PurposeAccess)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, claims.Role)
	id, err := mfa.ParseMFAToken(challenge)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
}

func TestMFATokenIssuer_ExpiresOnTheInjectedClock(t *testing.T) {
	clock := newFakeClock()
	mfa := MFATokenIssuerJWT{Secret: testKey(8), TTL: time.Minute, Clock: clock}
	userID := uuid.New()

	challenge, _, err := mfa.IssueMFAToken(userID)
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, err = mfa.ParseMFAToken(challenge)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	_, err = mfa.ParseMFAToken(challenge)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	other := MFATokenIssuerJWT{Secret: testKey(7), Clock: clock}
	fresh, _, err := other.IssueMFAToken(userID)
	require.NoError(t, err)
	_, err = mfa.ParseMFAToken(fresh)
	assert.ErrorIs(t, err, ErrTokenInvalid, "signed with another key")
}
