package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedSigner(secret string, now *time.Time) TokenSigner {
	return TokenSigner{
		Secret: []byte(strings.Repeat(secret, 32)),
		Issuer: "authcore",
		Now:    func() time.Time { return *now },
	}
}

func TestTokenSigner_RoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := fixedSigner("s", &now)
	userID := uuid.New()

	token, err := signer.Sign(PurposeAccess, userID, "admin", time.Minute)
	require.NoError(t, err)

	claims, err := signer.Parse(token, PurposeAccess)
	require.NoError(t, err)
	assert.Equal(t, PurposeAccess, claims.Purpose)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "authcore", claims.Issuer)
	assert.NotEmpty(t, claims.ID)
	assert.WithinDuration(t, now.Add(time.Minute), claims.ExpiresAt.Time, 0)
	id, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, id)

	again, err := signer.Sign(PurposeAccess, userID, "admin", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, token, again, "every token carries its own id")
}

func TestTokenSigner_Rejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := fixedSigner("s", &now)
	userID := uuid.New()

	valid, err := signer.Sign(PurposeAccess, userID, "user", time.Minute)
	require.NoError(t, err)
	challenge, err := signer.Sign(PurposeMFAChallenge, userID, "", time.Minute)
	require.NoError(t, err)
	foreign, err := fixedSigner("o", &now).Sign(PurposeAccess, userID, "user", time.Minute)
	require.NoError(t, err)
	otherIssuer := signer
	otherIssuer.Issuer = "elsewhere"
	misissued, err := otherIssuer.Sign(PurposeAccess, userID, "user", time.Minute)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Purpose: PurposeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "authcore",
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	badSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Purpose: PurposeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "authcore",
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}).SignedString(signer.Secret)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Purpose:          PurposeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "authcore", Subject: userID.String()},
	}).SignedString(signer.Secret)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"wrong purpose", challenge},
		{"foreign secret", foreign},
		{"wrong issuer", misissued},
		{"alg none", unsigned},
		{"subject is not a user id", badSubject},
		{"no expiry", noExpiry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := signer.Parse(tt.token, PurposeAccess)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}

	_, err = signer.Parse(valid, PurposeAccess)
	require.NoError(t, err)
	now = now.Add(time.Minute + time.Second)
	_, err = signer.Parse(valid, PurposeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken, "expired on the signer clock")
}

func TestTokenSigner_NeedsASecret(t *testing.T) {
	_, err := TokenSigner{}.Sign(PurposeAccess, uuid.New(), "", time.Minute)
	assert.Error(t, err)
	_, err = TokenSigner{}.Parse("a.b.c", PurposeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
