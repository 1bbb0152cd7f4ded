package service

import (
	"time"

	"authcore/internal/utils"

	"github.com/google/uuid"
)

const defaultMFATokenTTL = 5 * time.Minute

// MFATokenIssuerJWT signs the short-lived challenge a password login hands back when a
// second factor is still owed. The token is only accepted by LoginWithMFA.
type MFATokenIssuerJWT struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Clock  Clock
}

func (m MFATokenIssuerJWT) IssueMFAToken(userID uuid.UUID) (string, time.Duration, error) {
	ttl := m.TTL
	if ttl <= 0 {
		ttl = defaultMFATokenTTL
	}
	token, err := signerFor(m.Secret, m.Issuer, m.Clock).Sign(utils.PurposeMFAChallenge, userID, "", ttl)
	if err != nil {
		return "", 0, err
	}
	return token, ttl, nil
}

func (m MFATokenIssuerJWT) ParseMFAToken(token string) (uuid.UUID, error) {
	claims, err := signerFor(m.Secret, m.Issuer, m.Clock).Parse(token, utils.PurposeMFAChallenge)
	if err != nil {
		return uuid.Nil, ErrTokenInvalid
	}
	return claims.UserID()
}
