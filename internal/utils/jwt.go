package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenPurpose is carried in the typ claim. A token only parses for the purpose it was
// signed for, even when two purposes share a secret.
type TokenPurpose string

const (
	PurposeAccess       TokenPurpose = "access"
	PurposeMFAChallenge TokenPurpose = "mfa_challenge"
)

type Claims struct {
	Purpose TokenPurpose `json:"typ"`
	Role    string       `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// UserID is the subject as a user id.
func (c *Claims) UserID() (uuid.UUID, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}

// TokenSigner signs and verifies HS256 tokens for a single user subject.
type TokenSigner struct {
	Secret []byte
	Issuer string
	Now    func() time.Time
}

func (s TokenSigner) Sign(purpose TokenPurpose, userID uuid.UUID, role string, ttl time.Duration) (string, error) {
	if len(s.Secret) == 0 {
		return "", errors.New("token signing secret is empty")
	}
	now := s.now()
	claims := Claims{
		Purpose: purpose,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.Issuer,
			Subject:   userID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
}

// Parse verifies raw and returns its claims when it was signed for purpose.
func (s TokenSigner) Parse(raw string, purpose TokenPurpose) (*Claims, error) {
	if len(s.Secret) == 0 || raw == "" {
		return nil, ErrInvalidToken
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.Issuer != "" {
		options = append(options, jwt.WithIssuer(s.Issuer))
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.Secret, nil
	}, options...)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Purpose != purpose {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s TokenSigner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
