package service

import (
	"time"

	"authcore/internal/entity"
	"authcore/internal/utils"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	defaultAccessTTL = 15 * time.Minute
)

// JWTAccessIssuer signs access tokens carrying the user's role. Middleware verifies them
// with a utils.TokenSigner built from the same secret and issuer.
type JWTAccessIssuer struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
	Clock  Clock
}

func (j JWTAccessIssuer) IssueAccessToken(user entity.User) (string, time.Duration, error) {
	ttl := j.TTL
	if ttl <= 0 {
		ttl = defaultAccessTTL
	}
	token, err := j.Signer().Sign(utils.PurposeAccess, user.ID, RoleOf(&user), ttl)
	if err != nil {
		return "", 0, err
	}
	return token, ttl, nil
}

func (j JWTAccessIssuer) Signer() utils.TokenSigner {
	return signerFor(j.Secret, j.Issuer, j.Clock)
}

func RoleOf(user *entity.User) string {
	if user.Admin {
		return RoleAdmin
	}
	return RoleUser
}

func signerFor(secret []byte, issuer string, clock Clock) utils.TokenSigner {
	return utils.TokenSigner{
		Secret: secret,
		Issuer: issuer,
		Now:    func() time.Time { return nowFrom(clock) },
	}
}
