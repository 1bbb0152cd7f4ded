package service

import (
	"context"
	"strings"
	"time"

	"authcore/internal/entity"
	"authcore/internal/repository"
	"authcore/internal/utils"

	"github.com/google/uuid"
)

const (
	DefaultRememberTTL = 14 * 24 * time.Hour
	rememberTokenBytes = 48
)

// RememberManager issues long-lived remember-me tokens. Each successful use rotates the
// token, so a stolen token stops working once the owner signs in again.
type RememberManager struct {
	tokens repository.RememberTokenRepository
	users  repository.UserRepository
	clock  Clock
	ttl    time.Duration
}

func NewRememberManager(
	tokens repository.RememberTokenRepository,
	users repository.UserRepository,
	clock Clock,
	ttl time.Duration,
) *RememberManager {
	if ttl <= 0 {
		ttl = DefaultRememberTTL
	}
	return &RememberManager{tokens: tokens, users: users, clock: clock, ttl: ttl}
}

func (m *RememberManager) Issue(ctx context.Context, user *entity.User, client ClientInfo) (string, time.Time, error) {
	token, err := utils.NewOpaqueToken(rememberTokenBytes)
	if err != nil {
		return "", time.Time{}, err
	}
	expiresAt := nowFrom(m.clock).Add(m.ttl)
	record := &entity.RememberToken{
		UserID:    user.ID,
		TokenHash: token.Digest,
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		ExpiresAt: expiresAt,
	}
	if err := m.tokens.Create(ctx, record); err != nil {
		return "", time.Time{}, err
	}
	return token.Raw, expiresAt, nil
}

// Validate resolves a token without rotating it.
func (m *RememberManager) Validate(ctx context.Context, raw string) (*entity.User, error) {
	_, user, err := m.resolve(ctx, raw)
	return user, err
}

// Rotate swaps raw for a new token. Of several concurrent rotations of the same token
// exactly one succeeds; the rest get ErrTokenInvalid.
func (m *RememberManager) Rotate(ctx context.Context, raw string) (*entity.User, string, time.Time, error) {
	token, user, err := m.resolve(ctx, raw)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	next, err := utils.NewOpaqueToken(rememberTokenBytes)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	now := nowFrom(m.clock)
	expiresAt := now.Add(m.ttl)
	rotated, err := m.tokens.Rotate(ctx, token.ID, token.TokenHash, next.Digest, expiresAt, now)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if !rotated {
		return nil, "", time.Time{}, ErrTokenInvalid
	}
	return user, next.Raw, expiresAt, nil
}

// Revoke invalidates raw. Unknown tokens are ignored.
func (m *RememberManager) Revoke(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	token, err := m.tokens.FindByTokenHash(ctx, utils.DigestToken(raw))
	if err != nil || token == nil {
		return err
	}
	return m.tokens.Revoke(ctx, token.ID, nowFrom(m.clock))
}

func (m *RememberManager) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	return m.tokens.RevokeAllByUser(ctx, userID, nowFrom(m.clock))
}

// CleanupExpired deletes expired and revoked tokens.
func (m *RememberManager) CleanupExpired(ctx context.Context) (int64, error) {
	return m.tokens.CleanupExpired(ctx, nowFrom(m.clock))
}

func (m *RememberManager) resolve(ctx context.Context, raw string) (*entity.RememberToken, *entity.User, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil, ErrTokenInvalid
	}
	token, err := m.tokens.FindByTokenHash(ctx, utils.DigestToken(raw))
	if err != nil {
		return nil, nil, err
	}
	if token == nil || token.RevokedAt != nil {
		return nil, nil, ErrTokenInvalid
	}
	if nowFrom(m.clock).After(token.ExpiresAt) {
		return nil, nil, ErrTokenExpired
	}
	user, err := m.users.FindByID(ctx, token.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrTokenInvalid
	}
	return token, user, nil
}
