package repository

import (
	"context"
	"errors"
	"time"

	"authcore/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RememberTokenRepository interface {
	Create(ctx context.Context, token *entity.RememberToken) error
	FindByTokenHash(ctx context.Context, hash string) (*entity.RememberToken, error)
	Rotate(ctx context.Context, id uuid.UUID, oldHash string, newHash string, expiresAt time.Time, at time.Time) (bool, error)
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error
	RevokeAllByUser(ctx context.Context, userID uuid.UUID, at time.Time) error
	CleanupExpired(ctx context.Context, now time.Time) (int64, error)
}

type rememberTokenRepository struct {
	db *gorm.DB
}

func NewRememberTokenRepository(db *gorm.DB) RememberTokenRepository {
	return &rememberTokenRepository{db: db}
}

func (r *rememberTokenRepository) Create(ctx context.Context, t *entity.RememberToken) error {
	return wrapErr(r.db.WithContext(ctx).Create(t).Error)
}

// FindByTokenHash ignores expiry and revocation; callers decide how to report those.
func (r *rememberTokenRepository) FindByTokenHash(ctx context.Context, hash string) (*entity.RememberToken, error) {
	var token entity.RememberToken
	err := r.db.WithContext(ctx).
		Where("token_hash = ?", hash).
		First(&token).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return &token, nil
}

// Rotate swaps the token hash only if the caller still holds the current one.
func (r *rememberTokenRepository) Rotate(ctx context.Context, id uuid.UUID, oldHash string, newHash string, expiresAt time.Time, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&entity.RememberToken{}).
		Where("id = ? AND token_hash = ? AND revoked_at IS NULL", id, oldHash).
		Updates(map[string]any{
			"token_hash":   newHash,
			"expires_at":   expiresAt,
			"last_used_at": at,
		})
	if result.Error != nil {
		return false, wrapErr(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *rememberTokenRepository) Revoke(ctx context.Context, id uuid.UUID, at time.Time) error {
	return wrapErr(r.db.WithContext(ctx).
		Model(&entity.RememberToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", at).
		Error)
}

func (r *rememberTokenRepository) RevokeAllByUser(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return wrapErr(r.db.WithContext(ctx).
		Model(&entity.RememberToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", at).
		Error)
}

func (r *rememberTokenRepository) CleanupExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ? OR revoked_at IS NOT NULL", now).
		Delete(&entity.RememberToken{})
	return result.RowsAffected, wrapErr(result.Error)
}
