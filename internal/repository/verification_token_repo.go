package repository

import (
	"context"
	"errors"
	"time"

	"authcore/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type VerificationTokenRepository interface {
	Create(ctx context.Context, token *entity.VerificationToken) error
	ExpirePending(ctx context.Context, userID uuid.UUID, tokenType entity.VerificationType, at time.Time) (int64, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
	FindByHash(ctx context.Context, tokenHash string, tokenType entity.VerificationType) (*entity.VerificationToken, error)
	MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ConsumeConfirmation(ctx context.Context, id uuid.UUID, userID uuid.UUID, at time.Time) (bool, error)
	ConsumeReset(ctx context.Context, id uuid.UUID, userID uuid.UUID, passwordHash string, at time.Time) (bool, error)
}

type verificationTokenRepository struct {
	db *gorm.DB
}

func NewVerificationTokenRepository(db *gorm.DB) VerificationTokenRepository {
	return &verificationTokenRepository{db: db}
}

func (r *verificationTokenRepository) Create(ctx context.Context, t *entity.VerificationToken) error {
	return wrapErr(r.db.WithContext(ctx).Create(t).Error)
}

// ExpirePending moves the expiry of every unused token of tokenType up to at. Rows stay
// behind so a superseded token still reads as expired rather than unknown.
func (r *verificationTokenRepository) ExpirePending(
	ctx context.Context,
	userID uuid.UUID,
	tokenType entity.VerificationType,
	at time.Time,
) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&entity.VerificationToken{}).
		Where("user_id = ? AND type = ? AND used_at IS NULL AND expires_at > ?", userID, tokenType, at).
		Update("expires_at", at)
	return result.RowsAffected, wrapErr(result.Error)
}

// DeleteExpiredBefore drops tokens, used or not, whose expiry is older than cutoff.
func (r *verificationTokenRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&entity.VerificationToken{})
	return result.RowsAffected, wrapErr(result.Error)
}

// FindByHash returns the token whatever its state so callers can tell expired, used and
// unknown tokens apart.
func (r *verificationTokenRepository) FindByHash(
	ctx context.Context,
	tokenHash string,
	tokenType entity.VerificationType,
) (*entity.VerificationToken, error) {

	var token entity.VerificationToken
	err := r.db.WithContext(ctx).
		Where("token_hash = ? AND type = ?", tokenHash, tokenType).
		First(&token).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return &token, nil
}

func (r *verificationTokenRepository) MarkUsed(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return markUsed(r.db.WithContext(ctx), id, at)
}

// ConsumeConfirmation marks the token used and confirms the user atomically.
func (r *verificationTokenRepository) ConsumeConfirmation(ctx context.Context, id uuid.UUID, userID uuid.UUID, at time.Time) (bool, error) {
	var consumed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marked, err := markUsed(tx, id, at)
		if err != nil || !marked {
			return err
		}
		consumed = true
		return tx.Model(&entity.User{}).
			Where("id = ? AND confirmed_at IS NULL", userID).
			Update("confirmed_at", at).Error
	})
	return consumed, wrapErr(err)
}

// ConsumeReset marks the token used, stores the new password hash and clears the lockout.
func (r *verificationTokenRepository) ConsumeReset(ctx context.Context, id uuid.UUID, userID uuid.UUID, passwordHash string, at time.Time) (bool, error) {
	var consumed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marked, err := markUsed(tx, id, at)
		if err != nil || !marked {
			return err
		}
		consumed = true
		columns := lockStateColumns(entity.LockState{})
		columns["password_hash"] = passwordHash
		return tx.Model(&entity.User{}).Where("id = ?", userID).Updates(columns).Error
	})
	return consumed, wrapErr(err)
}

// markUsed only spends a token that is unused and not yet expired at the given time.
func markUsed(db *gorm.DB, id uuid.UUID, at time.Time) (bool, error) {
	result := db.Model(&entity.VerificationToken{}).
		Where("id = ? AND used_at IS NULL AND expires_at > ?", id, at).
		Update("used_at", at)
	if result.Error != nil {
		return false, wrapErr(result.Error)
	}
	return result.RowsAffected == 1, nil
}
