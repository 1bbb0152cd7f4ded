package repository

import (
	"context"
	"errors"
	"time"

	"authcore/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MFASecretRepository interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*entity.MFASecret, error)
	Upsert(ctx context.Context, secret *entity.MFASecret) error
	Enable(ctx context.Context, userID uuid.UUID, at time.Time) (bool, error)
	ConsumeStep(ctx context.Context, userID uuid.UUID, step int64) (bool, error)
	UpdateEncryptedSecret(ctx context.Context, id uuid.UUID, encrypted string) error
	ListAll(ctx context.Context) ([]entity.MFASecret, error)
	Disable(ctx context.Context, userID uuid.UUID) error
}

type mfaSecretRepository struct {
	db *gorm.DB
}

func NewMFASecretRepository(db *gorm.DB) MFASecretRepository {
	return &mfaSecretRepository{db: db}
}

func (r *mfaSecretRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*entity.MFASecret, error) {
	var secret entity.MFASecret
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&secret).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return &secret, nil
}

func (r *mfaSecretRepository) Upsert(ctx context.Context, secret *entity.MFASecret) error {
	return wrapErr(r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"encrypted_secret", "enabled_at", "last_used_step", "updated_at"}),
		}).
		Create(secret).Error)
}

// Enable marks a pending secret as enabled; false means it was already enabled or missing.
func (r *mfaSecretRepository) Enable(ctx context.Context, userID uuid.UUID, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&entity.MFASecret{}).
		Where("user_id = ? AND enabled_at IS NULL", userID).
		Update("enabled_at", at)
	if result.Error != nil {
		return false, wrapErr(result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ConsumeStep advances the replay guard. Only one caller can claim a given step, and no
// step at or before the last accepted one can be claimed again.
func (r *mfaSecretRepository) ConsumeStep(ctx context.Context, userID uuid.UUID, step int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&entity.MFASecret{}).
		Where("user_id = ? AND last_used_step < ?", userID, step).
		Update("last_used_step", step)
	if result.Error != nil {
		return false, wrapErr(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *mfaSecretRepository) UpdateEncryptedSecret(ctx context.Context, id uuid.UUID, encrypted string) error {
	return wrapErr(r.db.WithContext(ctx).
		Model(&entity.MFASecret{}).
		Where("id = ?", id).
		Update("encrypted_secret", encrypted).Error)
}

func (r *mfaSecretRepository) ListAll(ctx context.Context) ([]entity.MFASecret, error) {
	var secrets []entity.MFASecret
	if err := r.db.WithContext(ctx).Order("created_at").Find(&secrets).Error; err != nil {
		return nil, wrapErr(err)
	}
	return secrets, nil
}

// Disable removes the secret and every backup code of the user.
func (r *mfaSecretRepository) Disable(ctx context.Context, userID uuid.UUID) error {
	return wrapErr(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&entity.BackupCode{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&entity.MFASecret{}).Error
	}))
}
