package repository

import (
	"context"
	"errors"
	"time"

	"authcore/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BackupCodeRepository interface {
	Replace(ctx context.Context, userID uuid.UUID, hashes []string) error
	Consume(ctx context.Context, userID uuid.UUID, hash string, at time.Time) (bool, error)
	Find(ctx context.Context, userID uuid.UUID, hash string) (*entity.BackupCode, error)
	CountUnused(ctx context.Context, userID uuid.UUID) (int64, error)
}

type backupCodeRepository struct {
	db *gorm.DB
}

func NewBackupCodeRepository(db *gorm.DB) BackupCodeRepository {
	return &backupCodeRepository{db: db}
}

// Replace drops every code of the user and stores hashes in one transaction.
func (r *backupCodeRepository) Replace(ctx context.Context, userID uuid.UUID, hashes []string) error {
	return wrapErr(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&entity.BackupCode{}).Error; err != nil {
			return err
		}
		if len(hashes) == 0 {
			return nil
		}
		codes := make([]entity.BackupCode, 0, len(hashes))
		for _, hash := range hashes {
			codes = append(codes, entity.BackupCode{UserID: userID, CodeHash: hash})
		}
		return tx.Create(&codes).Error
	}))
}

// Consume marks an unused code as used. Exactly one concurrent caller gets true.
func (r *backupCodeRepository) Consume(ctx context.Context, userID uuid.UUID, hash string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&entity.BackupCode{}).
		Where("user_id = ? AND code_hash = ? AND used_at IS NULL", userID, hash).
		Update("used_at", at)
	if result.Error != nil {
		return false, wrapErr(result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *backupCodeRepository) Find(ctx context.Context, userID uuid.UUID, hash string) (*entity.BackupCode, error) {
	var code entity.BackupCode
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND code_hash = ?", userID, hash).
		First(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return &code, nil
}

func (r *backupCodeRepository) CountUnused(ctx context.Context, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.BackupCode{}).
		Where("user_id = ? AND used_at IS NULL", userID).
		Count(&count).Error
	return count, wrapErr(err)
}
