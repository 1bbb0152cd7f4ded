package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BackupCode struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_backup_codes_user_hash"`
	CodeHash string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_backup_codes_user_hash"`
	UsedAt   *time.Time

	CreatedAt time.Time
}

func (c *BackupCode) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
