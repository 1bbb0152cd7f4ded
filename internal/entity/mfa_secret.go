package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type MFASecret struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`

	// EncryptedSecret holds the sealed base32 TOTP secret, never the plaintext.
	EncryptedSecret string `gorm:"type:text;not null"`
	EnabledAt       *time.Time
	LastUsedStep    int64 `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *MFASecret) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
