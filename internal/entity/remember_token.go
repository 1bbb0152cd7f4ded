package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RememberToken struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index"`

	TokenHash string `gorm:"type:varchar(64);uniqueIndex;not null"`

	IPAddress *string `gorm:"type:varchar(45)"`
	UserAgent *string `gorm:"type:text"`

	ExpiresAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time

	CreatedAt time.Time
}

func (t *RememberToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
