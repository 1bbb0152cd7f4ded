package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SecurityAction string

const (
	LoginSuccess           SecurityAction = "login_success"
	LoginFailed            SecurityAction = "login_failed"
	Logout                 SecurityAction = "logout"
	Reset                  SecurityAction = "password_reset"
	PasswordChanged        SecurityAction = "password_changed"
	EmailConfirmed         SecurityAction = "email_confirmed"
	MFAEnabled             SecurityAction = "mfa_enabled"
	MFADisabled            SecurityAction = "mfa_disabled"
	MFAFailed              SecurityAction = "mfa_failed"
	BackupCodeUsed         SecurityAction = "backup_code_used"
	BackupCodesRegenerated SecurityAction = "backup_codes_regenerated"
	RememberRotated        SecurityAction = "remember_rotated"
	AccountUnlocked        SecurityAction = "account_unlocked"
	AccountDeleted         SecurityAction = "account_deleted"
	OAuthLinked            SecurityAction = "oauth_linked"
	SessionsRevoked        SecurityAction = "sessions_revoked"
)

type SecurityLog struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey"`

	UserID *uuid.UUID `gorm:"type:uuid;index"`

	IPAddress *string        `gorm:"type:varchar(45)"`
	Action    SecurityAction `gorm:"type:varchar(32);not null"`

	Metadata datatypes.JSON

	CreatedAt time.Time
}

func (l *SecurityLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
