package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PrivacyPublic  = "public"
	PrivacyPrivate = "private"
)

type UserSettings struct {
	DefaultPrivacy string `json:"default_privacy,omitempty"`
	BoostModal     bool   `json:"boost_modal,omitempty"`
	AutoPlayGif    bool   `json:"auto_play_gif,omitempty"`
}

// LockState is the persisted part of the lockout state machine.
type LockState struct {
	FailedAttempts int `gorm:"not null;default:0"`
	FirstFailedAt  *time.Time
	LockedUntil    *time.Time
}

type User struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	AccountID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	Account   Account   `gorm:"constraint:OnDelete:CASCADE"`

	Email        string  `gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash string  `gorm:"type:text;not null"`
	Locale       *string `gorm:"type:varchar(16)"`
	Admin        bool    `gorm:"not null;default:false"`
	ConfirmedAt  *time.Time

	Provider  *string `gorm:"type:varchar(64);uniqueIndex:idx_users_provider_uid"`
	UID       *string `gorm:"column:uid;type:varchar(255);uniqueIndex:idx_users_provider_uid"`
	HideOAuth bool    `gorm:"column:hide_oauth;not null;default:false"`

	Settings datatypes.JSONType[UserSettings]

	LockState LockState `gorm:"embedded"`

	SignInCount     int `gorm:"not null;default:0"`
	CurrentSignInAt *time.Time
	LastSignInAt    *time.Time
	CurrentSignInIP *string `gorm:"type:varchar(45)"`
	LastSignInIP    *string `gorm:"type:varchar(45)"`

	Version int64 `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time

	MFASecret          *MFASecret          `gorm:"constraint:OnDelete:CASCADE"`
	BackupCodes        []BackupCode        `gorm:"constraint:OnDelete:CASCADE"`
	VerificationTokens []VerificationToken `gorm:"constraint:OnDelete:CASCADE"`
	RememberTokens     []RememberToken     `gorm:"constraint:OnDelete:CASCADE"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.Version == 0 {
		u.Version = 1
	}
	return nil
}

func (u *User) IsConfirmed() bool {
	return u.ConfirmedAt != nil
}

func (u *User) TwoFactorEnabled() bool {
	return u.MFASecret != nil && u.MFASecret.EnabledAt != nil
}

// DefaultPrivacy falls back to the account's locked state when the user never picked one.
func (u *User) DefaultPrivacy() string {
	if privacy := u.Settings.Data().DefaultPrivacy; privacy != "" {
		return privacy
	}
	if u.Account.Locked {
		return PrivacyPrivate
	}
	return PrivacyPublic
}

func (u *User) BoostModal() bool {
	return u.Settings.Data().BoostModal
}

func (u *User) AutoPlayGif() bool {
	return u.Settings.Data().AutoPlayGif
}

// ProfileURL links to the user's page on the OAuth provider. templates maps a provider
// name to a format string with one %s verb for the provider uid.
func (u *User) ProfileURL(templates map[string]string) string {
	if u.Provider == nil || u.UID == nil || *u.UID == "" || u.HideOAuth {
		return ""
	}
	template, ok := templates[*u.Provider]
	if !ok {
		return ""
	}
	return fmt.Sprintf(template, *u.UID)
}
