package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func strPtr(s string) *string { return &s }

func TestUser_DefaultPrivacy(t *testing.T) {
	tests := []struct {
		name   string
		user   User
		expect string
	}{
		{"unset on an open account", User{}, PrivacyPublic},
		{"unset on a locked account", User{Account: Account{Locked: true}}, PrivacyPrivate},
		{
			"explicit choice wins over the lock",
			User{
				Account:  Account{Locked: true},
				Settings: datatypes.NewJSONType(UserSettings{DefaultPrivacy: PrivacyPublic}),
			},
			PrivacyPublic,
		},
		{
			"explicit private",
			User{Settings: datatypes.NewJSONType(UserSettings{DefaultPrivacy: PrivacyPrivate})},
			PrivacyPrivate,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, tt.user.DefaultPrivacy())
		})
	}
}

func TestUser_SettingsFlags(t *testing.T) {
	var user User
	assert.False(t, user.BoostModal())
	assert.False(t, user.AutoPlayGif())

	user.Settings = datatypes.NewJSONType(UserSettings{BoostModal: true})
	assert.True(t, user.BoostModal())
	assert.False(t, user.AutoPlayGif())

	user.Settings = datatypes.NewJSONType(UserSettings{AutoPlayGif: true})
	assert.False(t, user.BoostModal())
	assert.True(t, user.AutoPlayGif())
}

func TestUser_ProfileURL(t *testing.T) {
	templates := map[string]string{"github": "https://github.com/%s"}

	tests := []struct {
		name   string
		user   User
		expect string
	}{
		{"linked github account", User{Provider: strPtr("github"), UID: strPtr("1234")}, "https://github.com/1234"},
		{"hidden by the user", User{Provider: strPtr("github"), UID: strPtr("1234"), HideOAuth: true}, ""},
		{"provider without a template", User{Provider: strPtr("gitlab"), UID: strPtr("1234")}, ""},
		{"password account", User{}, ""},
		{"empty uid", User{Provider: strPtr("github"), UID: strPtr("")}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, tt.user.ProfileURL(templates))
		})
	}
	linked := User{Provider: strPtr("github"), UID: strPtr("1234")}
	assert.Empty(t, linked.ProfileURL(nil))
}

func TestUser_StateHelpers(t *testing.T) {
	var user User
	assert.False(t, user.IsConfirmed())
	assert.False(t, user.TwoFactorEnabled())

	user.MFASecret = &MFASecret{}
	assert.False(t, user.TwoFactorEnabled(), "a pending secret is not enabled")
}
