package dto

import (
	"time"

	"authcore/internal/entity"
)

type RegisterRequest struct {
	Email       string  `json:"email" validate:"required,email"`
	Password    string  `json:"password" validate:"required,min=8,max=128"`
	Username    string  `json:"username" validate:"required,max=30"`
	DisplayName string  `json:"display_name" validate:"omitempty,max=100"`
	Locale      *string `json:"locale" validate:"omitempty"`
}

type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

type LoginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"remember_me"`
}

type LoginMFARequest struct {
	MFAToken   string `json:"mfa_token" validate:"required"`
	Code       string `json:"code" validate:"required"`
	RememberMe bool   `json:"remember_me"`
}

// LoginResponse carries either tokens or an MFA challenge. RememberToken never leaves the
// server in a body; the HTTP layer moves it into a cookie.
type LoginResponse struct {
	AccessToken       string    `json:"access_token,omitempty"`
	ExpiresIn         int64     `json:"expires_in,omitempty"`
	RememberToken     string    `json:"-"`
	RememberExpiresAt time.Time `json:"-"`
	MFARequired       bool      `json:"mfa_required,omitempty"`
	MFAToken          string    `json:"mfa_token,omitempty"`
	MFATokenExpiresIn int64     `json:"mfa_token_expires_in,omitempty"`
}

type PasswordResetRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=128"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=128"`
}

type MFASetupResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

type MFACodeRequest struct {
	Code string `json:"code" validate:"required"`
}

type UpdatePreferencesRequest struct {
	DefaultPrivacy *string `json:"default_privacy" validate:"omitempty,oneof=public private"`
	BoostModal     *bool   `json:"boost_modal"`
	AutoPlayGif    *bool   `json:"auto_play_gif"`
	HideOAuth      *bool   `json:"hide_oauth"`
}

type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

type UserResponse struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Username         string     `json:"username"`
	DisplayName      string     `json:"display_name,omitempty"`
	Locale           *string    `json:"locale,omitempty"`
	Admin            bool       `json:"admin"`
	ConfirmedAt      *time.Time `json:"confirmed_at,omitempty"`
	TwoFactorEnabled bool       `json:"two_factor_enabled"`
	Provider         *string    `json:"provider,omitempty"`
	ProfileURL       string     `json:"profile_url,omitempty"`
	DefaultPrivacy   string     `json:"default_privacy"`
	BoostModal       bool       `json:"boost_modal"`
	AutoPlayGif      bool       `json:"auto_play_gif"`
	HideOAuth        bool       `json:"hide_oauth"`
	SignInCount      int        `json:"sign_in_count"`
	LastSignInAt     *time.Time `json:"last_sign_in_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func UserResponseFromEntity(user *entity.User, profileTemplates map[string]string) UserResponse {
	return UserResponse{
		ID:               user.ID.String(),
		Email:            user.Email,
		Username:         user.Account.Username,
		DisplayName:      user.Account.DisplayName,
		Locale:           user.Locale,
		Admin:            user.Admin,
		ConfirmedAt:      user.ConfirmedAt,
		TwoFactorEnabled: user.TwoFactorEnabled(),
		Provider:         user.Provider,
		ProfileURL:       user.ProfileURL(profileTemplates),
		DefaultPrivacy:   user.DefaultPrivacy(),
		BoostModal:       user.BoostModal(),
		AutoPlayGif:      user.AutoPlayGif(),
		HideOAuth:        user.HideOAuth,
		SignInCount:      user.SignInCount,
		LastSignInAt:     user.LastSignInAt,
		CreatedAt:        user.CreatedAt,
		UpdatedAt:        user.UpdatedAt,
	}
}

func UserResponsesFromEntities(users []entity.User, profileTemplates map[string]string) []UserResponse {
	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, UserResponseFromEntity(&users[i], profileTemplates))
	}
	return responses
}

type SecurityEventResponse struct {
	Action    string    `json:"action"`
	IPAddress *string   `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func SecurityEventsFromEntities(logs []entity.SecurityLog) []SecurityEventResponse {
	responses := make([]SecurityEventResponse, 0, len(logs))
	for _, log := range logs {
		responses = append(responses, SecurityEventResponse{
			Action:    string(log.Action),
			IPAddress: log.IPAddress,
			CreatedAt: log.CreatedAt,
		})
	}
	return responses
}
