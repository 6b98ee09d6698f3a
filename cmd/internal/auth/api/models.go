package authapi

import "time"

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type passwordForgotRequest struct {
	Identifier string `json:"identifier"`
}

type passwordResetRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type userResponse struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	Email             *string    `json:"email"`
	DisplayName       *string    `json:"display_name"`
	Role              string     `json:"role"`
	MustResetPassword bool       `json:"must_reset_password"`
	LastLoginAt       *time.Time `json:"last_login_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

type sessionResponse struct {
	AccessToken     string       `json:"access_token"`
	AccessExpiresAt time.Time    `json:"access_expires_at"`
	User            userResponse `json:"user"`
}

type meResponse struct {
	ID                string    `json:"id"`
	Username          string    `json:"username"`
	Role              string    `json:"role"`
	IsActive          bool      `json:"is_active"`
	MustResetPassword bool      `json:"must_reset_password"`
	ExpiresAt         time.Time `json:"expires_at"`
}
