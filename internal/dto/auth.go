package dto

import (
	"time"

	"github.com/prohmpiriya/healthcare-educate/internal/domain"
)

// RegisterRequest represents a registration request
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=72"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshTokenRequest is the body fallback when the refresh cookie is absent
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// UserResponse is the public view of an account
type UserResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

// FromUser converts a domain User to UserResponse
func FromUser(u *domain.User) *UserResponse {
	return &UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		CreatedAt: u.CreatedAt,
	}
}

// AuthResponse is returned by register and login. The refresh token travels
// in a cookie, never in the body.
type AuthResponse struct {
	User                  *UserResponse `json:"user"`
	AccessToken           string        `json:"accessToken"`
	RefreshToken          string        `json:"-"`
	RefreshTokenExpiresAt time.Time     `json:"-"`
}

// TokenResponse is returned by refresh
type TokenResponse struct {
	AccessToken           string    `json:"accessToken"`
	RefreshToken          string    `json:"-"`
	RefreshTokenExpiresAt time.Time `json:"-"`
}

// MeResponse wraps the current user
type MeResponse struct {
	User *UserResponse `json:"user"`
}
