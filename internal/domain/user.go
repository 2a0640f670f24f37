package domain

import "time"

// User is an account holder. RefreshToken holds the single live refresh token, if any.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	RefreshToken *string   `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Claims are carried by both access and refresh tokens
type Claims struct {
	UserID   int64  `json:"userId"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// ClaimsFor returns the token claims for a user
func ClaimsFor(u *User) Claims {
	return Claims{UserID: u.ID, Email: u.Email, Username: u.Username}
}

// TokenPair is an access token plus its rotating refresh token
type TokenPair struct {
	AccessToken           string
	RefreshToken          string
	AccessTokenExpiresAt  time.Time
	RefreshTokenExpiresAt time.Time
}
