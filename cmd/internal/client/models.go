package client

import "time"

// User is the public profile returned by auth and /users/me.
type User struct {
	ID          string    `json:"id"`
	Username    *string   `json:"username,omitempty"`
	Email       *string   `json:"email,omitempty"`
	DisplayName *string   `json:"display_name,omitempty"`
	Bio         *string   `json:"bio,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Session describes the server-side session. Token fields are only present
// for native platforms.
type Session struct {
	SessionID        string    `json:"session_id"`
	AccessToken      string    `json:"access_token,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// LoginRequest identifies the user by username or email.
type LoginRequest struct {
	Username   *string `json:"username,omitempty"`
	Email      *string `json:"email,omitempty"`
	Password   string  `json:"password"`
	RememberMe bool    `json:"remember_me"`
	Platform   string  `json:"platform,omitempty"`
}

// RegisterRequest creates an account.
type RegisterRequest struct {
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	Password    string  `json:"password"`
	DisplayName *string `json:"display_name,omitempty"`
	Platform    string  `json:"platform,omitempty"`
}

// AuthResponse is the body of login and register.
type AuthResponse struct {
	User    User    `json:"user"`
	Session Session `json:"session"`
}
