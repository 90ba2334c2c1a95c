package auth

import "time"

type User struct {
	ID           int64
	TgID         *int64
	Username     string
	PasswordHash *string
	IsAdmin      bool
	Active       bool
}

// Identity is the principal carried by a validated access token.
type Identity struct {
	Username string `json:"username"`
	ID       int64  `json:"id"`
	IsAdmin  bool   `json:"is_admin"`
}

type Tokens struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type LoginAttempt struct {
	Username       string
	FailedAttempts int
	LockedUntil    *time.Time
}
