package users

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUsernameTaken   = errors.New("username already taken")
	ErrNegativeBalance = errors.New("balance cannot go below zero")
)

type Profile struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	TgID     *int64    `json:"tg_id"`
	RegDate  time.Time `json:"reg_date"`
	Language string    `json:"language"`
	Balance  float64   `json:"balance"`
	IsAdmin  bool      `json:"is_admin"`
	Active   bool      `json:"is_active"`
	BlockBot bool      `json:"block_bot"`
	Source   *string   `json:"source,omitempty"`
	// HasPassword is false until the web registration is confirmed.
	HasPassword bool `json:"has_password"`
}

// BotSignup is what the messaging bot knows about a user on /start.
type BotSignup struct {
	TgID     int64
	Username string
	Language string
	Source   string
}

// Lookup resolves store users for packages that key their rows by tg_id.
type Lookup interface {
	GetByID(ctx context.Context, id int64) (Profile, error)
	GetByUsername(ctx context.Context, username string) (Profile, error)
}
