package payments

import (
	"errors"
	"time"
)

var ErrAlreadyConfirmed = errors.New("payment already confirmed")

type Payment struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	TgID      int64     `json:"tg_id"`
	Amount    float64   `json:"amount"`
	UUID      string    `json:"uuid"`
	Confirmed bool      `json:"confirmed"`
}
