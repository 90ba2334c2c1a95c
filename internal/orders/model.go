package orders

import (
	"errors"
	"time"

	"moto-store/internal/media"
)

var ErrUnknownReference = errors.New("order references an unknown user or model")

type Order struct {
	ID           int64         `json:"id"`
	Timestamp    time.Time     `json:"timestamp"`
	TgID         *int64        `json:"tg_id"`
	Quantity     int           `json:"quantity"`
	Model        string        `json:"model"`
	CC           *int          `json:"cc"`
	Horsepower   *int          `json:"horsepower"`
	Age          *string       `json:"age"`
	Purchase     float64       `json:"purchase"`
	IsPaid       bool          `json:"is_paid"`
	OrderArchive *string       `json:"order_archive"`
	Photos       []media.Photo `json:"photos,omitempty"`
}

type CreateInput struct {
	Username   string  `json:"username"`
	Quantity   int     `json:"quantity"`
	Model      string  `json:"model"`
	CC         *int    `json:"cc"`
	Horsepower *int    `json:"horsepower"`
	Age        *string `json:"age"`
	Purchase   float64 `json:"purchase"`
}
