package items

import "errors"

var ErrDuplicateRow = errors.New("row already exists")

// Item is one motorcycle for sale. Row is the unique stock sheet reference.
type Item struct {
	ID         int64   `json:"id"`
	Model      string  `json:"model"`
	CC         int     `json:"cc"`
	Horsepower int     `json:"horsepower"`
	Age        *string `json:"age"`
	Price      float64 `json:"price"`
	Row        *string `json:"row"`
}

type Input struct {
	Model      string  `json:"model"`
	CC         int     `json:"cc"`
	Horsepower int     `json:"horsepower"`
	Age        *string `json:"age"`
	Price      float64 `json:"price"`
	Row        *string `json:"row"`
}
