package catalog

import "errors"

var (
	ErrDuplicate            = errors.New("already exists")
	ErrManufacturerNotFound = errors.New("manufacturer not found")
)

type Manufacturer struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Country *string `json:"country"`
}

type ManufacturerInput struct {
	Name    string  `json:"name"`
	Country *string `json:"country"`
}

// Model is one catalog entry (a motorcycle model) of a manufacturer.
type Model struct {
	ID           int64   `json:"id"`
	Manufacturer string  `json:"manufacturer"`
	Type         *string `json:"type"`
	Model        string  `json:"model"`
	Quantity     int     `json:"quantity"`
	SortType     *string `json:"sort_type"`
}

type ModelInput struct {
	Manufacturer string  `json:"manufacturer"`
	Type         *string `json:"type"`
	Model        string  `json:"model"`
	Quantity     int     `json:"quantity"`
	SortType     *string `json:"sort_type"`
}
