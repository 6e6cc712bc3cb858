package models

import (
	"strings"
	"time"
)

// Product is an authoritative catalog record. Price is in minor units of Currency.
type Product struct {
	ID          string    `json:"id"`
	AppID       string    `json:"app_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	Price       int64     `json:"price"`
	Currency    string    `json:"currency"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the fields every stored product must carry.
func (p Product) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return fieldError("id")
	case strings.TrimSpace(p.AppID) == "":
		return fieldError("app_id")
	case strings.TrimSpace(p.Name) == "":
		return fieldError("name")
	case p.Price < 0:
		return fieldError("price")
	case strings.TrimSpace(p.Currency) == "":
		return fieldError("currency")
	}
	return nil
}

// ProductFilter narrows catalog listings.
type ProductFilter struct {
	AppID      string
	ActiveOnly bool
	Limit      int
}
