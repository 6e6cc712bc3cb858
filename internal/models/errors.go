package models

import (
	"errors"
)

var (
	ErrNoRecord            = errors.New("models: no matching record found")
	ErrProductNotFound     = errors.New("models: product not found")
	ErrTransactionNotFound = errors.New("models: transaction not found")
)

// Purchase flow errors. Platform failures are reported by the Steam gateway
// and wrap ErrPlatformAuth, ErrPlatformRejected or ErrPlatformTransport.
var (
	ErrClientInput       = errors.New("missing or malformed fields")
	ErrUnknownItem       = errors.New("ItemId not found in the game database")
	ErrInvalidAmount     = errors.New("amount violates currency increment")
	ErrPlatformAuth      = errors.New("platform authentication failed")
	ErrPlatformRejected  = errors.New("platform rejected request")
	ErrPlatformTransport = errors.New("platform unreachable")
)
