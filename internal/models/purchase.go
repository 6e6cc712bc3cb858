package models

import (
	"strings"
	"time"
)

// PurchaseState is the local view of a transaction's lifecycle.
type PurchaseState string

const (
	PurchaseRequested  PurchaseState = "requested"
	PurchaseInitiated  PurchaseState = "initiated"
	PurchaseAuthorized PurchaseState = "authorized"
	PurchaseFinalized  PurchaseState = "finalized"
	PurchaseFailed     PurchaseState = "failed"
)

// Transaction is the orchestration record for one purchase attempt.
type Transaction struct {
	OrderID        string        `json:"order_id"`
	TransID        string        `json:"trans_id,omitempty"`
	AppID          string        `json:"app_id"`
	UserID         string        `json:"user_id"`
	ItemID         string        `json:"item_id"`
	Quantity       int           `json:"quantity"`
	Amount         int64         `json:"amount"`
	Currency       string        `json:"currency"`
	Category       string        `json:"category"`
	Description    string        `json:"description"`
	State          PurchaseState `json:"state"`
	PlatformStatus string        `json:"platform_status,omitempty"`
	Error          string        `json:"error,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TransactionFilter narrows journal listings.
type TransactionFilter struct {
	AppID         string
	States        []PurchaseState
	UpdatedBefore time.Time
	Limit         int
}

// UserReliability is the platform's verdict on an account.
type UserReliability struct {
	Reliable    bool   `json:"reliable"`
	Status      string `json:"status,omitempty"`
	Description string `json:"description,omitempty"`
}

// LineItem is one item of a platform transaction.
type LineItem struct {
	ItemID     string `json:"item_id"`
	Qty        int    `json:"qty"`
	Amount     int64  `json:"amount"`
	Vat        int64  `json:"vat"`
	ItemStatus string `json:"item_status"`
}

// StatusSnapshot is what the platform currently reports for a transaction.
type StatusSnapshot struct {
	OrderID  string        `json:"order_id"`
	TransID  string        `json:"trans_id"`
	UserID   string        `json:"user_id"`
	Status   string        `json:"status"`
	Currency string        `json:"currency"`
	Time     string        `json:"time"`
	Country  string        `json:"country"`
	Region   string        `json:"region"`
	Items    []LineItem    `json:"items"`
	State    PurchaseState `json:"-"`
}

// Total sums the line item amounts.
func (s StatusSnapshot) Total() int64 {
	var total int64
	for _, it := range s.Items {
		total += it.Amount
	}
	return total
}

// PurchaseOutcome is emitted after every finalize attempt.
type PurchaseOutcome struct {
	OrderID    string        `json:"order_id"`
	AppID      string        `json:"app_id"`
	TransID    string        `json:"trans_id,omitempty"`
	Status     PurchaseState `json:"status"`
	Amount     int64         `json:"amount"`
	Currency   string        `json:"currency"`
	Error      string        `json:"error,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Succeeded reports whether the outcome is a completed purchase.
func (o PurchaseOutcome) Succeeded() bool {
	return o.Status == PurchaseFinalized
}

// FieldError lists required fields that were blank.
type FieldError struct {
	Fields []string
}

func (e *FieldError) Error() string {
	return "Missing fields: " + strings.Join(e.Fields, ", ")
}

func (e *FieldError) Unwrap() error { return ErrClientInput }

func fieldError(names ...string) error {
	return &FieldError{Fields: names}
}

// RequireFields takes alternating name/value pairs and returns a *FieldError
// naming every blank value, or nil.
func RequireFields(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return fieldError(missing...)
}
