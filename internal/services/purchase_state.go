package services

import (
	"errors"
	"fmt"
	"strings"

	"microtrax/internal/models"
)

// ErrInvalidTransition is returned when a purchase is moved along an edge the
// lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid purchase transition")

var purchaseTransitions = map[models.PurchaseState]map[models.PurchaseState]struct{}{
	models.PurchaseRequested: {
		models.PurchaseInitiated: {},
		models.PurchaseFailed:    {},
	},
	models.PurchaseInitiated: {
		models.PurchaseAuthorized: {},
		models.PurchaseFinalized:  {},
		models.PurchaseFailed:     {},
	},
	models.PurchaseAuthorized: {
		models.PurchaseFinalized: {},
		models.PurchaseFailed:    {},
	},
}

// CanTransition reports whether a purchase may move from one state to another.
func CanTransition(from, to models.PurchaseState) bool {
	next, ok := purchaseTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// IsTerminal reports whether no further transitions are possible.
func IsTerminal(s models.PurchaseState) bool {
	return s == models.PurchaseFinalized || s == models.PurchaseFailed
}

func advance(txn *models.Transaction, to models.PurchaseState) error {
	if !CanTransition(txn.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, txn.State, to)
	}
	txn.State = to
	return nil
}

// StateFromPlatformStatus maps a QueryTxn status onto the local lifecycle.
// Unknown statuses are treated as still initiated.
func StateFromPlatformStatus(status string) models.PurchaseState {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "approved":
		return models.PurchaseAuthorized
	case "succeeded", "complete", "completed":
		return models.PurchaseFinalized
	case "failed", "refunded", "partialrefund", "chargedback",
		"refundedsuspectedfraud", "refundedfriendlyfraud", "cancelled", "canceled", "denied":
		return models.PurchaseFailed
	default:
		return models.PurchaseInitiated
	}
}

// IsReversal reports whether a platform status takes money back after the
// purchase settled.
func IsReversal(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "refunded", "partialrefund", "chargedback", "refundedsuspectedfraud", "refundedfriendlyfraud":
		return true
	}
	return false
}

// CanReconcile reports whether a state derived from a QueryTxn status may
// overwrite the recorded one. Besides the lifecycle edges, a settled
// purchase may only be moved to failed by a refund or chargeback.
func CanReconcile(from, to models.PurchaseState, platformStatus string) bool {
	switch {
	case from == to, CanTransition(from, to):
		return true
	case from == models.PurchaseFinalized && to == models.PurchaseFailed:
		return IsReversal(platformStatus)
	}
	return false
}
