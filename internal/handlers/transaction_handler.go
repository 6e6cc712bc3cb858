package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"microtrax/internal/models"
)

// TransactionLister reads the purchase journal.
type TransactionLister interface {
	List(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, error)
}

type TransactionHandler struct {
	Journal TransactionLister
	Logger  *slog.Logger
}

// ListTransactions handles GET /admin/transactions?status=&app_id=&limit=.
// status takes a comma separated list of local states.
func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f := models.TransactionFilter{
		AppID: getParam(r, "app_id"),
		Limit: queryInt(r, "limit", 100),
	}
	for _, s := range queryList(r, "status") {
		state := models.PurchaseState(strings.ToLower(s))
		if !knownState(state) {
			writeError(w, http.StatusBadRequest, "unknown status "+s)
			return
		}
		f.States = append(f.States, state)
	}

	txns, err := h.Journal.List(r.Context(), f)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("list transactions", "err", err)
		}
		writeError(w, http.StatusInternalServerError, "could not list transactions")
		return
	}
	if txns == nil {
		txns = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txns)
}

func knownState(s models.PurchaseState) bool {
	switch s {
	case models.PurchaseRequested, models.PurchaseInitiated, models.PurchaseAuthorized,
		models.PurchaseFinalized, models.PurchaseFailed:
		return true
	}
	return false
}
